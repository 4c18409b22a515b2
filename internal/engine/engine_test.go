package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stageboard/internal/config"
	"stageboard/internal/db"
	"stageboard/internal/engine"
	"stageboard/internal/engine/scope"
	"stageboard/internal/migrate"
)

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Pipeline int64
	Agadir   int64
}

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return testNow }
	eng.Events.Now = eng.Now
	ctx := context.Background()
	if err := eng.SeedPipelines(ctx, cfg.Pipelines, "tester"); err != nil {
		t.Fatalf("seed pipelines: %v", err)
	}
	ammex, err := eng.Repo.GetPipelineByName(ctx, "Ammex")
	if err != nil {
		t.Fatalf("get Ammex: %v", err)
	}
	agadir, err := eng.Repo.GetPipelineByName(ctx, "Agadir")
	if err != nil {
		t.Fatalf("get Agadir: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx, Pipeline: ammex.ID, Agadir: agadir.ID}
}

func (env *testEnv) addItem(t *testing.T, stage, employee string, opts ...func(*engine.ItemCreateOptions)) string {
	t.Helper()
	o := engine.ItemCreateOptions{
		ClientName: "client",
		PipelineID: env.Pipeline,
		Stage:      stage,
		Employee:   employee,
		ActorID:    employee,
	}
	for _, fn := range opts {
		fn(&o)
	}
	it, err := env.Engine.CreateItem(env.Ctx, o)
	if err != nil {
		t.Fatalf("create item in %s: %v", stage, err)
	}
	return it.ID
}

func admin() scope.Scope {
	return scope.Scope{ActorID: "admin-1", Roles: []string{"admin"}}
}

func TestMoveAllowedByRole(t *testing.T) {
	env := newTestEnv(t)
	id := env.addItem(t, "En attente", "emp-1")
	actor := scope.Scope{ActorID: "emp-1", Roles: []string{"confirmation"}}

	it, err := env.Engine.MoveItem(env.Ctx, engine.MoveOptions{ItemID: id, TargetStage: "Confirmé", Actor: actor})
	if err != nil {
		t.Fatalf("move to Confirmé: %v", err)
	}
	if it.Stage != "Confirmé" {
		t.Fatalf("stage = %q, want Confirmé", it.Stage)
	}
	if it.DateReport != nil {
		t.Fatalf("date_report changed on plain move")
	}
}

func TestMoveDeniedLeavesItemUntouched(t *testing.T) {
	env := newTestEnv(t)
	id := env.addItem(t, "En attente", "emp-1")
	actor := scope.Scope{ActorID: "emp-1", Roles: []string{"confirmation"}}

	_, err := env.Engine.MoveItem(env.Ctx, engine.MoveOptions{ItemID: id, TargetStage: "Livré", Actor: actor})
	var denied scope.StageNotAllowedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want StageNotAllowedError", err)
	}
	it, err := env.Engine.Repo.GetItem(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if it.Stage != "En attente" {
		t.Fatalf("denied move mutated stage to %q", it.Stage)
	}
}

func TestMoveMatchesSuffixedTarget(t *testing.T) {
	env := newTestEnv(t)
	id := env.addItem(t, "En attente-AG", "emp-1", func(o *engine.ItemCreateOptions) {
		o.PipelineID = env.Agadir
	})
	actor := scope.Scope{ActorID: "emp-1", Roles: []string{"confirmation"}}

	// "Confirmé-AG" is not literally in the allow-list but normalizes to the
	// same target as "Confirmé".
	it, err := env.Engine.MoveItem(env.Ctx, engine.MoveOptions{ItemID: id, TargetStage: "Confirmé-AG", Actor: actor})
	if err != nil {
		t.Fatalf("move to Confirmé-AG: %v", err)
	}
	if it.Stage != "Confirmé-AG" {
		t.Fatalf("stage = %q, want literal Confirmé-AG preserved", it.Stage)
	}
}

func TestUnrestrictedRoleMovesAnywhere(t *testing.T) {
	env := newTestEnv(t)
	id := env.addItem(t, "En attente", "emp-1")

	it, err := env.Engine.MoveItem(env.Ctx, engine.MoveOptions{ItemID: id, TargetStage: "Livré", Actor: admin()})
	if err != nil {
		t.Fatalf("admin move: %v", err)
	}
	if it.Stage != "Livré" {
		t.Fatalf("stage = %q, want Livré", it.Stage)
	}
}

func TestMoveToReporterSetsDateReport(t *testing.T) {
	env := newTestEnv(t)
	id := env.addItem(t, "En attente", "emp-1")
	actor := scope.Scope{ActorID: "emp-1", Roles: []string{"confirmation"}}

	report := testNow.Add(48 * time.Hour).Format(time.RFC3339)
	it, err := env.Engine.MoveItem(env.Ctx, engine.MoveOptions{ItemID: id, TargetStage: "Reporter", DateReport: report, Actor: actor})
	if err != nil {
		t.Fatalf("move to Reporter: %v", err)
	}
	if it.DateReport == nil || *it.DateReport != report {
		t.Fatalf("date_report = %v, want %s", it.DateReport, report)
	}

	_, err = env.Engine.MoveItem(env.Ctx, engine.MoveOptions{ItemID: id, TargetStage: "Reporter", DateReport: "tomorrow", Actor: actor})
	if err == nil {
		t.Fatalf("expected error for malformed date_report")
	}
}

func TestEmployeeScoping(t *testing.T) {
	env := newTestEnv(t)
	env.addItem(t, "En attente", "emp-1")
	env.addItem(t, "En attente", "emp-2")
	env.addItem(t, "Confirmé", "emp-1")

	board, err := env.Engine.Board(env.Ctx, env.Pipeline, scope.Scope{ActorID: "emp-1", Roles: []string{"confirmation"}})
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	total := 0
	for _, b := range board.Buckets {
		total += len(b.Items)
		for _, it := range b.Items {
			if it.Employee != "emp-1" {
				t.Fatalf("scoped board leaked item of %s", it.Employee)
			}
		}
	}
	if total != 2 {
		t.Fatalf("emp-1 sees %d items, want 2", total)
	}

	board, err = env.Engine.Board(env.Ctx, env.Pipeline, admin())
	if err != nil {
		t.Fatalf("admin board: %v", err)
	}
	total = 0
	for _, b := range board.Buckets {
		total += len(b.Items)
	}
	if total != 3 {
		t.Fatalf("admin sees %d items, want 3", total)
	}
}

func TestDefaultPipelineProtected(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.DeletePipeline(env.Ctx, env.Pipeline, "admin-1")
	if !errors.Is(err, engine.ErrPipelineProtected) {
		t.Fatalf("err = %v, want ErrPipelineProtected", err)
	}
	// Agadir is not default and goes away cleanly.
	if err := env.Engine.DeletePipeline(env.Ctx, env.Agadir, "admin-1"); err != nil {
		t.Fatalf("delete Agadir: %v", err)
	}
}

func TestLockedStageProtected(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.RenameStage(env.Ctx, env.Pipeline, "Confirmé", "Validé", "admin-1")
	if !errors.Is(err, engine.ErrStageLocked) {
		t.Fatalf("rename locked: err = %v, want ErrStageLocked", err)
	}
	err = env.Engine.DeleteStage(env.Ctx, env.Pipeline, "Livré", "admin-1")
	if !errors.Is(err, engine.ErrStageLocked) {
		t.Fatalf("delete locked: err = %v, want ErrStageLocked", err)
	}
}

func TestRenameStageRewritesItems(t *testing.T) {
	env := newTestEnv(t)
	id := env.addItem(t, "Reporter", "emp-1")
	if err := env.Engine.RenameStage(env.Ctx, env.Pipeline, "Reporter", "Rappel", "admin-1"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	it, err := env.Engine.Repo.GetItem(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if it.Stage != "Rappel" {
		t.Fatalf("item stage = %q, want Rappel", it.Stage)
	}
}

func TestCreateItemDefaults(t *testing.T) {
	env := newTestEnv(t)
	it, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ClientName: "Sara",
		PipelineID: env.Pipeline,
		Prix:       "120,50",
		ActorID:    "emp-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if it.Stage != "En attente" {
		t.Fatalf("stage = %q, want first active stage", it.Stage)
	}
	if it.Employee != "emp-1" {
		t.Fatalf("employee = %q, want actor", it.Employee)
	}
	if it.NbPiece != 1 {
		t.Fatalf("nb_piece = %d, want 1", it.NbPiece)
	}
	if it.Prix != 120.5 {
		t.Fatalf("prix = %v, want 120.5", it.Prix)
	}
}

func TestSeedPipelinesIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SeedPipelines(env.Ctx, env.Engine.Config.Pipelines, "tester"); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	pipelines, err := env.Engine.Repo.ListPipelines(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipelines) != 2 {
		t.Fatalf("got %d pipelines after reseed, want 2", len(pipelines))
	}
}
