package engine_test

import (
	"testing"
	"time"

	"stageboard/internal/config"
	"stageboard/internal/domain"
	"stageboard/internal/engine"
	"stageboard/internal/engine/scope"
)

func commissionConfig() config.CommissionConfig {
	return config.Default().Commission
}

func TestCommissionTiers(t *testing.T) {
	products := map[string]domain.Product{
		"p1": {ID: "p1", PrixVente: 100},
	}
	cfg := commissionConfig()
	cases := []struct {
		name string
		item domain.Item
		want float64
	}{
		{"high tier", domain.Item{ProductID: "p1", Prix: 150}, cfg.Tiers.High},
		{"mid tier at reference price", domain.Item{ProductID: "p1", Prix: 100}, cfg.Tiers.Mid},
		{"low tier", domain.Item{ProductID: "p1", Prix: 50}, cfg.Tiers.Low},
		{"unparseable price fell to zero", domain.Item{ProductID: "p1", Prix: 0}, cfg.Tiers.Low},
		{"unknown product", domain.Item{ProductID: "missing", Prix: 150}, cfg.Default},
	}
	for _, tc := range cases {
		if got := engine.CommissionFor(tc.item, products, cfg); got != tc.want {
			t.Errorf("%s: commission = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCommissionNoReferencePrice(t *testing.T) {
	products := map[string]domain.Product{"free": {ID: "free", PrixVente: 0}}
	cfg := commissionConfig()
	it := domain.Item{ProductID: "free", Prix: 500}
	if got := engine.CommissionFor(it, products, cfg); got != cfg.Default {
		t.Fatalf("commission = %v, want default %v", got, cfg.Default)
	}
}

func TestComputeMetricsDayScoping(t *testing.T) {
	cfg := commissionConfig()
	day := func(t time.Time) string { return t.UTC().Format(time.RFC3339) }
	items := []domain.Item{
		{ID: "today-confirmed", Stage: "Confirmé", DateCreated: day(testNow)},
		{ID: "today-delivered", Stage: "Livré-AG", DateCreated: day(testNow.Add(-time.Hour))},
		{ID: "today-pending", Stage: "Packaging", DateCreated: day(testNow)},
		{ID: "yesterday-confirmed", Stage: "Confirmé", DateCreated: day(testNow.Add(-24 * time.Hour))},
	}
	m := engine.ComputeMetrics(items, nil, cfg, testNow)
	if m.Visible != 4 {
		t.Fatalf("visible = %d, want 4", m.Visible)
	}
	if m.TodayCount != 2 {
		t.Fatalf("today count = %d, want 2", m.TodayCount)
	}
	if m.Commission != 2*cfg.Default {
		t.Fatalf("commission = %v, want %v (no products resolved)", m.Commission, 2*cfg.Default)
	}
	if m.Day != testNow.Format("2006-01-02") {
		t.Fatalf("day = %s", m.Day)
	}
}

func TestParsePrice(t *testing.T) {
	cases := map[string]float64{
		"120":     120,
		"120,50":  120.5,
		"120.50":  120.5,
		" 99 dh ": 99,
		"":        0,
		"abc":     0,
		"-5":      0,
	}
	for raw, want := range cases {
		if got := engine.ParsePrice(raw); got != want {
			t.Errorf("ParsePrice(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestMetricsEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	prod, err := env.Engine.CreateProduct(env.Ctx, engine.ProductOptions{Nom: "Sac", PrixVente: "100", ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	env.addItem(t, "Confirmé", "emp-1", func(o *engine.ItemCreateOptions) {
		o.ProductID = prod.ID
		o.Prix = "150"
	})
	env.addItem(t, "En attente", "emp-1")

	// an older confirmed item must not count toward today
	old := env.Engine
	old.Now = func() time.Time { return testNow.Add(-48 * time.Hour) }
	old.Events.Now = old.Now
	if _, err := old.CreateItem(env.Ctx, engine.ItemCreateOptions{
		ClientName: "old", PipelineID: env.Pipeline, Stage: "Confirmé", Employee: "emp-1", ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("create old item: %v", err)
	}

	m, err := env.Engine.Metrics(env.Ctx, env.Pipeline, scope.Scope{ActorID: "emp-1", Roles: []string{"confirmation"}})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TodayCount != 1 {
		t.Fatalf("today count = %d, want 1", m.TodayCount)
	}
	if want := env.Engine.Config.Commission.Tiers.High; m.Commission != want {
		t.Fatalf("commission = %v, want high tier %v", m.Commission, want)
	}
	if m.Visible != 3 {
		t.Fatalf("visible = %d, want 3", m.Visible)
	}
}
