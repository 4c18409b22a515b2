package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stageboard/internal/config"
	"stageboard/internal/domain"
	"stageboard/internal/engine/scope"
	"stageboard/internal/events"
	"stageboard/internal/repo"
	"stageboard/internal/status"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ParsePrice coerces a raw price to a number. Forms arriving from order entry
// may carry commas or currency noise; anything unparseable becomes zero so
// downstream comparisons never fail. This is the single coercion boundary;
// internal logic only ever sees float64 prices.
func ParsePrice(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.TrimRight(s, " dhDHmaMA")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// ItemCreateOptions are parameters for creating an item.
type ItemCreateOptions struct {
	ID          string
	ClientName  string
	Tel         string
	ProductID   string
	Prix        string
	PipelineID  int64
	Stage       string
	Employee    string
	Commentaire string
	NbPiece     int
	Ville       string
	Quartier    string
	DateReport  string
	ActorID     string
}

func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (domain.Item, error) {
	if e.Config == nil {
		return domain.Item{}, errors.New("config not loaded")
	}
	if opts.ClientName == "" {
		return domain.Item{}, errors.New("client_name is required")
	}
	if opts.PipelineID == 0 {
		return domain.Item{}, errors.New("pipeline is required")
	}
	p, err := e.Repo.GetPipeline(ctx, opts.PipelineID)
	if err != nil {
		return domain.Item{}, err
	}
	stage := opts.Stage
	if stage == "" {
		for _, s := range p.Stages {
			if s.Active {
				stage = s.ID
				break
			}
		}
	}
	if stage == "" {
		return domain.Item{}, fmt.Errorf("pipeline %s has no active stage", p.Name)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	nbPiece := opts.NbPiece
	if nbPiece <= 0 {
		nbPiece = 1
	}
	if opts.Employee == "" {
		opts.Employee = opts.ActorID
	}
	var report *string
	if opts.DateReport != "" {
		if _, err := time.Parse(time.RFC3339, opts.DateReport); err != nil {
			return domain.Item{}, fmt.Errorf("date_report: %w", err)
		}
		report = &opts.DateReport
	}
	it := domain.Item{
		ID:          id,
		ClientName:  opts.ClientName,
		Tel:         opts.Tel,
		ProductID:   opts.ProductID,
		Prix:        ParsePrice(opts.Prix),
		PipelineID:  p.ID,
		Stage:       stage,
		Employee:    opts.Employee,
		Commentaire: opts.Commentaire,
		NbPiece:     nbPiece,
		Ville:       opts.Ville,
		Quartier:    opts.Quartier,
		DateCreated: e.now().UTC().Format(time.RFC3339),
		DateReport:  report,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return domain.Item{}, err
	}
	if err := e.Events.Append(ctx, tx, "item.created", "item", it.ID, opts.ActorID, events.EventPayload{
		"pipeline_id": it.PipelineID,
		"stage":       it.Stage,
		"employee":    it.Employee,
	}); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// ItemUpdateOptions encapsulates allowed descriptive updates. Stage moves go
// through MoveItem only; PipelineID and DateCreated never change.
type ItemUpdateOptions struct {
	ID          string
	ClientName  *string
	Tel         *string
	ProductID   *string
	Prix        *string
	Employee    *string
	Commentaire *string
	NbPiece     *int
	Ville       *string
	Quartier    *string
	DateReport  *string
	ActorID     string
}

func (e Engine) UpdateItem(ctx context.Context, opts ItemUpdateOptions) (domain.Item, error) {
	it, err := e.Repo.GetItem(ctx, opts.ID)
	if err != nil {
		return it, err
	}
	if opts.ClientName != nil {
		it.ClientName = *opts.ClientName
	}
	if opts.Tel != nil {
		it.Tel = *opts.Tel
	}
	if opts.ProductID != nil {
		it.ProductID = *opts.ProductID
	}
	if opts.Prix != nil {
		it.Prix = ParsePrice(*opts.Prix)
	}
	if opts.Employee != nil {
		it.Employee = *opts.Employee
	}
	if opts.Commentaire != nil {
		it.Commentaire = *opts.Commentaire
	}
	if opts.NbPiece != nil && *opts.NbPiece > 0 {
		it.NbPiece = *opts.NbPiece
	}
	if opts.Ville != nil {
		it.Ville = *opts.Ville
	}
	if opts.Quartier != nil {
		it.Quartier = *opts.Quartier
	}
	if opts.DateReport != nil {
		if *opts.DateReport == "" {
			it.DateReport = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *opts.DateReport); err != nil {
				return it, fmt.Errorf("date_report: %w", err)
			}
			it.DateReport = opts.DateReport
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItem(ctx, tx, it); err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "item.updated", "item", it.ID, opts.ActorID, events.EventPayload{}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

func (e Engine) DeleteItem(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteItem(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "item.deleted", "item", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// MoveOptions describe one requested stage transition.
type MoveOptions struct {
	ItemID      string
	TargetStage string
	DateReport  string
	Actor       scope.Scope
}

// MoveItem applies a stage transition to exactly one item. Every caller, the
// HTTP move endpoint and the CLI alike, goes through this method so the
// allow-list cannot be bypassed by one code path and not the other. On denial
// nothing is mutated and a scope.StageNotAllowedError comes back.
func (e Engine) MoveItem(ctx context.Context, opts MoveOptions) (domain.Item, error) {
	if e.Config == nil {
		return domain.Item{}, errors.New("config not loaded")
	}
	it, err := e.Repo.GetItem(ctx, opts.ItemID)
	if err != nil {
		return it, err
	}
	allowed, unrestricted := e.Config.AllowedTargets(opts.Actor.Roles)
	if err := EnsureMoveAllowed(opts.TargetStage, allowed, unrestricted); err != nil {
		e.recordDeniedMove(ctx, it, opts)
		return it, err
	}
	var report *string
	if opts.DateReport != "" {
		if _, err := time.Parse(time.RFC3339, opts.DateReport); err != nil {
			return it, fmt.Errorf("date_report: %w", err)
		}
		report = &opts.DateReport
	}
	from := it.Stage
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItemStage(ctx, tx, it.ID, opts.TargetStage, report); err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "item.moved", "item", it.ID, opts.Actor.ActorID, events.EventPayload{
		"from": from,
		"to":   opts.TargetStage,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	it.Stage = opts.TargetStage
	if report != nil {
		it.DateReport = report
	}
	return it, nil
}

// recordDeniedMove leaves a diagnostic trail for refused transitions. Its own
// transaction, so the item row is untouched; a failure to record never masks
// the denial itself.
func (e Engine) recordDeniedMove(ctx context.Context, it domain.Item, opts MoveOptions) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "item.move.denied", "item", it.ID, opts.Actor.ActorID, events.EventPayload{
		"from": it.Stage,
		"to":   opts.TargetStage,
	}); err != nil {
		return
	}
	_ = tx.Commit()
}

// EnsureMoveAllowed is the shared transition validator. Stages carry no global
// order, so the only rule is the actor's allow-list: unrestricted scopes may
// target any stage; everyone else only the configured ones, compared under
// normalization so accent or suffix variants cannot sneak past.
func EnsureMoveAllowed(target string, allowed []string, unrestricted bool) error {
	if strings.TrimSpace(target) == "" {
		return errors.New("target stage is required")
	}
	if unrestricted {
		return nil
	}
	for _, a := range allowed {
		if status.Match(a, target) {
			return nil
		}
	}
	return scope.StageNotAllowedError{Stage: target}
}
