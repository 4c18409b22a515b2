package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stageboard/internal/config"
	"stageboard/internal/domain"
	"stageboard/internal/events"
	"stageboard/internal/status"
)

// ErrPipelineProtected rejects deletion of a default pipeline.
var ErrPipelineProtected = errors.New("default pipeline cannot be deleted")

// ErrStageLocked rejects rename or delete of a locked (system) stage.
var ErrStageLocked = errors.New("locked stage cannot be renamed or deleted")

// PipelineCreateOptions are parameters for creating a pipeline with its
// initial stages.
type PipelineCreateOptions struct {
	Name      string
	Color     string
	IsDefault bool
	Stages    []config.StageSeed
	ActorID   string
}

func (e Engine) CreatePipeline(ctx context.Context, opts PipelineCreateOptions) (domain.Pipeline, error) {
	if opts.Name == "" {
		return domain.Pipeline{}, errors.New("name is required")
	}
	p := domain.Pipeline{
		Name:      opts.Name,
		Color:     opts.Color,
		IsDefault: opts.IsDefault,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	p.ID, err = e.Repo.InsertPipeline(ctx, tx, p)
	if err != nil {
		return p, err
	}
	for i, seed := range opts.Stages {
		st := seed.Status
		if st == "" {
			st = string(status.Pending)
		}
		if !status.Valid(st) {
			return p, fmt.Errorf("stage %s has unknown status %s", seed.ID, st)
		}
		s := domain.Stage{
			ID:         seed.ID,
			PipelineID: p.ID,
			Color:      seed.Color,
			Status:     st,
			Active:     true,
			Locked:     seed.Locked,
			Position:   i,
		}
		if err := e.Repo.InsertStage(ctx, tx, s); err != nil {
			return p, err
		}
		p.Stages = append(p.Stages, s)
	}
	if err := e.Events.Append(ctx, tx, "pipeline.created", "pipeline", fmt.Sprint(p.ID), opts.ActorID, events.EventPayload{
		"name":   p.Name,
		"stages": len(p.Stages),
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// PipelineUpdateOptions carry the editable pipeline attributes.
type PipelineUpdateOptions struct {
	ID        int64
	Name      *string
	Color     *string
	IsDefault *bool
	ActorID   string
}

func (e Engine) UpdatePipeline(ctx context.Context, opts PipelineUpdateOptions) (domain.Pipeline, error) {
	p, err := e.Repo.GetPipeline(ctx, opts.ID)
	if err != nil {
		return p, err
	}
	if opts.Name != nil && *opts.Name != "" {
		p.Name = *opts.Name
	}
	if opts.Color != nil {
		p.Color = *opts.Color
	}
	if opts.IsDefault != nil {
		p.IsDefault = *opts.IsDefault
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePipeline(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "pipeline.updated", "pipeline", fmt.Sprint(p.ID), opts.ActorID, events.EventPayload{"name": p.Name}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) DeletePipeline(ctx context.Context, id int64, actorID string) error {
	p, err := e.Repo.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.IsDefault {
		return ErrPipelineProtected
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeletePipeline(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "pipeline.deleted", "pipeline", fmt.Sprint(id), actorID, events.EventPayload{"name": p.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// StageOptions describe a stage create or update.
type StageOptions struct {
	PipelineID int64
	StageID    string
	Color      *string
	Status     *string
	Active     *bool
	Locked     *bool
	ActorID    string
}

func (e Engine) AddStage(ctx context.Context, opts StageOptions) (domain.Stage, error) {
	if opts.StageID == "" {
		return domain.Stage{}, errors.New("stage id is required")
	}
	p, err := e.Repo.GetPipeline(ctx, opts.PipelineID)
	if err != nil {
		return domain.Stage{}, err
	}
	s := domain.Stage{
		ID:         opts.StageID,
		PipelineID: p.ID,
		Status:     string(status.Pending),
		Active:     true,
		Position:   len(p.Stages),
	}
	if opts.Color != nil {
		s.Color = *opts.Color
	}
	if opts.Status != nil {
		if !status.Valid(*opts.Status) {
			return s, fmt.Errorf("unknown status %s", *opts.Status)
		}
		s.Status = *opts.Status
	}
	if opts.Locked != nil {
		s.Locked = *opts.Locked
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStage(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "stage.created", "stage", s.ID, opts.ActorID, events.EventPayload{"pipeline_id": p.ID}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

func (e Engine) UpdateStage(ctx context.Context, opts StageOptions) (domain.Stage, error) {
	s, err := e.Repo.GetStage(ctx, opts.PipelineID, opts.StageID)
	if err != nil {
		return s, err
	}
	if opts.Color != nil {
		s.Color = *opts.Color
	}
	if opts.Status != nil {
		if !status.Valid(*opts.Status) {
			return s, fmt.Errorf("unknown status %s", *opts.Status)
		}
		s.Status = *opts.Status
	}
	if opts.Active != nil {
		s.Active = *opts.Active
	}
	if opts.Locked != nil {
		s.Locked = *opts.Locked
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStage(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "stage.updated", "stage", s.ID, opts.ActorID, events.EventPayload{"pipeline_id": s.PipelineID}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

func (e Engine) RenameStage(ctx context.Context, pipelineID int64, oldID, newID, actorID string) error {
	if newID == "" {
		return errors.New("new stage id is required")
	}
	s, err := e.Repo.GetStage(ctx, pipelineID, oldID)
	if err != nil {
		return err
	}
	if s.Locked {
		return ErrStageLocked
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RenameStage(ctx, tx, pipelineID, oldID, newID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "stage.renamed", "stage", newID, actorID, events.EventPayload{
		"pipeline_id": pipelineID,
		"from":        oldID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) DeleteStage(ctx context.Context, pipelineID int64, stageID, actorID string) error {
	s, err := e.Repo.GetStage(ctx, pipelineID, stageID)
	if err != nil {
		return err
	}
	if s.Locked {
		return ErrStageLocked
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteStage(ctx, tx, pipelineID, stageID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "stage.deleted", "stage", stageID, actorID, events.EventPayload{"pipeline_id": pipelineID}); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderStages rewrites column order for presentation. Order only matters to
// the board; items are unaffected.
func (e Engine) ReorderStages(ctx context.Context, pipelineID int64, order []string, actorID string) error {
	if len(order) == 0 {
		return errors.New("order is required")
	}
	if _, err := e.Repo.GetPipeline(ctx, pipelineID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.ReorderStages(ctx, tx, pipelineID, order); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "stage.reordered", "pipeline", fmt.Sprint(pipelineID), actorID, events.EventPayload{"order": order}); err != nil {
		return err
	}
	return tx.Commit()
}

// SeedPipelines creates the configured pipelines when the database has none.
// Called on workspace bootstrap; a populated database is left alone.
func (e Engine) SeedPipelines(ctx context.Context, seeds []config.PipelineSeed, actorID string) error {
	existing, err := e.Repo.ListPipelines(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, seed := range seeds {
		if _, err := e.CreatePipeline(ctx, PipelineCreateOptions{
			Name:      seed.Name,
			Color:     seed.Color,
			IsDefault: seed.Default,
			Stages:    seed.Stages,
			ActorID:   actorID,
		}); err != nil {
			return fmt.Errorf("seed pipeline %s: %w", seed.Name, err)
		}
	}
	return nil
}
