package app

import (
	"context"
	"errors"
	"fmt"

	"stageboard/internal/config"
	"stageboard/internal/engine"
	"stageboard/internal/repo"
)

// ResolveConfig returns the effective board configuration. Precedence: the
// config stored in the database, then a stageboard.yml next to the workspace,
// then built-in defaults. On first run the chosen config is persisted and its
// pipelines are seeded so every later call sees the same state.
func ResolveConfig(ctx context.Context, workspace, actorID string, eng engine.Engine) (*config.Config, error) {
	cfg, err := eng.Repo.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg, err = config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := eng.Repo.UpsertConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	eng.Config = cfg
	if err := eng.SeedPipelines(ctx, cfg.Pipelines, actorID); err != nil {
		return nil, err
	}
	return cfg, nil
}
