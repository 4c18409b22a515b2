package repo

import (
	"context"
	"database/sql"

	"stageboard/internal/domain"
)

func (r Repo) InsertPipeline(ctx context.Context, tx *sql.Tx, p domain.Pipeline) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO pipelines(name, color, is_default, created_at) VALUES (?,?,?,?)`,
		p.Name, p.Color, boolInt(p.IsDefault), p.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetPipeline(ctx context.Context, id int64) (domain.Pipeline, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, name, color, is_default, created_at FROM pipelines WHERE id=?`, id)
	p, err := scanPipeline(row)
	if err != nil {
		return p, err
	}
	p.Stages, err = r.listStages(ctx, p.ID)
	return p, err
}

func (r Repo) GetPipelineByName(ctx context.Context, name string) (domain.Pipeline, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, name, color, is_default, created_at FROM pipelines WHERE name=?`, name)
	p, err := scanPipeline(row)
	if err != nil {
		return p, err
	}
	p.Stages, err = r.listStages(ctx, p.ID)
	return p, err
}

func (r Repo) ListPipelines(ctx context.Context) ([]domain.Pipeline, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, color, is_default, created_at FROM pipelines ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pipelines []domain.Pipeline
	for rows.Next() {
		var p domain.Pipeline
		var def int
		if err := rows.Scan(&p.ID, &p.Name, &p.Color, &def, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.IsDefault = def != 0
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range pipelines {
		stages, err := r.listStages(ctx, pipelines[i].ID)
		if err != nil {
			return nil, err
		}
		pipelines[i].Stages = stages
	}
	return pipelines, nil
}

func (r Repo) UpdatePipeline(ctx context.Context, tx *sql.Tx, p domain.Pipeline) error {
	res, err := tx.ExecContext(ctx, `UPDATE pipelines SET name=?, color=?, is_default=? WHERE id=?`,
		p.Name, p.Color, boolInt(p.IsDefault), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePipeline(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM pipelines WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(id, pipeline_id, color, status, active, locked, position) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.PipelineID, s.Color, s.Status, boolInt(s.Active), boolInt(s.Locked), s.Position)
	return err
}

func (r Repo) GetStage(ctx context.Context, pipelineID int64, stageID string) (domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, pipeline_id, color, status, active, locked, position FROM stages WHERE pipeline_id=? AND id=?`,
		pipelineID, stageID)
	return scanStage(row.Scan)
}

// UpdateStage rewrites the mutable attributes of a stage. The stage id itself
// changes only through RenameStage.
func (r Repo) UpdateStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	res, err := tx.ExecContext(ctx, `UPDATE stages SET color=?, status=?, active=?, locked=?, position=? WHERE pipeline_id=? AND id=?`,
		s.Color, s.Status, boolInt(s.Active), boolInt(s.Locked), s.Position, s.PipelineID, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RenameStage changes a stage id and rewrites the items that carry the old
// literal, so existing records keep bucketing into the renamed column.
func (r Repo) RenameStage(ctx context.Context, tx *sql.Tx, pipelineID int64, oldID, newID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE stages SET id=? WHERE pipeline_id=? AND id=?`, newID, pipelineID, oldID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx, `UPDATE items SET stage=? WHERE pipeline_id=? AND stage=?`, newID, pipelineID, oldID)
	return err
}

func (r Repo) DeleteStage(ctx context.Context, tx *sql.Tx, pipelineID int64, stageID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE pipeline_id=? AND id=?`, pipelineID, stageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReorderStages assigns positions following the given id order. Ids absent
// from the list keep their position.
func (r Repo) ReorderStages(ctx context.Context, tx *sql.Tx, pipelineID int64, order []string) error {
	for i, stageID := range order {
		if _, err := tx.ExecContext(ctx, `UPDATE stages SET position=? WHERE pipeline_id=? AND id=?`, i, pipelineID, stageID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) listStages(ctx context.Context, pipelineID int64) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, pipeline_id, color, status, active, locked, position FROM stages WHERE pipeline_id=? ORDER BY position ASC, id ASC`,
		pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stages []domain.Stage
	for rows.Next() {
		s, err := scanStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func scanPipeline(row *sql.Row) (domain.Pipeline, error) {
	var p domain.Pipeline
	var def int
	err := row.Scan(&p.ID, &p.Name, &p.Color, &def, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.IsDefault = def != 0
	return p, err
}

func scanStage(scan func(dest ...any) error) (domain.Stage, error) {
	var s domain.Stage
	var active, locked int
	err := scan(&s.ID, &s.PipelineID, &s.Color, &s.Status, &active, &locked, &s.Position)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.Active = active != 0
	s.Locked = locked != 0
	return s, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
