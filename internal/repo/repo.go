package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stageboard/internal/config"
	"stageboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const itemColumns = `id, client_name, tel, COALESCE(product_id,''), prix, pipeline_id, stage, employee,
COALESCE(commentaire,''), nb_piece, COALESCE(ville,''), COALESCE(quartier,''), date_created, date_report`

func scanItem(scan func(dest ...any) error) (domain.Item, error) {
	var it domain.Item
	var report sql.NullString
	err := scan(&it.ID, &it.ClientName, &it.Tel, &it.ProductID, &it.Prix, &it.PipelineID, &it.Stage,
		&it.Employee, &it.Commentaire, &it.NbPiece, &it.Ville, &it.Quartier, &it.DateCreated, &report)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if report.Valid && report.String != "" {
		it.DateReport = &report.String
	}
	return it, err
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO items(id, client_name, tel, product_id, prix, pipeline_id, stage, employee,
commentaire, nb_piece, ville, quartier, date_created, date_report) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ClientName, it.Tel, nullable(it.ProductID), it.Prix, it.PipelineID, it.Stage, it.Employee,
		nullable(it.Commentaire), it.NbPiece, nullable(it.Ville), nullable(it.Quartier), it.DateCreated, nullablePtr(it.DateReport))
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	return scanItem(row.Scan)
}

// UpdateItemStage writes the single stage field of one item, leaving every
// other column untouched. DateReport rides along because moving an item into a
// postponed stage records when it should come back.
func (r Repo) UpdateItemStage(ctx context.Context, tx *sql.Tx, id, stage string, dateReport *string) error {
	var res sql.Result
	var err error
	if dateReport != nil {
		res, err = tx.ExecContext(ctx, `UPDATE items SET stage=?, date_report=? WHERE id=?`, stage, *dateReport, id)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE items SET stage=? WHERE id=?`, stage, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateItem rewrites the descriptive fields of an item. PipelineID and
// DateCreated are immutable and deliberately absent from the statement.
func (r Repo) UpdateItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	res, err := tx.ExecContext(ctx, `UPDATE items SET client_name=?, tel=?, product_id=?, prix=?, employee=?,
commentaire=?, nb_piece=?, ville=?, quartier=?, date_report=? WHERE id=?`,
		it.ClientName, it.Tel, nullable(it.ProductID), it.Prix, it.Employee,
		nullable(it.Commentaire), it.NbPiece, nullable(it.Ville), nullable(it.Quartier), nullablePtr(it.DateReport), it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteItem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ItemFilter narrows ListItems. Zero values mean "no filter".
type ItemFilter struct {
	PipelineID int64
	Employee   string
	Stage      string
}

func (r Repo) ListItems(ctx context.Context, f ItemFilter) ([]domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var clauses []string
	var args []any
	if f.PipelineID != 0 {
		clauses = append(clauses, "pipeline_id=?")
		args = append(args, f.PipelineID)
	}
	if f.Employee != "" {
		clauses = append(clauses, "employee=?")
		args = append(args, f.Employee)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date_created ASC, id ASC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CountItemsByStage returns raw stage strings and their item counts for a
// pipeline. Callers normalize before reporting.
func (r Repo) CountItemsByStage(ctx context.Context, pipelineID int64) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage, COUNT(*) FROM items WHERE pipeline_id=? GROUP BY stage`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	query := `SELECT id, ts, type, entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events`
	var clauses []string
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, ts, type, entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// --- board config ---

func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM board_config WHERE id=1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	return upsertConfig(ctx, r.DB, nil, cfg)
}

func (r Repo) UpsertConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	return upsertConfig(ctx, nil, tx, cfg)
}

func upsertConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, cfg *config.Config) error {
	data, err := cfg.ToYAML()
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	query := `INSERT INTO board_config(id, yaml, updated_at) VALUES (1,?,?)
ON CONFLICT(id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, string(data), now)
	} else {
		_, err = db.ExecContext(ctx, query, string(data), now)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
