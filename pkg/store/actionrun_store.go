package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// ActionRunStore is the durable execution ledger behind the Action API
// and the worker pool.
type ActionRunStore struct {
	db *DB
}

func NewActionRunStore(db *DB) *ActionRunStore {
	return &ActionRunStore{db: db}
}

const actionRunSchema = `
CREATE TABLE IF NOT EXISTS action_runs (
	id INTEGER PRIMARY KEY,
	run_id TEXT UNIQUE NOT NULL,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	payload_json TEXT,
	result_json TEXT,
	error_text TEXT,
	requested_by_json TEXT,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_action_runs_status ON action_runs (status, created_at);
`

func (s *ActionRunStore) Init(ctx context.Context) error {
	_, err := s.db.SQL.ExecContext(ctx, actionRunSchema)
	return err
}

// Enqueue inserts a queued ledger entry. No handler work happens here.
func (s *ActionRunStore) Enqueue(ctx context.Context, r *model.ActionRun) error {
	r.Status = model.RunStatusQueued
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.SQL.ExecContext(ctx,
		`INSERT INTO action_runs (run_id, action, status, payload_json, result_json, error_text,
		 requested_by_json, created_at, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL)`,
		r.RunID, r.Action, r.Status, string(r.Payload), "", "", string(r.RequestedBy), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue action run %s: %w", r.RunID, err)
	}
	row := s.db.SQL.QueryRowContext(ctx, `SELECT id FROM action_runs WHERE run_id = $1`, r.RunID)
	return row.Scan(&r.ID)
}

func scanActionRun(row interface{ Scan(...any) error }) (*model.ActionRun, error) {
	var r model.ActionRun
	var payload, result, errText, requestedBy sql.NullString
	var started, finished sql.NullTime
	err := row.Scan(&r.ID, &r.RunID, &r.Action, &r.Status, &payload, &result,
		&errText, &requestedBy, &r.CreatedAt, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Payload = []byte(payload.String)
	r.Result = []byte(result.String)
	r.ErrorText = errText.String
	r.RequestedBy = []byte(requestedBy.String)
	r.StartedAt, r.FinishedAt = timePtr(started), timePtr(finished)
	return &r, nil
}

const actionRunCols = `id, run_id, action, status, payload_json, result_json, error_text,
	requested_by_json, created_at, started_at, finished_at`

// Get loads a run by run id.
func (s *ActionRunStore) Get(ctx context.Context, runID string) (*model.ActionRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM action_runs WHERE run_id = $1`, actionRunCols)
	return scanActionRun(s.db.SQL.QueryRowContext(ctx, query, runID))
}

// Claim atomically transitions the oldest queued run to running and
// returns it. Returns (nil, nil) when the queue is empty.
//
// On Postgres the claim uses FOR UPDATE SKIP LOCKED so concurrent
// workers never double-claim. On SQLite the single-writer connection
// plus a guarded UPDATE gives the same at-most-once transition.
func (s *ActionRunStore) Claim(ctx context.Context) (*model.ActionRun, error) {
	tx, err := s.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	selectOldest := fmt.Sprintf(
		`SELECT %s FROM action_runs WHERE status = $1 ORDER BY created_at, id LIMIT 1`, actionRunCols)
	if s.db.Dialect == DialectPostgres {
		selectOldest += ` FOR UPDATE SKIP LOCKED`
	}
	run, err := scanActionRun(tx.QueryRowContext(ctx, selectOldest, model.RunStatusQueued))
	if errors.Is(err, ErrNotFound) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE action_runs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
		model.RunStatusRunning, now, run.ID, model.RunStatusQueued)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost the race to another worker.
		return nil, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	run.Status = model.RunStatusRunning
	run.StartedAt = &now
	return run, nil
}

// MarkSucceeded records the terminal success state with the final result.
func (s *ActionRunStore) MarkSucceeded(ctx context.Context, runID string, result []byte) error {
	return s.finish(ctx, runID, model.RunStatusSucceeded, result, "")
}

// MarkFailed records the terminal failure state; partial results are
// kept when available. Error text is truncated for display.
func (s *ActionRunStore) MarkFailed(ctx context.Context, runID string, result []byte, errText string) error {
	return s.finish(ctx, runID, model.RunStatusFailed, result, Truncate(errText, 200))
}

func (s *ActionRunStore) finish(ctx context.Context, runID, status string, result []byte, errText string) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE action_runs SET status = $1, result_json = $2, error_text = $3, finished_at = $4
		 WHERE run_id = $5`,
		status, string(result), errText, time.Now().UTC(), runID)
	return err
}

// FailStuckRuns marks running rows older than horizon as failed and
// returns how many were swept.
func (s *ActionRunStore) FailStuckRuns(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-horizon)
	res, err := s.db.SQL.ExecContext(ctx,
		`UPDATE action_runs SET status = $1, error_text = $2, finished_at = $3
		 WHERE status = $4 AND started_at < $5`,
		model.RunStatusFailed, "stuck running beyond horizon", time.Now().UTC(),
		model.RunStatusRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Truncate shortens s to at most n runes for display columns.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
