package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// OptimizationRunStore persists optimization runs and their portfolios.
type OptimizationRunStore struct {
	db *DB
}

func NewOptimizationRunStore(db *DB) *OptimizationRunStore {
	return &OptimizationRunStore{db: db}
}

const optRunSchema = `
CREATE TABLE IF NOT EXISTS optimization_runs (
	id INTEGER PRIMARY KEY,
	run_id TEXT UNIQUE NOT NULL,
	scenario_id BIGINT NOT NULL,
	constraint_set_id BIGINT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMP,
	finished_at TIMESTAMP,
	inputs_snapshot_json TEXT,
	inputs_snapshot_sha TEXT,
	result_json TEXT,
	solver_name TEXT,
	solver_version TEXT
);
CREATE TABLE IF NOT EXISTS portfolios (
	id INTEGER PRIMARY KEY,
	run_id TEXT UNIQUE NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS portfolio_items (
	id INTEGER PRIMARY KEY,
	portfolio_id BIGINT NOT NULL,
	initiative_key TEXT NOT NULL,
	selected BOOLEAN NOT NULL,
	allocated_tokens BIGINT NOT NULL DEFAULT 0,
	UNIQUE (portfolio_id, initiative_key)
);
`

func (s *OptimizationRunStore) Init(ctx context.Context) error {
	_, err := s.db.SQL.ExecContext(ctx, optRunSchema)
	return err
}

// Create inserts a run row.
func (s *OptimizationRunStore) Create(ctx context.Context, r *model.OptimizationRun) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`INSERT INTO optimization_runs (run_id, scenario_id, constraint_set_id, status, started_at,
		 finished_at, inputs_snapshot_json, inputs_snapshot_sha, result_json, solver_name, solver_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.RunID, r.ScenarioID, r.ConstraintSetID, r.Status, nullTime(r.StartedAt),
		nullTime(r.FinishedAt), string(r.InputsSnapshot), r.InputsSnapshotSHA,
		string(r.Result), r.SolverName, r.SolverVersion)
	if err != nil {
		return fmt.Errorf("insert optimization run %s: %w", r.RunID, err)
	}
	row := s.db.SQL.QueryRowContext(ctx, `SELECT id FROM optimization_runs WHERE run_id = $1`, r.RunID)
	return row.Scan(&r.ID)
}

// Finish records the terminal state of a run.
func (s *OptimizationRunStore) Finish(ctx context.Context, runID, status string, result []byte, finishedAt time.Time) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE optimization_runs SET status = $1, result_json = $2, finished_at = $3 WHERE run_id = $4`,
		status, string(result), finishedAt, runID)
	return err
}

// Get loads a run by run id.
func (s *OptimizationRunStore) Get(ctx context.Context, runID string) (*model.OptimizationRun, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT id, run_id, scenario_id, constraint_set_id, status, started_at, finished_at,
		 inputs_snapshot_json, inputs_snapshot_sha, result_json, solver_name, solver_version
		 FROM optimization_runs WHERE run_id = $1`, runID)
	var r model.OptimizationRun
	var started, finished sql.NullTime
	var snapshot, sha, result, solverName, solverVersion sql.NullString
	err := row.Scan(&r.ID, &r.RunID, &r.ScenarioID, &r.ConstraintSetID, &r.Status,
		&started, &finished, &snapshot, &sha, &result, &solverName, &solverVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.StartedAt, r.FinishedAt = timePtr(started), timePtr(finished)
	r.InputsSnapshot = []byte(snapshot.String)
	r.InputsSnapshotSHA = sha.String
	r.Result = []byte(result.String)
	r.SolverName, r.SolverVersion = solverName.String, solverVersion.String
	return &r, nil
}

// SavePortfolio persists the selected items of a run.
func (s *OptimizationRunStore) SavePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`INSERT INTO portfolios (run_id, created_at) VALUES ($1, $2)`, p.RunID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert portfolio %s: %w", p.RunID, err)
	}
	row := s.db.SQL.QueryRowContext(ctx, `SELECT id FROM portfolios WHERE run_id = $1`, p.RunID)
	if err := row.Scan(&p.ID); err != nil {
		return err
	}
	for n := range p.Items {
		item := &p.Items[n]
		item.PortfolioID = p.ID
		_, err := s.db.SQL.ExecContext(ctx,
			`INSERT INTO portfolio_items (portfolio_id, initiative_key, selected, allocated_tokens)
			 VALUES ($1, $2, $3, $4)`,
			item.PortfolioID, item.InitiativeKey, item.Selected, item.AllocatedTokens)
		if err != nil {
			return fmt.Errorf("insert portfolio item %s: %w", item.InitiativeKey, err)
		}
	}
	return nil
}

// GetPortfolio loads a portfolio with its items.
func (s *OptimizationRunStore) GetPortfolio(ctx context.Context, runID string) (*model.Portfolio, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT id, run_id, created_at FROM portfolios WHERE run_id = $1`, runID)
	var p model.Portfolio
	if err := row.Scan(&p.ID, &p.RunID, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT id, portfolio_id, initiative_key, selected, allocated_tokens
		 FROM portfolio_items WHERE portfolio_id = $1 ORDER BY initiative_key`, p.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var item model.PortfolioItem
		if err := rows.Scan(&item.ID, &item.PortfolioID, &item.InitiativeKey, &item.Selected, &item.AllocatedTokens); err != nil {
			return nil, err
		}
		p.Items = append(p.Items, item)
	}
	return &p, rows.Err()
}
