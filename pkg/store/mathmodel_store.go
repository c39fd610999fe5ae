package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// MathModelStore persists InitiativeMathModel rows, keyed by
// (initiative_key, model_name).
type MathModelStore struct {
	db *DB
}

func NewMathModelStore(db *DB) *MathModelStore {
	return &MathModelStore{db: db}
}

const mathModelSchema = `
CREATE TABLE IF NOT EXISTS initiative_math_models (
	id INTEGER PRIMARY KEY,
	initiative_key TEXT NOT NULL,
	model_name TEXT NOT NULL,
	target_kpi_key TEXT,
	metric_chain_text TEXT,
	metric_chain_json TEXT,
	formula_text TEXT,
	assumptions_text TEXT,
	is_primary BOOLEAN NOT NULL DEFAULT FALSE,
	approved_by_user BOOLEAN NOT NULL DEFAULT FALSE,
	suggested_by_llm BOOLEAN NOT NULL DEFAULT FALSE,
	computed_score DOUBLE PRECISION,
	last_computed_at TIMESTAMP,
	updated_source TEXT,
	updated_at TIMESTAMP,
	UNIQUE (initiative_key, model_name)
);
`

func (s *MathModelStore) Init(ctx context.Context) error {
	_, err := s.db.SQL.ExecContext(ctx, mathModelSchema)
	return err
}

const mathModelCols = `initiative_key, model_name, target_kpi_key, metric_chain_text,
	metric_chain_json, formula_text, assumptions_text, is_primary, approved_by_user,
	suggested_by_llm, computed_score, last_computed_at, updated_source, updated_at`

func scanMathModel(row interface{ Scan(...any) error }) (*model.InitiativeMathModel, error) {
	var m model.InitiativeMathModel
	var (
		target, chainText, chainJSON, formula, assumptions sql.NullString
		updatedSource                                      sql.NullString
		score                                              sql.NullFloat64
		computedAt                                         sql.NullTime
	)
	err := row.Scan(&m.ID, &m.InitiativeKey, &m.ModelName, &target, &chainText,
		&chainJSON, &formula, &assumptions, &m.IsPrimary, &m.ApprovedByUser,
		&m.SuggestedByLLM, &score, &computedAt, &updatedSource, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.TargetKPIKey = target.String
	m.MetricChainTxt = chainText.String
	m.MetricChain = jsonStrings(chainJSON)
	m.FormulaText = formula.String
	m.AssumptionsTxt = assumptions.String
	m.ComputedScore = floatPtr(score)
	m.LastComputedAt = timePtr(computedAt)
	m.UpdatedSource = updatedSource.String
	return &m, nil
}

// Upsert inserts or updates a model by (initiative_key, model_name).
func (s *MathModelStore) Upsert(ctx context.Context, m *model.InitiativeMathModel) error {
	chainJSON, err := jsonText(m.MetricChain)
	if err != nil {
		return err
	}
	existing, err := s.Get(ctx, m.InitiativeKey, m.ModelName)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	args := []any{
		m.InitiativeKey, m.ModelName, m.TargetKPIKey, m.MetricChainTxt,
		chainJSON, m.FormulaText, m.AssumptionsTxt, m.IsPrimary, m.ApprovedByUser,
		m.SuggestedByLLM, nullFloat(m.ComputedScore), nullTime(m.LastComputedAt),
		m.UpdatedSource, m.UpdatedAt,
	}
	if existing == nil {
		query := fmt.Sprintf(`INSERT INTO initiative_math_models (%s) VALUES (%s)`,
			mathModelCols, placeholders(len(args)))
		if _, err := s.db.SQL.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert math model %s/%s: %w", m.InitiativeKey, m.ModelName, err)
		}
		row := s.db.SQL.QueryRowContext(ctx,
			`SELECT id FROM initiative_math_models WHERE initiative_key = $1 AND model_name = $2`,
			m.InitiativeKey, m.ModelName)
		return row.Scan(&m.ID)
	}
	m.ID = existing.ID
	query := `UPDATE initiative_math_models SET target_kpi_key = $1, metric_chain_text = $2,
		metric_chain_json = $3, formula_text = $4, assumptions_text = $5, is_primary = $6,
		approved_by_user = $7, suggested_by_llm = $8, computed_score = $9,
		last_computed_at = $10, updated_source = $11, updated_at = $12
		WHERE id = $13`
	_, err = s.db.SQL.ExecContext(ctx, query,
		m.TargetKPIKey, m.MetricChainTxt, chainJSON, m.FormulaText, m.AssumptionsTxt,
		m.IsPrimary, m.ApprovedByUser, m.SuggestedByLLM, nullFloat(m.ComputedScore),
		nullTime(m.LastComputedAt), m.UpdatedSource, m.UpdatedAt, m.ID)
	return err
}

// Get loads one model.
func (s *MathModelStore) Get(ctx context.Context, initiativeKey, modelName string) (*model.InitiativeMathModel, error) {
	query := fmt.Sprintf(
		`SELECT id, %s FROM initiative_math_models WHERE initiative_key = $1 AND model_name = $2`,
		mathModelCols)
	return scanMathModel(s.db.SQL.QueryRowContext(ctx, query, initiativeKey, modelName))
}

// ListByInitiative returns all models owned by an initiative.
func (s *MathModelStore) ListByInitiative(ctx context.Context, initiativeKey string) ([]*model.InitiativeMathModel, error) {
	query := fmt.Sprintf(
		`SELECT id, %s FROM initiative_math_models WHERE initiative_key = $1 ORDER BY model_name`,
		mathModelCols)
	rows, err := s.db.SQL.QueryContext(ctx, query, initiativeKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.InitiativeMathModel
	for rows.Next() {
		m, err := scanMathModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateComputedScore records an evaluation result (nil clears it).
func (s *MathModelStore) UpdateComputedScore(ctx context.Context, id int64, score *float64, at sql.NullTime) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE initiative_math_models SET computed_score = $1, last_computed_at = $2 WHERE id = $3`,
		nullFloat(score), at, id)
	return err
}

// ClearPrimary drops the primary flag from every model of an initiative
// except keep (pass 0 to clear all). Keeps the at-most-one-primary
// invariant when a new primary is written.
func (s *MathModelStore) ClearPrimary(ctx context.Context, initiativeKey string, keep int64) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE initiative_math_models SET is_primary = FALSE WHERE initiative_key = $1 AND id <> $2`,
		initiativeKey, keep)
	return err
}

// DeleteByInitiative cascades model deletion with its initiative.
func (s *MathModelStore) DeleteByInitiative(ctx context.Context, initiativeKey string) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`DELETE FROM initiative_math_models WHERE initiative_key = $1`, initiativeKey)
	return err
}
