package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/optimize"
)

// ScenarioStore persists optimization scenarios and their compiled
// constraint sets.
type ScenarioStore struct {
	db *DB
}

func NewScenarioStore(db *DB) *ScenarioStore {
	return &ScenarioStore{db: db}
}

const scenarioSchema = `
CREATE TABLE IF NOT EXISTS optimization_scenarios (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	period_key TEXT,
	capacity_total_tokens BIGINT NOT NULL DEFAULT 0,
	objective_mode TEXT NOT NULL,
	objective_weights_json TEXT,
	notes TEXT,
	updated_source TEXT,
	updated_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS optimization_constraint_sets (
	id INTEGER PRIMARY KEY,
	scenario_name TEXT NOT NULL,
	set_name TEXT NOT NULL,
	compiled_json TEXT NOT NULL,
	updated_source TEXT,
	updated_at TIMESTAMP,
	UNIQUE (scenario_name, set_name)
);
`

func (s *ScenarioStore) Init(ctx context.Context) error {
	_, err := s.db.SQL.ExecContext(ctx, scenarioSchema)
	return err
}

func scanScenario(row interface{ Scan(...any) error }) (*model.OptimizationScenario, error) {
	var sc model.OptimizationScenario
	var period, weightsJSON, notes, updatedSource sql.NullString
	err := row.Scan(&sc.ID, &sc.Name, &period, &sc.CapacityTotalTokens, &sc.ObjectiveMode,
		&weightsJSON, &notes, &updatedSource, &sc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sc.PeriodKey = period.String
	sc.ObjectiveWeights = jsonMap(weightsJSON)
	sc.Notes = notes.String
	sc.UpdatedSource = updatedSource.String
	return &sc, nil
}

// UpsertScenario inserts or updates a scenario by name.
func (s *ScenarioStore) UpsertScenario(ctx context.Context, sc *model.OptimizationScenario) error {
	weights, err := jsonText(sc.ObjectiveWeights)
	if err != nil {
		return err
	}
	existing, err := s.GetScenario(ctx, sc.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing == nil {
		_, err := s.db.SQL.ExecContext(ctx,
			`INSERT INTO optimization_scenarios (name, period_key, capacity_total_tokens, objective_mode,
			 objective_weights_json, notes, updated_source, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			sc.Name, sc.PeriodKey, sc.CapacityTotalTokens, sc.ObjectiveMode,
			weights, sc.Notes, sc.UpdatedSource, sc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert scenario %s: %w", sc.Name, err)
		}
		return nil
	}
	sc.ID = existing.ID
	_, err = s.db.SQL.ExecContext(ctx,
		`UPDATE optimization_scenarios SET period_key = $1, capacity_total_tokens = $2,
		 objective_mode = $3, objective_weights_json = $4, notes = $5,
		 updated_source = $6, updated_at = $7 WHERE id = $8`,
		sc.PeriodKey, sc.CapacityTotalTokens, sc.ObjectiveMode, weights,
		sc.Notes, sc.UpdatedSource, sc.UpdatedAt, sc.ID)
	return err
}

// GetScenario loads a scenario by name.
func (s *ScenarioStore) GetScenario(ctx context.Context, name string) (*model.OptimizationScenario, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT id, name, period_key, capacity_total_tokens, objective_mode,
		 objective_weights_json, notes, updated_source, updated_at
		 FROM optimization_scenarios WHERE name = $1`, name)
	return scanScenario(row)
}

// SaveConstraintSet stores a compiled constraint set for a scenario,
// replacing any previous compilation of the same (scenario, set) pair.
// Returns the row id.
func (s *ScenarioStore) SaveConstraintSet(ctx context.Context, scenarioName, setName string, cs *optimize.ConstraintSetCompiled, source string) (int64, error) {
	blob, err := json.Marshal(cs)
	if err != nil {
		return 0, err
	}
	var id int64
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT id FROM optimization_constraint_sets WHERE scenario_name = $1 AND set_name = $2`,
		scenarioName, setName)
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		_, err := s.db.SQL.ExecContext(ctx,
			`INSERT INTO optimization_constraint_sets (scenario_name, set_name, compiled_json, updated_source, updated_at)
			 VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)`,
			scenarioName, setName, string(blob), source)
		if err != nil {
			return 0, fmt.Errorf("insert constraint set %s/%s: %w", scenarioName, setName, err)
		}
		row := s.db.SQL.QueryRowContext(ctx,
			`SELECT id FROM optimization_constraint_sets WHERE scenario_name = $1 AND set_name = $2`,
			scenarioName, setName)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	case err != nil:
		return 0, err
	}
	_, err = s.db.SQL.ExecContext(ctx,
		`UPDATE optimization_constraint_sets SET compiled_json = $1, updated_source = $2, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $3`, string(blob), source, id)
	return id, err
}

// GetConstraintSet loads and decodes a compiled constraint set.
func (s *ScenarioStore) GetConstraintSet(ctx context.Context, scenarioName, setName string) (int64, *optimize.ConstraintSetCompiled, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT id, compiled_json FROM optimization_constraint_sets WHERE scenario_name = $1 AND set_name = $2`,
		scenarioName, setName)
	var id int64
	var blob string
	if err := row.Scan(&id, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, err
	}
	var cs optimize.ConstraintSetCompiled
	if err := json.Unmarshal([]byte(blob), &cs); err != nil {
		return 0, nil, fmt.Errorf("corrupt constraint set %s/%s: %w", scenarioName, setName, err)
	}
	return id, &cs, nil
}
