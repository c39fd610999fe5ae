package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// ParamStore persists normalized scoring parameters, unique per
// (initiative_key, framework, param_name, model_name).
type ParamStore struct {
	db *DB
}

func NewParamStore(db *DB) *ParamStore {
	return &ParamStore{db: db}
}

const paramSchema = `
CREATE TABLE IF NOT EXISTS initiative_params (
	id INTEGER PRIMARY KEY,
	initiative_key TEXT NOT NULL,
	framework TEXT NOT NULL,
	param_name TEXT NOT NULL,
	model_name TEXT NOT NULL DEFAULT '',
	value DOUBLE PRECISION,
	param_display TEXT,
	description TEXT,
	unit TEXT,
	min_value DOUBLE PRECISION,
	max_value DOUBLE PRECISION,
	source TEXT,
	approved BOOLEAN NOT NULL DEFAULT FALSE,
	is_auto_seeded BOOLEAN NOT NULL DEFAULT FALSE,
	notes TEXT,
	updated_source TEXT,
	updated_at TIMESTAMP,
	UNIQUE (initiative_key, framework, param_name, model_name)
);
`

func (s *ParamStore) Init(ctx context.Context) error {
	_, err := s.db.SQL.ExecContext(ctx, paramSchema)
	return err
}

const paramCols = `initiative_key, framework, param_name, model_name, value, param_display,
	description, unit, min_value, max_value, source, approved, is_auto_seeded, notes,
	updated_source, updated_at`

func scanParam(row interface{ Scan(...any) error }) (*model.InitiativeParam, error) {
	var p model.InitiativeParam
	var (
		framework                          string
		value, minV, maxV                  sql.NullFloat64
		display, desc, unit, source, notes sql.NullString
		updatedSource                      sql.NullString
	)
	err := row.Scan(&p.ID, &p.InitiativeKey, &framework, &p.ParamName, &p.ModelName,
		&value, &display, &desc, &unit, &minV, &maxV, &source, &p.Approved,
		&p.IsAutoSeeded, &notes, &updatedSource, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Framework = model.Framework(framework)
	p.Value = floatPtr(value)
	p.ParamDisplay = display.String
	p.Description = desc.String
	p.Unit = unit.String
	p.Min, p.Max = floatPtr(minV), floatPtr(maxV)
	p.Source = source.String
	p.Notes = notes.String
	p.UpdatedSource = updatedSource.String
	return &p, nil
}

// Upsert inserts or updates a parameter by its natural key.
func (s *ParamStore) Upsert(ctx context.Context, p *model.InitiativeParam) error {
	existing, err := s.Get(ctx, p.InitiativeKey, p.Framework, p.ParamName, p.ModelName)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	args := []any{
		p.InitiativeKey, string(p.Framework), p.ParamName, p.ModelName,
		nullFloat(p.Value), p.ParamDisplay, p.Description, p.Unit,
		nullFloat(p.Min), nullFloat(p.Max), p.Source, p.Approved,
		p.IsAutoSeeded, p.Notes, p.UpdatedSource, p.UpdatedAt,
	}
	if existing == nil {
		query := fmt.Sprintf(`INSERT INTO initiative_params (%s) VALUES (%s)`,
			paramCols, placeholders(len(args)))
		if _, err := s.db.SQL.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert param %s/%s/%s: %w", p.InitiativeKey, p.Framework, p.ParamName, err)
		}
		return nil
	}
	p.ID = existing.ID
	query := `UPDATE initiative_params SET value = $1, param_display = $2, description = $3,
		unit = $4, min_value = $5, max_value = $6, source = $7, approved = $8,
		is_auto_seeded = $9, notes = $10, updated_source = $11, updated_at = $12
		WHERE id = $13`
	_, err = s.db.SQL.ExecContext(ctx, query,
		nullFloat(p.Value), p.ParamDisplay, p.Description, p.Unit,
		nullFloat(p.Min), nullFloat(p.Max), p.Source, p.Approved,
		p.IsAutoSeeded, p.Notes, p.UpdatedSource, p.UpdatedAt, p.ID)
	return err
}

// Get loads one parameter by natural key.
func (s *ParamStore) Get(ctx context.Context, initiativeKey string, framework model.Framework, paramName, modelName string) (*model.InitiativeParam, error) {
	query := fmt.Sprintf(`SELECT id, %s FROM initiative_params
		WHERE initiative_key = $1 AND framework = $2 AND param_name = $3 AND model_name = $4`, paramCols)
	return scanParam(s.db.SQL.QueryRowContext(ctx, query, initiativeKey, string(framework), paramName, modelName))
}

// List returns parameters for an initiative, optionally filtered by
// framework and model name.
func (s *ParamStore) List(ctx context.Context, initiativeKey string, framework model.Framework, modelName string) ([]*model.InitiativeParam, error) {
	query := fmt.Sprintf(`SELECT id, %s FROM initiative_params WHERE initiative_key = $1`, paramCols)
	args := []any{initiativeKey}
	if framework != "" {
		args = append(args, string(framework))
		query += fmt.Sprintf(" AND framework = $%d", len(args))
	}
	if modelName != "" {
		args = append(args, modelName)
		query += fmt.Sprintf(" AND model_name = $%d", len(args))
	}
	query += " ORDER BY param_name"
	rows, err := s.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.InitiativeParam
	for rows.Next() {
		p, err := scanParam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApprovedEnv builds the formula environment from approved parameter
// values for one math model (plus framework-level approved params).
func (s *ParamStore) ApprovedEnv(ctx context.Context, initiativeKey, modelName string) (map[string]float64, error) {
	params, err := s.List(ctx, initiativeKey, model.FrameworkMathModel, "")
	if err != nil {
		return nil, err
	}
	env := map[string]float64{}
	for _, p := range params {
		if !p.Approved || p.Value == nil {
			continue
		}
		if p.ModelName != "" && p.ModelName != modelName {
			continue
		}
		env[p.ParamName] = *p.Value
	}
	return env, nil
}
