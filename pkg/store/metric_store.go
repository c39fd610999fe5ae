package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// MetricConfigStore persists the organization KPI registry.
type MetricConfigStore struct {
	db *DB
}

func NewMetricConfigStore(db *DB) *MetricConfigStore {
	return &MetricConfigStore{db: db}
}

const metricSchema = `
CREATE TABLE IF NOT EXISTS org_metric_configs (
	id INTEGER PRIMARY KEY,
	kpi_key TEXT UNIQUE NOT NULL,
	kpi_name TEXT,
	kpi_level TEXT NOT NULL,
	unit TEXT,
	description TEXT,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	updated_source TEXT,
	updated_at TIMESTAMP
);
`

func (s *MetricConfigStore) Init(ctx context.Context) error {
	_, err := s.db.SQL.ExecContext(ctx, metricSchema)
	return err
}

// ErrNorthStarViolation reports more than one active north-star KPI.
var ErrNorthStarViolation = errors.New("more than one active north_star KPI")

func scanMetric(row interface{ Scan(...any) error }) (*model.OrganizationMetricConfig, error) {
	var m model.OrganizationMetricConfig
	var name, unit, desc, updatedSource sql.NullString
	err := row.Scan(&m.ID, &m.KPIKey, &name, &m.KPILevel, &unit, &desc, &m.IsActive, &updatedSource, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.KPIName, m.Unit, m.Description = name.String, unit.String, desc.String
	m.UpdatedSource = updatedSource.String
	return &m, nil
}

// Upsert inserts or updates a KPI by key.
func (s *MetricConfigStore) Upsert(ctx context.Context, m *model.OrganizationMetricConfig) error {
	existing, err := s.Get(ctx, m.KPIKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing == nil {
		_, err := s.db.SQL.ExecContext(ctx,
			`INSERT INTO org_metric_configs (kpi_key, kpi_name, kpi_level, unit, description, is_active, updated_source, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.KPIKey, m.KPIName, m.KPILevel, m.Unit, m.Description, m.IsActive, m.UpdatedSource, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert kpi %s: %w", m.KPIKey, err)
		}
		return nil
	}
	m.ID = existing.ID
	_, err = s.db.SQL.ExecContext(ctx,
		`UPDATE org_metric_configs SET kpi_name = $1, kpi_level = $2, unit = $3, description = $4,
		 is_active = $5, updated_source = $6, updated_at = $7 WHERE id = $8`,
		m.KPIName, m.KPILevel, m.Unit, m.Description, m.IsActive, m.UpdatedSource, m.UpdatedAt, m.ID)
	return err
}

// Get loads one KPI by key.
func (s *MetricConfigStore) Get(ctx context.Context, kpiKey string) (*model.OrganizationMetricConfig, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT id, kpi_key, kpi_name, kpi_level, unit, description, is_active, updated_source, updated_at
		 FROM org_metric_configs WHERE kpi_key = $1`, kpiKey)
	return scanMetric(row)
}

// ListActive returns every active KPI keyed by kpi_key.
func (s *MetricConfigStore) ListActive(ctx context.Context) (map[string]*model.OrganizationMetricConfig, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT id, kpi_key, kpi_name, kpi_level, unit, description, is_active, updated_source, updated_at
		 FROM org_metric_configs WHERE is_active ORDER BY kpi_key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := map[string]*model.OrganizationMetricConfig{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out[m.KPIKey] = m
	}
	return out, rows.Err()
}

// ActiveNorthStar returns the single active north-star KPI.
// ErrNorthStarViolation is returned when the registry invariant is
// broken; ErrNotFound when no active north star exists.
func (s *MetricConfigStore) ActiveNorthStar(ctx context.Context) (*model.OrganizationMetricConfig, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT id, kpi_key, kpi_name, kpi_level, unit, description, is_active, updated_source, updated_at
		 FROM org_metric_configs WHERE is_active AND kpi_level = $1`, model.KPILevelNorthStar)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var found *model.OrganizationMetricConfig
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, ErrNorthStarViolation
		}
		found = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// CheckNorthStarInvariant verifies at most one active north-star row.
func (s *MetricConfigStore) CheckNorthStarInvariant(ctx context.Context) error {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM org_metric_configs WHERE is_active AND kpi_level = $1`,
		model.KPILevelNorthStar)
	var n int
	if err := row.Scan(&n); err != nil {
		return err
	}
	if n > 1 {
		return ErrNorthStarViolation
	}
	return nil
}
