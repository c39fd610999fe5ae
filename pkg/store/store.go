// Package store implements the relational repositories of the platform
// over database/sql. Every repository runs on both Postgres (lib/pq)
// and SQLite (modernc.org/sqlite): production uses Postgres, tests use
// in-process SQLite. Statements are written with $n placeholders, which
// both drivers accept.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert collides with an existing
	// business key.
	ErrConflict = errors.New("conflict")
)

// Dialect selects driver-specific SQL where the engines differ.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB bundles a sql.DB with its dialect. All repositories hang off it.
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
}

// Open connects to the given DSN. A DSN starting with "postgres://" uses
// lib/pq; anything else is treated as a SQLite path.
func Open(dsn string) (*DB, error) {
	driver, dialect := "postgres", DialectPostgres
	if len(dsn) < 11 || dsn[:11] != "postgres://" {
		driver, dialect = "sqlite", DialectSQLite
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// Single writer keeps SQLite's locking semantics predictable.
		db.SetMaxOpenConns(1)
	}
	return &DB{SQL: db, Dialect: dialect}, nil
}

// InitAll creates every table the platform uses.
func (db *DB) InitAll(ctx context.Context) error {
	inits := []func(context.Context) error{
		NewInitiativeStore(db).Init,
		NewMathModelStore(db).Init,
		NewParamStore(db).Init,
		NewMetricConfigStore(db).Init,
		NewScenarioStore(db).Init,
		NewOptimizationRunStore(db).Init,
		NewActionRunStore(db).Init,
		NewScoreHistoryStore(db).Init,
	}
	for _, init := range inits {
		if err := init(ctx); err != nil {
			return err
		}
	}
	return nil
}

// nullFloat converts an optional float for binding.
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// jsonText marshals v to a TEXT column value; nil maps become NULL.
func jsonText(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]float64:
		if t == nil {
			return sql.NullString{}, nil
		}
	case []string:
		if t == nil {
			return sql.NullString{}, nil
		}
	case nil:
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func jsonMap(s sql.NullString) map[string]float64 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out map[string]float64
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}

func jsonStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}
