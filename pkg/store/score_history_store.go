package store

import (
	"context"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// ScoreHistoryStore appends one row per scoring run when history is
// enabled. Rows are never updated or deleted.
type ScoreHistoryStore struct {
	db *DB
}

func NewScoreHistoryStore(db *DB) *ScoreHistoryStore {
	return &ScoreHistoryStore{db: db}
}

const scoreHistorySchema = `
CREATE TABLE IF NOT EXISTS initiative_scores (
	id INTEGER PRIMARY KEY,
	initiative_id BIGINT NOT NULL,
	framework_name TEXT NOT NULL,
	value_score DOUBLE PRECISION,
	effort_score DOUBLE PRECISION,
	overall_score DOUBLE PRECISION,
	inputs_json TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_initiative_scores_initiative
	ON initiative_scores (initiative_id, framework_name, created_at);
`

func (s *ScoreHistoryStore) Init(ctx context.Context) error {
	_, err := s.db.SQL.ExecContext(ctx, scoreHistorySchema)
	return err
}

// Append records one scoring run.
func (s *ScoreHistoryStore) Append(ctx context.Context, h *model.InitiativeScore) error {
	inputs, err := jsonText(h.Inputs)
	if err != nil {
		return err
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.SQL.ExecContext(ctx,
		`INSERT INTO initiative_scores (initiative_id, framework_name, value_score, effort_score,
		 overall_score, inputs_json, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.InitiativeID, string(h.Framework), nullFloat(h.ValueScore), nullFloat(h.EffortScore),
		nullFloat(h.OverallScore), inputs, h.CreatedAt)
	return err
}

// CountForInitiative reports how many history rows an initiative has.
func (s *ScoreHistoryStore) CountForInitiative(ctx context.Context, initiativeID int64) (int, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM initiative_scores WHERE initiative_id = $1`, initiativeID)
	var n int
	err := row.Scan(&n)
	return n, err
}
