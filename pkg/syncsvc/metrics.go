package syncsvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/readers"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

var validKPILevels = map[string]bool{
	model.KPILevelNorthStar:   true,
	model.KPILevelStrategic:   true,
	model.KPILevelOperational: true,
}

// MetricsConfigSync pulls the KPI registry tab. The single active
// north-star rule is checked twice: the incoming rows are rejected up
// front when they alone would break it, and the combined table is
// verified after the writes.
type MetricsConfigSync struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Metrics       *store.MetricConfigStore
	Log           *slog.Logger
}

// Preview reads the tab without touching the DB.
func (s *MetricsConfigSync) Preview(ctx context.Context) ([]readers.MetricsConfigRow, error) {
	return readers.ReadMetricsConfig(ctx, s.Grid, s.SpreadsheetID, s.Tab)
}

// Sync upserts every row, then verifies the north-star invariant over
// the resulting table.
func (s *MetricsConfigSync) Sync(ctx context.Context) (*Outcome, error) {
	rows, err := s.Preview(ctx)
	if err != nil {
		return nil, err
	}
	out := newOutcome()

	activeNorthStars := 0
	for _, r := range rows {
		if r.IsActive && r.KPILevel == model.KPILevelNorthStar {
			activeNorthStars++
		}
	}
	if activeNorthStars > 1 {
		return out, fmt.Errorf("sheet declares %d active north-star KPIs, at most one allowed", activeNorthStars)
	}

	now := time.Now().UTC()
	for _, r := range rows {
		if r.KPIKey == "" {
			out.fail(r.RowNumber, "kpi key is required")
			continue
		}
		if !validKPILevels[r.KPILevel] {
			out.fail(r.RowNumber, "invalid kpi level %q", r.KPILevel)
			continue
		}
		m := &model.OrganizationMetricConfig{
			KPIKey:        r.KPIKey,
			KPIName:       r.KPIName,
			KPILevel:      r.KPILevel,
			Unit:          r.Unit,
			Description:   r.Description,
			IsActive:      r.IsActive,
			UpdatedSource: SourceReadInputs,
			UpdatedAt:     now,
		}
		if err := s.Metrics.Upsert(ctx, m); err != nil {
			out.fail(r.RowNumber, "upsert: %v", err)
			continue
		}
		out.ok(r.RowNumber)
	}

	if err := s.Metrics.CheckNorthStarInvariant(ctx); err != nil {
		out.warn("north-star invariant violated after sync: %v", err)
		return out, err
	}
	return out, nil
}

// WriteStatuses best-effort writes the per-row status cells.
func (s *MetricsConfigSync) WriteStatuses(ctx context.Context, out *Outcome) {
	writeStatuses(ctx, s.Grid, s.SpreadsheetID, s.Tab, readers.MetricsConfigAliases, out, s.Log)
}
