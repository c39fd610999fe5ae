package syncsvc

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/readers"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

// KPIContributionsSync pulls the KPI_Contributions tab. A populated
// valid JSON cell installs a PM override; a blank cell on an overridden
// row unlocks it back to system ownership; malformed JSON fails the row
// without touching the DB.
type KPIContributionsSync struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Initiatives   *store.InitiativeStore
	Metrics       *store.MetricConfigStore
	Log           *slog.Logger
}

// Preview reads the tab without touching the DB.
func (s *KPIContributionsSync) Preview(ctx context.Context) ([]readers.KPIContributionRow, error) {
	return readers.ReadKPIContributions(ctx, s.Grid, s.SpreadsheetID, s.Tab)
}

// Sync applies overrides and unlocks. Override maps are filtered
// against the active KPI registry; unknown or ineligible keys are
// dropped with a warning rather than failing the row.
func (s *KPIContributionsSync) Sync(ctx context.Context) (*Outcome, error) {
	rows, err := s.Preview(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.Metrics.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := newOutcome()
	now := time.Now().UTC()

	for _, r := range rows {
		if r.InitiativeKey == "" {
			out.SkippedNoKey++
			continue
		}
		init, err := s.Initiatives.GetByKey(ctx, r.InitiativeKey)
		if errors.Is(err, store.ErrNotFound) {
			out.fail(r.RowNumber, "unknown initiative key %s", r.InitiativeKey)
			continue
		}
		if err != nil {
			out.fail(r.RowNumber, "%v", err)
			continue
		}

		switch {
		case r.CellBlank:
			if init.KPIContributionSource != model.KPISourcePMOverride {
				out.skip(r.RowNumber, "blank cell on non-overridden row, no change")
				continue
			}
			init.KPIContribution = nil
			init.KPIContributionSource = ""
			out.Unlocked++

		case !r.JSONValid:
			out.fail(r.RowNumber, "malformed contribution JSON")
			continue

		default:
			filtered, dropped := filterContribution(r.Contribution, active)
			if len(dropped) > 0 {
				out.warn("row %d: dropped unknown or ineligible KPI keys: %s",
					r.RowNumber, strings.Join(dropped, ", "))
			}
			if len(filtered) == 0 {
				out.fail(r.RowNumber, "no valid KPI keys in override")
				continue
			}
			init.KPIContribution = filtered
			init.KPIContributionSource = model.KPISourcePMOverride
		}

		init.UpdatedSource = SourceReadInputs
		init.UpdatedAt = now
		if err := s.Initiatives.Update(ctx, init); err != nil {
			out.fail(r.RowNumber, "update: %v", err)
			continue
		}
		out.ok(r.RowNumber)
	}
	return out, nil
}

func filterContribution(in map[string]float64, active map[string]*model.OrganizationMetricConfig) (map[string]float64, []string) {
	filtered := make(map[string]float64, len(in))
	var dropped []string
	for k, v := range in {
		cfg, ok := active[k]
		if !ok || !cfg.ContributionEligible() {
			dropped = append(dropped, k)
			continue
		}
		filtered[k] = v
	}
	sort.Strings(dropped)
	return filtered, dropped
}

// WriteStatuses best-effort writes the per-row status cells.
func (s *KPIContributionsSync) WriteStatuses(ctx context.Context, out *Outcome) {
	writeStatuses(ctx, s.Grid, s.SpreadsheetID, s.Tab, readers.KPIContributionAliases, out, s.Log)
}
