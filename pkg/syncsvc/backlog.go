package syncsvc

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/readers"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

// BacklogSync pulls the central backlog's editable columns back into
// the DB. Only central-editable fields are written; scores, intake
// provenance, and KPI fields never travel this path.
type BacklogSync struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Initiatives   *store.InitiativeStore
	Log           *slog.Logger
}

// Preview reads the tab without touching the DB.
func (s *BacklogSync) Preview(ctx context.Context) ([]readers.BacklogRow, error) {
	return readers.ReadBacklog(ctx, s.Grid, s.SpreadsheetID, s.Tab)
}

// Sync applies every keyed row to its initiative. Rows with no key are
// counted as skipped_no_key; unknown keys and invalid enum values fail
// the row.
func (s *BacklogSync) Sync(ctx context.Context) (*Outcome, error) {
	rows, err := s.Preview(ctx)
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
		if r.Status != "" && !model.ValidStatuses[r.Status] {
			out.fail(r.RowNumber, "invalid status %q", r.Status)
			continue
		}
		if f := r.ActiveScoringFramework; f != "" &&
			f != model.FrameworkRICE && f != model.FrameworkWSJF && f != model.FrameworkMathModel {
			out.fail(r.RowNumber, "invalid scoring framework %q", f)
			continue
		}

		applyBacklogFields(init, r)
		init.UpdatedSource = SourceBacklogUpdate
		init.UpdatedAt = now
		if err := s.Initiatives.Update(ctx, init); err != nil {
			out.fail(r.RowNumber, "update: %v", err)
			continue
		}
		out.ok(r.RowNumber)
	}
	return out, nil
}

// applyBacklogFields copies the central-editable columns. Checkboxes
// carry a definite state and are always written; text and numeric
// cells only overwrite when populated.
func applyBacklogFields(init *model.Initiative, r readers.BacklogRow) {
	if r.Status != "" {
		init.Status = r.Status
	}
	if r.ActiveScoringFramework != "" {
		init.ActiveScoringFramework = r.ActiveScoringFramework
	}
	init.UseMathModel = r.UseMathModel
	init.IsOptimizationCandidate = r.IsOptimizationCandidate
	if r.ImpactExpected != nil {
		init.ImpactExpected = r.ImpactExpected
	}
	if r.EffortEngDays != nil {
		init.EffortEngDays = r.EffortEngDays
	}
	if r.LinkedObjectives != "" {
		init.LinkedObjectives = r.LinkedObjectives
	}
	if r.LLMNotes != "" {
		init.LLMNotes = r.LLMNotes
	}
	if r.StrategicPriorityCoefficient != nil {
		init.StrategicPriorityCoefficient = r.StrategicPriorityCoefficient
	}
	if r.DependenciesText != "" {
		init.DependenciesText = r.DependenciesText
	}
	if r.CandidatePeriodKey != "" {
		init.CandidatePeriodKey = r.CandidatePeriodKey
	}
	if r.EngineeringTokens != nil {
		tokens := int64(math.Round(*r.EngineeringTokens))
		init.EngineeringTokens = &tokens
	}
}

// WriteStatuses best-effort writes the per-row status cells.
func (s *BacklogSync) WriteStatuses(ctx context.Context, out *Outcome) {
	writeStatuses(ctx, s.Grid, s.SpreadsheetID, s.Tab, readers.BacklogAliases, out, s.Log)
}
