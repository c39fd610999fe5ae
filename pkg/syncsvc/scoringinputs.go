package syncsvc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/readers"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

// ScoringInputsSync pulls the Scoring_Inputs tab under the strong-sync
// contract: the sheet is authoritative for the eight framework
// parameters, so a blank cell clears the stored value rather than
// leaving it untouched.
type ScoringInputsSync struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Initiatives   *store.InitiativeStore
	Params        *store.ParamStore
	Log           *slog.Logger
}

// frameworkParamNames maps each parameter row written by this sync to
// its framework and canonical name, in stable write order.
var frameworkParamNames = []struct {
	framework model.Framework
	name      string
	value     func(r readers.ScoringInputsRow) *float64
}{
	{model.FrameworkRICE, "rice_reach", func(r readers.ScoringInputsRow) *float64 { return r.RiceReach }},
	{model.FrameworkRICE, "rice_impact", func(r readers.ScoringInputsRow) *float64 { return r.RiceImpact }},
	{model.FrameworkRICE, "rice_confidence", func(r readers.ScoringInputsRow) *float64 { return r.RiceConfidence }},
	{model.FrameworkRICE, "rice_effort", func(r readers.ScoringInputsRow) *float64 { return r.RiceEffort }},
	{model.FrameworkWSJF, "wsjf_business_value", func(r readers.ScoringInputsRow) *float64 { return r.WsjfBusinessValue }},
	{model.FrameworkWSJF, "wsjf_time_criticality", func(r readers.ScoringInputsRow) *float64 { return r.WsjfTimeCriticality }},
	{model.FrameworkWSJF, "wsjf_risk_reduction", func(r readers.ScoringInputsRow) *float64 { return r.WsjfRiskReduction }},
	{model.FrameworkWSJF, "wsjf_job_size", func(r readers.ScoringInputsRow) *float64 { return r.WsjfJobSize }},
}

// Preview reads the tab without touching the DB.
func (s *ScoringInputsSync) Preview(ctx context.Context) ([]readers.ScoringInputsRow, error) {
	return readers.ReadScoringInputs(ctx, s.Grid, s.SpreadsheetID, s.Tab)
}

// Sync writes the parameter rows and the scoring control fields for
// every keyed row.
func (s *ScoringInputsSync) Sync(ctx context.Context) (*Outcome, error) {
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
		if f := r.ActiveScoringFramework; f != "" &&
			f != model.FrameworkRICE && f != model.FrameworkWSJF && f != model.FrameworkMathModel {
			out.fail(r.RowNumber, "invalid scoring framework %q", f)
			continue
		}

		failed := false
		for _, fp := range frameworkParamNames {
			p := &model.InitiativeParam{
				InitiativeKey: r.InitiativeKey,
				Framework:     fp.framework,
				ParamName:     fp.name,
				Value:         fp.value(r),
				Source:        "sheet",
				Approved:      true,
				UpdatedSource: SourceReadInputs,
				UpdatedAt:     now,
			}
			if err := s.Params.Upsert(ctx, p); err != nil {
				out.fail(r.RowNumber, "param %s: %v", fp.name, err)
				failed = true
				break
			}
		}
		if failed {
			continue
		}

		if r.ActiveScoringFramework != "" {
			init.ActiveScoringFramework = r.ActiveScoringFramework
		}
		init.UseMathModel = r.UseMathModel
		init.StrategicPriorityCoefficient = r.StrategicPriorityCoefficient
		init.ScoringUpdatedSource = SourceReadInputs
		init.ScoringUpdatedAt = &now
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

// WriteStatuses best-effort writes the per-row status cells.
func (s *ScoringInputsSync) WriteStatuses(ctx context.Context, out *Outcome) {
	writeStatuses(ctx, s.Grid, s.SpreadsheetID, s.Tab, readers.ScoringInputsAliases, out, s.Log)
}
