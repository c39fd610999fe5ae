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

// MathModelsSync pulls the MathModels tab, upserting by
// (initiative_key, model_name). The sheet is the user's editing surface
// for formulas and approvals, so its columns win outright here; only
// the computed score and its timestamp are preserved from the DB.
type MathModelsSync struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Initiatives   *store.InitiativeStore
	Models        *store.MathModelStore
	Log           *slog.Logger
}

// Preview reads the tab without touching the DB.
func (s *MathModelsSync) Preview(ctx context.Context) ([]readers.MathModelRow, error) {
	return readers.ReadMathModels(ctx, s.Grid, s.SpreadsheetID, s.Tab)
}

// Sync upserts every keyed row. A row marked primary demotes its
// siblings so the single-primary rule holds.
func (s *MathModelsSync) Sync(ctx context.Context) (*Outcome, error) {
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
		if r.ModelName == "" {
			out.fail(r.RowNumber, "model name is required")
			continue
		}
		if _, err := s.Initiatives.GetByKey(ctx, r.InitiativeKey); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				out.fail(r.RowNumber, "unknown initiative key %s", r.InitiativeKey)
			} else {
				out.fail(r.RowNumber, "%v", err)
			}
			continue
		}

		m := &model.InitiativeMathModel{
			InitiativeKey:  r.InitiativeKey,
			ModelName:      r.ModelName,
			TargetKPIKey:   r.TargetKPIKey,
			MetricChainTxt: r.MetricChainTxt,
			MetricChain:    r.MetricChain,
			FormulaText:    r.FormulaText,
			AssumptionsTxt: r.AssumptionsTxt,
			IsPrimary:      r.IsPrimary,
			ApprovedByUser: r.ApprovedByUser,
			SuggestedByLLM: r.SuggestedByLLM,
			UpdatedSource:  SourceReadInputs,
			UpdatedAt:      now,
		}
		if existing, err := s.Models.Get(ctx, r.InitiativeKey, r.ModelName); err == nil {
			m.ComputedScore = existing.ComputedScore
			m.LastComputedAt = existing.LastComputedAt
		}
		if err := s.Models.Upsert(ctx, m); err != nil {
			out.fail(r.RowNumber, "upsert: %v", err)
			continue
		}
		if m.IsPrimary {
			if err := s.Models.ClearPrimary(ctx, r.InitiativeKey, m.ID); err != nil {
				out.fail(r.RowNumber, "clear primary: %v", err)
				continue
			}
		}
		out.ok(r.RowNumber)
	}
	return out, nil
}

// WriteStatuses best-effort writes the per-row status cells.
func (s *MathModelsSync) WriteStatuses(ctx context.Context, out *Outcome) {
	writeStatuses(ctx, s.Grid, s.SpreadsheetID, s.Tab, readers.MathModelAliases, out, s.Log)
}
