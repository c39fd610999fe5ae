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

// ParamsSync pulls the Params tab, upserting by the natural key
// (initiative_key, framework, param_name, model_name). Out-of-range
// values fail the row; approval state travels from the sheet.
type ParamsSync struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Initiatives   *store.InitiativeStore
	Params        *store.ParamStore
	Log           *slog.Logger
}

// Preview reads the tab without touching the DB.
func (s *ParamsSync) Preview(ctx context.Context) ([]readers.ParamRow, error) {
	return readers.ReadParams(ctx, s.Grid, s.SpreadsheetID, s.Tab)
}

// Sync upserts every keyed row.
func (s *ParamsSync) Sync(ctx context.Context) (*Outcome, error) {
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
		if r.ParamName == "" {
			out.fail(r.RowNumber, "param name is required")
			continue
		}
		if f := r.Framework; f != model.FrameworkRICE && f != model.FrameworkWSJF && f != model.FrameworkMathModel {
			out.fail(r.RowNumber, "invalid framework %q", f)
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
		if r.Value != nil {
			if r.Min != nil && *r.Value < *r.Min {
				out.fail(r.RowNumber, "value %g below min %g", *r.Value, *r.Min)
				continue
			}
			if r.Max != nil && *r.Value > *r.Max {
				out.fail(r.RowNumber, "value %g above max %g", *r.Value, *r.Max)
				continue
			}
		}

		p := &model.InitiativeParam{
			InitiativeKey: r.InitiativeKey,
			Framework:     r.Framework,
			ParamName:     r.ParamName,
			ModelName:     r.ModelName,
			Value:         r.Value,
			ParamDisplay:  r.ParamDisplay,
			Description:   r.Description,
			Unit:          r.Unit,
			Min:           r.Min,
			Max:           r.Max,
			Source:        r.Source,
			Approved:      r.Approved,
			IsAutoSeeded:  r.IsAutoSeeded,
			Notes:         r.Notes,
			UpdatedSource: SourceReadInputs,
			UpdatedAt:     now,
		}
		if err := s.Params.Upsert(ctx, p); err != nil {
			out.fail(r.RowNumber, "upsert: %v", err)
			continue
		}
		out.ok(r.RowNumber)
	}
	return out, nil
}

// WriteStatuses best-effort writes the per-row status cells.
func (s *ParamsSync) WriteStatuses(ctx context.Context, out *Outcome) {
	writeStatuses(ctx, s.Grid, s.SpreadsheetID, s.Tab, readers.ParamAliases, out, s.Log)
}
