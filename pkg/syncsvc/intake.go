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
	"github.com/roadmapintel/roadmapd/pkg/writers"
)

// IntakeSync pulls one team intake tab into the initiative table.
// Rows without a key are matched by source coordinates; a brand new row
// gets the next sequential key, queued for backfill into the sheet.
type IntakeSync struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Initiatives   *store.InitiativeStore
	Log           *slog.Logger
}

// Preview reads the tab without touching the DB.
func (s *IntakeSync) Preview(ctx context.Context) ([]readers.IntakeRow, error) {
	return readers.ReadIntake(ctx, s.Grid, s.SpreadsheetID, s.Tab)
}

// Sync upserts every row and returns the outcome plus the key
// backfills for freshly created initiatives.
func (s *IntakeSync) Sync(ctx context.Context) (*Outcome, []KeyBackfill, error) {
	rows, err := s.Preview(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := newOutcome()
	var backfills []KeyBackfill
	now := time.Now().UTC()

	for _, r := range rows {
		if r.Title == "" {
			out.fail(r.RowNumber, "title is required")
			continue
		}
		init, err := s.lookup(ctx, r)
		if err != nil {
			out.fail(r.RowNumber, "%v", err)
			continue
		}
		created := init == nil
		if created {
			init = &model.Initiative{
				SourceSheetID:   s.SpreadsheetID,
				SourceTabName:   s.Tab,
				SourceRowNumber: r.RowNumber,
				Status:          model.StatusNew,
			}
		}
		applyIntakeFields(init, r)
		if model.IntakeStatuses[r.Status] {
			init.Status = r.Status
		} else if r.Status != "" && r.Status != init.Status {
			out.warn("row %d: status %q is not intake-writable, kept %q",
				r.RowNumber, r.Status, init.Status)
		}
		init.UpdatedSource = SourceIntakeSync
		init.UpdatedAt = now

		if created {
			key, err := s.Initiatives.NextKey(ctx)
			if err != nil {
				out.fail(r.RowNumber, "assign key: %v", err)
				continue
			}
			init.InitiativeKey = key
			if err := s.Initiatives.Create(ctx, init); err != nil {
				out.fail(r.RowNumber, "create: %v", err)
				continue
			}
			backfills = append(backfills, KeyBackfill{RowNumber: r.RowNumber, Key: key})
		} else if err := s.Initiatives.Update(ctx, init); err != nil {
			out.fail(r.RowNumber, "update: %v", err)
			continue
		}
		out.ok(r.RowNumber)
	}
	return out, backfills, nil
}

// lookup resolves the row to an existing initiative: by key when the
// sheet already carries one, else by source coordinates. Nil means a
// new initiative.
func (s *IntakeSync) lookup(ctx context.Context, r readers.IntakeRow) (*model.Initiative, error) {
	if r.InitiativeKey != "" {
		init, err := s.Initiatives.GetByKey(ctx, r.InitiativeKey)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.New("unknown initiative key " + r.InitiativeKey)
		}
		return init, err
	}
	init, err := s.Initiatives.GetBySource(ctx, s.SpreadsheetID, s.Tab, r.RowNumber)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return init, err
}

func applyIntakeFields(init *model.Initiative, r readers.IntakeRow) {
	init.Title = r.Title
	init.RequestingTeam = r.RequestingTeam
	init.RequesterName = r.RequesterName
	init.RequesterEmail = r.RequesterEmail
	init.Country = r.Country
	init.ProductArea = r.ProductArea
	init.ProblemStatement = r.ProblemStatement
	init.DesiredOutcome = r.DesiredOutcome
	init.Hypothesis = r.Hypothesis
	init.CustomerSegment = r.CustomerSegment
	init.InitiativeType = r.InitiativeType
	init.StrategicTheme = r.StrategicTheme
	init.DeadlineDate = r.DeadlineDate
	init.ImpactLow = r.ImpactLow
	init.ImpactExpected = r.ImpactExpected
	init.ImpactHigh = r.ImpactHigh
	init.EffortTShirt = r.EffortTShirt
	init.EffortEngDays = r.EffortEngDays
	init.RiskLevel = r.RiskLevel
	init.IsMandatory = r.IsMandatory
	init.DependenciesText = r.DependenciesText
	if r.EffortEngDays != nil && init.EngineeringTokens == nil {
		tokens := int64(math.Round(*r.EffortEngDays))
		init.EngineeringTokens = &tokens
	}
}

// FlushBackfills writes assigned keys back into the tab's key column.
func (s *IntakeSync) FlushBackfills(ctx context.Context, backfills []KeyBackfill) error {
	if len(backfills) == 0 {
		return nil
	}
	keyCol, err := FindKeyColumn(ctx, s.Grid, s.SpreadsheetID, s.Tab, readers.IntakeAliases)
	if err != nil {
		return err
	}
	return WriteKeyBackfills(ctx, s.Grid, s.SpreadsheetID, s.Tab, keyCol, backfills)
}

// WriteStatuses best-effort writes the per-row status cells. Failures
// are logged, never returned.
func (s *IntakeSync) WriteStatuses(ctx context.Context, out *Outcome) {
	writeStatuses(ctx, s.Grid, s.SpreadsheetID, s.Tab, readers.IntakeAliases, out, s.Log)
}

func writeStatuses(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string, aliases map[string][]string, out *Outcome, log *slog.Logger) {
	if len(out.RowStatus) == 0 {
		return
	}
	up := &writers.Upserter{Grid: grid, SpreadsheetID: spreadsheetID, Tab: tab, Aliases: aliases}
	if err := up.WriteRowStatus(ctx, out.RowStatus); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("row status write failed", "tab", tab, "error", err)
	}
}
