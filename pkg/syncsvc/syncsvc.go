// Package syncsvc implements the sheet→DB sync services: one service
// per tab shape, each following the same pipeline — read typed rows,
// validate per row, upsert through the repositories, accumulate
// per-row outcomes. Validation failures never abort a sync; they are
// collected and reported. The DB is the source of truth and is always
// written before any best-effort sheet status write.
package syncsvc

import (
	"context"
	"fmt"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

// Provenance tokens stamped by the sync pipelines.
const (
	SourceIntakeSync        = "flow1.intake_sync"
	SourceBacklogSheetWrite = "flow1.backlog_sheet_write"
	SourceBacklogUpdate     = "flow1.backlog_update"
	SourceReadInputs        = "flow3.productopssheet_read_inputs"
	SourceWriteScores       = "flow3.productopssheet_write_scores"
	SourceWriteKPI          = "flow3.productopssheet_write_kpi_contributions"
)

// Outcome accumulates one sync pass. RowStatus carries the per-row
// "OK" / "FAILED: reason" cells for the best-effort status write.
type Outcome struct {
	Upserts      int            `json:"upserts"`
	Skipped      int            `json:"skipped"`
	Unlocked     int            `json:"unlocked"`
	Failures     int            `json:"failures"`
	SkippedNoKey int            `json:"skipped_no_key"`
	Warnings     []string       `json:"warnings,omitempty"`
	RowStatus    map[int]string `json:"-"`
}

func newOutcome() *Outcome {
	return &Outcome{RowStatus: map[int]string{}}
}

func (o *Outcome) ok(row int) {
	o.Upserts++
	o.RowStatus[row] = "OK"
}

func (o *Outcome) fail(row int, format string, args ...any) {
	o.Failures++
	msg := fmt.Sprintf(format, args...)
	o.RowStatus[row] = store.Truncate("FAILED: "+msg, 200)
	o.Warnings = append(o.Warnings, fmt.Sprintf("row %d: %s", row, msg))
}

func (o *Outcome) skip(row int, reason string) {
	o.Skipped++
	o.Warnings = append(o.Warnings, fmt.Sprintf("row %d: %s", row, reason))
}

func (o *Outcome) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// KeyBackfill is one pending write of a freshly assigned initiative key
// into its source row.
type KeyBackfill struct {
	RowNumber int
	Key       string
}

// WriteKeyBackfills writes assigned keys into the tab's key column in
// one batch. The key column is located from the header row.
func WriteKeyBackfills(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string, keyCol int, backfills []KeyBackfill) error {
	if len(backfills) == 0 {
		return nil
	}
	plan := sheetio.NewPlan(spreadsheetID)
	for _, b := range backfills {
		plan.AddCell(tab, b.RowNumber, keyCol, b.Key)
	}
	return plan.Execute(ctx, grid)
}

// FindKeyColumn locates the 1-based initiative_key column of a tab.
func FindKeyColumn(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string, aliases header.AliasMap) (int, error) {
	cells, err := grid.GetRange(ctx, spreadsheetID, tab, 1, 1, 1, 0)
	if err != nil {
		return 0, err
	}
	if len(cells) == 0 {
		return 0, fmt.Errorf("tab %s has no header row", tab)
	}
	headers := make([]string, len(cells[0]))
	for i, h := range cells[0] {
		headers[i] = sheetval.ParseString(h)
	}
	if idx, ok := header.ResolveIndices(headers, aliases)["initiative_key"]; ok {
		return idx + 1, nil
	}
	return 0, fmt.Errorf("tab %s has no initiative_key column", tab)
}
