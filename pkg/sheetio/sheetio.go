// Package sheetio abstracts the spreadsheet transport behind a small
// grid capability: rectangle reads, batched rectangle writes, appends,
// and warning-only column protections. RESTGrid talks to the hosted
// Sheets API; tests and local runs use the in-memory Fake.
package sheetio

import (
	"context"
	"fmt"
)

// MaxRangesPerBatch caps the number of ranges in one batch-update call,
// matching spreadsheet API quota guidance.
const MaxRangesPerBatch = 200

// ValueRange is one rectangle of cell values anchored at a 1-based
// (row, column) origin within a tab.
type ValueRange struct {
	Tab      string  `json:"tab"`
	StartRow int     `json:"start_row"`
	StartCol int     `json:"start_col"`
	Values   [][]any `json:"values"`
}

// Grid is the sheet I/O capability.
//
// Row and column indices are 1-based. endRow/endCol of 0 mean "to the
// last populated row/column".
type Grid interface {
	GetRange(ctx context.Context, spreadsheetID, tab string, startRow, endRow, startCol, endCol int) ([][]any, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, updates []ValueRange) error
	Append(ctx context.Context, spreadsheetID, tab string, startRow int, values [][]any) error
	ProtectColumns(ctx context.Context, spreadsheetID, tab string, cols []int, description string) error
}

// Plan is an inspectable batch of pending writes. Writers accumulate
// ranges here and flush through Execute, which chunks to
// MaxRangesPerBatch ranges per call.
type Plan struct {
	SpreadsheetID string       `json:"spreadsheet_id"`
	Ranges        []ValueRange `json:"ranges"`
}

// NewPlan starts an empty plan for one spreadsheet.
func NewPlan(spreadsheetID string) *Plan {
	return &Plan{SpreadsheetID: spreadsheetID}
}

// Add appends one rectangle to the plan.
func (p *Plan) Add(vr ValueRange) {
	p.Ranges = append(p.Ranges, vr)
}

// AddCell appends a single-cell write.
func (p *Plan) AddCell(tab string, row, col int, value any) {
	p.Add(ValueRange{Tab: tab, StartRow: row, StartCol: col, Values: [][]any{{value}}})
}

// Len reports the number of pending ranges.
func (p *Plan) Len() int { return len(p.Ranges) }

// Execute flushes the plan through grid in chunks and clears it.
func (p *Plan) Execute(ctx context.Context, grid Grid) error {
	for start := 0; start < len(p.Ranges); start += MaxRangesPerBatch {
		end := start + MaxRangesPerBatch
		if end > len(p.Ranges) {
			end = len(p.Ranges)
		}
		if err := grid.BatchUpdate(ctx, p.SpreadsheetID, p.Ranges[start:end]); err != nil {
			return fmt.Errorf("batch update %s ranges %d..%d: %w", p.SpreadsheetID, start, end, err)
		}
	}
	p.Ranges = nil
	return nil
}
