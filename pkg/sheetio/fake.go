package sheetio

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Grid for tests and local runs. Cells are stored
// sparsely per spreadsheet and tab; call counts are exposed so tests can
// assert batching behavior.
type Fake struct {
	mu    sync.Mutex
	cells map[string]map[string]map[int]map[int]any // sid -> tab -> row -> col

	GetCalls         int
	BatchUpdateCalls int
	AppendCalls      int
	Protections      []Protection
}

// Protection records one ProtectColumns call.
type Protection struct {
	SpreadsheetID string
	Tab           string
	Cols          []int
	Description   string
}

// NewFake builds an empty fake grid.
func NewFake() *Fake {
	return &Fake{cells: map[string]map[string]map[int]map[int]any{}}
}

// Seed loads a rectangle of values starting at (startRow, 1).
func (f *Fake) Seed(spreadsheetID, tab string, startRow int, rows [][]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for r, row := range rows {
		for c, v := range row {
			f.set(spreadsheetID, tab, startRow+r, c+1, v)
		}
	}
}

func (f *Fake) set(sid, tab string, row, col int, v any) {
	if f.cells[sid] == nil {
		f.cells[sid] = map[string]map[int]map[int]any{}
	}
	if f.cells[sid][tab] == nil {
		f.cells[sid][tab] = map[int]map[int]any{}
	}
	if f.cells[sid][tab][row] == nil {
		f.cells[sid][tab][row] = map[int]any{}
	}
	f.cells[sid][tab][row][col] = v
}

// Cell returns a single cell value (nil when unset).
func (f *Fake) Cell(spreadsheetID, tab string, row, col int) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cells[spreadsheetID][tab][row][col]
}

// LastRow returns the highest populated row number of a tab.
func (f *Fake) LastRow(spreadsheetID, tab string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRowLocked(spreadsheetID, tab)
}

func (f *Fake) lastRowLocked(sid, tab string) int {
	last := 0
	for r, cols := range f.cells[sid][tab] {
		if len(cols) > 0 && r > last {
			last = r
		}
	}
	return last
}

func (f *Fake) lastColLocked(sid, tab string) int {
	last := 0
	for _, cols := range f.cells[sid][tab] {
		for c := range cols {
			if c > last {
				last = c
			}
		}
	}
	return last
}

// GetRange implements Grid.
func (f *Fake) GetRange(_ context.Context, spreadsheetID, tab string, startRow, endRow, startCol, endCol int) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if startRow < 1 || startCol < 1 {
		return nil, fmt.Errorf("fake grid: invalid origin (%d,%d)", startRow, startCol)
	}
	if endRow == 0 {
		endRow = f.lastRowLocked(spreadsheetID, tab)
	}
	if endCol == 0 {
		endCol = f.lastColLocked(spreadsheetID, tab)
	}
	f.GetCalls++
	if endRow < startRow || endCol < startCol {
		return nil, nil
	}
	out := make([][]any, 0, endRow-startRow+1)
	for r := startRow; r <= endRow; r++ {
		row := make([]any, 0, endCol-startCol+1)
		for c := startCol; c <= endCol; c++ {
			row = append(row, f.cells[spreadsheetID][tab][r][c])
		}
		out = append(out, row)
	}
	return out, nil
}

// BatchUpdate implements Grid.
func (f *Fake) BatchUpdate(_ context.Context, spreadsheetID string, updates []ValueRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(updates) > MaxRangesPerBatch {
		return fmt.Errorf("fake grid: %d ranges exceeds batch cap %d", len(updates), MaxRangesPerBatch)
	}
	f.BatchUpdateCalls++
	for _, u := range updates {
		for r, row := range u.Values {
			for c, v := range row {
				f.set(spreadsheetID, u.Tab, u.StartRow+r, u.StartCol+c, v)
			}
		}
	}
	return nil
}

// Append implements Grid.
func (f *Fake) Append(_ context.Context, spreadsheetID, tab string, startRow int, values [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AppendCalls++
	for r, row := range values {
		for c, v := range row {
			f.set(spreadsheetID, tab, startRow+r, c+1, v)
		}
	}
	return nil
}

// ProtectColumns implements Grid; the fake only records the request.
func (f *Fake) ProtectColumns(_ context.Context, spreadsheetID, tab string, cols []int, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Protections = append(f.Protections, Protection{
		SpreadsheetID: spreadsheetID,
		Tab:           tab,
		Cols:          cols,
		Description:   description,
	})
	return nil
}
