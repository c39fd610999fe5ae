// Package writers pushes typed records back into sheet tabs. Two
// strategies exist: upsert-by-key for tabs with a unique key column,
// and append-only for run-tagged result tabs. Both build an
// inspectable sheetio.Plan and write only the columns they own;
// unknown columns are never touched.
package writers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
)

// System-owned columns present on every writable tab.
const (
	ColRunStatus     = "run_status"
	ColUpdatedSource = "updated_source"
	ColUpdatedAt     = "updated_at"
)

// Record is one upsert unit: a unique key plus the owned fields to
// write, keyed by canonical name.
type Record struct {
	Key    string
	Fields map[string]any
}

// UpsertResult summarizes one upsert pass.
type UpsertResult struct {
	Updated  int // records matched to an existing row
	Appended int // records placed on a fresh row
	Ranges   int // ranges in the executed plan
}

// Upserter writes records into a tab by unique key.
type Upserter struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Aliases       header.AliasMap
	KeyField      string
	HeaderRow     int // default 1
	StartDataRow  int // default 2
}

func (u *Upserter) headerRow() int {
	if u.HeaderRow == 0 {
		return 1
	}
	return u.HeaderRow
}

func (u *Upserter) startDataRow() int {
	if u.StartDataRow == 0 {
		return 2
	}
	return u.StartDataRow
}

// BuildPlan resolves target rows and produces the batch plan without
// executing it. The plan groups updates by column and contiguous row
// run so a column of adjacent rows costs one range.
func (u *Upserter) BuildPlan(ctx context.Context, records []Record, stamp sheetval.Stamp) (*sheetio.Plan, UpsertResult, error) {
	var res UpsertResult
	plan := sheetio.NewPlan(u.SpreadsheetID)
	if len(records) == 0 {
		return plan, res, nil
	}

	cols, err := u.resolveColumns(ctx)
	if err != nil {
		return nil, res, err
	}
	keyCol, ok := cols[u.KeyField]
	if !ok {
		return nil, res, fmt.Errorf("tab %s has no %s column", u.Tab, u.KeyField)
	}

	rowByKey, lastRow, err := u.scanKeyColumn(ctx, keyCol)
	if err != nil {
		return nil, res, err
	}

	// cellsByCol[col][row] = value
	cellsByCol := map[int]map[int]any{}
	put := func(col, row int, v any) {
		if cellsByCol[col] == nil {
			cellsByCol[col] = map[int]any{}
		}
		cellsByCol[col][row] = sheetval.SheetScalar(v)
	}

	nextRow := lastRow + 1
	if nextRow < u.startDataRow() {
		nextRow = u.startDataRow()
	}
	for _, rec := range records {
		row, exists := rowByKey[rec.Key]
		if !exists {
			row = nextRow
			nextRow++
			rowByKey[rec.Key] = row
			put(keyCol, row, rec.Key)
			res.Appended++
		} else {
			res.Updated++
		}
		for field, value := range rec.Fields {
			col, owned := cols[field]
			if !owned || field == u.KeyField {
				continue
			}
			put(col, row, value)
		}
		if c, ok := cols[ColUpdatedSource]; ok {
			put(c, row, stamp.UpdatedSource)
		}
		if c, ok := cols[ColUpdatedAt]; ok {
			put(c, row, stamp.UpdatedAt)
		}
	}

	for _, col := range sortedCols(cellsByCol) {
		for _, run := range contiguousRuns(cellsByCol[col]) {
			plan.Add(run.toRange(u.Tab, col))
		}
	}
	res.Ranges = plan.Len()
	return plan, res, nil
}

// Upsert builds and executes the plan.
func (u *Upserter) Upsert(ctx context.Context, records []Record, stamp sheetval.Stamp) (UpsertResult, error) {
	plan, res, err := u.BuildPlan(ctx, records, stamp)
	if err != nil {
		return res, err
	}
	return res, plan.Execute(ctx, u.Grid)
}

// WriteRowStatus writes best-effort per-row run_status cells ("OK" or
// "FAILED: reason"). A missing status column is not an error.
func (u *Upserter) WriteRowStatus(ctx context.Context, statuses map[int]string) error {
	if len(statuses) == 0 {
		return nil
	}
	cols, err := u.resolveColumns(ctx)
	if err != nil {
		return err
	}
	col, ok := cols[ColRunStatus]
	if !ok {
		return nil
	}
	plan := sheetio.NewPlan(u.SpreadsheetID)
	cells := make(map[int]any, len(statuses))
	for row, s := range statuses {
		cells[row] = any(s)
	}
	for _, run := range contiguousRuns(cells) {
		plan.Add(run.toRange(u.Tab, col))
	}
	return plan.Execute(ctx, u.Grid)
}

func (u *Upserter) resolveColumns(ctx context.Context) (map[string]int, error) {
	hr := u.headerRow()
	headerCells, err := u.Grid.GetRange(ctx, u.SpreadsheetID, u.Tab, hr, hr, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("read header of %s!%s: %w", u.SpreadsheetID, u.Tab, err)
	}
	if len(headerCells) == 0 {
		return nil, fmt.Errorf("tab %s has no header row", u.Tab)
	}
	headers := make([]string, len(headerCells[0]))
	for i, h := range headerCells[0] {
		headers[i] = sheetval.ParseString(h)
	}
	aliases := u.Aliases
	if aliases == nil {
		aliases = header.AliasMap{}
	}
	// System columns are always resolvable even if the tab alias map
	// does not declare them.
	for _, sys := range []string{ColRunStatus, ColUpdatedSource, ColUpdatedAt} {
		if _, declared := aliases[sys]; !declared {
			withSys := make(header.AliasMap, len(aliases)+3)
			for k, v := range aliases {
				withSys[k] = v
			}
			withSys[ColRunStatus] = nil
			withSys[ColUpdatedSource] = nil
			withSys[ColUpdatedAt] = nil
			aliases = withSys
			break
		}
	}
	idx := header.ResolveIndices(headers, aliases)
	cols := make(map[string]int, len(idx))
	for name, i := range idx {
		cols[name] = i + 1 // 1-based
	}
	return cols, nil
}

// scanKeyColumn reads only the key column and returns key → row number
// plus the highest populated row. First occurrence of a duplicate key
// wins.
func (u *Upserter) scanKeyColumn(ctx context.Context, keyCol int) (map[string]int, int, error) {
	values, err := u.Grid.GetRange(ctx, u.SpreadsheetID, u.Tab, u.startDataRow(), 0, keyCol, keyCol)
	if err != nil {
		return nil, 0, fmt.Errorf("scan key column of %s!%s: %w", u.SpreadsheetID, u.Tab, err)
	}
	rowByKey := map[string]int{}
	last := u.startDataRow() - 1
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		key := sheetval.ParseString(row[0])
		if key == "" {
			continue
		}
		n := u.startDataRow() + i
		if n > last {
			last = n
		}
		if _, dup := rowByKey[key]; !dup {
			rowByKey[key] = n
		}
	}
	return rowByKey, last, nil
}

// run is one contiguous vertical strip of cells in a single column.
type run struct {
	startRow int
	values   []any
}

func (r run) toRange(tab string, col int) sheetio.ValueRange {
	vals := make([][]any, len(r.values))
	for i, v := range r.values {
		vals[i] = []any{v}
	}
	return sheetio.ValueRange{Tab: tab, StartRow: r.startRow, StartCol: col, Values: vals}
}

func contiguousRuns(cells map[int]any) []run {
	rows := make([]int, 0, len(cells))
	for r := range cells {
		rows = append(rows, r)
	}
	sort.Ints(rows)
	var runs []run
	for _, r := range rows {
		if n := len(runs); n > 0 && runs[n-1].startRow+len(runs[n-1].values) == r {
			runs[n-1].values = append(runs[n-1].values, cells[r])
		} else {
			runs = append(runs, run{startRow: r, values: []any{cells[r]}})
		}
	}
	return runs
}

func sortedCols(m map[int]map[int]any) []int {
	out := make([]int, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// appendChunkRows caps the number of rows per append call.
const appendChunkRows = 500

// Appender writes run-tagged rows (Runs, Results, Gaps) below the last
// populated key-column row. Prior rows are never touched.
type Appender struct {
	Grid          sheetio.Grid
	SpreadsheetID string
	Tab           string
	Aliases       header.AliasMap
	KeyField      string // scanned to find the last populated row
	HeaderRow     int
	StartDataRow  int
}

// Append writes records as fresh rows in header order and returns the
// first row written.
func (a *Appender) Append(ctx context.Context, records []map[string]any) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	up := Upserter{
		Grid: a.Grid, SpreadsheetID: a.SpreadsheetID, Tab: a.Tab,
		Aliases: a.Aliases, KeyField: a.KeyField,
		HeaderRow: a.HeaderRow, StartDataRow: a.StartDataRow,
	}
	cols, err := up.resolveColumns(ctx)
	if err != nil {
		return 0, err
	}
	keyCol, ok := cols[a.KeyField]
	if !ok {
		return 0, fmt.Errorf("tab %s has no %s column", a.Tab, a.KeyField)
	}
	_, lastRow, err := up.scanKeyColumn(ctx, keyCol)
	if err != nil {
		return 0, err
	}
	startRow := lastRow + 1

	width := 0
	for _, c := range cols {
		if c > width {
			width = c
		}
	}
	rect := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, width)
		for j := range row {
			row[j] = ""
		}
		for field, value := range rec {
			if c, owned := cols[field]; owned {
				row[c-1] = sheetval.SheetScalar(value)
			}
		}
		rect[i] = row
	}

	for start := 0; start < len(rect); start += appendChunkRows {
		end := start + appendChunkRows
		if end > len(rect) {
			end = len(rect)
		}
		if err := a.Grid.Append(ctx, a.SpreadsheetID, a.Tab, startRow+start, rect[start:end]); err != nil {
			return 0, fmt.Errorf("append to %s!%s: %w", a.SpreadsheetID, a.Tab, err)
		}
	}
	return startRow, nil
}

// ProtectSystemColumns applies warning-only protections to the
// system-owned columns of a tab so humans get a confirmation prompt
// before editing them. Missing columns are skipped.
func ProtectSystemColumns(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string, aliases header.AliasMap) error {
	up := Upserter{Grid: grid, SpreadsheetID: spreadsheetID, Tab: tab, Aliases: aliases, KeyField: ""}
	cols, err := up.resolveColumns(ctx)
	if err != nil {
		return err
	}
	var protect []int
	for _, name := range []string{ColRunStatus, ColUpdatedSource, ColUpdatedAt} {
		if c, ok := cols[name]; ok {
			protect = append(protect, c)
		}
	}
	if len(protect) == 0 {
		return nil
	}
	sort.Ints(protect)
	return grid.ProtectColumns(ctx, spreadsheetID, tab, protect,
		"System-owned column, written by the roadmap sync on "+time.Now().UTC().Format("2006-01-02"))
}
