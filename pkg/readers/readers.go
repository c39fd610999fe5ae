// Package readers turns sheet tabs into typed row records. Each tab
// shape has one reader; all of them share the table engine here, which
// resolves headers through alias maps, skips blank rows, and stops
// after a run of consecutive blanks so empty tail regions are never
// scanned.
package readers

import (
	"context"
	"fmt"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
)

// DefaultBlankRunStop is the number of consecutive fully-blank rows
// after which a reader stops scanning.
const DefaultBlankRunStop = 50

// Options control the table engine. Zero values take the defaults:
// header on row 1, data from row 2, blank-run stop of 50.
type Options struct {
	HeaderRow    int
	StartDataRow int
	MaxRows      int // soft cap on data rows; 0 means unlimited
	BlankRunStop int
}

func (o Options) withDefaults() Options {
	if o.HeaderRow == 0 {
		o.HeaderRow = 1
	}
	if o.StartDataRow == 0 {
		o.StartDataRow = 2
	}
	if o.BlankRunStop == 0 {
		o.BlankRunStop = DefaultBlankRunStop
	}
	return o
}

// OptCenter marks a tab that keeps rows 2-3 for human-readable
// metadata; data begins at row 4.
var OptCenter = Options{StartDataRow: 4}

// Row is one data row: the 1-based sheet row number, cells keyed by
// canonical field name, and unrecognized columns keyed by their
// normalized header.
type Row struct {
	Number int
	Cells  map[string]any
	Extras map[string]any
}

// Get reads a canonical cell, nil when absent.
func (r Row) Get(name string) any { return r.Cells[name] }

// Str reads a canonical cell as a trimmed string.
func (r Row) Str(name string) string { return sheetval.ParseString(r.Cells[name]) }

// Float reads a canonical cell as an optional float.
func (r Row) Float(name string) *float64 { return sheetval.ParseFloat(r.Cells[name]) }

// Bool reads a canonical cell as a boolean; unparseable cells are false.
func (r Row) Bool(name string) bool {
	v, _ := sheetval.ParseBool(r.Cells[name])
	return v
}

// ReadTable reads a tab into rows. The header row is resolved against
// aliases; columns that resolve to no canonical name land in Extras.
func ReadTable(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string, aliases header.AliasMap, opts Options) ([]Row, error) {
	opts = opts.withDefaults()

	headerCells, err := grid.GetRange(ctx, spreadsheetID, tab, opts.HeaderRow, opts.HeaderRow, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("read header of %s!%s: %w", spreadsheetID, tab, err)
	}
	if len(headerCells) == 0 || len(headerCells[0]) == 0 {
		return nil, fmt.Errorf("tab %s has no header row", tab)
	}
	headers := make([]string, len(headerCells[0]))
	for i, h := range headerCells[0] {
		headers[i] = sheetval.ParseString(h)
	}
	indices := header.ResolveIndices(headers, aliases)
	canonicalByCol := make(map[int]string, len(indices))
	for name, col := range indices {
		canonicalByCol[col] = name
	}

	data, err := grid.GetRange(ctx, spreadsheetID, tab, opts.StartDataRow, 0, 1, len(headers))
	if err != nil {
		return nil, fmt.Errorf("read data of %s!%s: %w", spreadsheetID, tab, err)
	}

	var rows []Row
	blankRun := 0
	for i, raw := range data {
		if opts.MaxRows > 0 && len(rows) >= opts.MaxRows {
			break
		}
		if isBlank(raw) {
			blankRun++
			if blankRun >= opts.BlankRunStop {
				break
			}
			continue
		}
		blankRun = 0

		row := Row{
			Number: opts.StartDataRow + i,
			Cells:  make(map[string]any, len(indices)),
			Extras: map[string]any{},
		}
		for col, cell := range raw {
			if cell == nil || sheetval.ParseString(cell) == "" {
				continue
			}
			if name, ok := canonicalByCol[col]; ok {
				row.Cells[name] = cell
			} else if col < len(headers) {
				if n := header.Normalize(headers[col]); n != "" {
					row.Extras[n] = cell
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlank(cells []any) bool {
	for _, c := range cells {
		if c != nil && sheetval.ParseString(c) != "" {
			return false
		}
	}
	return true
}
