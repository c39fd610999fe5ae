package readers

import (
	"context"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
)

// MetricsConfigRow is one row of the KPI registry tab.
type MetricsConfigRow struct {
	RowNumber   int
	KPIKey      string
	KPIName     string
	KPILevel    string
	Unit        string
	Description string
	IsActive    bool
}

var MetricsConfigAliases = header.AliasMap{
	"kpi_key":     {"key", "metric key"},
	"kpi_name":    {"name", "metric name"},
	"kpi_level":   {"level"},
	"unit":        {},
	"description": {},
	"is_active":   {"active"},
}

// ReadMetricsConfig reads the Metrics_Config tab.
func ReadMetricsConfig(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]MetricsConfigRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, MetricsConfigAliases, Options{})
	if err != nil {
		return nil, err
	}
	out := make([]MetricsConfigRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, MetricsConfigRow{
			RowNumber:   r.Number,
			KPIKey:      r.Str("kpi_key"),
			KPIName:     r.Str("kpi_name"),
			KPILevel:    r.Str("kpi_level"),
			Unit:        r.Str("unit"),
			Description: r.Str("description"),
			IsActive:    r.Bool("is_active"),
		})
	}
	return out, nil
}

// KPIContributionRow is one row of the KPI_Contributions tab. The JSON
// cell has three meaningful states: present and valid (override), blank
// (unlock request when the row was overridden), and malformed
// (JSONValid=false, reported and skipped).
type KPIContributionRow struct {
	RowNumber     int
	InitiativeKey string
	CellBlank     bool
	Contribution  map[string]float64
	JSONValid     bool
	Source        string // display-only echo of kpi_contribution_source
}

var KPIContributionAliases = header.AliasMap{
	"initiative_key":          {"key"},
	"kpi_contribution_json":   {"kpi contributions", "contributions json"},
	"kpi_contribution_source": {"source"},
}

// ReadKPIContributions reads the KPI_Contributions tab.
func ReadKPIContributions(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]KPIContributionRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, KPIContributionAliases, Options{})
	if err != nil {
		return nil, err
	}
	out := make([]KPIContributionRow, 0, len(raw))
	for _, r := range raw {
		cell := r.Get("kpi_contribution_json")
		contrib, ok := sheetval.ParseJSONMap(cell)
		out = append(out, KPIContributionRow{
			RowNumber:     r.Number,
			InitiativeKey: r.Str("initiative_key"),
			CellBlank:     sheetval.ParseString(cell) == "",
			Contribution:  contrib,
			JSONValid:     ok,
			Source:        r.Str("kpi_contribution_source"),
		})
	}
	return out, nil
}
