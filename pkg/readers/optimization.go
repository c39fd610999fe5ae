package readers

import (
	"context"
	"strings"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/optimize"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
)

// Optimization Center tabs keep rows 2-3 as human-readable metadata, so
// every reader here passes OptCenter (data begins at row 4).

// CandidateRow is one row of the Candidates tab. The tab is a DB
// projection; only candidacy toggles flow back.
type CandidateRow struct {
	RowNumber               int
	InitiativeKey           string
	IsOptimizationCandidate bool
	CandidatePeriodKey      string
	EngineeringTokens       *float64
}

var CandidateAliases = header.AliasMap{
	"initiative_key":            {"key"},
	"is_optimization_candidate": {"candidate", "include"},
	"candidate_period_key":      {"period"},
	"engineering_tokens":        {"tokens", "eng tokens"},
}

// ReadCandidates reads the Candidates tab.
func ReadCandidates(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]CandidateRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, CandidateAliases, OptCenter)
	if err != nil {
		return nil, err
	}
	out := make([]CandidateRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, CandidateRow{
			RowNumber:               r.Number,
			InitiativeKey:           r.Str("initiative_key"),
			IsOptimizationCandidate: r.Bool("is_optimization_candidate"),
			CandidatePeriodKey:      r.Str("candidate_period_key"),
			EngineeringTokens:       r.Float("engineering_tokens"),
		})
	}
	return out, nil
}

var ConstraintAliases = header.AliasMap{
	"scenario_name":       {"scenario"},
	"constraint_set_name": {"set", "set name"},
	"constraint_type":     {"type", "kind"},
	"dimension":           {},
	"dimension_key":       {"dim key", "slice"},
	"initiative_key":      {"key", "initiative"},
	"second_key":          {"second initiative", "pair with"},
	"members":             {"member keys", "group"},
	"name":                {"constraint name"},
	"value":               {"tokens", "amount"},
	"notes":               {},
}

// ReadConstraints reads the Constraints tab into raw rows for the
// constraint compiler. Member lists split on commas.
func ReadConstraints(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]optimize.RawConstraintRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, ConstraintAliases, OptCenter)
	if err != nil {
		return nil, err
	}
	out := make([]optimize.RawConstraintRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, optimize.RawConstraintRow{
			RowNumber:     r.Number,
			ScenarioName:  r.Str("scenario_name"),
			SetName:       r.Str("constraint_set_name"),
			Kind:          strings.ToLower(r.Str("constraint_type")),
			Dimension:     strings.ToLower(r.Str("dimension")),
			DimensionKey:  r.Str("dimension_key"),
			InitiativeKey: r.Str("initiative_key"),
			SecondKey:     r.Str("second_key"),
			Members:       splitMembers(r.Str("members")),
			Name:          r.Str("name"),
			Value:         r.Float("value"),
			Notes:         r.Str("notes"),
		})
	}
	return out, nil
}

var TargetAliases = header.AliasMap{
	"scenario_name":       {"scenario"},
	"constraint_set_name": {"set", "set name"},
	"dimension":           {},
	"dimension_key":       {"dim key", "slice"},
	"kpi_key":             {"kpi", "metric"},
	"target_type":         {"type"},
	"value":               {"target", "target value"},
	"notes":               {},
}

// ReadTargets reads the Targets tab into raw rows for the compiler.
func ReadTargets(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]optimize.RawTargetRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, TargetAliases, OptCenter)
	if err != nil {
		return nil, err
	}
	out := make([]optimize.RawTargetRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, optimize.RawTargetRow{
			RowNumber:    r.Number,
			ScenarioName: r.Str("scenario_name"),
			SetName:      r.Str("constraint_set_name"),
			Dimension:    strings.ToLower(r.Str("dimension")),
			DimensionKey: r.Str("dimension_key"),
			KPIKey:       r.Str("kpi_key"),
			TargetType:   strings.ToLower(r.Str("target_type")),
			Value:        r.Float("value"),
			Notes:        r.Str("notes"),
		})
	}
	return out, nil
}

// ScenarioRow is one row of the Scenario_Config tab.
type ScenarioRow struct {
	RowNumber           int
	Name                string
	PeriodKey           string
	CapacityTotalTokens *float64
	ObjectiveMode       string
	ObjectiveWeights    map[string]float64
	WeightsValid        bool
	Notes               string
}

var ScenarioAliases = header.AliasMap{
	"scenario_name":         {"scenario", "name"},
	"period_key":            {"period"},
	"capacity_total_tokens": {"capacity", "total tokens"},
	"objective_mode":        {"objective"},
	"objective_weights":     {"weights", "objective weights json"},
	"notes":                 {},
}

// ReadScenarios reads the Scenario_Config tab.
func ReadScenarios(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]ScenarioRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, ScenarioAliases, OptCenter)
	if err != nil {
		return nil, err
	}
	out := make([]ScenarioRow, 0, len(raw))
	for _, r := range raw {
		weights, ok := sheetval.ParseJSONMap(r.Get("objective_weights"))
		out = append(out, ScenarioRow{
			RowNumber:           r.Number,
			Name:                r.Str("scenario_name"),
			PeriodKey:           r.Str("period_key"),
			CapacityTotalTokens: r.Float("capacity_total_tokens"),
			ObjectiveMode:       strings.ToLower(r.Str("objective_mode")),
			ObjectiveWeights:    weights,
			WeightsValid:        ok,
			Notes:               r.Str("notes"),
		})
	}
	return out, nil
}

func splitMembers(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
