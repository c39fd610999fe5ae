package readers

import (
	"context"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
)

// ScoringInputsRow holds the PM-editable scoring parameters of one
// Scoring_Inputs row. Every numeric cell is optional; a blank cell
// clears the DB value under the strong-sync contract.
type ScoringInputsRow struct {
	RowNumber                    int
	InitiativeKey                string
	RiceReach                    *float64
	RiceImpact                   *float64
	RiceConfidence               *float64
	RiceEffort                   *float64
	WsjfBusinessValue            *float64
	WsjfTimeCriticality          *float64
	WsjfRiskReduction            *float64
	WsjfJobSize                  *float64
	ActiveScoringFramework       model.Framework
	UseMathModel                 bool
	StrategicPriorityCoefficient *float64
}

var ScoringInputsAliases = header.AliasMap{
	"initiative_key":                 {"key"},
	"rice_reach":                     {"reach"},
	"rice_impact":                    {"impact"},
	"rice_confidence":                {"confidence"},
	"rice_effort":                    {"rice effort", "effort"},
	"wsjf_business_value":            {"business value"},
	"wsjf_time_criticality":          {"time criticality"},
	"wsjf_risk_reduction":            {"risk reduction", "rr/oe"},
	"wsjf_job_size":                  {"job size"},
	"active_scoring_framework":       {"framework"},
	"use_math_model":                 {"math model"},
	"strategic_priority_coefficient": {"priority coefficient"},
}

// ReadScoringInputs reads the Scoring_Inputs tab.
func ReadScoringInputs(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]ScoringInputsRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, ScoringInputsAliases, Options{})
	if err != nil {
		return nil, err
	}
	out := make([]ScoringInputsRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, ScoringInputsRow{
			RowNumber:                    r.Number,
			InitiativeKey:                r.Str("initiative_key"),
			RiceReach:                    r.Float("rice_reach"),
			RiceImpact:                   r.Float("rice_impact"),
			RiceConfidence:               r.Float("rice_confidence"),
			RiceEffort:                   r.Float("rice_effort"),
			WsjfBusinessValue:            r.Float("wsjf_business_value"),
			WsjfTimeCriticality:          r.Float("wsjf_time_criticality"),
			WsjfRiskReduction:            r.Float("wsjf_risk_reduction"),
			WsjfJobSize:                  r.Float("wsjf_job_size"),
			ActiveScoringFramework:       model.Framework(r.Str("active_scoring_framework")),
			UseMathModel:                 r.Bool("use_math_model"),
			StrategicPriorityCoefficient: r.Float("strategic_priority_coefficient"),
		})
	}
	return out, nil
}

// MathModelRow is one row of the MathModels tab, keyed by
// (initiative_key, model_name).
type MathModelRow struct {
	RowNumber      int
	InitiativeKey  string
	ModelName      string
	TargetKPIKey   string
	MetricChainTxt string
	MetricChain    []string
	FormulaText    string
	AssumptionsTxt string
	IsPrimary      bool
	ApprovedByUser bool
	SuggestedByLLM bool
}

var MathModelAliases = header.AliasMap{
	"initiative_key":   {"key"},
	"model_name":       {"model", "name"},
	"target_kpi_key":   {"target kpi", "kpi"},
	"metric_chain":     {"metric chain text", "chain"},
	"formula":          {"formula text"},
	"assumptions":      {"assumptions text", "notes"},
	"is_primary":       {"primary"},
	"approved_by_user": {"approved"},
	"suggested_by_llm": {"llm suggested", "ai suggested"},
}

// ReadMathModels reads the MathModels tab; the metric chain cell is
// parsed into its ordered KPI keys.
func ReadMathModels(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]MathModelRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, MathModelAliases, Options{})
	if err != nil {
		return nil, err
	}
	out := make([]MathModelRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, MathModelRow{
			RowNumber:      r.Number,
			InitiativeKey:  r.Str("initiative_key"),
			ModelName:      r.Str("model_name"),
			TargetKPIKey:   r.Str("target_kpi_key"),
			MetricChainTxt: r.Str("metric_chain"),
			MetricChain:    sheetval.ParseMetricChain(r.Get("metric_chain")),
			FormulaText:    r.Str("formula"),
			AssumptionsTxt: r.Str("assumptions"),
			IsPrimary:      r.Bool("is_primary"),
			ApprovedByUser: r.Bool("approved_by_user"),
			SuggestedByLLM: r.Bool("suggested_by_llm"),
		})
	}
	return out, nil
}

// ParamRow is one row of the Params tab, unique per
// (initiative_key, framework, param_name, model_name).
type ParamRow struct {
	RowNumber     int
	InitiativeKey string
	Framework     model.Framework
	ParamName     string
	ModelName     string
	Value         *float64
	ParamDisplay  string
	Description   string
	Unit          string
	Min           *float64
	Max           *float64
	Source        string
	Approved      bool
	IsAutoSeeded  bool
	Notes         string
}

var ParamAliases = header.AliasMap{
	"initiative_key": {"key"},
	"framework":      {},
	"param_name":     {"parameter", "param"},
	"model_name":     {"model"},
	"value":          {},
	"param_display":  {"display name"},
	"description":    {},
	"unit":           {},
	"min":            {"minimum"},
	"max":            {"maximum"},
	"source":         {},
	"approved":       {},
	"is_auto_seeded": {"auto seeded", "seeded"},
	"notes":          {},
}

// ReadParams reads the Params tab.
func ReadParams(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]ParamRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, ParamAliases, Options{})
	if err != nil {
		return nil, err
	}
	out := make([]ParamRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, ParamRow{
			RowNumber:     r.Number,
			InitiativeKey: r.Str("initiative_key"),
			Framework:     model.Framework(r.Str("framework")),
			ParamName:     r.Str("param_name"),
			ModelName:     r.Str("model_name"),
			Value:         r.Float("value"),
			ParamDisplay:  r.Str("param_display"),
			Description:   r.Str("description"),
			Unit:          r.Str("unit"),
			Min:           r.Float("min"),
			Max:           r.Float("max"),
			Source:        r.Str("source"),
			Approved:      r.Bool("approved"),
			IsAutoSeeded:  r.Bool("is_auto_seeded"),
			Notes:         r.Str("notes"),
		})
	}
	return out, nil
}
