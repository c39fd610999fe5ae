package readers

import (
	"context"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
)

// BacklogRow carries the central-editable fields of one Central_Backlog
// row. Per-framework scores and intake audit columns are not read back
// from the sheet.
type BacklogRow struct {
	RowNumber                    int
	InitiativeKey                string
	Status                       model.Status
	ActiveScoringFramework       model.Framework
	UseMathModel                 bool
	ImpactExpected               *float64
	EffortEngDays                *float64
	LinkedObjectives             string
	LLMNotes                     string
	StrategicPriorityCoefficient *float64
	DependenciesText             string
	IsOptimizationCandidate      bool
	CandidatePeriodKey           string
	EngineeringTokens            *float64
}

// BacklogAliases covers the central backlog's editable columns.
var BacklogAliases = header.AliasMap{
	"initiative_key":                 {"key", "init key"},
	"status":                         {},
	"active_scoring_framework":       {"framework", "scoring framework"},
	"use_math_model":                 {"math model", "use math model?"},
	"impact_expected":                {"impact (expected)", "expected impact"},
	"effort_eng_days":                {"engineering days", "eng days"},
	"linked_objectives":              {"objectives", "okrs"},
	"llm_notes":                      {"ai notes"},
	"strategic_priority_coefficient": {"priority coefficient", "strategic priority"},
	"dependencies_text":              {"dependencies"},
	"is_optimization_candidate":      {"optimization candidate", "candidate"},
	"candidate_period_key":           {"period", "candidate period"},
	"engineering_tokens":             {"tokens", "eng tokens"},
}

// ReadBacklog reads the central backlog tab into typed rows.
func ReadBacklog(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]BacklogRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, BacklogAliases, Options{})
	if err != nil {
		return nil, err
	}
	out := make([]BacklogRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, BacklogRow{
			RowNumber:                    r.Number,
			InitiativeKey:                r.Str("initiative_key"),
			Status:                       model.Status(r.Str("status")),
			ActiveScoringFramework:       model.Framework(r.Str("active_scoring_framework")),
			UseMathModel:                 r.Bool("use_math_model"),
			ImpactExpected:               r.Float("impact_expected"),
			EffortEngDays:                r.Float("effort_eng_days"),
			LinkedObjectives:             r.Str("linked_objectives"),
			LLMNotes:                     r.Str("llm_notes"),
			StrategicPriorityCoefficient: r.Float("strategic_priority_coefficient"),
			DependenciesText:             r.Str("dependencies_text"),
			IsOptimizationCandidate:      r.Bool("is_optimization_candidate"),
			CandidatePeriodKey:           r.Str("candidate_period_key"),
			EngineeringTokens:            r.Float("engineering_tokens"),
		})
	}
	return out, nil
}
