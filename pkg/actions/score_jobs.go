package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/formula"
	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/llm"
	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
	"github.com/roadmapintel/roadmapd/pkg/store"
	"github.com/roadmapintel/roadmapd/pkg/syncsvc"
	"github.com/roadmapintel/roadmapd/pkg/writers"
)

// scoreWriteAliases covers the computed columns written back to the
// Scoring_Inputs tab. Input columns stay PM-owned and are never in
// this map.
var scoreWriteAliases = header.AliasMap{
	"initiative_key":     {"key"},
	"rice_value_score":   {"rice value"},
	"rice_effort_score":  {"rice effort score"},
	"rice_overall_score": {"rice score"},
	"wsjf_value_score":   {"wsjf value", "cost of delay"},
	"wsjf_effort_score":  {"wsjf effort score"},
	"wsjf_overall_score": {"wsjf score"},
	"math_value_score":   {"math value"},
	"math_effort_score":  {"math effort score"},
	"math_overall_score": {"math score"},
	"value_score":        {"active value"},
	"effort_score":       {"active effort"},
	"overall_score":      {"active score", "score"},
}

var kpiWriteAliases = header.AliasMap{
	"initiative_key":                 {"key"},
	"kpi_contribution_json":          {"kpi contributions", "contributions json"},
	"kpi_contribution_computed_json": {"computed contributions"},
	"kpi_contribution_source":        {"source"},
}

func scoreRecord(init *model.Initiative) writers.Record {
	return writers.Record{
		Key: init.InitiativeKey,
		Fields: map[string]any{
			"rice_value_score":   init.RiceValueScore,
			"rice_effort_score":  init.RiceEffortScore,
			"rice_overall_score": init.RiceOverallScore,
			"wsjf_value_score":   init.WsjfValueScore,
			"wsjf_effort_score":  init.WsjfEffortScore,
			"wsjf_overall_score": init.WsjfOverallScore,
			"math_value_score":   init.MathValueScore,
			"math_effort_score":  init.MathEffortScore,
			"math_overall_score": init.MathOverallScore,
			"value_score":        init.ValueScore,
			"effort_score":       init.EffortScore,
			"overall_score":      init.OverallScore,
		},
	}
}

func kpiRecord(init *model.Initiative) writers.Record {
	return writers.Record{
		Key: init.InitiativeKey,
		Fields: map[string]any{
			"kpi_contribution_json":          init.KPIContribution,
			"kpi_contribution_computed_json": init.KPIContributionComputed,
			"kpi_contribution_source":        init.KPIContributionSource,
		},
	}
}

// writeScores pushes the computed per-framework and active scores back
// to Scoring_Inputs for the given initiatives.
func writeScores(ctx context.Context, d *Deps, keys []string) (writers.UpsertResult, error) {
	inits, err := d.Initiatives.ListByKeys(ctx, keys)
	if err != nil {
		return writers.UpsertResult{}, err
	}
	up := &writers.Upserter{
		Grid:          d.Grid,
		SpreadsheetID: d.Profile.ProductOpsSheetID,
		Tab:           d.Profile.ScoringInputsTab,
		Aliases:       scoreWriteAliases,
		KeyField:      "initiative_key",
	}
	records := make([]writers.Record, 0, len(inits))
	for _, init := range inits {
		records = append(records, scoreRecord(init))
	}
	return up.Upsert(ctx, records, sheetval.NewStamp(syncsvc.SourceWriteScores, time.Now()))
}

func writeKPIContributions(ctx context.Context, d *Deps, keys []string) (writers.UpsertResult, error) {
	inits, err := d.Initiatives.ListByKeys(ctx, keys)
	if err != nil {
		return writers.UpsertResult{}, err
	}
	up := &writers.Upserter{
		Grid:          d.Grid,
		SpreadsheetID: d.Profile.ProductOpsSheetID,
		Tab:           d.Profile.KPIContributionsTab,
		Aliases:       kpiWriteAliases,
		KeyField:      "initiative_key",
	}
	records := make([]writers.Record, 0, len(inits))
	for _, init := range inits {
		records = append(records, kpiRecord(init))
	}
	return up.Upsert(ctx, records, sheetval.NewStamp(syncsvc.SourceWriteKPI, time.Now()))
}

func scopeKeys(p *Payload) []string {
	return p.Scope.InitiativeKeys
}

func commitEvery(d *Deps, p *Payload) int {
	if p.Options.CommitEvery > 0 {
		return p.Options.CommitEvery
	}
	return d.Cfg.CommitEvery
}

// runScoreSelected syncs scoring inputs from the sheet, recomputes all
// frameworks for the selected initiatives, and writes the results back
// to Scoring_Inputs and KPI_Contributions.
func runScoreSelected(ctx context.Context, d *Deps, p *Payload) (map[string]any, error) {
	keys := scopeKeys(p)
	if len(keys) == 0 {
		return map[string]any{"selected_count": 0}, nil
	}

	var substeps []map[string]any
	var warnings []string

	if d.Profile.ProductOpsSheetID != "" {
		s := &syncsvc.ScoringInputsSync{
			Grid: d.Grid, SpreadsheetID: d.Profile.ProductOpsSheetID,
			Tab: d.Profile.ScoringInputsTab,
			Initiatives: d.Initiatives, Params: d.Params, Log: d.Log,
		}
		out, err := s.Sync(ctx)
		if err != nil {
			return map[string]any{"selected_count": len(keys), "substeps": substeps}, err
		}
		s.WriteStatuses(ctx, out)
		warnings = append(warnings, out.Warnings...)
		substeps = append(substeps, substep("sync_inputs", stepStatus(out.Failures), out.Upserts))
	}

	sum, err := d.Scoring.ComputeForInitiatives(ctx, keys, commitEvery(d, p))
	if err != nil {
		return map[string]any{"selected_count": len(keys), "substeps": substeps}, err
	}
	warnings = append(warnings, sum.Warnings...)
	substeps = append(substeps, substep("compute_all_frameworks", stepStatus(sum.Failed), sum.Scored))

	if d.Profile.ProductOpsSheetID != "" {
		res, err := writeScores(ctx, d, keys)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("score writeback: %v", err))
			substeps = append(substeps, substep("write_scores", "failed", 0))
		} else {
			substeps = append(substeps, substep("write_scores", "ok", res.Updated+res.Appended))
		}
		res, err = writeKPIContributions(ctx, d, keys)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("kpi writeback: %v", err))
			substeps = append(substeps, substep("write_kpi_contributions", "failed", 0))
		} else {
			substeps = append(substeps, substep("write_kpi_contributions", "ok", res.Updated+res.Appended))
		}
	}

	result := map[string]any{
		"selected_count": len(keys),
		"saved_count":    sum.Scored,
		"failed_count":   sum.Failed,
		"substeps":       substeps,
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return result, nil
}

// runSwitchFramework copies each initiative's per-framework scores into
// the active columns. Options.framework overrides the stored choice.
func runSwitchFramework(ctx context.Context, d *Deps, p *Payload) (map[string]any, error) {
	keys := scopeKeys(p)
	if len(keys) == 0 {
		return map[string]any{"selected_count": 0}, nil
	}

	var warnings []string
	activated, failed := 0, 0
	for _, key := range keys {
		init, err := d.Initiatives.GetByKey(ctx, key)
		if err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		f := init.ActiveScoringFramework
		if p.Options.Framework != "" {
			f = model.Framework(p.Options.Framework)
		}
		if err := d.Scoring.ActivateFramework(ctx, init, f); err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		activated++
	}

	if d.Profile.BacklogSheetID != "" && activated > 0 {
		inits, err := d.Initiatives.ListByKeys(ctx, keys)
		if err == nil {
			if _, werr := writeBacklogProjection(ctx, d, inits); werr != nil {
				warnings = append(warnings, fmt.Sprintf("backlog writeback: %v", werr))
			}
		}
	}

	result := map[string]any{
		"selected_count": len(keys),
		"saved_count":    activated,
		"failed_count":   failed,
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return result, nil
}

func maxLLMCalls(d *Deps, p *Payload) int {
	if p.Options.MaxLLMCalls > 0 {
		return p.Options.MaxLLMCalls
	}
	return d.Cfg.MaxLLMCalls
}

// hasFormula reports whether any existing model already carries a
// formula; such initiatives are skipped rather than re-suggested.
func hasFormula(models []*model.InitiativeMathModel) bool {
	for _, m := range models {
		if m.FormulaText != "" {
			return true
		}
	}
	return false
}

// runSuggestMathModel asks the LLM for one model proposal per selected
// initiative. User-approved rows are never overwritten and existing
// formulas stop a new suggestion entirely.
func runSuggestMathModel(ctx context.Context, d *Deps, p *Payload) (map[string]any, error) {
	keys := scopeKeys(p)
	if len(keys) == 0 {
		return map[string]any{"selected_count": 0}, nil
	}
	if d.LLM == nil {
		return nil, errors.New("no LLM client configured")
	}

	active, err := d.Metrics.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	registry := make([]*model.OrganizationMetricConfig, 0, len(active))
	for _, m := range active {
		registry = append(registry, m)
	}
	sort.Slice(registry, func(i, j int) bool { return registry[i].KPIKey < registry[j].KPIKey })

	budget := maxLLMCalls(d, p)
	var warnings []string
	suggested, skipped, failed, calls := 0, 0, 0, 0

	for _, key := range keys {
		init, err := d.Initiatives.GetByKey(ctx, key)
		if err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		existing, err := d.Models.ListByInitiative(ctx, key)
		if err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		if hasFormula(existing) {
			skipped++
			continue
		}
		if calls >= budget {
			warnings = append(warnings, fmt.Sprintf("llm call budget %d exhausted, %s and later keys skipped", budget, key))
			skipped += remainingAfter(keys, key)
			break
		}
		calls++
		sug, err := llm.SuggestMathModel(ctx, d.LLM, init, registry)
		if err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		if err := saveSuggestion(ctx, d, init, existing, sug); err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		suggested++
	}

	result := map[string]any{
		"selected_count": len(keys),
		"saved_count":    suggested,
		"skipped_count":  skipped,
		"failed_count":   failed,
		"llm_calls":      calls,
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return result, nil
}

func remainingAfter(keys []string, from string) int {
	for i, k := range keys {
		if k == from {
			return len(keys) - i
		}
	}
	return 0
}

// saveSuggestion persists one proposal. An existing row with the same
// name is only replaced when it is itself an unapproved LLM row.
func saveSuggestion(ctx context.Context, d *Deps, init *model.Initiative, existing []*model.InitiativeMathModel, sug *llm.ModelSuggestion) error {
	for _, m := range existing {
		if m.ModelName != sug.ModelName {
			continue
		}
		if m.ApprovedByUser || !m.SuggestedByLLM {
			return fmt.Errorf("model %q already exists and is user-owned", sug.ModelName)
		}
	}
	now := time.Now()
	m := &model.InitiativeMathModel{
		InitiativeKey:  init.InitiativeKey,
		ModelName:      sug.ModelName,
		TargetKPIKey:   sug.TargetKPIKey,
		MetricChain:    sug.MetricChain,
		FormulaText:    sug.FormulaText,
		AssumptionsTxt: sug.Assumptions,
		IsPrimary:      len(existing) == 0,
		SuggestedByLLM: true,
		UpdatedSource:  ActionSuggestMathModel,
		UpdatedAt:      now,
	}
	if err := d.Models.Upsert(ctx, m); err != nil {
		return err
	}
	for _, ps := range sug.Params {
		if ps.Name == "" {
			continue
		}
		if _, err := d.Params.Get(ctx, init.InitiativeKey, model.FrameworkMathModel, ps.Name, sug.ModelName); err == nil {
			continue // PM already owns this row
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		param := &model.InitiativeParam{
			InitiativeKey: init.InitiativeKey,
			Framework:     model.FrameworkMathModel,
			ParamName:     ps.Name,
			ModelName:     sug.ModelName,
			Value:         ps.Value,
			Description:   ps.Description,
			Unit:          ps.Unit,
			Source:        "llm",
			IsAutoSeeded:  true,
			UpdatedSource: ActionSuggestMathModel,
			UpdatedAt:     now,
		}
		if err := d.Params.Upsert(ctx, param); err != nil {
			return err
		}
	}
	return nil
}

// runSeedMathParams creates missing parameter rows for every free
// identifier referenced by approved model formulas. Existing rows are
// left alone.
func runSeedMathParams(ctx context.Context, d *Deps, p *Payload) (map[string]any, error) {
	keys := scopeKeys(p)
	if len(keys) == 0 {
		return map[string]any{"selected_count": 0}, nil
	}

	var warnings []string
	seeded, failed := 0, 0
	now := time.Now()

	for _, key := range keys {
		models, err := d.Models.ListByInitiative(ctx, key)
		if err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		for _, m := range models {
			if m.FormulaText == "" {
				continue
			}
			names, err := formula.ExtractIdentifiers(m.FormulaText)
			if err != nil {
				failed++
				warnings = append(warnings, fmt.Sprintf("%s/%s: %v", key, m.ModelName, err))
				continue
			}
			for _, name := range names {
				_, err := d.Params.Get(ctx, key, model.FrameworkMathModel, name, m.ModelName)
				if err == nil {
					continue
				}
				if !errors.Is(err, store.ErrNotFound) {
					failed++
					warnings = append(warnings, fmt.Sprintf("%s/%s: %v", key, name, err))
					continue
				}
				param := &model.InitiativeParam{
					InitiativeKey: key,
					Framework:     model.FrameworkMathModel,
					ParamName:     name,
					ModelName:     m.ModelName,
					Source:        "auto_seed",
					IsAutoSeeded:  true,
					UpdatedSource: ActionSeedMathParams,
					UpdatedAt:     now,
				}
				if err := d.Params.Upsert(ctx, param); err != nil {
					failed++
					warnings = append(warnings, fmt.Sprintf("%s/%s: %v", key, name, err))
					continue
				}
				seeded++
			}
		}
	}

	result := map[string]any{
		"selected_count": len(keys),
		"saved_count":    seeded,
		"failed_count":   failed,
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return result, nil
}
