package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/config"
	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/readers"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
	"github.com/roadmapintel/roadmapd/pkg/syncsvc"
	"github.com/roadmapintel/roadmapd/pkg/writers"
)

// backlogWriteAliases covers the full initiative projection written to
// the central backlog. It extends the read-side aliases with the
// DB-owned display columns.
var backlogWriteAliases = func() header.AliasMap {
	m := header.AliasMap{
		"title":                   {"initiative title", "name"},
		"requesting_team":         {"team"},
		"country":                 {"market"},
		"product_area":            {"area"},
		"deadline_date":           {"deadline"},
		"risk_level":              {"risk"},
		"is_mandatory":            {"mandatory"},
		"value_score":             {"active value"},
		"effort_score":            {"active effort"},
		"overall_score":           {"active score", "score"},
		"rice_overall_score":      {"rice score"},
		"wsjf_overall_score":      {"wsjf score"},
		"math_overall_score":      {"math score"},
		"kpi_contribution_json":   {"kpi contributions"},
		"kpi_contribution_source": {"kpi source"},
	}
	for k, v := range readers.BacklogAliases {
		m[k] = v
	}
	return m
}()

func optDate(t *time.Time) any {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func backlogRecord(init *model.Initiative) writers.Record {
	return writers.Record{
		Key: init.InitiativeKey,
		Fields: map[string]any{
			"title":                          init.Title,
			"requesting_team":                init.RequestingTeam,
			"country":                        init.Country,
			"product_area":                   init.ProductArea,
			"status":                         string(init.Status),
			"deadline_date":                  optDate(init.DeadlineDate),
			"impact_expected":                init.ImpactExpected,
			"effort_eng_days":                init.EffortEngDays,
			"risk_level":                     init.RiskLevel,
			"is_mandatory":                   init.IsMandatory,
			"active_scoring_framework":       string(init.ActiveScoringFramework),
			"use_math_model":                 init.UseMathModel,
			"value_score":                    init.ValueScore,
			"effort_score":                   init.EffortScore,
			"overall_score":                  init.OverallScore,
			"rice_overall_score":             init.RiceOverallScore,
			"wsjf_overall_score":             init.WsjfOverallScore,
			"math_overall_score":             init.MathOverallScore,
			"kpi_contribution_json":          init.KPIContribution,
			"kpi_contribution_source":        init.KPIContributionSource,
			"strategic_priority_coefficient": init.StrategicPriorityCoefficient,
			"linked_objectives":              init.LinkedObjectives,
			"llm_notes":                      init.LLMNotes,
			"dependencies_text":              init.DependenciesText,
			"is_optimization_candidate":      init.IsOptimizationCandidate,
			"candidate_period_key":           init.CandidatePeriodKey,
			"engineering_tokens":             init.EngineeringTokens,
		},
	}
}

// writeBacklogProjection regenerates the central backlog from the DB.
func writeBacklogProjection(ctx context.Context, d *Deps, inits []*model.Initiative) (writers.UpsertResult, error) {
	up := &writers.Upserter{
		Grid:          d.Grid,
		SpreadsheetID: d.Profile.BacklogSheetID,
		Tab:           d.Profile.BacklogTab,
		Aliases:       backlogWriteAliases,
		KeyField:      "initiative_key",
	}
	records := make([]writers.Record, 0, len(inits))
	for _, init := range inits {
		records = append(records, backlogRecord(init))
	}
	stamp := sheetval.NewStamp(syncsvc.SourceBacklogSheetWrite, time.Now())
	res, err := up.Upsert(ctx, records, stamp)
	if err != nil {
		return res, err
	}
	if err := writers.ProtectSystemColumns(ctx, d.Grid, d.Profile.BacklogSheetID, d.Profile.BacklogTab, backlogWriteAliases); err != nil {
		d.logger().Warn("backlog protections not applied", "error", err)
	}
	return res, nil
}

// runBacklogSync runs the full intake → DB → central backlog cycle.
// One intake tab failing does not abort its siblings.
func runBacklogSync(ctx context.Context, d *Deps, _ *Payload) (map[string]any, error) {
	var substeps []map[string]any
	var warnings []string
	saved, failed, skippedNoKey := 0, 0, 0

	for _, sheet := range d.Profile.IntakeSheets {
		s := &syncsvc.IntakeSync{
			Grid: d.Grid, SpreadsheetID: sheet.SpreadsheetID, Tab: sheet.Tab,
			Initiatives: d.Initiatives, Log: d.Log,
		}
		out, backfills, err := s.Sync(ctx)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("intake %s: %v", sheet.Tab, err))
			substeps = append(substeps, substep("intake_sync:"+sheet.Tab, "failed", 0))
			continue
		}
		if err := s.FlushBackfills(ctx, backfills); err != nil {
			warnings = append(warnings, fmt.Sprintf("intake %s key backfill: %v", sheet.Tab, err))
		}
		s.WriteStatuses(ctx, out)
		saved += out.Upserts
		failed += out.Failures
		warnings = append(warnings, out.Warnings...)
		substeps = append(substeps, substep("intake_sync:"+sheet.Tab, stepStatus(out.Failures), out.Upserts))
	}

	if d.Profile.BacklogSheetID != "" {
		s := &syncsvc.BacklogSync{
			Grid: d.Grid, SpreadsheetID: d.Profile.BacklogSheetID, Tab: d.Profile.BacklogTab,
			Initiatives: d.Initiatives, Log: d.Log,
		}
		out, err := s.Sync(ctx)
		if err != nil {
			return resultMap(saved, failed, skippedNoKey, substeps, warnings), err
		}
		s.WriteStatuses(ctx, out)
		saved += out.Upserts
		failed += out.Failures
		skippedNoKey += out.SkippedNoKey
		warnings = append(warnings, out.Warnings...)
		substeps = append(substeps, substep("backlog_update", stepStatus(out.Failures), out.Upserts))

		inits, err := d.Initiatives.ListAll(ctx)
		if err != nil {
			return resultMap(saved, failed, skippedNoKey, substeps, warnings), err
		}
		res, err := writeBacklogProjection(ctx, d, inits)
		if err != nil {
			return resultMap(saved, failed, skippedNoKey, substeps, warnings), err
		}
		substeps = append(substeps, substep("backlog_sheet_write", "ok", res.Updated+res.Appended))
	}

	return resultMap(saved, failed, skippedNoKey, substeps, warnings), nil
}

func resultMap(saved, failed, skippedNoKey int, substeps []map[string]any, warnings []string) map[string]any {
	out := map[string]any{
		"saved_count":    saved,
		"failed_count":   failed,
		"skipped_no_key": skippedNoKey,
		"substeps":       substeps,
	}
	if len(warnings) > 0 {
		out["warnings"] = warnings
	}
	return out
}

// runSaveSelected dispatches the originating tab to its sync service.
func runSaveSelected(ctx context.Context, d *Deps, p *Payload) (map[string]any, error) {
	tab := p.SheetContext.Tab
	if tab == "" {
		return nil, fmt.Errorf("save_selected requires sheet_context.tab")
	}

	var out *syncsvc.Outcome
	var err error
	switch tab {
	case d.Profile.BacklogTab:
		s := &syncsvc.BacklogSync{Grid: d.Grid, SpreadsheetID: sheetID(p, d.Profile.BacklogSheetID),
			Tab: tab, Initiatives: d.Initiatives, Log: d.Log}
		out, err = s.Sync(ctx)
		if out != nil {
			s.WriteStatuses(ctx, out)
		}
	case d.Profile.ScoringInputsTab:
		s := &syncsvc.ScoringInputsSync{Grid: d.Grid, SpreadsheetID: sheetID(p, d.Profile.ProductOpsSheetID),
			Tab: tab, Initiatives: d.Initiatives, Params: d.Params, Log: d.Log}
		out, err = s.Sync(ctx)
		if out != nil {
			s.WriteStatuses(ctx, out)
		}
	case d.Profile.MathModelsTab:
		s := &syncsvc.MathModelsSync{Grid: d.Grid, SpreadsheetID: sheetID(p, d.Profile.ProductOpsSheetID),
			Tab: tab, Initiatives: d.Initiatives, Models: d.Models, Log: d.Log}
		out, err = s.Sync(ctx)
		if out != nil {
			s.WriteStatuses(ctx, out)
		}
	case d.Profile.ParamsTab:
		s := &syncsvc.ParamsSync{Grid: d.Grid, SpreadsheetID: sheetID(p, d.Profile.ProductOpsSheetID),
			Tab: tab, Initiatives: d.Initiatives, Params: d.Params, Log: d.Log}
		out, err = s.Sync(ctx)
		if out != nil {
			s.WriteStatuses(ctx, out)
		}
	case d.Profile.MetricsConfigTab:
		s := &syncsvc.MetricsConfigSync{Grid: d.Grid, SpreadsheetID: sheetID(p, d.Profile.ProductOpsSheetID),
			Tab: tab, Metrics: d.Metrics, Log: d.Log}
		out, err = s.Sync(ctx)
		if out != nil {
			s.WriteStatuses(ctx, out)
		}
	case d.Profile.KPIContributionsTab:
		s := &syncsvc.KPIContributionsSync{Grid: d.Grid, SpreadsheetID: sheetID(p, d.Profile.ProductOpsSheetID),
			Tab: tab, Initiatives: d.Initiatives, Metrics: d.Metrics, Log: d.Log}
		out, err = s.Sync(ctx)
		if out != nil {
			s.WriteStatuses(ctx, out)
		}
	default:
		if sheet, ok := intakeSheetFor(d, tab); ok {
			s := &syncsvc.IntakeSync{Grid: d.Grid, SpreadsheetID: sheet.SpreadsheetID, Tab: tab,
				Initiatives: d.Initiatives, Log: d.Log}
			var backfills []syncsvc.KeyBackfill
			out, backfills, err = s.Sync(ctx)
			if err == nil {
				if berr := s.FlushBackfills(ctx, backfills); berr != nil {
					out.Warnings = append(out.Warnings, fmt.Sprintf("key backfill: %v", berr))
				}
				s.WriteStatuses(ctx, out)
			}
			break
		}
		return nil, fmt.Errorf("no sync service for tab %q", tab)
	}

	if out == nil {
		return nil, err
	}
	result := resultMap(out.Upserts, out.Failures, out.SkippedNoKey, nil, out.Warnings)
	result["unlocked_count"] = out.Unlocked
	result["skipped_count"] = out.Skipped
	return result, err
}

func sheetID(p *Payload, fallback string) string {
	if p.SheetContext.SpreadsheetID != "" {
		return p.SheetContext.SpreadsheetID
	}
	return fallback
}

func intakeSheetFor(d *Deps, tab string) (config.IntakeSheet, bool) {
	for _, s := range d.Profile.IntakeSheets {
		if s.Tab == tab {
			return s, true
		}
	}
	return config.IntakeSheet{}, false
}
