package actions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/optimize"
	"github.com/roadmapintel/roadmapd/pkg/readers"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
	"github.com/roadmapintel/roadmapd/pkg/store"
	"github.com/roadmapintel/roadmapd/pkg/writers"
)

const defaultConstraintSet = "default"

var runsAliases = header.AliasMap{
	"run_id":              {"run"},
	"scenario_name":       {"scenario"},
	"constraint_set_name": {"set", "set name"},
	"status":              {},
	"solver":              {"solver name"},
	"total_objective":     {"objective"},
	"selected_count":      {"selected"},
	"finished_at":         {"finished"},
}

var resultsAliases = header.AliasMap{
	"run_id":           {"run"},
	"initiative_key":   {"key"},
	"selected":         {"in portfolio"},
	"allocated_tokens": {"tokens"},
	"overall_score":    {"score"},
}

var gapsAliases = header.AliasMap{
	"run_id":        {"run"},
	"dimension":     {},
	"dimension_key": {"dim key", "slice"},
	"kpi_key":       {"kpi", "metric"},
	"target_value":  {"target"},
	"attained":      {"attained value", "achieved"},
	"gap":           {"shortfall"},
}

// syncOptCenter refreshes scenarios and compiled constraint sets from
// the Optimization Center tabs. Compile findings come back as warnings;
// nothing here is fatal to the run.
func syncOptCenter(ctx context.Context, d *Deps) ([]string, error) {
	var warnings []string

	scenarios, err := readers.ReadScenarios(ctx, d.Grid, d.Profile.OptimizationSheetID, d.Profile.ScenarioConfigTab)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	now := time.Now()
	for _, row := range scenarios {
		if row.Name == "" {
			continue
		}
		if !row.WeightsValid {
			warnings = append(warnings, fmt.Sprintf("scenario %s row %d: malformed objective weights JSON", row.Name, row.RowNumber))
			continue
		}
		var capacity int64
		if row.CapacityTotalTokens != nil {
			capacity = int64(math.Round(*row.CapacityTotalTokens))
		}
		sc := &model.OptimizationScenario{
			Name:                row.Name,
			PeriodKey:           row.PeriodKey,
			CapacityTotalTokens: capacity,
			ObjectiveMode:       row.ObjectiveMode,
			ObjectiveWeights:    row.ObjectiveWeights,
			Notes:               row.Notes,
			UpdatedSource:       ActionOptimizeAll,
			UpdatedAt:           now,
		}
		if err := d.Scenarios.UpsertScenario(ctx, sc); err != nil {
			warnings = append(warnings, fmt.Sprintf("scenario %s: %v", row.Name, err))
		}
	}

	constraints, err := readers.ReadConstraints(ctx, d.Grid, d.Profile.OptimizationSheetID, d.Profile.ConstraintsTab)
	if err != nil {
		return warnings, fmt.Errorf("read constraints: %w", err)
	}
	targets, err := readers.ReadTargets(ctx, d.Grid, d.Profile.OptimizationSheetID, d.Profile.TargetsTab)
	if err != nil {
		return warnings, fmt.Errorf("read targets: %w", err)
	}
	active, err := d.Metrics.ListActive(ctx)
	if err != nil {
		return warnings, err
	}
	validKPIs := make(map[string]bool, len(active))
	for key := range active {
		validKPIs[key] = true
	}

	sets, msgs := optimize.Compile(constraints, targets, validKPIs)
	for _, m := range msgs {
		warnings = append(warnings, fmt.Sprintf("constraints row %d: %s", m.RowNumber, m.Text))
	}
	for key, cs := range sets {
		if _, err := d.Scenarios.SaveConstraintSet(ctx, key.ScenarioName, key.SetName, cs, ActionOptimizeAll); err != nil {
			warnings = append(warnings, fmt.Sprintf("save constraint set %s/%s: %v", key.ScenarioName, key.SetName, err))
		}
	}
	return warnings, nil
}

// tokenMismatchWarnings compares DB engineering tokens against the
// Candidates tab. The DB is authoritative; the tab is a projection and
// drift is only reported, never written back.
func tokenMismatchWarnings(ctx context.Context, d *Deps, candidates []*model.Initiative) []string {
	rows, err := readers.ReadCandidates(ctx, d.Grid, d.Profile.OptimizationSheetID, d.Profile.CandidatesTab)
	if err != nil {
		return []string{fmt.Sprintf("candidates tab unreadable: %v", err)}
	}
	sheetTokens := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.InitiativeKey != "" && r.EngineeringTokens != nil {
			sheetTokens[r.InitiativeKey] = *r.EngineeringTokens
		}
	}
	var warnings []string
	for _, init := range candidates {
		sheet, ok := sheetTokens[init.InitiativeKey]
		if !ok || init.EngineeringTokens == nil {
			continue
		}
		if int64(math.Round(sheet)) != *init.EngineeringTokens {
			warnings = append(warnings, fmt.Sprintf("%s: sheet shows %g tokens, database has %d",
				init.InitiativeKey, sheet, *init.EngineeringTokens))
		}
	}
	return warnings
}

func runOptimizeSelected(ctx context.Context, d *Deps, p *Payload) (map[string]any, error) {
	if len(p.Scope.InitiativeKeys) == 0 {
		return map[string]any{"selected_count": 0}, nil
	}
	return runOptimization(ctx, d, p, p.Scope.InitiativeKeys)
}

func runOptimizeAll(ctx context.Context, d *Deps, p *Payload) (map[string]any, error) {
	return runOptimization(ctx, d, p, nil)
}

// runOptimization is the shared optimization pipeline: sync the
// Optimization Center, build the problem, gate on feasibility, solve,
// persist the run and portfolio, publish result rows.
func runOptimization(ctx context.Context, d *Deps, p *Payload, selectedKeys []string) (map[string]any, error) {
	scenarioName := p.Scope.ScenarioName
	if scenarioName == "" {
		return nil, errors.New("scope.scenario_name is required")
	}

	var substeps []map[string]any
	var warnings []string

	if d.Profile.OptimizationSheetID != "" {
		ws, err := syncOptCenter(ctx, d)
		warnings = append(warnings, ws...)
		if err != nil {
			return resultWithWarnings(map[string]any{"substeps": substeps}, warnings), err
		}
		substeps = append(substeps, substep("compile_constraints", "ok", 0))
	}

	scenario, err := d.Scenarios.GetScenario(ctx, scenarioName)
	if err != nil {
		return resultWithWarnings(nil, warnings), fmt.Errorf("scenario %q: %w", scenarioName, err)
	}

	setName := p.Options.ConstraintSetName
	if setName == "" {
		setName = defaultConstraintSet
	}
	csID, cs, err := d.Scenarios.GetConstraintSet(ctx, scenarioName, setName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return resultWithWarnings(nil, warnings), err
		}
		warnings = append(warnings, fmt.Sprintf("no constraint set %q for scenario %s, solving unconstrained", setName, scenarioName))
	}

	candidates, err := d.Initiatives.ListCandidates(ctx, scenario.PeriodKey)
	if err != nil {
		return resultWithWarnings(nil, warnings), err
	}
	if d.Profile.OptimizationSheetID != "" {
		warnings = append(warnings, tokenMismatchWarnings(ctx, d, candidates)...)
	}

	active, err := d.Metrics.ListActive(ctx)
	if err != nil {
		return resultWithWarnings(nil, warnings), err
	}
	northStar := ""
	if ns, err := d.Metrics.ActiveNorthStar(ctx); err == nil {
		northStar = ns.KPIKey
	} else if !errors.Is(err, store.ErrNotFound) {
		return resultWithWarnings(nil, warnings), err
	}

	problem, buildWarnings, err := optimize.BuildProblem(optimize.BuildInputs{
		Scenario:     scenario,
		Constraints:  cs,
		Candidates:   candidates,
		ActiveKPIs:   active,
		NorthStarKey: northStar,
		SelectedKeys: selectedKeys,
	})
	warnings = append(warnings, buildWarnings...)
	if err != nil {
		return resultWithWarnings(nil, warnings), err
	}
	substeps = append(substeps, substep("build_problem", "ok", len(problem.Candidates)))

	snapshot, sha, err := problem.Snapshot()
	if err != nil {
		return resultWithWarnings(nil, warnings), err
	}

	now := time.Now()
	run := &model.OptimizationRun{
		RunID:             NewRunID(now),
		ScenarioID:        scenario.ID,
		ConstraintSetID:   csID,
		Status:            model.RunStatusRunning,
		StartedAt:         &now,
		InputsSnapshot:    snapshot,
		InputsSnapshotSHA: sha,
		SolverName:        d.Solver.Name(),
		SolverVersion:     d.Solver.Version(),
	}

	report := optimize.CheckFeasibility(problem)
	substeps = append(substeps, substep("feasibility", report.Status, len(report.Issues)))
	for _, issue := range report.Issues {
		warnings = append(warnings, fmt.Sprintf("feasibility %s: %s", issue.Severity, issue.Message))
	}
	if report.Status == optimize.FeasibilityError {
		run.Status = model.RunStatusFailed
		run.FinishedAt = &now
		run.Result = marshalResult(map[string]any{"feasibility": report})
		if err := d.OptRuns.Create(ctx, run); err != nil {
			return resultWithWarnings(nil, warnings), err
		}
		result := resultWithWarnings(map[string]any{
			"run_id":      run.RunID,
			"feasibility": report,
			"substeps":    substeps,
		}, warnings)
		return result, errors.New("problem is infeasible before solving")
	}

	if err := d.OptRuns.Create(ctx, run); err != nil {
		return resultWithWarnings(nil, warnings), err
	}

	var sol *optimize.Solution
	if problem.Objective.Mode == model.ObjectiveLexicographic {
		sol, err = optimize.SolveLexicographic(ctx, d.Solver, problem)
	} else {
		sol, err = d.Solver.Solve(ctx, problem)
	}
	finished := time.Now()
	if err != nil {
		_ = d.OptRuns.Finish(ctx, run.RunID, model.RunStatusFailed, marshalResult(map[string]any{
			"error": err.Error(), "feasibility": report,
		}), finished)
		return resultWithWarnings(map[string]any{"run_id": run.RunID, "substeps": substeps}, warnings), err
	}
	substeps = append(substeps, substep("solve", sol.Status, len(sol.SelectedKeys())))

	runStatus := model.RunStatusSucceeded
	if sol.Status == optimize.StatusInfeasible || sol.Status == optimize.StatusError {
		runStatus = model.RunStatusFailed
	}
	resultJSON := marshalResult(map[string]any{
		"solution":    sol,
		"feasibility": report,
	})
	if err := d.OptRuns.Finish(ctx, run.RunID, runStatus, resultJSON, finished); err != nil {
		return resultWithWarnings(nil, warnings), err
	}

	if runStatus == model.RunStatusSucceeded {
		portfolio := &model.Portfolio{RunID: run.RunID, CreatedAt: finished}
		for _, item := range sol.Items {
			portfolio.Items = append(portfolio.Items, model.PortfolioItem{
				InitiativeKey:   item.InitiativeKey,
				Selected:        item.Selected,
				AllocatedTokens: item.AllocatedTokens,
			})
		}
		if err := d.OptRuns.SavePortfolio(ctx, portfolio); err != nil {
			return resultWithWarnings(map[string]any{"run_id": run.RunID, "substeps": substeps}, warnings), err
		}
	}

	if d.Profile.OptimizationSheetID != "" {
		if err := publishRun(ctx, d, scenario, setName, run, sol, problem, finished); err != nil {
			warnings = append(warnings, fmt.Sprintf("run publish: %v", err))
			substeps = append(substeps, substep("publish", "failed", 0))
		} else {
			substeps = append(substeps, substep("publish", "ok", len(sol.Items)))
		}
	}

	result := resultWithWarnings(map[string]any{
		"run_id":          run.RunID,
		"status":          sol.Status,
		"selected_count":  len(problem.Candidates),
		"saved_count":     len(sol.SelectedKeys()),
		"total_objective": sol.TotalObjective,
		"substeps":        substeps,
	}, warnings)
	if runStatus == model.RunStatusFailed {
		return result, fmt.Errorf("solver finished with status %s", sol.Status)
	}
	return result, nil
}

func resultWithWarnings(result map[string]any, warnings []string) map[string]any {
	if result == nil {
		result = map[string]any{}
	}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	return result
}

// publishRun appends the run summary, per-candidate results, and target
// gaps to the Optimization Center. Rows are append-only; earlier runs
// stay on the sheet.
func publishRun(ctx context.Context, d *Deps, scenario *model.OptimizationScenario, setName string, run *model.OptimizationRun, sol *optimize.Solution, problem *optimize.Problem, finished time.Time) error {
	appender := func(tab string, aliases header.AliasMap) *writers.Appender {
		return &writers.Appender{
			Grid: d.Grid, SpreadsheetID: d.Profile.OptimizationSheetID, Tab: tab,
			Aliases: aliases, KeyField: "run_id",
			HeaderRow: 1, StartDataRow: 4,
		}
	}

	runRow := map[string]any{
		"run_id":              run.RunID,
		"scenario_name":       scenario.Name,
		"constraint_set_name": setName,
		"status":              sol.Status,
		"solver":              fmt.Sprintf("%s/%s", run.SolverName, run.SolverVersion),
		"total_objective":     float64(sol.TotalObjective) / float64(optimize.KPIScale),
		"selected_count":      int64(len(sol.SelectedKeys())),
		"finished_at":         finished,
	}
	if _, err := appender(d.Profile.RunsTab, runsAliases).Append(ctx, []map[string]any{runRow}); err != nil {
		return err
	}

	resultRows := make([]map[string]any, 0, len(sol.Items))
	for _, item := range sol.Items {
		row := map[string]any{
			"run_id":           run.RunID,
			"initiative_key":   item.InitiativeKey,
			"selected":         item.Selected,
			"allocated_tokens": item.AllocatedTokens,
		}
		if c, ok := problem.CandidateByKey(item.InitiativeKey); ok {
			row["overall_score"] = c.ActiveOverallScore
		}
		resultRows = append(resultRows, row)
	}
	if _, err := appender(d.Profile.ResultsTab, resultsAliases).Append(ctx, resultRows); err != nil {
		return err
	}

	gapRows := gapRowsFor(run.RunID, problem, sol)
	if len(gapRows) == 0 {
		return nil
	}
	_, err := appender(d.Profile.GapsTab, gapsAliases).Append(ctx, gapRows)
	return err
}

// gapRowsFor reports, per target, how far the final selection falls
// short. Met targets are skipped.
func gapRowsFor(runID string, problem *optimize.Problem, sol *optimize.Solution) []map[string]any {
	cs := problem.Constraints
	if cs == nil || len(cs.Targets) == 0 {
		return nil
	}
	selected := map[string]bool{}
	for _, key := range sol.SelectedKeys() {
		selected[key] = true
	}

	var rows []map[string]any
	dims := make([]string, 0, len(cs.Targets))
	for dim := range cs.Targets {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		keys := make([]string, 0, len(cs.Targets[dim]))
		for k := range cs.Targets[dim] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, dimKey := range keys {
			kpis := make([]string, 0, len(cs.Targets[dim][dimKey]))
			for k := range cs.Targets[dim][dimKey] {
				kpis = append(kpis, k)
			}
			sort.Strings(kpis)
			for _, kpi := range kpis {
				spec := cs.Targets[dim][dimKey][kpi]
				attained := 0.0
				for _, c := range problem.Candidates {
					if !selected[c.InitiativeKey] {
						continue
					}
					if dim != optimize.UnscopedDimension && c.Dimensions[dim] != dimKey {
						continue
					}
					attained += c.KPIContributions[kpi]
				}
				if attained >= spec.Value {
					continue
				}
				rows = append(rows, map[string]any{
					"run_id":        runID,
					"dimension":     dim,
					"dimension_key": dimKey,
					"kpi_key":       kpi,
					"target_value":  spec.Value,
					"attained":      attained,
					"gap":           spec.Value - attained,
				})
			}
		}
	}
	return rows
}

// runPopulateCandidates refreshes the Candidates tab from the DB. Only
// projection columns are written; the candidacy checkbox stays
// PM-owned.
func runPopulateCandidates(ctx context.Context, d *Deps, p *Payload) (map[string]any, error) {
	if d.Profile.OptimizationSheetID == "" {
		return nil, errors.New("no optimization sheet configured")
	}
	periodKey := ""
	if p.Scope.ScenarioName != "" {
		scenario, err := d.Scenarios.GetScenario(ctx, p.Scope.ScenarioName)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", p.Scope.ScenarioName, err)
		}
		periodKey = scenario.PeriodKey
	}

	var inits []*model.Initiative
	var err error
	if periodKey != "" {
		inits, err = d.Initiatives.ListCandidates(ctx, periodKey)
	} else {
		var all []*model.Initiative
		all, err = d.Initiatives.ListAll(ctx)
		for _, init := range all {
			if init.IsOptimizationCandidate {
				inits = append(inits, init)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	up := &writers.Upserter{
		Grid:          d.Grid,
		SpreadsheetID: d.Profile.OptimizationSheetID,
		Tab:           d.Profile.CandidatesTab,
		Aliases:       candidateWriteAliases,
		KeyField:      "initiative_key",
		HeaderRow:     1,
		StartDataRow:  4,
	}
	records := make([]writers.Record, 0, len(inits))
	for _, init := range inits {
		records = append(records, writers.Record{
			Key: init.InitiativeKey,
			Fields: map[string]any{
				"title":                 init.Title,
				"candidate_period_key":  init.CandidatePeriodKey,
				"engineering_tokens":    init.EngineeringTokens,
				"overall_score":         init.OverallScore,
				"kpi_contribution_json": init.KPIContribution,
				"deadline_date":         optDate(init.DeadlineDate),
			},
		})
	}
	res, err := up.Upsert(ctx, records, sheetval.NewStamp(ActionPopulateCandidate, time.Now()))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"selected_count": len(records),
		"saved_count":    res.Updated + res.Appended,
	}, nil
}

var candidateWriteAliases = header.AliasMap{
	"initiative_key":        {"key"},
	"title":                 {"initiative title", "name"},
	"candidate_period_key":  {"period"},
	"engineering_tokens":    {"tokens", "eng tokens"},
	"overall_score":         {"active score", "score"},
	"kpi_contribution_json": {"kpi contributions"},
	"deadline_date":         {"deadline"},
}
