// Package actions holds the action registry, the runner that drives
// the ledger state machine, and the worker loop. Handlers implement
// the pm.* jobs by composing the sync services, the scoring service,
// and the optimization pipeline; none of them run on the API request
// path.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roadmapintel/roadmapd/pkg/config"
	"github.com/roadmapintel/roadmapd/pkg/llm"
	"github.com/roadmapintel/roadmapd/pkg/optimize"
	"github.com/roadmapintel/roadmapd/pkg/scoring"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

// Action names accepted by the registry.
const (
	ActionBacklogSync       = "pm.backlog_sync"
	ActionScoreSelected     = "pm.score_selected"
	ActionSwitchFramework   = "pm.switch_framework"
	ActionSaveSelected      = "pm.save_selected"
	ActionSuggestMathModel  = "pm.suggest_math_model_llm"
	ActionSeedMathParams    = "pm.seed_math_params"
	ActionOptimizeSelected  = "pm.optimize_run_selected_candidates"
	ActionOptimizeAll       = "pm.optimize_run_all_candidates"
	ActionPopulateCandidate = "pm.populate_candidates"
)

// Payload is the validated request body of POST /actions/run.
type Payload struct {
	Action       string         `json:"action"`
	Scope        Scope          `json:"scope"`
	SheetContext SheetContext   `json:"sheet_context"`
	Options      Options        `json:"options"`
	RequestedBy  map[string]any `json:"requested_by"`
}

// Scope names what the action operates on.
type Scope struct {
	Type           string   `json:"type"` // selection | scenario | none
	InitiativeKeys []string `json:"initiative_keys,omitempty"`
	ScenarioName   string   `json:"scenario_name,omitempty"`
}

// SheetContext carries the tab the request originated from, used by
// tab-aware handlers.
type SheetContext struct {
	SpreadsheetID string `json:"spreadsheet_id,omitempty"`
	Tab           string `json:"tab,omitempty"`
}

// Options are per-run knobs; zero values fall back to config defaults.
type Options struct {
	CommitEvery       int    `json:"commit_every,omitempty"`
	MaxLLMCalls       int    `json:"max_llm_calls,omitempty"`
	ConstraintSetName string `json:"constraint_set_name,omitempty"`
	Framework         string `json:"framework,omitempty"`
}

// Deps bundles everything a handler may touch. All fields are wired
// once at process start; handlers never open connections themselves.
type Deps struct {
	Initiatives *store.InitiativeStore
	Models      *store.MathModelStore
	Params      *store.ParamStore
	Metrics     *store.MetricConfigStore
	Scenarios   *store.ScenarioStore
	OptRuns     *store.OptimizationRunStore
	Ledger      *store.ActionRunStore
	History     *store.ScoreHistoryStore

	Grid    sheetio.Grid
	LLM     llm.Client
	Solver  optimize.Solver
	Scoring *scoring.Service

	Cfg     *config.Config
	Profile *config.SheetProfile
	Log     *slog.Logger
}

// NewDeps wires the repositories and the scoring service from one DB
// handle.
func NewDeps(db *store.DB, grid sheetio.Grid, llmClient llm.Client, cfg *config.Config, profile *config.SheetProfile, log *slog.Logger) *Deps {
	d := &Deps{
		Initiatives: store.NewInitiativeStore(db),
		Models:      store.NewMathModelStore(db),
		Params:      store.NewParamStore(db),
		Metrics:     store.NewMetricConfigStore(db),
		Scenarios:   store.NewScenarioStore(db),
		OptRuns:     store.NewOptimizationRunStore(db),
		Ledger:      store.NewActionRunStore(db),
		History:     store.NewScoreHistoryStore(db),
		Grid:        grid,
		LLM:         llmClient,
		Solver:      &optimize.BranchBoundSolver{TimeLimit: cfg.SolverTimeLimit},
		Cfg:         cfg,
		Profile:     profile,
		Log:         log,
	}
	d.Scoring = &scoring.Service{
		Initiatives:   d.Initiatives,
		Models:        d.Models,
		Params:        d.Params,
		Metrics:       d.Metrics,
		History:       d.History,
		EnableHistory: cfg.EnableScoreHistory,
		Log:           log,
	}
	return d
}

func (d *Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// Handler executes one action and returns its result map. A non-nil
// error marks the run failed; any returned map is kept as the partial
// result.
type Handler func(ctx context.Context, d *Deps, p *Payload) (map[string]any, error)

// Registry maps action names to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds the registry with every built-in action.
func NewRegistry() *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	r.Register(ActionBacklogSync, runBacklogSync)
	r.Register(ActionScoreSelected, runScoreSelected)
	r.Register(ActionSwitchFramework, runSwitchFramework)
	r.Register(ActionSaveSelected, runSaveSelected)
	r.Register(ActionSuggestMathModel, runSuggestMathModel)
	r.Register(ActionSeedMathParams, runSeedMathParams)
	r.Register(ActionOptimizeSelected, runOptimizeSelected)
	r.Register(ActionOptimizeAll, runOptimizeAll)
	r.Register(ActionPopulateCandidate, runPopulateCandidates)
	return r
}

// Register installs a handler; existing names are replaced.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Lookup resolves an action name.
func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", name)
	}
	return h, nil
}

// Names lists registered action names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
