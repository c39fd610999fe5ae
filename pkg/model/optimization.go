package model

import "time"

// Objective modes for an optimization scenario.
const (
	ObjectiveNorthStar     = "north_star"
	ObjectiveWeightedKPIs  = "weighted_kpis"
	ObjectiveLexicographic = "lexicographic"
)

// OptimizationScenario names a combination of period, capacity, and
// objective configuration. ObjectiveWeights is required for
// weighted_kpis mode.
type OptimizationScenario struct {
	ID                  int64
	Name                string
	PeriodKey           string
	CapacityTotalTokens int64
	ObjectiveMode       string
	ObjectiveWeights    map[string]float64
	Notes               string
	UpdatedSource       string
	UpdatedAt           time.Time
}

// Run statuses shared by OptimizationRun and ActionRun.
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// OptimizationRun records one solve attempt, including the frozen inputs
// snapshot and the solver result (or the feasibility report on abort).
type OptimizationRun struct {
	ID                int64
	RunID             string
	ScenarioID        int64
	ConstraintSetID   int64
	Status            string
	StartedAt         *time.Time
	FinishedAt        *time.Time
	InputsSnapshot    []byte // canonical JSON
	InputsSnapshotSHA string
	Result            []byte // JSON
	SolverName        string
	SolverVersion     string
}

// Portfolio is the selected set of initiatives for a run.
type Portfolio struct {
	ID        int64
	RunID     string
	CreatedAt time.Time
	Items     []PortfolioItem
}

// PortfolioItem is one selected initiative with its token allocation.
type PortfolioItem struct {
	ID              int64
	PortfolioID     int64
	InitiativeKey   string
	Selected        bool
	AllocatedTokens int64
}
