// Package model holds the persisted domain entities of the roadmap
// platform: initiatives, their math models and parameters, the KPI
// registry, optimization scenarios/runs, and the action-run ledger.
package model

import "time"

// Status is the lifecycle state of an Initiative.
type Status string

const (
	StatusNew                 Status = "new"
	StatusNeedsInfo           Status = "needs_info"
	StatusUnderReview         Status = "under_review"
	StatusApprovedInPrinciple Status = "approved_in_principle"
	StatusScheduled           Status = "scheduled"
	StatusRejected            Status = "rejected"
	StatusWithdrawn           Status = "withdrawn"
)

// ValidStatuses is the full central-editable status set.
var ValidStatuses = map[Status]bool{
	StatusNew:                 true,
	StatusNeedsInfo:           true,
	StatusUnderReview:         true,
	StatusApprovedInPrinciple: true,
	StatusScheduled:           true,
	StatusRejected:            true,
	StatusWithdrawn:           true,
}

// IntakeStatuses is the subset the intake pipeline may write.
var IntakeStatuses = map[Status]bool{
	StatusNew:       true,
	StatusWithdrawn: true,
}

// Framework identifies a scoring framework.
type Framework string

const (
	FrameworkRICE      Framework = "RICE"
	FrameworkWSJF      Framework = "WSJF"
	FrameworkMathModel Framework = "MATH_MODEL"
)

// Frameworks lists all scoring frameworks in compute order.
var Frameworks = []Framework{FrameworkRICE, FrameworkWSJF, FrameworkMathModel}

// KPI contribution source values.
const (
	KPISourceComputed   = "computed"
	KPISourcePMOverride = "pm_override"
)

// Initiative is the canonical unit of proposed work.
//
// Column ownership is split between pipelines: intake-owned columns are
// only mutated by the intake sync, central-editable columns only by the
// backlog sync, per-framework scores only by the scoring service, active
// score fields only by activation, and KPI fields by the contribution
// adapter or a PM override.
type Initiative struct {
	ID            int64
	InitiativeKey string // INIT-NNNNNN, immutable once assigned

	// Source provenance.
	SourceSheetID   string
	SourceTabName   string
	SourceRowNumber int

	// Intake-owned descriptive attributes.
	Title            string
	RequestingTeam   string
	RequesterName    string
	RequesterEmail   string
	Country          string
	ProductArea      string
	ProblemStatement string
	DesiredOutcome   string
	Hypothesis       string
	CustomerSegment  string
	InitiativeType   string
	StrategicTheme   string
	DeadlineDate     *time.Time
	ImpactLow        *float64
	ImpactExpected   *float64
	ImpactHigh       *float64
	EffortTShirt     string
	EffortEngDays    *float64
	RiskLevel        string
	IsMandatory      bool
	DependenciesText string

	Status Status

	// Central-editable fields.
	ActiveScoringFramework       Framework // empty means none
	UseMathModel                 bool
	LinkedObjectives             string
	LLMNotes                     string
	StrategicPriorityCoefficient *float64

	// Per-framework score triples. Only the compute path for the matching
	// framework may write these.
	RiceValueScore   *float64
	RiceEffortScore  *float64
	RiceOverallScore *float64
	WsjfValueScore   *float64
	WsjfEffortScore  *float64
	WsjfOverallScore *float64
	MathValueScore   *float64
	MathEffortScore  *float64
	MathOverallScore *float64

	// Active triple, derived from the active framework by activation.
	ValueScore   *float64
	EffortScore  *float64
	OverallScore *float64

	// KPI state.
	KPIContribution         map[string]float64 // active map, nil when unset
	KPIContributionComputed map[string]float64 // last system-computed map
	KPIContributionSource   string             // computed | pm_override | ""

	MetricChain []string

	// Optimization candidacy.
	IsOptimizationCandidate bool
	CandidatePeriodKey      string
	EngineeringTokens       *int64

	// Audit.
	UpdatedSource        string
	UpdatedAt            time.Time
	ScoringUpdatedSource string
	ScoringUpdatedAt     *time.Time
}

// FrameworkScores returns the per-framework triple for f. Nil pointers
// mean the framework has never been computed.
func (i *Initiative) FrameworkScores(f Framework) (value, effort, overall *float64) {
	switch f {
	case FrameworkRICE:
		return i.RiceValueScore, i.RiceEffortScore, i.RiceOverallScore
	case FrameworkWSJF:
		return i.WsjfValueScore, i.WsjfEffortScore, i.WsjfOverallScore
	case FrameworkMathModel:
		return i.MathValueScore, i.MathEffortScore, i.MathOverallScore
	}
	return nil, nil, nil
}

// SetFrameworkScores writes the per-framework triple for f.
func (i *Initiative) SetFrameworkScores(f Framework, value, effort, overall *float64) {
	switch f {
	case FrameworkRICE:
		i.RiceValueScore, i.RiceEffortScore, i.RiceOverallScore = value, effort, overall
	case FrameworkWSJF:
		i.WsjfValueScore, i.WsjfEffortScore, i.WsjfOverallScore = value, effort, overall
	case FrameworkMathModel:
		i.MathValueScore, i.MathEffortScore, i.MathOverallScore = value, effort, overall
	}
}
