package model

import "time"

// InitiativeMathModel is one math model owned by an initiative. An
// initiative may own several; at most one carries IsPrimary.
type InitiativeMathModel struct {
	ID             int64
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
	ComputedScore  *float64
	LastComputedAt *time.Time
	UpdatedSource  string
	UpdatedAt      time.Time
}

// InitiativeParam is a normalized scoring parameter row, unique per
// (initiative_key, framework, param_name, model_name).
type InitiativeParam struct {
	ID            int64
	InitiativeKey string
	Framework     Framework
	ParamName     string
	ModelName     string // empty for framework-level params
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
	UpdatedSource string
	UpdatedAt     time.Time
}

// InitiativeScore is an append-only history row for one scoring run.
type InitiativeScore struct {
	ID           int64
	InitiativeID int64
	Framework    Framework
	ValueScore   *float64
	EffortScore  *float64
	OverallScore *float64
	Inputs       map[string]float64
	CreatedAt    time.Time
}

// KPI levels for OrganizationMetricConfig.
const (
	KPILevelNorthStar   = "north_star"
	KPILevelStrategic   = "strategic"
	KPILevelOperational = "operational"
)

// OrganizationMetricConfig is one row of the KPI registry. At most one
// active row may have level north_star.
type OrganizationMetricConfig struct {
	ID            int64
	KPIKey        string
	KPIName       string
	KPILevel      string
	Unit          string
	Description   string
	IsActive      bool
	UpdatedSource string
	UpdatedAt     time.Time
}

// ContributionEligible reports whether this KPI may receive initiative
// contributions (active and of north-star or strategic level).
func (m *OrganizationMetricConfig) ContributionEligible() bool {
	return m.IsActive && (m.KPILevel == KPILevelNorthStar || m.KPILevel == KPILevelStrategic)
}
