package optimize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// KPIScale converts fractional KPI contributions to integers for the
// solver. Scaling uses round-half-to-even so identical problems always
// produce identical integer coefficients.
const KPIScale = int64(1_000_000)

// ScaleKPI converts a float contribution to scaled integer units.
func ScaleKPI(v float64) int64 {
	return int64(math.RoundToEven(v * float64(KPIScale)))
}

// Candidate is one selectable initiative in a problem.
type Candidate struct {
	InitiativeKey      string             `json:"initiative_key"`
	EngineeringTokens  int64              `json:"engineering_tokens"`
	Dimensions         map[string]string  `json:"dimensions"` // country, department, category, program, product, segment
	KPIContributions   map[string]float64 `json:"kpi_contributions"`
	ActiveOverallScore float64            `json:"active_overall_score"`
	DeadlineDate       *time.Time         `json:"deadline_date,omitempty"`
}

// FrozenObjective pins a previous lexicographic stage: the stage's
// objective value over the final selection must stay at or above Min.
type FrozenObjective struct {
	Coefficients map[string]int64 `json:"coefficients"`
	Min          int64            `json:"min"`
}

// ObjectiveSpec is the resolved objective of a problem. Coefficients
// are in scaled integer units per candidate key.
type ObjectiveSpec struct {
	Mode         string           `json:"mode"`
	Coefficients map[string]int64 `json:"coefficients"`
	// Priorities lists KPI keys for lexicographic mode, most important
	// first.
	Priorities  []string       `json:"priorities,omitempty"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// Problem is a frozen optimization problem: candidates, compiled
// constraints, and a resolved objective.
type Problem struct {
	ScenarioName        string                 `json:"scenario_name"`
	SetName             string                 `json:"constraint_set_name"`
	PeriodKey           string                 `json:"period_key"`
	CapacityTotalTokens int64                  `json:"capacity_total_tokens"`
	Candidates          []Candidate            `json:"candidates"`
	Constraints         *ConstraintSetCompiled `json:"constraints"`
	Objective           ObjectiveSpec          `json:"objective"`
	FrozenObjectives    []FrozenObjective      `json:"frozen_objectives,omitempty"`
}

// CandidateByKey returns the candidate with the given key.
func (p *Problem) CandidateByKey(key string) (*Candidate, bool) {
	for i := range p.Candidates {
		if p.Candidates[i].InitiativeKey == key {
			return &p.Candidates[i], true
		}
	}
	return nil, false
}

// Snapshot renders the problem as canonical JSON (RFC 8785) with its
// content hash, suitable for OptimizationRun.inputs_snapshot_json.
func (p *Problem) Snapshot() ([]byte, string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", fmt.Errorf("canonicalize problem: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return canonical, "sha256:" + hex.EncodeToString(sum[:]), nil
}

// BuildInputs carries everything the problem builder needs, already
// loaded from the repositories.
type BuildInputs struct {
	Scenario      *model.OptimizationScenario
	Constraints   *ConstraintSetCompiled
	Candidates    []*model.Initiative
	ActiveKPIs    map[string]*model.OrganizationMetricConfig
	NorthStarKey  string     // empty when no active north star
	SelectedKeys  []string   // nil means all candidates
	PeriodEnd     *time.Time // candidates with earlier deadlines are dropped
}

// BuildProblem assembles a frozen problem from loaded inputs. Warnings
// report dropped candidates and scale fallbacks; errors are reserved
// for unusable objective configuration.
func BuildProblem(in BuildInputs) (*Problem, []string, error) {
	if in.Scenario == nil {
		return nil, nil, fmt.Errorf("scenario is required")
	}
	cs := in.Constraints
	if cs == nil {
		cs = newSet(SetKey{ScenarioName: in.Scenario.Name, SetName: "default"})
	}

	var warnings []string
	selected := map[string]bool{}
	for _, k := range in.SelectedKeys {
		selected[k] = true
	}

	candidates := make([]Candidate, 0, len(in.Candidates))
	for _, init := range in.Candidates {
		if in.SelectedKeys != nil && !selected[init.InitiativeKey] {
			continue
		}
		if in.PeriodEnd != nil && init.DeadlineDate != nil && init.DeadlineDate.Before(*in.PeriodEnd) {
			warnings = append(warnings, fmt.Sprintf("%s dropped: deadline %s precedes period end",
				init.InitiativeKey, init.DeadlineDate.Format("2006-01-02")))
			continue
		}
		var tokens int64
		if init.EngineeringTokens != nil {
			tokens = *init.EngineeringTokens
		} else {
			warnings = append(warnings, fmt.Sprintf("%s has no engineering_tokens, assuming 0", init.InitiativeKey))
		}
		var overall float64
		if init.OverallScore != nil {
			overall = *init.OverallScore
		}
		candidates = append(candidates, Candidate{
			InitiativeKey:     init.InitiativeKey,
			EngineeringTokens: tokens,
			Dimensions: map[string]string{
				"country": init.Country,
				"team":    init.RequestingTeam,
				"area":    init.ProductArea,
				"type":    init.InitiativeType,
				"theme":   init.StrategicTheme,
				"segment": init.CustomerSegment,
			},
			KPIContributions:   init.KPIContribution,
			ActiveOverallScore: overall,
			DeadlineDate:       init.DeadlineDate,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].InitiativeKey < candidates[j].InitiativeKey
	})

	objective, objWarnings, err := resolveObjective(in, candidates, cs)
	if err != nil {
		return nil, warnings, err
	}
	warnings = append(warnings, objWarnings...)

	return &Problem{
		ScenarioName:        in.Scenario.Name,
		SetName:             cs.SetName,
		PeriodKey:           in.Scenario.PeriodKey,
		CapacityTotalTokens: in.Scenario.CapacityTotalTokens,
		Candidates:          candidates,
		Constraints:         cs,
		Objective:           objective,
	}, warnings, nil
}

func resolveObjective(in BuildInputs, candidates []Candidate, cs *ConstraintSetCompiled) (ObjectiveSpec, []string, error) {
	var warnings []string
	spec := ObjectiveSpec{
		Mode:         in.Scenario.ObjectiveMode,
		Coefficients: map[string]int64{},
		Diagnostics:  map[string]any{},
	}

	switch in.Scenario.ObjectiveMode {
	case model.ObjectiveNorthStar:
		if in.NorthStarKey == "" {
			return spec, nil, fmt.Errorf("north_star objective requires exactly one active north-star KPI")
		}
		for _, c := range candidates {
			spec.Coefficients[c.InitiativeKey] = ScaleKPI(c.KPIContributions[in.NorthStarKey])
		}
		spec.Diagnostics["north_star_key"] = in.NorthStarKey

	case model.ObjectiveWeightedKPIs:
		if len(in.Scenario.ObjectiveWeights) == 0 {
			return spec, nil, fmt.Errorf("weighted_kpis objective requires objective_weights_json")
		}
		scaleMap := map[string]float64{}
		sourceMap := map[string]string{}
		weightsSum := 0.0
		kpiKeys := sortedKeys(in.Scenario.ObjectiveWeights)
		for _, kpi := range kpiKeys {
			cfg, ok := in.ActiveKPIs[kpi]
			if !ok || !cfg.ContributionEligible() {
				return spec, nil, fmt.Errorf("weighted_kpis objective references ineligible KPI %q", kpi)
			}
			scale, source := targetScale(cs, kpi)
			scaleMap[kpi] = scale
			sourceMap[kpi] = source
			if source == "fallback" {
				warnings = append(warnings, fmt.Sprintf("no target found for KPI %s, normalization scale falls back to 1.0", kpi))
			}
			weightsSum += in.Scenario.ObjectiveWeights[kpi]
		}
		for _, c := range candidates {
			total := 0.0
			for _, kpi := range kpiKeys {
				total += in.Scenario.ObjectiveWeights[kpi] * c.KPIContributions[kpi] / scaleMap[kpi]
			}
			spec.Coefficients[c.InitiativeKey] = ScaleKPI(total)
		}
		spec.Diagnostics["weights_sum"] = weightsSum
		spec.Diagnostics["kpi_scale_map"] = scaleMap
		spec.Diagnostics["scale_source_map"] = sourceMap

	case model.ObjectiveLexicographic:
		priorities := sortedKeys(in.Scenario.ObjectiveWeights)
		sort.SliceStable(priorities, func(i, j int) bool {
			return in.Scenario.ObjectiveWeights[priorities[i]] > in.Scenario.ObjectiveWeights[priorities[j]]
		})
		if len(priorities) == 0 {
			return spec, nil, fmt.Errorf("lexicographic objective requires prioritized KPIs in objective_weights_json")
		}
		spec.Priorities = priorities
		// Stage one's coefficients seed the base objective; later
		// stages are produced by StageObjective.
		for _, c := range candidates {
			spec.Coefficients[c.InitiativeKey] = ScaleKPI(c.KPIContributions[priorities[0]])
		}
		spec.Diagnostics["priorities"] = priorities

	default:
		return spec, nil, fmt.Errorf("unknown objective mode %q", in.Scenario.ObjectiveMode)
	}

	return spec, warnings, nil
}

// StageObjective returns the coefficients for one lexicographic stage.
func StageObjective(p *Problem, kpiKey string) map[string]int64 {
	out := make(map[string]int64, len(p.Candidates))
	for _, c := range p.Candidates {
		out[c.InitiativeKey] = ScaleKPI(c.KPIContributions[kpiKey])
	}
	return out
}

// targetScale resolves the weighted-KPIs normalization scale for a KPI:
// the unscoped target value if present, else the maximum target value
// across any dimension, else 1.0 (recorded as "fallback").
func targetScale(cs *ConstraintSetCompiled, kpi string) (float64, string) {
	if all, ok := cs.Targets[UnscopedDimension][UnscopedDimension]; ok {
		if spec, ok := all[kpi]; ok && spec.Value > 0 {
			return spec.Value, "unscoped_target"
		}
	}
	best := 0.0
	for _, byKey := range cs.Targets {
		for _, byKPI := range byKey {
			if spec, ok := byKPI[kpi]; ok && spec.Value > best {
				best = spec.Value
			}
		}
	}
	if best > 0 {
		return best, "max_dimension_target"
	}
	return 1.0, "fallback"
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
