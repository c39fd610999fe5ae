// Package optimize compiles sheet-driven constraints into a
// feasibility-checked optimization problem and submits it to a
// pluggable integer-programming solver.
package optimize

import (
	"fmt"
	"sort"
	"strings"
)

// Constraint kind tags as they appear in the Constraints tab.
const (
	KindCapacityFloor       = "capacity_floor"
	KindCapacityCap         = "capacity_cap"
	KindMandatory           = "mandatory"
	KindBundle              = "bundle"
	KindExclusionPair       = "exclusion_pair"
	KindExclusionInitiative = "exclusion_initiative"
	KindPrerequisite        = "prerequisite"
	KindSynergyBonus        = "synergy_bonus"
)

// Target types.
const (
	TargetFloor = "floor"
	TargetGoal  = "goal"
)

// UnscopedDimension is the bucket for targets that apply to the whole
// portfolio rather than a slice.
const UnscopedDimension = "all"

// RawConstraintRow is one validated row of the Constraints tab.
type RawConstraintRow struct {
	RowNumber     int
	ScenarioName  string
	SetName       string
	Kind          string
	Dimension     string
	DimensionKey  string
	InitiativeKey string
	SecondKey     string
	Members       []string
	Name          string
	Value         *float64
	Notes         string
}

// RawTargetRow is one validated row of the Targets tab.
type RawTargetRow struct {
	RowNumber    int
	ScenarioName string
	SetName      string
	Dimension    string
	DimensionKey string
	KPIKey       string
	TargetType   string
	Value        *float64
	Notes        string
}

// TargetSpec is one compiled target cell.
type TargetSpec struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
	Notes string  `json:"notes,omitempty"`
}

// Bundle is an all-or-nothing group.
type Bundle struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// ExclusionPair allows at most one of (A, B).
type ExclusionPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// SynergyBonus adds a scalar objective bonus when all members are
// selected.
type SynergyBonus struct {
	Members []string `json:"members"`
	Bonus   float64  `json:"bonus"`
}

// ConstraintSetCompiled is the compiled container for one
// (scenario, constraint set) pair.
type ConstraintSetCompiled struct {
	ScenarioName string `json:"scenario_name"`
	SetName      string `json:"set_name"`

	CapacityFloors       map[string]map[string]int64          `json:"capacity_floors,omitempty"`
	CapacityCaps         map[string]map[string]int64          `json:"capacity_caps,omitempty"`
	Mandatory            map[string]bool                      `json:"mandatory,omitempty"`
	Bundles              []Bundle                             `json:"bundles,omitempty"`
	ExclusionPairs       []ExclusionPair                      `json:"exclusion_pairs,omitempty"`
	ExclusionInitiatives map[string]bool                      `json:"exclusion_initiatives,omitempty"`
	Prerequisites        map[string][]string                  `json:"prerequisites,omitempty"`
	SynergyBonuses       []SynergyBonus                       `json:"synergy_bonuses,omitempty"`
	Targets              map[string]map[string]map[string]TargetSpec `json:"targets,omitempty"`
}

// SetKey identifies one compiled constraint set.
type SetKey struct {
	ScenarioName string
	SetName      string
}

// Message is one validation finding from compilation.
type Message struct {
	Severity  string `json:"severity"` // warn | error
	RowNumber int    `json:"row_number,omitempty"`
	Text      string `json:"text"`
}

func newSet(key SetKey) *ConstraintSetCompiled {
	return &ConstraintSetCompiled{
		ScenarioName:         key.ScenarioName,
		SetName:              key.SetName,
		CapacityFloors:       map[string]map[string]int64{},
		CapacityCaps:         map[string]map[string]int64{},
		Mandatory:            map[string]bool{},
		ExclusionInitiatives: map[string]bool{},
		Prerequisites:        map[string][]string{},
		Targets:              map[string]map[string]map[string]TargetSpec{},
	}
}

// Compile groups constraint and target rows by (scenario, set), buckets
// each row by kind, deduplicates by natural key, and validates. All
// findings are collected; rows with errors are skipped, not fatal.
func Compile(constraints []RawConstraintRow, targets []RawTargetRow, validKPIs map[string]bool) (map[SetKey]*ConstraintSetCompiled, []Message) {
	sets := map[SetKey]*ConstraintSetCompiled{}
	var msgs []Message

	warn := func(row int, format string, args ...any) {
		msgs = append(msgs, Message{Severity: "warn", RowNumber: row, Text: fmt.Sprintf(format, args...)})
	}
	fail := func(row int, format string, args ...any) {
		msgs = append(msgs, Message{Severity: "error", RowNumber: row, Text: fmt.Sprintf(format, args...)})
	}
	get := func(scenario, set string) *ConstraintSetCompiled {
		key := SetKey{ScenarioName: scenario, SetName: set}
		cs, ok := sets[key]
		if !ok {
			cs = newSet(key)
			sets[key] = cs
		}
		return cs
	}

	for _, row := range constraints {
		if row.ScenarioName == "" || row.SetName == "" {
			fail(row.RowNumber, "constraint row missing scenario or set name")
			continue
		}
		cs := get(row.ScenarioName, row.SetName)
		switch row.Kind {
		case KindCapacityFloor, KindCapacityCap:
			if row.Dimension == "" || row.DimensionKey == "" {
				fail(row.RowNumber, "%s requires dimension and dimension key", row.Kind)
				continue
			}
			if row.Value == nil || *row.Value < 0 {
				fail(row.RowNumber, "%s %s/%s requires a non-negative token count", row.Kind, row.Dimension, row.DimensionKey)
				continue
			}
			bucket := cs.CapacityFloors
			if row.Kind == KindCapacityCap {
				bucket = cs.CapacityCaps
			}
			if bucket[row.Dimension] == nil {
				bucket[row.Dimension] = map[string]int64{}
			}
			if _, dup := bucket[row.Dimension][row.DimensionKey]; dup {
				warn(row.RowNumber, "duplicate %s for %s/%s, keeping first", row.Kind, row.Dimension, row.DimensionKey)
				continue
			}
			bucket[row.Dimension][row.DimensionKey] = int64(*row.Value)
		case KindMandatory:
			if row.InitiativeKey == "" {
				fail(row.RowNumber, "mandatory constraint requires an initiative key")
				continue
			}
			cs.Mandatory[row.InitiativeKey] = true
		case KindExclusionInitiative:
			if row.InitiativeKey == "" {
				fail(row.RowNumber, "exclusion constraint requires an initiative key")
				continue
			}
			cs.ExclusionInitiatives[row.InitiativeKey] = true
		case KindExclusionPair:
			a, b := row.InitiativeKey, row.SecondKey
			if a == "" || b == "" {
				fail(row.RowNumber, "exclusion pair requires two initiative keys")
				continue
			}
			if a == b {
				fail(row.RowNumber, "exclusion pair (%s, %s) references the same initiative", a, b)
				continue
			}
			if a > b {
				a, b = b, a
			}
			dup := false
			for _, p := range cs.ExclusionPairs {
				if p.A == a && p.B == b {
					dup = true
					break
				}
			}
			if dup {
				warn(row.RowNumber, "duplicate exclusion pair (%s, %s)", a, b)
				continue
			}
			cs.ExclusionPairs = append(cs.ExclusionPairs, ExclusionPair{A: a, B: b})
		case KindBundle:
			if len(row.Members) < 2 {
				fail(row.RowNumber, "bundle %q needs at least 2 members", row.Name)
				continue
			}
			cs.Bundles = append(cs.Bundles, Bundle{Name: row.Name, Members: dedupe(row.Members)})
		case KindPrerequisite:
			dep := row.InitiativeKey
			if dep == "" || (row.SecondKey == "" && len(row.Members) == 0) {
				fail(row.RowNumber, "prerequisite requires a dependent and at least one required key")
				continue
			}
			reqs := row.Members
			if len(reqs) == 0 {
				reqs = []string{row.SecondKey}
			}
			cs.Prerequisites[dep] = mergeSets(cs.Prerequisites[dep], reqs)
		case KindSynergyBonus:
			if len(row.Members) < 2 {
				fail(row.RowNumber, "synergy bonus needs at least 2 members")
				continue
			}
			if row.Value == nil || *row.Value < 0 {
				fail(row.RowNumber, "synergy bonus requires a non-negative bonus value")
				continue
			}
			cs.SynergyBonuses = append(cs.SynergyBonuses, SynergyBonus{Members: dedupe(row.Members), Bonus: *row.Value})
		default:
			fail(row.RowNumber, "unknown constraint type %q", row.Kind)
		}
	}

	for _, row := range targets {
		if row.ScenarioName == "" || row.SetName == "" {
			fail(row.RowNumber, "target row missing scenario or set name")
			continue
		}
		if row.TargetType != TargetFloor && row.TargetType != TargetGoal {
			fail(row.RowNumber, "target type must be floor or goal, got %q", row.TargetType)
			continue
		}
		if row.Value == nil || *row.Value < 0 {
			fail(row.RowNumber, "target for %s requires a non-negative value", row.KPIKey)
			continue
		}
		if validKPIs != nil && !validKPIs[row.KPIKey] {
			fail(row.RowNumber, "target references unknown KPI %q", row.KPIKey)
			continue
		}
		cs := get(row.ScenarioName, row.SetName)
		dim, key := row.Dimension, row.DimensionKey
		if dim == "" {
			dim, key = UnscopedDimension, UnscopedDimension
		}
		if cs.Targets[dim] == nil {
			cs.Targets[dim] = map[string]map[string]TargetSpec{}
		}
		if cs.Targets[dim][key] == nil {
			cs.Targets[dim][key] = map[string]TargetSpec{}
		}
		if _, dup := cs.Targets[dim][key][row.KPIKey]; dup {
			warn(row.RowNumber, "duplicate target for %s/%s/%s, keeping first", dim, key, row.KPIKey)
			continue
		}
		cs.Targets[dim][key][row.KPIKey] = TargetSpec{Type: row.TargetType, Value: *row.Value, Notes: row.Notes}
	}

	return sets, msgs
}

// ReferencedKeys returns every initiative key the constraint set names,
// sorted for deterministic reporting.
func (cs *ConstraintSetCompiled) ReferencedKeys() []string {
	set := map[string]bool{}
	for k := range cs.Mandatory {
		set[k] = true
	}
	for k := range cs.ExclusionInitiatives {
		set[k] = true
	}
	for _, p := range cs.ExclusionPairs {
		set[p.A] = true
		set[p.B] = true
	}
	for _, b := range cs.Bundles {
		for _, m := range b.Members {
			set[m] = true
		}
	}
	for dep, reqs := range cs.Prerequisites {
		set[dep] = true
		for _, r := range reqs {
			set[r] = true
		}
	}
	for _, sy := range cs.SynergyBonuses {
		for _, m := range sy.Members {
			set[m] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// mergeSets unions two required-key lists, keeping sorted order so the
// compiled output is deterministic.
func mergeSets(a, b []string) []string {
	set := map[string]bool{}
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if t := strings.TrimSpace(s); t != "" {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
