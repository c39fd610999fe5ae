package optimize

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Solution statuses.
const (
	StatusOptimal    = "optimal"
	StatusFeasible   = "feasible" // incumbent found, optimality not proven
	StatusInfeasible = "infeasible"
	StatusError      = "error"
)

// SelectedItem is one candidate's decision in a solution.
type SelectedItem struct {
	InitiativeKey   string `json:"initiative_key"`
	Selected        bool   `json:"selected"`
	AllocatedTokens int64  `json:"allocated_tokens"`
}

// Solution is a solver result. TotalObjective is in scaled integer
// units; items are listed for every candidate in key order.
type Solution struct {
	Status         string         `json:"status"`
	Items          []SelectedItem `json:"items"`
	TotalObjective int64          `json:"total_objective"`
	Diagnostics    map[string]any `json:"diagnostics,omitempty"`
}

// SelectedKeys returns the chosen initiative keys in ascending order.
func (s *Solution) SelectedKeys() []string {
	var out []string
	for _, it := range s.Items {
		if it.Selected {
			out = append(out, it.InitiativeKey)
		}
	}
	sort.Strings(out)
	return out
}

// Solver turns a frozen problem into a solution. Implementations must
// be deterministic: the same problem yields the same selection.
type Solver interface {
	Name() string
	Version() string
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}

// BranchBoundSolver is the in-tree reference solver: depth-first
// branch and bound over candidates in ascending key order, trying
// include before exclude so ties resolve toward the lexicographically
// smaller selection.
type BranchBoundSolver struct {
	// TimeLimit bounds the search; zero means no limit. On expiry the
	// best incumbent is returned with status "feasible".
	TimeLimit time.Duration
}

func (b *BranchBoundSolver) Name() string    { return "branch_bound" }
func (b *BranchBoundSolver) Version() string { return "1.0" }

type searchState struct {
	p        *Problem
	cs       *ConstraintSetCompiled
	coeff    []int64
	tokens   []int64
	keys     []string
	index    map[string]int
	forced   []int8 // 0 unset, 1 include, -1 exclude
	suffix   []int64
	synergy  int64 // sum of positive scaled bonuses, for the bound
	deadline time.Time
	nodes    int64

	selected []bool
	used     int64
	usedDim  map[string]map[string]int64

	best     int64
	bestSel  []bool
	found    bool
	timedOut bool
}

// Solve runs the exhaustive search. Errors are reserved for context
// cancellation; infeasibility and timeouts are reported in the status.
func (b *BranchBoundSolver) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	n := len(p.Candidates)
	st := &searchState{
		p:        p,
		cs:       p.Constraints,
		coeff:    make([]int64, n),
		tokens:   make([]int64, n),
		keys:     make([]string, n),
		index:    make(map[string]int, n),
		forced:   make([]int8, n),
		suffix:   make([]int64, n+1),
		selected: make([]bool, n),
		usedDim:  map[string]map[string]int64{},
		best:     math.MinInt64,
	}
	for i := range p.Candidates {
		c := &p.Candidates[i]
		st.keys[i] = c.InitiativeKey
		st.tokens[i] = c.EngineeringTokens
		st.coeff[i] = p.Objective.Coefficients[c.InitiativeKey]
		st.index[c.InitiativeKey] = i
	}
	for key := range st.cs.Mandatory {
		if i, ok := st.index[key]; ok {
			st.forced[i] = 1
		}
	}
	for key := range st.cs.ExclusionInitiatives {
		if i, ok := st.index[key]; ok {
			if st.forced[i] == 1 {
				return infeasible(p, fmt.Sprintf("%s is both mandatory and excluded", key)), nil
			}
			st.forced[i] = -1
		}
	}
	for i := n - 1; i >= 0; i-- {
		st.suffix[i] = st.suffix[i+1]
		if st.coeff[i] > 0 && st.forced[i] != -1 {
			st.suffix[i] += st.coeff[i]
		}
	}
	for _, sy := range st.cs.SynergyBonuses {
		if sy.Bonus > 0 {
			st.synergy += ScaleKPI(sy.Bonus)
		}
	}
	if b.TimeLimit > 0 {
		st.deadline = time.Now().Add(b.TimeLimit)
	}

	if err := st.search(ctx, 0, 0); err != nil {
		return nil, err
	}

	sol := &Solution{Diagnostics: map[string]any{"nodes": st.nodes, "solver": b.Name(), "solver_version": b.Version()}}
	switch {
	case st.found && !st.timedOut:
		sol.Status = StatusOptimal
	case st.found:
		sol.Status = StatusFeasible
		sol.Diagnostics["time_limit_hit"] = true
	case st.timedOut:
		sol.Status = StatusError
		sol.Diagnostics["time_limit_hit"] = true
		sol.Diagnostics["reason"] = "time limit reached before any feasible selection was found"
		return sol, nil
	default:
		sol.Status = StatusInfeasible
		return sol, nil
	}
	sol.TotalObjective = st.best
	sol.Items = make([]SelectedItem, n)
	for i := range st.keys {
		tokens := int64(0)
		if st.bestSel[i] {
			tokens = st.tokens[i]
		}
		sol.Items[i] = SelectedItem{InitiativeKey: st.keys[i], Selected: st.bestSel[i], AllocatedTokens: tokens}
	}
	return sol, nil
}

func infeasible(p *Problem, reason string) *Solution {
	return &Solution{Status: StatusInfeasible, Diagnostics: map[string]any{"reason": reason}}
}

func (st *searchState) search(ctx context.Context, i int, current int64) error {
	st.nodes++
	if st.nodes%1024 == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !st.deadline.IsZero() && time.Now().After(st.deadline) {
			st.timedOut = true
		}
	}
	if st.timedOut {
		return nil
	}
	// Upper bound: current value plus every remaining positive
	// coefficient plus every positive synergy bonus. Strict comparison
	// keeps the first incumbent on ties, which with include-first DFS
	// in key order prefers the lexicographically smaller selection.
	if current+st.suffix[i]+st.synergy <= st.best && st.found {
		return nil
	}
	if i == len(st.keys) {
		st.evaluateLeaf(current)
		return nil
	}

	if st.forced[i] != -1 && st.canInclude(i) {
		st.apply(i, true)
		if err := st.search(ctx, i+1, current+st.coeff[i]); err != nil {
			return err
		}
		st.unapply(i, true)
	}
	if st.forced[i] != 1 {
		if err := st.search(ctx, i+1, current); err != nil {
			return err
		}
	}
	return nil
}

// canInclude enforces the incremental constraints: total capacity,
// per-dimension caps, and exclusion pairs against already-included
// candidates.
func (st *searchState) canInclude(i int) bool {
	if st.used+st.tokens[i] > st.p.CapacityTotalTokens {
		return false
	}
	c := &st.p.Candidates[i]
	for dim, caps := range st.cs.CapacityCaps {
		key := c.Dimensions[dim]
		limit, ok := caps[key]
		if !ok {
			continue
		}
		if st.usedDim[dim][key]+st.tokens[i] > limit {
			return false
		}
	}
	for _, pair := range st.cs.ExclusionPairs {
		var other string
		switch st.keys[i] {
		case pair.A:
			other = pair.B
		case pair.B:
			other = pair.A
		default:
			continue
		}
		if j, ok := st.index[other]; ok && j < i && st.selected[j] {
			return false
		}
	}
	return true
}

func (st *searchState) apply(i int, include bool) {
	st.selected[i] = include
	if !include {
		return
	}
	st.used += st.tokens[i]
	c := &st.p.Candidates[i]
	for dim := range st.cs.CapacityCaps {
		st.bumpDim(dim, c.Dimensions[dim], st.tokens[i])
	}
	for dim := range st.cs.CapacityFloors {
		if _, capped := st.cs.CapacityCaps[dim]; !capped {
			st.bumpDim(dim, c.Dimensions[dim], st.tokens[i])
		}
	}
}

func (st *searchState) unapply(i int, include bool) {
	st.selected[i] = false
	if !include {
		return
	}
	st.used -= st.tokens[i]
	c := &st.p.Candidates[i]
	for dim := range st.cs.CapacityCaps {
		st.bumpDim(dim, c.Dimensions[dim], -st.tokens[i])
	}
	for dim := range st.cs.CapacityFloors {
		if _, capped := st.cs.CapacityCaps[dim]; !capped {
			st.bumpDim(dim, c.Dimensions[dim], -st.tokens[i])
		}
	}
}

func (st *searchState) bumpDim(dim, key string, delta int64) {
	if st.usedDim[dim] == nil {
		st.usedDim[dim] = map[string]int64{}
	}
	st.usedDim[dim][key] += delta
}

// evaluateLeaf checks the full constraint set over a complete
// assignment and, if feasible, scores it with synergy bonuses applied.
func (st *searchState) evaluateLeaf(current int64) {
	cs := st.cs

	for dim, floors := range cs.CapacityFloors {
		for key, floor := range floors {
			if st.usedDim[dim][key] < floor {
				return
			}
		}
	}
	for _, b := range cs.Bundles {
		state := -1
		for _, m := range b.Members {
			j, ok := st.index[m]
			if !ok {
				return
			}
			v := 0
			if st.selected[j] {
				v = 1
			}
			if state == -1 {
				state = v
			} else if state != v {
				return
			}
		}
	}
	for dep, reqs := range cs.Prerequisites {
		j, ok := st.index[dep]
		if !ok || !st.selected[j] {
			continue
		}
		for _, r := range reqs {
			k, ok := st.index[r]
			if !ok || !st.selected[k] {
				return
			}
		}
	}
	for dim, byKey := range cs.Targets {
		for key, byKPI := range byKey {
			for kpi, spec := range byKPI {
				if spec.Type != TargetFloor {
					continue
				}
				var total int64
				for j := range st.p.Candidates {
					if !st.selected[j] {
						continue
					}
					c := &st.p.Candidates[j]
					if dim == UnscopedDimension || c.Dimensions[dim] == key {
						total += ScaleKPI(c.KPIContributions[kpi])
					}
				}
				if total < ScaleKPI(spec.Value) {
					return
				}
			}
		}
	}

	obj := current
	for _, sy := range cs.SynergyBonuses {
		all := true
		for _, m := range sy.Members {
			j, ok := st.index[m]
			if !ok || !st.selected[j] {
				all = false
				break
			}
		}
		if all {
			obj += ScaleKPI(sy.Bonus)
		}
	}

	for _, frozen := range st.p.FrozenObjectives {
		var v int64
		for j, key := range st.keys {
			if st.selected[j] {
				v += frozen.Coefficients[key]
			}
		}
		if v < frozen.Min {
			return
		}
	}

	if obj > st.best || !st.found {
		st.best = obj
		st.found = true
		if st.bestSel == nil {
			st.bestSel = make([]bool, len(st.selected))
		}
		copy(st.bestSel, st.selected)
	}
}

// SolveLexicographic runs one solve per priority KPI, freezing each
// stage's achieved value (within one scaled unit) before optimizing
// the next. The returned solution is the final stage's.
func SolveLexicographic(ctx context.Context, solver Solver, p *Problem) (*Solution, error) {
	if len(p.Objective.Priorities) == 0 {
		return nil, fmt.Errorf("lexicographic solve requires at least one priority KPI")
	}
	stages := make([]map[string]any, 0, len(p.Objective.Priorities))
	staged := *p
	staged.FrozenObjectives = append([]FrozenObjective{}, p.FrozenObjectives...)

	var last *Solution
	for _, kpi := range p.Objective.Priorities {
		coeffs := StageObjective(p, kpi)
		staged.Objective = ObjectiveSpec{Mode: stageMode, Coefficients: coeffs}
		sol, err := solver.Solve(ctx, &staged)
		if err != nil {
			return nil, err
		}
		if sol.Status == StatusInfeasible || sol.Status == StatusError {
			sol.Diagnostics["failed_stage_kpi"] = kpi
			return sol, nil
		}
		stages = append(stages, map[string]any{
			"kpi":       kpi,
			"objective": sol.TotalObjective,
			"status":    sol.Status,
		})
		// Allow one scaled unit of slack so rounding in later stages
		// cannot make an optimal earlier stage infeasible.
		staged.FrozenObjectives = append(staged.FrozenObjectives, FrozenObjective{
			Coefficients: coeffs,
			Min:          sol.TotalObjective - 1,
		})
		last = sol
	}
	if last.Diagnostics == nil {
		last.Diagnostics = map[string]any{}
	}
	last.Diagnostics["stages"] = stages
	return last, nil
}

const stageMode = "lexicographic_stage"
