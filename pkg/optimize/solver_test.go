package optimize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solve(t *testing.T, p *Problem) *Solution {
	t.Helper()
	sol, err := (&BranchBoundSolver{TimeLimit: 5 * time.Second}).Solve(context.Background(), p)
	require.NoError(t, err)
	return sol
}

func withObjective(p *Problem, coeffs map[string]int64) *Problem {
	p.Objective = ObjectiveSpec{Mode: "north_star", Coefficients: coeffs}
	return p
}

func TestSolveSimpleKnapsack(t *testing.T) {
	p := withObjective(testProblem(newSet(SetKey{"q3", "base"}),
		cand("INIT-000001", 600, nil, nil),
		cand("INIT-000002", 500, nil, nil),
		cand("INIT-000003", 400, nil, nil),
	), map[string]int64{"INIT-000001": 60, "INIT-000002": 55, "INIT-000003": 50})
	// Capacity 1000: {2,3} beats {1} and {1,3} doesn't fit.
	sol := solve(t, p)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.Equal(t, []string{"INIT-000002", "INIT-000003"}, sol.SelectedKeys())
	assert.EqualValues(t, 105, sol.TotalObjective)
}

func TestSolveTieBreaksTowardSmallerKey(t *testing.T) {
	// Identical value and cost, room for one: the smaller key wins.
	p := withObjective(testProblem(newSet(SetKey{"q3", "base"}),
		cand("INIT-000001", 800, nil, nil),
		cand("INIT-000002", 800, nil, nil),
	), map[string]int64{"INIT-000001": 10, "INIT-000002": 10})
	sol := solve(t, p)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.Equal(t, []string{"INIT-000001"}, sol.SelectedKeys())
}

func TestSolveMandatoryAndExclusion(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.Mandatory["INIT-000002"] = true
	cs.ExclusionInitiatives["INIT-000001"] = true
	p := withObjective(testProblem(cs,
		cand("INIT-000001", 100, nil, nil),
		cand("INIT-000002", 100, nil, nil),
	), map[string]int64{"INIT-000001": 100, "INIT-000002": 1})
	sol := solve(t, p)
	assert.Equal(t, []string{"INIT-000002"}, sol.SelectedKeys())
}

func TestSolveExclusionPair(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.ExclusionPairs = append(cs.ExclusionPairs, ExclusionPair{A: "INIT-000001", B: "INIT-000002"})
	p := withObjective(testProblem(cs,
		cand("INIT-000001", 100, nil, nil),
		cand("INIT-000002", 100, nil, nil),
		cand("INIT-000003", 100, nil, nil),
	), map[string]int64{"INIT-000001": 10, "INIT-000002": 9, "INIT-000003": 1})
	sol := solve(t, p)
	assert.Equal(t, []string{"INIT-000001", "INIT-000003"}, sol.SelectedKeys())
}

func TestSolvePrerequisite(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.Prerequisites["INIT-000002"] = []string{"INIT-000001"}
	p := withObjective(testProblem(cs,
		cand("INIT-000001", 700, nil, nil),
		cand("INIT-000002", 700, nil, nil),
	), map[string]int64{"INIT-000001": 0, "INIT-000002": 100})
	// Capacity 1000 cannot hold both, so the dependent is unselectable.
	sol := solve(t, p)
	assert.Equal(t, []string{"INIT-000001"}, sol.SelectedKeys())
	assert.EqualValues(t, 0, sol.TotalObjective)
}

func TestSolveBundleAllOrNothing(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.Bundles = append(cs.Bundles, Bundle{Name: "platform", Members: []string{"INIT-000001", "INIT-000002"}})
	p := withObjective(testProblem(cs,
		cand("INIT-000001", 600, nil, nil),
		cand("INIT-000002", 600, nil, nil),
		cand("INIT-000003", 100, nil, nil),
	), map[string]int64{"INIT-000001": 50, "INIT-000002": 50, "INIT-000003": 1})
	// The bundle does not fit in 1000, so neither member may be chosen.
	sol := solve(t, p)
	assert.Equal(t, []string{"INIT-000003"}, sol.SelectedKeys())
}

func TestSolveCapacityCapAndFloor(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.CapacityCaps["country"] = map[string]int64{"DE": 300}
	cs.CapacityFloors["country"] = map[string]int64{"FR": 200}
	de := map[string]string{"country": "DE"}
	fr := map[string]string{"country": "FR"}
	p := withObjective(testProblem(cs,
		cand("INIT-000001", 200, de, nil),
		cand("INIT-000002", 200, de, nil),
		cand("INIT-000003", 200, fr, nil),
	), map[string]int64{"INIT-000001": 10, "INIT-000002": 10, "INIT-000003": 1})
	sol := solve(t, p)
	require.Equal(t, StatusOptimal, sol.Status)
	// Both DE items would exceed the cap; the FR floor forces item 3 in.
	assert.Equal(t, []string{"INIT-000001", "INIT-000003"}, sol.SelectedKeys())
}

func TestSolveSynergyBonus(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.SynergyBonuses = append(cs.SynergyBonuses, SynergyBonus{Members: []string{"INIT-000001", "INIT-000002"}, Bonus: 5})
	p := withObjective(testProblem(cs,
		cand("INIT-000001", 400, nil, nil),
		cand("INIT-000002", 400, nil, nil),
		cand("INIT-000003", 900, nil, nil),
	), map[string]int64{
		"INIT-000001": ScaleKPI(1),
		"INIT-000002": ScaleKPI(1),
		"INIT-000003": ScaleKPI(4),
	})
	// Alone: item 3 scores 4. The pair scores 1+1+5 = 7 with the bonus.
	sol := solve(t, p)
	assert.Equal(t, []string{"INIT-000001", "INIT-000002"}, sol.SelectedKeys())
	assert.Equal(t, ScaleKPI(7), sol.TotalObjective)
}

func TestSolveTargetFloorForcesSelection(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.Targets[UnscopedDimension] = map[string]map[string]TargetSpec{
		UnscopedDimension: {"activation_rate": {Type: TargetFloor, Value: 1.0}},
	}
	p := withObjective(testProblem(cs,
		cand("INIT-000001", 500, nil, map[string]float64{"activation_rate": 1.2}),
		cand("INIT-000002", 500, nil, map[string]float64{"activation_rate": 0.1}),
	), map[string]int64{"INIT-000001": 1, "INIT-000002": 100})
	sol := solve(t, p)
	require.Equal(t, StatusOptimal, sol.Status)
	assert.Contains(t, sol.SelectedKeys(), "INIT-000001")
}

func TestSolveInfeasible(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.Mandatory["INIT-000001"] = true
	p := withObjective(testProblem(cs,
		cand("INIT-000001", 2000, nil, nil), // exceeds total capacity
	), map[string]int64{"INIT-000001": 1})
	sol := solve(t, p)
	assert.Equal(t, StatusInfeasible, sol.Status)
	assert.Empty(t, sol.Items)
}

func TestSolveDeterministic(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.ExclusionPairs = append(cs.ExclusionPairs, ExclusionPair{A: "INIT-000002", B: "INIT-000005"})
	cands := []Candidate{
		cand("INIT-000001", 300, nil, nil),
		cand("INIT-000002", 250, nil, nil),
		cand("INIT-000003", 200, nil, nil),
		cand("INIT-000004", 350, nil, nil),
		cand("INIT-000005", 150, nil, nil),
	}
	coeffs := map[string]int64{
		"INIT-000001": 30, "INIT-000002": 25, "INIT-000003": 25,
		"INIT-000004": 35, "INIT-000005": 20,
	}
	first := solve(t, withObjective(testProblem(cs, cands...), coeffs))
	for i := 0; i < 10; i++ {
		again := solve(t, withObjective(testProblem(cs, cands...), coeffs))
		assert.Equal(t, first.SelectedKeys(), again.SelectedKeys())
		assert.Equal(t, first.TotalObjective, again.TotalObjective)
	}
}

func TestSolveLexicographicStages(t *testing.T) {
	p := testProblem(newSet(SetKey{"q3", "base"}),
		Candidate{InitiativeKey: "INIT-000001", EngineeringTokens: 500, Dimensions: map[string]string{},
			KPIContributions: map[string]float64{"north_star": 2, "secondary": 0}},
		Candidate{InitiativeKey: "INIT-000002", EngineeringTokens: 500, Dimensions: map[string]string{},
			KPIContributions: map[string]float64{"north_star": 2, "secondary": 5}},
		Candidate{InitiativeKey: "INIT-000003", EngineeringTokens: 500, Dimensions: map[string]string{},
			KPIContributions: map[string]float64{"north_star": 1, "secondary": 9}},
	)
	p.Objective = ObjectiveSpec{Mode: "lexicographic", Priorities: []string{"north_star", "secondary"}}

	sol, err := SolveLexicographic(context.Background(), &BranchBoundSolver{TimeLimit: 5 * time.Second}, p)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	// Stage one fixes north_star at 4 (both 2-point items fit); stage
	// two then prefers INIT-000002 over INIT-000001's zero secondary.
	assert.Equal(t, []string{"INIT-000001", "INIT-000002"}, sol.SelectedKeys())
	stages, ok := sol.Diagnostics["stages"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, stages, 2)
}
