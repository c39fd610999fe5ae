package optimize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

func i64(v int64) *int64 { return &v }

func scenario(mode string, weights map[string]float64) *model.OptimizationScenario {
	return &model.OptimizationScenario{
		Name:                "q3",
		PeriodKey:           "2026-Q3",
		CapacityTotalTokens: 1000,
		ObjectiveMode:       mode,
		ObjectiveWeights:    weights,
	}
}

func initiative(key string, tokens *int64, kpis map[string]float64) *model.Initiative {
	return &model.Initiative{InitiativeKey: key, EngineeringTokens: tokens, KPIContribution: kpis}
}

func TestBuildProblemSortsAndWarns(t *testing.T) {
	periodEnd := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	early := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	withDeadline := initiative("INIT-000003", i64(50), nil)
	withDeadline.DeadlineDate = &early

	p, warnings, err := BuildProblem(BuildInputs{
		Scenario:     scenario(model.ObjectiveNorthStar, nil),
		NorthStarKey: "north_star",
		Candidates: []*model.Initiative{
			initiative("INIT-000002", i64(100), map[string]float64{"north_star": 1}),
			initiative("INIT-000001", nil, map[string]float64{"north_star": 2}),
			withDeadline,
		},
		PeriodEnd: &periodEnd,
	})
	require.NoError(t, err)

	require.Len(t, p.Candidates, 2)
	assert.Equal(t, "INIT-000001", p.Candidates[0].InitiativeKey)
	assert.Equal(t, "INIT-000002", p.Candidates[1].InitiativeKey)
	assert.EqualValues(t, 0, p.Candidates[0].EngineeringTokens)

	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "engineering_tokens")
	assert.Contains(t, warnings[1], "deadline")
}

func TestBuildProblemSelectedKeysFilter(t *testing.T) {
	p, _, err := BuildProblem(BuildInputs{
		Scenario:     scenario(model.ObjectiveNorthStar, nil),
		NorthStarKey: "north_star",
		Candidates: []*model.Initiative{
			initiative("INIT-000001", i64(10), nil),
			initiative("INIT-000002", i64(10), nil),
		},
		SelectedKeys: []string{"INIT-000002"},
	})
	require.NoError(t, err)
	require.Len(t, p.Candidates, 1)
	assert.Equal(t, "INIT-000002", p.Candidates[0].InitiativeKey)
}

func TestBuildProblemNorthStarObjective(t *testing.T) {
	p, _, err := BuildProblem(BuildInputs{
		Scenario:     scenario(model.ObjectiveNorthStar, nil),
		NorthStarKey: "north_star",
		Candidates: []*model.Initiative{
			initiative("INIT-000001", i64(10), map[string]float64{"north_star": 1.5}),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ScaleKPI(1.5), p.Objective.Coefficients["INIT-000001"])
	assert.Equal(t, "north_star", p.Objective.Diagnostics["north_star_key"])
}

func TestBuildProblemNorthStarRequiresActiveKPI(t *testing.T) {
	_, _, err := BuildProblem(BuildInputs{
		Scenario:   scenario(model.ObjectiveNorthStar, nil),
		Candidates: []*model.Initiative{initiative("INIT-000001", i64(10), nil)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "north-star")
}

func TestBuildProblemWeightedObjective(t *testing.T) {
	active := map[string]*model.OrganizationMetricConfig{
		"activation_rate": {KPIKey: "activation_rate", KPILevel: model.KPILevelStrategic, IsActive: true},
		"retention":       {KPIKey: "retention", KPILevel: model.KPILevelNorthStar, IsActive: true},
	}
	cs := newSet(SetKey{"q3", "base"})
	cs.Targets[UnscopedDimension] = map[string]map[string]TargetSpec{
		UnscopedDimension: {"activation_rate": {Type: TargetGoal, Value: 2.0}},
	}

	p, warnings, err := BuildProblem(BuildInputs{
		Scenario:    scenario(model.ObjectiveWeightedKPIs, map[string]float64{"activation_rate": 0.6, "retention": 0.4}),
		Constraints: cs,
		ActiveKPIs:  active,
		Candidates: []*model.Initiative{
			initiative("INIT-000001", i64(10), map[string]float64{"activation_rate": 1.0, "retention": 0.5}),
		},
	})
	require.NoError(t, err)
	// activation_rate normalized by its target 2.0, retention falls back
	// to scale 1.0 with a warning.
	want := ScaleKPI(0.6*1.0/2.0 + 0.4*0.5)
	assert.Equal(t, want, p.Objective.Coefficients["INIT-000001"])
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "retention")

	sources, ok := p.Objective.Diagnostics["scale_source_map"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "unscoped_target", sources["activation_rate"])
	assert.Equal(t, "fallback", sources["retention"])
}

func TestBuildProblemWeightedRejectsIneligibleKPI(t *testing.T) {
	active := map[string]*model.OrganizationMetricConfig{
		"ops_metric": {KPIKey: "ops_metric", KPILevel: model.KPILevelOperational, IsActive: true},
	}
	_, _, err := BuildProblem(BuildInputs{
		Scenario:   scenario(model.ObjectiveWeightedKPIs, map[string]float64{"ops_metric": 1}),
		ActiveKPIs: active,
		Candidates: []*model.Initiative{initiative("INIT-000001", i64(10), nil)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ineligible")
}

func TestBuildProblemLexicographicPriorities(t *testing.T) {
	p, _, err := BuildProblem(BuildInputs{
		Scenario: scenario(model.ObjectiveLexicographic, map[string]float64{"secondary": 1, "north_star": 2}),
		Candidates: []*model.Initiative{
			initiative("INIT-000001", i64(10), map[string]float64{"north_star": 3, "secondary": 1}),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"north_star", "secondary"}, p.Objective.Priorities)
	// Base coefficients come from the highest-priority KPI.
	assert.Equal(t, ScaleKPI(3), p.Objective.Coefficients["INIT-000001"])
}

func TestTargetScalePrefersUnscopedThenMax(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.Targets["country"] = map[string]map[string]TargetSpec{
		"DE": {"kpi_a": {Type: TargetGoal, Value: 3}},
		"FR": {"kpi_a": {Type: TargetGoal, Value: 7}},
	}
	v, source := targetScale(cs, "kpi_a")
	assert.Equal(t, 7.0, v)
	assert.Equal(t, "max_dimension_target", source)

	cs.Targets[UnscopedDimension] = map[string]map[string]TargetSpec{
		UnscopedDimension: {"kpi_a": {Type: TargetGoal, Value: 5}},
	}
	v, source = targetScale(cs, "kpi_a")
	assert.Equal(t, 5.0, v)
	assert.Equal(t, "unscoped_target", source)

	v, source = targetScale(cs, "kpi_missing")
	assert.Equal(t, 1.0, v)
	assert.Equal(t, "fallback", source)
}

func TestSnapshotStableHash(t *testing.T) {
	p, _, err := BuildProblem(BuildInputs{
		Scenario:     scenario(model.ObjectiveNorthStar, nil),
		NorthStarKey: "north_star",
		Candidates: []*model.Initiative{
			initiative("INIT-000001", i64(10), map[string]float64{"north_star": 1}),
			initiative("INIT-000002", i64(20), map[string]float64{"north_star": 2}),
		},
	})
	require.NoError(t, err)

	raw1, sha1, err := p.Snapshot()
	require.NoError(t, err)
	raw2, sha2, err := p.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, raw1, raw2)
	assert.Equal(t, sha1, sha2)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, sha1)
}

func TestScaleKPIRoundsHalfToEven(t *testing.T) {
	assert.EqualValues(t, 2, ScaleKPI(0.0000025)) // 2.5 rounds to even 2
	assert.EqualValues(t, 4, ScaleKPI(0.0000035)) // 3.5 rounds to even 4
	assert.Equal(t, KPIScale, ScaleKPI(1))
}
