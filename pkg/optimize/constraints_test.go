package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestCompileGroupsByScenarioAndSet(t *testing.T) {
	rows := []RawConstraintRow{
		{RowNumber: 4, ScenarioName: "q3", SetName: "base", Kind: KindCapacityCap, Dimension: "country", DimensionKey: "DE", Value: f64(500)},
		{RowNumber: 5, ScenarioName: "q3", SetName: "strict", Kind: KindMandatory, InitiativeKey: "INIT-000001"},
		{RowNumber: 6, ScenarioName: "q4", SetName: "base", Kind: KindExclusionInitiative, InitiativeKey: "INIT-000002"},
	}
	sets, msgs := Compile(rows, nil, nil)
	require.Empty(t, msgs)
	require.Len(t, sets, 3)
	assert.EqualValues(t, 500, sets[SetKey{"q3", "base"}].CapacityCaps["country"]["DE"])
	assert.True(t, sets[SetKey{"q3", "strict"}].Mandatory["INIT-000001"])
	assert.True(t, sets[SetKey{"q4", "base"}].ExclusionInitiatives["INIT-000002"])
}

func TestCompileDuplicateCapKeepsFirst(t *testing.T) {
	rows := []RawConstraintRow{
		{RowNumber: 4, ScenarioName: "q3", SetName: "base", Kind: KindCapacityFloor, Dimension: "team", DimensionKey: "growth", Value: f64(100)},
		{RowNumber: 5, ScenarioName: "q3", SetName: "base", Kind: KindCapacityFloor, Dimension: "team", DimensionKey: "growth", Value: f64(900)},
	}
	sets, msgs := Compile(rows, nil, nil)
	require.Len(t, msgs, 1)
	assert.Equal(t, "warn", msgs[0].Severity)
	assert.Equal(t, 5, msgs[0].RowNumber)
	assert.EqualValues(t, 100, sets[SetKey{"q3", "base"}].CapacityFloors["team"]["growth"])
}

func TestCompileNormalizesExclusionPairs(t *testing.T) {
	rows := []RawConstraintRow{
		{RowNumber: 4, ScenarioName: "q3", SetName: "base", Kind: KindExclusionPair, InitiativeKey: "INIT-000002", SecondKey: "INIT-000001"},
		{RowNumber: 5, ScenarioName: "q3", SetName: "base", Kind: KindExclusionPair, InitiativeKey: "INIT-000001", SecondKey: "INIT-000002"},
		{RowNumber: 6, ScenarioName: "q3", SetName: "base", Kind: KindExclusionPair, InitiativeKey: "INIT-000003", SecondKey: "INIT-000003"},
	}
	sets, msgs := Compile(rows, nil, nil)
	cs := sets[SetKey{"q3", "base"}]
	require.Len(t, cs.ExclusionPairs, 1)
	assert.Equal(t, ExclusionPair{A: "INIT-000001", B: "INIT-000002"}, cs.ExclusionPairs[0])

	require.Len(t, msgs, 2)
	assert.Equal(t, "warn", msgs[0].Severity) // duplicate reversed pair
	assert.Equal(t, "error", msgs[1].Severity)
}

func TestCompileMergesPrerequisites(t *testing.T) {
	rows := []RawConstraintRow{
		{RowNumber: 4, ScenarioName: "q3", SetName: "base", Kind: KindPrerequisite, InitiativeKey: "INIT-000003", SecondKey: "INIT-000001"},
		{RowNumber: 5, ScenarioName: "q3", SetName: "base", Kind: KindPrerequisite, InitiativeKey: "INIT-000003", Members: []string{"INIT-000002", "INIT-000001"}},
	}
	sets, msgs := Compile(rows, nil, nil)
	require.Empty(t, msgs)
	cs := sets[SetKey{"q3", "base"}]
	assert.Equal(t, []string{"INIT-000001", "INIT-000002"}, cs.Prerequisites["INIT-000003"])
}

func TestCompileRejectsSmallBundlesAndSynergies(t *testing.T) {
	rows := []RawConstraintRow{
		{RowNumber: 4, ScenarioName: "q3", SetName: "base", Kind: KindBundle, Name: "solo", Members: []string{"INIT-000001"}},
		{RowNumber: 5, ScenarioName: "q3", SetName: "base", Kind: KindSynergyBonus, Members: []string{"INIT-000001"}, Value: f64(3)},
	}
	sets, msgs := Compile(rows, nil, nil)
	cs := sets[SetKey{"q3", "base"}]
	assert.Empty(t, cs.Bundles)
	assert.Empty(t, cs.SynergyBonuses)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "error", m.Severity)
	}
}

func TestCompileTargets(t *testing.T) {
	valid := map[string]bool{"activation_rate": true}
	targets := []RawTargetRow{
		{RowNumber: 4, ScenarioName: "q3", SetName: "base", KPIKey: "activation_rate", TargetType: TargetFloor, Value: f64(0.5)},
		{RowNumber: 5, ScenarioName: "q3", SetName: "base", Dimension: "country", DimensionKey: "DE", KPIKey: "activation_rate", TargetType: TargetGoal, Value: f64(0.2)},
		{RowNumber: 6, ScenarioName: "q3", SetName: "base", KPIKey: "churn", TargetType: TargetFloor, Value: f64(0.1)},
		{RowNumber: 7, ScenarioName: "q3", SetName: "base", KPIKey: "activation_rate", TargetType: "ceiling", Value: f64(1)},
	}
	sets, msgs := Compile(nil, targets, valid)
	cs := sets[SetKey{"q3", "base"}]
	assert.Equal(t, TargetSpec{Type: TargetFloor, Value: 0.5}, cs.Targets[UnscopedDimension][UnscopedDimension]["activation_rate"])
	assert.Equal(t, TargetSpec{Type: TargetGoal, Value: 0.2}, cs.Targets["country"]["DE"]["activation_rate"])

	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Text, "unknown KPI")
	assert.Contains(t, msgs[1].Text, "floor or goal")
}

func TestReferencedKeysSorted(t *testing.T) {
	cs := newSet(SetKey{"q3", "base"})
	cs.Mandatory["INIT-000009"] = true
	cs.ExclusionPairs = append(cs.ExclusionPairs, ExclusionPair{A: "INIT-000001", B: "INIT-000004"})
	cs.Prerequisites["INIT-000002"] = []string{"INIT-000001"}
	cs.SynergyBonuses = append(cs.SynergyBonuses, SynergyBonus{Members: []string{"INIT-000003", "INIT-000004"}, Bonus: 1})

	assert.Equal(t, []string{"INIT-000001", "INIT-000002", "INIT-000003", "INIT-000004", "INIT-000009"},
		cs.ReferencedKeys())
}
