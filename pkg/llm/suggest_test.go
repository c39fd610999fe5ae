package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

const sampleSuggestion = `{
	"model_name": "Checkout uplift",
	"target_kpi_key": "revenue",
	"metric_chain": ["conversion_rate", "revenue"],
	"formula_text": "uplift = sessions * conversion_delta\nvalue = uplift * aov",
	"assumptions": "Assumes stable traffic.",
	"params": [
		{"name": "sessions", "value": 100000, "unit": "visits/month", "description": "Monthly checkout sessions"},
		{"name": "conversion_delta", "unit": "ratio", "description": "Expected conversion lift"}
	]
}`

func TestParseSuggestion(t *testing.T) {
	s, err := ParseSuggestion(sampleSuggestion)
	require.NoError(t, err)
	assert.Equal(t, "Checkout uplift", s.ModelName)
	assert.Equal(t, "revenue", s.TargetKPIKey)
	assert.Equal(t, []string{"conversion_rate", "revenue"}, s.MetricChain)
	require.Len(t, s.Params, 2)
	require.NotNil(t, s.Params[0].Value)
	assert.Equal(t, 100000.0, *s.Params[0].Value)
	assert.Nil(t, s.Params[1].Value)
}

func TestParseSuggestionStripsCodeFence(t *testing.T) {
	s, err := ParseSuggestion("```json\n" + sampleSuggestion + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Checkout uplift", s.ModelName)
}

func TestParseSuggestionRejectsIncomplete(t *testing.T) {
	_, err := ParseSuggestion(`{"model_name": "X"}`)
	assert.Error(t, err)
	_, err = ParseSuggestion("not json at all")
	assert.Error(t, err)
}

func TestSuggestMathModel(t *testing.T) {
	fake := &FakeClient{Responses: []string{sampleSuggestion}}
	init := &model.Initiative{InitiativeKey: "INIT-000001", Title: "Checkout revamp"}
	kpis := []*model.OrganizationMetricConfig{{KPIKey: "revenue", KPILevel: model.KPILevelNorthStar}}

	s, err := SuggestMathModel(context.Background(), fake, init, kpis)
	require.NoError(t, err)
	assert.Equal(t, "revenue", s.TargetKPIKey)
	assert.Equal(t, 1, fake.Calls)
}
