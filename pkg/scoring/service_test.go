package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

func testService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.SQL.Close() })
	require.NoError(t, db.InitAll(context.Background()))
	svc := &Service{
		Initiatives: store.NewInitiativeStore(db),
		Models:      store.NewMathModelStore(db),
		Params:      store.NewParamStore(db),
		Metrics:     store.NewMetricConfigStore(db),
		History:     store.NewScoreHistoryStore(db),
	}
	return svc, db
}

func seedScored(t *testing.T, svc *Service, key string) *model.Initiative {
	t.Helper()
	ctx := context.Background()
	in := &model.Initiative{
		InitiativeKey: key,
		Title:         "initiative " + key,
		Status:        model.StatusNew,
		EffortEngDays: fptr(20),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, svc.Initiatives.Create(ctx, in))

	riceParams := map[string]float64{"rice_reach": 10000, "rice_impact": 3, "rice_confidence": 0.7, "rice_effort": 20}
	for name, v := range riceParams {
		require.NoError(t, svc.Params.Upsert(ctx, &model.InitiativeParam{
			InitiativeKey: key, Framework: model.FrameworkRICE, ParamName: name,
			Value: fptr(v), Approved: true, UpdatedAt: time.Now(),
		}))
	}
	wsjfParams := map[string]float64{"wsjf_business_value": 8, "wsjf_time_criticality": 5, "wsjf_risk_reduction": 3, "wsjf_job_size": 4}
	for name, v := range wsjfParams {
		require.NoError(t, svc.Params.Upsert(ctx, &model.InitiativeParam{
			InitiativeKey: key, Framework: model.FrameworkWSJF, ParamName: name,
			Value: fptr(v), Approved: true, UpdatedAt: time.Now(),
		}))
	}
	return in
}

func fptr(v float64) *float64 { return &v }

func TestScoreAllFrameworksKeepsTriplesIsolated(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	in := seedScored(t, svc, "INIT-000001")

	results, err := svc.ScoreAllFrameworks(ctx, in)
	require.NoError(t, err)
	require.Contains(t, results, model.FrameworkRICE)
	require.Contains(t, results, model.FrameworkWSJF)
	assert.NotContains(t, results, model.FrameworkMathModel, "math model is opt-in")

	got, err := svc.Initiatives.GetByKey(ctx, "INIT-000001")
	require.NoError(t, err)

	// RICE: value = reach*impact*confidence, overall = value/effort.
	require.NotNil(t, got.RiceValueScore)
	assert.InDelta(t, 21000, *got.RiceValueScore, 1e-9)
	require.NotNil(t, got.RiceOverallScore)
	assert.InDelta(t, 1050, *got.RiceOverallScore, 1e-9)

	// WSJF: (bv + tc + rr) / job_size.
	require.NotNil(t, got.WsjfOverallScore)
	assert.InDelta(t, 4, *got.WsjfOverallScore, 1e-9)

	// Nothing touched the active fields.
	assert.Nil(t, got.ValueScore)
	assert.Nil(t, got.OverallScore)
	assert.Empty(t, string(got.ActiveScoringFramework))
	assert.Nil(t, got.MathOverallScore)
}

func TestActivateFrameworkCopiesWithoutRecompute(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	in := seedScored(t, svc, "INIT-000002")
	_, err := svc.ScoreAllFrameworks(ctx, in)
	require.NoError(t, err)

	require.NoError(t, svc.ActivateFramework(ctx, in, model.FrameworkWSJF))

	got, err := svc.Initiatives.GetByKey(ctx, "INIT-000002")
	require.NoError(t, err)
	assert.Equal(t, model.FrameworkWSJF, got.ActiveScoringFramework)
	require.NotNil(t, got.OverallScore)
	assert.InDelta(t, *got.WsjfOverallScore, *got.OverallScore, 1e-9)
	assert.Equal(t, SourceActivate, got.ScoringUpdatedSource)
	require.NotNil(t, got.ScoringUpdatedAt)

	// Activating a framework with no computed triple clears the active
	// fields rather than keeping stale numbers.
	require.NoError(t, svc.ActivateFramework(ctx, got, model.FrameworkMathModel))
	cleared, err := svc.Initiatives.GetByKey(ctx, "INIT-000002")
	require.NoError(t, err)
	assert.Equal(t, model.FrameworkMathModel, cleared.ActiveScoringFramework)
	assert.Nil(t, cleared.OverallScore)

	assert.Error(t, svc.ActivateFramework(ctx, got, model.Framework("NOPE")))
}

func TestComputeForInitiativesCollectsFailures(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	seedScored(t, svc, "INIT-000003")

	sum, err := svc.ComputeForInitiatives(ctx, []string{"INIT-000003", "INIT-999999"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scored)
	assert.Equal(t, 1, sum.Failed)
	require.NotEmpty(t, sum.Warnings)
	assert.Contains(t, sum.Warnings[len(sum.Warnings)-1], "INIT-999999")
}

func TestMathModelScoringUsesRepresentative(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	in := seedScored(t, svc, "INIT-000004")
	in.UseMathModel = true
	require.NoError(t, svc.Initiatives.Update(ctx, in))

	require.NoError(t, svc.Metrics.Upsert(ctx, &model.OrganizationMetricConfig{
		KPIKey: "revenue_eur", KPIName: "Revenue", KPILevel: model.KPILevelNorthStar,
		IsActive: true, UpdatedAt: time.Now(),
	}))
	require.NoError(t, svc.Models.Upsert(ctx, &model.InitiativeMathModel{
		InitiativeKey:  "INIT-000004",
		ModelName:      "uplift_v1",
		TargetKPIKey:   "revenue_eur",
		FormulaText:    "uplift = reach * conversion\nvalue = uplift * arpu",
		IsPrimary:      true,
		ApprovedByUser: true,
		UpdatedAt:      time.Now(),
	}))
	env := map[string]float64{"reach": 10000, "conversion": 0.02, "arpu": 9.5}
	for name, v := range env {
		require.NoError(t, svc.Params.Upsert(ctx, &model.InitiativeParam{
			InitiativeKey: "INIT-000004", Framework: model.FrameworkMathModel,
			ParamName: name, ModelName: "uplift_v1",
			Value: fptr(v), Approved: true, UpdatedAt: time.Now(),
		}))
	}

	results, err := svc.ScoreAllFrameworks(ctx, in)
	require.NoError(t, err)
	require.Contains(t, results, model.FrameworkMathModel)

	got, err := svc.Initiatives.GetByKey(ctx, "INIT-000004")
	require.NoError(t, err)
	require.NotNil(t, got.MathValueScore)
	assert.InDelta(t, 1900, *got.MathValueScore, 1e-9)
	require.NotNil(t, got.MathOverallScore)
	assert.InDelta(t, 95, *got.MathOverallScore, 1e-9)

	m, err := svc.Models.Get(ctx, "INIT-000004", "uplift_v1")
	require.NoError(t, err)
	require.NotNil(t, m.ComputedScore)
	assert.InDelta(t, 1900, *m.ComputedScore, 1e-9)
	assert.NotNil(t, m.LastComputedAt)
}

func TestScoreHistoryAppendsWhenEnabled(t *testing.T) {
	svc, _ := testService(t)
	svc.EnableHistory = true
	ctx := context.Background()
	in := seedScored(t, svc, "INIT-000005")

	_, err := svc.ScoreAllFrameworks(ctx, in)
	require.NoError(t, err)

	n, err := svc.History.CountForInitiative(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
