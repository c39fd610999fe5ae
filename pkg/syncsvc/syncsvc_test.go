package syncsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

const sid = "sheet-1"

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.SQL.Close() })
	require.NoError(t, db.InitAll(context.Background()))
	return db
}

func seedInitiative(t *testing.T, db *store.DB, key string, mutate func(*model.Initiative)) *model.Initiative {
	t.Helper()
	init := &model.Initiative{
		InitiativeKey:  key,
		Title:          "Seeded " + key,
		RequestingTeam: "growth",
		Status:         model.StatusNew,
		UpdatedSource:  "seed",
	}
	if mutate != nil {
		mutate(init)
	}
	require.NoError(t, store.NewInitiativeStore(db).Create(context.Background(), init))
	return init
}

func TestIntakeSyncCreatesAndBackfills(t *testing.T) {
	db := testDB(t)
	grid := sheetio.NewFake()
	grid.Seed(sid, "Team_Growth", 1, [][]any{
		{"Initiative Key", "Title", "Requesting Team", "Engineering Days", "Status"},
		{"", "Checkout revamp", "growth", "40", ""},
		{"", "Referral program", "growth", "12.4", "withdrawn"},
	})

	s := &IntakeSync{Grid: grid, SpreadsheetID: sid, Tab: "Team_Growth",
		Initiatives: store.NewInitiativeStore(db)}
	out, backfills, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Upserts)
	assert.Zero(t, out.Failures)
	require.Len(t, backfills, 2)
	assert.Equal(t, KeyBackfill{RowNumber: 2, Key: "INIT-000001"}, backfills[0])
	assert.Equal(t, KeyBackfill{RowNumber: 3, Key: "INIT-000002"}, backfills[1])

	init, err := s.Initiatives.GetByKey(context.Background(), "INIT-000001")
	require.NoError(t, err)
	assert.Equal(t, "Checkout revamp", init.Title)
	assert.Equal(t, model.StatusNew, init.Status)
	assert.Equal(t, sid, init.SourceSheetID)
	assert.Equal(t, 2, init.SourceRowNumber)
	require.NotNil(t, init.EngineeringTokens)
	assert.Equal(t, int64(40), *init.EngineeringTokens)
	assert.Equal(t, SourceIntakeSync, init.UpdatedSource)

	second, err := s.Initiatives.GetByKey(context.Background(), "INIT-000002")
	require.NoError(t, err)
	assert.Equal(t, model.StatusWithdrawn, second.Status)

	require.NoError(t, s.FlushBackfills(context.Background(), backfills))
	assert.Equal(t, "INIT-000001", grid.Cell(sid, "Team_Growth", 2, 1))
	assert.Equal(t, "INIT-000002", grid.Cell(sid, "Team_Growth", 3, 1))
}

func TestIntakeSyncMatchesBySourceRow(t *testing.T) {
	db := testDB(t)
	seedInitiative(t, db, "INIT-000007", func(i *model.Initiative) {
		i.SourceSheetID, i.SourceTabName, i.SourceRowNumber = sid, "Team_Growth", 2
		i.Status = model.StatusScheduled
	})
	grid := sheetio.NewFake()
	grid.Seed(sid, "Team_Growth", 1, [][]any{
		{"Initiative Key", "Title", "Status"},
		{"", "Renamed initiative", "rejected"},
	})

	s := &IntakeSync{Grid: grid, SpreadsheetID: sid, Tab: "Team_Growth",
		Initiatives: store.NewInitiativeStore(db)}
	out, backfills, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Upserts)
	assert.Empty(t, backfills)
	// Intake may not write "rejected"; a warning records the refusal.
	assert.NotEmpty(t, out.Warnings)

	init, err := s.Initiatives.GetByKey(context.Background(), "INIT-000007")
	require.NoError(t, err)
	assert.Equal(t, "Renamed initiative", init.Title)
	assert.Equal(t, model.StatusScheduled, init.Status)
}

func TestIntakeSyncUnknownKeyFails(t *testing.T) {
	db := testDB(t)
	grid := sheetio.NewFake()
	grid.Seed(sid, "Team_Growth", 1, [][]any{
		{"Initiative Key", "Title"},
		{"INIT-999999", "Ghost row"},
	})
	s := &IntakeSync{Grid: grid, SpreadsheetID: sid, Tab: "Team_Growth",
		Initiatives: store.NewInitiativeStore(db)}
	out, _, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failures)
	assert.Contains(t, out.RowStatus[2], "FAILED:")
}

func TestBacklogSyncUpdatesCentralFields(t *testing.T) {
	db := testDB(t)
	seedInitiative(t, db, "INIT-000001", nil)
	grid := sheetio.NewFake()
	grid.Seed(sid, "Central_Backlog", 1, [][]any{
		{"Initiative Key", "Status", "Framework", "Use Math Model", "Priority Coefficient", "Candidate", "Period", "Tokens"},
		{"INIT-000001", "under_review", "WSJF", "TRUE", "1.5", "TRUE", "2026-Q4", "38.6"},
	})

	s := &BacklogSync{Grid: grid, SpreadsheetID: sid, Tab: "Central_Backlog",
		Initiatives: store.NewInitiativeStore(db)}
	out, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Upserts)

	init, err := s.Initiatives.GetByKey(context.Background(), "INIT-000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderReview, init.Status)
	assert.Equal(t, model.FrameworkWSJF, init.ActiveScoringFramework)
	assert.True(t, init.UseMathModel)
	assert.True(t, init.IsOptimizationCandidate)
	assert.Equal(t, "2026-Q4", init.CandidatePeriodKey)
	require.NotNil(t, init.StrategicPriorityCoefficient)
	assert.Equal(t, 1.5, *init.StrategicPriorityCoefficient)
	require.NotNil(t, init.EngineeringTokens)
	assert.Equal(t, int64(39), *init.EngineeringTokens)
	assert.Equal(t, SourceBacklogUpdate, init.UpdatedSource)
}

func TestBacklogSyncRejectsInvalidEnums(t *testing.T) {
	db := testDB(t)
	seedInitiative(t, db, "INIT-000001", nil)
	seedInitiative(t, db, "INIT-000002", nil)
	grid := sheetio.NewFake()
	grid.Seed(sid, "Central_Backlog", 1, [][]any{
		{"Initiative Key", "Status", "Framework"},
		{"INIT-000001", "done", ""},
		{"INIT-000002", "", "MoSCoW"},
		{"", "new", ""},
	})

	s := &BacklogSync{Grid: grid, SpreadsheetID: sid, Tab: "Central_Backlog",
		Initiatives: store.NewInitiativeStore(db)}
	out, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Failures)
	assert.Equal(t, 1, out.SkippedNoKey)
	assert.Contains(t, out.RowStatus[2], "invalid status")
	assert.Contains(t, out.RowStatus[3], "invalid scoring framework")
}

func TestScoringInputsStrongSync(t *testing.T) {
	db := testDB(t)
	seedInitiative(t, db, "INIT-000001", nil)
	params := store.NewParamStore(db)
	ctx := context.Background()

	// Pre-existing confidence that the blank cell must clear.
	pre := 0.9
	require.NoError(t, params.Upsert(ctx, &model.InitiativeParam{
		InitiativeKey: "INIT-000001", Framework: model.FrameworkRICE,
		ParamName: "rice_confidence", Value: &pre, Approved: true,
	}))

	grid := sheetio.NewFake()
	grid.Seed(sid, "Scoring_Inputs", 1, [][]any{
		{"Initiative Key", "Reach", "Impact", "Confidence", "Rice Effort", "Business Value", "Time Criticality", "Risk Reduction", "Job Size", "Framework"},
		{"INIT-000001", "10000", "3", "", "20", "8", "5", "3", "4", "RICE"},
	})

	s := &ScoringInputsSync{Grid: grid, SpreadsheetID: sid, Tab: "Scoring_Inputs",
		Initiatives: store.NewInitiativeStore(db), Params: params}
	out, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Upserts)

	reach, err := params.Get(ctx, "INIT-000001", model.FrameworkRICE, "rice_reach", "")
	require.NoError(t, err)
	require.NotNil(t, reach.Value)
	assert.Equal(t, 10000.0, *reach.Value)
	assert.True(t, reach.Approved)
	assert.Equal(t, SourceReadInputs, reach.UpdatedSource)

	conf, err := params.Get(ctx, "INIT-000001", model.FrameworkRICE, "rice_confidence", "")
	require.NoError(t, err)
	assert.Nil(t, conf.Value, "blank cell clears the stored value")

	job, err := params.Get(ctx, "INIT-000001", model.FrameworkWSJF, "wsjf_job_size", "")
	require.NoError(t, err)
	require.NotNil(t, job.Value)
	assert.Equal(t, 4.0, *job.Value)

	init, err := s.Initiatives.GetByKey(ctx, "INIT-000001")
	require.NoError(t, err)
	assert.Equal(t, model.FrameworkRICE, init.ActiveScoringFramework)
	assert.Equal(t, SourceReadInputs, init.ScoringUpdatedSource)
	require.NotNil(t, init.ScoringUpdatedAt)
}

func TestMathModelsSyncUpsertAndSinglePrimary(t *testing.T) {
	db := testDB(t)
	seedInitiative(t, db, "INIT-000001", nil)
	models := store.NewMathModelStore(db)
	ctx := context.Background()

	score := 42.0
	require.NoError(t, models.Upsert(ctx, &model.InitiativeMathModel{
		InitiativeKey: "INIT-000001", ModelName: "Old primary",
		IsPrimary: true, ComputedScore: &score,
	}))

	grid := sheetio.NewFake()
	grid.Seed(sid, "MathModels", 1, [][]any{
		{"Initiative Key", "Model Name", "Target KPI", "Formula", "Primary", "Approved"},
		{"INIT-000001", "Old primary", "revenue", "value = a * b", "", "TRUE"},
		{"INIT-000001", "New primary", "revenue", "value = a + b", "TRUE", "TRUE"},
	})

	s := &MathModelsSync{Grid: grid, SpreadsheetID: sid, Tab: "MathModels",
		Initiatives: store.NewInitiativeStore(db), Models: models}
	out, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Upserts)

	old, err := models.Get(ctx, "INIT-000001", "Old primary")
	require.NoError(t, err)
	assert.False(t, old.IsPrimary)
	assert.Equal(t, "value = a * b", old.FormulaText)
	require.NotNil(t, old.ComputedScore, "computed score survives the sheet sync")
	assert.Equal(t, 42.0, *old.ComputedScore)

	fresh, err := models.Get(ctx, "INIT-000001", "New primary")
	require.NoError(t, err)
	assert.True(t, fresh.IsPrimary)
}

func TestParamsSyncRangeValidation(t *testing.T) {
	db := testDB(t)
	seedInitiative(t, db, "INIT-000001", nil)
	grid := sheetio.NewFake()
	grid.Seed(sid, "Params", 1, [][]any{
		{"Initiative Key", "Framework", "Param Name", "Model Name", "Value", "Min", "Max", "Approved"},
		{"INIT-000001", "MATH_MODEL", "conversion", "M1", "0.05", "0", "1", "TRUE"},
		{"INIT-000001", "MATH_MODEL", "conversion_bad", "M1", "1.5", "0", "1", "TRUE"},
		{"INIT-000001", "SWAG", "reach", "", "10", "", "", ""},
	})

	s := &ParamsSync{Grid: grid, SpreadsheetID: sid, Tab: "Params",
		Initiatives: store.NewInitiativeStore(db), Params: store.NewParamStore(db)}
	out, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Upserts)
	assert.Equal(t, 2, out.Failures)
	assert.Contains(t, out.RowStatus[3], "above max")
	assert.Contains(t, out.RowStatus[4], "invalid framework")

	p, err := s.Params.Get(context.Background(), "INIT-000001", model.FrameworkMathModel, "conversion", "M1")
	require.NoError(t, err)
	require.NotNil(t, p.Value)
	assert.Equal(t, 0.05, *p.Value)
}

func TestMetricsConfigSyncEnforcesSingleNorthStar(t *testing.T) {
	db := testDB(t)
	grid := sheetio.NewFake()
	grid.Seed(sid, "Metrics_Config", 1, [][]any{
		{"KPI Key", "KPI Name", "Level", "Active"},
		{"revenue", "Revenue", "north_star", "TRUE"},
		{"retention", "Retention", "north_star", "TRUE"},
	})
	s := &MetricsConfigSync{Grid: grid, SpreadsheetID: sid, Tab: "Metrics_Config",
		Metrics: store.NewMetricConfigStore(db)}
	_, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "north-star")
}

func TestMetricsConfigSyncUpserts(t *testing.T) {
	db := testDB(t)
	grid := sheetio.NewFake()
	grid.Seed(sid, "Metrics_Config", 1, [][]any{
		{"KPI Key", "KPI Name", "Level", "Unit", "Active"},
		{"revenue", "Revenue", "north_star", "EUR", "TRUE"},
		{"retention", "Retention", "strategic", "%", "TRUE"},
		{"bad_level", "Bad", "vanity", "", "TRUE"},
	})
	s := &MetricsConfigSync{Grid: grid, SpreadsheetID: sid, Tab: "Metrics_Config",
		Metrics: store.NewMetricConfigStore(db)}
	out, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Upserts)
	assert.Equal(t, 1, out.Failures)

	ns, err := s.Metrics.ActiveNorthStar(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "revenue", ns.KPIKey)
}

func seedRegistry(t *testing.T, db *store.DB) {
	t.Helper()
	metrics := store.NewMetricConfigStore(db)
	for _, m := range []*model.OrganizationMetricConfig{
		{KPIKey: "revenue", KPIName: "Revenue", KPILevel: model.KPILevelNorthStar, IsActive: true},
		{KPIKey: "retention", KPIName: "Retention", KPILevel: model.KPILevelStrategic, IsActive: true},
		{KPIKey: "ops_tickets", KPIName: "Tickets", KPILevel: model.KPILevelOperational, IsActive: true},
	} {
		require.NoError(t, metrics.Upsert(context.Background(), m))
	}
}

func TestKPIContributionsOverrideAndFilter(t *testing.T) {
	db := testDB(t)
	seedRegistry(t, db)
	seedInitiative(t, db, "INIT-000001", nil)
	grid := sheetio.NewFake()
	grid.Seed(sid, "KPI_Contributions", 1, [][]any{
		{"Initiative Key", "KPI Contribution JSON"},
		{"INIT-000001", `{"revenue": 80, "ops_tickets": 5, "unknown_kpi": 1}`},
	})

	s := &KPIContributionsSync{Grid: grid, SpreadsheetID: sid, Tab: "KPI_Contributions",
		Initiatives: store.NewInitiativeStore(db), Metrics: store.NewMetricConfigStore(db)}
	out, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Upserts)
	assert.NotEmpty(t, out.Warnings)

	init, err := s.Initiatives.GetByKey(context.Background(), "INIT-000001")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"revenue": 80}, init.KPIContribution)
	assert.Equal(t, model.KPISourcePMOverride, init.KPIContributionSource)
}

func TestKPIContributionsBlankUnlocks(t *testing.T) {
	db := testDB(t)
	seedRegistry(t, db)
	seedInitiative(t, db, "INIT-000001", func(i *model.Initiative) {
		i.KPIContribution = map[string]float64{"revenue": 50}
		i.KPIContributionSource = model.KPISourcePMOverride
	})
	seedInitiative(t, db, "INIT-000002", nil)
	grid := sheetio.NewFake()
	grid.Seed(sid, "KPI_Contributions", 1, [][]any{
		{"Initiative Key", "KPI Contribution JSON"},
		{"INIT-000001", ""},
		{"INIT-000002", ""},
	})

	s := &KPIContributionsSync{Grid: grid, SpreadsheetID: sid, Tab: "KPI_Contributions",
		Initiatives: store.NewInitiativeStore(db), Metrics: store.NewMetricConfigStore(db)}
	out, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Unlocked)
	assert.Equal(t, 1, out.Skipped, "blank on a non-overridden row is a no-op")

	init, err := s.Initiatives.GetByKey(context.Background(), "INIT-000001")
	require.NoError(t, err)
	assert.Nil(t, init.KPIContribution)
	assert.Empty(t, init.KPIContributionSource)
}

func TestKPIContributionsMalformedJSON(t *testing.T) {
	db := testDB(t)
	seedRegistry(t, db)
	seedInitiative(t, db, "INIT-000001", nil)
	grid := sheetio.NewFake()
	grid.Seed(sid, "KPI_Contributions", 1, [][]any{
		{"Initiative Key", "KPI Contribution JSON"},
		{"INIT-000001", `{"revenue": `},
	})

	s := &KPIContributionsSync{Grid: grid, SpreadsheetID: sid, Tab: "KPI_Contributions",
		Initiatives: store.NewInitiativeStore(db), Metrics: store.NewMetricConfigStore(db)}
	out, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failures)
	assert.Contains(t, out.RowStatus[2], "malformed")

	init, err := s.Initiatives.GetByKey(context.Background(), "INIT-000001")
	require.NoError(t, err)
	assert.Nil(t, init.KPIContribution, "malformed JSON never reaches the DB")
}
