package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/optimize"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.SQL.Close() })
	require.NoError(t, db.InitAll(context.Background()))
	return db
}

func f64(v float64) *float64 { return &v }

func i64(v int64) *int64 { return &v }

func TestOpenDialectDetection(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.SQL.Close()
	assert.Equal(t, DialectSQLite, db.Dialect)

	pg, err := Open("postgres://roadmap@localhost:5432/roadmap?sslmode=disable")
	require.NoError(t, err)
	defer pg.SQL.Close()
	assert.Equal(t, DialectPostgres, pg.Dialect)
}

func TestInitiativeRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	inits := NewInitiativeStore(db)

	deadline := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	in := &model.Initiative{
		InitiativeKey:     "INIT-000001",
		Title:             "Faster onboarding",
		Status:            model.StatusNew,
		Country:           "DE",
		IsMandatory:       true,
		EffortEngDays:     f64(12),
		DeadlineDate:      &deadline,
		KPIContribution:   map[string]float64{"revenue_eur": 5000},
		EngineeringTokens: i64(30),
		UpdatedAt:         time.Now().UTC(),
	}
	require.NoError(t, inits.Create(ctx, in))
	require.NotZero(t, in.ID)

	got, err := inits.GetByKey(ctx, "INIT-000001")
	require.NoError(t, err)
	assert.Equal(t, "Faster onboarding", got.Title)
	assert.Equal(t, "DE", got.Country)
	assert.True(t, got.IsMandatory)
	require.NotNil(t, got.EffortEngDays)
	assert.Equal(t, 12.0, *got.EffortEngDays)
	require.NotNil(t, got.DeadlineDate)
	assert.Equal(t, deadline, got.DeadlineDate.UTC())
	assert.Equal(t, map[string]float64{"revenue_eur": 5000}, got.KPIContribution)
	require.NotNil(t, got.EngineeringTokens)
	assert.EqualValues(t, 30, *got.EngineeringTokens)

	got.Title = "Faster onboarding v2"
	got.RiceOverallScore = f64(1050)
	require.NoError(t, inits.Update(ctx, got))
	again, err := inits.GetByKey(ctx, "INIT-000001")
	require.NoError(t, err)
	assert.Equal(t, "Faster onboarding v2", again.Title)
	require.NotNil(t, again.RiceOverallScore)
	assert.Equal(t, 1050.0, *again.RiceOverallScore)

	dup := &model.Initiative{InitiativeKey: "INIT-000001", Title: "dup", Status: model.StatusNew, UpdatedAt: time.Now()}
	assert.ErrorIs(t, inits.Create(ctx, dup), ErrConflict)
}

func TestNextKeySequence(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	inits := NewInitiativeStore(db)

	key, err := inits.NextKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "INIT-000001", key)

	require.NoError(t, inits.Create(ctx, &model.Initiative{
		InitiativeKey: "INIT-000041", Title: "t", Status: model.StatusNew, UpdatedAt: time.Now(),
	}))
	key, err = inits.NextKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "INIT-000042", key)
}

func TestClaimProtocol(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ledger := NewActionRunStore(db)

	// Empty queue claims nothing.
	run, err := ledger.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, run)

	older := &model.ActionRun{RunID: "run_a", Action: "pm.backlog_sync", CreatedAt: time.Now().UTC().Add(-time.Minute)}
	newer := &model.ActionRun{RunID: "run_b", Action: "pm.score_selected", Payload: []byte(`{"action":"pm.score_selected"}`)}
	require.NoError(t, ledger.Enqueue(ctx, older))
	require.NoError(t, ledger.Enqueue(ctx, newer))

	first, err := ledger.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "run_a", first.RunID)
	assert.Equal(t, model.RunStatusRunning, first.Status)
	require.NotNil(t, first.StartedAt)

	require.NoError(t, ledger.MarkSucceeded(ctx, first.RunID, []byte(`{"saved_count":3}`)))
	done, err := ledger.Get(ctx, "run_a")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, done.Status)
	assert.JSONEq(t, `{"saved_count":3}`, string(done.Result))
	require.NotNil(t, done.FinishedAt)

	second, err := ledger.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "run_b", second.RunID)
	assert.Contains(t, string(second.Payload), "pm.score_selected")

	require.NoError(t, ledger.MarkFailed(ctx, second.RunID, nil, "scenario not found"))
	failed, err := ledger.Get(ctx, "run_b")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, failed.Status)
	assert.Equal(t, "scenario not found", failed.ErrorText)

	third, err := ledger.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestFailStuckRuns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ledger := NewActionRunStore(db)

	stuck := &model.ActionRun{RunID: "run_stuck", Action: "pm.optimize_run_all_candidates"}
	require.NoError(t, ledger.Enqueue(ctx, stuck))
	claimed, err := ledger.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Age the running row past the horizon.
	_, err = db.SQL.ExecContext(ctx, `UPDATE action_runs SET started_at = $1 WHERE run_id = $2`,
		time.Now().UTC().Add(-3*time.Hour), "run_stuck")
	require.NoError(t, err)

	n, err := ledger.FailStuckRuns(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	swept, err := ledger.Get(ctx, "run_stuck")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, swept.Status)
	assert.Contains(t, swept.ErrorText, "stuck")
}

func TestNorthStarInvariant(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	metrics := NewMetricConfigStore(db)

	_, err := metrics.ActiveNorthStar(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, metrics.Upsert(ctx, &model.OrganizationMetricConfig{
		KPIKey: "revenue_eur", KPIName: "Revenue", KPILevel: model.KPILevelNorthStar,
		IsActive: true, UpdatedAt: time.Now(),
	}))
	ns, err := metrics.ActiveNorthStar(ctx)
	require.NoError(t, err)
	assert.Equal(t, "revenue_eur", ns.KPIKey)

	require.NoError(t, metrics.Upsert(ctx, &model.OrganizationMetricConfig{
		KPIKey: "active_users", KPIName: "Active users", KPILevel: model.KPILevelNorthStar,
		IsActive: true, UpdatedAt: time.Now(),
	}))
	_, err = metrics.ActiveNorthStar(ctx)
	assert.ErrorIs(t, err, ErrNorthStarViolation)
	assert.ErrorIs(t, metrics.CheckNorthStarInvariant(ctx), ErrNorthStarViolation)
}

func TestParamUpsertAndApprovedEnv(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	params := NewParamStore(db)

	_, err := params.Get(ctx, "INIT-000001", model.FrameworkMathModel, "arpu", "uplift_v1")
	assert.ErrorIs(t, err, ErrNotFound)

	rows := []*model.InitiativeParam{
		{InitiativeKey: "INIT-000001", Framework: model.FrameworkMathModel, ParamName: "arpu",
			ModelName: "uplift_v1", Value: f64(9.5), Approved: true, UpdatedAt: time.Now()},
		{InitiativeKey: "INIT-000001", Framework: model.FrameworkMathModel, ParamName: "reach",
			ModelName: "uplift_v1", Value: f64(10000), Approved: false, UpdatedAt: time.Now()},
		{InitiativeKey: "INIT-000001", Framework: model.FrameworkMathModel, ParamName: "conversion",
			ModelName: "other_model", Value: f64(0.1), Approved: true, UpdatedAt: time.Now()},
	}
	for _, p := range rows {
		require.NoError(t, params.Upsert(ctx, p))
	}

	// Second upsert of the same natural key updates in place.
	require.NoError(t, params.Upsert(ctx, &model.InitiativeParam{
		InitiativeKey: "INIT-000001", Framework: model.FrameworkMathModel, ParamName: "arpu",
		ModelName: "uplift_v1", Value: f64(11), Approved: true, UpdatedAt: time.Now(),
	}))
	got, err := params.Get(ctx, "INIT-000001", model.FrameworkMathModel, "arpu", "uplift_v1")
	require.NoError(t, err)
	assert.Equal(t, 11.0, *got.Value)

	all, err := params.List(ctx, "INIT-000001", model.FrameworkMathModel, "uplift_v1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Unapproved and other-model params stay out of the environment.
	env, err := params.ApprovedEnv(ctx, "INIT-000001", "uplift_v1")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"arpu": 11}, env)
}

func TestConstraintSetRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	scenarios := NewScenarioStore(db)

	require.NoError(t, scenarios.UpsertScenario(ctx, &model.OptimizationScenario{
		Name: "Q3_2026", PeriodKey: "2026-Q3", CapacityTotalTokens: 120,
		ObjectiveMode: model.ObjectiveNorthStar, UpdatedAt: time.Now(),
	}))
	sc, err := scenarios.GetScenario(ctx, "Q3_2026")
	require.NoError(t, err)
	assert.EqualValues(t, 120, sc.CapacityTotalTokens)

	_, _, err = scenarios.GetConstraintSet(ctx, "Q3_2026", "default")
	assert.ErrorIs(t, err, ErrNotFound)

	cs := &optimize.ConstraintSetCompiled{
		ScenarioName: "Q3_2026",
		SetName:      "default",
		Mandatory:    map[string]bool{"INIT-000001": true},
		CapacityCaps: map[string]map[string]int64{"country": {"DE": 40}},
		Targets: map[string]map[string]map[string]optimize.TargetSpec{
			"all": {"all": {"revenue_eur": {Type: optimize.TargetFloor, Value: 100000}}},
		},
	}
	id, err := scenarios.SaveConstraintSet(ctx, "Q3_2026", "default", cs, "flow4.sync")
	require.NoError(t, err)
	require.NotZero(t, id)

	// Re-save replaces in place under the same id.
	cs.CapacityCaps["country"]["DE"] = 50
	id2, err := scenarios.SaveConstraintSet(ctx, "Q3_2026", "default", cs, "flow4.sync")
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	gotID, got, err := scenarios.GetConstraintSet(ctx, "Q3_2026", "default")
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.EqualValues(t, 50, got.CapacityCaps["country"]["DE"])
	assert.True(t, got.Mandatory["INIT-000001"])
	assert.Equal(t, optimize.TargetFloor, got.Targets["all"]["all"]["revenue_eur"].Type)
}

func TestClaimUsesSkipLockedOnPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{SQL: sqlDB, Dialect: DialectPostgres}
	ledger := NewActionRunStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(model.RunStatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "run_id", "action", "status", "payload_json", "result_json", "error_text",
			"requested_by_json", "created_at", "started_at", "finished_at",
		}))
	mock.ExpectCommit()

	run, err := ledger.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}
