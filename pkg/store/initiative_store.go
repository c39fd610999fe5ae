package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// InitiativeStore persists Initiative rows.
type InitiativeStore struct {
	db *DB
}

func NewInitiativeStore(db *DB) *InitiativeStore {
	return &InitiativeStore{db: db}
}

const initiativeSchema = `
CREATE TABLE IF NOT EXISTS initiatives (
	id INTEGER PRIMARY KEY,
	initiative_key TEXT UNIQUE NOT NULL,
	source_sheet_id TEXT,
	source_tab_name TEXT,
	source_row_number INTEGER,
	title TEXT NOT NULL,
	requesting_team TEXT,
	requester_name TEXT,
	requester_email TEXT,
	country TEXT,
	product_area TEXT,
	problem_statement TEXT,
	desired_outcome TEXT,
	hypothesis TEXT,
	customer_segment TEXT,
	initiative_type TEXT,
	strategic_theme TEXT,
	deadline_date TIMESTAMP,
	impact_low DOUBLE PRECISION,
	impact_expected DOUBLE PRECISION,
	impact_high DOUBLE PRECISION,
	effort_tshirt TEXT,
	effort_eng_days DOUBLE PRECISION,
	risk_level TEXT,
	is_mandatory BOOLEAN NOT NULL DEFAULT FALSE,
	dependencies_text TEXT,
	status TEXT NOT NULL,
	active_scoring_framework TEXT,
	use_math_model BOOLEAN NOT NULL DEFAULT FALSE,
	linked_objectives TEXT,
	llm_notes TEXT,
	strategic_priority_coefficient DOUBLE PRECISION,
	rice_value_score DOUBLE PRECISION,
	rice_effort_score DOUBLE PRECISION,
	rice_overall_score DOUBLE PRECISION,
	wsjf_value_score DOUBLE PRECISION,
	wsjf_effort_score DOUBLE PRECISION,
	wsjf_overall_score DOUBLE PRECISION,
	math_value_score DOUBLE PRECISION,
	math_effort_score DOUBLE PRECISION,
	math_overall_score DOUBLE PRECISION,
	value_score DOUBLE PRECISION,
	effort_score DOUBLE PRECISION,
	overall_score DOUBLE PRECISION,
	kpi_contribution_json TEXT,
	kpi_contribution_computed_json TEXT,
	kpi_contribution_source TEXT,
	metric_chain_json TEXT,
	is_optimization_candidate BOOLEAN NOT NULL DEFAULT FALSE,
	candidate_period_key TEXT,
	engineering_tokens BIGINT,
	updated_source TEXT,
	updated_at TIMESTAMP,
	scoring_updated_source TEXT,
	scoring_updated_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_initiatives_source
	ON initiatives (source_sheet_id, source_tab_name, source_row_number);
CREATE INDEX IF NOT EXISTS idx_initiatives_candidate
	ON initiatives (is_optimization_candidate, candidate_period_key);
`

func (s *InitiativeStore) Init(ctx context.Context) error {
	_, err := s.db.SQL.ExecContext(ctx, initiativeSchema)
	return err
}

// initiativeCols is the canonical column order for scans, minus id.
const initiativeCols = `initiative_key, source_sheet_id, source_tab_name, source_row_number,
	title, requesting_team, requester_name, requester_email, country, product_area,
	problem_statement, desired_outcome, hypothesis, customer_segment, initiative_type,
	strategic_theme, deadline_date, impact_low, impact_expected, impact_high,
	effort_tshirt, effort_eng_days, risk_level, is_mandatory, dependencies_text,
	status, active_scoring_framework, use_math_model, linked_objectives, llm_notes,
	strategic_priority_coefficient,
	rice_value_score, rice_effort_score, rice_overall_score,
	wsjf_value_score, wsjf_effort_score, wsjf_overall_score,
	math_value_score, math_effort_score, math_overall_score,
	value_score, effort_score, overall_score,
	kpi_contribution_json, kpi_contribution_computed_json, kpi_contribution_source,
	metric_chain_json, is_optimization_candidate, candidate_period_key, engineering_tokens,
	updated_source, updated_at, scoring_updated_source, scoring_updated_at`

func initiativeArgs(i *model.Initiative) ([]any, error) {
	kpiJSON, err := jsonText(i.KPIContribution)
	if err != nil {
		return nil, err
	}
	kpiComputedJSON, err := jsonText(i.KPIContributionComputed)
	if err != nil {
		return nil, err
	}
	chainJSON, err := jsonText(i.MetricChain)
	if err != nil {
		return nil, err
	}
	return []any{
		i.InitiativeKey, i.SourceSheetID, i.SourceTabName, i.SourceRowNumber,
		i.Title, i.RequestingTeam, i.RequesterName, i.RequesterEmail, i.Country, i.ProductArea,
		i.ProblemStatement, i.DesiredOutcome, i.Hypothesis, i.CustomerSegment, i.InitiativeType,
		i.StrategicTheme, nullTime(i.DeadlineDate), nullFloat(i.ImpactLow), nullFloat(i.ImpactExpected), nullFloat(i.ImpactHigh),
		i.EffortTShirt, nullFloat(i.EffortEngDays), i.RiskLevel, i.IsMandatory, i.DependenciesText,
		string(i.Status), string(i.ActiveScoringFramework), i.UseMathModel, i.LinkedObjectives, i.LLMNotes,
		nullFloat(i.StrategicPriorityCoefficient),
		nullFloat(i.RiceValueScore), nullFloat(i.RiceEffortScore), nullFloat(i.RiceOverallScore),
		nullFloat(i.WsjfValueScore), nullFloat(i.WsjfEffortScore), nullFloat(i.WsjfOverallScore),
		nullFloat(i.MathValueScore), nullFloat(i.MathEffortScore), nullFloat(i.MathOverallScore),
		nullFloat(i.ValueScore), nullFloat(i.EffortScore), nullFloat(i.OverallScore),
		kpiJSON, kpiComputedJSON, i.KPIContributionSource,
		chainJSON, i.IsOptimizationCandidate, i.CandidatePeriodKey, nullInt(i.EngineeringTokens),
		i.UpdatedSource, i.UpdatedAt, i.ScoringUpdatedSource, nullTime(i.ScoringUpdatedAt),
	}, nil
}

func scanInitiative(row interface{ Scan(...any) error }) (*model.Initiative, error) {
	var i model.Initiative
	var (
		deadline, scoringUpdatedAt                     sql.NullTime
		impactLow, impactExpected, impactHigh          sql.NullFloat64
		effortEngDays, strategicCoeff                  sql.NullFloat64
		riceV, riceE, riceO, wsjfV, wsjfE, wsjfO       sql.NullFloat64
		mathV, mathE, mathO, actV, actE, actO          sql.NullFloat64
		kpiJSON, kpiComputedJSON, chainJSON            sql.NullString
		kpiSource, framework                           sql.NullString
		engineeringTokens                              sql.NullInt64
		status                                         string
		sourceRow                                      sql.NullInt64
		srcSheet, srcTab, updatedSource, scoringSource sql.NullString
		reqTeam, reqName, reqEmail, country, area      sql.NullString
		problem, outcome, hypothesis, segment, itype   sql.NullString
		theme, tshirt, risk, deps, linked, llmNotes    sql.NullString
		periodKey                                      sql.NullString
	)
	err := row.Scan(
		&i.ID,
		&i.InitiativeKey, &srcSheet, &srcTab, &sourceRow,
		&i.Title, &reqTeam, &reqName, &reqEmail, &country, &area,
		&problem, &outcome, &hypothesis, &segment, &itype,
		&theme, &deadline, &impactLow, &impactExpected, &impactHigh,
		&tshirt, &effortEngDays, &risk, &i.IsMandatory, &deps,
		&status, &framework, &i.UseMathModel, &linked, &llmNotes,
		&strategicCoeff,
		&riceV, &riceE, &riceO,
		&wsjfV, &wsjfE, &wsjfO,
		&mathV, &mathE, &mathO,
		&actV, &actE, &actO,
		&kpiJSON, &kpiComputedJSON, &kpiSource,
		&chainJSON, &i.IsOptimizationCandidate, &periodKey, &engineeringTokens,
		&updatedSource, &i.UpdatedAt, &scoringSource, &scoringUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	i.SourceSheetID, i.SourceTabName = srcSheet.String, srcTab.String
	i.SourceRowNumber = int(sourceRow.Int64)
	i.RequestingTeam, i.RequesterName, i.RequesterEmail = reqTeam.String, reqName.String, reqEmail.String
	i.Country, i.ProductArea = country.String, area.String
	i.ProblemStatement, i.DesiredOutcome, i.Hypothesis = problem.String, outcome.String, hypothesis.String
	i.CustomerSegment, i.InitiativeType, i.StrategicTheme = segment.String, itype.String, theme.String
	i.DeadlineDate = timePtr(deadline)
	i.ImpactLow, i.ImpactExpected, i.ImpactHigh = floatPtr(impactLow), floatPtr(impactExpected), floatPtr(impactHigh)
	i.EffortTShirt, i.RiskLevel, i.DependenciesText = tshirt.String, risk.String, deps.String
	i.EffortEngDays = floatPtr(effortEngDays)
	i.Status = model.Status(status)
	i.ActiveScoringFramework = model.Framework(framework.String)
	i.LinkedObjectives, i.LLMNotes = linked.String, llmNotes.String
	i.StrategicPriorityCoefficient = floatPtr(strategicCoeff)
	i.RiceValueScore, i.RiceEffortScore, i.RiceOverallScore = floatPtr(riceV), floatPtr(riceE), floatPtr(riceO)
	i.WsjfValueScore, i.WsjfEffortScore, i.WsjfOverallScore = floatPtr(wsjfV), floatPtr(wsjfE), floatPtr(wsjfO)
	i.MathValueScore, i.MathEffortScore, i.MathOverallScore = floatPtr(mathV), floatPtr(mathE), floatPtr(mathO)
	i.ValueScore, i.EffortScore, i.OverallScore = floatPtr(actV), floatPtr(actE), floatPtr(actO)
	i.KPIContribution = jsonMap(kpiJSON)
	i.KPIContributionComputed = jsonMap(kpiComputedJSON)
	i.KPIContributionSource = kpiSource.String
	i.MetricChain = jsonStrings(chainJSON)
	i.CandidatePeriodKey = periodKey.String
	i.EngineeringTokens = intPtr(engineeringTokens)
	i.UpdatedSource = updatedSource.String
	i.ScoringUpdatedSource = scoringSource.String
	i.ScoringUpdatedAt = timePtr(scoringUpdatedAt)
	return &i, nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}

// Create inserts a new initiative and fills in its surrogate id. A
// duplicate initiative_key reports ErrConflict.
func (s *InitiativeStore) Create(ctx context.Context, i *model.Initiative) error {
	args, err := initiativeArgs(i)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO initiatives (%s) VALUES (%s)`, initiativeCols, placeholders(len(args)))
	if _, err := s.db.SQL.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") || strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("initiative %s: %w", i.InitiativeKey, ErrConflict)
		}
		return fmt.Errorf("insert initiative: %w", err)
	}
	row := s.db.SQL.QueryRowContext(ctx, `SELECT id FROM initiatives WHERE initiative_key = $1`, i.InitiativeKey)
	return row.Scan(&i.ID)
}

// Update rewrites the full row by surrogate id.
func (s *InitiativeStore) Update(ctx context.Context, i *model.Initiative) error {
	args, err := initiativeArgs(i)
	if err != nil {
		return err
	}
	cols := strings.Split(initiativeCols, ",")
	sets := make([]string, len(cols))
	for n, c := range cols {
		sets[n] = fmt.Sprintf("%s = $%d", strings.TrimSpace(c), n+1)
	}
	args = append(args, i.ID)
	query := fmt.Sprintf(`UPDATE initiatives SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := s.db.SQL.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update initiative %s: %w", i.InitiativeKey, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// GetByKey loads an initiative by business key.
func (s *InitiativeStore) GetByKey(ctx context.Context, key string) (*model.Initiative, error) {
	query := fmt.Sprintf(`SELECT id, %s FROM initiatives WHERE initiative_key = $1`, initiativeCols)
	return scanInitiative(s.db.SQL.QueryRowContext(ctx, query, key))
}

// GetBySource loads an initiative by its intake provenance triple.
func (s *InitiativeStore) GetBySource(ctx context.Context, sheetID, tab string, rowNumber int) (*model.Initiative, error) {
	query := fmt.Sprintf(
		`SELECT id, %s FROM initiatives WHERE source_sheet_id = $1 AND source_tab_name = $2 AND source_row_number = $3`,
		initiativeCols)
	return scanInitiative(s.db.SQL.QueryRowContext(ctx, query, sheetID, tab, rowNumber))
}

// ListByKeys loads initiatives for the given keys; missing keys are
// simply absent from the result.
func (s *InitiativeStore) ListByKeys(ctx context.Context, keys []string) ([]*model.Initiative, error) {
	out := make([]*model.Initiative, 0, len(keys))
	for _, k := range keys {
		i, err := s.GetByKey(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

// ListAll returns every initiative ordered by key.
func (s *InitiativeStore) ListAll(ctx context.Context) ([]*model.Initiative, error) {
	query := fmt.Sprintf(`SELECT id, %s FROM initiatives ORDER BY initiative_key`, initiativeCols)
	return s.list(ctx, query)
}

// ListCandidates returns optimization candidates for a period.
func (s *InitiativeStore) ListCandidates(ctx context.Context, periodKey string) ([]*model.Initiative, error) {
	query := fmt.Sprintf(
		`SELECT id, %s FROM initiatives WHERE is_optimization_candidate AND candidate_period_key = $1 ORDER BY initiative_key`,
		initiativeCols)
	return s.list(ctx, query, periodKey)
}

func (s *InitiativeStore) list(ctx context.Context, query string, args ...any) ([]*model.Initiative, error) {
	rows, err := s.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Initiative
	for rows.Next() {
		i, err := scanInitiative(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// NextKey assigns the next INIT-NNNNNN business key.
func (s *InitiativeStore) NextKey(ctx context.Context) (string, error) {
	row := s.db.SQL.QueryRowContext(ctx,
		`SELECT initiative_key FROM initiatives ORDER BY initiative_key DESC LIMIT 1`)
	var last string
	err := row.Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return "INIT-000001", nil
	}
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimPrefix(last, "INIT-"))
	if err != nil {
		return "", fmt.Errorf("malformed initiative key %q: %w", last, err)
	}
	return fmt.Sprintf("INIT-%06d", n+1), nil
}
