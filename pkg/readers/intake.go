package readers

import (
	"context"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/header"
	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/sheetio"
	"github.com/roadmapintel/roadmapd/pkg/sheetval"
)

// IntakeRow is one row of a team intake tab. Only intake-owned fields
// appear here; scores and KPI fields are never read from intake tabs.
type IntakeRow struct {
	RowNumber        int
	InitiativeKey    string // blank until the key backfill writes it
	Title            string
	RequestingTeam   string
	RequesterName    string
	RequesterEmail   string
	Country          string
	ProductArea      string
	ProblemStatement string
	DesiredOutcome   string
	Hypothesis       string
	CustomerSegment  string
	InitiativeType   string
	StrategicTheme   string
	DeadlineDate     *time.Time
	ImpactLow        *float64
	ImpactExpected   *float64
	ImpactHigh       *float64
	EffortTShirt     string
	EffortEngDays    *float64
	RiskLevel        string
	IsMandatory      bool
	DependenciesText string
	Status           model.Status
}

// IntakeAliases maps canonical intake fields to the header spellings
// teams actually use.
var IntakeAliases = header.AliasMap{
	"initiative_key":    {"key", "init key", "id"},
	"title":             {"initiative title", "name"},
	"requesting_team":   {"team", "requesting team name"},
	"requester_name":    {"requester", "requested by"},
	"requester_email":   {"email", "requester e-mail"},
	"country":           {"market", "region"},
	"product_area":      {"area", "product"},
	"problem_statement": {"problem", "pain point"},
	"desired_outcome":   {"outcome", "expected outcome"},
	"hypothesis":        {},
	"customer_segment":  {"segment"},
	"initiative_type":   {"type"},
	"strategic_theme":   {"theme"},
	"deadline_date":     {"deadline", "due date"},
	"impact_low":        {"impact (low)", "low impact"},
	"impact_expected":   {"impact (expected)", "expected impact", "impact"},
	"impact_high":       {"impact (high)", "high impact"},
	"effort_tshirt":     {"t-shirt size", "effort size"},
	"effort_eng_days":   {"engineering days", "effort (days)", "eng days"},
	"risk_level":        {"risk"},
	"is_mandatory":      {"mandatory", "must do"},
	"dependencies_text": {"dependencies", "depends on"},
	"status":            {},
}

// ReadIntake reads one intake tab into typed rows.
func ReadIntake(ctx context.Context, grid sheetio.Grid, spreadsheetID, tab string) ([]IntakeRow, error) {
	raw, err := ReadTable(ctx, grid, spreadsheetID, tab, IntakeAliases, Options{})
	if err != nil {
		return nil, err
	}
	out := make([]IntakeRow, 0, len(raw))
	for _, r := range raw {
		out = append(out, IntakeRow{
			RowNumber:        r.Number,
			InitiativeKey:    r.Str("initiative_key"),
			Title:            r.Str("title"),
			RequestingTeam:   r.Str("requesting_team"),
			RequesterName:    r.Str("requester_name"),
			RequesterEmail:   r.Str("requester_email"),
			Country:          r.Str("country"),
			ProductArea:      r.Str("product_area"),
			ProblemStatement: r.Str("problem_statement"),
			DesiredOutcome:   r.Str("desired_outcome"),
			Hypothesis:       r.Str("hypothesis"),
			CustomerSegment:  r.Str("customer_segment"),
			InitiativeType:   r.Str("initiative_type"),
			StrategicTheme:   r.Str("strategic_theme"),
			DeadlineDate:     sheetval.ParseDate(r.Get("deadline_date")),
			ImpactLow:        r.Float("impact_low"),
			ImpactExpected:   r.Float("impact_expected"),
			ImpactHigh:       r.Float("impact_high"),
			EffortTShirt:     r.Str("effort_tshirt"),
			EffortEngDays:    r.Float("effort_eng_days"),
			RiskLevel:        r.Str("risk_level"),
			IsMandatory:      r.Bool("is_mandatory"),
			DependenciesText: r.Str("dependencies_text"),
			Status:           model.Status(r.Str("status")),
		})
	}
	return out, nil
}
