package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SheetProfile declares the spreadsheets and tabs the platform syncs.
type SheetProfile struct {
	// Intake spreadsheets, one per requesting department.
	IntakeSheets []IntakeSheet `yaml:"intake_sheets"`

	// Central backlog workbook.
	BacklogSheetID string `yaml:"backlog_sheet_id"`
	BacklogTab     string `yaml:"backlog_tab"`

	// ProductOps workbook tabs.
	ProductOpsSheetID   string `yaml:"productops_sheet_id"`
	ScoringInputsTab    string `yaml:"scoring_inputs_tab"`
	MathModelsTab       string `yaml:"math_models_tab"`
	ParamsTab           string `yaml:"params_tab"`
	MetricsConfigTab    string `yaml:"metrics_config_tab"`
	KPIContributionsTab string `yaml:"kpi_contributions_tab"`

	// Optimization Center workbook tabs (data starts at row 4; rows 2-3
	// carry human-readable hints).
	OptimizationSheetID string `yaml:"optimization_sheet_id"`
	CandidatesTab       string `yaml:"candidates_tab"`
	ConstraintsTab      string `yaml:"constraints_tab"`
	TargetsTab          string `yaml:"targets_tab"`
	ScenarioConfigTab   string `yaml:"scenario_config_tab"`
	RunsTab             string `yaml:"runs_tab"`
	ResultsTab          string `yaml:"results_tab"`
	GapsTab             string `yaml:"gaps_tab"`
}

// IntakeSheet is one department-owned intake tab.
type IntakeSheet struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	Tab           string `yaml:"tab"`
}

// DefaultSheetProfile carries the tab names used when no profile file is
// supplied; spreadsheet ids must always come from the profile.
func DefaultSheetProfile() *SheetProfile {
	return &SheetProfile{
		BacklogTab:          "Central_Backlog",
		ScoringInputsTab:    "Scoring_Inputs",
		MathModelsTab:       "MathModels",
		ParamsTab:           "Params",
		MetricsConfigTab:    "Metrics_Config",
		KPIContributionsTab: "KPI_Contributions",
		CandidatesTab:       "Candidates",
		ConstraintsTab:      "Constraints",
		TargetsTab:          "Targets",
		ScenarioConfigTab:   "Scenario_Config",
		RunsTab:             "Runs",
		ResultsTab:          "Results",
		GapsTab:             "Gaps",
	}
}

// LoadSheetProfile reads a SheetProfile YAML file, filling unset tab
// names from the defaults.
func LoadSheetProfile(path string) (*SheetProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sheet profile: %w", err)
	}
	p := DefaultSheetProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse sheet profile %s: %w", path, err)
	}
	return p, nil
}
