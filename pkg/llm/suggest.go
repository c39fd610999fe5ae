package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// ModelSuggestion is one proposed math model for an initiative. It is
// always written with suggested_by_llm set and approved_by_user clear.
type ModelSuggestion struct {
	ModelName    string            `json:"model_name"`
	TargetKPIKey string            `json:"target_kpi_key"`
	MetricChain  []string          `json:"metric_chain"`
	FormulaText  string            `json:"formula_text"`
	Assumptions  string            `json:"assumptions"`
	Params       []ParamSuggestion `json:"params"`
}

// ParamSuggestion is one input the suggested formula reads.
type ParamSuggestion struct {
	Name        string   `json:"name"`
	Value       *float64 `json:"value"`
	Unit        string   `json:"unit"`
	Description string   `json:"description"`
}

const suggestSystemPrompt = `You are a product analytics assistant. Given an initiative and the
organization's KPI registry, propose one quantitative value model.
Respond with a single JSON object and nothing else, with keys:
model_name, target_kpi_key, metric_chain (array of KPI keys, leaf
first), formula_text (one assignment per line, the last line must
assign "value", operators + - * / and parentheses only), assumptions,
params (array of {name, value, unit, description}).
target_kpi_key must be one of the registry keys you are given.`

// SuggestMathModel asks the client for one model proposal grounded in
// the initiative's narrative fields and the active KPI registry.
func SuggestMathModel(ctx context.Context, c Client, init *model.Initiative, kpis []*model.OrganizationMetricConfig) (*ModelSuggestion, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Initiative %s: %s\n", init.InitiativeKey, init.Title)
	if init.ProblemStatement != "" {
		fmt.Fprintf(&sb, "Problem: %s\n", init.ProblemStatement)
	}
	if init.DesiredOutcome != "" {
		fmt.Fprintf(&sb, "Desired outcome: %s\n", init.DesiredOutcome)
	}
	if init.Hypothesis != "" {
		fmt.Fprintf(&sb, "Hypothesis: %s\n", init.Hypothesis)
	}
	sb.WriteString("KPI registry:\n")
	for _, k := range kpis {
		fmt.Fprintf(&sb, "- %s (%s, %s)\n", k.KPIKey, k.KPILevel, k.Unit)
	}

	resp, err := c.Chat(ctx, []Message{
		{Role: "system", Content: suggestSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, &SamplingOptions{Temperature: 0.2})
	if err != nil {
		return nil, err
	}
	return ParseSuggestion(resp.Content)
}

// ParseSuggestion decodes a suggestion object from a chat reply,
// tolerating markdown code fences around the JSON.
func ParseSuggestion(content string) (*ModelSuggestion, error) {
	text := strings.TrimSpace(content)
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}
	if i := strings.LastIndex(text, "}"); i >= 0 {
		text = text[:i+1]
	}
	var out ModelSuggestion
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("llm: malformed suggestion: %w", err)
	}
	if out.ModelName == "" || out.FormulaText == "" {
		return nil, fmt.Errorf("llm: suggestion missing model_name or formula_text")
	}
	return &out, nil
}

// FakeClient replays canned responses for tests and dry runs.
type FakeClient struct {
	Responses []string
	Err       error
	Calls     int
}

func (f *FakeClient) Chat(_ context.Context, _ []Message, _ *SamplingOptions) (*Response, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Responses) == 0 {
		return nil, fmt.Errorf("fake llm: no responses configured")
	}
	r := f.Responses[0]
	if len(f.Responses) > 1 {
		f.Responses = f.Responses[1:]
	}
	return &Response{Content: r}, nil
}
