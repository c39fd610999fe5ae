package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Initiative Key":        "initiative_key",
		"  Requester Name  ":    "requester_name",
		"Impact (Expected)":     "impact_expected",
		"Effort - Eng Days":     "effort_eng_days",
		"KPI/Target":            "kpi_target",
		"UPDATED_AT":            "updated_at",
		"Run Status?":           "run_status",
		"country":               "country",
		"Deadline Date":         "deadline_date",
		"Strategic  Theme":      "strategic_theme",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestResolveIndices(t *testing.T) {
	headers := []string{"Initiative Key", "Title", "Req. Team", "Impact (Expected)", ""}
	aliases := AliasMap{
		"initiative_key":  {"init key", "key"},
		"title":           nil,
		"requesting_team": {"req team", "team"},
		"impact_expected": {"expected impact"},
		"unknown_field":   {"nope"},
	}
	idx := ResolveIndices(headers, aliases)
	assert.Equal(t, 0, idx["initiative_key"])
	assert.Equal(t, 1, idx["title"])
	assert.Equal(t, 2, idx["requesting_team"])
	assert.Equal(t, 3, idx["impact_expected"])
	_, present := idx["unknown_field"]
	assert.False(t, present, "unknown canonical names are simply absent")
}

func TestResolveIndicesFirstColumnWins(t *testing.T) {
	headers := []string{"Title", "Title"}
	idx := ResolveIndices(headers, AliasMap{"title": nil})
	assert.Equal(t, 0, idx["title"])
}

func TestGet(t *testing.T) {
	row := map[string]any{"req_team": "Growth"}
	v, ok := Get(row, "requesting_team", "Req Team")
	assert.True(t, ok)
	assert.Equal(t, "Growth", v)

	_, ok = Get(row, "title")
	assert.False(t, ok)
}
