package sheetval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "Yes", "y", "1", "✅", "✔", "OK"} {
		v, ok := ParseBool(s)
		assert.True(t, ok, s)
		assert.True(t, v, s)
	}
	for _, s := range []string{"false", "No", "n", "0", "", "❌"} {
		v, ok := ParseBool(s)
		assert.True(t, ok, s)
		assert.False(t, v, s)
	}
	_, ok := ParseBool("maybe")
	assert.False(t, ok)
}

func TestParseFloat(t *testing.T) {
	assert.Equal(t, 12.5, *ParseFloat("12.5"))
	assert.Equal(t, 1200.0, *ParseFloat(" 1,200 "))
	assert.Equal(t, 80.0, *ParseFloat("80%"))
	assert.Equal(t, 3.0, *ParseFloat(3.0))
	assert.Nil(t, ParseFloat(""))
	assert.Nil(t, ParseFloat("n/a"))
	assert.Nil(t, ParseFloat(nil))
}

func TestParseDate(t *testing.T) {
	iso := ParseDate("2026-03-31")
	require.NotNil(t, iso)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), *iso)

	dayFirst := ParseDate("31/03/2026")
	require.NotNil(t, dayFirst)
	assert.Equal(t, *iso, *dayFirst)

	dashed := ParseDate("31-03-2026")
	require.NotNil(t, dashed)
	assert.Equal(t, *iso, *dashed)

	// Month-first only fires when the value cannot be day-first.
	usOnly := ParseDate("03/31/2026")
	require.NotNil(t, usOnly)
	assert.Equal(t, *iso, *usOnly)

	assert.Nil(t, ParseDate("not a date"))
	assert.Nil(t, ParseDate(""))
}

func TestParseJSONMap(t *testing.T) {
	m, ok := ParseJSONMap(`{"revenue": 85.5, "retention": 72.3}`)
	require.True(t, ok)
	assert.Equal(t, 85.5, m["revenue"])

	m, ok = ParseJSONMap("")
	assert.True(t, ok)
	assert.Nil(t, m)

	_, ok = ParseJSONMap("{broken")
	assert.False(t, ok)
}

func TestParseMetricChain(t *testing.T) {
	assert.Equal(t, []string{"signup_rate", "activation", "revenue"},
		ParseMetricChain("signup_rate -> activation -> revenue"))
	assert.Equal(t, []string{"a", "b"}, ParseMetricChain("a → b"))
	assert.Equal(t, []string{"a", "b"}, ParseMetricChain("a, b"))
	assert.Nil(t, ParseMetricChain(" "))
}

func TestSheetScalar(t *testing.T) {
	now := time.Date(2026, 1, 27, 13, 54, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-27T13:54:00Z", SheetScalar(now))
	f := 1.5
	assert.Equal(t, 1.5, SheetScalar(&f))
	var nilF *float64
	assert.Equal(t, "", SheetScalar(nilF))
	assert.Equal(t, `{"revenue":85.5}`, SheetScalar(map[string]float64{"revenue": 85.5}))
	assert.Equal(t, "", SheetScalar(nil))
}

func TestNewStamp(t *testing.T) {
	s := NewStamp("flow1.intake_sync", time.Date(2026, 1, 27, 13, 54, 0, 0, time.UTC))
	assert.Equal(t, "flow1.intake_sync", s.UpdatedSource)
	assert.Equal(t, "2026-01-27T13:54:00Z", s.UpdatedAt)
}
