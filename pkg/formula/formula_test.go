package formula

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateScriptBasic(t *testing.T) {
	env := map[string]float64{"reach": 100, "conversion": 0.2}
	out, err := EvaluateScript("uplift = reach * conversion\nvalue = uplift * 12", env, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 20.0, out["uplift"])
	assert.Equal(t, 240.0, out["value"])
	// Input env is untouched.
	assert.Len(t, env, 2)
}

func TestEvaluateScriptOperators(t *testing.T) {
	cases := []struct {
		script string
		want   float64
	}{
		{"value = 2 + 3 * 4", 14},
		{"value = (2 + 3) * 4", 20},
		{"value = 2 ** 3 ** 2", 512}, // right-associative
		{"value = -2 ** 2", -4},      // unary binds looser than **
		{"value = 2 ** -1", 0.5},
		{"value = min(3, 1, 2)", 1},
		{"value = max(3, 1, 2)", 3},
		{"value = abs(-7)", 7},
		{"value = round(2.5)", 2}, // half-to-even
		{"value = sqrt(16)", 4},
		{"value = exp(0)", 1},
		{"value = log(1)", 0},
	}
	for _, tc := range cases {
		out, err := EvaluateScript(tc.script, nil, time.Second)
		require.NoError(t, err, tc.script)
		assert.InDelta(t, tc.want, out["value"], 1e-12, tc.script)
	}
}

func TestEvaluateScriptDivisionByZero(t *testing.T) {
	_, err := EvaluateScript("value = 1 / 0", nil, time.Second)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeDivisionByZero, execErr.Code)
}

func TestEvaluateScriptNonFinite(t *testing.T) {
	_, err := EvaluateScript("value = log(0 - 1)", nil, time.Second)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeNonFinite, execErr.Code)
}

func TestEvaluateScriptMissingValue(t *testing.T) {
	_, err := EvaluateScript("x = 1", nil, time.Second)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeMissingValue, execErr.Code)
}

func TestEvaluateScriptUndefinedIdentifier(t *testing.T) {
	_, err := EvaluateScript("value = missing * 2", map[string]float64{}, time.Second)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeUndefinedName, execErr.Code)
}

func TestForbiddenConstructsRejectedAtParse(t *testing.T) {
	bad := []string{
		"value = a.b",          // attribute access
		"value = a[0]",         // subscript
		"value = foo(1)",       // unknown function
		"value = 1 == 1",       // comparison
		"value = 1 < 2",        // comparison operator characters
		"value = [1, 2]",       // list literal
		"value = 'x'",          // string literal
		"min = 3",              // assigning a function name
		"value = lambda x: x",  // lambda-ish
		"import os",            // statement
		"value = min(1)",       // bad arity
		"value = sqrt(1, 2)",   // bad arity
		"",                     // empty
		"value = ",             // dangling assignment
	}
	for _, script := range bad {
		_, err := EvaluateScript(script, nil, time.Second)
		var invalid *InvalidFormulaError
		assert.ErrorAs(t, err, &invalid, "script %q", script)
	}
}

func TestExtractIdentifiers(t *testing.T) {
	ids, err := ExtractIdentifiers("uplift = reach * conversion\nvalue = uplift * arpu + reach")
	require.NoError(t, err)
	// Free variables only, first-occurrence order, deduplicated;
	// uplift is bound by the first statement.
	assert.Equal(t, []string{"reach", "conversion", "arpu"}, ids)
}

func TestExtractIdentifiersBareExpression(t *testing.T) {
	ids, err := ExtractIdentifiers("reach * min(conversion, cap)")
	require.NoError(t, err)
	assert.Equal(t, []string{"reach", "conversion", "cap"}, ids)
}

func TestValidateFormula(t *testing.T) {
	warnings, err := ValidateFormula("x = 1\nx = 2\ny = 3", 2)
	require.NoError(t, err)
	require.Len(t, warnings, 3)
	assert.Contains(t, warnings[0], "max 2")
	assert.Contains(t, warnings[1], "reassigns")
	assert.Contains(t, warnings[2], "never assigns 'value'")

	_, err = ValidateFormula("value = a & b", 10)
	var invalid *InvalidFormulaError
	assert.ErrorAs(t, err, &invalid)
}

func TestCommentsAndSemicolons(t *testing.T) {
	out, err := EvaluateScript("# monthly uplift\nx = 2; value = x * 3", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 6.0, out["value"])
}
