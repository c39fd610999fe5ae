// Package formula implements the safe arithmetic script language used by
// math-model scoring.
//
// The language is deliberately tiny: a script is a sequence of
// assignments `name = expr`, where expr ranges over float literals,
// identifiers, parentheses, unary +/-, the binary operators + - * / **,
// and a fixed set of functions (min, max, abs, round, log, exp, sqrt).
// Anything else is rejected before evaluation. Scripts are evaluated
// top-to-bottom over a float environment and must assign a variable
// named "value".
//
// Evaluation never touches a general-purpose interpreter; the script is
// parsed into a small AST, validated against the whitelist, and run by a
// bounded tree-walking interpreter.
package formula

import (
	"fmt"
	"math"
	"time"
)

// ResultVar is the variable a script must assign.
const ResultVar = "value"

// Error codes attached to InvalidFormulaError and ExecutionError.
const (
	CodeSyntax             = "syntax_error"
	CodeForbiddenConstruct = "forbidden_construct"
	CodeUnknownFunction    = "unknown_function"
	CodeBadArity           = "bad_arity"
	CodeUndefinedName      = "undefined_identifier"
	CodeDivisionByZero     = "division_by_zero"
	CodeNonFinite          = "non_finite_result"
	CodeMissingValue       = "missing_value"
	CodeTimeout            = "timeout"
)

// InvalidFormulaError reports a script that violates the restricted
// language. Evaluation is never attempted on such a script.
type InvalidFormulaError struct {
	Code    string
	Line    int
	Message string
}

func (e *InvalidFormulaError) Error() string {
	return fmt.Sprintf("invalid formula (line %d): %s: %s", e.Line, e.Code, e.Message)
}

// ExecutionError reports a runtime failure (division by zero, non-finite
// result, undefined identifier, missing result variable, timeout).
type ExecutionError struct {
	Code    string
	Line    int
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("formula execution failed (line %d): %s: %s", e.Line, e.Code, e.Message)
}

// funcs is the fixed function dispatch table. Arity -1 means variadic
// with a minimum of two arguments.
var funcs = map[string]struct {
	arity int
	apply func(args []float64) float64
}{
	"min": {-1, func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			if v < m {
				m = v
			}
		}
		return m
	}},
	"max": {-1, func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			if v > m {
				m = v
			}
		}
		return m
	}},
	"abs":   {1, func(a []float64) float64 { return math.Abs(a[0]) }},
	"round": {1, func(a []float64) float64 { return math.RoundToEven(a[0]) }},
	"log":   {1, func(a []float64) float64 { return math.Log(a[0]) }},
	"exp":   {1, func(a []float64) float64 { return math.Exp(a[0]) }},
	"sqrt":  {1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
}

// IsFunction reports whether name is a whitelisted function.
func IsFunction(name string) bool {
	_, ok := funcs[name]
	return ok
}

// ExtractIdentifiers parses formulaText (a single expression or a full
// script) and returns its free variable names in first-occurrence order.
// Identifiers assigned by an earlier statement are bound, not free;
// function names are never reported.
func ExtractIdentifiers(formulaText string) ([]string, error) {
	script, err := parse(formulaText)
	if err != nil {
		return nil, err
	}
	bound := map[string]bool{}
	seen := map[string]bool{}
	var free []string
	var walk func(n node)
	walk = func(n node) {
		switch v := n.(type) {
		case *varNode:
			if !bound[v.name] && !seen[v.name] {
				seen[v.name] = true
				free = append(free, v.name)
			}
		case *unaryNode:
			walk(v.operand)
		case *binaryNode:
			walk(v.left)
			walk(v.right)
		case *callNode:
			for _, a := range v.args {
				walk(a)
			}
		}
	}
	for _, st := range script.stmts {
		walk(st.expr)
		bound[st.target] = true
	}
	return free, nil
}

// EvaluateScript runs script over a copy of env and returns the final
// environment. The script must assign ResultVar. Execution is bounded by
// timeout; each statement is O(1) so a cooperative per-statement check
// suffices.
func EvaluateScript(script string, env map[string]float64, timeout time.Duration) (map[string]float64, error) {
	parsed, err := parse(script)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(env)+len(parsed.stmts))
	for k, v := range env {
		out[k] = v
	}
	deadline := time.Now().Add(timeout)
	for _, st := range parsed.stmts {
		if timeout > 0 && time.Now().After(deadline) {
			return nil, &ExecutionError{Code: CodeTimeout, Line: st.line, Message: "evaluation exceeded time budget"}
		}
		v, err := evalNode(st.expr, out, st.line)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ExecutionError{Code: CodeNonFinite, Line: st.line, Message: fmt.Sprintf("%s evaluated to a non-finite value", st.target)}
		}
		out[st.target] = v
	}
	if _, ok := out[ResultVar]; !ok {
		return nil, &ExecutionError{Code: CodeMissingValue, Line: 0, Message: "script never assigned 'value'"}
	}
	return out, nil
}

// ValidateFormula statically lints a script. Language violations return
// an *InvalidFormulaError; stylistic findings come back as warnings.
func ValidateFormula(script string, maxLines int) ([]string, error) {
	parsed, err := parse(script)
	if err != nil {
		return nil, err
	}
	var warnings []string
	if maxLines > 0 && len(parsed.stmts) > maxLines {
		warnings = append(warnings, fmt.Sprintf("script has %d statements, max %d", len(parsed.stmts), maxLines))
	}
	assigned := map[string]int{}
	for _, st := range parsed.stmts {
		if prev, ok := assigned[st.target]; ok {
			warnings = append(warnings, fmt.Sprintf("line %d reassigns %q (first assigned line %d)", st.line, st.target, prev))
		} else {
			assigned[st.target] = st.line
		}
	}
	if _, ok := assigned[ResultVar]; !ok {
		warnings = append(warnings, "script never assigns 'value'")
	}
	return warnings, nil
}

func evalNode(n node, env map[string]float64, line int) (float64, error) {
	switch v := n.(type) {
	case *numNode:
		return v.val, nil
	case *varNode:
		x, ok := env[v.name]
		if !ok {
			return 0, &ExecutionError{Code: CodeUndefinedName, Line: line, Message: fmt.Sprintf("identifier %q is not defined", v.name)}
		}
		return x, nil
	case *unaryNode:
		x, err := evalNode(v.operand, env, line)
		if err != nil {
			return 0, err
		}
		if v.op == "-" {
			return -x, nil
		}
		return x, nil
	case *binaryNode:
		l, err := evalNode(v.left, env, line)
		if err != nil {
			return 0, err
		}
		r, err := evalNode(v.right, env, line)
		if err != nil {
			return 0, err
		}
		switch v.op {
		case "+":
			return l + r, nil
		case "-":
			return l - r, nil
		case "*":
			return l * r, nil
		case "/":
			if r == 0 {
				return 0, &ExecutionError{Code: CodeDivisionByZero, Line: line, Message: "division by zero"}
			}
			return l / r, nil
		case "**":
			return math.Pow(l, r), nil
		}
		return 0, &ExecutionError{Code: CodeNonFinite, Line: line, Message: "unknown operator " + v.op}
	case *callNode:
		args := make([]float64, len(v.args))
		for i, a := range v.args {
			x, err := evalNode(a, env, line)
			if err != nil {
				return 0, err
			}
			args[i] = x
		}
		return funcs[v.name].apply(args), nil
	}
	return 0, &ExecutionError{Code: CodeNonFinite, Line: line, Message: "unknown node"}
}
