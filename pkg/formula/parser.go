package formula

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokNumber
	tokOp     // + - * / **
	tokAssign // =
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	line int
}

type node interface{ isNode() }

type numNode struct{ val float64 }
type varNode struct{ name string }
type unaryNode struct {
	op      string
	operand node
}
type binaryNode struct {
	op          string
	left, right node
}
type callNode struct {
	name string
	args []node
}

func (*numNode) isNode()    {}
func (*varNode) isNode()    {}
func (*unaryNode) isNode()  {}
func (*binaryNode) isNode() {}
func (*callNode) isNode()   {}

type stmt struct {
	target string
	expr   node
	line   int
}

type scriptAST struct {
	stmts []stmt
}

func lex(src string) ([]token, error) {
	var toks []token
	line := 1
	i := 0
	runes := []rune(src)
	for i < len(runes) {
		c := runes[i]
		switch {
		case c == '\n' || c == ';':
			toks = append(toks, token{tokNewline, "\n", line})
			if c == '\n' {
				line++
			}
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(runes[i:j]), line})
			i = j
		case unicode.IsDigit(c) || (c == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i
			seenDot := false
			for j < len(runes) {
				r := runes[j]
				if unicode.IsDigit(r) {
					j++
					continue
				}
				if r == '.' && !seenDot {
					seenDot = true
					j++
					continue
				}
				break
			}
			toks = append(toks, token{tokNumber, string(runes[i:j]), line})
			i = j
		case c == '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				toks = append(toks, token{tokOp, "**", line})
				i += 2
			} else {
				toks = append(toks, token{tokOp, "*", line})
				i++
			}
		case c == '+' || c == '-' || c == '/':
			toks = append(toks, token{tokOp, string(c), line})
			i++
		case c == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				return nil, &InvalidFormulaError{Code: CodeForbiddenConstruct, Line: line, Message: "comparisons are not allowed"}
			}
			toks = append(toks, token{tokAssign, "=", line})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", line})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", line})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", line})
			i++
		default:
			return nil, &InvalidFormulaError{Code: CodeForbiddenConstruct, Line: line, Message: fmt.Sprintf("character %q is not part of the formula language", string(c))}
		}
	}
	toks = append(toks, token{tokEOF, "", line})
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) skipNewlines() {
	for p.peek().kind == tokNewline {
		p.pos++
	}
}

// parse accepts either a full assignment script or, for convenience in
// identifier extraction, a bare expression (treated as `value = expr`).
func parse(src string) (*scriptAST, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	out := &scriptAST{}
	p.skipNewlines()
	// Bare-expression form: no '=' anywhere in the source.
	if !containsAssign(toks) {
		if p.peek().kind == tokEOF {
			return nil, &InvalidFormulaError{Code: CodeSyntax, Line: 1, Message: "empty formula"}
		}
		line := p.peek().line
		expr, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if err := p.expectEnd(); err != nil {
			return nil, err
		}
		out.stmts = append(out.stmts, stmt{target: ResultVar, expr: expr, line: line})
		return out, nil
	}
	for p.peek().kind != tokEOF {
		t := p.next()
		if t.kind != tokIdent {
			return nil, &InvalidFormulaError{Code: CodeSyntax, Line: t.line, Message: "expected identifier at start of statement"}
		}
		if IsFunction(t.text) {
			return nil, &InvalidFormulaError{Code: CodeForbiddenConstruct, Line: t.line, Message: fmt.Sprintf("cannot assign to function name %q", t.text)}
		}
		if a := p.next(); a.kind != tokAssign {
			return nil, &InvalidFormulaError{Code: CodeSyntax, Line: t.line, Message: "expected '=' after identifier"}
		}
		expr, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		out.stmts = append(out.stmts, stmt{target: t.text, expr: expr, line: t.line})
		switch p.peek().kind {
		case tokNewline:
			p.skipNewlines()
		case tokEOF:
		default:
			return nil, &InvalidFormulaError{Code: CodeSyntax, Line: p.peek().line, Message: fmt.Sprintf("unexpected %q after expression", p.peek().text)}
		}
	}
	if len(out.stmts) == 0 {
		return nil, &InvalidFormulaError{Code: CodeSyntax, Line: 1, Message: "empty formula"}
	}
	return out, nil
}

func containsAssign(toks []token) bool {
	for _, t := range toks {
		if t.kind == tokAssign {
			return true
		}
	}
	return false
}

func (p *parser) expectEnd() error {
	p.skipNewlines()
	if p.peek().kind != tokEOF {
		return &InvalidFormulaError{Code: CodeSyntax, Line: p.peek().line, Message: fmt.Sprintf("unexpected %q after expression", p.peek().text)}
	}
	return nil
}

// Binding powers. ** is right-associative and binds tighter than unary
// minus on its left operand, matching conventional arithmetic.
func infixPower(op string) (left, right int, ok bool) {
	switch op {
	case "+", "-":
		return 10, 11, true
	case "*", "/":
		return 20, 21, true
	case "**":
		return 41, 40, true
	}
	return 0, 0, false
}

func (p *parser) parseExpr(minPower int) (node, error) {
	lhs, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp {
			break
		}
		lp, rp, ok := infixPower(t.text)
		if !ok || lp < minPower {
			break
		}
		p.next()
		rhs, err := p.parseExpr(rp)
		if err != nil {
			return nil, err
		}
		lhs = &binaryNode{op: t.text, left: lhs, right: rhs}
	}
	return lhs, nil
}

func (p *parser) parsePrefix() (node, error) {
	t := p.next()
	switch t.kind {
	case tokOp:
		if t.text == "+" || t.text == "-" {
			operand, err := p.parseExpr(30)
			if err != nil {
				return nil, err
			}
			return &unaryNode{op: t.text, operand: operand}, nil
		}
		return nil, &InvalidFormulaError{Code: CodeSyntax, Line: t.line, Message: fmt.Sprintf("unexpected operator %q", t.text)}
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &InvalidFormulaError{Code: CodeSyntax, Line: t.line, Message: "malformed number " + t.text}
		}
		return &numNode{val: v}, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		if IsFunction(t.text) {
			return nil, &InvalidFormulaError{Code: CodeForbiddenConstruct, Line: t.line, Message: fmt.Sprintf("function %q used without a call", t.text)}
		}
		return &varNode{name: t.text}, nil
	case tokLParen:
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != tokRParen {
			return nil, &InvalidFormulaError{Code: CodeSyntax, Line: t.line, Message: "missing closing parenthesis"}
		}
		return inner, nil
	}
	return nil, &InvalidFormulaError{Code: CodeSyntax, Line: t.line, Message: fmt.Sprintf("unexpected %q", t.text)}
}

func (p *parser) parseCall(name token) (node, error) {
	if !IsFunction(name.text) {
		return nil, &InvalidFormulaError{Code: CodeUnknownFunction, Line: name.line, Message: fmt.Sprintf("call to unknown function %q", name.text)}
	}
	p.next() // consume '('
	var args []node
	if p.peek().kind != tokRParen {
		for {
			a, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
	}
	if r := p.next(); r.kind != tokRParen {
		return nil, &InvalidFormulaError{Code: CodeSyntax, Line: name.line, Message: "missing closing parenthesis in call"}
	}
	f := funcs[name.text]
	if f.arity == -1 {
		if len(args) < 2 {
			return nil, &InvalidFormulaError{Code: CodeBadArity, Line: name.line, Message: fmt.Sprintf("%s expects at least 2 arguments, got %d", name.text, len(args))}
		}
	} else if len(args) != f.arity {
		return nil, &InvalidFormulaError{Code: CodeBadArity, Line: name.line, Message: fmt.Sprintf("%s expects %d argument(s), got %d", name.text, f.arity, len(args))}
	}
	return &callNode{name: name.text, args: args}, nil
}

// String renders a node back to source form, used in diagnostics.
func (s *scriptAST) String() string {
	var b strings.Builder
	for i, st := range s.stmts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s = %s", st.target, render(st.expr))
	}
	return b.String()
}

func render(n node) string {
	switch v := n.(type) {
	case *numNode:
		return strconv.FormatFloat(v.val, 'g', -1, 64)
	case *varNode:
		return v.name
	case *unaryNode:
		return v.op + render(v.operand)
	case *binaryNode:
		return "(" + render(v.left) + " " + v.op + " " + render(v.right) + ")"
	case *callNode:
		parts := make([]string, len(v.args))
		for i, a := range v.args {
			parts[i] = render(a)
		}
		return v.name + "(" + strings.Join(parts, ", ") + ")"
	}
	return "?"
}
