// Package expr implements the small, deterministic expression grammar used by
// conditional nodes, variable nodes and edge conditions.
//
// The grammar is deliberately narrow: literals, variable references, unary
// !/-, arithmetic, comparisons and boolean operators. No function calls, no
// assignment, no indexing. Evaluation is side-effect free.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// UndefinedVariableError reports a reference to a variable absent from the store.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable %q", e.Name)
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenOp
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t' || l.input[l.pos] == '\n') {
		l.pos++
	}

	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case c == '(':
		l.pos++

		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++

		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case c >= '0' && c <= '9':
		for l.pos < len(l.input) && (l.input[l.pos] >= '0' && l.input[l.pos] <= '9' || l.input[l.pos] == '.') {
			l.pos++
		}

		return token{kind: tokenNumber, text: l.input[start:l.pos], pos: start}, nil
	case c == '\'' || c == '"':
		quote := c
		l.pos++

		var sb strings.Builder

		for l.pos < len(l.input) && l.input[l.pos] != quote {
			if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) {
				l.pos++
			}

			sb.WriteByte(l.input[l.pos])
			l.pos++
		}

		if l.pos >= len(l.input) {
			return token{}, fmt.Errorf("unterminated string at position %d", start)
		}

		l.pos++ // closing quote

		return token{kind: tokenString, text: sb.String(), pos: start}, nil
	case isIdentChar(c):
		for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
			l.pos++
		}

		return token{kind: tokenIdent, text: l.input[start:l.pos], pos: start}, nil
	}

	// Multi-character operators first.
	for _, op := range []string{"==", "!=", "<=", ">=", "&&", "||"} {
		if strings.HasPrefix(l.input[l.pos:], op) {
			l.pos += 2

			return token{kind: tokenOp, text: op, pos: start}, nil
		}
	}

	switch c {
	case '<', '>', '+', '-', '*', '/', '%', '!':
		l.pos++

		return token{kind: tokenOp, text: string(c), pos: start}, nil
	}

	return token{}, fmt.Errorf("unexpected character %q at position %d", c, start)
}

// node is the tagged AST variant: exactly one field group is populated per kind.
type node struct {
	kind    nodeKind
	literal any    // kindLiteral
	name    string // kindVariable
	op      string // kindUnary, kindBinary
	left    *node
	right   *node
}

type nodeKind int

const (
	kindLiteral nodeKind = iota
	kindVariable
	kindUnary
	kindBinary
)

type parser struct {
	lex     *lexer
	current token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}

	p.current = tok

	return nil
}

// Parse compiles an expression string into a reusable evaluator.
func Parse(input string) (*Expression, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty expression")
	}

	p := &parser{lex: &lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.current.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.current.text, p.current.pos)
	}

	return &Expression{source: input, root: root}, nil
}

func (p *parser) parseOr() (*node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.kind == tokenOp && p.current.text == "||" {
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = &node{kind: kindBinary, op: "||", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (*node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.current.kind == tokenOp && p.current.text == "&&" {
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		left = &node{kind: kindBinary, op: "&&", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseComparison() (*node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.current.kind == tokenOp {
		switch p.current.text {
		case "==", "!=", "<", "<=", ">", ">=":
			op := p.current.text
			if err := p.advance(); err != nil {
				return nil, err
			}

			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}

			return &node{kind: kindBinary, op: op, left: left, right: right}, nil
		}
	}

	return left, nil
}

func (p *parser) parseAdditive() (*node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for p.current.kind == tokenOp && (p.current.text == "+" || p.current.text == "-") {
		op := p.current.text
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}

		left = &node{kind: kindBinary, op: op, left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseMultiplicative() (*node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.current.kind == tokenOp && (p.current.text == "*" || p.current.text == "/" || p.current.text == "%") {
		op := p.current.text
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = &node{kind: kindBinary, op: op, left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (*node, error) {
	if p.current.kind == tokenOp && (p.current.text == "!" || p.current.text == "-") {
		op := p.current.text
		if err := p.advance(); err != nil {
			return nil, err
		}

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &node{kind: kindUnary, op: op, left: operand}, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*node, error) {
	switch p.current.kind {
	case tokenNumber:
		value, err := strconv.ParseFloat(p.current.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", p.current.text, err)
		}

		if err := p.advance(); err != nil {
			return nil, err
		}

		return &node{kind: kindLiteral, literal: value}, nil
	case tokenString:
		text := p.current.text
		if err := p.advance(); err != nil {
			return nil, err
		}

		return &node{kind: kindLiteral, literal: text}, nil
	case tokenIdent:
		name := p.current.text
		if err := p.advance(); err != nil {
			return nil, err
		}

		switch name {
		case "true":
			return &node{kind: kindLiteral, literal: true}, nil
		case "false":
			return &node{kind: kindLiteral, literal: false}, nil
		case "null":
			return &node{kind: kindLiteral, literal: nil}, nil
		}

		return &node{kind: kindVariable, name: name}, nil
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}

		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if p.current.kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.current.pos)
		}

		if err := p.advance(); err != nil {
			return nil, err
		}

		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", p.current.text, p.current.pos)
	}
}

// Expression is a parsed, reusable expression.
type Expression struct {
	source string
	root   *node
}

// Source returns the original expression text.
func (e *Expression) Source() string {
	return e.source
}

// Eval evaluates the expression against the given variables. Dotted names
// resolve against a literal key first, then by walking nested maps.
func (e *Expression) Eval(vars map[string]any) (any, error) {
	return evalNode(e.root, vars)
}

// EvalBool evaluates the expression and converts the result to a boolean
// using the engine's truthiness rules.
func (e *Expression) EvalBool(vars map[string]any) (bool, error) {
	value, err := e.Eval(vars)
	if err != nil {
		return false, err
	}

	return Truthy(value)
}

// Eval is a convenience for one-shot parse-and-evaluate.
func Eval(input string, vars map[string]any) (any, error) {
	expression, err := Parse(input)
	if err != nil {
		return nil, err
	}

	return expression.Eval(vars)
}

// EvalBool is a convenience for one-shot boolean evaluation.
func EvalBool(input string, vars map[string]any) (bool, error) {
	expression, err := Parse(input)
	if err != nil {
		return false, err
	}

	return expression.EvalBool(vars)
}

// Truthy converts a value to a boolean: booleans as-is, numbers by non-zero,
// strings via strconv.ParseBool, nil false.
func Truthy(value any) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if v == "" {
			return false, nil
		}

		result, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

func evalNode(n *node, vars map[string]any) (any, error) {
	switch n.kind {
	case kindLiteral:
		return n.literal, nil
	case kindVariable:
		return lookupVariable(n.name, vars)
	case kindUnary:
		return evalUnary(n, vars)
	case kindBinary:
		return evalBinary(n, vars)
	default:
		return nil, fmt.Errorf("unknown node kind %d", n.kind)
	}
}

func lookupVariable(name string, vars map[string]any) (any, error) {
	if value, ok := vars[name]; ok {
		return value, nil
	}

	// Walk dotted segments into nested maps.
	if strings.Contains(name, ".") {
		segments := strings.Split(name, ".")

		var current any = vars

		for _, segment := range segments {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, &UndefinedVariableError{Name: name}
			}

			current, ok = m[segment]
			if !ok {
				return nil, &UndefinedVariableError{Name: name}
			}
		}

		return current, nil
	}

	return nil, &UndefinedVariableError{Name: name}
}

func evalUnary(n *node, vars map[string]any) (any, error) {
	operand, err := evalNode(n.left, vars)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "!":
		truth, err := Truthy(operand)
		if err != nil {
			return nil, err
		}

		return !truth, nil
	case "-":
		f, ok := toFloat(operand)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", operand)
		}

		return -f, nil
	}

	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

func evalBinary(n *node, vars map[string]any) (any, error) {
	// Short-circuit boolean operators.
	if n.op == "&&" || n.op == "||" {
		left, err := evalNode(n.left, vars)
		if err != nil {
			return nil, err
		}

		leftTruth, err := Truthy(left)
		if err != nil {
			return nil, err
		}

		if n.op == "&&" && !leftTruth {
			return false, nil
		}

		if n.op == "||" && leftTruth {
			return true, nil
		}

		right, err := evalNode(n.right, vars)
		if err != nil {
			return nil, err
		}

		return Truthy(right)
	}

	left, err := evalNode(n.left, vars)
	if err != nil {
		return nil, err
	}

	right, err := evalNode(n.right, vars)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(n.op, left, right)
	case "+":
		return evalAdd(left, right)
	case "-", "*", "/", "%":
		return evalArithmetic(n.op, left, right)
	}

	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func valuesEqual(left, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	if lok && rok {
		return lf == rf
	}

	return left == right
}

func compareOrdered(op string, left, right any) (any, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)

	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	return nil, fmt.Errorf("cannot compare %T and %T with %q", left, right, op)
}

// evalAdd adds numbers, or concatenates when either operand is a string.
func evalAdd(left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		return ls + stringify(right), nil
	}

	if rs, ok := right.(string); ok {
		return stringify(left) + rs, nil
	}

	return evalArithmetic("+", left, right)
}

func evalArithmetic(op string, left, right any) (any, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	if !lok || !rok {
		return nil, fmt.Errorf("cannot apply %q to %T and %T", op, left, right)
	}

	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}

		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}

		return float64(int64(lf) % int64(rf)), nil
	}

	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
