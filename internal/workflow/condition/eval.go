// Package condition evaluates the routing DSL used by conditional and loop
// edges. Expressions reference state fields ("state.score > 0.8") combined
// with and/or/not; nothing is ever delegated to a language runtime.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	werrors "weave/internal/errors"
)

// Evaluate runs expr against the given state snapshot. Missing state fields
// evaluate to false. The reserved sentinel "default" is always true.
func Evaluate(expr string, state map[string]any) (bool, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "default" {
		return true, nil
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return false, &werrors.ControlFlowError{Expression: expr, Reason: err.Error()}
	}
	p := &parser{expr: expr, tokens: tokens}
	result, err := p.parseOr(state)
	if err != nil {
		return false, err
	}
	if !p.atEnd() {
		return false, &werrors.ControlFlowError{Expression: expr, Reason: fmt.Sprintf("unexpected token %q", p.peek().text)}
	}
	return result, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokStateField
	tokOp
	tokNumber
	tokString
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n':
			i++
		case ch == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case ch == '\'' || ch == '"':
			end := strings.IndexByte(expr[i+1:], ch)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokString, text: expr[i+1 : i+1+end]})
			i += end + 2
		case strings.ContainsRune("=!<>", rune(ch)):
			op := string(ch)
			if i+1 < len(expr) && expr[i+1] == '=' {
				op += "="
				i++
			}
			i++
			switch op {
			case "==", "!=", ">", "<", ">=", "<=":
				tokens = append(tokens, token{kind: tokOp, text: op})
			default:
				return nil, fmt.Errorf("unknown operator %q", op)
			}
		case isDigit(ch) || ch == '-':
			start := i
			i++
			for i < len(expr) && (isDigit(expr[i]) || expr[i] == '.') {
				i++
			}
			num, err := strconv.ParseFloat(expr[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", expr[start:i])
			}
			tokens = append(tokens, token{kind: tokNumber, text: expr[start:i], num: num})
		case isIdentStart(ch):
			start := i
			for i < len(expr) && isIdentPart(expr[i]) {
				i++
			}
			word := expr[start:i]
			if strings.Contains(word, "__") {
				return nil, fmt.Errorf("identifier %q is not allowed", word)
			}
			if word == "state" && i < len(expr) && expr[i] == '.' {
				i++
				fieldStart := i
				for i < len(expr) && isIdentPart(expr[i]) {
					i++
				}
				field := expr[fieldStart:i]
				if field == "" {
					return nil, fmt.Errorf("state reference needs a field name")
				}
				if strings.Contains(field, "__") {
					return nil, fmt.Errorf("identifier %q is not allowed", field)
				}
				tokens = append(tokens, token{kind: tokStateField, text: field})
				continue
			}
			tokens = append(tokens, token{kind: tokIdent, text: word})
		default:
			return nil, fmt.Errorf("unexpected character %q", string(ch))
		}
	}
	return tokens, nil
}

func isDigit(ch byte) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch byte) bool { return ch == '_' || (ch|0x20 >= 'a' && ch|0x20 <= 'z') }
func isIdentPart(ch byte) bool  { return isIdentStart(ch) || isDigit(ch) }

type parser struct {
	expr   string
	tokens []token
	pos    int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.atEnd() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *parser) errf(format string, args ...any) error {
	return &werrors.ControlFlowError{Expression: p.expr, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr(state map[string]any) (bool, error) {
	left, err := p.parseAnd(state)
	if err != nil {
		return false, err
	}
	for !p.atEnd() && p.peek().kind == tokIdent && p.peek().text == "or" {
		p.pos++
		right, err := p.parseAnd(state)
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) parseAnd(state map[string]any) (bool, error) {
	left, err := p.parseUnary(state)
	if err != nil {
		return false, err
	}
	for !p.atEnd() && p.peek().kind == tokIdent && p.peek().text == "and" {
		p.pos++
		right, err := p.parseUnary(state)
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) parseUnary(state map[string]any) (bool, error) {
	if !p.atEnd() && p.peek().kind == tokIdent && p.peek().text == "not" {
		p.pos++
		inner, err := p.parseUnary(state)
		if err != nil {
			return false, err
		}
		return !inner, nil
	}
	return p.parseAtom(state)
}

func (p *parser) parseAtom(state map[string]any) (bool, error) {
	if p.atEnd() {
		return false, p.errf("unexpected end of expression")
	}
	tok := p.peek()
	switch tok.kind {
	case tokLParen:
		p.pos++
		inner, err := p.parseOr(state)
		if err != nil {
			return false, err
		}
		if p.atEnd() || p.peek().kind != tokRParen {
			return false, p.errf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case tokStateField:
		p.pos++
		value, present := state[tok.text]
		if !p.atEnd() && p.peek().kind == tokOp {
			op := p.peek().text
			p.pos++
			lit, err := p.parseLiteral()
			if err != nil {
				return false, err
			}
			if !present {
				return false, nil
			}
			return compare(p, op, value, lit)
		}
		if !present {
			return false, nil
		}
		return Truthy(value), nil
	case tokIdent:
		p.pos++
		switch tok.text {
		case "true", "default":
			return true, nil
		case "false":
			return false, nil
		default:
			return false, p.errf("bare identifier %q is not allowed", tok.text)
		}
	default:
		return false, p.errf("unexpected token %q", tok.text)
	}
}

// literal is either a number, a quoted string, or a boolean.
type literal struct {
	isNum  bool
	isBool bool
	num    float64
	str    string
	b      bool
}

func (p *parser) parseLiteral() (literal, error) {
	if p.atEnd() {
		return literal{}, p.errf("comparison is missing its right-hand side")
	}
	tok := p.peek()
	p.pos++
	switch tok.kind {
	case tokNumber:
		return literal{isNum: true, num: tok.num}, nil
	case tokString:
		return literal{str: tok.text}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return literal{isBool: true, b: true}, nil
		case "false":
			return literal{isBool: true, b: false}, nil
		}
	}
	return literal{}, p.errf("expected a literal, got %q", tok.text)
}

func compare(p *parser, op string, value any, lit literal) (bool, error) {
	switch {
	case lit.isNum:
		num, ok := asNumber(value)
		if !ok {
			if op == "!=" {
				return true, nil
			}
			return false, nil
		}
		return compareNumbers(p, op, num, lit.num)
	case lit.isBool:
		b, ok := value.(bool)
		if !ok {
			return op == "!=", nil
		}
		switch op {
		case "==":
			return b == lit.b, nil
		case "!=":
			return b != lit.b, nil
		default:
			return false, p.errf("operator %q is not defined for booleans", op)
		}
	default:
		s, ok := value.(string)
		if !ok {
			return op == "!=", nil
		}
		switch op {
		case "==":
			return s == lit.str, nil
		case "!=":
			return s != lit.str, nil
		default:
			return false, p.errf("operator %q is not defined for strings", op)
		}
	}
}

func compareNumbers(p *parser, op string, a, b float64) (bool, error) {
	switch op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case ">":
		return a > b, nil
	case "<":
		return a < b, nil
	case ">=":
		return a >= b, nil
	case "<=":
		return a <= b, nil
	default:
		return false, p.errf("unknown operator %q", op)
	}
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Truthy reports the boolean interpretation of a state value: false for nil,
// false/zero/empty, true otherwise.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		if num, ok := asNumber(value); ok {
			return num != 0
		}
		return true
	}
}
