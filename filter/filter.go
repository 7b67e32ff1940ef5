// Package filter compiles test filter expressions into predicates over test properties.
//
// Grammar:
//
//	expr      = term { "|" term }
//	term      = factor { "&" factor }
//	factor    = "!" factor | "(" expr ")" | condition
//	condition = name op value | value
//	op        = "=" | "!=" | "~" | "!~"
//
// A bare value is shorthand for FullyQualifiedName~value. Values may use the wildcards * and ?.
package filter

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidFilter is wrapped by every compile error
var ErrInvalidFilter = errors.New("invalid filter expression")

func syntaxError(pos int, format string, args ...any) error {
	return fmt.Errorf("%w: %s at position %d", ErrInvalidFilter, fmt.Sprintf(format, args...), pos)
}

// Compile parses a filter expression. Empty text compiles to a nil Expression, which matches
// every test.
func Compile(text string) (*Expression, error) {
	return compile(text, nil)
}

// CompileWithProperties parses a filter expression and rejects property names outside of
// supported (compared case-insensitively).
func CompileWithProperties(text string, supported []string) (*Expression, error) {
	if supported == nil {
		supported = []string{}
	}
	return compile(text, supported)
}

func compile(text string, supported []string) (*Expression, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, supported: supported}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxError(tok.pos, "unexpected %s", tok.kind)
	}
	return &Expression{text: text, root: root}, nil
}

type parser struct {
	tokens    []token
	pos       int
	supported []string
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNot:
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, syntaxError(closing.pos, "missing ')' for '(' at position %d", tok.pos)
		}
		return inner, nil
	case tokWord:
		return p.parseCondition(tok)
	}
	return nil, syntaxError(tok.pos, "unexpected %s", tok.kind)
}

func (p *parser) parseCondition(name token) (node, error) {
	var op operator
	switch p.peek().kind {
	case tokEqual:
		op = opEqual
	case tokNotEqual:
		op = opNotEqual
	case tokContains:
		op = opContains
	case tokNotContains:
		op = opNotContains
	default:
		if name.text == "" {
			return nil, syntaxError(name.pos, "empty value")
		}
		return newCondition(PropertyFullyQualifiedName, opContains, name.text), nil
	}
	opTok := p.next()

	if name.text == "" {
		return nil, syntaxError(name.pos, "missing property name before %s", opTok.kind)
	}
	if p.supported != nil && !slices.ContainsFunc(p.supported, func(s string) bool { return strings.EqualFold(s, name.text) }) {
		return nil, syntaxError(name.pos, "unsupported property %q", name.text)
	}

	value := p.next()
	if value.kind != tokWord || value.text == "" {
		return nil, syntaxError(value.pos, "missing value after %s", opTok.kind)
	}
	return newCondition(name.text, op, value.text), nil
}
