package filter

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Lookup returns the value of a property: a string, a []string for multi-valued properties, or
// anything printable with fmt.
type Lookup func(name string) (any, bool)

// Expression is an immutable compiled filter
type Expression struct {
	text string
	root node
}

// String returns the source text of the expression
func (e *Expression) String() string {
	if e == nil {
		return ""
	}
	return e.text
}

// Match evaluates the expression. A nil expression matches everything.
func (e *Expression) Match(lookup Lookup) bool {
	if e == nil {
		return true
	}
	return e.root.eval(lookup)
}

// SafeMatch evaluates the expression and treats a panicking lookup as a non-match
func SafeMatch(e *Expression, lookup Lookup) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
		}
	}()
	return e.Match(lookup)
}

type node interface {
	eval(Lookup) bool
}

type andNode struct{ left, right node }

func (n *andNode) eval(l Lookup) bool { return n.left.eval(l) && n.right.eval(l) }

type orNode struct{ left, right node }

func (n *orNode) eval(l Lookup) bool { return n.left.eval(l) || n.right.eval(l) }

type notNode struct{ inner node }

func (n *notNode) eval(l Lookup) bool { return !n.inner.eval(l) }

type operator int

const (
	opEqual operator = iota
	opNotEqual
	opContains
	opNotContains
)

type condition struct {
	name    string
	op      operator
	value   string
	pattern string // lower-cased glob, empty when value has no wildcard
}

// Property values are not paths, so '/' is hidden from the glob matcher to let * cross it
var slashReplacer = strings.NewReplacer("/", "\x00")

func newCondition(name string, op operator, value string) *condition {
	c := &condition{name: name, op: op, value: strings.ToLower(value)}
	if strings.ContainsAny(value, "*?") {
		pattern := slashReplacer.Replace(c.value)
		if op == opContains || op == opNotContains {
			pattern = "*" + pattern + "*"
		}
		if doublestar.ValidatePattern(pattern) {
			c.pattern = pattern
		}
	}
	return c
}

func (c *condition) eval(l Lookup) bool {
	raw, ok := l(c.name)
	values := toStrings(raw)
	negated := c.op == opNotEqual || c.op == opNotContains
	if !ok || len(values) == 0 {
		return negated
	}

	for _, v := range values {
		if c.test(strings.ToLower(v)) {
			return !negated
		}
	}
	return negated
}

func (c *condition) test(v string) bool {
	if c.pattern != "" {
		matched, err := doublestar.Match(c.pattern, slashReplacer.Replace(v))
		return err == nil && matched
	}
	switch c.op {
	case opEqual, opNotEqual:
		return v == c.value
	default:
		return strings.Contains(v, c.value)
	}
}

func toStrings(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, fmt.Sprint(x))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}
