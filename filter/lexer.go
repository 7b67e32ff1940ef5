package filter

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokEqual
	tokNotEqual
	tokContains
	tokNotContains
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of expression"
	case tokWord:
		return "word"
	case tokAnd:
		return "'&'"
	case tokOr:
		return "'|'"
	case tokNot:
		return "'!'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokEqual:
		return "'='"
	case tokNotEqual:
		return "'!='"
	case tokContains:
		return "'~'"
	case tokNotContains:
		return "'!~'"
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

const specialChars = "()&|=!~"

// lex splits a filter expression into tokens. A backslash escapes the next character so
// operators can appear in values.
func lex(text string) ([]token, error) {
	var tokens []token
	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '&':
			tokens = append(tokens, token{kind: tokAnd, text: "&", pos: i})
			i++
		case r == '|':
			tokens = append(tokens, token{kind: tokOr, text: "|", pos: i})
			i++
		case r == '=':
			tokens = append(tokens, token{kind: tokEqual, text: "=", pos: i})
			i++
		case r == '~':
			tokens = append(tokens, token{kind: tokContains, text: "~", pos: i})
			i++
		case r == '!':
			switch {
			case i+1 < len(runes) && runes[i+1] == '=':
				tokens = append(tokens, token{kind: tokNotEqual, text: "!=", pos: i})
				i += 2
			case i+1 < len(runes) && runes[i+1] == '~':
				tokens = append(tokens, token{kind: tokNotContains, text: "!~", pos: i})
				i += 2
			default:
				tokens = append(tokens, token{kind: tokNot, text: "!", pos: i})
				i++
			}
		default:
			start := i
			var sb strings.Builder
			for i < len(runes) {
				c := runes[i]
				if c == '\\' {
					if i+1 >= len(runes) {
						return nil, syntaxError(i, "dangling escape character")
					}
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if strings.ContainsRune(specialChars, c) {
					break
				}
				sb.WriteRune(c)
				i++
			}
			tokens = append(tokens, token{kind: tokWord, text: strings.TrimSpace(sb.String()), pos: start})
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(runes)})
	return tokens, nil
}
