package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenRef
	tokenOperator
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokenEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

var twoCharOperators = []string{"==", "!=", "<=", ">=", "&&", "||"}

// tokenize splits an expression into tokens. {{id}} references become a
// single token carrying the trimmed metric id.
func tokenize(input string) ([]token, error) {
	runes := []rune(input)
	var tokens []token
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '{':
			if i+1 >= len(runes) || runes[i+1] != '{' {
				return nil, fmt.Errorf("unexpected '{' at %d", i)
			}
			end := -1
			for j := i + 2; j+1 < len(runes); j++ {
				if runes[j] == '}' && runes[j+1] == '}' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("unterminated reference at %d", i)
			}
			id := strings.TrimSpace(string(runes[i+2 : end]))
			if id == "" {
				return nil, fmt.Errorf("empty reference at %d", i)
			}
			tokens = append(tokens, token{kind: tokenRef, text: id, pos: i})
			i = end + 2
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				i++
				if i < len(runes) && (runes[i] == '+' || runes[i] == '-') {
					i++
				}
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i]), pos: start})
		case r == '"' || r == '\'':
			start := i
			quote := r
			i++
			var b strings.Builder
			closed := false
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					b.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if c == quote {
					closed = true
					i++
					break
				}
				b.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at %d", start)
			}
			tokens = append(tokens, token{kind: tokenString, text: b.String(), pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i]), pos: start})
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", pos: i})
			i++
		default:
			if i+1 < len(runes) {
				pair := string(runes[i : i+2])
				matched := false
				for _, op := range twoCharOperators {
					if pair == op {
						tokens = append(tokens, token{kind: tokenOperator, text: op, pos: i})
						i += 2
						matched = true
						break
					}
				}
				if matched {
					continue
				}
			}
			if strings.ContainsRune("+-*/%<>!", r) {
				tokens = append(tokens, token{kind: tokenOperator, text: string(r), pos: i})
				i++
				continue
			}
			return nil, fmt.Errorf("unexpected character %q at %d", r, i)
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})
	return tokens, nil
}
