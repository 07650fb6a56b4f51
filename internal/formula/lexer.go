package formula

import (
	"math"
	"strconv"
	"strings"
)

// ============================================================================
// Token types
// ============================================================================

type tokenKind int

const (
	tkNumber   tokenKind = iota // 1, 2.5, 1e3
	tkVariable                  // {name}, {measure:name}, {avg7:name}
	tkOperator                  // + - * / ^
	tkFunction                  // sqrt, round, today, ...
	tkLParen                    // (
	tkRParen                    // )
	tkComma                     // ,
)

func (k tokenKind) String() string {
	switch k {
	case tkNumber:
		return "number"
	case tkVariable:
		return "variable"
	case tkOperator:
		return "operator"
	case tkFunction:
		return "function"
	case tkLParen:
		return "("
	case tkRParen:
		return ")"
	case tkComma:
		return ","
	}
	return "unknown"
}

type token struct {
	kind  tokenKind
	num   float64
	value string // variable text, function name or operator
	pos   int
}

// ============================================================================
// Lexer
// ============================================================================

// tokenize never fails. Anything it cannot make sense of is left for the
// parser and evaluator to reject.
//
// Text between '{' and the next '}' is one variable token. An unterminated
// '{' drops the rest of the input.
func tokenize(input string) []token {
	var tokens []token
	n := len(input)
	runStart := -1

	flush := func(end int) {
		if runStart < 0 {
			return
		}
		tokens = append(tokens, classifyRun(input[runStart:end], runStart))
		runStart = -1
	}

	for i := 0; i < n; {
		ch := input[i]
		switch {
		case ch == '{':
			flush(i)
			end := strings.IndexByte(input[i+1:], '}')
			if end < 0 {
				return tokens
			}
			name := strings.TrimSpace(input[i+1 : i+1+end])
			tokens = append(tokens, token{kind: tkVariable, value: name, pos: i})
			i += end + 2
		case isOperator(ch):
			flush(i)
			tokens = append(tokens, token{kind: tkOperator, value: string(ch), pos: i})
			i++
		case ch == '(':
			flush(i)
			tokens = append(tokens, token{kind: tkLParen, value: "(", pos: i})
			i++
		case ch == ')':
			flush(i)
			tokens = append(tokens, token{kind: tkRParen, value: ")", pos: i})
			i++
		case ch == ',':
			flush(i)
			tokens = append(tokens, token{kind: tkComma, value: ",", pos: i})
			i++
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush(i)
			i++
		default:
			if runStart < 0 {
				runStart = i
			}
			i++
		}
	}
	flush(n)
	return tokens
}

// classifyRun turns a bare word into a number or a function name. Words that
// are not numbers become function tokens even when unknown, so the evaluator
// can name them in its error.
func classifyRun(run string, pos int) token {
	if isNumeric(run) {
		v, _ := strconv.ParseFloat(run, 64)
		return token{kind: tkNumber, num: v, value: run, pos: pos}
	}
	return token{kind: tkFunction, value: strings.ToLower(run), pos: pos}
}

// isNumeric rejects the spellings strconv accepts but a formula author would
// never mean as a literal (inf, nan, hex).
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	if c := s[0]; c != '.' && (c < '0' || c > '9') {
		return false
	}
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return false
	}
	v, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsInf(v, 0)
}
