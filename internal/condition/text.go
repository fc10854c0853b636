package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// ErrMalformed is returned by FromText for text it cannot parse.
var ErrMalformed = errors.New("malformed condition")

// ErrNotLiteral is returned by ParseValue for computed values.
var ErrNotLiteral = errors.New("value is not a literal")

var opSymbols = map[forge.Operator]string{
	forge.OpEq:  "==",
	forge.OpNeq: "!=",
	forge.OpGt:  ">",
	forge.OpGte: ">=",
	forge.OpLt:  "<",
	forge.OpLte: "<=",
}

var opWords = map[string]forge.Operator{
	"==": forge.OpEq, "is": forge.OpEq, "eq": forge.OpEq,
	"!=": forge.OpNeq, "neq": forge.OpNeq, "ne": forge.OpNeq,
	">": forge.OpGt, "gt": forge.OpGt,
	">=": forge.OpGte, "gte": forge.OpGte,
	"<": forge.OpLt, "lt": forge.OpLt,
	"<=": forge.OpLte, "lte": forge.OpLte,
}

// mirrored maps an operator to its equivalent with operands swapped.
var mirrored = map[forge.Operator]forge.Operator{
	forge.OpEq: forge.OpEq, forge.OpNeq: forge.OpNeq,
	forge.OpGt: forge.OpLt, forge.OpLt: forge.OpGt,
	forge.OpGte: forge.OpLte, forge.OpLte: forge.OpGte,
}

// ToText renders conditions in Yarn form, joined with "and".
func ToText(conds []forge.Condition) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		parts = append(parts, oneToText(c))
	}
	return strings.Join(parts, " and ")
}

func oneToText(c forge.Condition) string {
	left := "$" + c.Flag
	if c.Flag == "" {
		left = FormatLiteral(c.Literal)
	}
	switch c.Operator {
	case forge.OpIsSet:
		return left
	case forge.OpIsNotSet:
		return "not " + left
	}
	sym, ok := opSymbols[c.Operator]
	if !ok {
		sym = "=="
	}
	return left + " " + sym + " " + FormatLiteral(c.Value)
}

// FormatLiteral renders a value as a Yarn literal.
func FormatLiteral(v any) string {
	switch x := forge.NormalizeValue(v).(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return strconv.Quote(x)
	}
	return strconv.Quote(fmt.Sprint(v))
}

// ParseLiteral parses a Yarn literal: number, true/false, quoted or bare string.
func ParseLiteral(s string) any {
	s = strings.TrimSpace(s)
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		if s[0] == '"' {
			if u, err := strconv.Unquote(s); err == nil {
				return u
			}
		}
		return s[1 : len(s)-1]
	}
	return s
}

var bareWord = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ParseValue is ParseLiteral restricted to text that is a single literal.
// Expressions such as `$gold + 5` return ErrNotLiteral.
func ParseValue(s string) (any, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) != 1 {
		return nil, fmt.Errorf("%w: %q", ErrNotLiteral, strings.TrimSpace(s))
	}
	tok := toks[0]
	if _, isOp := opWords[tok]; isOp || isVar(tok) {
		return nil, fmt.Errorf("%w: %q", ErrNotLiteral, tok)
	}
	switch tok[0] {
	case '"', '\'':
		return ParseLiteral(tok), nil
	}
	if _, err := strconv.ParseFloat(tok, 64); err == nil || bareWord.MatchString(tok) {
		return ParseLiteral(tok), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotLiteral, tok)
}

// FromText parses the Yarn form produced by ToText. It also accepts
// `!$flag`, `&&`, word operators (is, eq, gt, ...) and literal comparisons
// such as `1 == 1`. Disjunctions are rejected.
func FromText(text string) ([]forge.Condition, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}

	var conds []forge.Condition
	var term []string
	flush := func() error {
		c, err := parseTerm(term)
		if err != nil {
			return err
		}
		conds = append(conds, c)
		term = term[:0]
		return nil
	}

	for _, t := range toks {
		switch strings.ToLower(t) {
		case "and", "&&":
			if err := flush(); err != nil {
				return nil, fmt.Errorf("%w: %q", err, text)
			}
			continue
		case "or", "||":
			return nil, fmt.Errorf("%w: disjunction not supported in %q", ErrMalformed, text)
		}
		term = append(term, t)
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("%w: %q", err, text)
	}
	return conds, nil
}

func parseTerm(toks []string) (forge.Condition, error) {
	switch len(toks) {
	case 1:
		return operand(toks[0], forge.OpIsSet)
	case 2:
		if t := strings.ToLower(toks[0]); t == "not" || t == "!" {
			return operand(toks[1], forge.OpIsNotSet)
		}
	case 3:
		op, ok := opWords[strings.ToLower(toks[1])]
		if !ok {
			break
		}
		lVar, rVar := isVar(toks[0]), isVar(toks[2])
		switch {
		case lVar && rVar:
			return forge.Condition{}, fmt.Errorf("%w: variable on both sides", ErrMalformed)
		case lVar:
			return forge.Condition{Flag: toks[0][1:], Operator: op, Value: ParseLiteral(toks[2])}, nil
		case rVar:
			return forge.Condition{Flag: toks[2][1:], Operator: mirrored[op], Value: ParseLiteral(toks[0])}, nil
		default:
			return forge.Condition{Literal: ParseLiteral(toks[0]), Operator: op, Value: ParseLiteral(toks[2])}, nil
		}
	}
	return forge.Condition{}, ErrMalformed
}

func operand(tok string, op forge.Operator) (forge.Condition, error) {
	if isVar(tok) {
		return forge.Condition{Flag: tok[1:], Operator: op}, nil
	}
	if _, isOp := opWords[tok]; isOp {
		return forge.Condition{}, ErrMalformed
	}
	return forge.Condition{Literal: ParseLiteral(tok), Operator: op}, nil
}

func isVar(tok string) bool {
	return len(tok) > 1 && tok[0] == '$'
}

// tokenize splits condition text into variables, literals and operators.
func tokenize(s string) ([]string, error) {
	var toks []string
	r := []rune(s)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(r) && r[j] != c {
				if r[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(r) {
				return nil, fmt.Errorf("%w: unterminated string in %q", ErrMalformed, s)
			}
			toks = append(toks, string(r[i:j+1]))
			i = j + 1
		case strings.ContainsRune("=!<>&|", c):
			j := i + 1
			if j < len(r) && strings.ContainsRune("=&|", r[j]) {
				j++
			}
			tok := string(r[i:j])
			if tok == "=" {
				tok = "=="
			}
			toks = append(toks, tok)
			i = j
		case c == '(' || c == ')':
			return nil, fmt.Errorf("%w: grouping not supported in %q", ErrMalformed, s)
		default:
			j := i
			for j < len(r) && !unicode.IsSpace(r[j]) && !strings.ContainsRune("=!<>&|()\"'", r[j]) {
				j++
			}
			toks = append(toks, string(r[i:j]))
			i = j
		}
	}
	return toks, nil
}
