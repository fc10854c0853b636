// Package condition evaluates typed flag conditions and converts them to
// and from their Yarn text form.
package condition

import (
	"math"
	"strconv"
	"strings"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// Evaluate reports whether every condition holds against flags.
// An empty list is true. Unknown flags and malformed conditions evaluate
// to false; Evaluate never panics on authored data.
func Evaluate(conds []forge.Condition, flags map[string]any) bool {
	for _, c := range conds {
		if !evalOne(c, flags) {
			return false
		}
	}
	return true
}

func evalOne(c forge.Condition, flags map[string]any) bool {
	var left any
	defined := true
	if c.Flag != "" {
		left, defined = flags[c.Flag]
	} else {
		left = c.Literal
		defined = c.Literal != nil
	}

	switch c.Operator {
	case forge.OpIsSet:
		return defined && Truthy(left)
	case forge.OpIsNotSet:
		return !defined || !Truthy(left)
	case forge.OpEq:
		return defined && equal(left, c.Value)
	case forge.OpNeq:
		return !defined || !equal(left, c.Value)
	case forge.OpGt, forge.OpGte, forge.OpLt, forge.OpLte:
		if !defined {
			return false
		}
		l, lok := number(left)
		r, rok := number(c.Value)
		if !lok || !rok {
			return false
		}
		switch c.Operator {
		case forge.OpGt:
			return l > r
		case forge.OpGte:
			return l >= r
		case forge.OpLt:
			return l < r
		default:
			return l <= r
		}
	}
	return false
}

// Truthy reports whether a flag value counts as set.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

func equal(a, b any) bool {
	if af, ok := number(a); ok {
		if bf, ok := number(b); ok {
			return af == bf
		}
	}
	return Format(a) == Format(b)
}

// number converts numeric values and numeric strings to float64.
func number(v any) (float64, bool) {
	switch x := forge.NormalizeValue(v).(type) {
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Format renders a flag value the way content interpolation shows it.
func Format(v any) string {
	switch x := forge.NormalizeValue(v).(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	}
	return ""
}
