package formula

import (
	"math"
	"sort"
	"strings"
	"time"
)

// ============================================================================
// Operators
// ============================================================================

type operatorInfo struct {
	precedence int
	rightAssoc bool
	unary      bool
	apply      func(a, b float64) (float64, error)
}

// opNegate is prefix minus. The lexer never produces it; the parser rewrites
// a '-' that has no left operand.
const opNegate byte = '~'

// operatorChars are the characters the lexer emits as operator tokens.
const operatorChars = "+-*/^"

var operators = map[byte]operatorInfo{
	'+': {precedence: 1, apply: func(a, b float64) (float64, error) { return a + b, nil }},
	'-': {precedence: 1, apply: func(a, b float64) (float64, error) { return a - b, nil }},
	'*': {precedence: 2, apply: func(a, b float64) (float64, error) { return a * b, nil }},
	'/': {precedence: 2, apply: func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	}},
	'^': {precedence: 4, rightAssoc: true, apply: func(a, b float64) (float64, error) { return math.Pow(a, b), nil }},

	opNegate: {precedence: 3, rightAssoc: true, unary: true, apply: func(_, b float64) (float64, error) { return -b, nil }},
}

// operatorOrder is the display order used by AvailableOperators.
var operatorOrder = []string{"+", "-", "*", "/", "^", "(", ")"}

func isOperator(ch byte) bool {
	return strings.IndexByte(operatorChars, ch) >= 0
}

// ============================================================================
// Functions
// ============================================================================

// unbounded marks a variadic function's maximum arity.
const unbounded = -1

type functionInfo struct {
	minArgs     int
	maxArgs     int
	call        func(args []value, now time.Time) (float64, error)
	description string
	example     string
	category    string
}

func (f functionInfo) accepts(n int) bool {
	return n >= f.minArgs && (f.maxArgs == unbounded || n <= f.maxArgs)
}

const (
	categoryMath = "math"
	categoryDate = "date"
)

var functions = map[string]functionInfo{
	"sqrt": {
		minArgs: 1, maxArgs: 1,
		call: func(args []value, _ time.Time) (float64, error) {
			x, err := args[0].number()
			if err != nil {
				return 0, err
			}
			if x < 0 {
				return 0, ErrNegativeSqrt
			}
			return math.Sqrt(x), nil
		},
		description: "Square root",
		example:     "sqrt({area})",
		category:    categoryMath,
	},
	"abs": {
		minArgs: 1, maxArgs: 1,
		call:        unary(math.Abs),
		description: "Absolute value",
		example:     "abs({delta:weight})",
		category:    categoryMath,
	},
	"round": {
		minArgs: 1, maxArgs: 2,
		call: func(args []value, _ time.Time) (float64, error) {
			x, err := args[0].number()
			if err != nil {
				return 0, err
			}
			places := 0.0
			if len(args) == 2 {
				if places, err = args[1].number(); err != nil {
					return 0, err
				}
			}
			return roundHalfAwayFromZero(x, int(places)), nil
		},
		description: "Round to N decimal places (default 0)",
		example:     "round({weight} / {height}, 1)",
		category:    categoryMath,
	},
	"floor": {
		minArgs: 1, maxArgs: 1,
		call:        unary(math.Floor),
		description: "Round down to the nearest integer",
		example:     "floor({score})",
		category:    categoryMath,
	},
	"ceil": {
		minArgs: 1, maxArgs: 1,
		call:        unary(math.Ceil),
		description: "Round up to the nearest integer",
		example:     "ceil({score})",
		category:    categoryMath,
	},
	"min": {
		minArgs: 1, maxArgs: unbounded,
		call:        fold(func(acc, x float64) float64 { return math.Min(acc, x) }),
		description: "Smallest of the arguments",
		example:     "min({a}, {b}, {c})",
		category:    categoryMath,
	},
	"max": {
		minArgs: 1, maxArgs: unbounded,
		call:        fold(func(acc, x float64) float64 { return math.Max(acc, x) }),
		description: "Largest of the arguments",
		example:     "max({a}, {b}, {c})",
		category:    categoryMath,
	},
	"today": {
		minArgs: 0, maxArgs: 0,
		call: func(_ []value, now time.Time) (float64, error) {
			return float64(epochDays(now)), nil
		},
		description: "Current date as days since 1970-01-01",
		example:     "today() - {last_visit}",
		category:    categoryDate,
	},
	"year": {
		minArgs: 1, maxArgs: 1,
		call:        dateComponent(func(t time.Time) int { return t.Year() }),
		description: "Year of a date",
		example:     "year({birth_date})",
		category:    categoryDate,
	},
	"month": {
		minArgs: 1, maxArgs: 1,
		call:        dateComponent(func(t time.Time) int { return int(t.Month()) }),
		description: "Month (1-12) of a date",
		example:     "month({birth_date})",
		category:    categoryDate,
	},
	"day": {
		minArgs: 1, maxArgs: 1,
		call:        dateComponent(func(t time.Time) int { return t.Day() }),
		description: "Day of month of a date",
		example:     "day({birth_date})",
		category:    categoryDate,
	},
	"age_years": {
		minArgs: 1, maxArgs: 1,
		call: func(args []value, now time.Time) (float64, error) {
			birth, err := args[0].date()
			if err != nil {
				return 0, err
			}
			return float64(ageInYears(birth, now)), nil
		},
		description: "Whole years between a birth date and today",
		example:     "age_years({birth_date})",
		category:    categoryDate,
	},
}

func unary(fn func(float64) float64) func([]value, time.Time) (float64, error) {
	return func(args []value, _ time.Time) (float64, error) {
		x, err := args[0].number()
		if err != nil {
			return 0, err
		}
		return fn(x), nil
	}
}

func fold(fn func(acc, x float64) float64) func([]value, time.Time) (float64, error) {
	return func(args []value, _ time.Time) (float64, error) {
		acc, err := args[0].number()
		if err != nil {
			return 0, err
		}
		for _, a := range args[1:] {
			x, err := a.number()
			if err != nil {
				return 0, err
			}
			acc = fn(acc, x)
		}
		return acc, nil
	}
}

func dateComponent(part func(time.Time) int) func([]value, time.Time) (float64, error) {
	return func(args []value, _ time.Time) (float64, error) {
		t, err := args[0].date()
		if err != nil {
			return 0, err
		}
		return float64(part(t)), nil
	}
}

// ageInYears counts completed years, so the count only advances on or after
// the birthday itself.
func ageInYears(birth, at time.Time) int {
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	return age
}

// roundHalfAwayFromZero rounds x to places decimal digits. Negative places
// round to tens, hundreds and so on. Past float64 precision in either
// direction there is nothing left to round: x is returned as is, or 0 when
// places is so negative that the unit exceeds any finite value.
func roundHalfAwayFromZero(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	if scale == 0 {
		return 0
	}
	scaled := x * scale
	if math.IsInf(scale, 0) || math.IsInf(scaled, 0) {
		return x
	}
	return math.Round(scaled) / scale
}

// ============================================================================
// Introspection
// ============================================================================

// FunctionInfo describes one function for formula builder UIs.
type FunctionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example"`
	Category    string `json:"category"`
}

// Catalog lists the operators and functions a formula may use.
type Catalog struct {
	Operators []string       `json:"operators"`
	Functions []FunctionInfo `json:"functions"`
}

// AvailableOperators returns the static operator and function catalog, with
// functions grouped by category and sorted by name.
func AvailableOperators() Catalog {
	out := Catalog{Operators: append([]string(nil), operatorOrder...)}
	for name, fn := range functions {
		out.Functions = append(out.Functions, FunctionInfo{
			Name:        name,
			Description: fn.description,
			Example:     fn.example,
			Category:    fn.category,
		})
	}
	sort.Slice(out.Functions, func(i, j int) bool {
		a, b := out.Functions[i], out.Functions[j]
		if a.Category != b.Category {
			return a.Category > b.Category
		}
		return a.Name < b.Name
	})
	return out
}
