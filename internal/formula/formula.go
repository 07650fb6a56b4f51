// Package formula implements the expression language behind calculated
// custom fields: {field} references, + - * / ^ with the usual precedence,
// and a small set of math and date functions.
//
// A formula is tokenized, converted to postfix with the shunting-yard
// algorithm and executed on a value stack. Every call works on its own
// tokens, program and environment, so an Engine is safe for concurrent use.
package formula

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultDecimalPlaces is the rounding applied when a field does not set its
// own precision.
const DefaultDecimalPlaces = 2

// Engine compiles and evaluates formulas. The zero value is not usable; call
// NewEngine.
type Engine struct {
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used by today() and age_years().
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a formula engine that reads the local wall clock.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Compile tokenizes and parses formula.
func (e *Engine) Compile(formula string) (*Program, error) {
	if strings.TrimSpace(formula) == "" {
		return nil, ErrEmptyFormula
	}
	code, err := parse(tokenize(formula))
	if err != nil {
		return nil, err
	}
	return &Program{source: formula, code: code}, nil
}

// Run evaluates a compiled program against values without rounding.
func (e *Engine) Run(p *Program, values map[string]any) (float64, error) {
	return p.run(values, e.now())
}

// Evaluate compiles and runs formula, rounding the result to decimalPlaces
// (half away from zero). Negative decimalPlaces are treated as 0.
func (e *Engine) Evaluate(formula string, values map[string]any, decimalPlaces int) (float64, error) {
	p, err := e.Compile(formula)
	if err != nil {
		return 0, err
	}
	result, err := e.Run(p, values)
	if err != nil {
		return 0, err
	}
	if decimalPlaces < 0 {
		decimalPlaces = 0
	}
	rounded := roundHalfAwayFromZero(result, decimalPlaces)
	if math.IsNaN(rounded) || math.IsInf(rounded, 0) {
		return 0, ErrNonFiniteResult
	}
	return rounded, nil
}

// Validate checks formula before it is stored and returns its dependencies
// in first-seen order. Checks run in order and stop at the first failure:
// brace balance, time-series modifiers, name shapes, then a dry run with
// every dependency set to 1.
func (e *Engine) Validate(formula string) ([]string, error) {
	if strings.TrimSpace(formula) == "" {
		return nil, ErrEmptyFormula
	}
	if err := checkBraces(formula); err != nil {
		return nil, err
	}

	deps := ExtractDependencies(formula)
	for _, dep := range deps {
		if err := checkModifier(dep); err != nil {
			return nil, err
		}
	}
	for _, dep := range deps {
		if err := checkName(dep); err != nil {
			return nil, err
		}
	}

	dummy := make(map[string]any, len(deps))
	for _, dep := range deps {
		dummy[dep] = 1.0
	}
	p, err := e.Compile(formula)
	if err != nil {
		return nil, fmt.Errorf("invalid formula: %w", err)
	}
	if _, err := e.Run(p, dummy); err != nil {
		return nil, fmt.Errorf("invalid formula: %w", err)
	}
	return deps, nil
}

// ============================================================================
// Tagged results
// ============================================================================

// Result is the outcome of EvaluateFormula. Exactly one of Result and Error
// is set.
type Result struct {
	Success bool     `json:"success"`
	Result  *float64 `json:"result"`
	Error   *string  `json:"error"`
}

// Validation is the outcome of ValidateFormula. Dependencies is empty when
// Valid is false.
type Validation struct {
	Valid        bool     `json:"valid"`
	Error        *string  `json:"error"`
	Dependencies []string `json:"dependencies"`
}

// EvaluateFormula evaluates formula and reports success or the error message.
func (e *Engine) EvaluateFormula(formula string, values map[string]any, decimalPlaces int) Result {
	result, err := e.Evaluate(formula, values, decimalPlaces)
	if err != nil {
		msg := Message(err)
		return Result{Error: &msg}
	}
	return Result{Success: true, Result: &result}
}

// ValidateFormula validates formula and reports its dependencies or the
// error message.
func (e *Engine) ValidateFormula(formula string) Validation {
	deps, err := e.Validate(formula)
	if err != nil {
		msg := Message(err)
		return Validation{Error: &msg, Dependencies: []string{}}
	}
	return Validation{Valid: true, Dependencies: deps}
}

// EvaluateFormula evaluates formula with the default engine.
func EvaluateFormula(formula string, values map[string]any, decimalPlaces int) Result {
	return defaultEngine.EvaluateFormula(formula, values, decimalPlaces)
}

// ValidateFormula validates formula with the default engine.
func ValidateFormula(formula string) Validation {
	return defaultEngine.ValidateFormula(formula)
}
