package formula

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

var (
	ErrEmptyFormula          = errors.New("formula is empty")
	ErrUnbalancedParentheses = errors.New("unbalanced parentheses")
	ErrUnbalancedBraces      = errors.New("unbalanced braces")
	ErrMalformedCall         = errors.New("malformed function call")
	ErrInsufficientOperands  = errors.New("insufficient operands")
	ErrDivisionByZero        = errors.New("division by zero")
	ErrNegativeSqrt          = errors.New("square root of negative number")
	ErrMalformedProgram      = errors.New("malformed formula")
	ErrNonFiniteResult       = errors.New("result is not a finite number")
)

// MissingVariableError reports a variable with no value in the environment.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing value for variable: %s", e.Name)
}

// InvalidVariableValueError reports a value that is neither a finite number
// nor an ISO date.
type InvalidVariableValueError struct {
	Name string
	Raw  string
}

func (e *InvalidVariableValueError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid value %q", e.Raw)
	}
	return fmt.Sprintf("invalid value for variable %s: %q", e.Name, e.Raw)
}

type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function: %s", e.Name)
}

// InsufficientArgumentsError reports a call whose argument count is outside
// the function's arity, or whose arguments are missing from the stack.
type InsufficientArgumentsError struct {
	Function string
	Got      int
}

func (e *InsufficientArgumentsError) Error() string {
	return fmt.Sprintf("insufficient arguments for function %s (got %d)", e.Function, e.Got)
}

// InvalidModifierError reports a time-series prefix other than
// current, previous, delta or avgN.
type InvalidModifierError struct {
	Modifier   string
	Dependency string
}

func (e *InvalidModifierError) Error() string {
	return fmt.Sprintf("invalid time-series modifier %q in {%s}: use current, previous, delta or avgN", e.Modifier, e.Dependency)
}

// InvalidNameError reports a variable reference that matches none of the
// accepted name shapes.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid variable name: {%s}", e.Name)
}

// Message renders err the way callers show it to the administrator editing
// a formula.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

// IsStructural reports whether err comes from the shape of the formula
// rather than from the values it was evaluated with.
func IsStructural(err error) bool {
	var unknown *UnknownFunctionError
	var args *InsufficientArgumentsError
	switch {
	case errors.Is(err, ErrUnbalancedParentheses),
		errors.Is(err, ErrUnbalancedBraces),
		errors.Is(err, ErrMalformedCall),
		errors.Is(err, ErrInsufficientOperands),
		errors.Is(err, ErrMalformedProgram),
		errors.Is(err, ErrEmptyFormula),
		errors.As(err, &unknown),
		errors.As(err, &args):
		return true
	}
	return false
}
