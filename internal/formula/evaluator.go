package formula

import (
	"math"
	"time"
)

// run executes the program against env in a single pass over one value
// stack.
func (p *Program) run(env map[string]any, now time.Time) (float64, error) {
	stack := make([]value, 0, len(p.code))

	for _, in := range p.code {
		switch in.code {
		case opNumber:
			stack = append(stack, numberValue(in.num))

		case opVariable:
			v, err := resolveVariable(env, in.name)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)

		case opOperator:
			info := operators[in.op]
			if info.unary {
				if len(stack) < 1 {
					return 0, ErrInsufficientOperands
				}
				b, err := stack[len(stack)-1].number()
				if err != nil {
					return 0, err
				}
				result, _ := info.apply(0, b)
				stack[len(stack)-1] = numberValue(result)
				continue
			}
			if len(stack) < 2 {
				return 0, ErrInsufficientOperands
			}
			a, err := stack[len(stack)-2].number()
			if err != nil {
				return 0, err
			}
			b, err := stack[len(stack)-1].number()
			if err != nil {
				return 0, err
			}
			stack = stack[:len(stack)-2]
			result, err := info.apply(a, b)
			if err != nil {
				return 0, err
			}
			stack = append(stack, numberValue(result))

		case opCall:
			fn, ok := functions[in.name]
			if !ok {
				return 0, &UnknownFunctionError{Name: in.name}
			}
			if !fn.accepts(in.argc) || len(stack) < in.argc {
				return 0, &InsufficientArgumentsError{Function: in.name, Got: in.argc}
			}
			args := make([]value, in.argc)
			copy(args, stack[len(stack)-in.argc:])
			stack = stack[:len(stack)-in.argc]
			result, err := fn.call(args, now)
			if err != nil {
				return 0, err
			}
			stack = append(stack, numberValue(result))

		default:
			return 0, ErrMalformedProgram
		}
	}

	if len(stack) != 1 {
		return 0, ErrMalformedProgram
	}
	result, err := stack[0].number()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, ErrNonFiniteResult
	}
	return result, nil
}
