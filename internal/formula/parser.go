package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// Postfix program
// ============================================================================

type opcode uint8

const (
	opNumber opcode = iota
	opVariable
	opOperator
	opCall
)

type instruction struct {
	code opcode
	num  float64
	name string // variable or function name
	op   byte
	argc int
}

// Program is a parsed formula in postfix order. It holds no per-evaluation
// state and may be run any number of times.
type Program struct {
	source string
	code   []instruction
}

// Source returns the formula text the program was compiled from.
func (p *Program) Source() string { return p.source }

// String renders the program in reverse Polish notation, with calls written
// as name/argc.
func (p *Program) String() string {
	parts := make([]string, 0, len(p.code))
	for _, in := range p.code {
		switch in.code {
		case opNumber:
			parts = append(parts, strconv.FormatFloat(in.num, 'g', -1, 64))
		case opVariable:
			parts = append(parts, "{"+in.name+"}")
		case opOperator:
			if in.op == opNegate {
				parts = append(parts, "neg")
				continue
			}
			parts = append(parts, string(in.op))
		case opCall:
			parts = append(parts, fmt.Sprintf("%s/%d", in.name, in.argc))
		}
	}
	return strings.Join(parts, " ")
}

// ============================================================================
// Parser: shunting-yard
// ============================================================================

type stackKind uint8

const (
	stOperator stackKind = iota
	stFunction
	stLParen
)

type stackItem struct {
	kind stackKind
	op   byte
	name string
}

// frame tracks one open parenthesis. call is set when the parenthesis opens a
// function's argument list.
type frame struct {
	call     bool
	hasArg   bool
	argCount int
}

type parser struct {
	out    []instruction
	ops    []stackItem
	frames []frame
}

// parse converts infix tokens into a postfix program.
func parse(tokens []token) ([]instruction, error) {
	p := &parser{}
	for i, tok := range tokens {
		var err error
		switch tok.kind {
		case tkNumber:
			p.out = append(p.out, instruction{code: opNumber, num: tok.num})
			p.markArg()
		case tkVariable:
			p.out = append(p.out, instruction{code: opVariable, name: tok.value})
			p.markArg()
		case tkFunction:
			if i+1 >= len(tokens) || tokens[i+1].kind != tkLParen {
				return nil, fmt.Errorf("%w: %s must be followed by '(' at position %d", ErrMalformedCall, tok.value, tok.pos)
			}
			p.ops = append(p.ops, stackItem{kind: stFunction, name: tok.value})
		case tkOperator:
			if tok.value == "-" && startsOperand(tokens, i) {
				p.ops = append(p.ops, stackItem{kind: stOperator, op: opNegate})
				continue
			}
			p.pushOperator(tok.value[0])
		case tkLParen:
			call := len(p.ops) > 0 && p.ops[len(p.ops)-1].kind == stFunction
			p.ops = append(p.ops, stackItem{kind: stLParen})
			p.frames = append(p.frames, frame{call: call})
		case tkComma:
			err = p.comma(tok)
		case tkRParen:
			err = p.closeParen(tok)
		}
		if err != nil {
			return nil, err
		}
	}

	for len(p.ops) > 0 {
		top := p.pop()
		switch top.kind {
		case stLParen:
			return nil, ErrUnbalancedParentheses
		default:
			p.out = append(p.out, instruction{code: opOperator, op: top.op})
		}
	}
	return p.out, nil
}

// startsOperand reports whether tokens[i] sits where an operand must begin:
// at the start, or after an operator, '(' or ','.
func startsOperand(tokens []token, i int) bool {
	if i == 0 {
		return true
	}
	switch tokens[i-1].kind {
	case tkOperator, tkLParen, tkComma:
		return true
	}
	return false
}

func (p *parser) pop() stackItem {
	top := p.ops[len(p.ops)-1]
	p.ops = p.ops[:len(p.ops)-1]
	return top
}

// markArg records that the innermost open parenthesis has produced an
// operand.
func (p *parser) markArg() {
	if len(p.frames) == 0 {
		return
	}
	f := &p.frames[len(p.frames)-1]
	if f.argCount == 0 {
		f.argCount = 1
	}
	f.hasArg = true
}

func (p *parser) pushOperator(op byte) {
	cur := operators[op]
	for len(p.ops) > 0 {
		top := p.ops[len(p.ops)-1]
		if top.kind != stOperator {
			break
		}
		prev := operators[top.op]
		if prev.precedence > cur.precedence || (prev.precedence == cur.precedence && !cur.rightAssoc) {
			p.pop()
			p.out = append(p.out, instruction{code: opOperator, op: top.op})
			continue
		}
		break
	}
	p.ops = append(p.ops, stackItem{kind: stOperator, op: op})
}

// drainToParen moves operators to the output until the nearest '(' is on top.
func (p *parser) drainToParen() bool {
	for len(p.ops) > 0 {
		top := p.ops[len(p.ops)-1]
		if top.kind == stLParen {
			return true
		}
		p.pop()
		p.out = append(p.out, instruction{code: opOperator, op: top.op})
	}
	return false
}

func (p *parser) comma(tok token) error {
	if !p.drainToParen() || len(p.frames) == 0 {
		return fmt.Errorf("%w: unexpected ',' at position %d", ErrMalformedCall, tok.pos)
	}
	f := &p.frames[len(p.frames)-1]
	if !f.call {
		return fmt.Errorf("%w: unexpected ',' at position %d", ErrMalformedCall, tok.pos)
	}
	if !f.hasArg {
		return fmt.Errorf("%w: empty argument at position %d", ErrMalformedCall, tok.pos)
	}
	f.argCount++
	f.hasArg = false
	return nil
}

func (p *parser) closeParen(tok token) error {
	if !p.drainToParen() || len(p.frames) == 0 {
		return ErrUnbalancedParentheses
	}
	p.pop()
	f := p.frames[len(p.frames)-1]
	p.frames = p.frames[:len(p.frames)-1]

	if !f.call {
		if !f.hasArg {
			return fmt.Errorf("%w: empty parentheses at position %d", ErrMalformedCall, tok.pos)
		}
		p.markArg()
		return nil
	}

	if f.argCount > 0 && !f.hasArg {
		return fmt.Errorf("%w: missing argument before ')' at position %d", ErrMalformedCall, tok.pos)
	}
	fn := p.pop()
	p.out = append(p.out, instruction{code: opCall, name: fn.name, argc: f.argCount})
	p.markArg()
	return nil
}
