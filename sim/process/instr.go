package process

import (
	"fmt"
	"strings"

	"github.com/inference-sim/simkernel/sim"
)

// Opcode selects the operation of an instruction.
type Opcode uint8

const (
	OpPush   Opcode = iota // push K
	OpPop                  // drop top
	OpDup                  // duplicate top
	OpLoad                 // push Locals[A]
	OpStore                // pop into Locals[A]
	OpAdd                  // a + b; strings concatenate
	OpSub                  // a - b
	OpMul                  // a * b
	OpDiv                  // a / b
	OpMod                  // a % b
	OpNeg                  // -a
	OpLt                   // a < b
	OpLe                   // a <= b
	OpGt                   // a > b
	OpGe                   // a >= b
	OpEq                   // a == b
	OpNe                   // a != b
	OpNot                  // !truthy(a)
	OpJmp                  // PC = A
	OpJmpF                 // pop; if falsy PC = A
	OpJmpT                 // pop; if truthy PC = A
	OpCall                 // call function Name with A arguments
	OpNative               // call native Name with A arguments, push its result
	OpRet                  // return top (or nil) to the caller
)

var opNames = [...]string{
	OpPush:   "PUSH",
	OpPop:    "POP",
	OpDup:    "DUP",
	OpLoad:   "LOAD",
	OpStore:  "STORE",
	OpAdd:    "ADD",
	OpSub:    "SUB",
	OpMul:    "MUL",
	OpDiv:    "DIV",
	OpMod:    "MOD",
	OpNeg:    "NEG",
	OpLt:     "LT",
	OpLe:     "LE",
	OpGt:     "GT",
	OpGe:     "GE",
	OpEq:     "EQ",
	OpNe:     "NE",
	OpNot:    "NOT",
	OpJmp:    "JMP",
	OpJmpF:   "JMPF",
	OpJmpT:   "JMPT",
	OpCall:   "CALL",
	OpNative: "NATIVE",
	OpRet:    "RET",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", uint8(op))
}

// Instr is one instruction. A is the slot, jump target or argument count
// depending on Op; K is the PUSH constant; Name is the CALL or NATIVE target.
type Instr struct {
	Op   Opcode
	A    int
	K    Value
	Name string
}

func (in Instr) String() string {
	switch in.Op {
	case OpPush:
		return fmt.Sprintf("PUSH %s", in.K)
	case OpLoad, OpStore, OpJmp, OpJmpF, OpJmpT:
		return fmt.Sprintf("%s %d", in.Op, in.A)
	case OpCall, OpNative:
		return fmt.Sprintf("%s %s/%d", in.Op, in.Name, in.A)
	}
	return in.Op.String()
}

// Function is a process body or a procedure it calls. The first Params
// locals receive the arguments; NumLocals counts every slot, parameters
// included.
type Function struct {
	Name      string
	Params    int
	NumLocals int
	Code      []Instr

	// LocalNames is optional debug information indexed by slot.
	LocalNames []string
}

// Disassemble renders the code one instruction per line.
func (f *Function) Disassemble() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(params=%d locals=%d)\n", f.Name, f.Params, f.NumLocals)
	for pc, in := range f.Code {
		fmt.Fprintf(&b, "%4d  %s\n", pc, in)
	}
	return b.String()
}

// Program is a set of functions that may call each other.
type Program struct {
	funcs map[string]*Function
	order []string
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{funcs: make(map[string]*Function)}
}

// Add registers fn. Names must be unique.
func (p *Program) Add(fn *Function) error {
	if fn == nil || fn.Name == "" {
		return fmt.Errorf("%w: function must have a name", sim.ErrProgram)
	}
	if _, dup := p.funcs[fn.Name]; dup {
		return fmt.Errorf("%w: function %q defined twice", sim.ErrProgram, fn.Name)
	}
	p.funcs[fn.Name] = fn
	p.order = append(p.order, fn.Name)
	return nil
}

// Func looks a function up by name.
func (p *Program) Func(name string) (*Function, bool) {
	fn, ok := p.funcs[name]
	return fn, ok
}

// Functions returns the functions in registration order.
func (p *Program) Functions() []*Function {
	out := make([]*Function, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.funcs[name])
	}
	return out
}

// Validate checks every instruction statically: jump targets inside the
// function, local slots in range, CALL targets defined with the right
// arity, and NATIVE names known to hasNative. A nil hasNative skips the
// native check.
func (p *Program) Validate(hasNative func(name string) bool) error {
	for _, fn := range p.Functions() {
		if err := p.validateFunc(fn, hasNative); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) validateFunc(fn *Function, hasNative func(string) bool) error {
	if fn.Params < 0 || fn.NumLocals < fn.Params {
		return fmt.Errorf("%w: %s: %d params but %d locals",
			sim.ErrProgram, fn.Name, fn.Params, fn.NumLocals)
	}
	for pc, in := range fn.Code {
		bad := func(format string, args ...any) error {
			return fmt.Errorf("%w: %s@%d %s: %s",
				sim.ErrProgram, fn.Name, pc, in, fmt.Sprintf(format, args...))
		}
		switch in.Op {
		case OpLoad, OpStore:
			if in.A < 0 || in.A >= fn.NumLocals {
				return bad("slot out of range [0, %d)", fn.NumLocals)
			}
		case OpJmp, OpJmpF, OpJmpT:
			if in.A < 0 || in.A > len(fn.Code) {
				return bad("jump target out of range [0, %d]", len(fn.Code))
			}
		case OpCall:
			callee, ok := p.funcs[in.Name]
			if !ok {
				return bad("undefined function")
			}
			if in.A != callee.Params {
				return bad("%s takes %d arguments", callee.Name, callee.Params)
			}
		case OpNative:
			if in.A < 0 {
				return bad("negative argument count")
			}
			if hasNative != nil && !hasNative(in.Name) {
				return bad("unknown native")
			}
		default:
			if in.Op > OpRet {
				return bad("unknown opcode")
			}
		}
	}
	return nil
}
