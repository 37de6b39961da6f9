package process

import (
	"fmt"

	"github.com/inference-sim/simkernel/sim"
)

// Assembler builds a Function with named locals and symbolic labels. Methods
// chain; the first error is kept and returned by Build.
//
//	fn, err := NewAssembler("customer", "bank").
//		Load("bank").Native("acquire", 1).Pop().
//		Push(5).Native("hold", 1).Pop().
//		Load("bank").Native("release", 1).Pop().
//		Build()
type Assembler struct {
	fn     *Function
	locals map[string]int
	labels map[string]int
	fixups []fixup
	err    error
}

type fixup struct {
	pc    int
	label string
}

// NewAssembler starts a function whose first locals are the named params.
func NewAssembler(name string, params ...string) *Assembler {
	a := &Assembler{
		fn:     &Function{Name: name},
		locals: make(map[string]int),
		labels: make(map[string]int),
	}
	for _, p := range params {
		if _, dup := a.locals[p]; dup {
			a.fail("parameter %q declared twice", p)
			continue
		}
		a.Local(p)
	}
	a.fn.Params = len(params)
	return a
}

func (a *Assembler) fail(format string, args ...any) {
	if a.err == nil {
		a.err = fmt.Errorf("%w: assembling %s: %s", sim.ErrProgram, a.fn.Name, fmt.Sprintf(format, args...))
	}
}

func (a *Assembler) emit(in Instr) *Assembler {
	a.fn.Code = append(a.fn.Code, in)
	return a
}

// Local returns the slot of name, declaring it if needed.
func (a *Assembler) Local(name string) int {
	if slot, ok := a.locals[name]; ok {
		return slot
	}
	slot := a.fn.NumLocals
	a.locals[name] = slot
	a.fn.NumLocals++
	a.fn.LocalNames = append(a.fn.LocalNames, name)
	return slot
}

// PC returns the index of the next instruction.
func (a *Assembler) PC() int { return len(a.fn.Code) }

// Push pushes a constant converted with ValueOf.
func (a *Assembler) Push(v any) *Assembler { return a.emit(Instr{Op: OpPush, K: ValueOf(v)}) }

// Pop drops the top of the stack.
func (a *Assembler) Pop() *Assembler { return a.emit(Instr{Op: OpPop}) }

// Dup duplicates the top of the stack.
func (a *Assembler) Dup() *Assembler { return a.emit(Instr{Op: OpDup}) }

// Load pushes a declared local.
func (a *Assembler) Load(name string) *Assembler {
	slot, ok := a.locals[name]
	if !ok {
		a.fail("load of undeclared local %q", name)
	}
	return a.emit(Instr{Op: OpLoad, A: slot})
}

// Store pops into a local, declaring it on first use.
func (a *Assembler) Store(name string) *Assembler {
	return a.emit(Instr{Op: OpStore, A: a.Local(name)})
}

// Op emits an operand-only instruction such as OpAdd or OpLt.
func (a *Assembler) Op(op Opcode) *Assembler {
	switch op {
	case OpPop, OpDup, OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg,
		OpLt, OpLe, OpGt, OpGe, OpEq, OpNe, OpNot, OpRet:
		return a.emit(Instr{Op: op})
	}
	a.fail("%s needs an operand", op)
	return a
}

// Add emits OpAdd, popping b then a and pushing a+b.
func (a *Assembler) Add() *Assembler { return a.Op(OpAdd) }

// Sub emits OpSub, pushing a-b.
func (a *Assembler) Sub() *Assembler { return a.Op(OpSub) }

// Mul emits OpMul, pushing a*b.
func (a *Assembler) Mul() *Assembler { return a.Op(OpMul) }

// Div emits OpDiv, pushing a/b.
func (a *Assembler) Div() *Assembler { return a.Op(OpDiv) }

// Mod emits OpMod, pushing the remainder of a/b.
func (a *Assembler) Mod() *Assembler { return a.Op(OpMod) }

// Neg emits OpNeg, negating the top of the stack.
func (a *Assembler) Neg() *Assembler { return a.Op(OpNeg) }

// Lt emits OpLt, pushing a < b.
func (a *Assembler) Lt() *Assembler { return a.Op(OpLt) }

// Le emits OpLe, pushing a <= b.
func (a *Assembler) Le() *Assembler { return a.Op(OpLe) }

// Gt emits OpGt, pushing a > b.
func (a *Assembler) Gt() *Assembler { return a.Op(OpGt) }

// Ge emits OpGe, pushing a >= b.
func (a *Assembler) Ge() *Assembler { return a.Op(OpGe) }

// Eq emits OpEq, pushing whether a and b are equal.
func (a *Assembler) Eq() *Assembler { return a.Op(OpEq) }

// Ne emits OpNe, pushing whether a and b differ.
func (a *Assembler) Ne() *Assembler { return a.Op(OpNe) }

// Not emits OpNot, replacing the top of the stack with its negated truth.
func (a *Assembler) Not() *Assembler { return a.Op(OpNot) }

// Label binds name to the next instruction.
func (a *Assembler) Label(name string) *Assembler {
	if _, dup := a.labels[name]; dup {
		a.fail("label %q bound twice", name)
	}
	a.labels[name] = a.PC()
	return a
}

func (a *Assembler) jump(op Opcode, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{pc: a.PC(), label: label})
	return a.emit(Instr{Op: op})
}

// Jump jumps to label unconditionally.
func (a *Assembler) Jump(label string) *Assembler { return a.jump(OpJmp, label) }

// JumpIfFalse pops a condition and jumps to label when it is falsy.
func (a *Assembler) JumpIfFalse(label string) *Assembler { return a.jump(OpJmpF, label) }

// JumpIfTrue pops a condition and jumps to label when it is truthy.
func (a *Assembler) JumpIfTrue(label string) *Assembler { return a.jump(OpJmpT, label) }

// Call calls another function of the program with argc arguments already
// pushed. The callee's return value is pushed.
func (a *Assembler) Call(name string, argc int) *Assembler {
	return a.emit(Instr{Op: OpCall, A: argc, Name: name})
}

// Native calls a host builtin with argc arguments already pushed. Its result
// is pushed, also when the builtin suspended the process.
func (a *Assembler) Native(name string, argc int) *Assembler {
	return a.emit(Instr{Op: OpNative, A: argc, Name: name})
}

// Do calls a native for its effect and drops the result.
func (a *Assembler) Do(name string, argc int) *Assembler {
	return a.Native(name, argc).Pop()
}

// Ret returns the top of the stack, or nil when the stack is empty.
func (a *Assembler) Ret() *Assembler { return a.emit(Instr{Op: OpRet}) }

// Build resolves labels and returns the function.
func (a *Assembler) Build() (*Function, error) {
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			a.fail("undefined label %q", f.label)
			break
		}
		a.fn.Code[f.pc].A = target
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.fn, nil
}

// MustBuild is Build for statically known code; it panics on error.
func (a *Assembler) MustBuild() *Function {
	fn, err := a.Build()
	if err != nil {
		panic(err)
	}
	return fn
}
