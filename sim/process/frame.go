package process

import (
	"fmt"

	"github.com/inference-sim/simkernel/sim"
)

// Frame is one level of a process's call chain: the function, the index of
// the next instruction, the locals and the operand stack.
type Frame struct {
	Fn     *Function
	PC     int
	Locals []Value
	Stack  []Value
}

func newFrame(fn *Function, args []Value) *Frame {
	f := &Frame{
		Fn:     fn,
		Locals: make([]Value, fn.NumLocals),
		Stack:  make([]Value, 0, 8),
	}
	copy(f.Locals, args)
	return f
}

// Clone returns a deep copy of f. The function is shared; it is never
// modified after assembly.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Fn:     f.Fn,
		PC:     f.PC,
		Locals: make([]Value, len(f.Locals)),
		Stack:  make([]Value, len(f.Stack), cap(f.Stack)),
	}
	copy(c.Locals, f.Locals)
	copy(c.Stack, f.Stack)
	return c
}

// Equal reports whether f and o hold the same location and values.
func (f *Frame) Equal(o *Frame) bool {
	if f.Fn != o.Fn || f.PC != o.PC ||
		len(f.Locals) != len(o.Locals) || len(f.Stack) != len(o.Stack) {
		return false
	}
	for i := range f.Locals {
		if !f.Locals[i].Equal(o.Locals[i]) {
			return false
		}
	}
	for i := range f.Stack {
		if !f.Stack[i].Equal(o.Stack[i]) {
			return false
		}
	}
	return true
}

// Local returns the value of a named local, using the function's debug
// names.
func (f *Frame) Local(name string) (Value, bool) {
	for i, n := range f.Fn.LocalNames {
		if n == name && i < len(f.Locals) {
			return f.Locals[i], true
		}
	}
	return Nil, false
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s@%d locals=%v stack=%v", f.Fn.Name, f.PC, f.Locals, f.Stack)
}

func (f *Frame) push(v Value) { f.Stack = append(f.Stack, v) }

func (f *Frame) pop() (Value, error) {
	n := len(f.Stack)
	if n == 0 {
		return Nil, fmt.Errorf("%w: %s@%d: operand stack underflow", sim.ErrProgram, f.Fn.Name, f.PC-1)
	}
	v := f.Stack[n-1]
	f.Stack = f.Stack[:n-1]
	return v, nil
}

func (f *Frame) popN(n int) ([]Value, error) {
	if n > len(f.Stack) {
		return nil, fmt.Errorf("%w: %s@%d: need %d operands, have %d",
			sim.ErrProgram, f.Fn.Name, f.PC-1, n, len(f.Stack))
	}
	args := make([]Value, n)
	copy(args, f.Stack[len(f.Stack)-n:])
	f.Stack = f.Stack[:len(f.Stack)-n]
	return args, nil
}

func cloneFrames(frames []*Frame) []*Frame {
	out := make([]*Frame, len(frames))
	for i, f := range frames {
		out[i] = f.Clone()
	}
	return out
}

// verifyChain checks that a captured chain can be resumed: every frame sits
// right after the CALL or NATIVE that suspended it, or at the entry of a
// process that has not run yet.
func verifyChain(frames []*Frame, fresh bool) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: empty frame chain", sim.ErrProgram)
	}
	last := len(frames) - 1
	for i, f := range frames {
		if f == nil || f.Fn == nil {
			return fmt.Errorf("%w: frame %d has no function", sim.ErrProgram, i)
		}
		if len(f.Locals) != f.Fn.NumLocals {
			return fmt.Errorf("%w: frame %d (%s) has %d locals, want %d",
				sim.ErrProgram, i, f.Fn.Name, len(f.Locals), f.Fn.NumLocals)
		}
		if fresh && i == last && f.PC == 0 {
			continue
		}
		want := OpCall
		if i == last {
			want = OpNative
		}
		if f.PC < 1 || f.PC > len(f.Fn.Code) || f.Fn.Code[f.PC-1].Op != want {
			return fmt.Errorf("%w: frame %d (%s) captured at unreachable pc %d",
				sim.ErrProgram, i, f.Fn.Name, f.PC)
		}
	}
	return nil
}
