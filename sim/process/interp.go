package process

import (
	"fmt"
	"math"

	"github.com/inference-sim/simkernel/sim"
)

// run interprets frames on behalf of h until the process suspends, returns
// or fails. Errors terminate h and are returned wrapped with its name.
func (rt *Runtime) run(h *ProcessHandle, frames []*Frame) error {
	for {
		f := frames[len(frames)-1]

		if f.PC >= len(f.Fn.Code) {
			// Falling off the end returns nil.
			var done bool
			frames, done = rt.ret(h, frames, Nil)
			if done {
				return rt.releaseAll(h)
			}
			continue
		}

		in := f.Fn.Code[f.PC]
		f.PC++

		switch in.Op {
		case OpRet:
			v := Nil
			if len(f.Stack) > 0 {
				v = f.Stack[len(f.Stack)-1]
			}
			var done bool
			frames, done = rt.ret(h, frames, v)
			if done {
				return rt.releaseAll(h)
			}

		case OpCall:
			if len(frames) >= rt.maxDepth {
				return rt.fail(h, fmt.Errorf("%w: %s@%d: call depth exceeds %d",
					sim.ErrProgram, f.Fn.Name, f.PC-1, rt.maxDepth))
			}
			callee, ok := rt.program.Func(in.Name)
			if !ok {
				return rt.fail(h, fmt.Errorf("%w: %s@%d: undefined function %q",
					sim.ErrProgram, f.Fn.Name, f.PC-1, in.Name))
			}
			args, err := f.popN(in.A)
			if err != nil {
				return rt.fail(h, err)
			}
			frames = append(frames, newFrame(callee, args))

		case OpNative:
			native, ok := rt.natives[in.Name]
			if !ok {
				return rt.fail(h, fmt.Errorf("%w: %s@%d: unknown native %q",
					sim.ErrProgram, f.Fn.Name, f.PC-1, in.Name))
			}
			args, err := f.popN(in.A)
			if err != nil {
				return rt.fail(h, err)
			}
			ctx := &Context{rt: rt, h: h, frames: frames, active: true}
			v, err := native(ctx, args)
			ctx.active = false
			if err != nil {
				return rt.fail(h, fmt.Errorf("%s@%d: native %s: %w", f.Fn.Name, f.PC-1, in.Name, err))
			}
			if h.status == Terminated {
				return nil
			}
			if ctx.suspended {
				return nil
			}
			f.push(v)

		default:
			if err := step(f, in); err != nil {
				return rt.fail(h, err)
			}
		}
	}
}

// ret pops the innermost frame and hands v to the caller. done is true when
// the outermost frame returned and h has terminated.
func (rt *Runtime) ret(h *ProcessHandle, frames []*Frame, v Value) ([]*Frame, bool) {
	frames = frames[:len(frames)-1]
	if len(frames) == 0 {
		rt.terminate(h, v, nil)
		return nil, true
	}
	frames[len(frames)-1].push(v)
	return frames, false
}

func (rt *Runtime) fail(h *ProcessHandle, err error) error {
	err = fmt.Errorf("process %s: %w", h, err)
	rt.terminate(h, Nil, err)
	if rerr := rt.releaseAll(h); rerr != nil {
		return fmt.Errorf("%w (releasing: %v)", err, rerr)
	}
	return err
}

// step executes an instruction that only touches the current frame.
func step(f *Frame, in Instr) error {
	switch in.Op {
	case OpPush:
		f.push(in.K)
	case OpPop:
		_, err := f.pop()
		return err
	case OpDup:
		v, err := f.pop()
		if err != nil {
			return err
		}
		f.push(v)
		f.push(v)
	case OpLoad:
		if in.A < 0 || in.A >= len(f.Locals) {
			return fmt.Errorf("%w: %s@%d: load of slot %d", sim.ErrProgram, f.Fn.Name, f.PC-1, in.A)
		}
		f.push(f.Locals[in.A])
	case OpStore:
		if in.A < 0 || in.A >= len(f.Locals) {
			return fmt.Errorf("%w: %s@%d: store to slot %d", sim.ErrProgram, f.Fn.Name, f.PC-1, in.A)
		}
		v, err := f.pop()
		if err != nil {
			return err
		}
		f.Locals[in.A] = v
	case OpNeg:
		v, err := f.pop()
		if err != nil {
			return err
		}
		switch v.kind {
		case KindInt:
			f.push(Int(-v.i))
		case KindFloat:
			f.push(Float(-v.f))
		default:
			return opError(f, in, v)
		}
	case OpNot:
		v, err := f.pop()
		if err != nil {
			return err
		}
		f.push(Bool(!v.Truthy()))
	case OpJmp:
		f.PC = in.A
	case OpJmpF, OpJmpT:
		v, err := f.pop()
		if err != nil {
			return err
		}
		if v.Truthy() == (in.Op == OpJmpT) {
			f.PC = in.A
		}
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		ab, err := f.popN(2)
		if err != nil {
			return err
		}
		v, err := binary(in.Op, ab[0], ab[1])
		if err != nil {
			return fmt.Errorf("%s@%d: %w", f.Fn.Name, f.PC-1, err)
		}
		f.push(v)
	default:
		return fmt.Errorf("%w: %s@%d: unknown opcode %s", sim.ErrProgram, f.Fn.Name, f.PC-1, in.Op)
	}
	return nil
}

func opError(f *Frame, in Instr, v Value) error {
	return fmt.Errorf("%w: %s@%d: %s on %s", sim.ErrProgram, f.Fn.Name, f.PC-1, in.Op, v.kind)
}

func binary(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpEq:
		return Bool(a.Equal(b) || numEqual(a, b)), nil
	case OpNe:
		return Bool(!(a.Equal(b) || numEqual(a, b))), nil
	}

	if a.kind == KindString && b.kind == KindString {
		switch op {
		case OpAdd:
			return Str(a.s + b.s), nil
		case OpLt:
			return Bool(a.s < b.s), nil
		case OpLe:
			return Bool(a.s <= b.s), nil
		case OpGt:
			return Bool(a.s > b.s), nil
		case OpGe:
			return Bool(a.s >= b.s), nil
		}
		return Nil, fmt.Errorf("%w: %s on strings", sim.ErrProgram, op)
	}

	if a.kind == KindInt && b.kind == KindInt {
		x, y := a.i, b.i
		switch op {
		case OpAdd:
			return Int(x + y), nil
		case OpSub:
			return Int(x - y), nil
		case OpMul:
			return Int(x * y), nil
		case OpDiv, OpMod:
			if y == 0 {
				return Nil, fmt.Errorf("%w: integer division by zero", sim.ErrProgram)
			}
			if op == OpDiv {
				return Int(x / y), nil
			}
			return Int(x % y), nil
		case OpLt:
			return Bool(x < y), nil
		case OpLe:
			return Bool(x <= y), nil
		case OpGt:
			return Bool(x > y), nil
		case OpGe:
			return Bool(x >= y), nil
		}
	}

	x, okA := a.AsFloat()
	y, okB := b.AsFloat()
	if !okA || !okB {
		return Nil, fmt.Errorf("%w: %s on %s and %s", sim.ErrProgram, op, a.kind, b.kind)
	}
	switch op {
	case OpAdd:
		return Float(x + y), nil
	case OpSub:
		return Float(x - y), nil
	case OpMul:
		return Float(x * y), nil
	case OpDiv:
		return Float(x / y), nil
	case OpMod:
		return Float(math.Mod(x, y)), nil
	case OpLt:
		return Bool(x < y), nil
	case OpLe:
		return Bool(x <= y), nil
	case OpGt:
		return Bool(x > y), nil
	case OpGe:
		return Bool(x >= y), nil
	}
	return Nil, fmt.Errorf("%w: unknown binary operator %s", sim.ErrProgram, op)
}

// numEqual lets 1 == 1.0 hold across int and float.
func numEqual(a, b Value) bool {
	if (a.kind == KindInt && b.kind == KindFloat) || (a.kind == KindFloat && b.kind == KindInt) {
		x, _ := a.AsFloat()
		y, _ := b.AsFloat()
		return x == y
	}
	return false
}
