package process

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
)

// Names of the builtin natives.
const (
	NativeHold           = "hold"
	NativeHoldUntil      = "holdUntil"
	NativeNow            = "now"
	NativeAcquire        = "acquire"
	NativeAcquireTimeout = "acquireTimeout"
	NativeRelease        = "release"
	NativeWait           = "wait"
	NativeSignal         = "signal"
	NativeBroadcast      = "broadcast"
	NativeRandExp        = "rand.exp"
	NativeRandUniform    = "rand.uniform"
	NativeLog            = "log"
	NativeSpawn          = "spawn"
	NativeSelf           = "self"
)

func registerBuiltins(rt *Runtime) {
	rt.RegisterNative(NativeHold, nativeHold)
	rt.RegisterNative(NativeHoldUntil, nativeHoldUntil)
	rt.RegisterNative(NativeNow, nativeNow)
	rt.RegisterNative(NativeAcquire, nativeAcquire)
	rt.RegisterNative(NativeAcquireTimeout, nativeAcquireTimeout)
	rt.RegisterNative(NativeRelease, nativeRelease)
	rt.RegisterNative(NativeWait, nativeWait)
	rt.RegisterNative(NativeSignal, nativeSignal)
	rt.RegisterNative(NativeBroadcast, nativeBroadcast)
	rt.RegisterNative(NativeRandExp, nativeRandExp)
	rt.RegisterNative(NativeRandUniform, nativeRandUniform)
	rt.RegisterNative(NativeLog, nativeLog)
	rt.RegisterNative(NativeSpawn, nativeSpawn)
	rt.RegisterNative(NativeSelf, nativeSelf)
}

func wantArgs(args []Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: want %d arguments, got %d", sim.ErrProgram, n, len(args))
	}
	return nil
}

// TimeArg converts a numeric Value to ticks, rounding floats to the nearest
// tick.
func TimeArg(v Value) (sim.Time, error) {
	if i, ok := v.AsInt(); ok {
		return sim.Time(i), nil
	}
	f, ok := v.AsFloat()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s is not a time", sim.ErrProgram, v)
	}
	if f >= float64(sim.MaxTime) {
		return sim.MaxTime, nil
	}
	return sim.Time(math.Round(f)), nil
}

func floatArg(v Value) (float64, error) {
	f, ok := v.AsFloat()
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", sim.ErrProgram, v)
	}
	return f, nil
}

func resourceArg(v Value) (*Resource, error) {
	ref, _ := v.AsRef()
	r, ok := ref.(*Resource)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a resource", sim.ErrProgram, v)
	}
	return r, nil
}

func conditionArg(v Value) (*Condition, error) {
	ref, _ := v.AsRef()
	c, ok := ref.(*Condition)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a condition", sim.ErrProgram, v)
	}
	return c, nil
}

// hold(d) suspends for d ticks.
func nativeHold(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 1); err != nil {
		return Nil, err
	}
	d, err := TimeArg(args[0])
	if err != nil {
		return Nil, err
	}
	return Nil, ctx.HoldFor(d)
}

// holdUntil(t) suspends until absolute time t.
func nativeHoldUntil(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 1); err != nil {
		return Nil, err
	}
	t, err := TimeArg(args[0])
	if err != nil {
		return Nil, err
	}
	return Nil, ctx.HoldUntil(t)
}

func nativeNow(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 0); err != nil {
		return Nil, err
	}
	return Int(int64(ctx.Now())), nil
}

// acquire(res) takes a unit, parking until one is free. Returns true.
func nativeAcquire(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 1); err != nil {
		return Nil, err
	}
	r, err := resourceArg(args[0])
	if err != nil {
		return Nil, err
	}
	if r.tryAcquire(ctx.h) {
		return Bool(true), nil
	}
	return Nil, ctx.park(&r.queue, -1, Nil)
}

// acquireTimeout(res, d) is acquire giving up after d ticks. It returns
// whether a unit was obtained. Whichever of grant and timeout happens first
// cancels the other.
func nativeAcquireTimeout(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 2); err != nil {
		return Nil, err
	}
	r, err := resourceArg(args[0])
	if err != nil {
		return Nil, err
	}
	d, err := TimeArg(args[1])
	if err != nil {
		return Nil, err
	}
	if r.tryAcquire(ctx.h) {
		return Bool(true), nil
	}
	if d <= 0 {
		return Bool(false), nil
	}
	return Nil, ctx.park(&r.queue, d, Bool(false))
}

func nativeRelease(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 1); err != nil {
		return Nil, err
	}
	r, err := resourceArg(args[0])
	if err != nil {
		return Nil, err
	}
	return Nil, r.Release(ctx.h)
}

// wait(cond) parks until the condition is signalled.
func nativeWait(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 1); err != nil {
		return Nil, err
	}
	c, err := conditionArg(args[0])
	if err != nil {
		return Nil, err
	}
	return Nil, ctx.park(&c.queue, -1, Nil)
}

func nativeSignal(_ *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 1); err != nil {
		return Nil, err
	}
	c, err := conditionArg(args[0])
	if err != nil {
		return Nil, err
	}
	woke, err := c.Signal()
	return Bool(woke), err
}

func nativeBroadcast(_ *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 1); err != nil {
		return Nil, err
	}
	c, err := conditionArg(args[0])
	if err != nil {
		return Nil, err
	}
	n, err := c.Broadcast()
	return Int(int64(n)), err
}

func nativeRandExp(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 1); err != nil {
		return Nil, err
	}
	mean, err := floatArg(args[0])
	if err != nil {
		return Nil, err
	}
	if mean <= 0 {
		return Nil, fmt.Errorf("%w: rand.exp mean must be positive, got %g", sim.ErrProgram, mean)
	}
	return Float(ctx.RNG().ExpFloat64() * mean), nil
}

func nativeRandUniform(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 2); err != nil {
		return Nil, err
	}
	lo, err := floatArg(args[0])
	if err != nil {
		return Nil, err
	}
	hi, err := floatArg(args[1])
	if err != nil {
		return Nil, err
	}
	if hi < lo {
		return Nil, fmt.Errorf("%w: rand.uniform bounds [%g, %g)", sim.ErrProgram, lo, hi)
	}
	return Float(lo + ctx.RNG().Float64()*(hi-lo)), nil
}

// log(v...) writes its arguments at debug level.
func nativeLog(ctx *Context, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	logrus.WithFields(logrus.Fields{
		"process": ctx.h.String(),
	}).Debugf("[t=%s] %s", ctx.Now(), strings.Join(parts, " "))
	return Nil, nil
}

// spawn(name, args...) starts another process at the current time, after
// the caller yields. Returns the new process id.
func nativeSpawn(ctx *Context, args []Value) (Value, error) {
	if len(args) == 0 {
		return Nil, fmt.Errorf("%w: spawn needs a function name", sim.ErrProgram)
	}
	name, ok := args[0].AsString()
	if !ok {
		return Nil, fmt.Errorf("%w: spawn target %s is not a name", sim.ErrProgram, args[0])
	}
	rest := make([]any, len(args)-1)
	for i, a := range args[1:] {
		rest[i] = a
	}
	h, err := ctx.rt.StartAt(ctx.Now(), name, rest...)
	if err != nil {
		return Nil, err
	}
	return Int(int64(h.ID())), nil
}

func nativeSelf(ctx *Context, args []Value) (Value, error) {
	if err := wantArgs(args, 0); err != nil {
		return Nil, err
	}
	return Int(int64(ctx.h.ID())), nil
}
