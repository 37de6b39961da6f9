package process

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
)

// ErrCancelled is the Err of a process terminated by Cancel or by the end
// of its replication.
var ErrCancelled = errors.New("process cancelled")

// DefaultMaxDepth bounds the call chain of one process.
const DefaultMaxDepth = 256

// Runtime interprets the functions of a Program as processes on one
// Simulator. Every method must be called from the simulator's run loop
// goroutine, or from model construction.
type Runtime struct {
	sim       *sim.Simulator
	program   *Program
	natives   map[string]Native
	validated bool
	maxDepth  int

	handles map[ProcessID]*ProcessHandle
	nextID  ProcessID
	current *ProcessHandle

	resources   []*Resource
	conditions  []*Condition
	onTerminate []func(h *ProcessHandle)
}

// NewRuntime binds program to s and installs the builtin natives. The
// runtime tears its processes down when s is re-initialized or its
// replication ends.
func NewRuntime(s *sim.Simulator, program *Program) *Runtime {
	rt := &Runtime{
		sim:      s,
		program:  program,
		natives:  make(map[string]Native),
		maxDepth: DefaultMaxDepth,
		handles:  make(map[ProcessID]*ProcessHandle),
	}
	registerBuiltins(rt)
	s.AcceptHook(rt)
	return rt
}

// Simulator returns the simulator the runtime schedules on.
func (rt *Runtime) Simulator() *sim.Simulator { return rt.sim }

// Program returns the interpreted program.
func (rt *Runtime) Program() *Program { return rt.program }

// SetMaxDepth changes the call depth limit.
func (rt *Runtime) SetMaxDepth(n int) { rt.maxDepth = n }

// RegisterNative adds or replaces a host builtin.
func (rt *Runtime) RegisterNative(name string, fn Native) {
	rt.natives[name] = fn
	rt.validated = false
}

// HasNative reports whether name is registered.
func (rt *Runtime) HasNative(name string) bool {
	_, ok := rt.natives[name]
	return ok
}

// OnTerminate registers a listener called whenever a process terminates.
func (rt *Runtime) OnTerminate(fn func(h *ProcessHandle)) {
	rt.onTerminate = append(rt.onTerminate, fn)
}

// Handle returns a live process by identity.
func (rt *Runtime) Handle(id ProcessID) (*ProcessHandle, bool) {
	h, ok := rt.handles[id]
	return h, ok
}

// Active returns the live processes ordered by identity.
func (rt *Runtime) Active() []*ProcessHandle {
	out := make([]*ProcessHandle, 0, len(rt.handles))
	for _, h := range rt.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Current returns the process being interpreted, nil outside interpretation.
func (rt *Runtime) Current() *ProcessHandle { return rt.current }

func (rt *Runtime) validate() error {
	if rt.validated {
		return nil
	}
	if err := rt.program.Validate(rt.HasNative); err != nil {
		return err
	}
	rt.validated = true
	return nil
}

func (rt *Runtime) newHandle(fnName string, args []any) (*ProcessHandle, error) {
	if err := rt.validate(); err != nil {
		return nil, err
	}
	fn, ok := rt.program.Func(fnName)
	if !ok {
		return nil, fmt.Errorf("%w: undefined process body %q", sim.ErrProgram, fnName)
	}
	if len(args) != fn.Params {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d",
			sim.ErrProgram, fnName, fn.Params, len(args))
	}
	vals := make([]Value, len(args))
	for i, a := range args {
		vals[i] = ValueOf(a)
	}

	rt.nextID++
	h := &ProcessHandle{
		id:     rt.nextID,
		name:   fnName,
		status: Suspended,
		stack:  []*Frame{newFrame(fn, vals)},
		fresh:  true,
	}
	rt.handles[h.id] = h
	return h, nil
}

// Start creates a process running fnName and interprets it right away until
// it first waits or returns. An error from the body is returned together
// with the terminated handle.
func (rt *Runtime) Start(fnName string, args ...any) (*ProcessHandle, error) {
	h, err := rt.newHandle(fnName, args)
	if err != nil {
		return nil, err
	}
	return h, rt.Resume(h)
}

// StartAt creates a process that begins running fnName at time t. Until then
// it is Suspended on its start event.
func (rt *Runtime) StartAt(t sim.Time, fnName string, args ...any) (*ProcessHandle, error) {
	h, err := rt.newHandle(fnName, args)
	if err != nil {
		return nil, err
	}
	ev, err := rt.sim.ScheduleEventAbs(t, &resumeAction{rt: rt, h: h})
	if err != nil {
		delete(rt.handles, h.id)
		return nil, err
	}
	h.resume = ev
	return h, nil
}

// Resume restores the captured chain of a Suspended process and continues
// interpreting it. It is what a resumption event runs on dispatch; calling
// it directly drops the pending event.
func (rt *Runtime) Resume(h *ProcessHandle) error {
	if h.status != Suspended {
		return fmt.Errorf("%w: cannot resume %s in state %s", sim.ErrState, h, h.status)
	}
	rt.dropResume(h)
	if h.parkedOn != nil {
		h.parkedOn.remove(h)
		h.parkedOn = nil
	}

	if err := verifyChain(h.stack, h.fresh); err != nil {
		err = fmt.Errorf("resuming %s: %w", h, err)
		rt.terminate(h, Nil, err)
		return err
	}
	frames := cloneFrames(h.stack)
	if !h.fresh {
		frames[len(frames)-1].push(h.resumeValue)
	}
	h.stack = nil
	h.fresh = false
	h.resumeValue = Nil
	h.status = Runnable

	logrus.Debugf("[t=%s] resume %s depth=%d", rt.sim.Now(), h, len(frames))

	prev := rt.current
	rt.current = h
	err := rt.run(h, frames)
	rt.current = prev
	return err
}

// Cancel terminates a Suspended or Passive process: its pending resumption
// event is removed and the units it holds are released. A running or
// terminated process cannot be cancelled.
func (rt *Runtime) Cancel(h *ProcessHandle) error {
	switch h.status {
	case Runnable:
		return fmt.Errorf("%w: cannot cancel %s while it runs", sim.ErrState, h)
	case Terminated:
		return fmt.Errorf("%w: %s already terminated", sim.ErrState, h)
	}
	logrus.Debugf("[t=%s] cancel %s", rt.sim.Now(), h)
	rt.terminate(h, Nil, ErrCancelled)
	return rt.releaseAll(h)
}

// dropResume cancels the pending resumption event of h. The handle lets go
// of the event first so the cancellation is not reported back as external.
func (rt *Runtime) dropResume(h *ProcessHandle) {
	if ev := h.resume; ev != nil {
		h.resume = nil
		rt.sim.CancelEvent(ev)
	}
}

func (rt *Runtime) terminate(h *ProcessHandle, result Value, err error) {
	rt.dropResume(h)
	if h.parkedOn != nil {
		h.parkedOn.remove(h)
		h.parkedOn = nil
	}
	h.status = Terminated
	h.stack = nil
	h.result = result
	h.err = err
	delete(rt.handles, h.id)

	if err != nil && !errors.Is(err, ErrCancelled) {
		logrus.Warnf("[t=%s] process %s failed: %v", rt.sim.Now(), h, err)
	} else {
		logrus.Debugf("[t=%s] process %s terminated", rt.sim.Now(), h)
	}
	for _, fn := range rt.onTerminate {
		fn(h)
	}
}

// suspend captures frames into h and leaves it Suspended on ev.
func (rt *Runtime) suspend(h *ProcessHandle, frames []*Frame, ev *sim.Event) {
	h.stack = cloneFrames(frames)
	h.resume = ev
	if ev != nil {
		h.status = Suspended
	} else {
		h.status = Passive
	}
	logrus.Debugf("[t=%s] suspend %s depth=%d until %v", rt.sim.Now(), h, len(frames), ev)
}

// wake moves a parked process to Suspended with one resumption event due
// now. A pending timeout is dropped and v becomes the result of the native
// that parked it. If scheduling fails h is left untouched.
func (rt *Runtime) wake(h *ProcessHandle, v Value) error {
	ev, err := rt.sim.ScheduleEventNow(&resumeAction{rt: rt, h: h})
	if err != nil {
		return err
	}
	rt.dropResume(h)
	h.parkedOn = nil
	h.resumeValue = v
	h.resume = ev
	h.status = Suspended
	return nil
}

func (rt *Runtime) releaseAll(h *ProcessHandle) error {
	var errs []error
	held := append([]holding(nil), h.held...)
	for _, hd := range held {
		logrus.Warnf("[t=%s] %s terminated holding %d of %s", rt.sim.Now(), h, hd.n, hd.res)
		for n := hd.n; n > 0; n-- {
			if err := hd.res.Release(h); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Func implements sim.Hook. Re-initializing the simulator or ending its
// replication terminates every live process.
func (rt *Runtime) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosReset && ctx.Pos != sim.HookPosReplicationEnd {
		return
	}
	for _, h := range rt.Active() {
		h.resume = nil
		h.parkedOn = nil
		h.held = nil
		rt.terminate(h, Nil, fmt.Errorf("%w: replication torn down", ErrCancelled))
	}
	for _, r := range rt.resources {
		r.reset()
	}
	for _, c := range rt.conditions {
		c.queue.clear()
	}
}
