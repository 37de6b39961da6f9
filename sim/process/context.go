package process

import (
	"fmt"
	"math/rand"

	"github.com/inference-sim/simkernel/sim"
)

// Native is a host builtin callable from process code. The returned value
// is pushed for the caller; if the native suspended the process, the value
// pushed is the one supplied when it resumes instead.
type Native func(ctx *Context, args []Value) (Value, error)

// Context is handed to a native for the duration of one call. The suspend
// methods only work while that call is in progress.
type Context struct {
	rt        *Runtime
	h         *ProcessHandle
	frames    []*Frame
	active    bool
	suspended bool
}

// Runtime returns the runtime interpreting the caller.
func (c *Context) Runtime() *Runtime { return c.rt }

// Process returns the calling process.
func (c *Context) Process() *ProcessHandle { return c.h }

// Simulator returns the simulator the process runs on.
func (c *Context) Simulator() *sim.Simulator { return c.rt.sim }

// Now returns the simulator clock.
func (c *Context) Now() sim.Time { return c.rt.sim.Now() }

// RNG returns the random stream shared by process natives.
func (c *Context) RNG() *rand.Rand {
	return c.rt.sim.RNG().ForSubsystem(sim.SubsystemProcess)
}

func (c *Context) checkSuspend() error {
	if c == nil || !c.active {
		return fmt.Errorf("%w: wait issued outside an interpreted process", sim.ErrProgram)
	}
	if c.suspended {
		return fmt.Errorf("%w: %s is already suspended", sim.ErrProgram, c.h)
	}
	return nil
}

// HoldFor suspends the caller for d ticks.
func (c *Context) HoldFor(d sim.Time) error {
	if err := c.checkSuspend(); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: negative hold %s", sim.ErrTiming, d)
	}
	return c.HoldUntil(c.Now().Add(d))
}

// HoldUntil suspends the caller until absolute time t.
func (c *Context) HoldUntil(t sim.Time) error {
	if err := c.checkSuspend(); err != nil {
		return err
	}
	ev, err := c.rt.sim.ScheduleEventAbs(t, &resumeAction{rt: c.rt, h: c.h})
	if err != nil {
		return err
	}
	c.suspended = true
	c.rt.suspend(c.h, c.frames, ev)
	return nil
}

// park suspends the caller on q with no calendar entry. Another party wakes
// it. With a non-negative timeout the caller is instead Suspended on a
// timeout event that resumes it with the value timedOut unless it is woken
// first.
func (c *Context) park(q *waitQueue, timeout sim.Time, timedOut Value) error {
	if err := c.checkSuspend(); err != nil {
		return err
	}
	var ev *sim.Event
	if timeout >= 0 {
		var err error
		ev, err = c.rt.sim.ScheduleEventRel(timeout, &resumeAction{rt: c.rt, h: c.h})
		if err != nil {
			return err
		}
	}
	q.push(c.h)
	c.h.parkedOn = q
	c.h.resumeValue = timedOut
	c.suspended = true
	c.rt.suspend(c.h, c.frames, ev)
	return nil
}
