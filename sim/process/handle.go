package process

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
)

// ProcessID identifies a process within its Runtime.
type ProcessID uint64

// Status is the lifecycle status of a process.
type Status int

const (
	// Runnable: the interpreter is executing the process.
	Runnable Status = iota
	// Suspended: the process waits for exactly one pending resumption
	// event in the calendar.
	Suspended
	// Passive: the process is parked on a Resource or Condition queue and
	// has no calendar entry until another party wakes it.
	Passive
	// Terminated: the body returned, failed, or was cancelled.
	Terminated
)

var statusNames = map[Status]string{
	Runnable:   "RUNNABLE",
	Suspended:  "SUSPENDED",
	Passive:    "PASSIVE",
	Terminated: "TERMINATED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ProcessHandle represents one process. While the process is not running
// its captured frame chain lives here, innermost frame last.
type ProcessHandle struct {
	id     ProcessID
	name   string
	status Status

	stack []*Frame
	fresh bool

	resume      *sim.Event
	resumeValue Value
	parkedOn    *waitQueue
	held        []holding // in first-acquisition order

	result Value
	err    error
}

// ID returns the process identity.
func (h *ProcessHandle) ID() ProcessID { return h.id }

// Name returns the name of the body function.
func (h *ProcessHandle) Name() string { return h.name }

// Status returns the lifecycle status.
func (h *ProcessHandle) Status() Status { return h.status }

// Depth returns the number of captured frames.
func (h *ProcessHandle) Depth() int { return len(h.stack) }

// Frames returns a deep copy of the captured chain, innermost last.
func (h *ProcessHandle) Frames() []*Frame { return cloneFrames(h.stack) }

// PendingEvent returns the resumption event of a Suspended process.
func (h *ProcessHandle) PendingEvent() *sim.Event { return h.resume }

// Result returns what the body returned once Terminated.
func (h *ProcessHandle) Result() Value { return h.result }

// Err returns why the process terminated abnormally, nil otherwise.
func (h *ProcessHandle) Err() error { return h.err }

type holding struct {
	res *Resource
	n   int
}

func (h *ProcessHandle) holds(r *Resource) int {
	for _, hd := range h.held {
		if hd.res == r {
			return hd.n
		}
	}
	return 0
}

func (h *ProcessHandle) addHold(r *Resource) {
	for i := range h.held {
		if h.held[i].res == r {
			h.held[i].n++
			return
		}
	}
	h.held = append(h.held, holding{res: r, n: 1})
}

func (h *ProcessHandle) dropHold(r *Resource) bool {
	for i := range h.held {
		if h.held[i].res != r {
			continue
		}
		h.held[i].n--
		if h.held[i].n == 0 {
			h.held = append(h.held[:i], h.held[i+1:]...)
		}
		return true
	}
	return false
}

func (h *ProcessHandle) String() string {
	return fmt.Sprintf("%s#%d", h.name, h.id)
}

// resumeAction is the calendar action that continues a Suspended process.
type resumeAction struct {
	rt *Runtime
	h  *ProcessHandle
}

func (a *resumeAction) Execute(_ []any) error {
	return a.rt.Resume(a.h)
}

// Cancelled terminates the process when its pending resumption event is
// cancelled from outside the runtime.
func (a *resumeAction) Cancelled(ev *sim.Event) {
	h := a.h
	if h.resume != ev || h.status == Terminated {
		return
	}
	h.resume = nil
	a.rt.terminate(h, Nil, fmt.Errorf("%w: resumption event cancelled", ErrCancelled))
	if err := a.rt.releaseAll(h); err != nil {
		logrus.Warnf("[t=%s] releasing units of %s: %v", a.rt.sim.Now(), h, err)
	}
}

func (a *resumeAction) String() string {
	return "Resume(" + a.h.String() + ")"
}
