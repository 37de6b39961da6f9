package sim

import (
	"fmt"
	"reflect"
)

// Priorities accepted from model code. Among events due at the same time a
// higher priority is dispatched first.
const (
	MinPriority  = 1
	NormPriority = 5
	MaxPriority  = 10

	// warmupPriority sits above the model range so the warm-up notification
	// precedes every model event due at the same instant.
	warmupPriority = MaxPriority + 1
)

// Action is the body of an event. It receives the arguments bound at
// scheduling time.
type Action interface {
	Execute(args []any) error
}

// Canceller is implemented by actions that must learn when their event is
// cancelled before dispatch. Events discarded by Clear or Reset are not
// reported; hooks on HookPosReset and HookPosReplicationEnd cover those.
type Canceller interface {
	Cancelled(ev *Event)
}

// Func adapts a no-argument function to an Action.
type Func func() error

// Execute calls f, ignoring args.
func (f Func) Execute(_ []any) error {
	return f()
}

// ArgsFunc adapts a function taking the bound arguments to an Action.
type ArgsFunc func(args []any) error

// Execute calls f with args.
func (f ArgsFunc) Execute(args []any) error {
	return f(args)
}

// Event is a pending (time, action) pair. A *Event doubles as the handle
// returned by the scheduling calls; its identity is what Cancel keys on.
type Event struct {
	time     Time
	priority int
	seq      uint64
	action   Action
	args     []any

	// index is the position in the calendar heap, -1 when not queued.
	index      int
	cancelled  bool
	dispatched bool
}

// NewEvent creates an unscheduled event. Sequence numbers are assigned when
// the event enters a Calendar.
func NewEvent(t Time, priority int, action Action, args ...any) *Event {
	return &Event{
		time:     t,
		priority: priority,
		action:   action,
		args:     args,
		index:    -1,
	}
}

// Time returns the due time.
func (e *Event) Time() Time { return e.time }

// Priority returns the priority.
func (e *Event) Priority() int { return e.priority }

// Seq returns the insertion sequence number, 0 before scheduling.
func (e *Event) Seq() uint64 { return e.seq }

// Action returns the action that runs on dispatch.
func (e *Event) Action() Action { return e.action }

// Args returns the arguments bound at scheduling time.
func (e *Event) Args() []any { return e.args }

// IsCancelled reports whether the event was cancelled before dispatch.
func (e *Event) IsCancelled() bool { return e.cancelled }

// IsDispatched reports whether the event has been popped for dispatch.
func (e *Event) IsDispatched() bool { return e.dispatched }

// IsPending reports whether the event still sits in a calendar.
func (e *Event) IsPending() bool { return e.index >= 0 }

// Name returns a printable name for the action: its String method if it
// has one, otherwise its dynamic type.
func (e *Event) Name() string {
	if s, ok := e.action.(fmt.Stringer); ok {
		return s.String()
	}
	if e.action == nil {
		return "<nil>"
	}
	return reflect.TypeOf(e.action).String()
}

func (e *Event) String() string {
	return fmt.Sprintf("#%d %s @%s p%d", e.seq, e.Name(), e.time, e.priority)
}

// before reports whether e must be dispatched before o:
// time ascending, then priority descending, then sequence ascending.
func (e *Event) before(o *Event) bool {
	if e.time != o.time {
		return e.time < o.time
	}
	if e.priority != o.priority {
		return e.priority > o.priority
	}
	return e.seq < o.seq
}
