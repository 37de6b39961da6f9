package sim

import (
	"container/heap"
	"fmt"
)

// eventHeap implements heap.Interface and keeps every entry's index in sync
// so that interior entries can be removed in O(log n).
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Calendar is the time-ordered set of pending events.
//
// Ordering is a documented total order: due time ascending, priority
// descending, then insertion sequence ascending. Sequence numbers are
// assigned by Schedule and never reused, so two calendars fed the same
// scheduling calls pop the same events in the same order.
//
// A Calendar is not safe for concurrent use; the Simulator run loop owns it.
type Calendar struct {
	events     eventHeap
	nextSeq    uint64
	lastPopped Time
}

// NewCalendar creates an empty calendar whose clock floor is TimeZero.
func NewCalendar() *Calendar {
	c := &Calendar{
		events: make(eventHeap, 0),
	}
	heap.Init(&c.events)
	return c
}

// Len returns the number of pending events.
func (c *Calendar) Len() int {
	return len(c.events)
}

// LastPopped returns the due time of the most recently popped event, or the
// floor set by Reset.
func (c *Calendar) LastPopped() Time {
	return c.lastPopped
}

// Schedule inserts ev. It fails with ErrTiming if ev is due before the last
// popped time and with ErrState if ev was already scheduled, dispatched or
// cancelled.
func (c *Calendar) Schedule(ev *Event) error {
	if ev.index >= 0 || ev.dispatched || ev.cancelled {
		return fmt.Errorf("%w: event %s cannot be scheduled twice", ErrState, ev)
	}
	if ev.time < c.lastPopped {
		return fmt.Errorf("%w: event due at %s is before calendar time %s",
			ErrTiming, ev.time, c.lastPopped)
	}

	c.nextSeq++
	ev.seq = c.nextSeq
	heap.Push(&c.events, ev)
	return nil
}

// Cancel removes ev if it is still pending. Cancelling a dispatched or
// already cancelled event is a no-op returning false.
func (c *Calendar) Cancel(ev *Event) bool {
	if ev == nil || ev.index < 0 || ev.index >= len(c.events) || c.events[ev.index] != ev {
		return false
	}
	heap.Remove(&c.events, ev.index)
	ev.cancelled = true
	if cb, ok := ev.action.(Canceller); ok {
		cb.Cancelled(ev)
	}
	return true
}

// Peek returns the next event without removing it, nil when empty.
func (c *Calendar) Peek() *Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[0]
}

// Pop removes and returns the next event, nil when empty.
func (c *Calendar) Pop() *Event {
	if len(c.events) == 0 {
		return nil
	}
	ev := heap.Pop(&c.events).(*Event)
	ev.dispatched = true
	c.lastPopped = ev.time
	return ev
}

// Clear discards every pending event, marking each as cancelled, and
// returns them in dispatch order.
func (c *Calendar) Clear() []*Event {
	discarded := make([]*Event, 0, len(c.events))
	for len(c.events) > 0 {
		ev := heap.Pop(&c.events).(*Event)
		ev.cancelled = true
		discarded = append(discarded, ev)
	}
	return discarded
}

// Reset clears the calendar and moves its clock floor to t. Sequence
// numbering restarts so a re-initialized run replays identically.
func (c *Calendar) Reset(t Time) []*Event {
	discarded := c.Clear()
	c.lastPopped = t
	c.nextSeq = 0
	return discarded
}
