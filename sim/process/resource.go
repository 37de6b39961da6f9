package process

import (
	"fmt"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
)

// waitQueue holds parked processes in FIFO order.
type waitQueue struct {
	name    string
	waiters deque.Deque[*ProcessHandle]
}

func (q *waitQueue) push(h *ProcessHandle) { q.waiters.PushBack(h) }

func (q *waitQueue) pushFront(h *ProcessHandle) { q.waiters.PushFront(h) }

func (q *waitQueue) popFront() (*ProcessHandle, bool) {
	if q.waiters.Len() == 0 {
		return nil, false
	}
	return q.waiters.PopFront(), true
}

func (q *waitQueue) remove(h *ProcessHandle) bool {
	i := q.waiters.Index(func(w *ProcessHandle) bool { return w == h })
	if i < 0 {
		return false
	}
	q.waiters.Remove(i)
	return true
}

func (q *waitQueue) len() int { return q.waiters.Len() }

func (q *waitQueue) clear() { q.waiters.Clear() }

// Resource is a pool of identical units that processes acquire and release.
// Waiters are served first come, first served.
type Resource struct {
	rt       *Runtime
	queue    waitQueue
	capacity int
	inUse    int
	acquired uint64
}

// NewResource creates a resource with capacity units.
func (rt *Runtime) NewResource(name string, capacity int) (*Resource, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: resource %q needs a positive capacity, got %d",
			sim.ErrConfiguration, name, capacity)
	}
	r := &Resource{rt: rt, queue: waitQueue{name: name}, capacity: capacity}
	rt.resources = append(rt.resources, r)
	return r, nil
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.queue.name }

// Capacity returns the number of units.
func (r *Resource) Capacity() int { return r.capacity }

// InUse returns the number of units held.
func (r *Resource) InUse() int { return r.inUse }

// Available returns the number of free units.
func (r *Resource) Available() int { return r.capacity - r.inUse }

// QueueLen returns the number of processes waiting for a unit.
func (r *Resource) QueueLen() int { return r.queue.len() }

// Acquired returns the number of grants since the last reset.
func (r *Resource) Acquired() uint64 { return r.acquired }

func (r *Resource) String() string {
	return fmt.Sprintf("%s(%d/%d, %d waiting)", r.queue.name, r.inUse, r.capacity, r.queue.len())
}

// tryAcquire grants a unit to h if one is free and nobody is queued ahead.
func (r *Resource) tryAcquire(h *ProcessHandle) bool {
	if r.inUse >= r.capacity || r.queue.len() > 0 {
		return false
	}
	r.grant(h)
	return true
}

func (r *Resource) grant(h *ProcessHandle) {
	r.inUse++
	r.acquired++
	h.addHold(r)
}

// Release returns a unit held by h and hands free units to the waiters at
// the head of the queue.
func (r *Resource) Release(h *ProcessHandle) error {
	if !h.dropHold(r) {
		return fmt.Errorf("%w: %s releases %s without holding it", sim.ErrProgram, h, r.queue.name)
	}
	r.inUse--

	for r.inUse < r.capacity {
		w, ok := r.queue.popFront()
		if !ok {
			break
		}
		if err := r.rt.wake(w, Bool(true)); err != nil {
			r.queue.pushFront(w)
			return err
		}
		r.grant(w)
		logrus.Debugf("[t=%s] %s granted to %s", r.rt.sim.Now(), r.queue.name, w)
	}
	return nil
}

func (r *Resource) reset() {
	r.inUse = 0
	r.acquired = 0
	r.queue.clear()
}

// Condition is a queue of processes waiting for model code to signal them.
type Condition struct {
	rt    *Runtime
	queue waitQueue
}

// NewCondition creates a condition queue.
func (rt *Runtime) NewCondition(name string) *Condition {
	c := &Condition{rt: rt, queue: waitQueue{name: name}}
	rt.conditions = append(rt.conditions, c)
	return c
}

// Name returns the condition name.
func (c *Condition) Name() string { return c.queue.name }

// Waiting returns the number of parked processes.
func (c *Condition) Waiting() int { return c.queue.len() }

func (c *Condition) String() string {
	return fmt.Sprintf("%s(%d waiting)", c.queue.name, c.queue.len())
}

// Signal wakes the longest waiting process. It reports whether there was
// one. Signal may be called from plain event actions as well as natives.
func (c *Condition) Signal() (bool, error) {
	w, ok := c.queue.popFront()
	if !ok {
		return false, nil
	}
	if err := c.rt.wake(w, Bool(true)); err != nil {
		c.queue.pushFront(w)
		return false, err
	}
	return true, nil
}

// Broadcast wakes every waiting process in arrival order and returns how
// many were woken.
func (c *Condition) Broadcast() (int, error) {
	n := 0
	for {
		w, ok := c.queue.popFront()
		if !ok {
			return n, nil
		}
		if err := c.rt.wake(w, Bool(true)); err != nil {
			c.queue.pushFront(w)
			return n, err
		}
		n++
	}
}
