package sim

import "reflect"

// HookPos names the point in the kernel where a hook fires.
type HookPos struct {
	Name string
}

// Hook positions raised by the Simulator.
var (
	// HookPosStateChange fires after every lifecycle transition. Item is a
	// StateChange.
	HookPosStateChange = &HookPos{Name: "StateChange"}

	// HookPosTimeAdvance fires when the clock moves forward, before the
	// event that moved it is dispatched. Item is a TimeAdvance.
	HookPosTimeAdvance = &HookPos{Name: "TimeAdvance"}

	// HookPosBeforeEvent and HookPosAfterEvent bracket each dispatch. Item
	// is the *Event.
	HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}
	HookPosAfterEvent  = &HookPos{Name: "AfterEvent"}

	// HookPosWarmup fires at the replication warm-up time. Item is the
	// *Replication.
	HookPosWarmup = &HookPos{Name: "Warmup"}

	// HookPosReplicationEnd fires when the run loop reaches an event due
	// after the replication end time, or when EndReplication is called, before
	// the calendar is cleared. Item is the *Replication; Detail is the number
	// of pending events about to be discarded.
	HookPosReplicationEnd = &HookPos{Name: "ReplicationEnd"}

	// HookPosReset fires during Initialize after pending events have been
	// discarded. Item is the []*Event that was discarded.
	HookPosReset = &HookPos{Name: "Reset"}
)

// HookCtx is the context handed to a hook.
type HookCtx struct {
	// Domain is the hookable object raising the hook.
	Domain Hookable

	// Pos identifies where the hook fires.
	Pos *HookPos

	// Item carries the primary subject (event, state change, replication).
	Item any

	// Detail holds optional auxiliary data; may be nil.
	Detail any
}

// StateChange is the Item of HookPosStateChange.
type StateChange struct {
	From, To State
}

// TimeAdvance is the Item of HookPosTimeAdvance.
type TimeAdvance struct {
	From, To Time
}

// Hook is invoked synchronously by a Hookable. The kernel does not continue
// until Func returns.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a function to a Hook. HookFunc values are not comparable,
// so registering the same one twice is not detected.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) { f(ctx) }

// Hookable is an object that accepts hooks.
type Hookable interface {
	// AcceptHook registers a hook. Hooks are registered while configuring a
	// run and are never removed.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook

	// InvokeHook triggers the registered hooks in registration order.
	InvokeHook(ctx HookCtx)
}

// HookableBase provides the hook list for types implementing Hookable.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates a HookableBase.
func NewHookableBase() *HookableBase {
	return &HookableBase{hookList: make([]Hook, 0)}
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// AcceptHook registers a hook. Registering the same comparable hook twice
// panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mustNotHaveDuplicatedHook(hook)
	h.hookList = append(h.hookList, hook)
}

func (h *HookableBase) mustNotHaveDuplicatedHook(hook Hook) {
	typ := reflect.TypeOf(hook)
	if typ == nil || !typ.Comparable() {
		return
	}
	for _, existing := range h.hookList {
		if reflect.TypeOf(existing) != typ {
			continue
		}
		if existing == hook {
			panic("duplicated hook")
		}
	}
}

// InvokeHook triggers the registered hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}

var _ Hookable = (*HookableBase)(nil)
