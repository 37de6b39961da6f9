// sim/simulator.go
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Model installs a model's initial events and processes. Initialize is the
// only caller.
type Model interface {
	ConstructModel(s *Simulator) error
}

// ModelFunc adapts a function to a Model.
type ModelFunc func(s *Simulator) error

// ConstructModel calls f.
func (f ModelFunc) ConstructModel(s *Simulator) error { return f(s) }

// Simulator is the core object that holds the clock, the calendar and the
// lifecycle state machine.
//
// The run loop is single-threaded: Start, Step, RunUntil, Initialize and all
// scheduling calls must come from one goroutine (event actions run on it).
// Now, State and Stop may be called from any goroutine.
type Simulator struct {
	*HookableBase

	name     string
	key      SimulationKey
	rng      *PartitionedRNG
	calendar *Calendar
	rep      *Replication

	mu    sync.RWMutex
	now   Time
	state State

	stopRequested atomic.Bool
	ended         bool
	current       *Event
	dispatched    uint64
}

// New creates a simulator in state NotInitialized.
func New(name string, key SimulationKey) *Simulator {
	return &Simulator{
		HookableBase: NewHookableBase(),
		name:         name,
		key:          key,
		rng:          NewPartitionedRNG(key),
		calendar:     NewCalendar(),
		state:        NotInitialized,
	}
}

// Name returns the simulator name.
func (s *Simulator) Name() string { return s.name }

// Key returns the simulation key that seeds the RNG.
func (s *Simulator) Key() SimulationKey { return s.key }

// RNG returns the partitioned RNG. It is re-seeded by Initialize.
func (s *Simulator) RNG() *PartitionedRNG { return s.rng }

// Replication returns the bounds of the current run, nil before Initialize.
func (s *Simulator) Replication() *Replication { return s.rep }

// Now returns the simulator clock.
func (s *Simulator) Now() Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// State returns the lifecycle state.
func (s *Simulator) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsEnded reports whether the current replication has ended.
func (s *Simulator) IsEnded() bool { return s.ended }

// Pending returns the number of events in the calendar.
func (s *Simulator) Pending() int { return s.calendar.Len() }

// Dispatched returns the number of events dispatched since Initialize.
func (s *Simulator) Dispatched() uint64 { return s.dispatched }

// Current returns the event being dispatched, nil between dispatches.
func (s *Simulator) Current() *Event { return s.current }

func (s *Simulator) writeNow(t Time) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}

func (s *Simulator) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	logrus.Infof("[t=%s] %s: %s -> %s", s.Now(), s.name, from, to)
	s.InvokeHook(HookCtx{
		Domain: s,
		Pos:    HookPosStateChange,
		Item:   StateChange{From: from, To: to},
	})
}

// Initialize prepares a run of model bounded by rep: the clock is set to the
// replication start, pending events are discarded, the RNG is re-seeded, the
// warm-up notification is scheduled and the model installs its initial
// events. Initialize is allowed from every state except Started and
// Stopping.
func (s *Simulator) Initialize(model Model, rep *Replication) error {
	if model == nil {
		return fmt.Errorf("%w: model must not be nil", ErrConfiguration)
	}
	if rep == nil {
		return fmt.Errorf("%w: replication must not be nil", ErrConfiguration)
	}
	if err := rep.Validate(); err != nil {
		return err
	}
	if st := s.State(); st == Started || st == Stopping {
		return fmt.Errorf("%w: cannot initialize a simulator in state %s", ErrState, st)
	}

	discarded := s.calendar.Reset(rep.start)
	if len(discarded) > 0 {
		logrus.Warnf("[t=%s] %s: discarding %d pending events on initialize",
			s.Now(), s.name, len(discarded))
	}
	s.writeNow(rep.start)
	s.rep = rep
	s.ended = false
	s.dispatched = 0
	s.current = nil
	s.rng = NewPartitionedRNG(s.key)
	s.stopRequested.Store(false)
	s.InvokeHook(HookCtx{Domain: s, Pos: HookPosReset, Item: discarded})

	s.setState(Initialized)

	if err := s.calendar.Schedule(NewEvent(rep.warmup, warmupPriority, &warmupEvent{sim: s})); err != nil {
		return err
	}

	if err := model.ConstructModel(s); err != nil {
		s.calendar.Reset(rep.start)
		s.rep = nil
		s.setState(NotInitialized)
		return fmt.Errorf("constructing model for replication %q: %w", rep.name, err)
	}

	logrus.Infof("[t=%s] %s: initialized %s with %d pending events",
		s.Now(), s.name, rep, s.calendar.Len())
	return nil
}

// ScheduleEvent schedules action with args at absolute time at and the given
// priority. It fails with ErrTiming if at is before Now, with ErrState
// before Initialize or after the replication ended, and with
// ErrConfiguration for a priority outside [MinPriority, MaxPriority].
// A failed call never touches the calendar.
func (s *Simulator) ScheduleEvent(at Time, priority int, action Action, args ...any) (*Event, error) {
	if priority < MinPriority || priority > MaxPriority {
		return nil, fmt.Errorf("%w: priority %d outside [%d, %d]",
			ErrConfiguration, priority, MinPriority, MaxPriority)
	}
	return s.schedule(at, priority, action, args)
}

func (s *Simulator) schedule(at Time, priority int, action Action, args []any) (*Event, error) {
	if action == nil {
		return nil, fmt.Errorf("%w: scheduled action must not be nil", ErrProgram)
	}
	if st := s.State(); st == NotInitialized {
		return nil, fmt.Errorf("%w: cannot schedule on a simulator in state %s", ErrState, st)
	}
	if s.ended {
		return nil, fmt.Errorf("%w: replication %q has ended", ErrState, s.rep.name)
	}
	if now := s.Now(); at < now {
		return nil, fmt.Errorf("%w: cannot schedule at %s, clock is at %s", ErrTiming, at, now)
	}

	ev := NewEvent(at, priority, action, args...)
	if err := s.calendar.Schedule(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ScheduleEventAbs schedules action at absolute time at with NormPriority.
func (s *Simulator) ScheduleEventAbs(at Time, action Action, args ...any) (*Event, error) {
	return s.schedule(at, NormPriority, action, args)
}

// ScheduleEventRel schedules action delay ticks after Now with NormPriority.
func (s *Simulator) ScheduleEventRel(delay Time, action Action, args ...any) (*Event, error) {
	if delay < 0 {
		return nil, fmt.Errorf("%w: negative delay %s", ErrTiming, delay)
	}
	return s.schedule(s.Now().Add(delay), NormPriority, action, args)
}

// ScheduleEventNow schedules action at the current time with NormPriority.
// It runs after the current dispatch and after every already scheduled
// event of the same time and priority.
func (s *Simulator) ScheduleEventNow(action Action, args ...any) (*Event, error) {
	return s.schedule(s.Now(), NormPriority, action, args)
}

// CancelEvent removes ev from the calendar. It returns false if ev was
// already dispatched, is being dispatched, or was already cancelled. An
// action implementing Canceller is told after the removal.
func (s *Simulator) CancelEvent(ev *Event) bool {
	return s.calendar.Cancel(ev)
}

// Start runs events until the calendar empties, Stop is called, an action
// fails or the replication end is passed. It returns the error of a failing
// action; the simulator is then STOPPED with that event already removed.
func (s *Simulator) Start() error {
	return s.run(MaxTime, -1)
}

// RunUntil behaves like Start but stops before dispatching any event due
// after t.
func (s *Simulator) RunUntil(t Time) error {
	return s.run(t, -1)
}

// Step dispatches exactly one event. It starts from INITIALIZED or STOPPED
// and comes to rest in STOPPED rather than STARTED, so Stop is never needed
// between steps and Start can follow at any point.
func (s *Simulator) Step() error {
	return s.run(MaxTime, 1)
}

// Stop asks a running simulator to stop after the current dispatch. It may
// be called from an event action or from another goroutine.
func (s *Simulator) Stop() error {
	if st := s.State(); st != Started {
		return fmt.Errorf("%w: cannot stop a simulator in state %s", ErrState, st)
	}
	s.stopRequested.Store(true)
	return nil
}

func (s *Simulator) enterStarted() error {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	switch {
	case st == NotInitialized:
		return fmt.Errorf("%w: simulator %s is not initialized", ErrState, s.name)
	case !st.canStart():
		return fmt.Errorf("%w: simulator %s is already %s", ErrState, s.name, st)
	case s.ended:
		return fmt.Errorf("%w: replication %q has ended", ErrState, s.rep.name)
	}

	s.stopRequested.Store(false)
	s.setState(Started)
	return nil
}

func (s *Simulator) run(until Time, limit int) error {
	if err := s.enterStarted(); err != nil {
		return err
	}

	for n := 0; limit < 0 || n < limit; n++ {
		if s.stopRequested.Load() {
			s.setState(Stopping)
			break
		}

		next := s.calendar.Peek()
		if next == nil {
			logrus.Infof("[t=%s] %s: calendar empty", s.Now(), s.name)
			break
		}
		if next.time > until {
			break
		}
		if s.rep != nil && next.time > s.rep.end {
			s.advanceTo(s.rep.end)
			s.endReplication()
			break
		}

		ev := s.calendar.Pop()
		if err := s.dispatch(ev); err != nil {
			s.setState(Stopped)
			return err
		}
	}

	s.setState(Stopped)
	return nil
}

func (s *Simulator) dispatch(ev *Event) error {
	now := s.Now()
	if ev.time < now {
		panic(fmt.Sprintf("sim: clock went backwards: event %s, now %s", ev, now))
	}
	s.advanceTo(ev.time)

	hookCtx := HookCtx{Domain: s, Pos: HookPosBeforeEvent, Item: ev}
	s.InvokeHook(hookCtx)

	logrus.Debugf("[t=%s] dispatch %s", ev.time, ev)
	s.current = ev
	err := ev.action.Execute(ev.args)
	s.current = nil
	s.dispatched++

	hookCtx.Pos = HookPosAfterEvent
	hookCtx.Detail = err
	s.InvokeHook(hookCtx)

	if err != nil {
		return fmt.Errorf("dispatching %s: %w", ev, err)
	}
	return nil
}

func (s *Simulator) advanceTo(t Time) {
	now := s.Now()
	if t <= now {
		return
	}
	s.writeNow(t)
	s.InvokeHook(HookCtx{
		Domain: s,
		Pos:    HookPosTimeAdvance,
		Item:   TimeAdvance{From: now, To: t},
	})
}

func (s *Simulator) warmup() {
	logrus.Infof("[t=%s] %s: warm-up reached", s.Now(), s.name)
	s.InvokeHook(HookCtx{Domain: s, Pos: HookPosWarmup, Item: s.rep})
}

// EndReplication ends the current replication early, e.g. after the run loop
// stopped on an empty calendar. It is allowed in INITIALIZED and STOPPED.
func (s *Simulator) EndReplication() error {
	if st := s.State(); !st.canStart() {
		return fmt.Errorf("%w: cannot end replication in state %s", ErrState, st)
	}
	if s.ended {
		return fmt.Errorf("%w: replication %q has already ended", ErrState, s.rep.name)
	}
	s.endReplication()
	s.setState(Stopped)
	return nil
}

func (s *Simulator) endReplication() {
	pending := s.calendar.Len()
	s.InvokeHook(HookCtx{Domain: s, Pos: HookPosReplicationEnd, Item: s.rep, Detail: pending})

	discarded := s.calendar.Clear()
	if len(discarded) > 0 {
		logrus.Warnf("[t=%s] %s: replication %q ended, discarding %d pending events",
			s.Now(), s.name, s.rep.name, len(discarded))
	}
	s.ended = true
}
