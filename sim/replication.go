package sim

import (
	"fmt"
)

// Replication bounds one run of a model: where the clock starts, when
// statistics collaborators are told to discard warm-up observations, and
// when the run ends.
type Replication struct {
	name   string
	start  Time
	warmup Time
	end    Time
}

// NewReplication validates start <= warmup <= end and returns the bounds.
func NewReplication(name string, start, warmup, end Time) (*Replication, error) {
	r := &Replication{name: name, start: start, warmup: warmup, end: end}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the replication bounds.
func (r *Replication) Validate() error {
	if r.name == "" {
		return fmt.Errorf("%w: replication name must not be empty", ErrConfiguration)
	}
	if r.start > r.warmup {
		return fmt.Errorf("%w: replication %q start %s is after warm-up %s",
			ErrConfiguration, r.name, r.start, r.warmup)
	}
	if r.warmup > r.end {
		return fmt.Errorf("%w: replication %q warm-up %s is after end %s",
			ErrConfiguration, r.name, r.warmup, r.end)
	}
	return nil
}

// Name returns the replication name.
func (r *Replication) Name() string { return r.name }

// StartTime returns the clock value at initialization.
func (r *Replication) StartTime() Time { return r.start }

// WarmupTime returns the time at which HookPosWarmup fires.
func (r *Replication) WarmupTime() Time { return r.warmup }

// EndTime returns the time at which the run ends.
func (r *Replication) EndTime() Time { return r.end }

// Attach initializes s with model under these bounds.
func (r *Replication) Attach(s *Simulator, model Model) error {
	return s.Initialize(model, r)
}

func (r *Replication) String() string {
	return fmt.Sprintf("%s[%s..%s warmup %s]", r.name, r.start, r.end, r.warmup)
}

// warmupEvent is the kernel's own warm-up marker.
type warmupEvent struct {
	sim *Simulator
}

func (e *warmupEvent) Execute(_ []any) error {
	e.sim.warmup()
	return nil
}

func (e *warmupEvent) String() string {
	return "Warmup"
}
