// Package experiment runs several replications of a model, each on a fresh
// Simulator seeded from the experiment seed and the replication name.
package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
)

// StatisticsListener is told when a replication passes its warm-up time and
// when it ends, so it can reset and report collected statistics.
type StatisticsListener interface {
	WarmupReached(rep *sim.Replication, at sim.Time)
	ReplicationEnded(rep *sim.Replication, at sim.Time)
}

// Factory builds the model of one replication. It is called once per
// replication so models never share state across runs.
type Factory func(rep *sim.Replication) (sim.Model, error)

// Experiment describes a batch of replications sharing bounds and a seed.
type Experiment struct {
	Name         string
	Seed         int64
	Replications int
	Start        sim.Time
	Warmup       sim.Time
	End          sim.Time

	listeners   []StatisticsListener
	onSimulator []func(s *sim.Simulator)
}

// Result summarizes one replication.
type Result struct {
	Name       string
	Seed       sim.SimulationKey
	EndTime    sim.Time
	Dispatched uint64
	Ended      bool
	Err        error
}

// AddListener registers a statistics listener on every replication.
func (e *Experiment) AddListener(l StatisticsListener) {
	e.listeners = append(e.listeners, l)
}

// OnSimulator registers a callback that configures each fresh simulator
// before the model is attached, e.g. to install tracing hooks or publish the
// simulator to a monitor.
func (e *Experiment) OnSimulator(fn func(s *sim.Simulator)) {
	e.onSimulator = append(e.onSimulator, fn)
}

// Validate checks the experiment before any replication is built.
func (e *Experiment) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: experiment name must not be empty", sim.ErrConfiguration)
	}
	if e.Replications <= 0 {
		return fmt.Errorf("%w: experiment %q needs at least one replication, got %d",
			sim.ErrConfiguration, e.Name, e.Replications)
	}
	_, err := sim.NewReplication(e.ReplicationName(0), e.Start, e.Warmup, e.End)
	return err
}

// ReplicationName returns the name of the i-th replication. The name also
// seeds the replication, so it must stay stable.
func (e *Experiment) ReplicationName(i int) string {
	return fmt.Sprintf("%s-rep-%d", e.Name, i)
}

// ReplicationKey returns the simulation key of the named replication.
func (e *Experiment) ReplicationKey(name string) sim.SimulationKey {
	return sim.NewSimulationKey(e.Seed).Derive(name)
}

// Run executes the replications in order. Cancelling ctx stops the running
// replication after its current event and skips the rest. A replication
// whose model or actions fail is recorded in its Result and does not stop
// the others; the failures are also returned joined.
func (e *Experiment) Run(ctx context.Context, factory Factory) ([]Result, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: model factory must not be nil", sim.ErrConfiguration)
	}

	logrus.Infof("experiment %s: %d replications, seed %d", e.Name, e.Replications, e.Seed)

	results := make([]Result, 0, e.Replications)
	var errs []error
	for i := 0; i < e.Replications; i++ {
		if err := ctx.Err(); err != nil {
			logrus.Warnf("experiment %s: interrupted before replication %d", e.Name, i)
			return results, errors.Join(append(errs, err)...)
		}

		res := e.runOne(ctx, i, factory)
		results = append(results, res)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("replication %s: %w", res.Name, res.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (e *Experiment) runOne(ctx context.Context, i int, factory Factory) Result {
	name := e.ReplicationName(i)
	res := Result{Name: name, Seed: e.ReplicationKey(name)}

	rep, err := sim.NewReplication(name, e.Start, e.Warmup, e.End)
	if err != nil {
		res.Err = err
		return res
	}
	model, err := factory(rep)
	if err != nil {
		res.Err = fmt.Errorf("building model: %w", err)
		return res
	}

	s := sim.New(name, res.Seed)
	if len(e.listeners) > 0 {
		s.AcceptHook(&listenerHook{listeners: e.listeners})
	}
	for _, fn := range e.onSimulator {
		fn(s)
	}

	if err := rep.Attach(s, model); err != nil {
		res.Err = err
		return res
	}

	stop := context.AfterFunc(ctx, func() {
		if err := s.Stop(); err != nil {
			logrus.Debugf("experiment %s: stop %s: %v", e.Name, name, err)
		}
	})
	err = s.Start()
	stop()

	switch {
	case err != nil:
		res.Err = err
	case ctx.Err() != nil && !s.IsEnded():
		res.Err = ctx.Err()
	case !s.IsEnded():
		// The calendar emptied before the end time.
		res.Err = s.EndReplication()
	}

	res.EndTime = s.Now()
	res.Dispatched = s.Dispatched()
	res.Ended = s.IsEnded()
	logrus.Infof("experiment %s: %s finished at t=%s after %d events (ended=%v)",
		e.Name, name, res.EndTime, res.Dispatched, res.Ended)
	return res
}

// listenerHook forwards warm-up and end notifications to listeners.
type listenerHook struct {
	listeners []StatisticsListener
}

func (h *listenerHook) Func(ctx sim.HookCtx) {
	s, ok := ctx.Domain.(*sim.Simulator)
	if !ok {
		return
	}
	switch ctx.Pos {
	case sim.HookPosWarmup:
		for _, l := range h.listeners {
			l.WarmupReached(s.Replication(), s.Now())
		}
	case sim.HookPosReplicationEnd:
		for _, l := range h.listeners {
			l.ReplicationEnded(s.Replication(), s.Now())
		}
	}
}
