package cmd

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/process"
)

// Host builtins the bank program calls to record statistics.
const (
	nativeArrive  = "bank.arrive"
	nativeServed  = "bank.served"
	nativeReneged = "bank.reneged"
)

// bankProgram assembles the two process bodies of the bank model.
//
// generator(tellers, ia, svc, patience) spawns a customer after every
// exponential inter-arrival gap. customer(tellers, svc, patience) waits at
// most patience ticks for a teller, holds it for an exponential service time
// and releases it. It returns whether it was served.
func bankProgram() (*process.Program, error) {
	generator, err := process.NewAssembler("generator", "tellers", "ia", "svc", "patience").
		Label("next").
		Load("ia").Native(process.NativeRandExp, 1).Do(process.NativeHold, 1).
		Push("customer").Load("tellers").Load("svc").Load("patience").Do(process.NativeSpawn, 4).
		Jump("next").
		Build()
	if err != nil {
		return nil, err
	}

	customer, err := process.NewAssembler("customer", "tellers", "svc", "patience").
		Native(process.NativeNow, 0).Store("arrived").
		Do(nativeArrive, 0).
		Load("tellers").Load("patience").Native(process.NativeAcquireTimeout, 2).
		JumpIfFalse("reneged").
		Native(process.NativeNow, 0).Load("arrived").Sub().Do(nativeServed, 1).
		Load("svc").Native(process.NativeRandExp, 1).Do(process.NativeHold, 1).
		Load("tellers").Do(process.NativeRelease, 1).
		Push(true).Ret().
		Label("reneged").
		Do(nativeReneged, 0).
		Push(false).Ret().
		Build()
	if err != nil {
		return nil, err
	}

	p := process.NewProgram()
	for _, fn := range []*process.Function{generator, customer} {
		if err := p.Add(fn); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// BankStats are the counters of one replication. Counting restarts at the
// warm-up time.
type BankStats struct {
	Arrived   int64
	Served    int64
	Reneged   int64
	TotalWait sim.Time
	Queued    int // customers still waiting when the replication ended
}

// AvgWait is the mean wait of served customers in ticks.
func (s BankStats) AvgWait() float64 {
	if s.Served == 0 {
		return 0
	}
	return float64(s.TotalWait) / float64(s.Served)
}

func (s BankStats) String() string {
	return fmt.Sprintf("arrived=%d served=%d reneged=%d avg_wait=%.2f queued=%d",
		s.Arrived, s.Served, s.Reneged, s.AvgWait(), s.Queued)
}

// bankModel is one replication of the bank. Customers are interpreted
// processes competing for a teller resource.
type bankModel struct {
	cfg     BankConfig
	program *process.Program

	rt      *process.Runtime
	tellers *process.Resource
	stats   BankStats
}

func newBankModel(cfg BankConfig) (*bankModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := bankProgram()
	if err != nil {
		return nil, err
	}
	return &bankModel{cfg: cfg, program: p}, nil
}

// ConstructModel implements sim.Model.
func (m *bankModel) ConstructModel(s *sim.Simulator) error {
	m.rt = process.NewRuntime(s, m.program)
	m.rt.RegisterNative(nativeArrive, func(_ *process.Context, _ []process.Value) (process.Value, error) {
		m.stats.Arrived++
		return process.Nil, nil
	})
	m.rt.RegisterNative(nativeServed, func(_ *process.Context, args []process.Value) (process.Value, error) {
		if len(args) != 1 {
			return process.Nil, fmt.Errorf("%w: %s wants the wait time", sim.ErrProgram, nativeServed)
		}
		wait, err := process.TimeArg(args[0])
		if err != nil {
			return process.Nil, err
		}
		m.stats.Served++
		m.stats.TotalWait += wait
		return process.Nil, nil
	})
	m.rt.RegisterNative(nativeReneged, func(ctx *process.Context, _ []process.Value) (process.Value, error) {
		m.stats.Reneged++
		logrus.Debugf("[t=%s] %s reneged", ctx.Now(), ctx.Process())
		return process.Nil, nil
	})

	tellers, err := m.rt.NewResource("tellers", m.cfg.Tellers)
	if err != nil {
		return err
	}
	m.tellers = tellers
	m.stats = BankStats{}

	_, err = m.rt.StartAt(s.Now(), "generator",
		tellers, m.cfg.MeanInterarrival, m.cfg.MeanService, m.cfg.Patience)
	return err
}

func (m *bankModel) resetStats() {
	m.stats = BankStats{}
}

func (m *bankModel) snapshot() BankStats {
	st := m.stats
	if m.tellers != nil {
		st.Queued = m.tellers.QueueLen()
	}
	return st
}

// bankReport builds one bank model per replication and collects its
// statistics through the experiment's listener notifications.
type bankReport struct {
	cfg BankConfig

	mu     sync.Mutex
	models map[string]*bankModel
	stats  map[string]BankStats
}

func newBankReport(cfg BankConfig) *bankReport {
	return &bankReport{
		cfg:    cfg,
		models: make(map[string]*bankModel),
		stats:  make(map[string]BankStats),
	}
}

// Factory is an experiment.Factory.
func (r *bankReport) Factory(rep *sim.Replication) (sim.Model, error) {
	m, err := newBankModel(r.cfg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.models[rep.Name()] = m
	r.mu.Unlock()
	return m, nil
}

// WarmupReached discards what was counted during the warm-up period.
func (r *bankReport) WarmupReached(rep *sim.Replication, at sim.Time) {
	if m := r.model(rep); m != nil {
		logrus.Infof("[t=%s] %s: warm-up done, discarding %s", at, rep.Name(), m.snapshot())
		m.resetStats()
	}
}

// ReplicationEnded stores the final counters of rep.
func (r *bankReport) ReplicationEnded(rep *sim.Replication, at sim.Time) {
	m := r.model(rep)
	if m == nil {
		return
	}
	st := m.snapshot()
	logrus.Infof("[t=%s] %s: %s", at, rep.Name(), st)

	r.mu.Lock()
	r.stats[rep.Name()] = st
	r.mu.Unlock()
}

func (r *bankReport) model(rep *sim.Replication) *bankModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.models[rep.Name()]
}

// Stats returns the counters of a finished replication.
func (r *bankReport) Stats(name string) (BankStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[name]
	return st, ok
}
