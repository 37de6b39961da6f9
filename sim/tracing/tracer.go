// Package tracing records the sequence of dispatched events so runs can be
// inspected after the fact or compared for determinism.
package tracing

import (
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
)

// Record is one dispatched event.
type Record struct {
	Run         string
	Replication string
	Seq         uint64 // dispatch order within the replication, from 1
	EventSeq    uint64 // calendar insertion sequence
	Time        sim.Time
	Priority    int
	Action      string
	Err         string
}

// Writer stores records.
type Writer interface {
	Write(r Record) error
	Flush() error
}

// Tracer is a simulator hook that turns each dispatch into a Record.
type Tracer struct {
	run    string
	writer Writer

	mu  sync.Mutex
	seq map[*sim.Simulator]uint64
	err error
}

// NewTracer creates a tracer writing to w. An empty run id is replaced by a
// fresh one.
func NewTracer(w Writer, run string) *Tracer {
	if run == "" {
		run = xid.New().String()
	}
	return &Tracer{run: run, writer: w, seq: make(map[*sim.Simulator]uint64)}
}

// Run returns the run id stamped on every record.
func (t *Tracer) Run() string { return t.run }

// Attach registers the tracer on s.
func (t *Tracer) Attach(s *sim.Simulator) { s.AcceptHook(t) }

// Err returns the first write error.
func (t *Tracer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Func implements sim.Hook.
func (t *Tracer) Func(ctx sim.HookCtx) {
	s, ok := ctx.Domain.(*sim.Simulator)
	if !ok {
		return
	}

	switch ctx.Pos {
	case sim.HookPosReset:
		t.mu.Lock()
		delete(t.seq, s)
		t.mu.Unlock()
	case sim.HookPosAfterEvent:
		t.write(s, ctx)
	case sim.HookPosReplicationEnd:
		t.keep(t.writer.Flush())
	}
}

func (t *Tracer) write(s *sim.Simulator, ctx sim.HookCtx) {
	ev := ctx.Item.(*sim.Event)

	t.mu.Lock()
	t.seq[s]++
	seq := t.seq[s]
	t.mu.Unlock()

	r := Record{
		Run:      t.run,
		Seq:      seq,
		EventSeq: ev.Seq(),
		Time:     ev.Time(),
		Priority: ev.Priority(),
		Action:   ev.Name(),
	}
	if rep := s.Replication(); rep != nil {
		r.Replication = rep.Name()
	}
	if err, ok := ctx.Detail.(error); ok && err != nil {
		r.Err = err.Error()
	}
	t.keep(t.writer.Write(r))
}

func (t *Tracer) keep(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		logrus.Errorf("tracing run %s: %v", t.run, err)
		t.err = err
	}
}

// MemoryRecorder keeps records in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
	flushes int
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Write appends r.
func (m *MemoryRecorder) Write(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// Flush counts flushes; records are always visible.
func (m *MemoryRecorder) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

// Records returns a copy of what was written.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Flushes returns the number of Flush calls.
func (m *MemoryRecorder) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
