package tracing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simkernel/sim"
)

type arrival struct{}

func (arrival) Execute(_ []any) error { return nil }
func (arrival) String() string        { return "Arrival" }

// runModel runs a small model with a fixed schedule, including one same-time
// priority tie and one random delay.
func runModel(t *testing.T, seed int64, tr *Tracer) *sim.Simulator {
	t.Helper()
	s := sim.New("traced", sim.NewSimulationKey(seed))
	tr.Attach(s)

	rep, err := sim.NewReplication("rep-0", 0, 2, 50)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(sim.ModelFunc(func(s *sim.Simulator) error {
		rng := s.RNG().ForSubsystem(sim.SubsystemModel)
		for _, at := range []sim.Time{5, 5, 1, 60} {
			if _, err := s.ScheduleEventAbs(at, arrival{}); err != nil {
				return err
			}
		}
		if _, err := s.ScheduleEvent(5, sim.MaxPriority, arrival{}); err != nil {
			return err
		}
		_, err := s.ScheduleEventAbs(sim.Time(10+rng.Intn(20)), arrival{})
		return err
	}), rep))
	require.NoError(t, s.Start())
	return s
}

func TestTracer_RecordsDispatchOrder(t *testing.T) {
	mem := NewMemoryRecorder()
	tr := NewTracer(mem, "run-1")
	s := runModel(t, 1, tr)

	records := mem.Records()
	require.Len(t, records, 6, "warm-up plus five arrivals, the t=60 one is discarded")
	assert.Equal(t, s.Dispatched(), uint64(len(records)))

	assert.Equal(t, sim.Time(1), records[0].Time)
	assert.Equal(t, "Arrival", records[0].Action)
	assert.Equal(t, sim.Time(2), records[1].Time)
	assert.Equal(t, "Warmup", records[1].Action)
	assert.Equal(t, sim.MaxPriority, records[2].Priority, "higher priority first at t=5")
	assert.Less(t, records[3].EventSeq, records[4].EventSeq, "same priority keeps insertion order")

	for i, r := range records {
		assert.Equal(t, "run-1", r.Run)
		assert.Equal(t, "rep-0", r.Replication)
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.Empty(t, r.Err)
	}
	assert.Equal(t, 1, mem.Flushes(), "flushed at replication end")
	assert.NoError(t, tr.Err())
}

func TestTracer_SameSeedSameTrace(t *testing.T) {
	a, b := NewMemoryRecorder(), NewMemoryRecorder()
	runModel(t, 99, NewTracer(a, "x"))
	runModel(t, 99, NewTracer(b, "x"))
	assert.Equal(t, a.Records(), b.Records())
}

func TestTracer_GeneratesRunID(t *testing.T) {
	tr := NewTracer(NewMemoryRecorder(), "")
	assert.Len(t, tr.Run(), 20)
	assert.NotEqual(t, tr.Run(), NewTracer(NewMemoryRecorder(), "").Run())
}

type failingWriter struct{ err error }

func (w failingWriter) Write(Record) error { return w.err }
func (w failingWriter) Flush() error       { return nil }

func TestTracer_KeepsFirstWriteError(t *testing.T) {
	boom := errors.New("disk full")
	tr := NewTracer(failingWriter{err: boom}, "r")
	runModel(t, 1, tr)
	assert.ErrorIs(t, tr.Err(), boom)
}

func TestSQLiteRecorder_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite")
	db, err := NewSQLiteRecorder(path)
	require.NoError(t, err)
	defer db.Close()
	db.SetBatchSize(2)

	mem := NewMemoryRecorder()
	runModel(t, 5, NewTracer(db, "sql-run"))
	runModel(t, 5, NewTracer(mem, "sql-run"))

	ctx := context.Background()
	got, err := db.Records(ctx, "sql-run", "rep-0")
	require.NoError(t, err)
	assert.Equal(t, mem.Records(), got)

	n, err := db.Count(ctx, "sql-run")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	none, err := db.Records(ctx, "other", "rep-0")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.Error(t, db.Write(Record{}))
}

func TestSQLiteRecorder_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite")
	db, err := NewSQLiteRecorder(path)
	require.NoError(t, err)
	require.NoError(t, db.Write(Record{Run: "r", Replication: "a", Seq: 1, Time: 3, Priority: 5, Action: "X"}))
	require.NoError(t, db.Close())

	db, err = NewSQLiteRecorder(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Records(context.Background(), "r", "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "X", got[0].Action)
	assert.Equal(t, sim.Time(3), got[0].Time)
	assert.Equal(t, path, db.Path())

	require.NoError(t, db.Write(Record{Run: "later", Replication: "a", Seq: 1, Action: "Y"}))
	runs, err := db.Runs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"r", "later"}, runs)
}
