package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simkernel/sim/tracing"
)

func smallBank(patience int64) *ExperimentConfig {
	cfg := DefaultExperimentConfig()
	cfg.Replications = 2
	cfg.EndTime = 10_000
	cfg.Model = BankConfig{Tellers: 1, MeanInterarrival: 10, MeanService: 30, Patience: patience}
	return &cfg
}

func TestBankProgram_Assembles(t *testing.T) {
	p, err := bankProgram()
	require.NoError(t, err)

	gen, ok := p.Func("generator")
	require.True(t, ok)
	assert.Equal(t, 4, gen.Params)

	cust, ok := p.Func("customer")
	require.True(t, ok)
	assert.Equal(t, 3, cust.Params)
	assert.Equal(t, 4, cust.NumLocals, "params plus the arrival time")
}

func TestBank_EveryArrivalIsAccountedFor(t *testing.T) {
	// GIVEN an overloaded bank with finite patience and no warm-up
	cfg := smallBank(40)

	// WHEN the experiment runs to its end time
	var out bytes.Buffer
	stats, err := runExperiment(context.Background(), cfg, &out)
	require.NoError(t, err)

	// THEN each customer who arrived was served, reneged or is still queued
	require.Len(t, stats, 2)
	for name, st := range stats {
		assert.Positive(t, st.Arrived, name)
		assert.Positive(t, st.Served, name)
		assert.Positive(t, st.Reneged, name)
		assert.Equal(t, st.Arrived, st.Served+st.Reneged+int64(st.Queued), name)
	}
	assert.Contains(t, out.String(), "bank-rep-0")
	assert.Contains(t, out.String(), "bank-rep-1")
	assert.Contains(t, out.String(), "ended")
}

func TestBank_PatientCustomersNeverRenege(t *testing.T) {
	stats, err := runExperiment(context.Background(), smallBank(1_000_000), &bytes.Buffer{})
	require.NoError(t, err)

	for name, st := range stats {
		assert.Zero(t, st.Reneged, name)
		assert.Positive(t, st.Queued, name, "an overloaded single teller builds a queue")
	}
}

func TestBank_ZeroPatienceBalks(t *testing.T) {
	stats, err := runExperiment(context.Background(), smallBank(0), &bytes.Buffer{})
	require.NoError(t, err)

	for name, st := range stats {
		assert.Zero(t, st.Queued, name)
		assert.Zero(t, st.TotalWait, name, "only customers finding a free teller are served")
		assert.Positive(t, st.Reneged, name)
	}
}

func TestBank_SameSeedSameStatistics(t *testing.T) {
	a, err := runExperiment(context.Background(), smallBank(40), &bytes.Buffer{})
	require.NoError(t, err)
	b, err := runExperiment(context.Background(), smallBank(40), &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a["bank-rep-0"], a["bank-rep-1"], "replications draw from distinct streams")
}

func TestBank_WarmupDiscardsEarlyCounts(t *testing.T) {
	cold, err := runExperiment(context.Background(), smallBank(40), &bytes.Buffer{})
	require.NoError(t, err)

	cfg := smallBank(40)
	cfg.WarmupTime = 5_000
	warm, err := runExperiment(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)

	for name := range cold {
		assert.Less(t, warm[name].Arrived, cold[name].Arrived, name)
		assert.LessOrEqual(t, warm[name].Served, cold[name].Served, name)
		assert.Equal(t, cold[name].Queued, warm[name].Queued, "the trajectory does not depend on the warm-up")
	}
}

func TestBank_TracesToSQLite(t *testing.T) {
	cfg := smallBank(40)
	cfg.Replications = 1
	cfg.EndTime = 500
	cfg.Trace.SQLite = filepath.Join(t.TempDir(), "trace.db")

	_, err := runExperiment(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)

	db, err := tracing.NewSQLiteRecorder(cfg.Trace.SQLite)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	records, err := db.Records(ctx, runs[0], "bank-rep-0")
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "Warmup", records[0].Action)
	for i := 1; i < len(records); i++ {
		assert.LessOrEqual(t, records[i-1].Time, records[i].Time)
	}
}

func TestBank_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runExperiment(ctx, smallBank(40), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}
