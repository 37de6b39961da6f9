package tracing

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/inference-sim/simkernel/sim"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder writes records to a SQLite database in batches.
type SQLiteRecorder struct {
	db   *sql.DB
	path string

	mu        sync.Mutex
	pending   []Record
	batchSize int
	closed    bool
}

// NewSQLiteRecorder opens (or creates) the database at path. An empty path
// picks a fresh file name in the working directory. Buffered records are
// flushed when the process exits through atexit.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if path == "" {
		path = "simkernel_trace_" + xid.New().String() + ".sqlite"
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &SQLiteRecorder{db: db, path: path, batchSize: 10000}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate trace db: %w", err)
	}

	atexit.Register(func() {
		if err := r.Close(); err != nil {
			fmt.Printf("closing trace db %s: %v\n", path, err)
		}
	})
	return r, nil
}

// Path returns the database file.
func (r *SQLiteRecorder) Path() string { return r.path }

// SetBatchSize changes how many records are buffered before a write.
func (r *SQLiteRecorder) SetBatchSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchSize = n
}

func (r *SQLiteRecorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		run         TEXT NOT NULL,
		replication TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		event_seq   INTEGER NOT NULL,
		time        INTEGER NOT NULL,
		priority    INTEGER NOT NULL,
		action      TEXT NOT NULL,
		err         TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run, replication, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_events_time ON events(run, replication, time);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Write buffers rec and writes the buffer once it is full.
func (r *SQLiteRecorder) Write(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("trace db %s is closed", r.path)
	}
	r.pending = append(r.pending, rec)
	if len(r.pending) >= r.batchSize {
		return r.flushLocked()
	}
	return nil
}

// Flush writes buffered records in one transaction.
func (r *SQLiteRecorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.flushLocked()
}

func (r *SQLiteRecorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO events
		(run, replication, seq, event_seq, time, priority, action, err)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range r.pending {
		if _, err := stmt.Exec(rec.Run, rec.Replication, int64(rec.Seq), int64(rec.EventSeq),
			int64(rec.Time), rec.Priority, rec.Action, rec.Err); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s/%s#%d: %w", rec.Run, rec.Replication, rec.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.pending = r.pending[:0]
	return nil
}

// Close flushes and closes the database. Closing twice is a no-op.
func (r *SQLiteRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	err := r.flushLocked()
	r.closed = true
	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Records reads back the records of one run and replication in dispatch
// order. Buffered records are flushed first.
func (r *SQLiteRecorder) Records(ctx context.Context, run, replication string) ([]Record, error) {
	if err := r.Flush(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT run, replication, seq, event_seq, time, priority, action, err
		FROM events WHERE run = ? AND replication = ? ORDER BY seq`, run, replication)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var seq, eventSeq, t int64
		if err := rows.Scan(&rec.Run, &rec.Replication, &seq, &eventSeq, &t,
			&rec.Priority, &rec.Action, &rec.Err); err != nil {
			return nil, err
		}
		rec.Seq = uint64(seq)
		rec.EventSeq = uint64(eventSeq)
		rec.Time = sim.Time(t)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records of a run.
func (r *SQLiteRecorder) Count(ctx context.Context, run string) (int, error) {
	if err := r.Flush(); err != nil {
		return 0, err
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run = ?`, run).Scan(&n)
	return n, err
}

// Runs returns the run ids stored in the database, oldest first.
func (r *SQLiteRecorder) Runs(ctx context.Context) ([]string, error) {
	if err := r.Flush(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT run FROM events GROUP BY run ORDER BY MIN(rowid)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
