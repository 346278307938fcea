// Package store persists completed scan sessions to PostgreSQL so the
// constraint chain that produced a result set can be queried later.
//
// Session ingestion is batched: callers enqueue individual Session values
// via RecordSession, which accumulates them in memory and flushes to the
// database either when the buffer reaches batchSize or when the background
// ticker fires, whichever comes first.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of session rows held in-memory
	// before an automatic flush is triggered.
	DefaultBatchSize = 50

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending sessions even when the batch has not yet reached
	// DefaultBatchSize.
	DefaultFlushInterval = 250 * time.Millisecond
)

// Store is the PostgreSQL-backed scan-session ledger.
type Store struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []Session
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New opens a pgxpool connection to connStr, pings the database, ensures
// the ledger schema exists, and starts the background flush goroutine.
//
// batchSize ≤ 0 is replaced with DefaultBatchSize.
// flushInterval ≤ 0 is replaced with DefaultFlushInterval.
func New(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*Store, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}
	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{
		pool:          pool,
		batch:         make([]Session, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS scan_sessions (
			session_id   UUID PRIMARY KEY,
			process_id   INTEGER      NOT NULL,
			process_name TEXT         NOT NULL DEFAULT '',
			data_type    TEXT         NOT NULL,
			alignment    INTEGER      NOT NULL,
			compare_type TEXT         NOT NULL,
			scan_value   TEXT         NOT NULL DEFAULT '',
			result_count BIGINT       NOT NULL,
			duration_ms  BIGINT       NOT NULL,
			started_at   TIMESTAMPTZ  NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scan_sessions_started_at
			ON scan_sessions (started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_scan_sessions_process
			ON scan_sessions (process_id, started_at DESC)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close stops the background flush goroutine, flushes any remaining
// buffered sessions, and closes the connection pool. It is safe to call
// Close more than once; subsequent calls are no-ops.
func (s *Store) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
		// already closed
	default:
		close(s.stopCh)
		<-s.doneCh
		// Best-effort final flush; errors are not propagated on close.
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

// flushLoop is the background goroutine that ticks on flushInterval and
// calls Flush. It exits when stopCh is closed.
func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// RecordSession enqueues sess for deferred batch insertion.
//
// If the internal buffer reaches batchSize after appending, Flush is called
// synchronously before returning so that the caller observes back-pressure
// rather than unbounded memory growth.
func (s *Store) RecordSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	s.batch = append(s.batch, sess)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the current session buffer and sends all rows to PostgreSQL
// in a single pgx.Batch round-trip. Rows that conflict on the primary key
// are silently ignored (idempotent replay support).
//
// Flush is safe to call concurrently: a mutex swap ensures each call drains
// a distinct snapshot of the buffer.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]Session, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO scan_sessions
			(session_id, process_id, process_name, data_type, alignment,
			 compare_type, scan_value, result_count, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range toInsert {
		sess := &toInsert[i]
		b.Queue(query,
			sess.SessionID, sess.ProcessID, sess.ProcessName,
			sess.DataType, sess.Alignment,
			sess.CompareType, sess.ScanValue,
			sess.ResultCount, sess.DurationMS, sess.StartedAt,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec session: %w", err)
		}
	}
	return nil
}

// ListSessions returns sessions within [q.From, q.To) on started_at,
// optionally filtered to one process, ordered newest first. q.Limit
// defaults to 100; q.Offset enables cursor-style pagination.
func (s *Store) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	args := []any{q.From, q.To, q.Limit, q.Offset}
	where := "WHERE started_at >= $1 AND started_at < $2"
	if q.ProcessID != 0 {
		where += " AND process_id = $5"
		args = append(args, q.ProcessID)
	}

	sql := fmt.Sprintf(`
		SELECT session_id, process_id, process_name, data_type, alignment,
		       compare_type, scan_value, result_count, duration_ms, started_at
		FROM   scan_sessions
		%s
		ORDER  BY started_at DESC, session_id
		LIMIT  $3 OFFSET $4`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		err := rows.Scan(
			&sess.SessionID, &sess.ProcessID, &sess.ProcessName,
			&sess.DataType, &sess.Alignment,
			&sess.CompareType, &sess.ScanValue,
			&sess.ResultCount, &sess.DurationMS, &sess.StartedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
