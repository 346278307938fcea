//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/store/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scanforge/core/internal/store"
)

// setupDB starts a PostgreSQL container and returns a connected Store.
func setupDB(t *testing.T) (*store.Store, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("scanforge_test"),
		tcpostgres.WithUsername("scanforge"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	s, err := store.New(ctx, connStr, 10, 50*time.Millisecond)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("store.New: %v", err)
	}

	cleanup := func() {
		s.Close(ctx)
		_ = pgContainer.Terminate(ctx)
	}
	return s, cleanup
}

func testSession(suffix string, started time.Time) store.Session {
	return store.Session{
		SessionID:   fmt.Sprintf("00000000-0000-0000-0000-%012s", suffix),
		ProcessID:   4242,
		ProcessName: "target-proc",
		DataType:    "i32",
		Alignment:   4,
		CompareType: "==",
		ScanValue:   "100",
		ResultCount: 57,
		DurationMS:  12,
		StartedAt:   started,
	}
}

func TestRecordAndListSessions(t *testing.T) {
	s, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		sess := testSession(fmt.Sprintf("%012d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.RecordSession(ctx, sess); err != nil {
			t.Fatalf("record session %d: %v", i, err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, err := s.ListSessions(ctx, store.SessionQuery{
		ProcessID: 4242,
		From:      base.Add(-time.Minute),
		To:        base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d sessions, want 3", len(got))
	}
	// Newest first.
	if !got[0].StartedAt.After(got[2].StartedAt) {
		t.Fatalf("sessions not ordered newest first: %v then %v", got[0].StartedAt, got[2].StartedAt)
	}
	if got[0].ResultCount != 57 || got[0].CompareType != "==" {
		t.Fatalf("round-trip mismatch: %+v", got[0])
	}
}

func TestFlushIsIdempotentOnConflict(t *testing.T) {
	s, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	sess := testSession("000000000001", base)

	for i := 0; i < 2; i++ {
		if err := s.RecordSession(ctx, sess); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := s.Flush(ctx); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}

	got, err := s.ListSessions(ctx, store.SessionQuery{
		From: base.Add(-time.Minute),
		To:   base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicate primary key produced %d rows, want 1", len(got))
	}
}

func TestBatchSizeTriggersSynchronousFlush(t *testing.T) {
	s, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	// batchSize is 10; the 10th RecordSession must flush synchronously.
	for i := 0; i < 10; i++ {
		sess := testSession(fmt.Sprintf("%012d", 100+i), base)
		if err := s.RecordSession(ctx, sess); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := s.ListSessions(ctx, store.SessionQuery{
		From: base.Add(-time.Minute),
		To:   base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d rows after batch-size flush, want 10", len(got))
	}
}
