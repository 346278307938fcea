// Package freeze maintains the set of addresses a caller has pinned to a
// fixed value, and a background writer that keeps reasserting those values
// against a live target process.
package freeze

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scanforge/core/internal/memory"
)

// Entry is one frozen address and the bytes it should always read as.
type Entry struct {
	Address uint64
	Value   []byte
}

// List is the set of currently frozen addresses, keyed by address so
// re-freezing the same address replaces its value rather than duplicating
// it.
type List struct {
	mu      sync.RWMutex
	entries map[uint64]Entry
}

// NewList constructs an empty freeze list.
func NewList() *List {
	return &List{entries: make(map[uint64]Entry)}
}

// Set freezes address to value, replacing any existing entry for it.
func (l *List) Set(address uint64, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[address] = Entry{Address: address, Value: append([]byte(nil), value...)}
}

// Clear unfreezes address. It is a no-op if address was not frozen.
func (l *List) Clear(address uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, address)
}

// Reset unfreezes every address. The writer picks the empty list up on its
// next sweep, so no reassertion write is issued for a cleared entry again.
func (l *List) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[uint64]Entry)
}

// Snapshot returns a copy of every currently frozen entry.
func (l *List) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	return out
}

// Writer periodically reasserts every entry in a List against a live
// target, skipping a tick for any address whose previous write is still
// in flight rather than letting writes pile up.
type Writer struct {
	list     *List
	provider memory.Provider
	interval time.Duration

	db *sql.DB

	mu       sync.Mutex
	inFlight map[uint64]bool
	observer func(addr uint64, err error)
	ticker   *time.Ticker
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// SetObserver installs a callback invoked after every reassertion write
// with the address written and the write's outcome (nil on success). Must
// be called before Start.
func (w *Writer) SetObserver(fn func(addr uint64, err error)) {
	w.observer = fn
}

// NewWriter constructs a Writer. dbPath, if non-empty, opens a WAL-mode
// SQLite database used to persist the freeze list across restarts; pass ""
// to keep the list in-memory only.
func NewWriter(list *List, provider memory.Provider, interval time.Duration, dbPath string) (*Writer, error) {
	w := &Writer{
		list:     list,
		provider: provider,
		interval: interval,
		inFlight: make(map[uint64]bool),
	}

	if dbPath != "" {
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("freeze: opening database: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			return nil, fmt.Errorf("freeze: enabling WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			return nil, fmt.Errorf("freeze: setting synchronous mode: %w", err)
		}
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS frozen_entries (
			address INTEGER PRIMARY KEY,
			value   BLOB NOT NULL
		)`); err != nil {
			return nil, fmt.Errorf("freeze: creating schema: %w", err)
		}
		w.db = db

		if err := w.restore(); err != nil {
			return nil, err
		}
	}

	return w, nil
}

func (w *Writer) restore() error {
	rows, err := w.db.Query("SELECT address, value FROM frozen_entries")
	if err != nil {
		return fmt.Errorf("freeze: restoring entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr int64
		var value []byte
		if err := rows.Scan(&addr, &value); err != nil {
			return fmt.Errorf("freeze: scanning entry: %w", err)
		}
		w.list.Set(uint64(addr), value)
	}
	return rows.Err()
}

func (w *Writer) persist(e Entry) error {
	if w.db == nil {
		return nil
	}
	_, err := w.db.Exec(
		"INSERT INTO frozen_entries (address, value) VALUES (?, ?) ON CONFLICT(address) DO UPDATE SET value = excluded.value",
		int64(e.Address), e.Value,
	)
	return err
}

// Start begins the background reassertion loop. It returns immediately;
// call Stop to end it.
func (w *Writer) Start(ctx context.Context) {
	w.ticker = time.NewTicker(w.interval)
	w.stopCh = make(chan struct{})
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-w.ticker.C:
				w.tick(ctx)
			}
		}
	}()
}

func (w *Writer) tick(ctx context.Context) {
	for _, e := range w.list.Snapshot() {
		w.mu.Lock()
		if w.inFlight[e.Address] {
			w.mu.Unlock()
			continue // previous write still running; skip this tick
		}
		w.inFlight[e.Address] = true
		w.mu.Unlock()

		e := e
		// Tracked on the same WaitGroup as the ticker loop (which is still
		// counted while tick runs), so Stop waits for in-flight writes before
		// closing the database.
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() {
				w.mu.Lock()
				delete(w.inFlight, e.Address)
				w.mu.Unlock()
			}()
			n, err := w.provider.WriteMemory(ctx, e.Address, e.Value)
			if err == nil && n != len(e.Value) {
				err = fmt.Errorf("freeze: short write at %#x: %d of %d bytes", e.Address, n, len(e.Value))
			}
			if w.observer != nil {
				// A failed write is reported but the entry stays frozen;
				// the next sweep retries it.
				w.observer(e.Address, err)
			}
			_ = w.persist(e)
		}()
	}
}

// Stop ends the background loop and waits for it to exit.
func (w *Writer) Stop() error {
	if w.stopCh != nil {
		close(w.stopCh)
	}
	if w.ticker != nil {
		w.ticker.Stop()
	}
	w.wg.Wait()
	if w.db != nil {
		return w.db.Close()
	}
	return nil
}
