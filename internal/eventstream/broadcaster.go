// Package eventstream fans scan progress out to remote subscribers over a
// small gRPC streaming service, and bridges it to internal/scanner's event
// union so a running scan pass is observable without polling.
package eventstream

import (
	"log/slog"
	"sync"

	"github.com/scanforge/core/internal/scanner"
)

// Event is the union of events a Broadcaster delivers to subscribers.
type Event interface{ isEvent() }

// ScanCompleted reports that a scan pass finished.
type ScanCompleted struct {
	TotalFilters int
	DurationMs   int64
	Err          string
}

func (ScanCompleted) isEvent() {}

// ScanResultsUpdated reports the filter count produced for one region.
type ScanResultsUpdated struct {
	RegionIndex int
	FilterCount int
}

func (ScanResultsUpdated) isEvent() {}

// FromScannerEvent converts a scanner.Event into the Event union this
// package streams to subscribers. It returns false for any scanner.Event
// variant it does not recognize, so callers can skip forwarding it.
func FromScannerEvent(e scanner.Event) (Event, bool) {
	switch v := e.(type) {
	case scanner.Completed:
		errText := ""
		if v.Err != nil {
			errText = v.Err.Error()
		}
		return ScanCompleted{TotalFilters: v.TotalFilters, DurationMs: v.Duration.Milliseconds(), Err: errText}, true
	case scanner.ResultsUpdated:
		return ScanResultsUpdated{RegionIndex: v.RegionIndex, FilterCount: len(v.Filters)}, true
	default:
		return nil, false
	}
}

// Broadcaster fans Events out to every registered subscriber without
// applying back-pressure to the publisher: a subscriber whose buffer is
// full has the event dropped rather than blocking Publish.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]chan Event
	bufSize int
	logger  *slog.Logger
}

// NewBroadcaster constructs a Broadcaster. bufSize is the per-subscriber
// channel depth; ≤0 defaults to 64.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{subs: make(map[string]chan Event), bufSize: bufSize, logger: logger}
}

// Register creates a subscription identified by id and returns the channel
// Events are delivered on. Registering an id that is already subscribed
// replaces the existing subscription.
func (b *Broadcaster) Register(id string) <-chan Event {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	b.subs[id] = ch
	b.mu.Unlock()
	return ch
}

// Unregister ends the subscription identified by id, closing its channel.
// It is a no-op if id is not subscribed.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of currently registered subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers evt to every registered subscriber using a non-blocking
// send; a subscriber whose buffer is full simply misses this event.
func (b *Broadcaster) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("eventstream: subscriber buffer full, dropping event", slog.String("subscriber_id", id))
		}
	}
}
