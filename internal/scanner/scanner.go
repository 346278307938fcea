// Package scanner orchestrates a scan pass across every region of a
// snapshot: dispatching the comparison kernel in parallel, reporting
// progress, and assembling the resulting filter.Collection.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/filter"
	"github.com/scanforge/core/internal/kernel"
	"github.com/scanforge/core/internal/memory"
	"github.com/scanforge/core/internal/planner"
	"github.com/scanforge/core/internal/scanparams"
	"github.com/scanforge/core/internal/snapshot"
)

// Event is the union of events a Scanner emits on its event channel.
type Event interface{ isEvent() }

// ResultsUpdated reports the filters produced for one region as soon as
// that region's comparison finishes, so a caller can render partial
// results before the whole pass completes.
type ResultsUpdated struct {
	RegionIndex int
	Filters     []filter.Filter
}

func (ResultsUpdated) isEvent() {}

// ReadFailed reports a region whose read phase failed; its filters are
// dropped from the new collection rather than compared against stale
// bytes.
type ReadFailed struct {
	RegionIndex int
	BaseAddress uint64
	Err         error
}

func (ReadFailed) isEvent() {}

// Completed reports that every region has been compared.
type Completed struct {
	TotalFilters int
	Duration     time.Duration
	Err          error
}

func (Completed) isEvent() {}

// Option configures a Scanner at construction time.
type Option func(*Scanner)

// WithEventBuffer sets the buffer size of the scanner's event channel.
// Default is 16.
func WithEventBuffer(n int) Option {
	return func(s *Scanner) { s.eventBuf = n }
}

// WithConcurrency bounds the number of regions compared in parallel.
// Default is 0 (unbounded).
func WithConcurrency(n int) Option {
	return func(s *Scanner) { s.maxConcurrency = n }
}

// WithProgress installs a callback invoked at every region boundary with
// the fraction of regions compared so far, in [0, 1]. The callback may be
// invoked from multiple worker goroutines.
func WithProgress(fn func(float32)) Option {
	return func(s *Scanner) { s.progress = fn }
}

// WithValidationScan re-runs every vector comparison through the scalar
// kernel and panics if the two disagree. A mismatch is a programmer
// invariant violation in the kernels, not a runtime condition to recover
// from, so this is for debugging kernel changes only.
func WithValidationScan() Option {
	return func(s *Scanner) { s.validate = true }
}

// WithMemoryProvider supplies the provider an interleaved-read pass
// (scanparams.ReadInterleaved) refreshes region bytes through. Without a
// provider, interleaved passes compare the buffers as they are.
func WithMemoryProvider(p memory.Provider) Option {
	return func(s *Scanner) { s.provider = p }
}

// Scanner runs scan passes over a single snapshot.Snapshot.
type Scanner struct {
	snap      *snapshot.Snapshot
	plan      *planner.Planner
	dataType  datatype.ID
	alignment memory.Alignment
	provider  memory.Provider

	eventBuf       int
	maxConcurrency int
	progress       func(float32)
	validate       bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	events    chan Event
	processed atomic.Int64
}

// New constructs a Scanner over snap, comparing elements of dataType at the
// given alignment, using plan to resolve scan parameters per pass.
func New(snap *snapshot.Snapshot, plan *planner.Planner, dataType datatype.ID, alignment memory.Alignment, opts ...Option) *Scanner {
	s := &Scanner{
		snap:           snap,
		plan:           plan,
		dataType:       dataType,
		alignment:      alignment,
		eventBuf:       16,
		maxConcurrency: 0,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make(chan Event, s.eventBuf)
	return s
}

// Events returns the channel the next (or currently running) scan pass
// publishes on. The channel is closed when that pass completes and replaced
// with a fresh one, so a drain loop started before Start terminates with
// the pass it observed.
func (s *Scanner) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Start runs one scan pass over every region in the snapshot, comparing
// against params, and returns the resulting filter.Collection.
//
// previous is the filter.Collection produced by the prior pass, whose
// surviving sub-ranges are the only candidates re-examined this pass. Pass
// nil for a first scan: every region is then treated as a single candidate
// filter spanning its full extent, exactly as if a prior pass had found
// nothing to exclude.
//
// Start blocks until every filter in every region has been compared or ctx
// is cancelled; a cancelled pass still returns filters for whichever
// regions finished first.
func (s *Scanner) Start(ctx context.Context, params scanparams.Parameters, previous *filter.Collection) (*filter.Collection, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("scanner: scan already in progress")
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.processed.Store(0)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		close(s.events)
		s.events = make(chan Event, s.eventBuf)
		s.mu.Unlock()
	}()

	dt, err := datatype.Lookup(s.dataType)
	if err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}
	mapped, err := s.plan.Plan(params, s.dataType, s.alignment)
	if err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}

	start := time.Now()
	perRegion := make([][]filter.Filter, len(s.snap.Regions))

	g, gctx := errgroup.WithContext(runCtx)
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}

	for i, region := range s.snap.Regions {
		i, region := i, region
		candidates := s.candidateFilters(previous, i, region)
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			if mapped.ReadMode == scanparams.ReadInterleaved && s.provider != nil {
				// Best-effort refresh right before comparing; a failure is
				// recorded on the region and handled below like any other
				// failed read.
				_ = region.CollectValues(gctx, s.provider)
			}

			if readErr := region.ReadError(); readErr != nil {
				done := s.processed.Add(1)
				if s.progress != nil && len(s.snap.Regions) > 0 {
					s.progress(float32(done) / float32(len(s.snap.Regions)))
				}
				s.publish(ReadFailed{RegionIndex: i, BaseAddress: region.BaseAddress(), Err: readErr})
				s.publish(ResultsUpdated{RegionIndex: i})
				return nil
			}

			regionFilters := make([]filter.Filter, 0, len(candidates))
			for _, cf := range candidates {
				curSlice, prevSlice, ok := sliceFilter(region, cf)
				if !ok {
					// Read failure left a gap spanning this filter; drop it
					// from the next collection rather than scan stale bytes.
					continue
				}

				if s.validate {
					if err := kernel.Validate(curSlice, prevSlice, dt, int(s.alignment), mapped, kernel.DetectVectorWidth()); err != nil {
						panic(err)
					}
				}
				runs := kernel.Scan(curSlice, prevSlice, dt, int(s.alignment), mapped)
				for _, r := range runs {
					regionFilters = append(regionFilters, filter.Filter{
						Region:     region,
						BaseOffset: cf.BaseOffset + r.Offset,
						Size:       r.Length,
					})
				}
			}
			perRegion[i] = regionFilters
			done := s.processed.Add(1)
			if s.progress != nil && len(s.snap.Regions) > 0 {
				s.progress(float32(done) / float32(len(s.snap.Regions)))
			}

			s.publish(ResultsUpdated{RegionIndex: i, Filters: regionFilters})
			return nil
		})
	}

	waitErr := g.Wait()

	collection := filter.NewCollection(perRegion)
	s.publish(Completed{TotalFilters: collection.Count(), Duration: time.Since(start), Err: waitErr})

	if waitErr != nil {
		// A cancelled pass still hands back whatever regions completed;
		// regions that never ran contribute empty filter slices. The caller
		// decides whether a partial collection is worth installing.
		return collection, fmt.Errorf("scanner: %w", waitErr)
	}
	return collection, nil
}

// candidateFilters returns the filters within region regionIndex that this
// pass should re-examine: previous's filters for that region, or (when
// previous is nil, or that region did not exist in it) one filter spanning
// the region's full current extent.
func (s *Scanner) candidateFilters(previous *filter.Collection, regionIndex int, region *snapshot.Region) []filter.Filter {
	if previous != nil && regionIndex < len(previous.Filters) {
		return previous.Filters[regionIndex]
	}
	size := uint64(len(region.Current()))
	if size == 0 {
		return nil
	}
	return []filter.Filter{{Region: region, BaseOffset: 0, Size: size}}
}

// sliceFilter returns the current/previous byte sub-slices cf spans. It
// reports false when the region's buffers are too short to cover cf (a
// gap left by a partial read failure), in which case the filter must be
// dropped rather than compared against truncated bytes.
func sliceFilter(region *snapshot.Region, cf filter.Filter) (current, previous []byte, ok bool) {
	end := cf.BaseOffset + cf.Size
	cur := region.Current()
	prev := region.Previous()
	if end > uint64(len(cur)) || end > uint64(len(prev)) {
		return nil, nil, false
	}
	return cur[cf.BaseOffset:end], prev[cf.BaseOffset:end], true
}

// Stop cancels an in-progress scan. It is a no-op if no scan is running.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Processed returns the number of regions compared so far in the current
// (or most recently completed) scan pass.
func (s *Scanner) Processed() int64 {
	return s.processed.Load()
}

func (s *Scanner) publish(e Event) {
	select {
	case s.events <- e:
	default:
		// Slow consumer: drop rather than block the scan pass, matching
		// the non-blocking emit pattern used elsewhere for event fan-out.
	}
}
