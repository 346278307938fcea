package snapshot

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/scanforge/core/internal/memory"
)

// Snapshot is an ordered collection of Regions spanning the normalized
// portion of a target's address space that a scan considers.
type Snapshot struct {
	Regions []*Region
}

// New builds a Snapshot over regions, sorted by base address so later
// binary-search lookups (e.g. the result index paging over a collection
// built from this snapshot) can assume ascending order.
func New(regions []memory.Region) *Snapshot {
	out := make([]*Region, len(regions))
	for i, r := range regions {
		out[i] = NewRegion(r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BaseAddress() < out[j].BaseAddress()
	})
	return &Snapshot{Regions: out}
}

// CollectAll refreshes every region's current values in parallel, bounded
// by maxConcurrency (0 means unbounded). A failed region read is recorded
// on that region (see Region.ReadError) and does not stop the others; the
// scan continues over whatever regions did read. CollectAll only returns
// an error when ctx is cancelled or every region failed, since only
// whole-process failures are worth propagating.
func (s *Snapshot) CollectAll(ctx context.Context, provider memory.Provider, maxConcurrency int) error {
	var g errgroup.Group
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}

	errs := make([]error, len(s.Regions))
	for i, region := range s.Regions {
		i, region := i, region
		g.Go(func() error {
			errs[i] = region.CollectValues(ctx, provider)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("snapshot: collect all: %w", err)
	}

	failed := 0
	var firstErr error
	for _, err := range errs {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if failed > 0 && failed == len(s.Regions) {
		return fmt.Errorf("snapshot: collect all: every region failed: %w", firstErr)
	}
	return nil
}

// TotalSize returns the sum of every region's size.
func (s *Snapshot) TotalSize() uint64 {
	var total uint64
	for _, r := range s.Regions {
		total += r.RegionSize()
	}
	return total
}

// RegionAt returns the region containing addr, or nil if none does.
func (s *Snapshot) RegionAt(addr uint64) *Region {
	idx := sort.Search(len(s.Regions), func(i int) bool {
		return s.Regions[i].BaseAddress()+s.Regions[i].RegionSize() > addr
	})
	if idx == len(s.Regions) {
		return nil
	}
	r := s.Regions[idx]
	if addr < r.BaseAddress() {
		return nil
	}
	return r
}
