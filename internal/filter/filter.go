// Package filter models the surviving sub-ranges of a snapshot region after
// a scan pass, and the two-level collection that preserves per-region
// parallelism across successive scans.
package filter

import "github.com/scanforge/core/internal/snapshot"

// Filter is a contiguous run of addresses within one snapshot region that
// survived a comparison. BaseOffset is relative to the owning region's
// base address.
type Filter struct {
	Region     *snapshot.Region
	BaseOffset uint64
	Size       uint64
}

// BaseAddress returns the absolute address the filter's run starts at.
func (f Filter) BaseAddress() uint64 {
	return f.Region.BaseAddress() + f.BaseOffset
}

// EndAddress returns the absolute exclusive end address of the run.
func (f Filter) EndAddress() uint64 {
	return f.BaseAddress() + f.Size
}

// Collection holds filters as a slice of per-region slices rather than one
// flat slice. Keeping the per-region partition intact means a later scan
// pass can re-dispatch one goroutine per region without first having to
// re-partition a flattened list.
type Collection struct {
	Filters [][]Filter
}

// NewCollection wraps per-region filter slices into a Collection. Empty
// inner slices (a region with no surviving filters) are preserved rather
// than dropped, since scan_results paging still needs a stable cursor
// surface across the region index.
func NewCollection(perRegion [][]Filter) *Collection {
	return &Collection{Filters: perRegion}
}

// Count returns the total number of filters across every region.
func (c *Collection) Count() int {
	total := 0
	for _, region := range c.Filters {
		total += len(region)
	}
	return total
}

// ForEach invokes fn for every filter in order, stopping early if fn
// returns false.
func (c *Collection) ForEach(fn func(regionIndex int, f Filter) bool) {
	for ri, region := range c.Filters {
		for _, f := range region {
			if !fn(ri, f) {
				return
			}
		}
	}
}
