package resultindex

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scanforge/core/internal/filter"
)

// Result is one addressable surviving element: the byte address it starts
// at and which flattened filter/region it belongs to.
type Result struct {
	Address     uint64
	RegionIndex int
	FilterIndex int
}

// Index provides O(log N) lookup of the k-th surviving element across an
// entire filter.Collection, without flattening every individual address
// into memory: only one Fenwick-tree leaf per filter run is stored, and the
// element within a run is derived arithmetically from k's remainder.
type Index struct {
	tree        *FenwickTree
	entries     []flatEntry
	elementSize int
	alignment   int
	cache       *lru.Cache[int64, Result]
}

type flatEntry struct {
	region int
	filter filter.Filter
}

// New builds an Index over collection. elementSize and alignment must match
// the data type and alignment the scan that produced collection used.
// cacheSize bounds the number of recently-paged results kept in memory;
// pass 0 to disable caching.
func New(collection *filter.Collection, elementSize, alignment, cacheSize int) (*Index, error) {
	if elementSize <= 0 {
		return nil, fmt.Errorf("resultindex: elementSize must be positive")
	}
	if alignment <= 0 {
		alignment = 1
	}

	var entries []flatEntry
	collection.ForEach(func(regionIndex int, f filter.Filter) bool {
		entries = append(entries, flatEntry{region: regionIndex, filter: f})
		return true
	})

	tree := NewFenwickTree(len(entries))
	for i, e := range entries {
		tree.Add(i, int64(elementCount(e.filter, elementSize, alignment)))
	}

	var cache *lru.Cache[int64, Result]
	if cacheSize > 0 {
		c, err := lru.New[int64, Result](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("resultindex: building page cache: %w", err)
		}
		cache = c
	}

	return &Index{tree: tree, entries: entries, elementSize: elementSize, alignment: alignment, cache: cache}, nil
}

func elementCount(f filter.Filter, elementSize, alignment int) int {
	if f.Size < uint64(elementSize) {
		return 0
	}
	span := f.Size - uint64(elementSize)
	return int(span/uint64(alignment)) + 1
}

// Len returns the total number of surviving elements across the whole
// collection.
func (idx *Index) Len() int64 {
	return idx.tree.Total()
}

// At returns the k-th surviving element (0-indexed) in deterministic
// region/filter/offset order.
func (idx *Index) At(k int64) (Result, error) {
	if idx.cache != nil {
		if r, ok := idx.cache.Get(k); ok {
			return r, nil
		}
	}

	if k < 0 || k >= idx.Len() {
		return Result{}, fmt.Errorf("resultindex: index %d out of range [0, %d)", k, idx.Len())
	}

	filterIdx, ok := idx.tree.FindKth(k)
	if !ok {
		return Result{}, fmt.Errorf("resultindex: index %d out of range", k)
	}

	precedingSum := idx.tree.PrefixSum(filterIdx - 1)
	withinFilter := k - precedingSum

	entry := idx.entries[filterIdx]
	address := entry.filter.BaseAddress() + uint64(withinFilter)*uint64(idx.alignment)

	result := Result{Address: address, RegionIndex: entry.region, FilterIndex: filterIdx}
	if idx.cache != nil {
		idx.cache.Add(k, result)
	}
	return result, nil
}

// Page returns up to count consecutive results starting at offset,
// truncated at the end of the index.
func (idx *Index) Page(offset, count int64) ([]Result, error) {
	if offset < 0 || count < 0 {
		return nil, fmt.Errorf("resultindex: offset and count must be non-negative")
	}
	total := idx.Len()
	if offset >= total {
		return nil, nil
	}
	end := offset + count
	if end > total {
		end = total
	}

	out := make([]Result, 0, end-offset)
	for k := offset; k < end; k++ {
		r, err := idx.At(k)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
