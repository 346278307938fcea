package filter

import (
	"testing"

	"github.com/scanforge/core/internal/memory"
	"github.com/scanforge/core/internal/snapshot"
)

func TestFilterAddressRange(t *testing.T) {
	region := snapshot.NewRegion(memory.Region{BaseAddress: 0x1000, RegionSize: 0x100})
	f := Filter{Region: region, BaseOffset: 0x10, Size: 4}

	if f.BaseAddress() != 0x1010 {
		t.Fatalf("got base %#x, want 0x1010", f.BaseAddress())
	}
	if f.EndAddress() != 0x1014 {
		t.Fatalf("got end %#x, want 0x1014", f.EndAddress())
	}
}

func TestCollectionCountAndForEach(t *testing.T) {
	region := snapshot.NewRegion(memory.Region{BaseAddress: 0x1000, RegionSize: 0x100})
	c := NewCollection([][]Filter{
		{{Region: region, BaseOffset: 0, Size: 4}, {Region: region, BaseOffset: 8, Size: 4}},
		{},
		{{Region: region, BaseOffset: 16, Size: 4}},
	})

	if c.Count() != 3 {
		t.Fatalf("got count %d, want 3", c.Count())
	}

	var seen int
	c.ForEach(func(regionIndex int, f Filter) bool {
		seen++
		return true
	})
	if seen != 3 {
		t.Fatalf("got %d visited, want 3", seen)
	}

	var stoppedAt int
	c.ForEach(func(regionIndex int, f Filter) bool {
		stoppedAt++
		return false
	})
	if stoppedAt != 1 {
		t.Fatalf("expected ForEach to stop after first false, got %d", stoppedAt)
	}
}
