// Package snapshot models a captured copy of a target process's memory: the
// current and previous byte buffers for each mapped region, and the read
// phase that refreshes them.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/scanforge/core/internal/memory"
)

// collectChunkSize is the chunk width a failed whole-region read is
// retried at before the region is given up on.
const collectChunkSize = 4096

// ZeroSizedRegionError reports a region whose extent is zero; such a
// region can never have been legally enumerated.
type ZeroSizedRegionError struct {
	Base uint64
}

func (e *ZeroSizedRegionError) Error() string {
	return fmt.Sprintf("snapshot: zero-sized region at %#x", e.Base)
}

// ReadFailedError reports that a region's whole-extent read failed after
// retries, before chunked recovery was attempted.
type ReadFailedError struct {
	Base uint64
	Err  error
}

func (e *ReadFailedError) Error() string {
	return fmt.Sprintf("snapshot: read failed at %#x: %v", e.Base, e.Err)
}

func (e *ReadFailedError) Unwrap() error { return e.Err }

// ChunkReadFailedError reports that the chunked fallback read left gaps,
// citing the first address that could not be read.
type ChunkReadFailedError struct {
	Base               uint64
	FirstFailedAddress uint64
}

func (e *ChunkReadFailedError) Error() string {
	return fmt.Sprintf("snapshot: chunked read at %#x failed first at %#x", e.Base, e.FirstFailedAddress)
}

// Region holds the current and previous byte buffers captured for one
// memory.Region. SetCurrentValues swaps the buffers rather than copying, so
// a scan comparing "current vs previous" never pays for an extra allocation
// on the hot path.
type Region struct {
	region   memory.Region
	current  []byte
	previous []byte
	readErr  error
}

// NewRegion constructs a Region with a zero-filled current buffer sized to
// the normalized region's extent; no previous values exist yet.
func NewRegion(r memory.Region) *Region {
	return &Region{
		region:  r,
		current: make([]byte, r.RegionSize),
	}
}

// BaseAddress returns the region's base address in the target's address
// space.
func (r *Region) BaseAddress() uint64 { return r.region.BaseAddress }

// RegionSize returns the region's size in bytes.
func (r *Region) RegionSize() uint64 { return r.region.RegionSize }

// Current returns the most recently collected byte buffer.
func (r *Region) Current() []byte { return r.current }

// Previous returns the byte buffer collected before the most recent
// CollectValues call. After the first refresh it is the zero-filled
// construction buffer, so both buffers always span the region's extent.
func (r *Region) Previous() []byte { return r.previous }

// ReadError returns the failure recorded by the most recent CollectValues
// call, or nil if that read succeeded. A region with a read error keeps
// its prior buffers, but the scanner drops its filters rather than compare
// stale bytes.
func (r *Region) ReadError() error { return r.readErr }

// SetCurrentValues replaces the current buffer with values, moving the old
// current buffer into previous.
func (r *Region) SetCurrentValues(values []byte) {
	r.previous, r.current = r.current, values
	r.readErr = nil
}

// CollectValues reads the region's full extent from provider into a fresh
// buffer and installs it via SetCurrentValues. The whole-extent read is
// retried with backoff first, since a target can transiently fault a read
// (e.g. a page being swapped in); if it still fails, the region is re-read
// in chunks so a single bad page does not discard the rest. A chunked read
// with gaps records ChunkReadFailedError and keeps the prior buffers.
func (r *Region) CollectValues(ctx context.Context, provider memory.Provider) error {
	if r.region.RegionSize == 0 {
		r.readErr = &ZeroSizedRegionError{Base: r.region.BaseAddress}
		return r.readErr
	}

	buf := make([]byte, r.region.RegionSize)

	op := func() error {
		n, err := provider.ReadMemory(ctx, r.region.BaseAddress, buf, memory.ReadModeStrict)
		if err != nil {
			return err
		}
		if uint64(n) != r.region.RegionSize {
			return fmt.Errorf("short read: got %d of %d bytes", n, r.region.RegionSize)
		}
		return nil
	}

	// Transient faults (a page being swapped in) resolve in well under a
	// millisecond; anything still failing after a few short retries gets
	// the chunked fallback instead of more waiting.
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 50 * time.Millisecond
	bo := backoff.WithMaxRetries(eb, 3)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.collectChunked(ctx, provider, buf)
	}

	r.SetCurrentValues(buf)
	return nil
}

// collectChunked re-reads the region chunk by chunk after the whole-extent
// read failed. If every chunk succeeds the read recovers fully; a failed
// chunk leaves the prior buffers installed and records the first address
// that could not be read.
func (r *Region) collectChunked(ctx context.Context, provider memory.Provider, buf []byte) error {
	for offset := uint64(0); offset < r.region.RegionSize; offset += collectChunkSize {
		end := offset + collectChunkSize
		if end > r.region.RegionSize {
			end = r.region.RegionSize
		}
		chunk := buf[offset:end]
		addr := r.region.BaseAddress + offset
		n, err := provider.ReadMemory(ctx, addr, chunk, memory.ReadModeStrict)
		if err != nil || uint64(n) != end-offset {
			r.readErr = &ChunkReadFailedError{Base: r.region.BaseAddress, FirstFailedAddress: addr}
			return r.readErr
		}
	}
	r.SetCurrentValues(buf)
	return nil
}
