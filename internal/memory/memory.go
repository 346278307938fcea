// Package memory defines the MemoryProvider abstraction the scan core reads
// and writes target process memory through, and the normalized address
// space types every other package builds on.
package memory

import (
	"context"
	"fmt"
)

// Alignment constrains candidate addresses a scan considers to multiples of
// the given byte count. Alignment1 considers every byte offset; wider
// alignments skip offsets a data type could never legally start at on the
// target platform.
type Alignment int

const (
	Alignment1 Alignment = 1
	Alignment2 Alignment = 2
	Alignment4 Alignment = 4
	Alignment8 Alignment = 8
)

// ReadMode controls how a provider behaves when part of a requested range
// is not currently resident or accessible.
type ReadMode int

const (
	// ReadModeStrict fails the whole read if any byte is inaccessible.
	ReadModeStrict ReadMode = iota
	// ReadModeSkipInaccessible does not fail on an inaccessible range: the
	// read returns the count of bytes it could read (zero when the read
	// faulted) and a nil error. Which sub-ranges were readable is not
	// reported.
	ReadModeSkipInaccessible
)

// Region is a contiguous, page-aligned span of the target's virtual
// address space, as reported by the platform's memory map.
type Region struct {
	BaseAddress uint64
	RegionSize  uint64
	Readable    bool
	Writable    bool
	Executable  bool
}

// EndAddress returns the exclusive upper bound of the region.
func (r Region) EndAddress() uint64 {
	return r.BaseAddress + r.RegionSize
}

// Contains reports whether addr falls within [BaseAddress, EndAddress).
func (r Region) Contains(addr uint64) bool {
	return addr >= r.BaseAddress && addr < r.EndAddress()
}

// Module is a loaded module (executable or shared library) mapped into the
// target's address space.
type Module struct {
	Name        string
	PathOnDisk  string
	BaseAddress uint64
	ModuleSize  uint64
}

// Provider is the interface the scan core consumes to interact with a
// target process. Platform-specific enumeration syscalls live behind this
// interface; the core never issues them directly.
type Provider interface {
	// Open attaches the provider to the process identified by pid.
	Open(ctx context.Context, pid int) error
	// Close detaches from the process, releasing any OS handles.
	Close() error

	// ReadMemory reads len(buf) bytes starting at addr into buf, returning
	// the number of bytes actually read. Behavior on a partially
	// inaccessible range is governed by mode.
	ReadMemory(ctx context.Context, addr uint64, buf []byte, mode ReadMode) (int, error)
	// WriteMemory writes buf to addr, returning the number of bytes
	// actually written.
	WriteMemory(ctx context.Context, addr uint64, buf []byte) (int, error)

	// QueryRegions returns the full set of regions currently mapped into
	// the target's address space.
	QueryRegions(ctx context.Context) ([]Region, error)
	// EnumerateModules returns the modules currently loaded into the
	// target's address space.
	EnumerateModules(ctx context.Context) ([]Module, error)
}

// NotImplementedError reports an operation unsupported on the current
// platform or by the current provider.
type NotImplementedError struct {
	Operation string
	Platform  string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("memory: %s not implemented on %s", e.Operation, e.Platform)
}
