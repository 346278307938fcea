//go:build !linux

package memory

import "context"

// fallbackProvider reports NotImplementedError for every operation. Every
// non-Linux build still gets a Provider implementation so callers never
// need a build-tag branch of their own; they get a typed, descriptive
// error instead of a missing symbol.
type fallbackProvider struct{}

// NewLinuxProvider exists on every platform so callers can construct a
// provider without a build-tagged call site; on non-Linux platforms every
// method reports NotImplementedError.
func NewLinuxProvider() Provider {
	return &fallbackProvider{}
}

func (f *fallbackProvider) Open(ctx context.Context, pid int) error {
	return &NotImplementedError{Operation: "Open", Platform: platformName()}
}

func (f *fallbackProvider) Close() error {
	return nil
}

func (f *fallbackProvider) ReadMemory(ctx context.Context, addr uint64, buf []byte, mode ReadMode) (int, error) {
	return 0, &NotImplementedError{Operation: "ReadMemory", Platform: platformName()}
}

func (f *fallbackProvider) WriteMemory(ctx context.Context, addr uint64, buf []byte) (int, error) {
	return 0, &NotImplementedError{Operation: "WriteMemory", Platform: platformName()}
}

func (f *fallbackProvider) QueryRegions(ctx context.Context) ([]Region, error) {
	return nil, &NotImplementedError{Operation: "QueryRegions", Platform: platformName()}
}

func (f *fallbackProvider) EnumerateModules(ctx context.Context) ([]Module, error) {
	return nil, &NotImplementedError{Operation: "EnumerateModules", Platform: platformName()}
}
