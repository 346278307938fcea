//go:build amd64

package kernel

import "golang.org/x/sys/cpu"

// DetectVectorWidth returns the widest comparison step, in bytes, this host
// can process in one pass. There is no hand-written assembly behind this:
// ScanVector turns the width into a block size for a portable Go loop the
// compiler can vectorize, so a wider width only changes how positions are
// batched before a scalar tail (at most one vector width) replays the
// remainder.
func DetectVectorWidth() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 64
	case cpu.X86.HasAVX2:
		return 32
	case cpu.X86.HasSSE42:
		return 16
	default:
		return 8
	}
}
