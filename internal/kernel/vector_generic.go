//go:build !amd64

package kernel

// DetectVectorWidth falls back to a single machine word on platforms this
// module has no cpu-feature table for.
func DetectVectorWidth() int {
	return 8
}
