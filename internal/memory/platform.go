package memory

import "runtime"

func platformName() string {
	return runtime.GOOS
}
