package memory

import (
	"context"
	"fmt"

	gopsutil "github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo describes one attach candidate, independent of any provider.
type ProcessInfo struct {
	PID  int32
	Name string
	Exe  string
}

// EnumerateProcesses lists attach candidates on the current host. Process
// enumeration for display is explicitly out of scope for this module; this
// exists only so the scan core (and its cmd/ entrypoint) can resolve a
// human-supplied process name to a pid without depending on a UI layer.
func EnumerateProcesses(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := gopsutil.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: enumerate processes: %w", err)
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		out = append(out, ProcessInfo{PID: p.Pid, Name: name, Exe: exe})
	}
	return out, nil
}
