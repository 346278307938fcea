//go:build linux

package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// LinuxProvider reads and writes target process memory via
// process_vm_readv/writev and enumerates regions by parsing
// /proc/<pid>/maps, the same style the rest of this module's platform code
// uses for /proc-backed data.
type LinuxProvider struct {
	pid int
}

// NewLinuxProvider constructs an unattached provider. Call Open before
// issuing any memory operation.
func NewLinuxProvider() *LinuxProvider {
	return &LinuxProvider{}
}

func (p *LinuxProvider) Open(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("memory: invalid pid %d", pid)
	}
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return fmt.Errorf("memory: process %d not found: %w", pid, err)
	}
	p.pid = pid
	return nil
}

func (p *LinuxProvider) Close() error {
	p.pid = 0
	return nil
}

func (p *LinuxProvider) ReadMemory(ctx context.Context, addr uint64, buf []byte, mode ReadMode) (int, error) {
	if p.pid == 0 {
		return 0, fmt.Errorf("memory: provider not open")
	}

	var n int
	op := func() error {
		localIov := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
		remoteIov := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
		read, err := unix.ProcessVMReadv(p.pid, localIov, remoteIov, 0)
		if err != nil {
			if mode == ReadModeSkipInaccessible {
				n = 0
				return nil
			}
			return fmt.Errorf("memory: process_vm_readv pid=%d addr=%#x: %w", p.pid, addr, err)
		}
		n = read
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *LinuxProvider) WriteMemory(ctx context.Context, addr uint64, buf []byte) (int, error) {
	if p.pid == 0 {
		return 0, fmt.Errorf("memory: provider not open")
	}
	if len(buf) == 0 {
		return 0, nil
	}
	localIov := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remoteIov := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMWritev(p.pid, localIov, remoteIov, 0)
	if err != nil {
		return 0, fmt.Errorf("memory: process_vm_writev pid=%d addr=%#x: %w", p.pid, addr, err)
	}
	return n, nil
}

func (p *LinuxProvider) QueryRegions(ctx context.Context) ([]Region, error) {
	if p.pid == 0 {
		return nil, fmt.Errorf("memory: provider not open")
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, fmt.Errorf("memory: cannot open maps for pid=%d: %w", p.pid, err)
	}
	defer f.Close()

	var regions []Region
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		region, ok := parseMapsLine(scanner.Text())
		if ok {
			regions = append(regions, region)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("memory: error reading maps for pid=%d: %w", p.pid, err)
	}
	return regions, nil
}

func parseMapsLine(line string) (Region, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Region{}, false
	}
	addrRange := strings.Split(fields[0], "-")
	if len(addrRange) != 2 {
		return Region{}, false
	}
	start, err := strconv.ParseUint(addrRange[0], 16, 64)
	if err != nil {
		return Region{}, false
	}
	end, err := strconv.ParseUint(addrRange[1], 16, 64)
	if err != nil {
		return Region{}, false
	}
	perms := fields[1]
	return Region{
		BaseAddress: start,
		RegionSize:  end - start,
		Readable:    strings.Contains(perms, "r"),
		Writable:    strings.Contains(perms, "w"),
		Executable:  strings.Contains(perms, "x"),
	}, true
}

func (p *LinuxProvider) EnumerateModules(ctx context.Context) ([]Module, error) {
	if p.pid == 0 {
		return nil, fmt.Errorf("memory: provider not open")
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, fmt.Errorf("memory: cannot open maps for pid=%d: %w", p.pid, err)
	}
	defer f.Close()

	seen := map[string]*Module{}
	var order []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		path := fields[5]
		if path == "" || strings.HasPrefix(path, "[") {
			continue
		}
		region, ok := parseMapsLine(scanner.Text())
		if !ok {
			continue
		}
		m, exists := seen[path]
		if !exists {
			m = &Module{Name: baseName(path), PathOnDisk: path, BaseAddress: region.BaseAddress}
			seen[path] = m
			order = append(order, path)
		}
		end := region.EndAddress()
		if end > m.BaseAddress+m.ModuleSize {
			m.ModuleSize = end - m.BaseAddress
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("memory: error reading maps for pid=%d: %w", p.pid, err)
	}

	modules := make([]Module, 0, len(order))
	for _, path := range order {
		modules = append(modules, *seen[path])
	}
	return modules, nil
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
