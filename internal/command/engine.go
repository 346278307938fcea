package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/filter"
	"github.com/scanforge/core/internal/freeze"
	"github.com/scanforge/core/internal/history"
	"github.com/scanforge/core/internal/memory"
	"github.com/scanforge/core/internal/planner"
	"github.com/scanforge/core/internal/resultindex"
	"github.com/scanforge/core/internal/scanner"
	"github.com/scanforge/core/internal/scanparams"
	"github.com/scanforge/core/internal/settings"
	"github.com/scanforge/core/internal/snapshot"
)

// resultPageCacheSize bounds the per-index LRU page cache Engine builds
// for every ScanResultsQuery rebuild.
const resultPageCacheSize = 64

// Engine holds the single active scan session a command.Dispatch call
// operates on: the attached process, its snapshot, the current filter
// collection, and the materialized result index built from it. One Engine
// serves one attached process at a time.
type Engine struct {
	provider memory.Provider

	mu          sync.Mutex
	processID   int32
	processName string
	modules     []memory.Module // sorted by BaseAddress

	snap      *snapshot.Snapshot
	planner   *planner.Planner
	freeze    *freeze.List
	dataType  datatype.ID
	alignment memory.Alignment

	collection *filter.Collection
	index      *resultindex.Index

	general settings.General
	memory  settings.Memory
	scan    settings.Scan

	eventSink     func(scanner.Event)
	journal       *history.Journal
	recordSession func(context.Context, ScanSessionRecord)
}

// SetEventSink installs a callback that receives every scanner event a
// scan.element pass emits, e.g. to forward into an eventstream.Broadcaster
// or a metrics collector. Pass nil to stop forwarding.
func (e *Engine) SetEventSink(sink func(scanner.Event)) {
	e.mu.Lock()
	e.eventSink = sink
	e.mu.Unlock()
}

// SetHistory installs a provenance journal that records every completed
// scan pass. Pass nil to stop recording.
func (e *Engine) SetHistory(journal *history.Journal) {
	e.mu.Lock()
	e.journal = journal
	e.mu.Unlock()
}

// SetSessionRecorder installs a callback invoked with a summary of every
// completed scan pass, e.g. to persist it to a session ledger. Pass nil to
// stop recording.
func (e *Engine) SetSessionRecorder(rec func(context.Context, ScanSessionRecord)) {
	e.mu.Lock()
	e.recordSession = rec
	e.mu.Unlock()
}

// NewEngine constructs an Engine backed by provider for memory access and
// freezeList for freeze bookkeeping. Settings default to the values the
// internal/settings loaders assign when a settings file is missing.
func NewEngine(provider memory.Provider, freezeList *freeze.List) *Engine {
	return &Engine{
		provider: provider,
		freeze:   freezeList,
		planner:  planner.New(),
		general:  settings.General{LogLevel: "info"},
		memory:   settings.Memory{DefaultAlignment: int(memory.Alignment4)},
		scan:     settings.Scan{FloatTolerance: "1e-3", ResultPageSize: 100, MemoryReadMode: "read_before_scan"},
	}
}

// Dispatch routes req to the operation its Type names and returns the
// matching Response. A failed command leaves Engine state unchanged.
func (e *Engine) Dispatch(ctx context.Context, req Request) Response {
	resp, err := e.dispatch(ctx, req)
	if err != nil {
		return Response{Type: req.Type, Err: err.Error()}
	}
	return Response{Type: req.Type, Payload: resp}
}

func (e *Engine) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Type {
	case TypeProcessOpen:
		p, ok := req.Payload.(*ProcessOpenRequest)
		if !ok {
			return nil, fmt.Errorf("command: process.open: payload must be *ProcessOpenRequest")
		}
		return e.processOpen(ctx, p)

	case TypeProcessClose:
		return e.processClose(ctx)

	case TypeMemoryRead:
		p, ok := req.Payload.(*MemoryReadRequest)
		if !ok {
			return nil, fmt.Errorf("command: memory.read: payload must be *MemoryReadRequest")
		}
		return e.memoryRead(ctx, p)

	case TypeMemoryWrite:
		p, ok := req.Payload.(*MemoryWriteRequest)
		if !ok {
			return nil, fmt.Errorf("command: memory.write: payload must be *MemoryWriteRequest")
		}
		return e.memoryWrite(ctx, p)

	case TypeScanReset:
		return e.scanReset()

	case TypeScanElement:
		p, ok := req.Payload.(*ScanElementRequest)
		if !ok {
			return nil, fmt.Errorf("command: scan.element: payload must be *ScanElementRequest")
		}
		return e.scanElement(ctx, p)

	case TypeScanCollectValues:
		return e.scanCollectValues(ctx)

	case TypeScanResultsQuery:
		p, ok := req.Payload.(*ScanResultsQueryRequest)
		if !ok {
			return nil, fmt.Errorf("command: scan_results.query: payload must be *ScanResultsQueryRequest")
		}
		return e.scanResultsQuery(p)

	case TypeScanResultsRefresh:
		p, ok := req.Payload.(*ScanResultsRefreshRequest)
		if !ok {
			return nil, fmt.Errorf("command: scan_results.refresh: payload must be *ScanResultsRefreshRequest")
		}
		return e.scanResultsRefresh(ctx, p)

	case TypeScanResultsFreeze:
		p, ok := req.Payload.(*ScanResultsFreezeRequest)
		if !ok {
			return nil, fmt.Errorf("command: scan_results.freeze: payload must be *ScanResultsFreezeRequest")
		}
		return e.scanResultsFreeze(p)

	case TypeScanResultsDelete:
		p, ok := req.Payload.(*ScanResultsDeleteRequest)
		if !ok {
			return nil, fmt.Errorf("command: scan_results.delete: payload must be *ScanResultsDeleteRequest")
		}
		return e.scanResultsDelete(p)

	case TypeSettingsGeneralList:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.general, nil

	case TypeSettingsGeneralSet:
		p, ok := req.Payload.(*SettingsGeneralSetRequest)
		if !ok {
			return nil, fmt.Errorf("command: settings.general.set: payload must be *SettingsGeneralSetRequest")
		}
		e.mu.Lock()
		e.general = p.Value
		e.mu.Unlock()
		return p.Value, nil

	case TypeSettingsMemoryList:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.memory, nil

	case TypeSettingsMemorySet:
		p, ok := req.Payload.(*SettingsMemorySetRequest)
		if !ok {
			return nil, fmt.Errorf("command: settings.memory.set: payload must be *SettingsMemorySetRequest")
		}
		e.mu.Lock()
		e.memory = p.Value
		e.mu.Unlock()
		return p.Value, nil

	case TypeSettingsScanList:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.scan, nil

	case TypeSettingsScanSet:
		p, ok := req.Payload.(*SettingsScanSetRequest)
		if !ok {
			return nil, fmt.Errorf("command: settings.scan.set: payload must be *SettingsScanSetRequest")
		}
		e.mu.Lock()
		e.scan = p.Value
		e.mu.Unlock()
		return p.Value, nil

	default:
		return nil, fmt.Errorf("command: unrecognized command type %q", req.Type)
	}
}

func (e *Engine) processOpen(ctx context.Context, req *ProcessOpenRequest) (*ProcessOpenResponse, error) {
	pid := req.ProcessID
	name := ""

	if pid == 0 {
		if req.NameSubstring == "" {
			return nil, fmt.Errorf("command: process.open: one of process_id or name_substring is required")
		}
		procs, err := memory.EnumerateProcesses(ctx)
		if err != nil {
			return nil, fmt.Errorf("command: process.open: %w", err)
		}
		var matches []memory.ProcessInfo
		for _, p := range procs {
			if matchesSubstring(p.Name, req.NameSubstring, req.MatchCase) {
				matches = append(matches, p)
			}
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("command: process.open: no process matching %q", req.NameSubstring)
		case 1:
			pid = matches[0].PID
			name = matches[0].Name
		default:
			return nil, fmt.Errorf("command: process.open: %d processes match %q; ambiguous", len(matches), req.NameSubstring)
		}
	}

	if err := e.provider.Open(ctx, int(pid)); err != nil {
		return nil, fmt.Errorf("command: process.open: %w", err)
	}

	regions, err := e.provider.QueryRegions(ctx)
	if err != nil {
		_ = e.provider.Close()
		return nil, fmt.Errorf("command: process.open: querying regions: %w", err)
	}
	modules, err := e.provider.EnumerateModules(ctx)
	if err != nil {
		_ = e.provider.Close()
		return nil, fmt.Errorf("command: process.open: enumerating modules: %w", err)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].BaseAddress < modules[j].BaseAddress })

	e.mu.Lock()
	e.processID = pid
	e.processName = name
	e.modules = modules
	e.snap = snapshot.New(regions)
	e.collection = nil
	e.index = nil
	e.mu.Unlock()

	return &ProcessOpenResponse{ProcessID: pid, Name: name}, nil
}

func matchesSubstring(haystack, needle string, matchCase bool) bool {
	if matchCase {
		return strings.Contains(haystack, needle)
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (e *Engine) processClose(ctx context.Context) (*ProcessCloseResponse, error) {
	e.mu.Lock()
	pid := e.processID
	e.mu.Unlock()

	if err := e.provider.Close(); err != nil {
		return nil, fmt.Errorf("command: process.close: %w", err)
	}

	e.mu.Lock()
	e.processID = 0
	e.processName = ""
	e.modules = nil
	e.snap = nil
	e.collection = nil
	e.index = nil
	e.mu.Unlock()

	return &ProcessCloseResponse{ProcessID: pid}, nil
}

// resolveAddress resolves address relative to the named module's base, or
// returns it unchanged when moduleName is empty.
func (e *Engine) resolveAddress(address uint64, moduleName string) (uint64, error) {
	if moduleName == "" {
		return address, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.modules {
		if m.Name == moduleName {
			return m.BaseAddress + address, nil
		}
	}
	return 0, fmt.Errorf("command: module %q not found", moduleName)
}

func (e *Engine) memoryRead(ctx context.Context, req *MemoryReadRequest) (*MemoryReadResponse, error) {
	addr, err := e.resolveAddress(req.Address, req.ModuleName)
	if err != nil {
		return nil, err
	}
	if req.Length <= 0 {
		return nil, fmt.Errorf("command: memory.read: length must be positive")
	}

	buf := make([]byte, req.Length)
	n, err := e.provider.ReadMemory(ctx, addr, buf, memory.ReadModeStrict)
	if err != nil || n != req.Length {
		return &MemoryReadResponse{Address: addr, Success: false}, nil
	}
	return &MemoryReadResponse{ValuedStruct: buf, Address: addr, Success: true}, nil
}

func (e *Engine) memoryWrite(ctx context.Context, req *MemoryWriteRequest) (*MemoryWriteResponse, error) {
	addr, err := e.resolveAddress(req.Address, req.ModuleName)
	if err != nil {
		return nil, err
	}
	n, err := e.provider.WriteMemory(ctx, addr, req.ValueBytes)
	if err != nil || n != len(req.ValueBytes) {
		return &MemoryWriteResponse{Success: false}, nil
	}
	return &MemoryWriteResponse{Success: true}, nil
}

func (e *Engine) scanReset() (*ScanResetResponse, error) {
	e.mu.Lock()
	e.collection = nil
	e.index = nil
	e.mu.Unlock()
	// A full reset also empties the freeze list; frozen addresses survive
	// rescans, not resets.
	e.freeze.Reset()
	return &ScanResetResponse{Success: true}, nil
}

func (e *Engine) scanCollectValues(ctx context.Context) (*TaskHandle, error) {
	e.mu.Lock()
	snap := e.snap
	e.mu.Unlock()
	if snap == nil {
		return nil, fmt.Errorf("command: scan.collect_values: no process open")
	}
	if err := snap.CollectAll(ctx, e.provider, 0); err != nil {
		return nil, fmt.Errorf("command: scan.collect_values: %w", err)
	}
	return &TaskHandle{TaskID: "collect-values"}, nil
}

func (e *Engine) scanElement(ctx context.Context, req *ScanElementRequest) (*TaskHandle, error) {
	if len(req.DataTypeIDs) == 0 {
		return nil, fmt.Errorf("command: scan.element: data_type_ids must not be empty")
	}
	dt := req.DataTypeIDs[0]

	e.mu.Lock()
	snap := e.snap
	previous := e.collection
	alignment := e.alignment
	if alignment == 0 {
		alignment = memory.Alignment(e.memory.DefaultAlignment)
	}
	readMode := readModeFromSettings(e.scan)
	tolerance := toleranceFromSettings(e.scan)
	sink := e.eventSink
	pid, name := e.processID, e.processName
	e.mu.Unlock()
	if snap == nil {
		return nil, fmt.Errorf("command: scan.element: no process open")
	}

	var imm, delta *datatype.AnonymousValue
	if req.ScanValue != nil {
		v := datatype.NewAnonymousValue(*req.ScanValue)
		imm = &v
	}
	if req.DeltaValue != nil {
		v := datatype.NewAnonymousValue(*req.DeltaValue)
		delta = &v
	}

	if req.Tolerance != nil {
		tolerance = *req.Tolerance
	}

	params := scanparams.Parameters{
		CompareType:      req.CompareType,
		CompareImmediate: imm,
		CompareDelta:     delta,
		Tolerance:        tolerance,
		ReadMode:         readMode,
		Alignment:        alignment,
	}

	if readMode == scanparams.ReadBeforeScan {
		if err := snap.CollectAll(ctx, e.provider, 0); err != nil {
			return nil, fmt.Errorf("command: scan.element: collecting values: %w", err)
		}
	}

	var scanOpts []scanner.Option
	if readMode == scanparams.ReadInterleaved {
		scanOpts = append(scanOpts, scanner.WithMemoryProvider(e.provider))
	}
	sc := scanner.New(snap, e.planner, dt, alignment, scanOpts...)
	events := sc.Events()
	go func() {
		for evt := range events {
			if sink != nil {
				sink(evt)
			}
		}
	}()
	started := time.Now()
	collection, err := sc.Start(ctx, params, previous)
	if err != nil && (collection == nil || !errors.Is(err, context.Canceled)) {
		return nil, fmt.Errorf("command: scan.element: %w", err)
	}
	// A cancelled pass still installs the filters for whichever regions
	// completed, keeping the index consistent with the partial collection.

	idx, err := resultindex.New(collection, elementSizeOf(dt), int(alignment), resultPageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("command: scan.element: building result index: %w", err)
	}

	e.mu.Lock()
	e.dataType = dt
	e.alignment = alignment
	e.collection = collection
	e.index = idx
	journal := e.journal
	recordSession := e.recordSession
	e.mu.Unlock()

	if journal != nil {
		if _, err := journal.Record(dt, req.CompareType, idx.Len()); err != nil {
			return nil, fmt.Errorf("command: scan.element: recording history: %w", err)
		}
	}
	if recordSession != nil {
		scanValue := ""
		if req.ScanValue != nil {
			scanValue = *req.ScanValue
		}
		recordSession(ctx, ScanSessionRecord{
			ProcessID:   pid,
			ProcessName: name,
			DataType:    dt,
			Alignment:   int(alignment),
			CompareType: req.CompareType,
			ScanValue:   scanValue,
			ResultCount: idx.Len(),
			Duration:    time.Since(started),
			StartedAt:   started,
		})
	}

	return &TaskHandle{TaskID: "scan-element"}, nil
}

// readModeFromSettings maps the persisted scan settings to a
// scanparams.ReadMode, defaulting to ReadBeforeScan for an empty or
// unrecognized value so a half-written settings file cannot silently turn
// reads off.
func readModeFromSettings(s settings.Scan) scanparams.ReadMode {
	rm, err := scanparams.ParseReadMode(s.MemoryReadMode)
	if err != nil {
		return scanparams.ReadBeforeScan
	}
	return rm
}

// toleranceFromSettings maps the persisted float_tolerance spelling to a
// scanparams.Tolerance, defaulting to the package default for an empty or
// unrecognized value.
func toleranceFromSettings(s settings.Scan) scanparams.Tolerance {
	t, err := scanparams.ParseTolerance(s.FloatTolerance)
	if err != nil {
		return scanparams.DefaultTolerance()
	}
	return t
}

func elementSizeOf(id datatype.ID) int {
	dt, err := datatype.Lookup(id)
	if err != nil || dt.FixedSize == 0 {
		return 1
	}
	return dt.FixedSize
}

func (e *Engine) scanResultsQuery(req *ScanResultsQueryRequest) (*ScanResultsQueryResponse, error) {
	e.mu.Lock()
	idx := e.index
	dt := e.dataType
	pageSize := int64(e.scan.ResultPageSize)
	modules := e.modules
	fl := e.freeze
	e.mu.Unlock()

	if pageSize <= 0 {
		pageSize = 100
	}
	if idx == nil {
		return &ScanResultsQueryResponse{}, nil
	}

	total := idx.Len()
	lastPage := total / pageSize
	offset := req.PageIndex * pageSize

	page, err := idx.Page(offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("command: scan_results.query: %w", err)
	}

	results := make([]ScanResult, 0, len(page))
	for _, r := range page {
		region := e.regionAt(r.RegionIndex)
		if region == nil {
			continue
		}
		results = append(results, materializeResult(r.Address, region, dt, modules, fl))
	}

	return &ScanResultsQueryResponse{Results: results, ResultCount: total, LastPageIndex: lastPage}, nil
}

func (e *Engine) regionAt(index int) *snapshot.Region {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil || index < 0 || index >= len(e.snap.Regions) {
		return nil
	}
	return e.snap.Regions[index]
}

// materializeResult builds a display-ready ScanResult for address, reading
// its current/previous bytes out of region's buffers and resolving the
// owning module (if any) by binary search over modules (sorted by
// BaseAddress).
func materializeResult(address uint64, region *snapshot.Region, dt datatype.ID, modules []memory.Module, fl *freeze.List) ScanResult {
	size := elementSizeOf(dt)
	offset := int(address - region.BaseAddress())

	result := ScanResult{Address: address, DataType: dt}
	if cur := region.Current(); offset >= 0 && offset+size <= len(cur) {
		result.CurrentValue = append([]byte(nil), cur[offset:offset+size]...)
	}
	if prev := region.Previous(); offset >= 0 && offset+size <= len(prev) {
		result.PreviousValue = append([]byte(nil), prev[offset:offset+size]...)
	}

	if mod, off, ok := resolveModule(address, modules); ok {
		name := mod
		result.Module = &name
		result.ModuleOffset = off
	}

	if fl != nil {
		for _, entry := range fl.Snapshot() {
			if entry.Address == address {
				result.IsFrozen = true
				break
			}
		}
	}

	return result
}

// resolveModule finds the module containing address via a sorted-by-base
// binary search.
func resolveModule(address uint64, modules []memory.Module) (name string, offset uint64, ok bool) {
	idx := sort.Search(len(modules), func(i int) bool {
		return modules[i].BaseAddress+modules[i].ModuleSize > address
	})
	if idx == len(modules) {
		return "", 0, false
	}
	m := modules[idx]
	if address < m.BaseAddress {
		return "", 0, false
	}
	return m.Name, address - m.BaseAddress, true
}

func (e *Engine) scanResultsRefresh(ctx context.Context, req *ScanResultsRefreshRequest) (*ScanResultsRefreshResponse, error) {
	e.mu.Lock()
	idx := e.index
	dt := e.dataType
	e.mu.Unlock()
	if idx == nil {
		return nil, fmt.Errorf("command: scan_results.refresh: no active scan")
	}

	size := elementSizeOf(dt)
	out := make([][]byte, len(req.Refs))
	for i, ref := range req.Refs {
		r, err := idx.At(ref.ResultIndex)
		if err != nil {
			return nil, fmt.Errorf("command: scan_results.refresh: %w", err)
		}
		buf := make([]byte, size)
		n, err := e.provider.ReadMemory(ctx, r.Address, buf, memory.ReadModeStrict)
		if err != nil || n != size {
			out[i] = nil
			continue
		}
		out[i] = buf
	}
	return &ScanResultsRefreshResponse{CurrentValues: out}, nil
}

func (e *Engine) scanResultsFreeze(req *ScanResultsFreezeRequest) (*struct{}, error) {
	e.mu.Lock()
	idx := e.index
	dt := e.dataType
	e.mu.Unlock()
	if idx == nil {
		return nil, fmt.Errorf("command: scan_results.freeze: no active scan")
	}

	for _, ref := range req.Refs {
		r, err := idx.At(ref.ResultIndex)
		if err != nil {
			return nil, fmt.Errorf("command: scan_results.freeze: %w", err)
		}
		if !req.IsFrozen {
			e.freeze.Clear(r.Address)
			continue
		}
		region := e.regionAt(r.RegionIndex)
		if region == nil {
			continue
		}
		size := elementSizeOf(dt)
		offset := int(r.Address - region.BaseAddress())
		cur := region.Current()
		if offset < 0 || offset+size > len(cur) {
			continue
		}
		e.freeze.Set(r.Address, cur[offset:offset+size])
	}
	return &struct{}{}, nil
}

func (e *Engine) scanResultsDelete(req *ScanResultsDeleteRequest) (*struct{}, error) {
	e.mu.Lock()
	idx := e.index
	e.mu.Unlock()
	if idx == nil {
		return nil, fmt.Errorf("command: scan_results.delete: no active scan")
	}
	for _, ref := range req.Refs {
		r, err := idx.At(ref.ResultIndex)
		if err != nil {
			return nil, fmt.Errorf("command: scan_results.delete: %w", err)
		}
		// See ScanResultsDeleteRequest's doc comment: filters are immutable
		// once produced, so deleting a single element mid-filter is not
		// supported. Clearing any freeze on the address is the one
		// observable effect this implementation commits to.
		e.freeze.Clear(r.Address)
	}
	return &struct{}{}, nil
}
