package command

import (
	"context"
	"errors"
	"testing"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/freeze"
	"github.com/scanforge/core/internal/memory"
	"github.com/scanforge/core/internal/scanparams"
	"github.com/scanforge/core/internal/settings"
)

// fakeProvider is an in-memory memory.Provider backing one contiguous
// region, enough to exercise Engine.Dispatch without a real target process.
type fakeProvider struct {
	opened  bool
	region  memory.Region
	modules []memory.Module
	buf     []byte
}

func newFakeProvider(base uint64, buf []byte) *fakeProvider {
	return &fakeProvider{
		region: memory.Region{BaseAddress: base, RegionSize: uint64(len(buf)), Readable: true, Writable: true},
		buf:    buf,
	}
}

func (p *fakeProvider) Open(ctx context.Context, pid int) error { p.opened = true; return nil }
func (p *fakeProvider) Close() error { p.opened = false; return nil }

func (p *fakeProvider) ReadMemory(ctx context.Context, addr uint64, out []byte, mode memory.ReadMode) (int, error) {
	start := addr - p.region.BaseAddress
	n := copy(out, p.buf[start:])
	return n, nil
}

func (p *fakeProvider) WriteMemory(ctx context.Context, addr uint64, in []byte) (int, error) {
	start := addr - p.region.BaseAddress
	n := copy(p.buf[start:], in)
	return n, nil
}

func (p *fakeProvider) QueryRegions(ctx context.Context) ([]memory.Region, error) {
	return []memory.Region{p.region}, nil
}

func (p *fakeProvider) EnumerateModules(ctx context.Context) ([]memory.Module, error) {
	return p.modules, nil
}

func encodeI32(n int32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func TestEngineOpenScanAndQuery(t *testing.T) {
	buf := append(append(append(encodeI32(1), encodeI32(42)...), encodeI32(3)...), encodeI32(42)...)
	provider := newFakeProvider(0x1000, buf)
	e := NewEngine(provider, freeze.NewList())

	openResp := e.Dispatch(context.Background(), Request{
		Type:    TypeProcessOpen,
		Payload: &ProcessOpenRequest{ProcessID: 123},
	})
	if openResp.Err != "" {
		t.Fatalf("process.open: %v", openResp.Err)
	}

	val := "42"
	scanResp := e.Dispatch(context.Background(), Request{
		Type: TypeScanElement,
		Payload: &ScanElementRequest{
			ScanValue:   &val,
			DataTypeIDs: []datatype.ID{datatype.I32},
			CompareType: scanparams.Equal,
		},
	})
	if scanResp.Err != "" {
		t.Fatalf("scan.element: %v", scanResp.Err)
	}

	queryResp := e.Dispatch(context.Background(), Request{
		Type:    TypeScanResultsQuery,
		Payload: &ScanResultsQueryRequest{PageIndex: 0},
	})
	if queryResp.Err != "" {
		t.Fatalf("scan_results.query: %v", queryResp.Err)
	}
	page, ok := queryResp.Payload.(*ScanResultsQueryResponse)
	if !ok {
		t.Fatalf("payload type = %T, want *ScanResultsQueryResponse", queryResp.Payload)
	}
	if page.ResultCount != 2 {
		t.Fatalf("ResultCount = %d, want 2", page.ResultCount)
	}
	if len(page.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(page.Results))
	}
	if page.Results[0].Address != 0x1004 || page.Results[1].Address != 0x100c {
		t.Fatalf("unexpected result addresses: %#x, %#x", page.Results[0].Address, page.Results[1].Address)
	}
}

func TestEngineRejectsUnknownCommandType(t *testing.T) {
	e := NewEngine(newFakeProvider(0x1000, make([]byte, 4)), freeze.NewList())
	resp := e.Dispatch(context.Background(), Request{Type: Type("bogus")})
	if resp.Err == "" {
		t.Fatal("expected error for unrecognized command type")
	}
}

func TestEngineFreezeAndUnfreeze(t *testing.T) {
	buf := encodeI32(42)
	provider := newFakeProvider(0x2000, buf)
	e := NewEngine(provider, freeze.NewList())

	if resp := e.Dispatch(context.Background(), Request{Type: TypeProcessOpen, Payload: &ProcessOpenRequest{ProcessID: 1}}); resp.Err != "" {
		t.Fatalf("process.open: %v", resp.Err)
	}

	val := "42"
	if resp := e.Dispatch(context.Background(), Request{
		Type: TypeScanElement,
		Payload: &ScanElementRequest{
			ScanValue:   &val,
			DataTypeIDs: []datatype.ID{datatype.I32},
			CompareType: scanparams.Equal,
		},
	}); resp.Err != "" {
		t.Fatalf("scan.element: %v", resp.Err)
	}

	freezeResp := e.Dispatch(context.Background(), Request{
		Type:    TypeScanResultsFreeze,
		Payload: &ScanResultsFreezeRequest{Refs: []ScanResultRef{{ResultIndex: 0}}, IsFrozen: true},
	})
	if freezeResp.Err != "" {
		t.Fatalf("scan_results.freeze: %v", freezeResp.Err)
	}

	if len(e.freeze.Snapshot()) != 1 {
		t.Fatalf("expected one frozen entry, got %d", len(e.freeze.Snapshot()))
	}

	unfreezeResp := e.Dispatch(context.Background(), Request{
		Type:    TypeScanResultsFreeze,
		Payload: &ScanResultsFreezeRequest{Refs: []ScanResultRef{{ResultIndex: 0}}, IsFrozen: false},
	})
	if unfreezeResp.Err != "" {
		t.Fatalf("scan_results.freeze (unfreeze): %v", unfreezeResp.Err)
	}
	if len(e.freeze.Snapshot()) != 0 {
		t.Fatalf("expected no frozen entries after unfreeze, got %d", len(e.freeze.Snapshot()))
	}
}

// TestEngineScanResetClearsFreezeList: frozen addresses survive rescans but
// a full reset empties the freeze list along with the scan state.
func TestEngineScanResetClearsFreezeList(t *testing.T) {
	buf := encodeI32(42)
	provider := newFakeProvider(0x3000, buf)
	e := NewEngine(provider, freeze.NewList())

	if resp := e.Dispatch(context.Background(), Request{Type: TypeProcessOpen, Payload: &ProcessOpenRequest{ProcessID: 7}}); resp.Err != "" {
		t.Fatalf("process.open: %v", resp.Err)
	}

	val := "42"
	if resp := e.Dispatch(context.Background(), Request{
		Type: TypeScanElement,
		Payload: &ScanElementRequest{
			ScanValue:   &val,
			DataTypeIDs: []datatype.ID{datatype.I32},
			CompareType: scanparams.Equal,
		},
	}); resp.Err != "" {
		t.Fatalf("scan.element: %v", resp.Err)
	}

	if resp := e.Dispatch(context.Background(), Request{
		Type:    TypeScanResultsFreeze,
		Payload: &ScanResultsFreezeRequest{Refs: []ScanResultRef{{ResultIndex: 0}}, IsFrozen: true},
	}); resp.Err != "" {
		t.Fatalf("scan_results.freeze: %v", resp.Err)
	}
	if len(e.freeze.Snapshot()) != 1 {
		t.Fatalf("expected one frozen entry before reset, got %d", len(e.freeze.Snapshot()))
	}

	resetResp := e.Dispatch(context.Background(), Request{Type: TypeScanReset})
	if resetResp.Err != "" {
		t.Fatalf("scan.reset: %v", resetResp.Err)
	}
	if len(e.freeze.Snapshot()) != 0 {
		t.Fatalf("expected the freeze list emptied by scan.reset, got %d entries", len(e.freeze.Snapshot()))
	}

	queryResp := e.Dispatch(context.Background(), Request{Type: TypeScanResultsQuery, Payload: &ScanResultsQueryRequest{PageIndex: 0}})
	if queryResp.Err != "" {
		t.Fatalf("scan_results.query: %v", queryResp.Err)
	}
	if page := queryResp.Payload.(*ScanResultsQueryResponse); page.ResultCount != 0 {
		t.Fatalf("expected no results after reset, got %d", page.ResultCount)
	}
}

func TestEngineSettingsRoundTrip(t *testing.T) {
	e := NewEngine(newFakeProvider(0x1000, make([]byte, 4)), freeze.NewList())

	setResp := e.Dispatch(context.Background(), Request{
		Type:    TypeSettingsScanSet,
		Payload: &SettingsScanSetRequest{Value: e.scan},
	})
	if setResp.Err != "" {
		t.Fatalf("settings.scan.set: %v", setResp.Err)
	}

	listResp := e.Dispatch(context.Background(), Request{Type: TypeSettingsScanList})
	if listResp.Err != "" {
		t.Fatalf("settings.scan.list: %v", listResp.Err)
	}
}

// multiRegionProvider backs several regions, optionally denying reads on
// some of them.
type multiRegionProvider struct {
	regions []memory.Region
	data    map[uint64][]byte
	deny    map[uint64]bool
}

func (p *multiRegionProvider) Open(ctx context.Context, pid int) error { return nil }
func (p *multiRegionProvider) Close() error { return nil }

func (p *multiRegionProvider) ReadMemory(ctx context.Context, addr uint64, out []byte, mode memory.ReadMode) (int, error) {
	for base, buf := range p.data {
		if addr >= base && addr < base+uint64(len(buf)) {
			if p.deny[base] {
				return 0, errors.New("read denied")
			}
			return copy(out, buf[addr-base:]), nil
		}
	}
	return 0, errors.New("unmapped")
}

func (p *multiRegionProvider) WriteMemory(ctx context.Context, addr uint64, in []byte) (int, error) {
	return len(in), nil
}

func (p *multiRegionProvider) QueryRegions(ctx context.Context) ([]memory.Region, error) {
	return p.regions, nil
}

func (p *multiRegionProvider) EnumerateModules(ctx context.Context) ([]memory.Module, error) {
	return nil, nil
}

// TestEngineScanSurvivesRegionReadFailure: one unreadable region drops only
// its own candidates; the scan still completes over the readable region.
func TestEngineScanSurvivesRegionReadFailure(t *testing.T) {
	good := append(encodeI32(42), encodeI32(1)...)
	bad := append(encodeI32(42), encodeI32(42)...)
	provider := &multiRegionProvider{
		regions: []memory.Region{
			{BaseAddress: 0x1000, RegionSize: 8, Readable: true},
			{BaseAddress: 0x2000, RegionSize: 8, Readable: true},
		},
		data: map[uint64][]byte{0x1000: good, 0x2000: bad},
		deny: map[uint64]bool{0x2000: true},
	}
	e := NewEngine(provider, freeze.NewList())

	if resp := e.Dispatch(context.Background(), Request{Type: TypeProcessOpen, Payload: &ProcessOpenRequest{ProcessID: 9}}); resp.Err != "" {
		t.Fatalf("process.open: %v", resp.Err)
	}

	val := "42"
	if resp := e.Dispatch(context.Background(), Request{
		Type: TypeScanElement,
		Payload: &ScanElementRequest{
			ScanValue:   &val,
			DataTypeIDs: []datatype.ID{datatype.I32},
			CompareType: scanparams.Equal,
		},
	}); resp.Err != "" {
		t.Fatalf("scan.element: %v", resp.Err)
	}

	resp := e.Dispatch(context.Background(), Request{Type: TypeScanResultsQuery, Payload: &ScanResultsQueryRequest{PageIndex: 0}})
	if resp.Err != "" {
		t.Fatalf("scan_results.query: %v", resp.Err)
	}
	page := resp.Payload.(*ScanResultsQueryResponse)
	if page.ResultCount != 1 {
		t.Fatalf("ResultCount = %d, want 1 (unreadable region dropped)", page.ResultCount)
	}
	if page.Results[0].Address != 0x1000 {
		t.Fatalf("address = %#x, want 0x1000", page.Results[0].Address)
	}
}

// TestEnginePagingBeyondEnd: 57 results at a page size of 22 yield pages of
// 22, 22, 13, then empty, with last_page_index = 2.
func TestEnginePagingBeyondEnd(t *testing.T) {
	buf := make([]byte, 57)
	for i := range buf {
		buf[i] = 7
	}
	provider := newFakeProvider(0x1000, buf)
	e := NewEngine(provider, freeze.NewList())

	if resp := e.Dispatch(context.Background(), Request{Type: TypeProcessOpen, Payload: &ProcessOpenRequest{ProcessID: 3}}); resp.Err != "" {
		t.Fatalf("process.open: %v", resp.Err)
	}
	if resp := e.Dispatch(context.Background(), Request{
		Type:    TypeSettingsMemorySet,
		Payload: &SettingsMemorySetRequest{Value: settings.Memory{DefaultAlignment: 1}},
	}); resp.Err != "" {
		t.Fatalf("settings.memory.set: %v", resp.Err)
	}
	if resp := e.Dispatch(context.Background(), Request{
		Type:    TypeSettingsScanSet,
		Payload: &SettingsScanSetRequest{Value: settings.Scan{ResultPageSize: 22}},
	}); resp.Err != "" {
		t.Fatalf("settings.scan.set: %v", resp.Err)
	}

	val := "7"
	if resp := e.Dispatch(context.Background(), Request{
		Type: TypeScanElement,
		Payload: &ScanElementRequest{
			ScanValue:   &val,
			DataTypeIDs: []datatype.ID{datatype.U8},
			CompareType: scanparams.Equal,
		},
	}); resp.Err != "" {
		t.Fatalf("scan.element: %v", resp.Err)
	}

	wantLens := []int{22, 22, 13, 0}
	for pageIndex, wantLen := range wantLens {
		resp := e.Dispatch(context.Background(), Request{
			Type:    TypeScanResultsQuery,
			Payload: &ScanResultsQueryRequest{PageIndex: int64(pageIndex)},
		})
		if resp.Err != "" {
			t.Fatalf("page %d: %v", pageIndex, resp.Err)
		}
		page := resp.Payload.(*ScanResultsQueryResponse)
		if len(page.Results) != wantLen {
			t.Fatalf("page %d: got %d results, want %d", pageIndex, len(page.Results), wantLen)
		}
		if page.ResultCount != 57 {
			t.Fatalf("page %d: ResultCount = %d, want 57", pageIndex, page.ResultCount)
		}
		if page.LastPageIndex != 2 {
			t.Fatalf("page %d: LastPageIndex = %d, want 2", pageIndex, page.LastPageIndex)
		}
	}
}
