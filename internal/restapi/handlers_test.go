package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scanforge/core/internal/command"
	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/freeze"
	"github.com/scanforge/core/internal/memory"
	"github.com/scanforge/core/internal/scanparams"
)

// fakeProvider is a minimal memory.Provider backing one region, enough to
// drive Engine.Dispatch through this package's handlers.
type fakeProvider struct {
	region memory.Region
	buf    []byte
}

func newFakeProvider(base uint64, buf []byte) *fakeProvider {
	return &fakeProvider{region: memory.Region{BaseAddress: base, RegionSize: uint64(len(buf))}, buf: buf}
}

func (p *fakeProvider) Open(context.Context, int) error { return nil }
func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) ReadMemory(_ context.Context, addr uint64, out []byte, _ memory.ReadMode) (int, error) {
	start := addr - p.region.BaseAddress
	return copy(out, p.buf[start:]), nil
}

func (p *fakeProvider) WriteMemory(_ context.Context, addr uint64, in []byte) (int, error) {
	start := addr - p.region.BaseAddress
	return copy(p.buf[start:], in), nil
}

func (p *fakeProvider) QueryRegions(context.Context) ([]memory.Region, error) {
	return []memory.Region{p.region}, nil
}

func (p *fakeProvider) EnumerateModules(context.Context) ([]memory.Module, error) { return nil, nil }

func encodeI32(n int32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	buf := append(encodeI32(1), encodeI32(42)...)
	e := command.NewEngine(newFakeProvider(0x1000, buf), freeze.NewList())

	if resp := e.Dispatch(context.Background(), command.Request{
		Type:    command.TypeProcessOpen,
		Payload: &command.ProcessOpenRequest{ProcessID: 1},
	}); resp.Err != "" {
		t.Fatalf("process.open: %v", resp.Err)
	}

	val := "42"
	if resp := e.Dispatch(context.Background(), command.Request{
		Type: command.TypeScanElement,
		Payload: &command.ScanElementRequest{
			ScanValue:   &val,
			DataTypeIDs: []datatype.ID{datatype.I32},
			CompareType: scanparams.Equal,
		},
	}); resp.Err != "" {
		t.Fatalf("scan.element: %v", resp.Err)
	}

	noProcs := func(context.Context) ([]memory.ProcessInfo, error) { return nil, nil }
	srv := NewServer(e, noProcs)
	return NewRouter(srv, nil)
}

func TestHandleHealthzReturns200(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

func TestHandleGetScanResultsReturns200WithPage(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scan-results?page=0", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body)
	}
	var page command.ScanResultsQueryResponse
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if page.ResultCount != 1 {
		t.Fatalf("ResultCount = %d, want 1", page.ResultCount)
	}
}

func TestHandleGetScanResultsInvalidPageReturns400(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scan-results?page=-1", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetProcessesReturnsEmptyArray(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/processes", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var procs []memory.ProcessInfo
	if err := json.NewDecoder(rec.Body).Decode(&procs); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if len(procs) != 0 {
		t.Errorf("expected empty array, got %v", procs)
	}
}
