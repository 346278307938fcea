package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/scanforge/core/internal/command"
	"github.com/scanforge/core/internal/memory"
)

// Server holds the dependencies the read-only REST handlers need: the
// engine backing scan-result paging, and a process lister independent of
// any attached process.
type Server struct {
	engine    *command.Engine
	listProcs func(ctx context.Context) ([]memory.ProcessInfo, error)
}

// NewServer creates a Server backed by engine. listProcs defaults to
// memory.EnumerateProcesses when nil.
func NewServer(engine *command.Engine, listProcs func(ctx context.Context) ([]memory.ProcessInfo, error)) *Server {
	if listProcs == nil {
		listProcs = memory.EnumerateProcesses
	}
	return &Server{engine: engine, listProcs: listProcs}
}

// handleHealthz responds to GET /healthz with HTTP 200 and a JSON liveness
// body, requiring no authentication so orchestrators can probe it freely.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleGetScanResults responds to GET /api/v1/scan-results.
//
// Supported query parameters:
//
//	page – zero-indexed page number (default 0)
//
// Returns HTTP 200 with the page's results, total count, and last page
// index on success; HTTP 400 on a malformed page parameter; HTTP 500 if the
// dispatch itself fails.
func (s *Server) handleGetScanResults(w http.ResponseWriter, r *http.Request) {
	page := int64(0)
	if raw := r.URL.Query().Get("page"); raw != "" {
		p, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || p < 0 {
			writeError(w, http.StatusBadRequest, "'page' must be a non-negative integer")
			return
		}
		page = p
	}

	resp := s.engine.Dispatch(r.Context(), command.Request{
		Type:    command.TypeScanResultsQuery,
		Payload: &command.ScanResultsQueryRequest{PageIndex: page},
	})
	if resp.Err != "" {
		writeError(w, http.StatusInternalServerError, resp.Err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp.Payload)
}

// handleGetProcesses responds to GET /api/v1/processes with the current
// host's attach-candidate processes, ordered however the underlying
// enumeration returns them. Sorting and display are the caller's concern.
func (s *Server) handleGetProcesses(w http.ResponseWriter, r *http.Request) {
	procs, err := s.listProcs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enumerate processes")
		return
	}
	if procs == nil {
		procs = []memory.ProcessInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(procs)
}
