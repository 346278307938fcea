// Package command implements the request/response envelope and dispatcher
// the scan core exposes to its callers, implemented only far enough to
// give this module's own cmd/ entrypoint and internal/wire framing
// something concrete to invoke and test against. Required fields are
// checked before acting; a malformed request yields a typed error, never a
// panic.
package command

import (
	"time"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/scanparams"
	"github.com/scanforge/core/internal/settings"
)

// Type identifies which operation a Request/Response envelope carries.
type Type string

const (
	TypeProcessOpen  Type = "process.open"
	TypeProcessClose Type = "process.close"

	TypeMemoryRead  Type = "memory.read"
	TypeMemoryWrite Type = "memory.write"

	TypeScanReset         Type = "scan.reset"
	TypeScanElement       Type = "scan.element"
	TypeScanCollectValues Type = "scan.collect_values"

	TypeScanResultsQuery   Type = "scan_results.query"
	TypeScanResultsRefresh Type = "scan_results.refresh"
	TypeScanResultsFreeze  Type = "scan_results.freeze"
	TypeScanResultsDelete  Type = "scan_results.delete"

	TypeSettingsGeneralList Type = "settings.general.list"
	TypeSettingsGeneralSet  Type = "settings.general.set"
	TypeSettingsMemoryList  Type = "settings.memory.list"
	TypeSettingsMemorySet   Type = "settings.memory.set"
	TypeSettingsScanList    Type = "settings.scan.list"
	TypeSettingsScanSet     Type = "settings.scan.set"
)

// Request is the envelope every command Dispatch call receives. Payload
// must hold the concrete *Request struct matching Type (e.g.
// *ProcessOpenRequest for TypeProcessOpen); Dispatch type-asserts it.
type Request struct {
	Type    Type
	Payload any
}

// Response is the envelope Dispatch returns. Err is non-empty (and Payload
// nil) when the command failed; a failed command never mutates engine
// state.
type Response struct {
	Type    Type
	Payload any
	Err     string
}

// ProcessOpenRequest resolves a target process either by pid or by a
// case-sensitive-or-insensitive name substring match.
type ProcessOpenRequest struct {
	ProcessID     int32
	NameSubstring string
	MatchCase     bool
}

// ProcessOpenResponse describes the process the engine attached to.
type ProcessOpenResponse struct {
	ProcessID int32
	Name      string
}

// ProcessCloseResponse echoes the descriptor that was closed.
type ProcessCloseResponse struct {
	ProcessID int32
}

// MemoryReadRequest reads Length bytes at Address (resolved relative to
// ModuleName's base when non-empty). SymbolicStructDefinition and
// SuppressLogging are accepted for wire-shape compatibility with callers
// that send them; this module's read path does not interpret struct
// layouts beyond a flat byte span, so SymbolicStructDefinition is ignored
// and the response carries only the raw bytes read.
type MemoryReadRequest struct {
	Address                  uint64
	ModuleName               string
	Length                   int
	SymbolicStructDefinition string
	SuppressLogging          bool
}

// MemoryReadResponse carries the bytes read (nil on failure) and whether
// the read succeeded. A failed read is never partial: ValuedStruct is nil
// unless Success is true.
type MemoryReadResponse struct {
	ValuedStruct []byte
	Address      uint64
	Success      bool
}

// MemoryWriteRequest writes ValueBytes to Address (resolved relative to
// ModuleName's base when non-empty).
type MemoryWriteRequest struct {
	Address    uint64
	ModuleName string
	ValueBytes []byte
}

// MemoryWriteResponse reports whether the write succeeded.
type MemoryWriteResponse struct {
	Success bool
}

// ScanResetResponse reports whether the engine's scan state (filter
// collection, result index, freeze list) was cleared. The scan history
// journal is not touched.
type ScanResetResponse struct {
	Success bool
}

// ScanElementRequest configures and runs one scan pass. ScanValue is the
// anonymous literal to deanonymize against DataTypeIDs[0] (Immediate
// compares only; nil for Relative compares). DeltaValue is the delta
// magnitude for IncreasedByX/DecreasedByX compares. Only the first entry of
// DataTypeIDs is scanned by this engine; a multi-type simultaneous scan is
// not implemented.
type ScanElementRequest struct {
	ScanValue   *string
	DataTypeIDs []datatype.ID
	CompareType scanparams.CompareType
	DeltaValue  *string
	// Tolerance overrides the persisted scan settings' float_tolerance for
	// this pass; nil applies the settings value.
	Tolerance *scanparams.Tolerance
}

// TaskHandle identifies a (synchronously executed, in this implementation)
// unit of work a caller can correlate with its eventual completion event.
type TaskHandle struct {
	TaskID string
}

// ScanSessionRecord summarizes one completed scan pass for a session
// recorder installed via Engine.SetSessionRecorder.
type ScanSessionRecord struct {
	ProcessID   int32
	ProcessName string
	DataType    datatype.ID
	Alignment   int
	CompareType scanparams.CompareType
	ScanValue   string
	ResultCount int64
	Duration    time.Duration
	StartedAt   time.Time
}

// ScanResultRef identifies one surviving element by its linear result
// ordinal, the same index ScanResultsQuery pages over.
type ScanResultRef struct {
	ResultIndex int64
}

// ScanResult is one materialized, display-ready surviving element.
type ScanResult struct {
	Address           uint64
	Module            *string
	ModuleOffset      uint64
	DataType          datatype.ID
	CurrentValue      []byte
	PreviousValue     []byte
	RecentlyReadValue []byte
	IsFrozen          bool
}

// ScanResultsQueryRequest pages through the current result index.
type ScanResultsQueryRequest struct {
	PageIndex int64
}

// ScanResultsQueryResponse is one page of materialized results.
type ScanResultsQueryResponse struct {
	Results       []ScanResult
	ResultCount   int64
	LastPageIndex int64
}

// ScanResultsRefreshRequest re-reads the current bytes backing each ref
// from the live target without running a new scan pass.
type ScanResultsRefreshRequest struct {
	Refs []ScanResultRef
}

// ScanResultsRefreshResponse carries the freshly read current value for
// each ref, in the same order as the request.
type ScanResultsRefreshResponse struct {
	CurrentValues [][]byte
}

// ScanResultsFreezeRequest freezes or unfreezes every ref in Refs.
type ScanResultsFreezeRequest struct {
	Refs     []ScanResultRef
	IsFrozen bool
}

// ScanResultsDeleteRequest marks scan results for removal. The underlying
// filter is immutable once a scan pass has produced it, and removing one
// element from the middle of a filter's run would mean splitting the
// filter and rebuilding the result index, so this implementation unfreezes
// the ref (if frozen) and otherwise treats the ref as a no-op.
type ScanResultsDeleteRequest struct {
	Refs []ScanResultRef
}

// SettingsGeneralSetRequest replaces the engine's General settings.
type SettingsGeneralSetRequest struct {
	Value settings.General
}

// SettingsMemorySetRequest replaces the engine's Memory settings.
type SettingsMemorySetRequest struct {
	Value settings.Memory
}

// SettingsScanSetRequest replaces the engine's Scan settings.
type SettingsScanSetRequest struct {
	Value settings.Scan
}
