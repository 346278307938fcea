package store

import "time"

// Session is one completed scan pass as recorded in the ledger: the
// parameter set the pass ran with and what it produced. A chain of Session
// rows for the same process reconstructs how a result set was narrowed.
type Session struct {
	SessionID   string
	ProcessID   int32
	ProcessName string
	DataType    string
	Alignment   int
	CompareType string
	ScanValue   string
	ResultCount int64
	DurationMS  int64
	StartedAt   time.Time
}

// SessionQuery filters and pages a ListSessions call.
type SessionQuery struct {
	ProcessID int32 // 0 matches every process
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}
