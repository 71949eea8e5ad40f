package domain

import (
	"time"

	"github.com/fllarpy/callprof/domain/metrics"
)

// MethodID is an opaque, process-stable handle for one instrumented method.
// Two events refer to the same method only if their handles are equal.
type MethodID uintptr

// ThreadID identifies the host thread an event was fired on.
type ThreadID uint64

// Host is the boundary to the execution engine that fires enter/leave events.
type Host interface {
	// CurrentThread returns the identity of the calling thread.
	CurrentThread() ThreadID
	// DisplayName resolves a method handle to a human-readable name. It is
	// only called while a report is rendered, never on the hot path.
	DisplayName(method MethodID) string
}

// Interner hands out stable method handles for names. Go-side
// instrumentation (HTTP middleware, span bridge) uses it to turn strings
// into MethodIDs that a Host can later resolve.
type Interner interface {
	Intern(name string) MethodID
}

// Clock is a monotonic timestamp source.
type Clock interface {
	Now() time.Duration
}

// AllocationProbe reports how many bytes the process has allocated so far.
// The value may go backwards across a garbage collection.
type AllocationProbe interface {
	AllocatedBytes() uint64
}

// Snapshot is a point-in-time, read-only copy of the report history.
type Snapshot struct {
	Totals  metrics.ReportTotals    `json:"totals"`
	Recent  []metrics.ReportSummary `json:"recent_reports"`
	Last    *metrics.Report         `json:"last_report,omitempty"`
	Runtime metrics.RuntimeMetrics  `json:"runtime_metrics"`
}

// StoreReader defines the contract for reading the report history.
type StoreReader interface {
	GetSnapshot() *Snapshot
}

// StoreWriter defines the contract for recording reports.
type StoreWriter interface {
	RecordReport(report *metrics.Report, path string, err error)
	UpdateRuntime()
}

// Store is the combined interface for a report history store.
type Store interface {
	StoreReader
	StoreWriter
}

// Flusher produces a report on demand.
type Flusher interface {
	Report() (*metrics.Report, error)
}
