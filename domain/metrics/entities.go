package metrics

import (
	"time"
)

// --- Data Structures for Collection ---

// MethodStats holds the aggregated counters of one method on one thread.
// A zero Calls value is never stored: absence means the method was not seen.
type MethodStats struct {
	Calls          uint64
	TotalDuration  time.Duration
	AllocatedBytes uint64
}

// Add folds another set of counters into s.
func (s *MethodStats) Add(o MethodStats) {
	s.Calls += o.Calls
	s.TotalDuration += o.TotalDuration
	s.AllocatedBytes += o.AllocatedBytes
}

// RuntimeMetrics holds metrics about the Go runtime hosting the profiler.
type RuntimeMetrics struct {
	NumGoroutine          int    `json:"num_goroutine"`
	MemoryAllocBytes      uint64 `json:"memory_alloc_bytes"`
	MemoryTotalAllocBytes uint64 `json:"memory_total_alloc_bytes"`
	MemoryHeapAllocBytes  uint64 `json:"memory_heap_alloc_bytes"`
	NumGC                 uint32 `json:"num_gc"`
}

// Granularity selects how drained tables are folded into report rows.
type Granularity string

const (
	// PerThread keeps one row per (thread, method).
	PerThread Granularity = "per_thread"
	// Merged keeps one row per method with totals across all threads.
	Merged Granularity = "merged"
)

// --- Report Structures ---

// ReportRow is one ranked line of a report.
type ReportRow struct {
	ThreadID       uint64        `json:"thread_id"`
	Method         string        `json:"method_name"`
	Calls          uint64        `json:"call_count"`
	TotalDuration  time.Duration `json:"total_duration_nanoseconds"`
	AllocatedBytes uint64        `json:"total_allocated_bytes"`
}

// Report is a ranked snapshot of everything collected since the previous one.
type Report struct {
	ID          string      `json:"id"`
	GeneratedAt time.Time   `json:"generated_at"`
	Granularity Granularity `json:"granularity"`
	Threads     int         `json:"threads"`
	Rows        []ReportRow `json:"rows"`
}

// Summarize returns the compact form kept in the report history.
func (r *Report) Summarize(path string, err error) ReportSummary {
	summary := ReportSummary{
		ID:          r.ID,
		GeneratedAt: r.GeneratedAt,
		Path:        path,
		Threads:     r.Threads,
		Rows:        len(r.Rows),
	}
	for _, row := range r.Rows {
		summary.Calls += row.Calls
		summary.TotalDuration += row.TotalDuration
	}
	if err != nil {
		summary.Error = err.Error()
	}
	return summary
}

// ReportSummary is a read-only digest of a report that was flushed.
type ReportSummary struct {
	ID            string        `json:"id"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Path          string        `json:"path,omitempty"`
	Threads       int           `json:"threads"`
	Rows          int           `json:"rows"`
	Calls         uint64        `json:"calls"`
	TotalDuration time.Duration `json:"total_duration_ns"`
	Error         string        `json:"error,omitempty"` // set when the sink failed
}

// ReportTotals are cumulative counters over the lifetime of the store.
type ReportTotals struct {
	Reports uint64 `json:"reports"`
	Failed  uint64 `json:"failed"`
	Calls   uint64 `json:"calls"`
}
