package inmemory

import (
	"runtime"
	"sync"

	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/domain/metrics"
)

const (
	// Default number of report summaries kept.
	defaultHistorySize = 32
)

// --- Store Implementation ---

// Store is a thread-safe in-memory history of flushed reports.
// It implements the domain.Store interface.
var _ domain.Store = (*Store)(nil)

type Store struct {
	mu      sync.RWMutex
	totals  metrics.ReportTotals
	last    *metrics.Report
	runtime metrics.RuntimeMetrics
	recent  *ringBuffer[metrics.ReportSummary]
}

// NewStore creates a store that remembers the last size report summaries.
// A non-positive size selects the default.
func NewStore(size int) *Store {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &Store{
		recent: newRingBuffer[metrics.ReportSummary](size),
	}
}

// RecordReport adds a flushed report to the history. err is the sink error,
// if any; failed reports are remembered too.
func (s *Store) RecordReport(report *metrics.Report, path string, err error) {
	summary := report.Summarize(path, err)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals.Reports++
	if err != nil {
		s.totals.Failed++
	}
	s.totals.Calls += summary.Calls
	s.last = report
	s.recent.add(summary)
}

// UpdateRuntime captures current runtime metrics.
func (s *Store) UpdateRuntime() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runtime.NumGoroutine = runtime.NumGoroutine()
	s.runtime.MemoryAllocBytes = memStats.Alloc
	s.runtime.MemoryTotalAllocBytes = memStats.TotalAlloc
	s.runtime.MemoryHeapAllocBytes = memStats.HeapAlloc
	s.runtime.NumGC = memStats.NumGC
}

// GetSnapshot returns a read-only copy of the history.
func (s *Store) GetSnapshot() *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &domain.Snapshot{
		Totals:  s.totals,
		Recent:  s.recent.getAll(),
		Runtime: s.runtime,
	}
	if s.last != nil {
		last := *s.last
		last.Rows = append([]metrics.ReportRow(nil), s.last.Rows...)
		snapshot.Last = &last
	}
	return snapshot
}

// --- Ring Buffer for Summaries ---

// ringBuffer is a generic, thread-unsafe circular buffer.
// The locking must be handled by the parent (Store).
type ringBuffer[T any] struct {
	buffer []T
	size   int
	start  int
	count  int
}

// newRingBuffer creates a new ring buffer of a given size.
func newRingBuffer[T any](size int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts an element into the buffer, overwriting the oldest if full.
func (rb *ringBuffer[T]) add(item T) {
	index := (rb.start + rb.count) % rb.size
	rb.buffer[index] = item
	if rb.count < rb.size {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.size
	}
}

// getAll returns all elements in the buffer, oldest first.
func (rb *ringBuffer[T]) getAll() []T {
	if rb.count == 0 {
		return nil
	}
	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return items
}
