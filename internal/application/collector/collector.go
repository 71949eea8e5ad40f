package collector

import (
	"sync"
	"time"

	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/domain/metrics"
)

// DefaultStackCapacity is the number of frames reserved up front so common
// call depths never reallocate the stack.
const DefaultStackCapacity = 100

// Table maps a method to its aggregated counters on one thread.
type Table map[domain.MethodID]metrics.MethodStats

// Anomalies receives a signal for every sample that is dropped or clamped.
// Implementations are called on the hot path and must not block.
type Anomalies interface {
	StackDesync()
	OrphanLeave()
	AllocRegression()
}

type nopAnomalies struct{}

func (nopAnomalies) StackDesync()     {}
func (nopAnomalies) OrphanLeave()     {}
func (nopAnomalies) AllocRegression() {}

// frame is one active, not-yet-returned invocation.
type frame struct {
	method     domain.MethodID
	enteredAt  time.Duration
	allocStart uint64
}

// Config holds what a collector samples and whom it tells about anomalies.
type Config struct {
	Clock         domain.Clock
	Allocs        domain.AllocationProbe
	Anomalies     Anomalies
	StackCapacity int
}

// ThreadCollector owns one thread's call stack and statistics table.
//
// The stack is touched only by the owning thread and is never locked. The
// table is guarded by mu because Drain is called from the reporting thread.
type ThreadCollector struct {
	thread    domain.ThreadID
	clock     domain.Clock
	allocs    domain.AllocationProbe
	anomalies Anomalies

	stack []frame

	mu    sync.Mutex
	table Table
}

// New creates a collector for thread.
func New(thread domain.ThreadID, cfg Config) *ThreadCollector {
	capacity := cfg.StackCapacity
	if capacity <= 0 {
		capacity = DefaultStackCapacity
	}
	anomalies := cfg.Anomalies
	if anomalies == nil {
		anomalies = nopAnomalies{}
	}
	return &ThreadCollector{
		thread:    thread,
		clock:     cfg.Clock,
		allocs:    cfg.Allocs,
		anomalies: anomalies,
		stack:     make([]frame, 0, capacity),
		table:     make(Table),
	}
}

// Thread returns the identity of the owning thread.
func (c *ThreadCollector) Thread() domain.ThreadID {
	return c.thread
}

// Depth returns the number of active frames. Owning thread only.
func (c *ThreadCollector) Depth() int {
	return len(c.stack)
}

// Enter pushes a frame for method. Owning thread only.
func (c *ThreadCollector) Enter(method domain.MethodID) {
	c.stack = append(c.stack, frame{
		method:     method,
		enteredAt:  c.clock.Now(),
		allocStart: c.allocs.AllocatedBytes(),
	})
}

// Leave pops the top frame and, if it belongs to method, folds the call into
// the table. Owning thread only.
//
// A leave on an empty stack is dropped. A leave that does not match the top
// frame discards that frame without recording anything and without searching
// deeper frames.
func (c *ThreadCollector) Leave(method domain.MethodID) {
	n := len(c.stack)
	if n == 0 {
		c.anomalies.OrphanLeave()
		return
	}

	top := c.stack[n-1]
	c.stack = c.stack[:n-1]
	if top.method != method {
		c.anomalies.StackDesync()
		return
	}

	elapsed := c.clock.Now() - top.enteredAt
	if elapsed < 0 {
		elapsed = 0
	}

	// A collection between enter and leave can shrink the counter; that is
	// noise, not memory returned by this method.
	var allocated uint64
	if now := c.allocs.AllocatedBytes(); now > top.allocStart {
		allocated = now - top.allocStart
	} else if now < top.allocStart {
		c.anomalies.AllocRegression()
	}

	c.mu.Lock()
	stats := c.table[method]
	stats.Calls++
	stats.TotalDuration += elapsed
	stats.AllocatedBytes += allocated
	c.table[method] = stats
	c.mu.Unlock()
}

// Drain takes the statistics table and leaves an empty one in its place.
// Safe to call from any goroutine while the owner keeps entering and leaving.
func (c *ThreadCollector) Drain() Table {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.table) == 0 {
		return nil
	}
	taken := c.table
	c.table = make(Table, len(taken))
	return taken
}
