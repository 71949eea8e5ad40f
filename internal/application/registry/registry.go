package registry

import (
	"sync"

	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/internal/application/collector"
)

// Observer is told about membership changes.
type Observer interface {
	CollectorRegistered()
	CollectorUnregistered()
}

type nopObserver struct{}

func (nopObserver) CollectorRegistered()   {}
func (nopObserver) CollectorUnregistered() {}

// Drained is one thread's table taken out of the registry.
type Drained struct {
	Thread domain.ThreadID
	Table  collector.Table
}

// Registry is the process-wide set of live per-thread collectors.
//
// It holds references only: a collector is owned by its thread's slot in the
// dispatcher. Unregister takes the same lock as SnapshotAndDrainAll, so a
// collector can never be drained after its owner finished tearing it down.
type Registry struct {
	mu       sync.Mutex
	members  map[*collector.ThreadCollector]struct{}
	retired  []Drained
	observer Observer
}

// New creates an empty registry. observer may be nil.
func New(observer Observer) *Registry {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Registry{
		members:  make(map[*collector.ThreadCollector]struct{}),
		observer: observer,
	}
}

// Register adds c. Called once, when c is constructed.
func (r *Registry) Register(c *collector.ThreadCollector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[c]; ok {
		return
	}
	r.members[c] = struct{}{}
	r.observer.CollectorRegistered()
}

// Unregister removes c. Whatever c collected since the last drain is kept
// and handed out by the next SnapshotAndDrainAll.
func (r *Registry) Unregister(c *collector.ThreadCollector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[c]; !ok {
		return
	}
	delete(r.members, c)
	if table := c.Drain(); len(table) > 0 {
		r.retired = append(r.retired, Drained{Thread: c.Thread(), Table: table})
	}
	r.observer.CollectorUnregistered()
}

// SnapshotAndDrainAll drains every live collector plus the tables left behind
// by threads that ended since the previous call. Empty tables are skipped.
//
// Only the enumeration is serialized on the registry lock; each Drain holds
// just its collector's own lock while it swaps the table out.
func (r *Registry) SnapshotAndDrainAll() []Drained {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.retired
	r.retired = nil
	for c := range r.members {
		if table := c.Drain(); len(table) > 0 {
			out = append(out, Drained{Thread: c.Thread(), Table: table})
		}
	}
	return out
}

// Len returns the number of live collectors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
