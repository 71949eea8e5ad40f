// Package probe provides the clock and allocation counters sampled on every
// enter/leave event. Implementations must be safe for concurrent use and
// cheap enough for the instrumentation hot path.
package probe

import (
	"runtime/metrics"
	"sync"
	"time"

	"github.com/fllarpy/callprof/domain"
)

const (
	cumulativeAllocsMetric = "/gc/heap/allocs:bytes"
	heapLiveMetric         = "/memory/classes/heap/objects:bytes"
)

var (
	_ domain.Clock           = (*MonotonicClock)(nil)
	_ domain.AllocationProbe = (*RuntimeAllocs)(nil)
	_ domain.AllocationProbe = NoAllocs{}
)

// MonotonicClock reports time elapsed since it was created, using the
// monotonic reading of the Go clock.
type MonotonicClock struct {
	base time.Time
}

// NewMonotonicClock returns a clock anchored at the current instant.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{base: time.Now()}
}

// Now returns the monotonic offset from the clock's anchor.
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.base)
}

// RuntimeAllocs samples a single runtime/metrics counter.
type RuntimeAllocs struct {
	name string
	pool sync.Pool
}

// CumulativeAllocs counts every byte ever allocated on the heap. It never
// decreases.
func CumulativeAllocs() *RuntimeAllocs {
	return newRuntimeAllocs(cumulativeAllocsMetric)
}

// HeapLive reports bytes currently occupied by heap objects. A collection
// between two samples makes it shrink.
func HeapLive() *RuntimeAllocs {
	return newRuntimeAllocs(heapLiveMetric)
}

func newRuntimeAllocs(name string) *RuntimeAllocs {
	p := &RuntimeAllocs{name: name}
	p.pool.New = func() any {
		return []metrics.Sample{{Name: name}}
	}
	return p
}

// AllocatedBytes reads the counter. Unsupported metrics read as zero.
func (p *RuntimeAllocs) AllocatedBytes() uint64 {
	sample := p.pool.Get().([]metrics.Sample)
	defer p.pool.Put(sample)

	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// NoAllocs disables allocation tracking.
type NoAllocs struct{}

// AllocatedBytes always returns zero.
func (NoAllocs) AllocatedBytes() uint64 { return 0 }

// ByName maps a configuration value to an allocation probe.
func ByName(name string) (domain.AllocationProbe, bool) {
	switch name {
	case "", "cumulative":
		return CumulativeAllocs(), true
	case "heap_live":
		return HeapLive(), true
	case "none":
		return NoAllocs{}, true
	}
	return nil, false
}
