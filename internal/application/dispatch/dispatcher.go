// Package dispatch routes host enter/leave/teardown callbacks to the
// collector owned by the calling thread, creating it on first use.
package dispatch

import (
	"sync"

	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/internal/application/collector"
	"github.com/fllarpy/callprof/internal/application/registry"
)

// Dispatcher is the thread-slot table between the host and the collectors.
//
// A thread's slot is only ever created, used and cleared by that thread, so
// lookups go through a sync.Map and never contend with other threads.
type Dispatcher struct {
	registry *registry.Registry
	config   collector.Config
	threads  sync.Map // domain.ThreadID -> *collector.ThreadCollector
}

// New creates a dispatcher whose collectors are built from cfg and
// registered in reg.
func New(reg *registry.Registry, cfg collector.Config) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		config:   cfg,
	}
}

// OnMethodEnter records entry into method on thread, creating and
// registering the thread's collector if this is its first event.
func (d *Dispatcher) OnMethodEnter(thread domain.ThreadID, method domain.MethodID) {
	c, ok := d.lookup(thread)
	if !ok {
		c = collector.New(thread, d.config)
		d.registry.Register(c)
		d.threads.Store(thread, c)
	}
	c.Enter(method)
}

// OnMethodLeave records the return from method on thread. Threads that never
// entered anything are ignored.
func (d *Dispatcher) OnMethodLeave(thread domain.ThreadID, method domain.MethodID) {
	if c, ok := d.lookup(thread); ok {
		c.Leave(method)
	}
}

// OnThreadTeardown releases the thread's collector: it is unregistered first
// and only then dropped from the thread slot.
func (d *Dispatcher) OnThreadTeardown(thread domain.ThreadID) {
	c, ok := d.lookup(thread)
	if !ok {
		return
	}
	d.registry.Unregister(c)
	d.threads.Delete(thread)
}

// Depth reports the active call depth of thread, 0 if it has no collector.
// Only meaningful when called from the thread itself.
func (d *Dispatcher) Depth(thread domain.ThreadID) int {
	if c, ok := d.lookup(thread); ok {
		return c.Depth()
	}
	return 0
}

func (d *Dispatcher) lookup(thread domain.ThreadID) (*collector.ThreadCollector, bool) {
	v, ok := d.threads.Load(thread)
	if !ok {
		return nil, false
	}
	return v.(*collector.ThreadCollector), true
}
