package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/fllarpy/callprof/domain"
	"github.com/fllarpy/callprof/internal/application/collector"
	"github.com/fllarpy/callprof/internal/application/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// tickClock advances one microsecond on every read.
type tickClock struct{ ticks atomic.Int64 }

func (c *tickClock) Now() time.Duration {
	return time.Duration(c.ticks.Add(1)) * time.Microsecond
}

type noAllocs struct{}

func (noAllocs) AllocatedBytes() uint64 { return 0 }

const (
	methodA domain.MethodID = 0x1000
	methodB domain.MethodID = 0x2000
)

func newDispatcher() (*Dispatcher, *registry.Registry) {
	reg := registry.New(nil)
	return New(reg, collector.Config{Clock: &tickClock{}, Allocs: noAllocs{}}), reg
}

func TestDispatcher_LazyCollectorCreation(t *testing.T) {
	d, reg := newDispatcher()

	d.OnMethodLeave(1, methodA)
	assert.Equal(t, 0, reg.Len(), "a leave must not create a collector")

	d.OnMethodEnter(1, methodA)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, d.Depth(1))

	d.OnMethodEnter(1, methodB)
	assert.Equal(t, 1, reg.Len(), "the same thread reuses its collector")

	d.OnMethodLeave(1, methodB)
	d.OnMethodLeave(1, methodA)
	assert.Equal(t, 0, d.Depth(1))
	assert.Equal(t, 0, d.Depth(99))
}

func TestDispatcher_Teardown(t *testing.T) {
	d, reg := newDispatcher()

	d.OnMethodEnter(5, methodA)
	d.OnMethodLeave(5, methodA)
	d.OnThreadTeardown(5)
	d.OnThreadTeardown(5)
	d.OnThreadTeardown(6)

	assert.Equal(t, 0, reg.Len())

	drained := reg.SnapshotAndDrainAll()
	require.Len(t, drained, 1, "stats of a finished thread reach the next report")
	assert.Equal(t, uint64(1), drained[0].Table[methodA].Calls)

	d.OnMethodLeave(5, methodA)
	assert.Equal(t, 0, reg.Len())

	d.OnMethodEnter(5, methodA)
	assert.Equal(t, 1, reg.Len(), "a reused thread id gets a fresh collector")
}

func TestDispatcher_TwoThreadsSameMethod(t *testing.T) {
	d, reg := newDispatcher()

	var g errgroup.Group
	for _, thread := range []domain.ThreadID{1, 2} {
		g.Go(func() error {
			d.OnMethodEnter(thread, methodA)
			d.OnMethodLeave(thread, methodA)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	drained := reg.SnapshotAndDrainAll()
	require.Len(t, drained, 2)
	threads := map[domain.ThreadID]uint64{}
	for _, dr := range drained {
		threads[dr.Thread] = dr.Table[methodA].Calls
	}
	assert.Equal(t, map[domain.ThreadID]uint64{1: 1, 2: 1}, threads)
}

func TestDispatcher_ManyThreads(t *testing.T) {
	const (
		threads = 32
		calls   = 200
	)
	d, reg := newDispatcher()

	var g errgroup.Group
	for i := 0; i < threads; i++ {
		thread := domain.ThreadID(i + 1)
		g.Go(func() error {
			for j := 0; j < calls; j++ {
				d.OnMethodEnter(thread, methodA)
				d.OnMethodEnter(thread, methodB)
				d.OnMethodLeave(thread, methodB)
				d.OnMethodLeave(thread, methodA)
			}
			d.OnThreadTeardown(thread)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var a, b uint64
	for _, dr := range reg.SnapshotAndDrainAll() {
		a += dr.Table[methodA].Calls
		b += dr.Table[methodB].Calls
	}
	assert.Equal(t, uint64(threads*calls), a)
	assert.Equal(t, uint64(threads*calls), b)
}
