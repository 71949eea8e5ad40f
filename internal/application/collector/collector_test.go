package collector

import (
	"sync"
	"testing"
	"time"

	"github.com/fllarpy/callprof/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// manualClock only moves when the test advances it.
type manualClock struct{ now time.Duration }

func (c *manualClock) Now() time.Duration       { return c.now }
func (c *manualClock) advance(d time.Duration) { c.now += d }

// manualAllocs reports whatever the test stored last.
type manualAllocs struct{ bytes uint64 }

func (a *manualAllocs) AllocatedBytes() uint64 { return a.bytes }

// countingAnomalies records every anomaly signal.
type countingAnomalies struct {
	desyncs, orphans, regressions int
}

func (a *countingAnomalies) StackDesync()     { a.desyncs++ }
func (a *countingAnomalies) OrphanLeave()     { a.orphans++ }
func (a *countingAnomalies) AllocRegression() { a.regressions++ }

const (
	m1 domain.MethodID = iota + 1
	m2
	m3
)

func newTestCollector() (*ThreadCollector, *manualClock, *manualAllocs, *countingAnomalies) {
	clock := &manualClock{}
	allocs := &manualAllocs{}
	anomalies := &countingAnomalies{}
	c := New(7, Config{Clock: clock, Allocs: allocs, Anomalies: anomalies})
	return c, clock, allocs, anomalies
}

func TestThreadCollector_NestedCalls(t *testing.T) {
	c, clock, _, _ := newTestCollector()

	c.Enter(m1)
	clock.advance(10 * time.Millisecond)
	c.Enter(m2)
	clock.advance(5 * time.Millisecond)
	c.Leave(m2)
	c.Leave(m1)

	table := c.Drain()
	require.Len(t, table, 2)
	assert.Equal(t, uint64(1), table[m2].Calls)
	assert.Equal(t, 5*time.Millisecond, table[m2].TotalDuration)
	assert.Equal(t, uint64(1), table[m1].Calls)
	assert.Equal(t, 15*time.Millisecond, table[m1].TotalDuration, "outer call includes the inner one")
	assert.Equal(t, 0, c.Depth())
}

func TestThreadCollector_Recursion(t *testing.T) {
	c, clock, _, _ := newTestCollector()

	c.Enter(m1)
	clock.advance(time.Millisecond)
	c.Enter(m1)
	clock.advance(2 * time.Millisecond)
	c.Leave(m1)
	c.Leave(m1)

	table := c.Drain()
	assert.Equal(t, uint64(2), table[m1].Calls)
	assert.Equal(t, 5*time.Millisecond, table[m1].TotalDuration)
}

func TestThreadCollector_OrphanLeave(t *testing.T) {
	c, _, _, anomalies := newTestCollector()

	c.Leave(m1)

	assert.Empty(t, c.Drain())
	assert.Equal(t, 1, anomalies.orphans)
}

func TestThreadCollector_StackDesync(t *testing.T) {
	t.Run("mismatched leave then orphan records nothing", func(t *testing.T) {
		c, clock, _, anomalies := newTestCollector()

		c.Enter(m1)
		clock.advance(time.Millisecond)
		c.Leave(m2)
		c.Leave(m1)

		assert.Empty(t, c.Drain())
		assert.Equal(t, 1, anomalies.desyncs)
		assert.Equal(t, 1, anomalies.orphans)
	})

	t.Run("only the top frame is discarded", func(t *testing.T) {
		c, clock, _, anomalies := newTestCollector()

		c.Enter(m1)
		c.Enter(m2)
		clock.advance(time.Millisecond)
		c.Leave(m3)
		c.Leave(m1)

		table := c.Drain()
		require.Len(t, table, 1)
		assert.Equal(t, uint64(1), table[m1].Calls)
		assert.NotContains(t, table, m2)
		assert.Equal(t, 1, anomalies.desyncs)
	})
}

func TestThreadCollector_Allocations(t *testing.T) {
	t.Run("positive delta is recorded", func(t *testing.T) {
		c, _, allocs, _ := newTestCollector()

		allocs.bytes = 1000
		c.Enter(m1)
		allocs.bytes = 1512
		c.Leave(m1)

		assert.Equal(t, uint64(512), c.Drain()[m1].AllocatedBytes)
	})

	t.Run("regression after a collection is clamped to zero", func(t *testing.T) {
		c, _, allocs, anomalies := newTestCollector()

		allocs.bytes = 4096
		c.Enter(m1)
		allocs.bytes = 1024
		c.Leave(m1)

		table := c.Drain()
		assert.Equal(t, uint64(1), table[m1].Calls)
		assert.Equal(t, uint64(0), table[m1].AllocatedBytes)
		assert.Equal(t, 1, anomalies.regressions)
	})

	t.Run("unchanged counter is not a regression", func(t *testing.T) {
		c, _, allocs, anomalies := newTestCollector()

		allocs.bytes = 64
		c.Enter(m1)
		c.Leave(m1)

		assert.Equal(t, uint64(0), c.Drain()[m1].AllocatedBytes)
		assert.Equal(t, 0, anomalies.regressions)
	})
}

func TestThreadCollector_DrainTwice(t *testing.T) {
	c, _, _, _ := newTestCollector()

	c.Enter(m1)
	c.Leave(m1)

	assert.Len(t, c.Drain(), 1)
	assert.Empty(t, c.Drain(), "second drain without new events should be empty")
}

func TestThreadCollector_StackGrowsPastCapacity(t *testing.T) {
	clock := &manualClock{}
	c := New(1, Config{Clock: clock, Allocs: &manualAllocs{}, StackCapacity: 2})

	for i := 0; i < 10; i++ {
		c.Enter(m1)
	}
	assert.Equal(t, 10, c.Depth())
	for i := 0; i < 10; i++ {
		c.Leave(m1)
	}
	assert.Equal(t, uint64(10), c.Drain()[m1].Calls)
}

// The owner keeps recording while another goroutine drains; nothing may be
// lost or counted twice.
func TestThreadCollector_ConcurrentDrain(t *testing.T) {
	const calls = 20000
	clock := &manualClock{}
	c := New(1, Config{Clock: clock, Allocs: &manualAllocs{}})

	var (
		mu    sync.Mutex
		total uint64
		wg    sync.WaitGroup
		done  = make(chan struct{})
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, stats := range c.Drain() {
				mu.Lock()
				total += stats.Calls
				mu.Unlock()
			}
		}
	}()

	for i := 0; i < calls; i++ {
		c.Enter(m1)
		c.Leave(m1)
	}
	close(done)
	wg.Wait()

	for _, stats := range c.Drain() {
		total += stats.Calls
	}
	assert.Equal(t, uint64(calls), total)
}

func TestThreadCollector_EventSequencesProperty(t *testing.T) {
	methods := []domain.MethodID{m1, m2, m3}

	rapid.Check(t, func(rt *rapid.T) {
		clock := &manualClock{}
		anomalies := &countingAnomalies{}
		c := New(1, Config{Clock: clock, Allocs: &manualAllocs{}, Anomalies: anomalies})

		type openFrame struct {
			method    domain.MethodID
			enteredAt time.Duration
		}
		var open []openFrame
		wantCalls := map[domain.MethodID]uint64{}
		wantDurations := map[domain.MethodID]time.Duration{}
		var wantOrphans, wantDesyncs int

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			clock.advance(time.Duration(rapid.IntRange(0, 1000).Draw(rt, "elapsed")))

			switch rapid.IntRange(0, 3).Draw(rt, "event") {
			case 0, 1:
				m := rapid.SampledFrom(methods).Draw(rt, "enter")
				c.Enter(m)
				open = append(open, openFrame{method: m, enteredAt: clock.Now()})
			case 2:
				if len(open) == 0 {
					c.Leave(rapid.SampledFrom(methods).Draw(rt, "orphan"))
					wantOrphans++
					continue
				}
				top := open[len(open)-1]
				open = open[:len(open)-1]
				c.Leave(top.method)
				wantCalls[top.method]++
				wantDurations[top.method] += clock.Now() - top.enteredAt
			case 3:
				if len(open) == 0 {
					c.Leave(rapid.SampledFrom(methods).Draw(rt, "orphan"))
					wantOrphans++
					continue
				}
				top := open[len(open)-1]
				open = open[:len(open)-1]
				var others []domain.MethodID
				for _, m := range methods {
					if m != top.method {
						others = append(others, m)
					}
				}
				c.Leave(rapid.SampledFrom(others).Draw(rt, "mismatch"))
				wantDesyncs++
			}

			if c.Depth() != len(open) {
				rt.Fatalf("depth %d, want %d", c.Depth(), len(open))
			}
		}

		table := c.Drain()
		if len(table) != len(wantCalls) {
			rt.Fatalf("table has %d methods, want %d", len(table), len(wantCalls))
		}
		for m, calls := range wantCalls {
			if table[m].Calls != calls {
				rt.Fatalf("method %d: got %d calls, want %d", m, table[m].Calls, calls)
			}
			if table[m].TotalDuration != wantDurations[m] {
				rt.Fatalf("method %d: got %v total, want %v", m, table[m].TotalDuration, wantDurations[m])
			}
		}
		if anomalies.orphans != wantOrphans {
			rt.Fatalf("got %d orphan leaves, want %d", anomalies.orphans, wantOrphans)
		}
		if anomalies.desyncs != wantDesyncs {
			rt.Fatalf("got %d desyncs, want %d", anomalies.desyncs, wantDesyncs)
		}
	})
}
