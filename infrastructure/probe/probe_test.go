package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sink []byte

func TestMonotonicClock(t *testing.T) {
	clock := NewMonotonicClock()
	first := clock.Now()
	time.Sleep(2 * time.Millisecond)
	second := clock.Now()

	assert.GreaterOrEqual(t, first, time.Duration(0))
	assert.GreaterOrEqual(t, second-first, 2*time.Millisecond, "clock should advance by at least the sleep")
}

func TestCumulativeAllocs(t *testing.T) {
	p := CumulativeAllocs()
	before := p.AllocatedBytes()
	for i := 0; i < 64; i++ {
		sink = make([]byte, 64<<10)
	}
	after := p.AllocatedBytes()

	assert.Greater(t, before, uint64(0))
	assert.GreaterOrEqual(t, after, before, "cumulative counter never decreases")
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "cumulative", "heap_live", "none"} {
		p, ok := ByName(name)
		require.True(t, ok, name)
		require.NotNil(t, p, name)
	}

	_, ok := ByName("rss")
	assert.False(t, ok)
	assert.Equal(t, uint64(0), NoAllocs{}.AllocatedBytes())
}
