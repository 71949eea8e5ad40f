package host

import (
	"fmt"
	"sync"
	"testing"

	"github.com/fllarpy/callprof/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbols_Intern(t *testing.T) {
	s := NewSymbols()

	a := s.Intern("Game.Update")
	b := s.Intern("Game.Render")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, s.Intern("Game.Update"), "the same name maps to the same handle")

	assert.Equal(t, "Game.Update", s.DisplayName(a))
	assert.Equal(t, "Game.Render", s.DisplayName(b))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "method@0x63", s.DisplayName(domain.MethodID(0x63)))
	assert.Equal(t, "method@0x0", s.DisplayName(0))
}

func TestSymbols_ConcurrentIntern(t *testing.T) {
	s := NewSymbols()
	ids := make([][]domain.MethodID, 8)

	var wg sync.WaitGroup
	for g := range ids {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ids[g] = append(ids[g], s.Intern(fmt.Sprintf("m%d", i)))
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, 100, s.Len())
	for g := 1; g < len(ids); g++ {
		assert.Equal(t, ids[0], ids[g], "every goroutine sees the same handles")
	}
}

func TestGoroutines_CurrentThread(t *testing.T) {
	h := NewGoroutines()
	self := h.CurrentThread()
	require.NotZero(t, self)
	assert.Equal(t, self, h.CurrentThread(), "stable within one goroutine")

	other := make(chan domain.ThreadID)
	go func() { other <- h.CurrentThread() }()
	assert.NotEqual(t, self, <-other)
}
