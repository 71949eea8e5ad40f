// Package host provides a Host for Go programs that instrument themselves:
// goroutines play the role of threads and method names are interned.
package host

import (
	"bytes"
	"runtime"
	"strconv"

	"github.com/fllarpy/callprof/domain"
)

var _ domain.Host = (*Goroutines)(nil)

var goroutinePrefix = []byte("goroutine ")

// Goroutines is a Host whose threads are goroutines.
type Goroutines struct {
	*Symbols
}

// NewGoroutines returns a goroutine host with an empty symbol table.
func NewGoroutines() *Goroutines {
	return &Goroutines{Symbols: NewSymbols()}
}

// CurrentThread returns the id of the calling goroutine.
func (g *Goroutines) CurrentThread() domain.ThreadID {
	return domain.ThreadID(GoroutineID())
}

// GoroutineID parses the calling goroutine's id out of its stack header
// ("goroutine 17 [running]:"). It returns 0 if the header cannot be read.
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
