package host

import (
	"fmt"
	"sync"

	"github.com/fllarpy/callprof/domain"
)

var _ domain.Interner = (*Symbols)(nil)

// Symbols interns method names into stable handles and resolves them back.
// Handles start at 1 and are never reused.
type Symbols struct {
	ids sync.Map // string -> domain.MethodID

	mu    sync.RWMutex
	names []string
}

// NewSymbols returns an empty symbol table.
func NewSymbols() *Symbols {
	return &Symbols{}
}

// Intern returns the handle for name, allocating one on first sight.
func (s *Symbols) Intern(name string) domain.MethodID {
	if id, ok := s.ids.Load(name); ok {
		return id.(domain.MethodID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids.Load(name); ok {
		return id.(domain.MethodID)
	}
	s.names = append(s.names, name)
	id := domain.MethodID(len(s.names))
	s.ids.Store(name, id)
	return id
}

// DisplayName returns the interned name, or a placeholder for unknown handles.
func (s *Symbols) DisplayName(method domain.MethodID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := int(method) - 1
	if i < 0 || i >= len(s.names) {
		return fmt.Sprintf("method@%#x", uintptr(method))
	}
	return s.names[i]
}

// Len returns the number of interned names.
func (s *Symbols) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}
