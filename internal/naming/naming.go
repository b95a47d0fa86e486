package naming

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/tuplespace/internal/wire"
)

var (
	ErrNotBound     = errors.New("name not bound")
	ErrAlreadyBound = errors.New("name already bound")
)

// Registry maps service names to server addresses
type Registry interface {
	Lookup(ctx context.Context, name string) (string, error)
	// Bind fails with ErrAlreadyBound if name is taken
	Bind(ctx context.Context, name, addr string) error
	// Rebind binds name unconditionally
	Rebind(ctx context.Context, name, addr string) error
	Unbind(ctx context.Context, name string) error
}

// Memory is an in-process Registry. The registry binary serves one over
// HTTP; tests share one between servers and clients.
type Memory struct {
	mu       sync.RWMutex
	bindings []wire.Binding
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) index(name string) int {
	return slices.IndexFunc(m.bindings, func(b wire.Binding) bool { return b.Name == name })
}

func (m *Memory) Lookup(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.index(name); i >= 0 {
		return m.bindings[i].Addr, nil
	}
	return "", ErrNotBound
}

func (m *Memory) Bind(_ context.Context, name, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index(name) >= 0 {
		return ErrAlreadyBound
	}
	m.bindings = append(m.bindings, wire.Binding{Name: name, Addr: addr})
	return nil
}

func (m *Memory) Rebind(_ context.Context, name, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(name); i >= 0 {
		m.bindings[i].Addr = addr
		return nil
	}
	m.bindings = append(m.bindings, wire.Binding{Name: name, Addr: addr})
	return nil
}

func (m *Memory) Unbind(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(name)
	if i < 0 {
		return ErrNotBound
	}
	m.bindings = slices.Delete(m.bindings, i, i+1)
	return nil
}

// Bindings returns every binding sorted by name
func (m *Memory) Bindings() []wire.Binding {
	m.mu.RLock()
	out := slices.Clone(m.bindings)
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b wire.Binding) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}
