package varserver

import (
	"sync"

	"github.com/orkestr8/statemachine/lang/ast"
)

// Memory is an in-process Adapter backed by a map, suitable for tests and
// local development of a definition file
// without a live variable-server process. Seed pre-registers named
// variables (e.g. loaded from a config file) with their initial value.
type Memory struct {
	mu        sync.Mutex
	byName    map[string]int
	byHandle  map[int]ast.Value
	subs      map[int]bool
	nextID    int
	notifyOut chan Notification
}

// NewMemory returns an empty Memory adapter.
func NewMemory() *Memory {
	return &Memory{
		byName:    map[string]int{},
		byHandle:  map[int]ast.Value{},
		subs:      map[int]bool{},
		nextID:    1,
		notifyOut: make(chan Notification, 64),
	}
}

// Seed declares a variable at path with an initial value, returning its
// handle. Intended for wiring a .sm file to fixed values without a real
// variable-server process.
func (m *Memory) Seed(path string, v ast.Value) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.byName[path]; ok {
		m.byHandle[h] = v
		return h
	}
	h := m.nextID
	m.nextID++
	m.byName[path] = h
	m.byHandle[h] = v
	return h
}

func (m *Memory) Open() error  { return nil }
func (m *Memory) Close() error { return nil }

func (m *Memory) FindByName(path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.byName[path]
	if !ok {
		return Invalid, ErrNotFound
	}
	return h, nil
}

func (m *Memory) Get(handle int) (ast.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.byHandle[handle]
	if !ok {
		return ast.Value{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(handle int, v ast.Value) error {
	m.mu.Lock()
	if _, ok := m.byHandle[handle]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.byHandle[handle] = v
	notify := m.subs[handle]
	m.mu.Unlock()

	if notify {
		m.notifyOut <- Notification{Handle: handle}
	}
	return nil
}

func (m *Memory) SubscribeModifications(handle int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byHandle[handle]; !ok {
		return ErrNotFound
	}
	m.subs[handle] = true
	return nil
}

func (m *Memory) Notifications() <-chan Notification { return m.notifyOut }
