package cache

import (
	"container/list"
	"context"
	"sync"
)

// MemoryStore is an unbounded in-memory Store. Keys are kept in insertion
// order; replacing an entry keeps its position.
type MemoryStore struct {
	name  string
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

type memoryItem struct {
	key   string
	entry Entry
}

func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:  name,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (s *MemoryStore) Name() string { return s.name }

// Get retrieves a copy of the stored entry
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.items[key]
	if !exists {
		return Entry{}, false, nil
	}
	return elem.Value.(*memoryItem).entry.Clone(), true, nil
}

// Put stores a copy of e
func (s *MemoryStore) Put(_ context.Context, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := &memoryItem{key: key, entry: e.Clone()}
	if elem, exists := s.items[key]; exists {
		elem.Value = item
		return nil
	}
	s.items[key] = s.order.PushBack(item)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, exists := s.items[key]; exists {
		delete(s.items, key)
		s.order.Remove(elem)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.items))
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*memoryItem).key)
	}
	return keys, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

// Manager is the in-memory Storage: a set of named MemoryStores.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
	order  []string
}

// NewManager creates an empty cache manager
func NewManager() *Manager {
	return &Manager{stores: make(map[string]*MemoryStore)}
}

// Open implements Storage
func (m *Manager) Open(_ context.Context, name string) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := NewMemoryStore(name)
	m.stores[name] = s
	m.order = append(m.order, name)
	return s, nil
}

// Has implements Storage
func (m *Manager) Has(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stores[name]
	return ok, nil
}

// Names implements Storage
func (m *Manager) Names(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

// Delete implements Storage
func (m *Manager) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stores[name]; !ok {
		return false, nil
	}
	delete(m.stores, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Match implements Storage
func (m *Manager) Match(ctx context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	stores := make([]*MemoryStore, 0, len(m.order))
	for _, name := range m.order {
		stores = append(stores, m.stores[name])
	}
	m.mu.Unlock()

	for _, s := range stores {
		if e, ok, _ := s.Get(ctx, key); ok {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}
