package hive

import (
	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/store"
	"github.com/ValentinKolb/sgkv/lib/util"
	"go.uber.org/multierr"
	"sync"
)

// Manager owns the stores of a process and tears them down in order. Stores
// are finalized by ascending priority, equal priorities in registration order.
// Stop moves event stores to the front: objects in other stores may be
// referenced from an event store, never the other way round.
//
// Thread-safety: All methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	byName  map[string]uint64
	order   *util.MapHeap[*Store]
	nextKey uint64
	stopped bool

	finalizeOnce sync.Once
	finalizeErr  error
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		byName: make(map[string]uint64),
		order:  util.NewMapHeap[*Store](),
	}
}

// Register adds a store with its finalize priority (lower is finalized first).
func (m *Manager) Register(s *Store, priority uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[s.Name()]; ok {
		return store.Errorf(store.RetCDuplicateKey, "store %q is already registered", s.Name())
	}
	m.nextKey++
	m.byName[s.Name()] = m.nextKey
	m.order.AddItem(m.nextKey, priority, s)
	if m.stopped && s.StoreID() == datastore.EventStore {
		m.order.SetPriority(m.nextKey, 0)
	}
	log.Debugf("registered store %s (%s) with priority %d", s.Name(), s.StoreID(), priority)
	return nil
}

// Store returns the store registered as name.
func (m *Manager) Store(name string) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	_, s, ok := m.order.GetByKey(key)
	return s, ok
}

// Priority returns the current finalize priority of the store named name.
func (m *Manager) Priority(name string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byName[name]
	if !ok {
		return 0, false
	}
	prio, _, ok := m.order.GetByKey(key)
	return prio, ok
}

// Len returns the number of registered stores.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Stop gives every event store the highest finalize priority.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for _, key := range m.byName {
		if _, s, ok := m.order.GetByKey(key); ok && s.StoreID() == datastore.EventStore {
			m.order.SetPriority(key, 0)
		}
	}
}

// Finalize stops the manager and force-clears all stores in finalize order.
// Every store is cleared even if one fails, the errors are combined. Only
// the first call does the work, later calls return its result.
func (m *Manager) Finalize() error {
	m.finalizeOnce.Do(func() {
		m.Stop()

		m.mu.Lock()
		var ordered []*Store
		for m.order.Len() > 0 {
			_, _, s := m.order.PopMin()
			ordered = append(ordered, s)
		}
		clear(m.byName)
		m.mu.Unlock()

		for _, s := range ordered {
			log.Infof("finalizing store %s (%s)", s.Name(), s.StoreID())
			if err := s.ClearAll(true); err != nil {
				m.finalizeErr = multierr.Append(m.finalizeErr, err)
			}
		}
	})
	return m.finalizeErr
}
