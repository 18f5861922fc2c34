package predicateindex

import (
	"sync"

	"github.com/faster-go/predicateindex/internal/primarykv"
)

// IndexManager is the top-level entry point (spec §3 "IndexManager"): it
// owns every registered PredicateGroup for one primary store and wires
// itself into the primary store's write path via primarykv.Hooks.
type IndexManager[K any, V any] struct {
	mu      sync.RWMutex
	groups  map[int]*predicateGroup[K, V]
	names   map[string]struct{}
	nextID  int
	closed  bool
	primary primarykv.Store[K, V]
}

// NewIndexManager creates an unbound manager. Construction is two-step
// because of the mutual dependency between a manager and its primary store:
// the store needs the manager's Hooks() to wire its write path, and the
// manager needs the constructed store for query-time liveness checks.
//
//	mgr := NewIndexManager[K, V]()
//	primary := primarykv.NewFake[K, V](mgr.Hooks())
//	mgr.BindPrimary(primary)
func NewIndexManager[K any, V any]() *IndexManager[K, V] {
	return &IndexManager[K, V]{
		groups: make(map[int]*predicateGroup[K, V]),
		names:  make(map[string]struct{}),
	}
}

// Hooks returns the primarykv.Hooks this manager must be registered under
// so every primary-store mutation flows through ChangeTracker/
// UpdateOrchestrator (spec §4.6, §6.1).
func (m *IndexManager[K, V]) Hooks() primarykv.Hooks[K, V] {
	return primarykv.Hooks[K, V]{
		Begin:       m.beginUpdate,
		BeforeImage: m.beforeImage,
		AfterImage:  m.afterImage,
	}
}

// BindPrimary wires the primary store this manager's queries will run
// liveness checks against. Must be called once, before any query.
func (m *IndexManager[K, V]) BindPrimary(primary primarykv.Store[K, V]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.primary = primary
}

// RegisterGroup creates a new PredicateGroup with the given settings and
// registers every predicate in specs under it, returning their handles in
// the same order (spec §3 "PredicateGroup ... created at RegisterGroup").
// Predicate names must be unique across the whole manager, not just within
// one group (spec §7 "Configuration" class).
func (m *IndexManager[K, V]) RegisterGroup(settings GroupSettings, specs ...PredicateSpec[K, V]) ([]PredicateHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	for _, spec := range specs {
		if _, exists := m.names[spec.Name]; exists {
			return nil, ErrDuplicateName
		}
	}

	id := m.nextID

	g, err := newPredicateGroup[K, V](id, settings)
	if err != nil {
		return nil, err
	}

	handles := make([]PredicateHandle, 0, len(specs))

	for _, spec := range specs {
		h, err := g.addPredicate(spec)
		if err != nil {
			return nil, err
		}

		handles = append(handles, h)
	}

	m.nextID++
	m.groups[id] = g

	for _, spec := range specs {
		m.names[spec.Name] = struct{}{}
	}

	return handles, nil
}

// NewSession opens a QuerySession for reading through this index (spec §5
// "QuerySession ... exclusive to one goroutine at a time").
func (m *IndexManager[K, V]) NewSession() *QuerySession[K, V] {
	return newQuerySession(m)
}

// Close releases every group's underlying store. Further RegisterGroup
// calls fail with ErrClosed; in-flight sessions are not forcibly closed.
func (m *IndexManager[K, V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true

	for _, g := range m.groups {
		_ = g.store.Close()
	}

	return nil
}

// groupFor resolves a predicate handle to its group under the read lock,
// failing with ErrInvariantViolation if the handle doesn't belong to this
// manager (spec §7: "should be impossible" class).
func (m *IndexManager[K, V]) groupFor(h PredicateHandle) (*predicateGroup[K, V], registeredPredicate[K, V], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[h.groupID]
	if !ok || h.ordinal < 0 || h.ordinal >= len(g.predicates) {
		var zero registeredPredicate[K, V]

		return nil, zero, ErrInvariantViolation
	}

	return g, g.predicates[h.ordinal], nil
}
