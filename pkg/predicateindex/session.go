package predicateindex

import (
	"sync/atomic"

	"github.com/faster-go/predicateindex/internal/logstore"
)

// QuerySession is a per-goroutine handle for querying an IndexManager (spec
// §5 "QuerySession"). It must not be used from more than one goroutine at a
// time — concurrent use returns ErrConcurrentSessionUse rather than racing
// or blocking (spec §4.9, §7 "Concurrency misuse" class).
type QuerySession[K any, V any] struct {
	mgr *IndexManager[K, V]

	inUse   atomic.Bool
	invalid atomic.Bool

	groupSessions map[int]*logstore.Session[record]
}

func newQuerySession[K any, V any](mgr *IndexManager[K, V]) *QuerySession[K, V] {
	return &QuerySession[K, V]{
		mgr:           mgr,
		groupSessions: make(map[int]*logstore.Session[record]),
	}
}

// enter marks the session busy, failing fast on reentrancy or on a session
// an earlier operation already invalidated.
func (s *QuerySession[K, V]) enter() error {
	if !s.inUse.CompareAndSwap(false, true) {
		return ErrConcurrentSessionUse
	}

	if s.invalid.Load() {
		s.inUse.Store(false)

		return ErrSessionInvalid
	}

	return nil
}

func (s *QuerySession[K, V]) exit() {
	s.inUse.Store(false)
}

// sessionFor lazily creates this QuerySession's logstore.Session for a
// group, reusing it across calls so epoch protection stays cheap.
func (s *QuerySession[K, V]) sessionFor(g *predicateGroup[K, V]) *logstore.Session[record] {
	sess, ok := s.groupSessions[g.id]
	if !ok {
		sess = g.store.NewSession()
		s.groupSessions[g.id] = sess
	}

	return sess
}

// Close releases every group session this QuerySession opened.
func (s *QuerySession[K, V]) Close() error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.exit()

	for id, sess := range s.groupSessions {
		sess.Close()
		delete(s.groupSessions, id)
	}

	return nil
}
