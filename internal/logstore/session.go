package logstore

// Session is a per-thread handle pinning the store's epoch while operations
// run (spec §5). The predicateindex package wraps one of these inside its
// own QuerySession; logstore.Session only knows about epoch protection and
// the pending-read queue, not about query semantics.
type Session[R any] struct {
	store *Store[R]
	entry *epochEntry

	pending []pendingRead[R]
}

type pendingRead[R any] struct {
	addr Address
	cont func(*R)
}

// NewSession acquires an epoch-table entry for a new thread/session.
func (st *Store[R]) NewSession() *Session[R] {
	return &Session[R]{store: st, entry: st.epoch.acquire()}
}

// Close releases the session's epoch-table entry. Any continuations still
// queued are dropped without being invoked.
func (s *Session[R]) Close() {
	s.pending = nil
	s.store.epoch.release(s.entry)
}

// Protect pins the session to the current global epoch before a
// logical-address dereference.
func (s *Session[R]) Protect() { s.store.epoch.protect(s.entry) }

// Unprotect releases the pin; must be called after the protected region to
// let reclamation proceed (spec §9).
func (s *Session[R]) Unprotect() { s.store.epoch.unprotect(s.entry) }

// Refresh re-pins to the latest epoch without a full unprotect/protect
// cycle; long-running query enumerations call this between yielded items.
func (s *Session[R]) Refresh() { s.store.epoch.refresh(s.entry) }

// IssueReadFromDisk queues cont to run against the record at addr the next
// time the session drains pending completions, and returns ErrPending. The
// caller (ReadEngine) must treat this as a suspension point (spec §4.4,
// §9).
func (s *Session[R]) IssueReadFromDisk(addr Address, cont func(*R)) error {
	_, _, ok := s.store.PhysicalAddress(addr)
	if !ok {
		return ErrClosed
	}

	s.pending = append(s.pending, pendingRead[R]{addr: addr, cont: cont})

	return ErrPending
}

// CompletePending drains queued reads, invoking each continuation with its
// resolved record. It returns the number of completions delivered. Since
// this store keeps all data resident (spec §1 excludes real disk I/O),
// completion is synchronous regardless of blocking; the parameter is kept
// for fidelity with the consumed interface in spec §6.1/§4.2.
func (s *Session[R]) CompletePending(_ bool) int {
	batch := s.pending
	s.pending = nil

	for _, p := range batch {
		rec, _, ok := s.store.PhysicalAddress(p.addr)
		if ok {
			p.cont(rec)
		}
	}

	return len(batch)
}

// HasPending reports whether any reads are queued for this session.
func (s *Session[R]) HasPending() bool { return len(s.pending) > 0 }
