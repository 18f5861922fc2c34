package logstore

import (
	"sync"
	"sync/atomic"
	"time"
)

// epochEntry is one slot of the epoch table, roughly analogous to the
// per-thread entry a real epoch-protection framework keeps; here it is
// owned by one Session at a time.
type epochEntry struct {
	localEpoch atomic.Uint64
	inUse      atomic.Bool
}

const unprotected = 0

// epochManager implements the lock-free reclamation protocol described in
// spec §5 and §9 ("Epoch-protected memory reclamation"). Every dereference
// of a logical address performed while a Session is protected is safe from
// concurrent structural changes that bump the global epoch; drainTo blocks
// until every protected session has observed an epoch at least as new as
// the target, which is what lets flush/evict operations reclaim safely.
type epochManager struct {
	current atomic.Uint64

	mu      sync.Mutex
	entries []*epochEntry
}

func newEpochManager() *epochManager {
	em := &epochManager{}
	em.current.Store(1)

	return em
}

// acquire finds a free entry (or grows the table) and returns it unprotected.
func (em *epochManager) acquire() *epochEntry {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, e := range em.entries {
		if !e.inUse.Load() && e.inUse.CompareAndSwap(false, true) {
			e.localEpoch.Store(unprotected)

			return e
		}
	}

	e := &epochEntry{}
	em.entries = append(em.entries, e)
	e.inUse.Store(true)

	return e
}

func (em *epochManager) release(e *epochEntry) {
	e.localEpoch.Store(unprotected)
	e.inUse.Store(false)
}

// protect pins e to the current global epoch. Dereferences performed while
// protected are guaranteed stable until the matching unprotect/refresh.
func (em *epochManager) protect(e *epochEntry) {
	e.localEpoch.Store(em.current.Load())
}

func (em *epochManager) unprotect(e *epochEntry) {
	e.localEpoch.Store(unprotected)
}

// refresh re-pins e to the (possibly advanced) current epoch. Long-running
// query enumerations call this between yielded items (spec §5) so an
// on-disk chain step never holds back reclamation indefinitely.
func (em *epochManager) refresh(e *epochEntry) {
	e.localEpoch.Store(em.current.Load())
}

// bump advances the global epoch, returning the new value. It is called
// when BlockAllocate moves the head address and by Store.BumpEpoch (flush
// and evict); TrimBefore does not call it.
func (em *epochManager) bump() uint64 {
	return em.current.Add(1)
}

// drainTo blocks until every currently-protected entry has observed an
// epoch >= target, or is unprotected. Used by flushAndEvict to guarantee no
// session still holds a pointer into memory being evicted.
func (em *epochManager) drainTo(target uint64) {
	for {
		settled := true

		em.mu.Lock()
		for _, e := range em.entries {
			if e.inUse.Load() {
				local := e.localEpoch.Load()
				if local != unprotected && local < target {
					settled = false

					break
				}
			}
		}
		em.mu.Unlock()

		if settled {
			return
		}

		time.Sleep(time.Microsecond * 50)
	}
}
