package logstore

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Store is a generic append-only log plus a lock-free hash-bucket table, the
// "secondary log store" consumed interface from spec §4.2. It is generic
// over the record type R: the predicateindex package is the only caller
// that knows what a record actually contains (RecordInfo + CompositeKey +
// PrimaryAddress, per spec §3); this package only knows how to allocate,
// address, and bucket-index them.
//
// Tail allocation is serialized by a single mutex, matching spec §5's
// "The log's tail allocation is serialised by the allocator" — the
// lock-free part of the design is entirely in the per-bucket CAS splice
// the predicateindex InsertEngine performs on top of this store, not in
// allocation itself.
type Store[R any] struct {
	mu      sync.Mutex
	records []*R // records[0] is unused; address 0 is the Invalid sentinel.

	headAddress         atomic.Uint64
	beginAddress        atomic.Uint64
	safeReadOnlyAddress atomic.Uint64

	buckets []Bucket
	mask    uint64

	// memoryWindow bounds how many trailing records are considered
	// resident in the mutable+read-only region; older addresses are
	// treated as "on disk" and served through the pending-read protocol
	// (spec §4.2, §9 "Two-level pending I/O"). Disk device abstractions
	// are out of scope (spec §1), so the data backing a "disk" read is
	// still held in records — only the access protocol is real.
	memoryWindow uint64

	closed atomic.Bool
	epoch  *epochManager
}

// Options configures a new Store.
type Options struct {
	// HashTableSize is the number of buckets; must be a power of two >= 2.
	HashTableSize uint64

	// MemoryWindow is the number of trailing addresses considered
	// in-memory; 0 means unbounded (every read is served in-memory).
	MemoryWindow uint64
}

// New creates an empty Store. hashTableSize must already be validated by
// the caller (predicateindex.RegisterGroup enforces spec §6.4's tunables).
func New[R any](opts Options) (*Store[R], error) {
	if opts.HashTableSize < 2 || opts.HashTableSize&(opts.HashTableSize-1) != 0 {
		return nil, fmt.Errorf("logstore: hash table size %d is not a power of two >= 2", opts.HashTableSize)
	}

	st := &Store[R]{
		records:      make([]*R, 1, 64),
		buckets:      make([]Bucket, opts.HashTableSize),
		mask:         opts.HashTableSize - 1,
		memoryWindow: opts.MemoryWindow,
		epoch:        newEpochManager(),
	}
	st.beginAddress.Store(1)
	st.headAddress.Store(1)
	st.safeReadOnlyAddress.Store(1)

	return st, nil
}

// HeadAddress returns the first address still considered resident; below
// it, reads must go through IssueReadFromDisk.
func (st *Store[R]) HeadAddress() Address { return Address(st.headAddress.Load()) }

// BeginAddress returns the trim point; addresses below it no longer exist.
func (st *Store[R]) BeginAddress() Address { return Address(st.beginAddress.Load()) }

// SafeReadOnlyAddress returns the boundary below which records are
// guaranteed immutable.
func (st *Store[R]) SafeReadOnlyAddress() Address { return Address(st.safeReadOnlyAddress.Load()) }

// TailAddress returns one past the highest allocated address.
func (st *Store[R]) TailAddress() Address {
	st.mu.Lock()
	defer st.mu.Unlock()

	return Address(len(st.records))
}

// BlockAllocate appends a zero-value record at the tail and returns its
// logical address along with a pointer for the caller to populate in
// place. Populating through the pointer (rather than building a value and
// copying it in) matters here because R may embed atomic fields. Per spec
// §4.3 step 3, the record must be written with RecordInfo.invalid=true by
// the caller before any chain splice can reference it.
func (st *Store[R]) BlockAllocate() (Address, *R, error) {
	if st.closed.Load() {
		return Invalid, nil, ErrClosed
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	addr := Address(len(st.records))
	rp := new(R)
	st.records = append(st.records, rp)

	st.advanceHeadLocked()

	return addr, rp, nil
}

// advanceHeadLocked recomputes headAddress/safeReadOnlyAddress from the
// current tail and memoryWindow, bumping the epoch whenever the boundary
// moves (a structural change readers must observe to stay safe).
func (st *Store[R]) advanceHeadLocked() {
	if st.memoryWindow == 0 {
		return
	}

	tail := uint64(len(st.records))

	newHead := uint64(1)
	if tail > st.memoryWindow {
		newHead = tail - st.memoryWindow
	}

	if newHead > st.headAddress.Load() {
		st.headAddress.Store(newHead)
		st.safeReadOnlyAddress.Store(newHead)
		st.epoch.bump()
	}
}

// PhysicalAddress resolves a logical address to its record. ok is false if
// the address has been trimmed or was never allocated. inMemory is false
// when the address is below headAddress and must be fetched via
// IssueReadFromDisk instead of dereferenced directly (spec §4.2, §4.4).
func (st *Store[R]) PhysicalAddress(addr Address) (rec *R, inMemory bool, ok bool) {
	if addr == Invalid {
		return nil, false, false
	}

	if addr < Address(st.beginAddress.Load()) {
		return nil, false, false
	}

	st.mu.Lock()
	idx := int(addr)
	if idx >= len(st.records) {
		st.mu.Unlock()

		return nil, false, false
	}

	rec = st.records[idx]
	st.mu.Unlock()

	return rec, addr >= st.HeadAddress(), true
}

// FindOrCreateBucket returns the bucket for hash. The table is fixed-size
// and preallocated, so "find or create" never allocates; the name is kept
// for fidelity with spec §4.2's consumed interface.
func (st *Store[R]) FindOrCreateBucket(hash uint64) (*Bucket, uint16) {
	idx := hash & st.mask

	return &st.buckets[idx], TagFor(hash)
}

// TrimBefore advances the begin address, permanently dropping any chain
// reachability below it. Traversal terminates at beginAddress per spec §4.4.
func (st *Store[R]) TrimBefore(addr Address) {
	for {
		cur := st.beginAddress.Load()
		if uint64(addr) <= cur || st.beginAddress.CompareAndSwap(cur, uint64(addr)) {
			return
		}
	}
}

// BumpEpoch advances the global epoch and returns the new value, for
// callers (flush/evict) that need a drain target.
func (st *Store[R]) BumpEpoch() uint64 { return st.epoch.bump() }

// DrainEpoch blocks until every session has observed epoch >= target.
func (st *Store[R]) DrainEpoch(target uint64) { st.epoch.drainTo(target) }

// DisposeFromMemory drops all record and bucket state irrecoverably. A real
// FASTER store would still be reloadable from its on-disk log; since disk
// persistence is out of scope here (spec §1), this is a hard reset — any
// caller that wants to survive it must have already captured a checkpoint
// manifest (see pkg/predicateindex/checkpoint.go) and accepts that recovery
// restores metadata, not log contents.
func (st *Store[R]) DisposeFromMemory() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.records = make([]*R, 1, 64)
	for i := range st.buckets {
		st.buckets[i].word.Store(0)
	}

	st.beginAddress.Store(1)
	st.headAddress.Store(1)
	st.safeReadOnlyAddress.Store(1)
}

// Close marks the store closed; further BlockAllocate calls fail.
func (st *Store[R]) Close() error {
	st.closed.Store(true)

	return nil
}
