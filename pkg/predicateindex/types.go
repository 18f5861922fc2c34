package predicateindex

import "github.com/faster-go/predicateindex/internal/primarykv"

// ExtractFunc is a predicate: (K,V) -> Option<SK>, returning the secondary
// key bytes and true if the record matches, or (nil, false) otherwise
// (spec §3 "Predicate"). The returned slice must always have the same
// length for a given group — GroupSettings.KeySize.
type ExtractFunc[K any, V any] func(key K, value V) (sk []byte, ok bool)

// PredicateSpec names an extractor for registration.
type PredicateSpec[K any, V any] struct {
	Name    string
	Extract ExtractFunc[K, V]
}

// PredicateHandle identifies a registered predicate for querying. It is
// returned by RegisterGroup and is immutable thereafter (spec §3
// "Predicate ... Lifecycle: created at registration; immutable
// thereafter").
type PredicateHandle struct {
	name    string
	groupID int
	ordinal int
}

// Name returns the predicate's registered name.
func (h PredicateHandle) Name() string { return h.name }

// GroupSettings configures a PredicateGroup's secondary log store (spec
// §6.4's tunables, scoped to one group).
type GroupSettings struct {
	// HashTableSize is the number of buckets backing the group's
	// secondary store. Must be a power of two >= 2.
	HashTableSize uint64

	// KeySize is the fixed byte width every predicate in this group's SK
	// must produce (spec §3 "Invariant: all predicates in G share SK
	// type").
	KeySize int

	// MemoryWindow bounds how many trailing log addresses are treated as
	// resident before chain traversal must go through the pending-read
	// protocol (spec §4.4, §9). Zero means unbounded (everything stays
	// resident).
	MemoryWindow uint64

	// ReadCacheSize and CopyReadsToTail are accepted only at their zero
	// values — read-cache support is disallowed on secondary stores
	// (spec §6.4).
	ReadCacheSize   int
	CopyReadsToTail bool
}

func (s GroupSettings) validate() error {
	if s.KeySize <= 0 {
		return ErrInvalidSettings
	}

	if s.HashTableSize < 2 || s.HashTableSize&(s.HashTableSize-1) != 0 {
		return ErrInvalidSettings
	}

	if s.ReadCacheSize != 0 || s.CopyReadsToTail {
		return ErrUnsupportedOption
	}

	return nil
}

// Invalid is the zero PrimaryAddress — re-exported so callers constructing
// test primary stores don't need to import internal/primarykv directly.
const Invalid = primarykv.Invalid

// Address is the primary store's logical address type (spec's "Primary
// address (PA)").
type Address = primarykv.Address

// Operation classifies a primary-store write (spec §4.7).
type Operation = primarykv.Operation

const (
	OpInsert = primarykv.OpInsert
	OpIPU    = primarykv.OpIPU
	OpRCU    = primarykv.OpRCU
	OpDelete = primarykv.OpDelete
)
