// Package primarykv specifies the boundary the predicate index core
// consumes from a primary log-structured KV store (spec §6.1). The
// primary store's own operations (read, upsert, RMW, delete, pending-I/O
// completion, checkpoint) are out of scope for this module (spec §1) — it
// is named here only at the interface the core actually calls.
package primarykv

import "context"

// Address is the logical address the primary store assigns to a specific
// version of a record. It is opaque to the predicate index; the index only
// ever compares two addresses for equality (spec's "liveness invariant").
type Address uint64

// Invalid is the sentinel primary address meaning "no such record".
const Invalid Address = 0

// Store is the narrow interface the predicate index core consumes from a
// primary store, per spec §6.1.
type Store[K any, V any] interface {
	// Read performs an ordinary lookup, honoring any read-cache the
	// primary store maintains.
	Read(ctx context.Context, key K) (value V, addr Address, found bool, err error)

	// ReadAtAddress fetches the exact record at addr, bypassing any
	// read-cache. Used by LivenessChecker's address-read step (spec §4.5).
	ReadAtAddress(ctx context.Context, addr Address) (key K, value V, found bool, err error)

	// LookupAddressForKey finds the current winning address for key,
	// bypassing any read-cache. Used by LivenessChecker's key-read step.
	LookupAddressForKey(ctx context.Context, key K) (addr Address, found bool, err error)

	// CompletePending drains any pending I/O the primary store issued on
	// behalf of the index's liveness reads.
	CompletePending(ctx context.Context, blocking bool) error
}

// Operation classifies a primary-store write for ChangeTracker/
// UpdateOrchestrator (spec §4.7).
type Operation int

const (
	// OpInsert is a brand new key.
	OpInsert Operation = iota
	// OpIPU is an in-place update: same key, same address.
	OpIPU
	// OpRCU is a read-copy-update: same key, new address, old superseded.
	OpRCU
	// OpDelete removes the key.
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpIPU:
		return "ipu"
	case OpRCU:
		return "rcu"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}
