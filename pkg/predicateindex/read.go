package predicateindex

import (
	"errors"

	"github.com/faster-go/predicateindex/internal/logstore"
	"github.com/faster-go/predicateindex/internal/primarykv"
)

// chainHit is one record ReadEngine found while walking a predicate's
// hash-collision chain for a given secondary key.
type chainHit struct {
	primaryAddr primarykv.Address
	tombstone   bool
}

// readChain walks the hash-bucket chain for (ordinal, sk) from its head,
// following each record's previousAddress until it reaches Invalid or a
// trimmed address (spec §4.4 "ReadEngine"). It returns every record whose
// slot[ordinal] matches sk exactly, oldest exclusions aside; invalid
// (partially-spliced) records are skipped but still traversed through,
// since their previousAddress was written correctly before publish (spec
// §5's "readers ... ignore [an invalid record] and follow the slot's
// previousAddress").
//
// Addresses below the store's in-memory window go through the
// IssueReadFromDisk/CompletePending suspension protocol (spec §4.4, §9)
// even though this store keeps everything resident — see logstore.Session.
func readChain(store *logstore.Store[record], sess *logstore.Session[record], ordinal uint8, sk []byte) ([]chainHit, error) {
	hash := slotHash(ordinal, sk)

	b, _ := store.FindOrCreateBucket(hash)
	head := b.Load()

	if head.Empty() {
		return nil, nil
	}

	var hits []chainHit

	addr := head.Address()
	for addr != logstore.Invalid && addr >= store.BeginAddress() {
		rec, err := resolveRecord(store, sess, addr)
		if err != nil {
			return nil, err
		}

		if rec == nil {
			break
		}

		s := rec.slots[ordinal]

		if !s.isNull() && !rec.isInvalid() && string(s.key) == string(sk) {
			hits = append(hits, chainHit{primaryAddr: rec.primaryAddress, tombstone: rec.isTombstone()})
		}

		addr = s.previousAddress
	}

	return hits, nil
}

// resolveRecord dereferences addr, routing through the pending-read
// protocol when the address has fallen below the in-memory head.
func resolveRecord(store *logstore.Store[record], sess *logstore.Session[record], addr logstore.Address) (*record, error) {
	rec, inMemory, ok := store.PhysicalAddress(addr)
	if !ok {
		return nil, nil
	}

	if inMemory {
		return rec, nil
	}

	var resolved *record

	err := sess.IssueReadFromDisk(addr, func(r *record) { resolved = r })
	if !errors.Is(err, logstore.ErrPending) {
		return nil, err
	}

	sess.CompletePending(true)

	return resolved, nil
}
