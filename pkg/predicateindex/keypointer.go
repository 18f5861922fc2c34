package predicateindex

import (
	"sync/atomic"

	"github.com/faster-go/predicateindex/internal/logstore"
	"github.com/faster-go/predicateindex/internal/primarykv"
)

// Per-slot flag bits (spec §3 "CompositeKey: ... flags: u8").
const (
	flagIsNull         uint8 = 1 << 0
	flagIsDeleted      uint8 = 1 << 1
	flagIsUnlinkOld    uint8 = 1 << 2
	flagIsLinkNew      uint8 = 1 << 3
	flagIsOutOfLineKey uint8 = 1 << 4
)

// slot is a KeyPointer: one predicate's entry inside a composite key (spec
// §4.1). previousAddress/offsetToStartOfKeys/ordinal/flags are the wire
// fields spec.md names; key holds the extracted secondary key bytes
// (fixed width per group, like slotcache's fixed KeySize).
type slot struct {
	previousAddress     logstore.Address
	offsetToStartOfKeys uint16
	ordinal             uint8
	flags               uint8
	key                 []byte
}

func (s *slot) isNull() bool      { return s.flags&flagIsNull != 0 }
func (s *slot) isDeleted() bool   { return s.flags&flagIsDeleted != 0 }
func (s *slot) setFlag(f uint8)   { s.flags |= f }
func (s *slot) clearFlag(f uint8) { s.flags &^= f }

// recordInfo bits, packed into a single atomic word so publish (clearing
// invalid) is a single atomic store other threads can observe without a
// lock (spec §9 "Tombstone vs record-header invalid bit").
const (
	infoInvalidBit   uint64 = 1 << 0
	infoTombstoneBit uint64 = 1 << 1
	infoFinalBit     uint64 = 1 << 2
	infoVersionShift        = 8
)

func packInfo(invalid, tombstone, final bool, version uint64) uint64 {
	w := version << infoVersionShift
	if invalid {
		w |= infoInvalidBit
	}

	if tombstone {
		w |= infoTombstoneBit
	}

	if final {
		w |= infoFinalBit
	}

	return w
}

func unpackInvalid(w uint64) bool   { return w&infoInvalidBit != 0 }
func unpackTombstone(w uint64) bool { return w&infoTombstoneBit != 0 }
func unpackVersion(w uint64) uint64 { return w >> infoVersionShift }

// record is the composite-key record stored on the secondary log: a
// RecordInfo header, |P| KeyPointer slots, and the primary address (spec
// §3). It is the type parameter instantiating logstore.Store[record].
type record struct {
	info           atomic.Uint64
	slots          []slot
	primaryAddress primarykv.Address
}

func (r *record) isInvalid() bool   { return unpackInvalid(r.info.Load()) }
func (r *record) isTombstone() bool { return unpackTombstone(r.info.Load()) }
func (r *record) version() uint64   { return unpackVersion(r.info.Load()) }

// publish clears the invalid bit, making the record's splices visible to
// readers (spec §4.3 step 5). Must only be called after every non-null
// predicate chain has been spliced.
func (r *record) publish() {
	for {
		old := r.info.Load()
		newW := old &^ infoInvalidBit
		if r.info.CompareAndSwap(old, newW) {
			return
		}
	}
}

// fnv1a64 hashes data with FNV-1a 64-bit, the algorithm identifier
// slotcache's file format reserves as slc1HashAlgFNV1a64 — reused here for
// stack consistency with the rest of the corpus even though this store has
// no on-disk header to stamp it in.
func fnv1a64(data []byte) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)

	h := uint64(offset)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime
	}

	return h
}

// ordinalHash returns H(ordinal+1), used to keep different predicates'
// chains from colliding even when two predicates extract the same SK bytes
// (spec §4.1).
func ordinalHash(ordinal uint8) uint64 {
	return fnv1a64([]byte{ordinal + 1})
}

// slotHash computes hash(slot) = H(userHash(slot.key)) xor H(ordinal+1)
// per spec §4.1.
func slotHash(ordinal uint8, key []byte) uint64 {
	return fnv1a64(key) ^ ordinalHash(ordinal)
}
