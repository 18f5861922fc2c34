package predicateindex

import (
	"errors"

	"github.com/faster-go/predicateindex/internal/logstore"
	"github.com/faster-go/predicateindex/internal/primarykv"
)

// insertComposite implements InsertEngine.insert (spec §4.3): given the
// extracted per-predicate outputs for one image, splice a new composite-key
// record into every matching predicate's chain. tombstone marks a
// delete/pre-image record (RecordInfo.tombstone + every non-null slot's
// isDeleted). changed/linkFlag optionally stamp the informational
// isLinkNew/isUnlinkOld markers spec §4.6 step 4 describes; linkFlag is
// ignored when changed is nil.
//
// Retryable conditions (CPR_SHIFT, an upward-link CAS loss) are handled by
// re-driving the whole algorithm from step 1, per spec §4.9 — callers see
// only the terminal outcome.
func insertComposite(
	store *logstore.Store[record],
	sess *logstore.Session[record],
	input compositeKeyInput,
	primaryAddr primarykv.Address,
	tombstone bool,
	changed []bool,
	linkFlag uint8,
	version uint64,
	checkpointing bool,
) error {
	for {
		err := insertCompositeOnce(store, sess, input, primaryAddr, tombstone, changed, linkFlag, version, checkpointing)
		if errors.Is(err, logstore.ErrRetryNow) || errors.Is(err, logstore.ErrCPRShift) {
			continue
		}

		return err
	}
}

// predicateSplice carries one non-null predicate's pre-scan result forward
// into the splice step.
type predicateSplice struct {
	ordinal  int
	bucket   *logstore.Bucket
	tag      uint16
	expected logstore.Entry
}

func insertCompositeOnce(
	store *logstore.Store[record],
	sess *logstore.Session[record],
	input compositeKeyInput,
	primaryAddr primarykv.Address,
	tombstone bool,
	changed []bool,
	linkFlag uint8,
	version uint64,
	checkpointing bool,
) error {
	n := len(input.slots)
	slots := make([]slot, n)

	var (
		latestVersion uint64
		splices       = make([]predicateSplice, 0, n)
	)

	// Step 1: pre-scan.
	sess.Protect()

	for i := 0; i < n; i++ {
		s := &slots[i]
		s.ordinal = uint8(i)
		s.offsetToStartOfKeys = uint16(i)
		s.previousAddress = logstore.Invalid

		if input.slots[i].isNull {
			s.setFlag(flagIsNull)

			continue
		}

		s.key = input.slots[i].key

		if tombstone {
			s.setFlag(flagIsDeleted)
		}

		if changed != nil && i < len(changed) && changed[i] {
			s.setFlag(linkFlag)
		}

		h := slotHash(s.ordinal, s.key)
		b, tag := store.FindOrCreateBucket(h)
		observed := b.Load()

		splices = append(splices, predicateSplice{ordinal: i, bucket: b, tag: tag, expected: observed})

		predAddr := observed.Address()
		if predAddr != logstore.Invalid {
			predRec, _, ok := store.PhysicalAddress(predAddr)
			if ok && predRec != nil {
				if v := predRec.version(); v > latestVersion {
					latestVersion = v
				}

				if predRec.isTombstone() && predAddr < store.BeginAddress() {
					// Stale tombstone predecessor below the trim point:
					// elide it (spec §4.3 step 1).
					predAddr = logstore.Invalid
				}
			}
		}

		s.previousAddress = predAddr
	}

	sess.Unprotect()

	// Step 2: version gate (spec §4.3 step 2, §4.9).
	if checkpointing && latestVersion > version {
		return logstore.ErrCPRShift
	}

	// Step 3: allocate. The record is written with invalid=true so no
	// reader can observe it before every splice below has succeeded.
	addr, rp, err := store.BlockAllocate()
	if err != nil {
		return err
	}

	rp.slots = slots
	rp.primaryAddress = primaryAddr
	rp.info.Store(packInfo(true, tombstone, true, version))

	// Step 4: splice, one CAS per non-null predicate.
	for _, sp := range splices {
		want := logstore.PackEntry(sp.tag, addr)
		expected := sp.expected

		for {
			actual, swapped := sp.bucket.CompareAndSwap(expected, want)
			if swapped {
				break
			}

			if actual.Address() < addr {
				rp.slots[sp.ordinal].previousAddress = actual.Address()
				expected = actual

				continue
			}

			// Upward link: the new winner sits above our record, so
			// chaining below it would break the downward invariant.
			// Abandon this record (it stays invalid forever; readers
			// that reach it via an earlier-succeeded splice skip it and
			// follow previousAddress, per spec §5) and re-drive the
			// whole insert.
			return logstore.ErrRetryNow
		}
	}

	// Step 5: publish.
	rp.publish()

	return nil
}
