package predicateindex

import (
	"fmt"
	"sync/atomic"

	"github.com/faster-go/predicateindex/internal/logstore"
	"github.com/faster-go/predicateindex/internal/primarykv"
)

// registeredPredicate is one predicate bound to its group and ordinal
// (spec §3 "Predicate").
type registeredPredicate[K any, V any] struct {
	name    string
	extract ExtractFunc[K, V]
}

// slotInput is one predicate's extracted output before it is written into
// a record's slot (spec §4.6 step 2).
type slotInput struct {
	key    []byte
	isNull bool
}

// compositeKeyInput is the per-record vector of predicate outputs — the
// "keyBytes" scratch spec §4.6 describes building on every write-path
// invocation.
type compositeKeyInput struct {
	slots []slotInput
}

// equalSlot reports whether two extracted slots for the same ordinal are
// indistinguishable (both null, or both present and byte-equal) — the
// no-change test in spec §4.6 step 4.
func equalSlot(a, b slotInput) bool {
	if a.isNull != b.isNull {
		return false
	}

	if a.isNull {
		return true
	}

	return string(a.key) == string(b.key)
}

// hasAnyNonNull reports whether a composite key has at least one non-null
// slot (spec §4.6 step 5: "pure-null record is not stored").
func (c compositeKeyInput) hasAnyNonNull() bool {
	for _, s := range c.slots {
		if !s.isNull {
			return true
		}
	}

	return false
}

// predicateGroup is a PredicateGroup (spec §3/§4.6): an ordered set of
// predicates sharing one secondary log store and one composite-key shape.
type predicateGroup[K any, V any] struct {
	id         int
	settings   GroupSettings
	predicates []registeredPredicate[K, V]
	store      *logstore.Store[record]

	version       atomic.Uint64
	checkpointing atomic.Bool
}

func newPredicateGroup[K any, V any](id int, settings GroupSettings) (*predicateGroup[K, V], error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	store, err := logstore.New[record](logstore.Options{
		HashTableSize: settings.HashTableSize,
		MemoryWindow:  settings.MemoryWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	g := &predicateGroup[K, V]{id: id, settings: settings, store: store}
	g.version.Store(1)

	return g, nil
}

// addPredicate appends spec as the next ordinal and returns its handle.
func (g *predicateGroup[K, V]) addPredicate(spec PredicateSpec[K, V]) (PredicateHandle, error) {
	if spec.Name == "" || spec.Extract == nil {
		return PredicateHandle{}, ErrInvalidSettings
	}

	ordinal := len(g.predicates)
	g.predicates = append(g.predicates, registeredPredicate[K, V]{name: spec.Name, extract: spec.Extract})

	return PredicateHandle{name: spec.Name, groupID: g.id, ordinal: ordinal}, nil
}

// extractAll runs every predicate's extractor over (key, value), producing
// the composite-key input spec §4.6 step 2 describes.
func (g *predicateGroup[K, V]) extractAll(key K, value V) compositeKeyInput {
	out := compositeKeyInput{slots: make([]slotInput, len(g.predicates))}

	for i, p := range g.predicates {
		sk, ok := p.extract(key, value)
		if ok && len(sk) != g.settings.KeySize {
			// A predicate that violates the group's fixed SK width is a
			// configuration bug in the caller's extractor, not a runtime
			// condition queries should ever see; fail closed by treating
			// it as null rather than corrupting chain layout.
			out.slots[i] = slotInput{isNull: true}

			continue
		}

		out.slots[i] = slotInput{key: sk, isNull: !ok}
	}

	return out
}

// diff computes per-slot change flags between a before and after
// composite key (spec §4.6 step 4).
func diff(before, after compositeKeyInput) (changed []bool, hasChanges bool) {
	changed = make([]bool, len(after.slots))

	for i := range after.slots {
		var b slotInput
		if i < len(before.slots) {
			b = before.slots[i]
		}

		if !equalSlot(b, after.slots[i]) {
			changed[i] = true
			hasChanges = true
		}
	}

	return changed, hasChanges
}

// buildRecord allocates and populates a new composite-key record on this
// group's secondary store, then runs InsertEngine.insert over it (spec
// §4.3). tombstone marks every non-null slot as deleted and sets the
// record's tombstone bit. changed/linkFlag optionally stamp the
// informational isLinkNew/isUnlinkOld markers (spec §4.6 step 4); pass nil
// changed when the caller has no before-image to diff against.
func (g *predicateGroup[K, V]) buildRecord(
	sess *logstore.Session[record],
	input compositeKeyInput,
	primaryAddr primarykv.Address,
	tombstone bool,
	changed []bool,
	linkFlag uint8,
) error {
	return insertComposite(
		g.store,
		sess,
		input,
		primaryAddr,
		tombstone,
		changed,
		linkFlag,
		g.version.Load(),
		g.checkpointing.Load(),
	)
}
