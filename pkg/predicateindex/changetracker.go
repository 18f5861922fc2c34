package predicateindex

import (
	"context"

	"github.com/faster-go/predicateindex/internal/primarykv"
)

// groupImages holds one group's before/after composite keys for a single
// primary-store mutation (spec §4.6 step 2-4). before is always populated —
// extracted from V's zero value when no pre-image was captured — so diff
// never needs a separate "no before" case.
type groupImages struct {
	before compositeKeyInput
	after  compositeKeyInput
}

// changeTracker is the ChangeTracker spec §3 describes: "created at entry
// to a primary update operation; ... discarded at operation completion."
// It is instantiated fresh by IndexManager.beginUpdate for every primary
// write and threaded through the primary store's Hooks as an opaque value.
type changeTracker[K any, V any] struct {
	groups map[int]*groupImages
}

// beginUpdate implements Hooks.Begin — spec §4.6 step 1.
func (m *IndexManager[K, V]) beginUpdate() any {
	return &changeTracker[K, V]{groups: make(map[int]*groupImages, len(m.groups))}
}

// beforeImage implements Hooks.BeforeImage — spec §4.6 step 2, capturing
// every group's pre-image extraction before the primary store mutates.
func (m *IndexManager[K, V]) beforeImage(trackerAny any, key K, value V) {
	ct := trackerAny.(*changeTracker[K, V])

	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, g := range m.groups {
		ct.groups[id] = &groupImages{before: g.extractAll(key, value)}
	}
}

// afterImage implements Hooks.AfterImage — spec §4.6 steps 3-6 and §4.7's
// Insert/IPU/RCU/Delete classification, run once per registered group.
func (m *IndexManager[K, V]) afterImage(
	ctx context.Context,
	trackerAny any,
	op primarykv.Operation,
	key K,
	_, newValue *V,
	oldAddr *primarykv.Address,
	newAddr primarykv.Address,
) error {
	ct := trackerAny.(*changeTracker[K, V])

	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, g := range m.groups {
		gi := ct.groups[id]
		if gi == nil {
			gi = &groupImages{before: g.extractAll(key, zeroValue[V]())}
			ct.groups[id] = gi
		}

		if newValue != nil {
			gi.after = g.extractAll(key, *newValue)
		} else {
			gi.after = compositeKeyInput{slots: make([]slotInput, len(g.predicates))}
			for i := range gi.after.slots {
				gi.after.slots[i] = slotInput{isNull: true}
			}
		}

		if err := applyGroupUpdate(g, gi, op, oldAddr, newAddr); err != nil {
			return err
		}
	}

	return nil
}

func zeroValue[V any]() V {
	var v V

	return v
}

// applyGroupUpdate runs the UpdateOrchestrator classification for one group
// (spec §4.7): decide Insert/IPU/RCU/Delete, skip the secondary entirely
// when nothing observable changed, and otherwise drive InsertEngine for the
// after-image (and, for RCU/Delete, a tombstoned insert of the before-image).
func applyGroupUpdate[K any, V any](
	g *predicateGroup[K, V],
	gi *groupImages,
	op primarykv.Operation,
	oldAddr *primarykv.Address,
	newAddr primarykv.Address,
) error {
	changedSlots, hasChanges := diff(gi.before, gi.after)
	addressChanged := oldAddr == nil || *oldAddr != newAddr

	switch op {
	case primarykv.OpInsert:
		if !gi.after.hasAnyNonNull() {
			return nil
		}

		sess := g.store.NewSession()
		defer sess.Close()

		return g.buildRecord(sess, gi.after, newAddr, false, nil, 0)

	case primarykv.OpDelete:
		if !gi.before.hasAnyNonNull() {
			return nil
		}

		sess := g.store.NewSession()
		defer sess.Close()

		// newAddr is the tombstone's own primary address (spec's delete
		// dataflow: a tombstoned composite-key record carrying the
		// delete marker's address, so liveness sees it as "current").
		return g.buildRecord(sess, gi.before, newAddr, true, nil, 0)

	case primarykv.OpIPU:
		// IPU is legal only when nothing an observer could see changed
		// (spec §4.7); otherwise upgrade to RCU semantics.
		if !hasChanges && !addressChanged {
			return nil
		}

		fallthrough

	case primarykv.OpRCU:
		if !hasChanges && !addressChanged {
			return nil
		}

		sess := g.store.NewSession()
		defer sess.Close()

		if gi.after.hasAnyNonNull() {
			if err := g.buildRecord(sess, gi.after, newAddr, false, changedSlots, flagIsLinkNew); err != nil {
				return err
			}
		}

		if gi.before.hasAnyNonNull() && oldAddr != nil {
			if err := g.buildRecord(sess, gi.before, *oldAddr, true, changedSlots, flagIsUnlinkOld); err != nil {
				return err
			}
		}

		return nil
	}

	return nil
}
