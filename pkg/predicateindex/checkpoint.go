package predicateindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/faster-go/predicateindex/internal/logstore"
	pidxfs "github.com/faster-go/predicateindex/pkg/fs"
)

// checkpointFS performs the directory bookkeeping around a checkpoint write
// (mkdir, read-back on Recover, exists-check) and backs the atomic write
// itself via checkpointWriter. Production always uses pidxfs.NewReal();
// tests can substitute any pidxfs.FS.
var checkpointFS pidxfs.FS = pidxfs.NewReal()

// checkpointWriter publishes a manifest via temp-file-then-rename so a crash
// mid-write never leaves a torn manifest on disk.
var checkpointWriter = pidxfs.NewAtomicWriter(checkpointFS)

// CheckpointToken identifies one checkpoint manifest on disk (spec §6.2
// "checkpoint_full/index/log ... Recover(token)"). Real FASTER checkpoints
// also capture log segment contents; persisting log bytes is out of scope
// here (spec §1 excludes "object serializers, checkpoint file formats"), so
// a checkpoint captures structural metadata only — which half depends on
// whether it was taken by CheckpointIndex, CheckpointLog, or CheckpointFull.
type CheckpointToken string

// checkpointKind records which of the two halves (or both) a manifest
// captured, matching FASTER's own split checkpoint model: an index
// checkpoint is enough to recreate a group's registration shape; a log
// checkpoint is enough to know where its store's log stood.
type checkpointKind string

const (
	kindIndex checkpointKind = "index"
	kindLog   checkpointKind = "log"
	kindFull  checkpointKind = "full"
)

// groupManifest is one group's persisted shape. The index half (Settings,
// Predicates) and the log half (Version, the three address watermarks) are
// populated independently depending on which checkpoint call produced this
// manifest; a zero value in an unpopulated half means "not captured by this
// checkpoint", not "the store was empty" — store addresses start at 1, so 0
// is never a live watermark.
type groupManifest struct {
	ID         int           `json:"id"`
	Settings   GroupSettings `json:"settings,omitempty"`
	Predicates []string      `json:"predicates,omitempty"`

	Version      uint64 `json:"version,omitempty"`
	HeadAddress  uint64 `json:"head_address,omitempty"`
	BeginAddress uint64 `json:"begin_address,omitempty"`
	TailAddress  uint64 `json:"tail_address,omitempty"`
}

// manifest is the full on-disk checkpoint document.
type manifest struct {
	Kind    checkpointKind  `json:"kind"`
	Token   CheckpointToken `json:"token"`
	TakenAt time.Time       `json:"taken_at"`
	NextID  int             `json:"next_id"`
	Groups  []groupManifest `json:"groups"`
}

// checkpoint is the shared implementation behind CheckpointIndex/Log/Full:
// it marks every group mid-checkpoint for the duration of the snapshot so
// InsertEngine's version gate can detect a concurrent version shift (spec
// §4.3 step 2, §4.9 CPR_SHIFT), writes whichever halves includeIndex/
// includeLog select, then bumps every group's version past this checkpoint.
func (m *IndexManager[K, V]) checkpoint(dir string, token CheckpointToken, kind checkpointKind, includeIndex, includeLog bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.groups {
		g.checkpointing.Store(true)
		defer g.checkpointing.Store(false)
	}

	doc := manifest{
		Kind:    kind,
		Token:   token,
		TakenAt: checkpointClock(),
		NextID:  m.nextID,
		Groups:  make([]groupManifest, 0, len(m.groups)),
	}

	for _, g := range m.groups {
		gm := groupManifest{ID: g.id}

		if includeIndex {
			names := make([]string, len(g.predicates))
			for i, p := range g.predicates {
				names[i] = p.name
			}

			gm.Settings = g.settings
			gm.Predicates = names
		}

		if includeLog {
			gm.Version = g.version.Load()
			gm.HeadAddress = uint64(g.store.HeadAddress())
			gm.BeginAddress = uint64(g.store.BeginAddress())
			gm.TailAddress = uint64(g.store.TailAddress())
		}

		doc.Groups = append(doc.Groups, gm)
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("predicateindex: marshal checkpoint manifest: %w", err)
	}

	if err := checkpointFS.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("predicateindex: create checkpoint dir: %w", err)
	}

	path := filepath.Join(dir, string(token)+".json")
	if err := checkpointWriter.WriteWithDefaults(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("predicateindex: write checkpoint manifest: %w", err)
	}

	for _, g := range m.groups {
		g.version.Add(1)
	}

	return nil
}

// CheckpointIndex snapshots every registered group's hash-table shape
// (settings, registered predicate names) to dir, atomically, under token;
// pass the same token to Recover (spec §6.2 "checkpoint_index"). It captures no
// log watermarks, matching FASTER's index-only checkpoint.
func (m *IndexManager[K, V]) CheckpointIndex(dir string, token CheckpointToken) error {
	return m.checkpoint(dir, token, kindIndex, true, false)
}

// CheckpointLog snapshots every registered group's log position (current
// version and head/begin/tail address watermarks) to dir, atomically (spec
// §6.2 "checkpoint_log"). It captures no group shape — recovering from a
// log-only checkpoint requires the caller to already know (or separately
// recover) each group's settings and predicates.
func (m *IndexManager[K, V]) CheckpointLog(dir string, token CheckpointToken) error {
	return m.checkpoint(dir, token, kindLog, false, true)
}

// CheckpointFull captures both halves in one manifest (spec §6.2
// "checkpoint_full").
func (m *IndexManager[K, V]) CheckpointFull(dir string, token CheckpointToken) error {
	return m.checkpoint(dir, token, kindFull, true, true)
}

// RecoveredGroup describes one group a checkpoint manifest recorded, for the
// caller to re-register with RegisterGroup (spec §6.2 "Recover(token):
// ... metadata, not log contents"). Fields populated only by a log half
// (Version, the address watermarks) are zero when the manifest that
// produced this RecoveredGroup was index-only, and vice versa.
type RecoveredGroup struct {
	Settings   GroupSettings
	Predicates []string

	Version      uint64
	HeadAddress  logstore.Address
	BeginAddress logstore.Address
	TailAddress  logstore.Address
}

// Recover reads a checkpoint manifest written by CheckpointIndex/Log/Full
// and returns the group shapes and/or log watermarks it recorded. It does
// not repopulate any group's secondary store or wire predicates back up —
// the caller must re-run RegisterGroup with real ExtractFuncs, since
// functions cannot be serialized (spec §6.2).
func Recover(dir string, token CheckpointToken) ([]RecoveredGroup, error) {
	path := filepath.Join(dir, string(token)+".json")

	buf, err := checkpointFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("predicateindex: read checkpoint manifest: %w", err)
	}

	var doc manifest
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("predicateindex: parse checkpoint manifest: %w", err)
	}

	out := make([]RecoveredGroup, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		out = append(out, RecoveredGroup{
			Settings:     g.Settings,
			Predicates:   g.Predicates,
			Version:      g.Version,
			HeadAddress:  logstore.Address(g.HeadAddress),
			BeginAddress: logstore.Address(g.BeginAddress),
			TailAddress:  logstore.Address(g.TailAddress),
		})
	}

	return out, nil
}

// Flush bumps every group's epoch, marking a durability boundary without
// reclaiming anything (spec §6.2 "flush(wait)"). When wait is true it
// blocks until every in-flight session has observed the bump, guaranteeing
// every splice completed before this call is now stable; when false it
// returns immediately and gives no such guarantee, matching FASTER's
// fire-and-forget flush mode.
func (m *IndexManager[K, V]) Flush(wait bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.groups {
		target := g.store.BumpEpoch()
		if wait {
			g.store.DrainEpoch(target)
		}
	}
}

// FlushAndEvict bumps the epoch and, when wait is true, blocks until every
// session has drained past it before trimming every group's store to its
// current head address (spec §6.2 "flush_and_evict(wait)"). After a
// wait=true call, addresses below each group's new begin address are gone;
// readers below that point must already have completed. With wait=false,
// eviction is skipped entirely rather than trimming out from under a
// session that hasn't drained — the caller must call again with wait=true
// once it's safe.
func (m *IndexManager[K, V]) FlushAndEvict(wait bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.groups {
		target := g.store.BumpEpoch()
		if !wait {
			continue
		}

		g.store.DrainEpoch(target)
		g.store.TrimBefore(g.store.HeadAddress())
	}
}

// DisposeFromMemory drops every group's in-memory state irrecoverably, short
// of a prior checkpoint's structural metadata (spec §6.2, and
// logstore.Store.DisposeFromMemory's documented caveat that this module
// carries no real on-disk log to reload from).
func (m *IndexManager[K, V]) DisposeFromMemory() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.groups {
		g.store.DisposeFromMemory()
	}
}

// checkpointClock is a seam so tests can't depend on wall-clock time
// ordering; production always calls time.Now.
var checkpointClock = time.Now
