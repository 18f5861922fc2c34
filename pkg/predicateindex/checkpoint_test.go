package predicateindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckpointIndexThenRecoverRoundTripsGroupShapes(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	dir := t.TempDir()
	token := CheckpointToken("tok-1")

	require.NoError(t, mgr.CheckpointIndex(dir, token))

	got, err := Recover(dir, token)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []string{"color", "size"}, got[0].Predicates)
	require.Equal(t, GroupSettings{HashTableSize: 16, KeySize: 8}, got[0].Settings)
}

func TestCheckpointFullCapturesBothHalves(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	dir := t.TempDir()
	token := CheckpointToken("tok-full")

	require.NoError(t, mgr.CheckpointFull(dir, token))

	got, err := Recover(dir, token)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []string{"color", "size"}, got[0].Predicates)
	require.Equal(t, uint64(1), got[0].Version)
}

func TestCheckpointLogCapturesWatermarksButNotShape(t *testing.T) {
	ctx := context.Background()
	f, mgr, colorH, _ := newTestIndex(t)

	_, err := f.Upsert(ctx, 1, widget{Color: "red", Size: "M"})
	require.NoError(t, err)

	dir := t.TempDir()
	token := CheckpointToken("tok-log")

	require.NoError(t, mgr.CheckpointLog(dir, token))

	got, err := Recover(dir, token)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Empty(t, got[0].Predicates)
	require.Equal(t, GroupSettings{}, got[0].Settings)
	require.Equal(t, uint64(1), got[0].Version)
	require.NotZero(t, got[0].TailAddress)

	sess := mgr.NewSession()
	defer sess.Close()

	keys, _, err := sess.Query(ctx, Term{Handle: colorH, Key: padKey("red", 8)})
	require.NoError(t, err)
	require.Equal(t, []int{1}, keys)
}

func TestCheckpointIndexBumpsGroupVersion(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	g := mgr.groups[0]
	before := g.version.Load()

	require.NoError(t, mgr.CheckpointIndex(t.TempDir(), CheckpointToken("tok-version")))

	require.Equal(t, before+1, g.version.Load())
}

func TestCheckpointIndexClearsCheckpointingFlagAfterward(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	g := mgr.groups[0]

	require.NoError(t, mgr.CheckpointIndex(t.TempDir(), CheckpointToken("tok-flag")))

	require.False(t, g.checkpointing.Load())
}

func TestRecoverFailsOnUnknownToken(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	dir := t.TempDir()
	require.NoError(t, mgr.CheckpointIndex(dir, CheckpointToken("tok-real")))

	_, err := Recover(dir, CheckpointToken("tok-missing"))
	require.Error(t, err)
}

func TestRecoverDoesNotReregisterPredicates(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	dir := t.TempDir()
	token := CheckpointToken("tok-no-rewire")

	require.NoError(t, mgr.CheckpointIndex(dir, token))

	other := NewIndexManager[int, widget]()

	got, err := Recover(dir, token)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = other.RegisterGroup(got[0].Settings,
		PredicateSpec[int, widget]{Name: "color", Extract: colorExtract},
		PredicateSpec[int, widget]{Name: "size", Extract: sizeExtract},
	)
	require.NoError(t, err)
}

func TestCheckpointManifestPathIsTokenScoped(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	dir := t.TempDir()
	require.NoError(t, mgr.CheckpointIndex(dir, CheckpointToken("abc")))

	exists, err := checkpointFS.Exists(filepath.Join(dir, "abc.json"))
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCheckpointClockSeamIsOverridable(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	old := checkpointClock
	checkpointClock = func() time.Time { return fixed }
	defer func() { checkpointClock = old }()

	require.NoError(t, mgr.CheckpointIndex(t.TempDir(), CheckpointToken("tok-clock")))
}

func TestFlushAndEvictIsSafeWithNoSessions(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	require.NotPanics(t, func() { mgr.FlushAndEvict(true) })
}

func TestFlushAndEvictWithoutWaitDoesNotTrim(t *testing.T) {
	ctx := context.Background()
	f, mgr, _, _ := newTestIndex(t)

	_, err := f.Upsert(ctx, 1, widget{Color: "red", Size: "M"})
	require.NoError(t, err)

	g := mgr.groups[0]
	before := g.store.BeginAddress()

	mgr.FlushAndEvict(false)

	require.Equal(t, before, g.store.BeginAddress())
}

func TestFlushWithWaitReturnsPromptly(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	require.NotPanics(t, func() { mgr.Flush(true) })
}

func TestFlushWithoutWaitReturnsImmediately(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	require.NotPanics(t, func() { mgr.Flush(false) })
}

func TestDisposeFromMemoryIsSafeAfterCheckpoint(t *testing.T) {
	_, mgr, _, _ := newTestIndex(t)

	require.NoError(t, mgr.CheckpointIndex(t.TempDir(), CheckpointToken("tok-dispose")))
	require.NotPanics(t, func() { mgr.DisposeFromMemory() })
}
