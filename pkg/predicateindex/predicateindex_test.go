package predicateindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/faster-go/predicateindex/internal/primarykv"
)

type widget struct {
	Color string
	Size  string
	Count int
}

func colorExtract(_ int, v widget) ([]byte, bool) {
	if v.Color == "" {
		return nil, false
	}

	return padKey(v.Color, 8), true
}

func sizeExtract(_ int, v widget) ([]byte, bool) {
	if v.Size == "" {
		return nil, false
	}

	return padKey(v.Size, 8), true
}

const binThreshold = 100

func binExtract(_ int, v widget) ([]byte, bool) {
	if v.Count >= binThreshold {
		return nil, false
	}

	return padKey(fmt.Sprintf("bin%d", v.Count/10), 8), true
}

func padKey(s string, width int) []byte {
	b := make([]byte, width)
	copy(b, s)

	return b
}

func newTestIndex(t *testing.T) (*primarykv.Fake[int, widget], *IndexManager[int, widget], PredicateHandle, PredicateHandle) {
	t.Helper()

	var (
		mgr           *IndexManager[int, widget]
		colorH, sizeH PredicateHandle
	)

	mgr = NewIndexManager[int, widget]()
	f := primarykv.NewFake[int, widget](mgr.Hooks())
	mgr.BindPrimary(f)

	handles, err := mgr.RegisterGroup(GroupSettings{HashTableSize: 16, KeySize: 8},
		PredicateSpec[int, widget]{Name: "color", Extract: colorExtract},
		PredicateSpec[int, widget]{Name: "size", Extract: sizeExtract},
	)
	require.NoError(t, err)
	colorH, sizeH = handles[0], handles[1]

	return f, mgr, colorH, sizeH
}

func sortedInts(xs []int) []int {
	out := append([]int(nil), xs...)
	sort.Ints(out)

	return out
}

// Scenario 1: basic membership (spec §8).
func TestScenarioBasicMembership(t *testing.T) {
	ctx := context.Background()
	f, mgr, colorH, sizeH := newTestIndex(t)

	_, err := f.Upsert(ctx, 1, widget{Color: "red", Size: "M"})
	require.NoError(t, err)
	_, err = f.Upsert(ctx, 2, widget{Color: "red", Size: "L"})
	require.NoError(t, err)
	_, err = f.Upsert(ctx, 3, widget{Color: "blue", Size: "M"})
	require.NoError(t, err)

	sess := mgr.NewSession()
	defer sess.Close()

	red := padKey("red", 8)
	mSize := padKey("M", 8)

	keys, _, err := sess.Query(ctx, Term{Handle: colorH, Key: red})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, sortedInts(keys))

	keys, _, err = sess.Query(ctx, Term{Handle: sizeH, Key: mSize})
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, sortedInts(keys))

	keys, _, err = sess.And(ctx, Term{Handle: colorH, Key: red}, Term{Handle: sizeH, Key: mSize})
	require.NoError(t, err)
	require.Equal(t, []int{1}, sortedInts(keys))

	keys, _, err = sess.Or(ctx, Term{Handle: colorH, Key: red}, Term{Handle: sizeH, Key: mSize})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, sortedInts(keys))
}

// Scenario 2: RCU preserves queries, no duplicate entries (spec §8).
func TestScenarioRCUPreservesQueries(t *testing.T) {
	ctx := context.Background()
	f, mgr, colorH, _ := newTestIndex(t)

	_, err := f.Upsert(ctx, 1, widget{Color: "red", Size: "M"})
	require.NoError(t, err)
	_, err = f.Upsert(ctx, 2, widget{Color: "red", Size: "L"})
	require.NoError(t, err)
	_, err = f.Upsert(ctx, 3, widget{Color: "blue", Size: "M"})
	require.NoError(t, err)

	_, err = f.Upsert(ctx, 2, widget{Color: "blue", Size: "L"})
	require.NoError(t, err)

	sess := mgr.NewSession()
	defer sess.Close()

	red := padKey("red", 8)
	blue := padKey("blue", 8)

	keys, _, err := sess.Query(ctx, Term{Handle: colorH, Key: red})
	require.NoError(t, err)
	require.Equal(t, []int{1}, sortedInts(keys))

	keys, _, err = sess.Query(ctx, Term{Handle: colorH, Key: blue})
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, sortedInts(keys))
}

// Scenario 3: delete (spec §8).
func TestScenarioDelete(t *testing.T) {
	ctx := context.Background()
	f, mgr, colorH, sizeH := newTestIndex(t)

	_, err := f.Upsert(ctx, 1, widget{Color: "red", Size: "M"})
	require.NoError(t, err)
	_, err = f.Upsert(ctx, 3, widget{Color: "blue", Size: "M"})
	require.NoError(t, err)

	require.NoError(t, f.Delete(ctx, 1))

	sess := mgr.NewSession()
	defer sess.Close()

	red := padKey("red", 8)
	mSize := padKey("M", 8)

	keys, _, err := sess.Query(ctx, Term{Handle: colorH, Key: red})
	require.NoError(t, err)
	require.Empty(t, keys)

	keys, _, err = sess.Query(ctx, Term{Handle: sizeH, Key: mSize})
	require.NoError(t, err)
	require.Equal(t, []int{3}, sortedInts(keys))
}

// Scenario 4: null extraction (spec §8).
func TestScenarioNullExtraction(t *testing.T) {
	ctx := context.Background()

	mgr := NewIndexManager[int, widget]()
	f := primarykv.NewFake[int, widget](mgr.Hooks())
	mgr.BindPrimary(f)

	binH, err := mgr.RegisterGroup(GroupSettings{HashTableSize: 16, KeySize: 8},
		PredicateSpec[int, widget]{Name: "bin", Extract: binExtract},
	)
	require.NoError(t, err)

	_, err = f.Upsert(ctx, 4, widget{Count: 1000})
	require.NoError(t, err)

	sess := mgr.NewSession()
	defer sess.Close()

	for bin := 0; bin < 5; bin++ {
		keys, _, err := sess.Query(ctx, Term{Handle: binH[0], Key: padKey(fmt.Sprintf("bin%d", bin), 8)})
		require.NoError(t, err)
		require.Empty(t, keys)
	}
}

// Scenario 5: vector union over multiple keys on one predicate (spec §8).
func TestScenarioVectorUnion(t *testing.T) {
	ctx := context.Background()
	f, mgr, colorH, _ := newTestIndex(t)

	_, err := f.Upsert(ctx, 2, widget{Color: "red", Size: "L"})
	require.NoError(t, err)
	_, err = f.Upsert(ctx, 3, widget{Color: "blue", Size: "M"})
	require.NoError(t, err)
	_, err = f.Upsert(ctx, 5, widget{Color: "green", Size: "S"})
	require.NoError(t, err)

	sess := mgr.NewSession()
	defer sess.Close()

	keys, _, err := sess.Or(ctx,
		Term{Handle: colorH, Key: padKey("red", 8)},
		Term{Handle: colorH, Key: padKey("blue", 8)},
	)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, sortedInts(keys))
}

// Scenario 6: concurrent inserts (spec §8).
func TestScenarioConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	f, mgr, colorH, _ := newTestIndex(t)

	const (
		goroutines = 8
		perG       = 1000
	)

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()

			for i := 0; i < perG; i++ {
				key := g*perG + i + 1000
				_, err := f.Upsert(ctx, key, widget{Color: "red", Size: "M"})
				require.NoError(t, err)
			}
		}(g)
	}

	wg.Wait()

	sess := mgr.NewSession()
	defer sess.Close()

	keys, _, err := sess.Query(ctx, Term{Handle: colorH, Key: padKey("red", 8)})
	require.NoError(t, err)
	require.Len(t, keys, goroutines*perG)

	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		_, dup := seen[k]
		require.False(t, dup, "primary address must appear exactly once")
		seen[k] = struct{}{}
	}
}

// Boundary: empty extraction across every predicate is a no-op insert.
func TestEmptyExtractionIsNoOp(t *testing.T) {
	ctx := context.Background()
	f, mgr, colorH, sizeH := newTestIndex(t)

	tail := mgr.groups[0].store.TailAddress()

	_, err := f.Upsert(ctx, 9, widget{})
	require.NoError(t, err)
	require.Equal(t, tail, mgr.groups[0].store.TailAddress(), "no composite record may be allocated")

	sess := mgr.NewSession()
	defer sess.Close()

	keys, _, err := sess.Or(ctx, Term{Handle: colorH, Key: padKey("red", 8)}, Term{Handle: sizeH, Key: padKey("M", 8)})
	require.NoError(t, err)
	require.Empty(t, keys)
}

// Boundary: an update that changes nothing observable touches no chain.
func TestNoOpUpdateSkipsSecondary(t *testing.T) {
	ctx := context.Background()
	f, mgr, colorH, _ := newTestIndex(t)

	_, err := f.Upsert(ctx, 1, widget{Color: "red", Size: "M"})
	require.NoError(t, err)

	tail := mgr.groups[0].store.TailAddress()

	require.NoError(t, f.UpdateInPlace(ctx, 1, func(w widget) widget { return w }))
	require.Equal(t, tail, mgr.groups[0].store.TailAddress(), "no composite record may be allocated")

	sess := mgr.NewSession()
	defer sess.Close()

	keys, _, err := sess.Query(ctx, Term{Handle: colorH, Key: padKey("red", 8)})
	require.NoError(t, err)
	require.Equal(t, []int{1}, keys)
}

// QuerySession must reject reentrant use rather than race or deadlock.
func TestQuerySessionRejectsConcurrentUse(t *testing.T) {
	_, mgr, colorH, _ := newTestIndex(t)

	sess := mgr.NewSession()
	defer sess.Close()

	require.True(t, sess.inUse.CompareAndSwap(false, true))
	defer sess.inUse.Store(false)

	_, _, err := sess.Query(context.Background(), Term{Handle: colorH, Key: padKey("red", 8)})
	require.ErrorIs(t, err, ErrConcurrentSessionUse)
}

// RegisterGroup must reject a predicate name already used anywhere in the
// manager, including across different groups.
func TestRegisterGroupRejectsDuplicateNames(t *testing.T) {
	mgr := NewIndexManager[int, widget]()

	_, err := mgr.RegisterGroup(GroupSettings{HashTableSize: 16, KeySize: 8},
		PredicateSpec[int, widget]{Name: "color", Extract: colorExtract},
	)
	require.NoError(t, err)

	_, err = mgr.RegisterGroup(GroupSettings{HashTableSize: 16, KeySize: 8},
		PredicateSpec[int, widget]{Name: "color", Extract: colorExtract},
	)
	require.ErrorIs(t, err, ErrDuplicateName)
}
