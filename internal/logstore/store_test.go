package logstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testRecord struct {
	value int
}

func TestBlockAllocateAssignsIncreasingAddresses(t *testing.T) {
	st, err := New[testRecord](Options{HashTableSize: 16})
	require.NoError(t, err)

	a1, r1, err := st.BlockAllocate()
	require.NoError(t, err)
	r1.value = 1
	a2, r2, err := st.BlockAllocate()
	require.NoError(t, err)
	r2.value = 2

	require.Less(t, uint64(a1), uint64(a2))
	require.Equal(t, 1, r1.value)
	require.Equal(t, 2, r2.value)
	require.Equal(t, Address(a2+1), st.TailAddress())
}

func TestPhysicalAddressRejectsTrimmedAndUnallocated(t *testing.T) {
	st, err := New[testRecord](Options{HashTableSize: 16})
	require.NoError(t, err)

	addr, r, err := st.BlockAllocate()
	require.NoError(t, err)
	r.value = 7

	_, _, ok := st.PhysicalAddress(addr + 100)
	require.False(t, ok, "unallocated address must not resolve")

	st.TrimBefore(addr + 1)

	_, _, ok = st.PhysicalAddress(addr)
	require.False(t, ok, "trimmed address must not resolve")
}

func TestBucketCompareAndSwap(t *testing.T) {
	st, err := New[testRecord](Options{HashTableSize: 2})
	require.NoError(t, err)

	b, tag := st.FindOrCreateBucket(0xABCD)
	require.True(t, b.Load().Empty())

	desired := PackEntry(tag, 5)
	actual, swapped := b.CompareAndSwap(b.Load(), desired)
	require.True(t, swapped)
	require.Equal(t, Address(5), actual.Address())

	// Swap 5 -> 9 while 5 is still current; afterwards the same expected
	// value is stale and must fail the CAS and report the winner.
	stale := PackEntry(tag, 5)
	other := PackEntry(tag, 9)
	actual, swapped = b.CompareAndSwap(stale, other)
	require.True(t, swapped, "expected value still matches current word")
	require.Equal(t, Address(9), actual.Address())

	actual, swapped = b.CompareAndSwap(stale, other)
	require.False(t, swapped)
	require.Equal(t, Address(9), actual.Address())
}

func TestPendingReadProtocol(t *testing.T) {
	st, err := New[testRecord](Options{HashTableSize: 16, MemoryWindow: 2})
	require.NoError(t, err)

	var addrs []Address
	for i := range 5 {
		addr, r, err := st.BlockAllocate()
		require.NoError(t, err)
		r.value = i
		addrs = append(addrs, addr)
	}

	sess := st.NewSession()
	defer sess.Close()

	cold := addrs[0]
	_, inMemory, ok := st.PhysicalAddress(cold)
	require.True(t, ok)
	require.False(t, inMemory, "oldest record should have fallen below the memory window")

	var got int
	err = sess.IssueReadFromDisk(cold, func(r *testRecord) { got = r.value })
	require.ErrorIs(t, err, ErrPending)
	require.True(t, sess.HasPending())

	n := sess.CompletePending(true)
	require.Equal(t, 1, n)
	require.Equal(t, 0, got)
	require.False(t, sess.HasPending())
}

func TestDisposeFromMemoryResetsStore(t *testing.T) {
	st, err := New[testRecord](Options{HashTableSize: 4})
	require.NoError(t, err)

	_, r, err := st.BlockAllocate()
	require.NoError(t, err)
	r.value = 1

	st.DisposeFromMemory()

	require.Equal(t, Address(1), st.TailAddress())
	require.Equal(t, Address(1), st.BeginAddress())
}
