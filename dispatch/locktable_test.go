package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

func TestLockTableExclusiveBlocksEverything(t *testing.T) {
	lt := newLockTable()
	b := bucket.New(0, 1)
	require.True(t, lt.Runnable(b, message.Exclusive))

	lt.Acquire(b, message.Exclusive, message.LockEntry{UniqueID: 1, Timestamp: time.Now()})
	require.False(t, lt.Runnable(b, message.Exclusive))
	require.False(t, lt.Runnable(b, message.Shared))

	lt.Release(b, 1)
	require.True(t, lt.Runnable(b, message.Exclusive))
}

func TestLockTableSharedAllowsMultipleHolders(t *testing.T) {
	lt := newLockTable()
	b := bucket.New(0, 1)

	lt.Acquire(b, message.Shared, message.LockEntry{UniqueID: 1})
	require.True(t, lt.Runnable(b, message.Shared))
	require.False(t, lt.Runnable(b, message.Exclusive))

	lt.Acquire(b, message.Shared, message.LockEntry{UniqueID: 2})
	lt.Acquire(b, message.Shared, message.LockEntry{UniqueID: 3})

	holders, ok := lt.Holders(b)
	require.True(t, ok)
	require.Len(t, holders, 3)

	lt.Release(b, 1)
	lt.Release(b, 2)
	require.True(t, lt.Runnable(b, message.Shared))
	require.False(t, lt.Runnable(b, message.Exclusive))

	lt.Release(b, 3)
	_, ok = lt.Holders(b)
	require.False(t, ok)
}

func TestLockTableExclusiveAfterSharedPanics(t *testing.T) {
	lt := newLockTable()
	b := bucket.New(0, 1)
	lt.Acquire(b, message.Shared, message.LockEntry{UniqueID: 1})

	require.Panics(t, func() {
		lt.Acquire(b, message.Exclusive, message.LockEntry{UniqueID: 2})
	})
}

func TestLockTableReleaseUnknownHolderIsNoop(t *testing.T) {
	lt := newLockTable()
	b := bucket.New(0, 1)
	require.NotPanics(t, func() { lt.Release(b, 99) })
}
