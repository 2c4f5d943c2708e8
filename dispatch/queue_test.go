package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

func alwaysRunnable(bucket.ID, message.LockMode) bool { return true }
func neverRunnable(bucket.ID, message.LockMode) bool  { return false }

func TestPriorityQueueFIFOAtEqualPriority(t *testing.T) {
	q := newPriorityQueue()
	b := bucket.New(0, 0x40)
	q.Push(put(1, 100, b))
	q.Push(put(2, 100, b))

	first, _ := q.Scan(time.Now(), alwaysRunnable)
	require.NotNil(t, first)
	require.Equal(t, message.UniqueID(1), first.Msg.UniqueID())

	second, _ := q.Scan(time.Now(), alwaysRunnable)
	require.NotNil(t, second)
	require.Equal(t, message.UniqueID(2), second.Msg.UniqueID())
}

func TestPriorityQueuePriorityOrdering(t *testing.T) {
	q := newPriorityQueue()
	x := bucket.New(16, 1)
	y := bucket.New(16, 2)
	q.Push(put(1, 200, x))
	q.Push(put(2, 100, y))

	dispatched, _ := q.Scan(time.Now(), alwaysRunnable)
	require.NotNil(t, dispatched)
	require.Equal(t, message.UniqueID(2), dispatched.Msg.UniqueID())
}

func TestPriorityQueueSkipsNonRunnableAndPreservesOrder(t *testing.T) {
	q := newPriorityQueue()
	locked := bucket.New(16, 1)
	free := bucket.New(16, 2)
	q.Push(put(1, 10, locked))
	q.Push(put(2, 20, free))

	runnable := func(b bucket.ID, m message.LockMode) bool { return b == free }
	dispatched, timedOut := q.Scan(time.Now(), runnable)
	require.Empty(t, timedOut)
	require.NotNil(t, dispatched)
	require.Equal(t, message.UniqueID(2), dispatched.Msg.UniqueID())

	// The skipped, still-locked entry must still be queued afterwards.
	require.Equal(t, 1, q.Len())
	remaining := q.Entries()
	require.Equal(t, message.UniqueID(1), remaining[0].Msg.UniqueID())
}

func TestPriorityQueueReapsExpiredEntries(t *testing.T) {
	q := newPriorityQueue()
	b := bucket.New(0, 1)
	entry := message.NewEntry(testMsg{id: 1, priority: 10, bucket: b, mode: message.Exclusive, timeout: time.Millisecond}, b)
	q.Push(entry)

	time.Sleep(5 * time.Millisecond)
	dispatched, timedOut := q.Scan(time.Now(), alwaysRunnable)
	require.Nil(t, dispatched)
	require.Len(t, timedOut, 1)
	require.Equal(t, 0, q.Len())
}

func TestPriorityQueueRemoveBucket(t *testing.T) {
	q := newPriorityQueue()
	a := bucket.New(16, 1)
	c := bucket.New(16, 2)
	q.Push(put(1, 10, a))
	q.Push(put(2, 10, a))
	q.Push(put(3, 10, c))

	removed := q.RemoveBucket(a)
	require.Len(t, removed, 2)
	require.Equal(t, 1, q.Len())
}

func TestPriorityQueueRemoveMatching(t *testing.T) {
	q := newPriorityQueue()
	a := bucket.New(16, 1)
	b2 := bucket.New(16, 2)
	c := bucket.New(16, 3)
	q.Push(put(1, 10, a))
	q.Push(put(2, 10, b2))
	q.Push(put(3, 10, c))

	matched := map[bucket.ID]bool{a: true, c: true}
	removed := q.RemoveMatching(func(e *message.Entry) bool { return matched[e.TargetBucket] })
	require.Len(t, removed, 2)

	remaining := q.Entries()
	require.Len(t, remaining, 1)
	require.Equal(t, b2, remaining[0].TargetBucket)
}
