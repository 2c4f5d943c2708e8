package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

func TestBucketLockReleaseFreesTheBucket(t *testing.T) {
	s := newTestStripe()
	b := bucket.New(0, 1)
	require.Equal(t, message.OK, s.Schedule(put(1, 10, b)))

	entry, code := s.GetNextMessage(context.Background(), time.Second)
	require.Equal(t, message.OK, code)

	lock := newBucketLock(nil, s, entry.TargetBucket, entry.Msg.LockMode(), entry.Msg.UniqueID())
	require.False(t, s.locks.Runnable(b, message.Exclusive))

	lock.Release()
	require.True(t, s.locks.Runnable(b, message.Exclusive))
}

func TestBucketLockExposesBucketAndMode(t *testing.T) {
	s := newTestStripe()
	b := bucket.New(0, 7)
	lock := newBucketLock(nil, s, b, message.Shared, 1)
	require.Equal(t, b, lock.Bucket())
	require.Equal(t, message.Shared, lock.Mode())
	lock.Release()
}
