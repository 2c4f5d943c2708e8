package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/augustus175/filestor/bucket"
)

func TestTypeDefaultLockMode(t *testing.T) {
	require.Equal(t, Exclusive, TypePut.DefaultLockMode())
	require.Equal(t, Shared, TypeGet.DefaultLockMode())
	require.Equal(t, Shared, TypeMerge.DefaultLockMode())
}

func TestTypeMayBeAborted(t *testing.T) {
	require.True(t, TypePut.MayBeAborted())
	require.True(t, TypeSplit.MayBeAborted())
	require.False(t, TypeGet.MayBeAborted())
	require.False(t, TypeStatCommand.MayBeAborted())
}

func TestReturnCodeString(t *testing.T) {
	require.Equal(t, "OK", OK.String())
	require.Equal(t, "BUCKET_NOT_FOUND", BucketNotFound.String())
}

type fakeMsg struct {
	timeout time.Duration
}

func (f fakeMsg) Type() Type                  { return TypePut }
func (f fakeMsg) Priority() Priority          { return 1 }
func (f fakeMsg) UniqueID() UniqueID          { return 1 }
func (f fakeMsg) Timeout() time.Duration      { return f.timeout }
func (f fakeMsg) BucketID() (bucket.ID, bool) { return bucket.New(0, 1), true }
func (f fakeMsg) DocumentID() (uint64, bool)  { return 0, false }
func (f fakeMsg) LockMode() LockMode          { return Exclusive }

func TestEntryExpired(t *testing.T) {
	b := bucket.New(0, 1)
	e := NewEntry(fakeMsg{timeout: 10 * time.Millisecond}, b)
	require.False(t, e.Expired(e.EnqueuedAt))

	later := e.EnqueuedAt.Add(20 * time.Millisecond)
	require.True(t, e.Expired(later))
}

func TestEntryNeverExpiresWithZeroTimeout(t *testing.T) {
	b := bucket.New(0, 1)
	e := NewEntry(fakeMsg{timeout: 0}, b)
	require.False(t, e.Expired(e.EnqueuedAt.Add(24*time.Hour)))
}

func TestEntrySeqAssignment(t *testing.T) {
	b := bucket.New(0, 1)
	e := NewEntry(fakeMsg{}, b)
	require.Equal(t, uint64(0), e.Seq())
	e.SetSeq(42)
	require.Equal(t, uint64(42), e.Seq())
}
