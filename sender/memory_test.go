package sender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

type fakeMsg struct{}

func (fakeMsg) Type() message.Type         { return message.TypePut }
func (fakeMsg) Priority() message.Priority { return 1 }
func (fakeMsg) UniqueID() message.UniqueID { return 1 }
func (fakeMsg) Timeout() time.Duration     { return time.Second }
func (fakeMsg) BucketID() (bucket.ID, bool) { return bucket.New(0, 1), true }
func (fakeMsg) DocumentID() (uint64, bool)  { return 0, false }
func (fakeMsg) LockMode() message.LockMode  { return message.Exclusive }

func TestInMemorySenderRecordsRepliesAndCommands(t *testing.T) {
	s := NewInMemorySender()

	require.NoError(t, s.SendReply(Reply{UniqueID: 1, Code: message.Timeout}))
	require.NoError(t, s.SendCommand(fakeMsg{}))

	require.Len(t, s.Replies(), 1)
	require.Equal(t, message.Timeout, s.Replies()[0].Code)
	require.Len(t, s.Commands(), 1)
}
