package dispatch

import (
	"time"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

// testMsg is a minimal message.StorageMessage for tests, playing the role
// cmd/filestorctl's syntheticMessage plays for the operator CLI.
type testMsg struct {
	id       message.UniqueID
	priority message.Priority
	bucket   bucket.ID
	mode     message.LockMode
	timeout  time.Duration
	docID    uint64
	hasDoc   bool
}

func (m testMsg) Type() message.Type         { return message.TypePut }
func (m testMsg) Priority() message.Priority  { return m.priority }
func (m testMsg) UniqueID() message.UniqueID  { return m.id }
func (m testMsg) Timeout() time.Duration      { return m.timeout }
func (m testMsg) BucketID() (bucket.ID, bool) { return m.bucket, true }
func (m testMsg) DocumentID() (uint64, bool)  { return m.docID, m.hasDoc }
func (m testMsg) LockMode() message.LockMode  { return m.mode }

func put(id message.UniqueID, priority message.Priority, b bucket.ID) *message.Entry {
	return message.NewEntry(testMsg{id: id, priority: priority, bucket: b, mode: message.Exclusive, timeout: time.Hour}, b)
}

func get(id message.UniqueID, priority message.Priority, b bucket.ID) *message.Entry {
	return message.NewEntry(testMsg{id: id, priority: priority, bucket: b, mode: message.Shared, timeout: time.Hour}, b)
}
