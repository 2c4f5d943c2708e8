package sender

import (
	"sync"

	"github.com/augustus175/filestor/message"
)

// InMemorySender is a MessageSender that just records what it was asked
// to deliver, behind a mutex. It is the default sender for tests and for
// the CLI's synthetic-traffic mode (cmd/filestorctl), where there is no
// real upstream client to deliver replies to.
type InMemorySender struct {
	mu       sync.Mutex
	replies  []Reply
	commands []message.StorageMessage
}

// NewInMemorySender returns an empty InMemorySender.
func NewInMemorySender() *InMemorySender {
	return &InMemorySender{}
}

func (s *InMemorySender) SendReply(reply Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply)
	return nil
}

func (s *InMemorySender) SendCommand(msg message.StorageMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, msg)
	return nil
}

// Replies returns every reply recorded so far, in delivery order.
func (s *InMemorySender) Replies() []Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reply, len(s.replies))
	copy(out, s.replies)
	return out
}

// Commands returns every forwarded command recorded so far, in delivery
// order.
func (s *InMemorySender) Commands() []message.StorageMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.StorageMessage, len(s.commands))
	copy(out, s.commands)
	return out
}
