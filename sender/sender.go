// Package sender defines the outbound side of the dispatch boundary: how
// synthetic replies (timeout, aborted, disk-down) and forwarded commands
// leave the handler and reach whatever produced the original message.
// The handler only ever calls these two methods; it never blocks on them
// succeeding.
package sender

import (
	"github.com/augustus175/filestor/message"
)

// Reply is a synthetic response the dispatch core manufactures on behalf
// of a message it is relinquishing without having run it: a timeout while
// queued, an abort, or a disk going down mid-queue.
type Reply struct {
	UniqueID message.UniqueID
	Code     message.ReturnCode
}

// MessageSender is the external interface spec.md §6 calls out: the
// handler emits synthetic replies and forwarded commands through it and
// never inspects what happens next. Implementations must not block the
// calling goroutine for long — a stripe sends timeout replies while
// holding its own monitor, so a slow sender stalls every other caller of
// that stripe, including workers waiting on GetNextMessage.
type MessageSender interface {
	// SendReply delivers a synthesized reply for a message the handler
	// relinquished without executing.
	SendReply(reply Reply) error

	// SendCommand forwards a message the handler itself needs to
	// re-issue, such as an abort command being propagated to whichever
	// component owns message delivery.
	SendCommand(msg message.StorageMessage) error
}
