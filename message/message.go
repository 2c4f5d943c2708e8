// Package message defines the shapes the dispatch core consumes from and
// emits to the surrounding storage node: the StorageMessage interface
// produced by the (out of scope) wire protocol, lock-mode/priority/return
// code vocabularies, and the MessageEntry record the queue actually holds.
package message

import (
	"time"

	"github.com/augustus175/filestor/bucket"
)

// LockMode is the kind of bucket lock an operation requires while it runs.
type LockMode uint8

const (
	// Shared permits any number of concurrent holders, none of which may
	// modify the bucket's content. Reads and other non-modifying
	// operations require this mode.
	Shared LockMode = iota
	// Exclusive permits exactly one holder. Writes and bucket-management
	// operations (split, join, move) require this mode.
	Exclusive
)

func (m LockMode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// Priority is numeric, per-message; lower values are dispatched first.
// There is no fairness guarantee across priorities or tenants — see
// spec.md §1 Non-goals.
type Priority = uint8

// Type identifies the kind of bucket operation a message carries. The
// dispatch core only needs to know enough about Type to decide lock mode
// and abortability; everything else belongs to the persistence SPI.
type Type uint8

const (
	TypePut Type = iota
	TypeGet
	TypeRemove
	TypeUpdate
	TypeSplit
	TypeJoin
	TypeMove
	TypeMerge
	TypeStatCommand
)

// lockModeByType is consulted by (Type).LockMode when the message itself
// doesn't override it (see StorageMessage.LockMode).
var lockModeByType = map[Type]LockMode{
	TypePut:         Exclusive,
	TypeGet:         Shared,
	TypeRemove:      Exclusive,
	TypeUpdate:      Exclusive,
	TypeSplit:       Exclusive,
	TypeJoin:        Exclusive,
	TypeMove:        Exclusive,
	TypeMerge:       Shared,
	TypeStatCommand: Shared,
}

// DefaultLockMode returns the lock mode conventionally required by
// operations of this type: EXCLUSIVE for writes and bucket-management,
// SHARED for reads and non-modifying operations.
func (t Type) DefaultLockMode() LockMode {
	if m, ok := lockModeByType[t]; ok {
		return m
	}
	return Exclusive
}

// abortable is the set of message types that represent state-modifying
// operations and are therefore eligible for AbortQueuedOperations; reads
// and internal control messages are never aborted.
var abortable = map[Type]bool{
	TypePut:    true,
	TypeRemove: true,
	TypeUpdate: true,
	TypeSplit:  true,
	TypeJoin:   true,
	TypeMove:   true,
}

// MayBeAborted reports whether messages of this type are eligible to be
// removed from a queue by an abort command.
func (t Type) MayBeAborted() bool {
	return abortable[t]
}

func (t Type) String() string {
	switch t {
	case TypePut:
		return "PUT"
	case TypeGet:
		return "GET"
	case TypeRemove:
		return "REMOVE"
	case TypeUpdate:
		return "UPDATE"
	case TypeSplit:
		return "SPLIT"
	case TypeJoin:
		return "JOIN"
	case TypeMove:
		return "MOVE"
	case TypeMerge:
		return "MERGE"
	case TypeStatCommand:
		return "STAT_COMMAND"
	default:
		return "UNKNOWN"
	}
}

// ReturnCode is the common storage return code enum the handler emits for
// expected error conditions. It never panics or returns a Go error across
// its public surface for these; see spec.md §7.
type ReturnCode uint8

const (
	OK ReturnCode = iota
	Timeout
	Aborted
	BucketDeleted
	BucketNotFound
	DiskFailure
	NotReady
	Rejected
)

func (c ReturnCode) String() string {
	switch c {
	case OK:
		return "OK"
	case Timeout:
		return "TIMEOUT"
	case Aborted:
		return "ABORTED"
	case BucketDeleted:
		return "BUCKET_DELETED"
	case BucketNotFound:
		return "BUCKET_NOT_FOUND"
	case DiskFailure:
		return "DISK_FAILURE"
	case NotReady:
		return "NOT_READY"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// UniqueID identifies one in-flight message system-wide. Every unique
// message id corresponds to at most one live lock entry (spec.md §3
// invariant 3).
type UniqueID uint64

// StorageMessage is produced by the (out of scope) wire protocol decoder.
// The dispatch core only reaches into it for routing and lock-mode
// decisions; the payload itself is opaque.
type StorageMessage interface {
	Type() Type
	Priority() Priority
	UniqueID() UniqueID
	Timeout() time.Duration
	// BucketID returns the target bucket and true, or (bucket.Null, false)
	// if the message doesn't carry an explicit target (rare; most messages
	// do).
	BucketID() (bucket.ID, bool)
	// DocumentID returns the document id the message carries and true, or
	// (0, false) if the message operates at the bucket level and carries
	// no document id (e.g. a bare split/join command). Split remap uses
	// this to compute the destination child.
	DocumentID() (uint64, bool)
	// LockMode returns the lock mode this specific message instance
	// requires; usually Type().DefaultLockMode() but left overridable
	// since some commands vary (e.g. a conditional put that degrades to a
	// read under certain engine configurations).
	LockMode() LockMode
}

// Entry is the record the queue actually holds: an immutable-ish wrapper
// around a StorageMessage with its target bucket, queueing metadata and
// enqueue timestamp. Entries are created on Schedule and destroyed when
// dispatched or aborted — they never outlive the queue or the lock table.
type Entry struct {
	Msg         StorageMessage
	TargetBucket bucket.ID
	EnqueuedAt  time.Time
	// seq breaks ties between equal-priority entries in FIFO (enqueue)
	// order; it is assigned once, monotonically, by the queue that first
	// accepts the entry.
	seq uint64
}

// NewEntry wraps a message for a specific target bucket at the current
// time. Sequence assignment happens inside the queue, not here, since the
// ordering that matters is insertion-into-queue order, not construction
// order (they coincide in practice, but the queue owns the counter).
func NewEntry(msg StorageMessage, target bucket.ID) *Entry {
	return &Entry{
		Msg:          msg,
		TargetBucket: target,
		EnqueuedAt:   time.Now(),
	}
}

// Seq returns the FIFO tie-break sequence number assigned by the queue.
func (e *Entry) Seq() uint64 { return e.seq }

// SetSeq is called exactly once, by the queue, when the entry is inserted.
func (e *Entry) SetSeq(seq uint64) { e.seq = seq }

// Expired reports whether this entry has been queued longer than its
// declared per-message timeout, as of `now`.
func (e *Entry) Expired(now time.Time) bool {
	timeout := e.Msg.Timeout()
	if timeout <= 0 {
		return false
	}
	return now.Sub(e.EnqueuedAt) >= timeout
}

// LockEntry represents one holder of a bucket lock: enough information to
// report it in a status dump and to release it by unique id.
type LockEntry struct {
	Timestamp time.Time
	Priority  Priority
	Type      Type
	UniqueID  UniqueID
}
