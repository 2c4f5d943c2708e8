package dispatch

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

// multiLockEntry is the per-bucket lock state described in spec.md §3: a
// bucket is held either by exactly one exclusive holder, or by any number
// of shared holders, never both at once (invariant 1). A bucket with no
// holders has no multiLockEntry at all. The shared set is keyed on the
// full LockEntry value (all fields comparable) rather than bare
// UniqueID, so it is the sole record of a shared holder's metadata
// instead of a decorative mirror of a separate map.
type multiLockEntry struct {
	exclusive *message.LockEntry

	shared mapset.Set[message.LockEntry]
}

func newMultiLockEntry() *multiLockEntry {
	return &multiLockEntry{
		shared: mapset.NewThreadUnsafeSet[message.LockEntry](),
	}
}

func (e *multiLockEntry) empty() bool {
	return e.exclusive == nil && e.shared.Cardinality() == 0
}

// lockTable is the per-stripe map from bucket to its current holder set.
// Like priorityQueue, it does no locking of its own: the owning stripe's
// monitor must already be held by every caller.
type lockTable struct {
	entries map[bucket.ID]*multiLockEntry
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[bucket.ID]*multiLockEntry)}
}

// Runnable reports whether a lock in mode m on bucket b could be granted
// right now, without granting it.
func (t *lockTable) Runnable(b bucket.ID, m message.LockMode) bool {
	e, ok := t.entries[b]
	if !ok {
		return true
	}
	if e.exclusive != nil {
		return false
	}
	// Shared holders present: an exclusive request must wait, a shared
	// request may join.
	return m == message.Shared
}

// Acquire grants a lock on b in mode m to holder, which must already have
// passed Runnable. It panics if called when the request would violate the
// exclusive-xor-shared invariant, since that indicates a dispatch bug
// rather than a normal runtime condition.
func (t *lockTable) Acquire(b bucket.ID, m message.LockMode, holder message.LockEntry) {
	e, ok := t.entries[b]
	if !ok {
		e = newMultiLockEntry()
		t.entries[b] = e
	}
	switch m {
	case message.Exclusive:
		if !e.empty() {
			panic("dispatch: exclusive lock granted over existing holders")
		}
		e.exclusive = &holder
	case message.Shared:
		if e.exclusive != nil {
			panic("dispatch: shared lock granted while exclusively held")
		}
		e.shared.Add(holder)
	}
}

// Release drops holder's lock on b. It is a no-op if holder does not
// currently hold b, which happens harmlessly during abort races.
func (t *lockTable) Release(b bucket.ID, holder message.UniqueID) {
	e, ok := t.entries[b]
	if !ok {
		return
	}
	if e.exclusive != nil && e.exclusive.UniqueID == holder {
		e.exclusive = nil
	} else {
		for _, le := range e.shared.ToSlice() {
			if le.UniqueID == holder {
				e.shared.Remove(le)
				break
			}
		}
	}
	if e.empty() {
		delete(t.entries, b)
	}
}

// ReleaseAllForBucket forcibly clears every holder of b, used when a
// bucket is deleted out from under its locks (merge completion, split).
func (t *lockTable) ReleaseAllForBucket(b bucket.ID) {
	delete(t.entries, b)
}

// Holders returns a snapshot of who currently holds b, for status
// reporting. The bool is false if the bucket has no holders.
func (t *lockTable) Holders(b bucket.ID) ([]message.LockEntry, bool) {
	holders, _, ok := t.HoldersWithMode(b)
	return holders, ok
}

// HoldersWithMode returns b's current holders together with the mode
// they are held in. A bucket held by exactly one shared reader must not
// be reported as exclusive, which is why this (rather than a holder
// count) is the source of truth for status reporting.
func (t *lockTable) HoldersWithMode(b bucket.ID) ([]message.LockEntry, message.LockMode, bool) {
	e, ok := t.entries[b]
	if !ok || e.empty() {
		return nil, message.Shared, false
	}
	if e.exclusive != nil {
		return []message.LockEntry{*e.exclusive}, message.Exclusive, true
	}
	return e.shared.ToSlice(), message.Shared, true
}

// Empty reports whether this lock table currently holds no locks at all,
// for Handler.Drain's "zero active messages" check.
func (t *lockTable) Empty() bool {
	return len(t.entries) == 0
}

// LockedBuckets returns every bucket currently holding at least one lock,
// for status reporting and for waitInactive-style scans.
func (t *lockTable) LockedBuckets() []bucket.ID {
	out := make([]bucket.ID, 0, len(t.entries))
	for b := range t.entries {
		out = append(out, b)
	}
	return out
}
