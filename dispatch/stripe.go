package dispatch

import (
	"context"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/filestorlog"
	"github.com/augustus175/filestor/message"
	"github.com/augustus175/filestor/metrics"
	"github.com/augustus175/filestor/sender"
)

// Stripe is one independent dispatch shard: its own queue, its own lock
// table, its own monitor. Splitting dispatch work across stripes is what
// lets unrelated buckets make progress without contending on a single
// mutex, the same reason core/state/trie_prefetcher.go fans work out to
// per-root subfetchers rather than serializing everything through one
// loop.
//
// Every exported method takes the stripe's mutex; there is no lock-free
// path. Waiters that find nothing runnable block on a wake channel instead
// of a sync.Cond so that GetNextMessage can honor a caller-supplied
// timeout, which plain Cond.Wait cannot do.
type Stripe struct {
	id int

	mu     sync.Mutex
	wakeCh chan struct{}

	queue  *priorityQueue
	locks  *lockTable
	closed bool

	// waiting is the set of buckets a WaitInactive call is currently
	// blocked on, exposed to status reporting so an operator can see
	// which structural change (split/join/move) is stalled and on what.
	waiting mapset.Set[bucket.ID]

	slowScanThreshold time.Duration

	sender sender.MessageSender

	log     filestorlog.Logger
	metrics *metrics.Registry
}

func newStripe(id int, log filestorlog.Logger, reg *metrics.Registry, snd sender.MessageSender) *Stripe {
	return &Stripe{
		id:      id,
		wakeCh:  make(chan struct{}),
		queue:   newPriorityQueue(),
		locks:   newLockTable(),
		waiting: mapset.NewThreadUnsafeSet[bucket.ID](),
		sender:  snd,
		log:     log.With("stripe", id),
		metrics: reg,
	}
}

// wake must be called with mu held; it releases every current waiter so
// each can rescan, then installs a fresh channel for the next generation
// of waiters.
func (s *Stripe) wake() {
	close(s.wakeCh)
	s.wakeCh = make(chan struct{})
}

// Schedule enqueues entry for dispatch and wakes any blocked caller so it
// can rescan immediately, per spec.md §4.1's scheduling step.
func (s *Stripe) Schedule(entry *message.Entry) message.ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return message.Rejected
	}
	s.queue.Push(entry)
	s.metrics.Gauge("dispatch.stripe." + strconv.Itoa(s.id) + ".queue_len").Update(int64(s.queue.Len()))
	s.wake()
	return message.OK
}

// GetNextMessage blocks until an entry becomes runnable, timeout elapses,
// ctx is cancelled, or the stripe is closed, implementing the scan/wait
// loop from spec.md §4.1 steps 1-4. On success the winning entry's lock is
// already acquired in the lock table before it is returned.
func (s *Stripe) GetNextMessage(ctx context.Context, timeout time.Duration) (*message.Entry, message.ReturnCode) {
	deadline := time.Now().Add(timeout)

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, message.Rejected
		}

		now := time.Now()
		dispatched, timedOut := s.queue.Scan(now, s.locks.Runnable)
		if threshold := s.slowScanThreshold; threshold > 0 {
			if elapsed := time.Since(now); elapsed > threshold {
				s.log.Warn("slow stripe scan", "elapsed", elapsed, "queue_len", s.queue.Len())
			}
		}
		for _, e := range timedOut {
			s.log.Debug("message timed out while queued", "bucket", e.TargetBucket, "id", e.Msg.UniqueID())
			if s.sender != nil {
				if err := s.sender.SendReply(sender.Reply{UniqueID: e.Msg.UniqueID(), Code: message.Timeout}); err != nil {
					s.log.Warn("failed to deliver synthetic timeout reply", "id", e.Msg.UniqueID(), "err", err)
				}
			}
		}

		if dispatched != nil {
			mode := dispatched.Msg.LockMode()
			s.locks.Acquire(dispatched.TargetBucket, mode, message.LockEntry{
				Timestamp: now,
				Priority:  dispatched.Msg.Priority(),
				Type:      dispatched.Msg.Type(),
				UniqueID:  dispatched.Msg.UniqueID(),
			})
			s.mu.Unlock()
			return dispatched, message.OK
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.mu.Unlock()
			return nil, message.Timeout
		}

		waitCh := s.wakeCh
		s.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-waitCh:
			timer.Stop()
		case <-timer.C:
			return nil, message.Timeout
		case <-ctx.Done():
			timer.Stop()
			return nil, message.Aborted
		}
	}
}

// Release drops holder's lock on b and wakes blocked dispatchers so
// anything that became runnable can be picked up, per spec.md §5's
// BucketLock release contract.
func (s *Stripe) Release(b bucket.ID, holder message.UniqueID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks.Release(b, holder)
	s.wake()
}

// FailOperations drops every queued entry targeting b and forcibly clears
// any locks still held on it, returning the failed entries so the caller
// can synthesize replies. Used when a bucket is deleted out from under
// pending work (split/join/move completion).
func (s *Stripe) FailOperations(b bucket.ID) []*message.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := s.queue.RemoveBucket(b)
	s.locks.ReleaseAllForBucket(b)
	s.wake()
	return failed
}

// AbortQueuedOperations removes every queued entry whose message type may
// be aborted (message.Type.MayBeAborted) and for which pred returns true,
// without touching anything already dispatched (in flight entries hold
// their lock and are tracked by their caller, not the queue).
func (s *Stripe) AbortQueuedOperations(pred func(*message.Entry) bool) []*message.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.RemoveMatching(func(e *message.Entry) bool {
		return e.Msg.Type().MayBeAborted() && pred(e)
	})
}

// WaitInactive blocks until b has no held locks, so a caller can safely
// perform a structural change (split, join, move) without racing
// in-flight work on that bucket. Queued entries for b do not count: they
// are what a remap moves. b is recorded in the
// stripe's waiting set for the duration of the call, so status reporting
// can surface which bucket a pending structural change is stalled on.
func (s *Stripe) WaitInactive(ctx context.Context, b bucket.ID) error {
	s.mu.Lock()
	s.waiting.Add(b)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.waiting.Remove(b)
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		_, held := s.locks.Holders(b)
		if !held {
			s.mu.Unlock()
			return nil
		}
		waitCh := s.wakeCh
		s.mu.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitNoActiveLocks blocks until this stripe holds zero locks at all,
// the building block for Handler.Drain's pre-maintenance quiescence
// check. Unlike WaitInactive it is not scoped to one bucket; like it, it
// ignores queued (not yet dispatched) entries entirely — only active,
// locked work counts.
func (s *Stripe) waitNoActiveLocks(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.locks.Empty() {
			s.mu.Unlock()
			return nil
		}
		waitCh := s.wakeCh
		s.mu.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stripe) bucketQueued(b bucket.ID) bool {
	for _, e := range s.queue.Entries() {
		if e.TargetBucket == b {
			return true
		}
	}
	return false
}

// Close marks the stripe closed: further Schedule calls are rejected and
// every blocked GetNextMessage wakes to observe it.
func (s *Stripe) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.wake()
}

// Holders returns the current holders of b, for status reporting.
func (s *Stripe) Holders(b bucket.ID) ([]message.LockEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Holders(b)
}

// QueueSnapshot returns every currently-queued entry, for status
// reporting.
func (s *Stripe) QueueSnapshot() []*message.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Entries()
}
