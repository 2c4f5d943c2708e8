package dispatch

import (
	"container/heap"
	"time"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

// queueItem is one entry sitting in a priorityQueue. It carries its own
// heap index (maintained by heapImpl.Swap, the standard container/heap
// idiom for supporting arbitrary-position Remove) so the queue can pull an
// item out of the middle when a remap or abort touches it without
// scanning the whole heap.
type queueItem struct {
	entry *message.Entry
	index int
}

// heapImpl is the ordered-by-priority index: container/heap driven by
// (priority, seq), exactly the shape core/vote/vote_pool.go uses for its
// votesPriorityQueue, extended with index tracking for O(log n) removal.
type heapImpl []*queueItem

func (h heapImpl) Len() int { return len(h) }

func (h heapImpl) Less(i, j int) bool {
	pi, pj := h[i].entry.Msg.Priority(), h[j].entry.Msg.Priority()
	if pi != pj {
		return pi < pj // lower priority value dispatches first
	}
	return h[i].entry.Seq() < h[j].entry.Seq() // FIFO among equal priority
}

func (h heapImpl) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *heapImpl) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *heapImpl) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// priorityQueue is the per-stripe multi-index container described in
// spec.md §4.1/§9: a priority-ordered index (heapImpl) plus a by-bucket
// index, both covering the same set of entries. Callers must hold the
// owning stripe's monitor; priorityQueue itself does no locking.
type priorityQueue struct {
	h       heapImpl
	byID    map[message.UniqueID]*queueItem
	byBucket map[bucket.ID]map[message.UniqueID]*queueItem
	nextSeq uint64
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{
		byID:     make(map[message.UniqueID]*queueItem),
		byBucket: make(map[bucket.ID]map[message.UniqueID]*queueItem),
	}
}

func (q *priorityQueue) Len() int { return len(q.h) }

// Push inserts entry into all three indices, assigning it the next FIFO
// sequence number.
func (q *priorityQueue) Push(entry *message.Entry) {
	entry.SetSeq(q.nextSeq)
	q.nextSeq++

	item := &queueItem{entry: entry}
	heap.Push(&q.h, item)
	q.byID[entry.Msg.UniqueID()] = item

	set := q.byBucket[entry.TargetBucket]
	if set == nil {
		set = make(map[message.UniqueID]*queueItem)
		q.byBucket[entry.TargetBucket] = set
	}
	set[entry.Msg.UniqueID()] = item
}

// removeItem deletes item from all three indices. The caller must already
// hold a reference to it (from q.h, q.byID or q.byBucket).
func (q *priorityQueue) removeItem(item *queueItem) {
	if item.index >= 0 {
		heap.Remove(&q.h, item.index)
	}
	delete(q.byID, item.entry.Msg.UniqueID())
	set := q.byBucket[item.entry.TargetBucket]
	delete(set, item.entry.Msg.UniqueID())
	if len(set) == 0 {
		delete(q.byBucket, item.entry.TargetBucket)
	}
}

// RunnableCheck reports whether an entry targeting bucket b requiring lock
// mode m could be dispatched right now, given the stripe's current lock
// table state.
type RunnableCheck func(b bucket.ID, m message.LockMode) bool

// Scan performs the dispatch algorithm of spec.md §4.1 step 1-3: walk the
// queue in priority order, dropping any entry that has timed out, and
// returning the first entry found runnable. Entries skipped because their
// bucket is currently locked are left in the queue, in their original
// relative order, for the next scan.
//
// Returns the dispatched entry (already removed from the queue) or nil if
// none is runnable, plus the list of entries reaped for having timed out
// during this scan (also already removed).
func (q *priorityQueue) Scan(now time.Time, runnable RunnableCheck) (dispatched *message.Entry, timedOut []*message.Entry) {
	var skipped []*queueItem

	for q.h.Len() > 0 {
		item := heap.Pop(&q.h).(*queueItem)
		// Pop already detached it from the heap; keep the other indices in
		// sync by hand instead of calling removeItem (which would also try
		// to heap.Remove an index that's already gone).
		entry := item.entry

		if entry.Expired(now) {
			delete(q.byID, entry.Msg.UniqueID())
			set := q.byBucket[entry.TargetBucket]
			delete(set, entry.Msg.UniqueID())
			if len(set) == 0 {
				delete(q.byBucket, entry.TargetBucket)
			}
			timedOut = append(timedOut, entry)
			continue
		}

		if runnable(entry.TargetBucket, entry.Msg.LockMode()) {
			delete(q.byID, entry.Msg.UniqueID())
			set := q.byBucket[entry.TargetBucket]
			delete(set, entry.Msg.UniqueID())
			if len(set) == 0 {
				delete(q.byBucket, entry.TargetBucket)
			}
			dispatched = entry
			break
		}

		skipped = append(skipped, item)
	}

	// Restore everything we popped-but-skipped, re-establishing heap order;
	// their byID/byBucket entries were never removed so only the heap
	// needs rebuilding.
	for _, item := range skipped {
		heap.Push(&q.h, item)
	}
	return dispatched, timedOut
}

// RemoveBucket removes and returns every queued entry targeting bucket b,
// for failOperations and remap.
func (q *priorityQueue) RemoveBucket(b bucket.ID) []*message.Entry {
	set := q.byBucket[b]
	if len(set) == 0 {
		return nil
	}
	items := make([]*queueItem, 0, len(set))
	for _, item := range set {
		items = append(items, item)
	}
	out := make([]*message.Entry, 0, len(items))
	for _, item := range items {
		out = append(out, item.entry)
		q.removeItem(item)
	}
	return out
}

// RemoveMatching removes and returns every queued entry for which pred
// returns true, for abortQueuedOperations.
func (q *priorityQueue) RemoveMatching(pred func(*message.Entry) bool) []*message.Entry {
	var matched []*queueItem
	for _, item := range q.h {
		if pred(item.entry) {
			matched = append(matched, item)
		}
	}
	out := make([]*message.Entry, 0, len(matched))
	for _, item := range matched {
		out = append(out, item.entry)
		q.removeItem(item)
	}
	return out
}

// Entries returns every queued entry, for status reporting. The order is
// unspecified.
func (q *priorityQueue) Entries() []*message.Entry {
	out := make([]*message.Entry, 0, len(q.h))
	for _, item := range q.h {
		out = append(out, item.entry)
	}
	return out
}
