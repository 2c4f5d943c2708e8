package dispatch

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

// MergeStatus tracks progress of a bucket join/move that spans more than
// one dispatch call, a feature the distilled spec left implicit but that
// a real handler needs: a long-running structural change must be
// resumable and queryable without blocking the dispatch path on it.
type MergeStatus struct {
	Source      bucket.ID
	Destination bucket.ID
	BytesMoved  int64
	Complete    bool

	// Pending holds the unique ids of callers (typically GetBucket
	// commands) waiting on this merge to resolve one way or another;
	// spec.md §4.3 calls this status.pendingGetBucketResults. Clear
	// drains this and hands the ids back to the caller to reply to.
	Pending []message.UniqueID
}

// MergeTracker records in-flight and recently-finished merges, bounded by
// an LRU so a node that churns through many splits/joins over its
// lifetime doesn't grow this table without limit — recently completed
// entries age out once more useful ones replace them.
type MergeTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[bucket.ID, *MergeStatus]
}

func newMergeTracker(size int) *MergeTracker {
	cache, err := lru.New[bucket.ID, *MergeStatus](size)
	if err != nil {
		// Only returns an error for a non-positive size, which is a
		// caller bug, not a runtime condition.
		panic(err)
	}
	return &MergeTracker{cache: cache}
}

// Add records a merge as started, keyed by its source bucket.
func (t *MergeTracker) Add(source, destination bucket.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(source, &MergeStatus{Source: source, Destination: destination})
}

// Edit updates the in-flight status for source via fn, if one exists.
func (t *MergeTracker) Edit(source bucket.ID, fn func(*MergeStatus)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.cache.Get(source)
	if !ok {
		return false
	}
	fn(st)
	return true
}

// AddPending registers uniqueID as waiting on source's merge to resolve,
// so a subsequent Clear with a non-nil code knows who to reply to. It
// reports false if source has no tracked merge.
func (t *MergeTracker) AddPending(source bucket.ID, uniqueID message.UniqueID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.cache.Get(source)
	if !ok {
		return false
	}
	st.Pending = append(st.Pending, uniqueID)
	return true
}

// Clear marks source's merge complete but leaves it in the cache so a
// status query shortly after completion still finds it, until LRU
// eviction eventually drops it. If code is non-nil, every pending
// UniqueID recorded via AddPending is returned (and cleared) so the
// caller can synthesize and send a reply carrying code to each, per
// spec.md §4.3's clearMergeStatus(bucket, retCode) contract; with a nil
// code, Clear only marks completion and returns nil.
func (t *MergeTracker) Clear(source bucket.ID, code *message.ReturnCode) []message.UniqueID {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.cache.Get(source)
	if !ok {
		return nil
	}
	st.Complete = true
	if code == nil {
		return nil
	}
	pending := st.Pending
	st.Pending = nil
	return pending
}

// IsMerging reports whether source has a recorded, not-yet-complete
// merge.
func (t *MergeTracker) IsMerging(source bucket.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.cache.Get(source)
	return ok && !st.Complete
}

// Status returns a copy of source's tracked merge status, if any.
func (t *MergeTracker) Status(source bucket.ID) (MergeStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.cache.Get(source)
	if !ok {
		return MergeStatus{}, false
	}
	return *st, true
}
