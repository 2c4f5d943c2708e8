package dispatch

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/filestorlog"
	"github.com/augustus175/filestor/message"
	"github.com/augustus175/filestor/metrics"
	"github.com/augustus175/filestor/sender"
)

// Handler is the facade spec.md §1 describes: it owns every disk, routes
// each message to the right stripe, and is the only thing client code
// (the ingest/query layer) talks to. It never touches file bytes itself;
// that is left entirely to whatever calls GetNextMessage and later
// releases the returned BucketLock.
type Handler struct {
	cfg Config

	disks []*Disk

	// pauseMu/paused/pauseCh form the pause monitor described in
	// spec.md §5: independent of every stripe's own monitor, never held
	// while acquiring one. pauseCh is closed (and replaced) every time
	// the handler resumes, the same wake-channel idiom Stripe uses.
	pauseMu sync.Mutex
	paused  bool
	pauseCh chan struct{}

	closed atomic.Bool

	merges *MergeTracker

	log     filestorlog.Logger
	metrics *metrics.Registry
}

// NewHandler builds a Handler over the given already-open disks. Opening
// disks is left to the caller (OpenDisk) since disk count and storage
// paths are deployment-specific; each disk keeps the stripe count it was
// opened with, and cfg.StripesPerDisk is not applied to it.
func NewHandler(cfg Config, disks []*Disk, log filestorlog.Logger, reg *metrics.Registry) *Handler {
	cfg = cfg.WithDefaults()
	h := &Handler{
		cfg:     cfg,
		disks:   disks,
		pauseCh: make(chan struct{}),
		merges:  newMergeTracker(cfg.MergeCacheSize),
		log:     log,
		metrics: reg,
	}
	for _, d := range disks {
		d.setSlowScanThreshold(cfg.SlowScanThreshold)
	}
	return h
}

func (h *Handler) disk(idx int) (*Disk, error) {
	if idx < 0 || idx >= len(h.disks) {
		return nil, ErrUnknownDisk
	}
	return h.disks[idx], nil
}

// Schedule enqueues msg against the bucket it targets on the named disk.
func (h *Handler) Schedule(diskIdx int, msg message.StorageMessage) (message.ReturnCode, error) {
	if h.closed.Load() {
		return message.Rejected, ErrHandlerClosed
	}
	if h.isPaused() {
		return message.Rejected, ErrHandlerPaused
	}
	d, err := h.disk(diskIdx)
	if err != nil {
		return message.Rejected, err
	}
	target, ok := msg.BucketID()
	if !ok || !target.IsValid() {
		return message.Rejected, ErrInvalidBucket
	}
	entry := message.NewEntry(msg, target)
	return d.Schedule(entry), nil
}

// GetNextMessage blocks on one specific stripe of one specific disk until
// a message is runnable, consistent with spec.md's model of worker
// threads each bound to a disk/stripe pair. A timeout of zero or less is
// replaced by the configured DefaultTimeout. The returned BucketLock must
// be released by the caller once the operation finishes.
//
// Per spec.md §4.3, a paused Handler blocks workers on the pause monitor
// before they ever consult a stripe; already-queued and already-dispatched
// work is untouched by Pause, only new dispatch is gated.
func (h *Handler) GetNextMessage(ctx context.Context, diskIdx, stripeIdx int, timeout time.Duration) (*message.Entry, *BucketLock, message.ReturnCode, error) {
	if h.closed.Load() {
		return nil, nil, message.Rejected, ErrHandlerClosed
	}
	if err := h.waitWhilePaused(ctx); err != nil {
		return nil, nil, message.Aborted, nil
	}
	d, err := h.disk(diskIdx)
	if err != nil {
		return nil, nil, message.Rejected, err
	}
	s, ok := d.StripeByID(stripeIdx)
	if !ok {
		return nil, nil, message.Rejected, ErrUnknownStripe
	}
	if timeout <= 0 {
		timeout = h.cfg.DefaultTimeout
	}

	entry, code := s.GetNextMessage(ctx, timeout)
	if entry == nil {
		return nil, nil, code, nil
	}
	lock := newBucketLock(d, s, entry.TargetBucket, entry.Msg.LockMode(), entry.Msg.UniqueID())
	return entry, lock, message.OK, nil
}

// FailOperations drops every queued entry for bucket b on the named disk,
// forcibly releases any lock still held on it, and returns the failed
// entries so the caller can synthesize replies carrying code (typically
// message.BucketDeleted or message.BucketNotFound).
func (h *Handler) FailOperations(diskIdx int, b bucket.ID) ([]*message.Entry, error) {
	d, err := h.disk(diskIdx)
	if err != nil {
		return nil, err
	}
	return d.StripeFor(b).FailOperations(b), nil
}

// AbortQueuedOperations removes every queued entry across every stripe of
// the named disk whose message type may be aborted and for which pred
// returns true, implementing spec.md's
// abort(cmd) semantics restricted to queued (not yet dispatched) work.
func (h *Handler) AbortQueuedOperations(diskIdx int, pred func(*message.Entry) bool) ([]*message.Entry, error) {
	d, err := h.disk(diskIdx)
	if err != nil {
		return nil, err
	}
	var all []*message.Entry
	for i := 0; i < d.NumStripes(); i++ {
		s, _ := d.StripeByID(i)
		all = append(all, s.AbortQueuedOperations(pred)...)
	}
	return all, nil
}

// RemapQueue waits until no in-flight holder has oldBucket locked, then
// moves every queued entry for oldBucket to newBucket, used after a move
// or a join collapses two buckets into one. Source and destination may live on different stripes
// or different disks entirely; both monitors are taken in a fixed order
// (disk index, then stripe index) so two concurrent remaps can never
// deadlock against each other.
func (h *Handler) RemapQueue(ctx context.Context, oldDiskIdx int, oldBucket bucket.ID, newDiskIdx int, newBucket bucket.ID) error {
	oldDisk, err := h.disk(oldDiskIdx)
	if err != nil {
		return err
	}
	newDisk, err := h.disk(newDiskIdx)
	if err != nil {
		return err
	}
	oldStripe := oldDisk.StripeFor(oldBucket)
	newStripe := newDisk.StripeFor(newBucket)

	if err := oldStripe.WaitInactive(ctx, oldBucket); err != nil {
		return err
	}

	first, second := orderStripes(oldDiskIdx, oldStripe, newDiskIdx, newStripe)
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != first {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	entries := oldStripe.queue.RemoveBucket(oldBucket)
	for _, e := range entries {
		e.TargetBucket = newBucket
		newStripe.queue.Push(e)
	}
	oldStripe.wake()
	newStripe.wake()
	return nil
}

// RemapQueueSplit redistributes every queued entry for oldBucket between
// loBucket and hiBucket, the two halves produced by a split, per
// spec.md §4.3. Entries are classified by the document id they target; an
// entry with no document id (or one matching neither half) cannot be
// classified and is returned to the caller, which replies BucketNotFound
// to it (spec.md §9's open question, resolved here the way the source's
// calculateTargetBasedOnDocId does: a -1 result maps to BUCKET_NOT_FOUND
// for every message subtype). Stripe monitors are taken in stripe id
// order, the same fixed order RemapQueue uses within one disk.
func (h *Handler) RemapQueueSplit(ctx context.Context, diskIdx int, oldBucket, loBucket, hiBucket bucket.ID) ([]*message.Entry, error) {
	d, err := h.disk(diskIdx)
	if err != nil {
		return nil, err
	}
	oldStripe := d.StripeFor(oldBucket)
	if err := oldStripe.WaitInactive(ctx, oldBucket); err != nil {
		return nil, err
	}

	loStripe := d.StripeFor(loBucket)
	hiStripe := d.StripeFor(hiBucket)

	order := []*Stripe{oldStripe, loStripe, hiStripe}
	sort.Slice(order, func(i, j int) bool { return order[i].id < order[j].id })
	locked := map[*Stripe]bool{}
	for _, s := range order {
		if !locked[s] {
			s.mu.Lock()
			locked[s] = true
			defer s.mu.Unlock()
		}
	}

	var rejected []*message.Entry
	entries := oldStripe.queue.RemoveBucket(oldBucket)
	for _, e := range entries {
		docID, hasDoc := e.Msg.DocumentID()
		if !hasDoc {
			rejected = append(rejected, e)
			continue
		}
		target, ok := bucket.ChildContaining(docID, loBucket, hiBucket)
		if !ok {
			rejected = append(rejected, e)
			continue
		}
		e.TargetBucket = target
		if target == loBucket {
			loStripe.queue.Push(e)
		} else {
			hiStripe.queue.Push(e)
		}
	}
	for s := range locked {
		s.wake()
	}
	return rejected, nil
}

// orderStripes returns (first, second) such that locking first then
// second is the same order regardless of which side of a RemapQueue call
// initiated it, preventing A-locks-B-while-B-locks-A deadlocks. Disk
// index is the primary key since it's stable and globally comparable;
// stripe id within a disk breaks ties.
func orderStripes(diskA int, a *Stripe, diskB int, b *Stripe) (*Stripe, *Stripe) {
	if diskA < diskB || (diskA == diskB && a.id <= b.id) {
		return a, b
	}
	return b, a
}

func (h *Handler) isPaused() bool {
	h.pauseMu.Lock()
	defer h.pauseMu.Unlock()
	return h.paused
}

// waitWhilePaused blocks on the pause monitor until the handler is not
// paused, per spec.md §4.3's "workers calling getNextMessage block on the
// pause monitor before consulting stripes." It never takes a stripe
// monitor, so it cannot deadlock against Pause/the guard's Release.
func (h *Handler) waitWhilePaused(ctx context.Context) error {
	for {
		h.pauseMu.Lock()
		if !h.paused {
			h.pauseMu.Unlock()
			return nil
		}
		ch := h.pauseCh
		h.pauseMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ResumeGuard is returned by Handler.Pause. Resume lifts the pause; it is
// safe to call more than once, and only the first call has any effect.
type ResumeGuard struct {
	h        *Handler
	released atomic.Bool
}

// Resume lifts the pause this guard was issued for.
func (g *ResumeGuard) Resume() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	g.h.resume()
}

// Pause stops new Schedule calls and blocks GetNextMessage across the
// whole Handler (every disk), without affecting work already queued or
// dispatched. It returns a scoped guard per spec.md §6
// (`pause() -> scopedResumeGuard`); dispatch stays paused until the
// guard's Resume is called. Pausing a single disk is Disk.Pause instead.
func (h *Handler) Pause() *ResumeGuard {
	h.pauseMu.Lock()
	h.paused = true
	h.pauseMu.Unlock()
	return &ResumeGuard{h: h}
}

// resume clears the pause flag and wakes every worker blocked in
// waitWhilePaused, installing a fresh channel for the next pause cycle.
func (h *Handler) resume() {
	h.pauseMu.Lock()
	defer h.pauseMu.Unlock()
	h.paused = false
	close(h.pauseCh)
	h.pauseCh = make(chan struct{})
}

// Close shuts down every disk this Handler owns. It is safe to call more
// than once.
func (h *Handler) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	for _, d := range h.disks {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Merges exposes the merge-status tracker so split/join/move orchestration
// code (outside this package) can record and query progress.
func (h *Handler) Merges() *MergeTracker { return h.merges }

// ClearMergeStatus marks source's tracked merge complete. If code is
// non-nil, every caller that registered itself as pending on source (via
// Merges().AddPending, typically a GetBucket blocked behind an in-flight
// split/join) is sent a synthetic reply carrying code, through the
// sender of the stripe source currently routes to — mirroring
// clearMergeStatus's "pendingGetBucketResults are synthesised and sent"
// behavior from spec.md §4.3.
func (h *Handler) ClearMergeStatus(diskIdx int, source bucket.ID, code *message.ReturnCode) error {
	pending := h.merges.Clear(source, code)
	if code == nil || len(pending) == 0 {
		return nil
	}
	d, err := h.disk(diskIdx)
	if err != nil {
		return err
	}
	snd := d.StripeFor(source).sender
	if snd == nil {
		return nil
	}
	for _, id := range pending {
		if err := snd.SendReply(sender.Reply{UniqueID: id, Code: *code}); err != nil {
			h.log.Warn("failed to deliver synthetic merge reply", "bucket", source, "id", id, "err", err)
		}
	}
	return nil
}

// Disks returns the disks this Handler owns, for status reporting.
func (h *Handler) Disks() []*Disk { return h.disks }

// Stats aggregates Disk.Stats across every disk this Handler owns,
// feeding both getStatus() and the Prometheus registry (each disk
// publishes its own gauges as a side effect of Stats).
func (h *Handler) Stats() []DiskStats {
	out := make([]DiskStats, 0, len(h.disks))
	for _, d := range h.disks {
		out = append(out, d.Stats())
	}
	return out
}

// Drain blocks until every stripe on every disk this Handler owns
// reports zero active (locked) messages, built directly on
// Stripe.waitNoActiveLocks (the same wake-channel primitive
// Stripe.WaitInactive uses, generalized across the whole bucket space
// instead of one bucket). It does not stop new dispatch by itself — pair
// it with Pause for a clean maintenance-window handoff.
func (h *Handler) Drain(ctx context.Context) error {
	for _, d := range h.disks {
		for i := 0; i < d.NumStripes(); i++ {
			s, ok := d.StripeByID(i)
			if !ok {
				continue
			}
			if err := s.waitNoActiveLocks(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
