package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/filestorlog"
	"github.com/augustus175/filestor/message"
	"github.com/augustus175/filestor/metrics"
	"github.com/augustus175/filestor/sender"
)

// DiskState mirrors the disk lifecycle states named in spec.md §2:
// OPEN accepts dispatch, CLOSED rejects new work permanently, and
// DisabledByMaintenance rejects new work but is expected to come back
// (operator-initiated pause, not a failure).
type DiskState int32

const (
	DiskOpen DiskState = iota
	DiskClosed
	DiskDisabledByMaintenance
)

func (s DiskState) String() string {
	switch s {
	case DiskOpen:
		return "open"
	case DiskClosed:
		return "closed"
	case DiskDisabledByMaintenance:
		return "disabled-by-maintenance"
	default:
		return "unknown"
	}
}

// Disk is one physical backing store: a fixed number of independent
// stripes, routed to by the bucket's FNV-1a mix, plus the OS-level
// exclusivity guarantee that only one process touches this disk's data
// directory at a time. The stale-flag/state-machine shape below mirrors
// triedb/pathdb/disklayer.go; the flock acquisition mirrors
// core/rawdb/prunedfreezer.go's directory lock.
type Disk struct {
	Index int
	Path  string

	stripes []*Stripe

	state        atomic.Int32
	nextStripeID atomic.Uint64

	flock *flock.Flock

	log     filestorlog.Logger
	metrics *metrics.Registry
}

// OpenDisk acquires an exclusive OS-level lock on path (so a second
// process can never dispatch against the same data directory) and builds
// numStripes independent dispatch shards over it.
func OpenDisk(index int, path string, numStripes int, log filestorlog.Logger, reg *metrics.Registry, snd sender.MessageSender) (*Disk, error) {
	if numStripes <= 0 {
		return nil, fmt.Errorf("dispatch: disk %d needs at least one stripe", index)
	}

	lockPath := filepath.Join(path, "LOCK")
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("dispatch: locking disk %d at %s: %w", index, path, err)
	}
	if !ok {
		return nil, fmt.Errorf("dispatch: disk %d at %s is already locked by another process", index, path)
	}

	d := &Disk{
		Index:   index,
		Path:    path,
		stripes: make([]*Stripe, numStripes),
		flock:   fl,
		log:     log.With("disk", index),
		metrics: reg,
	}
	d.state.Store(int32(DiskOpen))
	for i := range d.stripes {
		d.stripes[i] = newStripe(i, d.log, reg, snd)
	}
	return d, nil
}

func (d *Disk) State() DiskState { return DiskState(d.state.Load()) }

// StripeFor routes b to one of this disk's stripes via the FNV-1a mix
// defined in bucket.FNV1aMix, matching spec.md §4.2's routing rule.
func (d *Disk) StripeFor(b bucket.ID) *Stripe {
	idx := bucket.FNV1aMix(b) % uint64(len(d.stripes))
	return d.stripes[idx]
}

// StripeByID returns the stripe at the given index directly, for callers
// that already resolved routing (e.g. a worker resuming a prior
// GetNextMessage call against the same stripe it was servicing).
func (d *Disk) StripeByID(id int) (*Stripe, bool) {
	if id < 0 || id >= len(d.stripes) {
		return nil, false
	}
	return d.stripes[id], true
}

func (d *Disk) NumStripes() int { return len(d.stripes) }

// DiskStats is a cheap, numeric-only snapshot of one disk: total queued
// entries and total held locks across every stripe. It feeds both
// Handler.Stats (and, through it, getStatus) and the Prometheus
// registry, without walking the full lock table the way Snapshot does.
type DiskStats struct {
	Index       int
	State       DiskState
	QueueLength int
	HeldLocks   int
}

// Stats aggregates this disk's current queue depth and held-lock count
// across all its stripes, and publishes both as gauges on the disk's
// metrics registry so a Prometheus scrape picks them up.
func (d *Disk) Stats() DiskStats {
	var queueLen, heldLocks int
	for _, s := range d.stripes {
		s.mu.Lock()
		queueLen += s.queue.Len()
		heldLocks += len(s.locks.LockedBuckets())
		s.mu.Unlock()
	}
	if d.metrics != nil {
		prefix := "dispatch.disk." + strconv.Itoa(d.Index) + "."
		d.metrics.Gauge(prefix + "queue_len").Update(int64(queueLen))
		d.metrics.Gauge(prefix + "held_locks").Update(int64(heldLocks))
	}
	return DiskStats{Index: d.Index, State: d.State(), QueueLength: queueLen, HeldLocks: heldLocks}
}

// setSlowScanThreshold propagates a dispatch-scan warning threshold to
// every stripe on this disk; see Stripe.GetNextMessage.
func (d *Disk) setSlowScanThreshold(threshold time.Duration) {
	for _, s := range d.stripes {
		s.slowScanThreshold = threshold
	}
}

// NextStripeHint returns stripe indices round-robin, for a worker pool
// that has no particular stripe affinity and wants to spread polling
// across all of them.
func (d *Disk) NextStripeHint() int {
	n := uint64(len(d.stripes))
	return int(d.nextStripeID.Add(1) % n)
}

// Schedule enqueues msg's entry against the stripe b routes to. It
// rejects the request outright if the disk isn't open.
func (d *Disk) Schedule(entry *message.Entry) message.ReturnCode {
	if d.State() != DiskOpen {
		return message.Rejected
	}
	return d.StripeFor(entry.TargetBucket).Schedule(entry)
}

// Pause transitions the disk into DisabledByMaintenance: already-queued
// and already-dispatched work is unaffected, but new Schedule calls are
// rejected until Resume. Used for operator-initiated maintenance windows.
func (d *Disk) Pause() {
	d.state.Store(int32(DiskDisabledByMaintenance))
	d.log.Info("disk disabled for maintenance")
}

// Resume transitions a paused disk back to Open.
func (d *Disk) Resume() {
	d.state.Store(int32(DiskOpen))
	d.log.Info("disk resumed")
}

// Close permanently stops the disk: every stripe rejects further
// scheduling and wakes its waiters, and the OS-level lock is released.
func (d *Disk) Close() error {
	d.state.Store(int32(DiskClosed))
	for _, s := range d.stripes {
		s.Close()
	}
	return d.flock.Unlock()
}

// WaitInactive blocks until the stripe b routes to holds no lock on b,
// for split/join/move orchestration that must not race in-flight work.
func (d *Disk) WaitInactive(ctx context.Context, b bucket.ID) error {
	return d.StripeFor(b).WaitInactive(ctx, b)
}
