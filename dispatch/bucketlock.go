package dispatch

import (
	"runtime"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/message"
)

// BucketLock is the scoped handle a dispatched message carries while its
// operation runs, per spec.md §5. It must be released exactly once, via
// Release; Go has no destructors, so a finalizer is wired as a last-resort
// net for a caller that panics or forgets, logging loudly rather than
// leaking the lock silently.
type BucketLock struct {
	disk   *Disk
	stripe *Stripe
	target bucket.ID
	mode   message.LockMode
	holder message.UniqueID

	released bool
}

func newBucketLock(d *Disk, s *Stripe, b bucket.ID, mode message.LockMode, holder message.UniqueID) *BucketLock {
	l := &BucketLock{disk: d, stripe: s, target: b, mode: mode, holder: holder}
	runtime.SetFinalizer(l, func(leaked *BucketLock) {
		if !leaked.released {
			if leaked.stripe.log != nil {
				leaked.stripe.log.Error("bucket lock finalized without release", "bucket", leaked.target, "id", leaked.holder)
			}
			leaked.stripe.Release(leaked.target, leaked.holder)
		}
	})
	return l
}

// Bucket returns the bucket this handle locks.
func (l *BucketLock) Bucket() bucket.ID { return l.target }

// Mode returns the lock mode (exclusive or shared) this handle holds.
func (l *BucketLock) Mode() message.LockMode { return l.mode }

// Release drops the lock and wakes anything blocked behind it. Calling
// Release more than once is a programming error and is reported via Crit
// rather than silently ignored, since a double release can let a second
// operation believe it holds an exclusive lock it does not.
func (l *BucketLock) Release() {
	if l.released {
		l.stripe.log.Crit("bucket lock released twice", "bucket", l.target, "id", l.holder)
		return
	}
	l.released = true
	runtime.SetFinalizer(l, nil)
	l.stripe.Release(l.target, l.holder)
}
