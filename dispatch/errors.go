package dispatch

import (
	"github.com/pkg/errors"
)

// Sentinel errors surfaced by Handler methods that fail before a message
// even reaches a stripe's queue (as opposed to message.ReturnCode, which
// rides along with a dispatched or rejected message itself). Wrapped with
// github.com/pkg/errors so callers retain a stack trace for the rare case
// these bubble up to an operator-facing log line.
var (
	// ErrUnknownDisk is returned when a caller names a disk index the
	// Handler doesn't have.
	ErrUnknownDisk = errors.New("dispatch: unknown disk index")

	// ErrUnknownStripe is returned when a caller names a stripe index
	// out of range for its disk.
	ErrUnknownStripe = errors.New("dispatch: unknown stripe index")

	// ErrInvalidBucket is returned for a bucket.ID that fails IsValid.
	ErrInvalidBucket = errors.New("dispatch: invalid bucket id")

	// ErrHandlerClosed is returned by Schedule and GetNextMessage once
	// Handler.Close has been called.
	ErrHandlerClosed = errors.New("dispatch: handler is closed")

	// ErrHandlerPaused is returned by Schedule while the whole handler
	// (as opposed to a single disk) is paused.
	ErrHandlerPaused = errors.New("dispatch: handler is paused")
)

func wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}
