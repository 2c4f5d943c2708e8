package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/filestorlog"
	"github.com/augustus175/filestor/message"
	"github.com/augustus175/filestor/metrics"
	"github.com/augustus175/filestor/sender"
)

func newTestDisk(t *testing.T, index int, numStripes int) *Disk {
	t.Helper()
	dir := t.TempDir()
	d, err := OpenDisk(index, dir, numStripes, filestorlog.New(discard{}, filestorlog.LevelCrit), metrics.NewRegistry(), sender.NewInMemorySender())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newTestHandler(t *testing.T, numDisks, numStripes int) *Handler {
	t.Helper()
	disks := make([]*Disk, numDisks)
	for i := 0; i < numDisks; i++ {
		disks[i] = newTestDisk(t, i, numStripes)
	}
	cfg := Config{StripesPerDisk: numStripes}.WithDefaults()
	return NewHandler(cfg, disks, filestorlog.New(discard{}, filestorlog.LevelCrit), metrics.NewRegistry())
}

func TestOpenDiskRefusesSecondLockHolder(t *testing.T) {
	dir := t.TempDir()
	log := filestorlog.New(discard{}, filestorlog.LevelCrit)
	reg := metrics.NewRegistry()
	snd := sender.NewInMemorySender()

	d1, err := OpenDisk(0, dir, 4, log, reg, snd)
	require.NoError(t, err)
	defer d1.Close()

	_, err = OpenDisk(0, dir, 4, log, reg, snd)
	require.Error(t, err)
}

func TestDiskStripeRoutingIsPure(t *testing.T) {
	d := newTestDisk(t, 0, 8)
	b := bucket.New(0, 0xABCD)
	s1 := d.StripeFor(b)
	s2 := d.StripeFor(b)
	require.Same(t, s1, s2)
}

func TestHandlerScheduleRejectsUnknownDisk(t *testing.T) {
	h := newTestHandler(t, 1, 4)
	defer h.Close()

	b := bucket.New(0, 1)
	_, err := h.Schedule(5, testMsg{id: 1, priority: 1, bucket: b, mode: message.Exclusive, timeout: time.Second})
	require.ErrorIs(t, err, ErrUnknownDisk)
}

func TestHandlerPauseRejectsSchedule(t *testing.T) {
	h := newTestHandler(t, 1, 4)
	defer h.Close()

	guard := h.Pause()
	b := bucket.New(16, 1)
	_, err := h.Schedule(0, testMsg{id: 1, priority: 1, bucket: b, mode: message.Exclusive, timeout: time.Second})
	require.ErrorIs(t, err, ErrHandlerPaused)

	guard.Resume()
	_, err = h.Schedule(0, testMsg{id: 1, priority: 1, bucket: b, mode: message.Exclusive, timeout: time.Second})
	require.NoError(t, err)
}

func TestHandlerPauseBlocksGetNextMessageUntilResumed(t *testing.T) {
	h := newTestHandler(t, 1, 4)
	defer h.Close()

	guard := h.Pause()

	done := make(chan message.ReturnCode, 1)
	go func() {
		_, _, code, err := h.GetNextMessage(context.Background(), 0, 0, time.Second)
		require.NoError(t, err)
		done <- code
	}()

	select {
	case <-done:
		t.Fatal("GetNextMessage returned while handler was paused")
	case <-time.After(50 * time.Millisecond):
	}

	guard.Resume()

	select {
	case code := <-done:
		require.Equal(t, message.Timeout, code)
	case <-time.After(2 * time.Second):
		t.Fatal("GetNextMessage never unblocked after Resume")
	}
}

// Scenario 5: split remap routing.
func TestHandlerRemapQueueSplitRoutesByDocumentID(t *testing.T) {
	h := newTestHandler(t, 1, 16)
	defer h.Close()

	parent := bucket.New(usedBitsForTest, rawIDForTest)
	lo, hi := parent.Children()

	docID := lo.RawID() // any doc id that masks to lo at lo's depth
	entry := message.NewEntry(testMsg{id: 42, priority: 5, bucket: parent, mode: message.Exclusive, timeout: time.Minute, docID: docID, hasDoc: true}, parent)
	d := h.disks[0]
	require.Equal(t, message.OK, d.Schedule(entry))

	rejected, err := h.RemapQueueSplit(context.Background(), 0, parent, lo, hi)
	require.NoError(t, err)
	require.Empty(t, rejected)

	found := false
	for _, e := range d.StripeFor(lo).QueueSnapshot() {
		if e.Msg.UniqueID() == 42 {
			found = true
			require.Equal(t, lo, e.TargetBucket)
		}
	}
	require.True(t, found)

	for _, e := range d.StripeFor(parent).QueueSnapshot() {
		require.NotEqual(t, message.UniqueID(42), e.Msg.UniqueID())
	}
}

func TestHandlerRemapQueueSplitRejectsMissingDocumentID(t *testing.T) {
	h := newTestHandler(t, 1, 16)
	defer h.Close()

	parent := bucket.New(usedBitsForTest, rawIDForTest)
	lo, hi := parent.Children()

	entry := message.NewEntry(testMsg{id: 99, priority: 5, bucket: parent, mode: message.Exclusive, timeout: time.Minute}, parent)
	d := h.disks[0]
	require.Equal(t, message.OK, d.Schedule(entry))

	rejected, err := h.RemapQueueSplit(context.Background(), 0, parent, lo, hi)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, message.UniqueID(99), rejected[0].Msg.UniqueID())
}

func TestHandlerRemapQueueAcrossDisks(t *testing.T) {
	h := newTestHandler(t, 2, 8)
	defer h.Close()

	oldBucket := bucket.New(16, 1)
	newBucket := bucket.New(16, 2)

	entry := message.NewEntry(testMsg{id: 7, priority: 1, bucket: oldBucket, mode: message.Exclusive, timeout: time.Minute}, oldBucket)
	require.Equal(t, message.OK, h.disks[0].Schedule(entry))

	err := h.RemapQueue(context.Background(), 0, oldBucket, 1, newBucket)
	require.NoError(t, err)

	found := false
	for _, e := range h.disks[1].StripeFor(newBucket).QueueSnapshot() {
		if e.Msg.UniqueID() == 7 {
			found = true
		}
	}
	require.True(t, found)
}

func TestHandlerClosePreventsFurtherSchedule(t *testing.T) {
	h := newTestHandler(t, 1, 4)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close()) // idempotent

	b := bucket.New(0, 1)
	_, err := h.Schedule(0, testMsg{id: 1, priority: 1, bucket: b, mode: message.Exclusive, timeout: time.Second})
	require.ErrorIs(t, err, ErrHandlerClosed)
}

func TestHandlerSnapshotReflectsQueuedWork(t *testing.T) {
	h := newTestHandler(t, 1, 4)
	defer h.Close()

	b := bucket.New(0, 1)
	entry := message.NewEntry(testMsg{id: 1, priority: 1, bucket: b, mode: message.Exclusive, timeout: time.Minute}, b)
	require.Equal(t, message.OK, h.disks[0].Schedule(entry))

	status := h.Snapshot()
	require.Len(t, status.Disks, 1)

	var total int
	for _, s := range status.Disks[0].Stripes {
		total += s.QueueLength
	}
	require.Equal(t, 1, total)
}

func TestHandlerStatsAggregatesAcrossDisks(t *testing.T) {
	h := newTestHandler(t, 2, 4)
	defer h.Close()

	b := bucket.New(0, 1)
	entry := message.NewEntry(testMsg{id: 1, priority: 1, bucket: b, mode: message.Exclusive, timeout: time.Minute}, b)
	require.Equal(t, message.OK, h.disks[0].Schedule(entry))

	stats := h.Stats()
	require.Len(t, stats, 2)

	var total int
	for _, s := range stats {
		total += s.QueueLength
	}
	require.Equal(t, 1, total)
}

func TestHandlerDrainReturnsImmediatelyWhenNothingIsLocked(t *testing.T) {
	h := newTestHandler(t, 1, 4)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Drain(ctx))
}

func TestHandlerClearMergeStatusSendsPendingReplies(t *testing.T) {
	h := newTestHandler(t, 1, 4)
	defer h.Close()

	src := bucket.New(16, 1)
	h.Merges().Add(src, bucket.New(16, 2))
	require.True(t, h.Merges().AddPending(src, 55))

	code := message.BucketNotFound
	require.NoError(t, h.ClearMergeStatus(0, src, &code))

	snd := h.disks[0].StripeFor(src).sender.(*sender.InMemorySender)
	require.Len(t, snd.Replies(), 1)
	require.Equal(t, message.UniqueID(55), snd.Replies()[0].UniqueID)
	require.Equal(t, message.BucketNotFound, snd.Replies()[0].Code)
}

// usedBitsForTest/rawIDForTest pick a parent bucket with at least one free
// high bit so Children() doesn't overflow the 58-bit budget.
const (
	usedBitsForTest = 4
	rawIDForTest    = 0x8
)
