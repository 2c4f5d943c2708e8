// filestorctl is an operator CLI for a dispatch handler: it can open a
// set of disks, schedule synthetic traffic against them, run a worker
// pool draining them, and dump the current queue/lock status.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/urfave/cli/v2"

	"github.com/augustus175/filestor/bucket"
	"github.com/augustus175/filestor/dispatch"
	"github.com/augustus175/filestor/filestorlog"
	"github.com/augustus175/filestor/message"
	"github.com/augustus175/filestor/metrics"
	"github.com/augustus175/filestor/sender"
)

var (
	app *cli.App

	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "base directory containing one subdirectory per disk",
		Value: "./filestor-data",
	}
	numDisksFlag = &cli.IntFlag{
		Name:  "disks",
		Usage: "number of disks to open under datadir (disk0, disk1, ...)",
		Value: 1,
	}
	stripesFlag = &cli.IntFlag{
		Name:  "stripes",
		Usage: "dispatch stripes per disk",
		Value: 16,
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "size of the worker pool draining the handler in serve mode",
		Value: 4,
	}
	countFlag = &cli.IntFlag{
		Name:  "count",
		Usage: "number of synthetic messages to schedule",
		Value: 100,
	}
	bucketFlag = &cli.Uint64Flag{
		Name:  "bucket",
		Usage: "raw bucket id (packed with 58 used bits) to schedule synthetic traffic against",
		Value: 1,
	}
)

func init() {
	app = &cli.App{
		Name:  "filestorctl",
		Usage: "operate a filestor dispatch handler",
		Commands: []*cli.Command{
			{
				Name:   "schedule",
				Usage:  "open disks and schedule synthetic traffic, then print status",
				Flags:  []cli.Flag{dataDirFlag, numDisksFlag, stripesFlag, countFlag, bucketFlag},
				Action: runSchedule,
			},
			{
				Name:   "serve",
				Usage:  "open disks and run a worker pool draining them until interrupted",
				Flags:  []cli.Flag{dataDirFlag, numDisksFlag, stripesFlag, workersFlag},
				Action: runServe,
			},
		},
	}
}

func openHandler(c *cli.Context, log filestorlog.Logger, reg *metrics.Registry, snd sender.MessageSender) (*dispatch.Handler, error) {
	dataDir := c.String(dataDirFlag.Name)
	numDisks := c.Int(numDisksFlag.Name)
	stripes := c.Int(stripesFlag.Name)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	disks := make([]*dispatch.Disk, 0, numDisks)
	for i := 0; i < numDisks; i++ {
		path := fmt.Sprintf("%s/disk%d", dataDir, i)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		d, err := dispatch.OpenDisk(i, path, stripes, log, reg, snd)
		if err != nil {
			return nil, err
		}
		disks = append(disks, d)
	}

	cfg := dispatch.Config{StripesPerDisk: stripes}.WithDefaults()
	return dispatch.NewHandler(cfg, disks, log, reg), nil
}

// syntheticMessage is a trivial message.StorageMessage used by the CLI's
// schedule/serve commands, since there is no real upstream client wired
// up to produce one.
type syntheticMessage struct {
	id       message.UniqueID
	priority message.Priority
	bucket   bucket.ID
	mode     message.LockMode
	timeout  time.Duration
}

func (m syntheticMessage) Type() message.Type         { return message.TypePut }
func (m syntheticMessage) Priority() message.Priority  { return m.priority }
func (m syntheticMessage) UniqueID() message.UniqueID  { return m.id }
func (m syntheticMessage) Timeout() time.Duration      { return m.timeout }
func (m syntheticMessage) BucketID() (bucket.ID, bool) { return m.bucket, true }
func (m syntheticMessage) DocumentID() (uint64, bool)  { return 0, false }
func (m syntheticMessage) LockMode() message.LockMode  { return m.mode }

func runSchedule(c *cli.Context) error {
	log := filestorlog.New(os.Stderr, filestorlog.LevelInfo)
	reg := metrics.NewRegistry()
	snd := sender.NewInMemorySender()

	h, err := openHandler(c, log, reg, snd)
	if err != nil {
		return err
	}
	defer h.Close()

	b := bucket.New(58, c.Uint64(bucketFlag.Name))
	count := c.Int(countFlag.Name)
	for i := 0; i < count; i++ {
		msg := syntheticMessage{
			id:       message.UniqueID(i + 1),
			priority: message.Priority(i % 10),
			bucket:   b,
			mode:     message.Exclusive,
			timeout:  10 * time.Second,
		}
		code, err := h.Schedule(0, msg)
		if err != nil {
			log.Error("schedule failed", "i", i, "err", err)
			continue
		}
		if code != message.OK {
			log.Warn("schedule rejected", "i", i, "code", code)
		}
	}

	return h.WriteTextStatus(os.Stdout)
}

func runServe(c *cli.Context) error {
	log := filestorlog.New(os.Stderr, filestorlog.LevelInfo)
	reg := metrics.NewRegistry()
	snd := sender.NewInMemorySender()

	h, err := openHandler(c, log, reg, snd)
	if err != nil {
		return err
	}
	defer h.Close()

	numWorkers := c.Int(workersFlag.Name)
	pool, err := ants.NewPool(numWorkers)
	if err != nil {
		return err
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disks := h.Disks()
	for _, d := range disks {
		d := d
		for w := 0; w < numWorkers; w++ {
			if err := pool.Submit(func() { drainDisk(ctx, h, d, log) }); err != nil {
				return err
			}
		}
	}

	log.Info("serving", "disks", len(disks), "workers", numWorkers)
	<-ctx.Done()
	return nil
}

// drainDisk implements spec.md §9's starvation-freedom guidance: rather
// than always blocking on one fixed stripe, it rotates through every
// stripe of d with a short per-stripe timeout, and only after a full round
// in which no stripe produced work does it pause for that same short
// interval before the next round. The starting offset comes from d.NextStripeHint
// so that concurrently-drained disks don't all favor stripe 0 first.
func drainDisk(ctx context.Context, h *dispatch.Handler, d *dispatch.Disk, log filestorlog.Logger) {
	short := 50 * time.Millisecond
	numStripes := d.NumStripes()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dispatched := false
		start := d.NextStripeHint()
		for offset := 0; offset < numStripes; offset++ {
			i := (start + offset) % numStripes
			entry, lock, code, err := h.GetNextMessage(ctx, d.Index, i, short)
			if err != nil {
				log.Error("get next message failed", "disk", d.Index, "stripe", i, "err", err)
				return
			}
			if code == message.OK && entry != nil {
				log.Debug("dispatched", "bucket", entry.TargetBucket, "id", entry.Msg.UniqueID())
				// A real worker would perform the I/O here before releasing.
				lock.Release()
				dispatched = true
			}
		}
		if !dispatched {
			select {
			case <-ctx.Done():
				return
			case <-time.After(short):
			}
		}
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
