package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/augustus175/filestor/filestorlog"
)

// InfluxReporter periodically pushes a Registry's snapshot to an InfluxDB
// v2 bucket, the same role go-ethereum's own InfluxDBV2Reporter plays:
// an optional, best-effort sink for long-horizon dashboards, never on the
// dispatch hot path.
type InfluxReporter struct {
	client   influxdb2.Client
	org      string
	bucket   string
	registry *Registry
	interval time.Duration
	measurement string
	log      filestorlog.Logger

	quit chan struct{}
	done chan struct{}
}

// NewInfluxReporter builds a reporter against the given InfluxDB v2
// server. The client isn't connected until Run starts.
func NewInfluxReporter(url, token, org, bucket string, reg *Registry, interval time.Duration, log filestorlog.Logger) *InfluxReporter {
	return &InfluxReporter{
		client:      influxdb2.NewClient(url, token),
		org:         org,
		bucket:      bucket,
		registry:    reg,
		interval:    interval,
		measurement: "filestor_dispatch",
		log:         log,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run pushes snapshots on a ticker until ctx is done or Stop is called.
// Errors from individual writes are logged and otherwise ignored: metrics
// delivery failures must never affect dispatch correctness, matching the
// "errors from synthetic reply delivery are logged and ignored" policy in
// spec.md §7.
func (r *InfluxReporter) Run(ctx context.Context) {
	defer close(r.done)
	writeAPI := r.client.WriteAPIBlocking(r.org, r.bucket)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case <-ticker.C:
			snap := r.registry.Snapshot()
			now := time.Now()
			for name, v := range snap.Counters {
				r.write(ctx, writeAPI, name, "counter", float64(v), now)
			}
			for name, v := range snap.Gauges {
				r.write(ctx, writeAPI, name, "gauge", float64(v), now)
			}
			for name, v := range snap.Meters {
				r.write(ctx, writeAPI, name, "meter", float64(v), now)
			}
			for name, v := range snap.Timers {
				r.write(ctx, writeAPI, name, "timer_mean_ns", v, now)
			}
		}
	}
}

func (r *InfluxReporter) write(ctx context.Context, api interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}, name, kind string, value float64, ts time.Time) {
	p := influxdb2.NewPoint(r.measurement,
		map[string]string{"metric": name, "kind": kind},
		map[string]any{"value": value},
		ts,
	)
	if err := api.WritePoint(ctx, p); err != nil {
		r.log.Warn("influxdb metrics write failed", "metric", name, "err", err)
	}
}

// Stop halts the reporter and blocks until its goroutine has exited.
func (r *InfluxReporter) Stop() {
	close(r.quit)
	<-r.done
	r.client.Close()
}
