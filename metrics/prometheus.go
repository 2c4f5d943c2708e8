package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts a Registry to prometheus.Collector so it can be
// registered directly with a prometheus.Registry and scraped over
// /metrics, the way go-ethereum's own metrics package offers a
// Prometheus exporter.
type Collector struct {
	reg       *Registry
	namespace string
}

// NewCollector builds a prometheus.Collector over reg. Metric names are
// namespaced and sanitized (dots and slashes become underscores) since
// Prometheus names are far more restrictive than the dotted/slashed names
// this package's callers use (e.g. "trie/prefetch/account/load").
func NewCollector(reg *Registry, namespace string) *Collector {
	return &Collector{reg: reg, namespace: namespace}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic metric set: descriptions are emitted lazily from Collect,
	// which is allowed for collectors whose metric set isn't known ahead
	// of time (the same trade-off go-ethereum's Prometheus reporter makes).
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.reg.Snapshot()
	for name, v := range snap.Counters {
		ch <- c.metric(name, "counter", float64(v))
	}
	for name, v := range snap.Gauges {
		ch <- c.metric(name, "gauge", float64(v))
	}
	for name, v := range snap.Meters {
		ch <- c.metric(name, "meter", float64(v))
	}
	for name, v := range snap.Timers {
		ch <- c.metric(name, "timer_mean_ns", v)
	}
}

func (c *Collector) metric(name, suffix string, value float64) prometheus.Metric {
	fq := prometheus.BuildFQName(c.namespace, "", sanitize(name)+"_"+suffix)
	desc := prometheus.NewDesc(fq, "filestor dispatch metric "+name, nil, nil)
	return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value)
}

func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", ".", "_", "-", "_")
	return r.Replace(name)
}
