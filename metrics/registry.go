// Package metrics is a small registry of counters, gauges and timers in
// the shape of go-ethereum's own metrics package (NewRegisteredCounter /
// NewRegisteredGauge / GetOrRegisterMeter), with real exporters: a
// Prometheus collector and a periodic InfluxDB pusher, rather than the
// hand-rolled reporters go-ethereum ships (those live out of scope here;
// the point is the registry shape, grounded in core/vote/vote_pool.go and
// core/state/trie_prefetcher.go's call sites).
package metrics

import (
	"sync"
	"sync/atomic"
)

// Counter is a monotonic (or freely incrementable/decrementable) integer
// metric, e.g. "votes currently queued".
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Inc(delta int64) { c.v.Add(delta) }
func (c *Counter) Dec(delta int64) { c.v.Add(-delta) }
func (c *Counter) Count() int64    { return c.v.Load() }

// Gauge is a point-in-time value, e.g. "queue depth right now".
type Gauge struct {
	v atomic.Int64
}

func (g *Gauge) Update(v int64) { g.v.Store(v) }
func (g *Gauge) Value() int64   { return g.v.Load() }

// Meter tracks a running count of marked events; unlike the teacher's
// EWMA-backed meter it computes no rate — see DESIGN.md for why this one
// component stays off a third-party rate library.
type Meter struct {
	mu    sync.Mutex
	count int64
}

func (m *Meter) Mark(n int64) {
	m.mu.Lock()
	m.count += n
	m.mu.Unlock()
}

func (m *Meter) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Timer records durations as nanosecond samples, summed and counted so a
// mean is cheap to compute; used for dispatch wait-time metrics.
type Timer struct {
	mu    sync.Mutex
	count int64
	total int64
}

func (t *Timer) UpdateSince(startNanos int64, nowNanos int64) {
	t.mu.Lock()
	t.count++
	t.total += nowNanos - startNanos
	t.mu.Unlock()
}

func (t *Timer) Mean() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	return float64(t.total) / float64(t.count)
}

func (t *Timer) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Registry is a named set of metrics, analogous to the teacher's package
// level metrics.NewRegisteredXxx calls but instantiable per Handler so
// tests don't trip over shared global state.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	meters   map[string]*Meter
	timers   map[string]*Timer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		meters:   make(map[string]*Meter),
		timers:   make(map[string]*Timer),
	}
}

func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	return c
}

func (r *Registry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[name] = g
	return g
}

func (r *Registry) Meter(name string) *Meter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meters[name]; ok {
		return m
	}
	m := &Meter{}
	r.meters[name] = m
	return m
}

func (r *Registry) Timer(name string) *Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[name]; ok {
		return t
	}
	t := &Timer{}
	r.timers[name] = t
	return t
}

// Snapshot is a point-in-time copy of every metric's value, used by both
// the Prometheus collector and the InfluxDB reporter.
type Snapshot struct {
	Counters map[string]int64
	Gauges   map[string]int64
	Meters   map[string]int64
	Timers   map[string]float64
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Counters: make(map[string]int64, len(r.counters)),
		Gauges:   make(map[string]int64, len(r.gauges)),
		Meters:   make(map[string]int64, len(r.meters)),
		Timers:   make(map[string]float64, len(r.timers)),
	}
	for k, v := range r.counters {
		s.Counters[k] = v.Count()
	}
	for k, v := range r.gauges {
		s.Gauges[k] = v.Value()
	}
	for k, v := range r.meters {
		s.Meters[k] = v.Count()
	}
	for k, v := range r.timers {
		s.Timers[k] = v.Mean()
	}
	return s
}
