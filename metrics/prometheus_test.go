package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCollectorEmitsOneMetricPerRegistryEntry(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("requests").Inc(3)
	reg.Gauge("inflight").Update(1)

	c := NewCollector(reg, "filestor")
	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)

	var count int
	for range ch {
		count++
	}
	require.Equal(t, 2, count)
}

func TestSanitizeReplacesReservedCharacters(t *testing.T) {
	require.Equal(t, "a_b_c_d", sanitize("a/b.c-d"))
}
