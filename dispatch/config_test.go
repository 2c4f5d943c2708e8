package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	c := Config{}.WithDefaults()
	require.Equal(t, 16, c.StripesPerDisk)
	require.Equal(t, 5*time.Second, c.DefaultTimeout)
	require.Equal(t, 1024, c.MergeCacheSize)
	require.Equal(t, "info", c.LogLevel)
	require.Equal(t, "filestor", c.MetricsNamespace)
	require.Equal(t, 100*time.Millisecond, c.SlowScanThreshold)
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{StripesPerDisk: 4, LogLevel: "debug"}.WithDefaults()
	require.Equal(t, 4, c.StripesPerDisk)
	require.Equal(t, "debug", c.LogLevel)
	require.Equal(t, 1024, c.MergeCacheSize)
}
