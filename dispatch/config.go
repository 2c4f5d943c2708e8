package dispatch

import (
	"os"
	"time"

	"github.com/naoina/toml"
)

// Config configures a Handler. Zero-value fields are filled in by
// WithDefaults, the same pattern p2p/discover/common.go uses for its own
// Config.withDefaults: callers can populate only the fields they care
// about and trust sane defaults for the rest.
type Config struct {
	// StripesPerDisk is how many independent dispatch shards each disk is
	// split into.
	StripesPerDisk int `toml:"stripes_per_disk"`

	// DefaultTimeout is used for GetNextMessage calls that pass a timeout
	// of zero or less.
	DefaultTimeout time.Duration `toml:"default_timeout"`

	// MergeCacheSize bounds the merge-status LRU per Handler.
	MergeCacheSize int `toml:"merge_cache_size"`

	// LogLevel names a logger verbosity: one of "trace", "debug", "info",
	// "warn", "error". Handler does not read it; it logs through the
	// Logger passed to NewHandler.
	LogLevel string `toml:"log_level"`

	// MetricsNamespace names a Prometheus metric prefix. Handler does not
	// read it; the namespace actually exported is the one passed to
	// metrics.NewCollector.
	MetricsNamespace string `toml:"metrics_namespace"`

	// SlowScanThreshold is the dispatch-scan duration above which a
	// stripe logs a single warning naming its current queue length.
	// WithDefaults replaces zero with 100ms, so a Handler built through
	// NewHandler always has the check enabled.
	SlowScanThreshold time.Duration `toml:"slow_scan_threshold"`
}

// WithDefaults returns a copy of c with every zero-valued field replaced
// by its default, leaving any explicitly-set field untouched.
func (c Config) WithDefaults() Config {
	if c.StripesPerDisk <= 0 {
		c.StripesPerDisk = 16
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Second
	}
	if c.MergeCacheSize <= 0 {
		c.MergeCacheSize = 1024
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = "filestor"
	}
	if c.SlowScanThreshold <= 0 {
		c.SlowScanThreshold = 100 * time.Millisecond
	}
	return c
}

// LoadConfig reads a TOML config file from path, the format the operator
// CLI and deployment tooling use.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	var c Config
	if err := toml.NewDecoder(f).Decode(&c); err != nil {
		return Config{}, err
	}
	return c.WithDefaults(), nil
}
