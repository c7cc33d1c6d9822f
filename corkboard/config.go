package corkboard

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds everything a corkboard download needs that isn't part of
// the torrent's own meta-info: worker count, local identity, and the
// piece-storage thresholds.
type Config struct {
	Workers       int
	PeerID        string
	Port          uint16
	TempDir       string
	MaxMemorySize int64 // total torrent size above which pieces spill to disk
	Verbose       bool
	MetricsAddr   string // empty disables the Prometheus listener
}

const defaultMaxMemorySize = 50 * 1024 * 1024 // 50 MiB, per spec's spill threshold

// DefaultConfig returns a Config seeded from environment variables where
// set, falling back to the teacher's env-driven defaults otherwise.
func DefaultConfig(peerID string, port uint16) *Config {
	cfg := &Config{
		Workers:       envInt("WORKERS", 4),
		PeerID:        peerID,
		Port:          port,
		TempDir:       envString("SPILL_DIR", "storage/spill"),
		MaxMemorySize: defaultMaxMemorySize,
		Verbose:       envString("VERBOSE", "") != "",
		MetricsAddr:   envString("METRICS_ADDR", ""),
	}
	return cfg
}

// Validate checks the config is usable before a download starts.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrConfig, c.Workers)
	}
	if len(c.PeerID) != 20 {
		return fmt.Errorf("%w: peer id must be 20 bytes, got %d", ErrConfig, len(c.PeerID))
	}
	if err := os.MkdirAll(c.TempDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating spill dir %q: %v", ErrConfig, c.TempDir, err)
	}
	return nil
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envString(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
