package directory

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Config struct {
	sweepInterval      time.Duration
	tombstoneRetention time.Duration
	clock              clock.Clock
}

type Option func(*Config)

// WithSweepInterval sets how often expired tombstones are compacted away.
// Non-positive intervals keep the default.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.sweepInterval = interval
		}
	}
}

// WithTombstoneRetention sets how long eviction tombstones are kept. Late
// readers within the window get a definite Reclaimed error instead of the
// ambiguous NotFound.
func WithTombstoneRetention(retention time.Duration) Option {
	return func(c *Config) {
		if retention > 0 {
			c.tombstoneRetention = retention
		}
	}
}

// WithClock injects a clock, used by tests to drive the sweep.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.clock = clk
	}
}
