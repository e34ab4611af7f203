package store

import "time"

// Config holds orchestrator tuning.
type Config struct {
	// MaxAttempts bounds driver attempts per operation.
	// Default: 3
	MaxAttempts int

	// RetryBackoff is the initial backoff between attempts; it doubles
	// per attempt.
	// Default: 50ms
	RetryBackoff time.Duration

	// EdgeCacheTTL bounds how long forward edge lists live in the shared
	// cache. Zero disables edge caching.
	EdgeCacheTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RetryBackoff: 50 * time.Millisecond,
		EdgeCacheTTL: 5 * time.Minute,
	}
}

func (c *Config) validate() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
}
