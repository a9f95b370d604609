package session

import "golang.org/x/time/rate"

// RateLimitConfig defines per-connection inbound rate limiting.
type RateLimitConfig struct {
	// MessagesPerSecond defines how many envelopes a peer can send per second.
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity).
	Burst int
	// Enabled determines if rate limiting is active.
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration.
// Allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// newLimiter builds a limiter from cfg, or nil when limiting is off.
func newLimiter(cfg *RateLimitConfig) *rate.Limiter {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return rate.NewLimiter(cfg.MessagesPerSecond, cfg.Burst)
}
