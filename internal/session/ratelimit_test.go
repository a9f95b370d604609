package session

import (
	"testing"

	"golang.org/x/time/rate"
)

// TestDefaultRateLimitConfig tests the default rate limit configuration.
func TestDefaultRateLimitConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRateLimitConfig()

	if config == nil {
		t.Fatal("DefaultRateLimitConfig() returned nil")
	}
	if !config.Enabled {
		t.Error("Default rate limit should be enabled")
	}
	if config.MessagesPerSecond != 100 {
		t.Errorf("Default MessagesPerSecond = %v, want 100", config.MessagesPerSecond)
	}
	if config.Burst != 200 {
		t.Errorf("Default Burst = %v, want 200", config.Burst)
	}
}

// TestNoRateLimit tests the disabled configuration.
func TestNoRateLimit(t *testing.T) {
	t.Parallel()

	config := NoRateLimit()

	if config == nil {
		t.Fatal("NoRateLimit() returned nil")
	}
	if config.Enabled {
		t.Error("NoRateLimit should have Enabled = false")
	}
}

// TestNewLimiter tests limiter construction from configurations.
func TestNewLimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *RateLimitConfig
		wantNil bool
	}{
		{
			name:    "enabled config",
			config:  &RateLimitConfig{MessagesPerSecond: 50, Burst: 100, Enabled: true},
			wantNil: false,
		},
		{
			name:    "disabled config",
			config:  NoRateLimit(),
			wantNil: true,
		},
		{
			name:    "nil config",
			config:  nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			limiter := newLimiter(tt.config)
			if (limiter == nil) != tt.wantNil {
				t.Errorf("newLimiter() nil = %v, want %v", limiter == nil, tt.wantNil)
			}
		})
	}
}

// TestLimiterBurst tests token bucket burst behavior.
func TestLimiterBurst(t *testing.T) {
	t.Parallel()

	limiter := rate.NewLimiter(1, 3)

	// The full burst is available immediately.
	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("Allow() call %d denied within burst", i+1)
		}
	}

	// The bucket is now empty.
	if limiter.Allow() {
		t.Error("Allow() granted beyond burst capacity")
	}
}
