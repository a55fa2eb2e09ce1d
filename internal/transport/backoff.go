// ABOUTME: Exponential reconnect backoff with optional jitter for the agent client.
// ABOUTME: Delays grow by Multiplier from InitialDelay and are capped at MaxDelay.

package transport

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoff returns the reconnect defaults used by agents.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// WithDefaults fills zero fields from DefaultBackoff.
func (c BackoffConfig) WithDefaults() BackoffConfig {
	d := DefaultBackoff()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 {
		mult := cfg.Multiplier
		if mult < 1.0 {
			mult = 1.0
		}
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 1.0
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
