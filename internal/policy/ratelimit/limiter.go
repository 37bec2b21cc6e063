// Package ratelimit implements the shared fixed-cadence gate that guards every
// outbound network call of the pipeline.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/indicator-analyzer/internal/metrics"
)

// DefaultCallsPerMinute matches the analysis service's default quota.
const DefaultCallsPerMinute = 20

// Config holds rate limiter configuration.
type Config struct {
	CallsPerMinute float64
	// Scope labels the wait histogram; defaults to "outbound".
	Scope string
}

// Limiter spaces calls at least 60/CallsPerMinute seconds apart across all
// callers sharing the instance. Waiters are admitted in arrival order.
type Limiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	scope    string
}

// New creates a new Limiter. The cadence is fixed for the Limiter's lifetime.
func New(cfg Config) *Limiter {
	cpm := cfg.CallsPerMinute
	if cpm <= 0 {
		cpm = DefaultCallsPerMinute
	}
	scope := cfg.Scope
	if scope == "" {
		scope = "outbound"
	}
	interval := time.Duration(float64(time.Minute) / cpm)
	return &Limiter{
		// Burst 1: the first call passes immediately, every later call waits
		// a full interval after the previous one was admitted.
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		scope:    scope,
	}
}

// Interval returns the minimum spacing between admitted calls.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until the caller may issue its call or ctx ends. A canceled
// wait gives its slot back, so only attempted calls advance the schedule.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.scope, waited)
	}
	return nil
}
