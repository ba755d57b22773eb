package sentry_client

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy wraps a send with bounded, jittered exponential backoff.
// Only network errors and 5xx responses are retried.
type RetryPolicy struct {
	config  RetryConfig
	logger  *zap.Logger
	metrics *metricsCollector
	jitter  func() float64 // returns [0,1)
}

// NewRetryPolicy creates a retry policy; metrics may be nil
func NewRetryPolicy(config RetryConfig, logger *zap.Logger, metrics *metricsCollector) *RetryPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryPolicy{
		config:  config,
		logger:  logger,
		metrics: metrics,
		jitter:  rand.Float64,
	}
}

// MaxAttempts returns the total number of attempts, at least one
func (rp *RetryPolicy) MaxAttempts() int {
	if rp.config.MaxAttempts < 1 {
		return 1
	}
	return rp.config.MaxAttempts
}

// ShouldRetry determines if a failed outcome is worth another attempt
func (rp *RetryPolicy) ShouldRetry(outcome DeliveryOutcome, attempt int) bool {
	if outcome.Success || outcome.RateLimited {
		return false
	}
	if attempt >= rp.MaxAttempts() {
		return false
	}
	// StatusCode 0 means the request never got a response
	return outcome.StatusCode == 0 || outcome.StatusCode >= 500
}

// Backoff calculates the wait before attempt+1
func (rp *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return rp.config.InitialBackoff
	}

	backoff := float64(rp.config.InitialBackoff) * math.Pow(rp.config.BackoffMultiplier, float64(attempt-1))

	// Add jitter (+-25% random variation)
	backoff += backoff * 0.25 * (2*rp.jitter() - 1)

	duration := time.Duration(backoff)
	if rp.config.MaxBackoff > 0 && duration > rp.config.MaxBackoff {
		duration = rp.config.MaxBackoff
	}

	return duration
}

// Do runs send until it succeeds, stops being retryable, or attempts run out
func (rp *RetryPolicy) Do(ctx context.Context, send func(ctx context.Context) DeliveryOutcome) DeliveryOutcome {
	var outcome DeliveryOutcome
	for attempt := 1; ; attempt++ {
		outcome = send(ctx)
		outcome.Attempts = attempt

		if !rp.ShouldRetry(outcome, attempt) {
			return outcome
		}

		wait := rp.Backoff(attempt)
		rp.logger.Debug("Scheduling event retry",
			zap.String("event_id", outcome.EventID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Int("status_code", outcome.StatusCode))
		if rp.metrics != nil {
			rp.metrics.IncRetries()
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			outcome.Error = ctx.Err().Error()
			return outcome
		case <-t.C:
		}
	}
}
