package sentry_client

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	headerRateLimits = "X-Sentry-Rate-Limits"
	headerRetryAfter = "Retry-After"

	categoryAll   = "all"
	categoryError = "error"

	defaultRetryAfter = 60 * time.Second
)

// RateLimitSignal is what a single response said about throttling
type RateLimitSignal struct {
	// Limited is true when either rate limit header was present
	Limited           bool
	RetryAfterSeconds *float64
}

// RateLimiter handles Sentry rate limiting based on response headers
type RateLimiter struct {
	mu         sync.RWMutex
	rateLimits map[string]time.Time // category -> disabled until time
	logger     *zap.Logger
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		rateLimits: make(map[string]time.Time),
		logger:     logger,
		now:        time.Now,
	}
}

// IsRateLimited checks if the given category is currently rate limited
func (rl *RateLimiter) IsRateLimited(category string) bool {
	return !rl.DisabledUntil(category).IsZero()
}

// DisabledUntil returns the time until which the category is disabled, zero when it is not
func (rl *RateLimiter) DisabledUntil(category string) time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	now := rl.now()
	var maxDisabledUntil time.Time

	for _, c := range []string{category, categoryAll} {
		if disabledUntil, exists := rl.rateLimits[c]; exists && disabledUntil.After(now) && disabledUntil.After(maxDisabledUntil) {
			maxDisabledUntil = disabledUntil
		}
	}

	return maxDisabledUntil
}

// HandleResponse records the rate limits carried by a response.
// X-Sentry-Rate-Limits wins over Retry-After when both are present.
func (rl *RateLimiter) HandleResponse(statusCode int, headers http.Header) RateLimitSignal {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	var signal RateLimitSignal

	retryAfter := strings.TrimSpace(headers.Get(headerRetryAfter))
	if retryAfter != "" {
		if seconds, ok := retryAfterSeconds(retryAfter, now); ok {
			signal.RetryAfterSeconds = &seconds
		}
	}

	if rateLimits := headers.Get(headerRateLimits); rateLimits != "" {
		rl.parseRateLimitHeader(rateLimits, now)
		signal.Limited = true
		return signal
	}

	if statusCode == http.StatusTooManyRequests {
		rl.applyRetryAfter(signal.RetryAfterSeconds, retryAfter, now)
		signal.Limited = true
	}

	return signal
}

// parseRateLimitHeader parses the X-Sentry-Rate-Limits header
// Format: "retry_after:categories:scope:reason_code:namespaces"
func (rl *RateLimiter) parseRateLimitHeader(header string, now time.Time) {
	for _, limit := range strings.Split(header, ",") {
		limit = strings.TrimSpace(limit)
		parts := strings.Split(limit, ":")

		if len(parts) < 2 {
			continue
		}

		retryAfter := defaultRetryAfter
		if seconds, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err == nil && seconds >= 0 {
			retryAfter = time.Duration(seconds * float64(time.Second))
		} else {
			rl.logger.Warn("Failed to parse retry_after from rate limit header", zap.String("value", parts[0]))
		}

		disabledUntil := now.Add(retryAfter)

		categoriesStr := strings.TrimSpace(parts[1])
		if categoriesStr == "" {
			categoriesStr = categoryAll
		}

		for _, category := range strings.Split(categoriesStr, ";") {
			category = normalizeCategory(strings.TrimSpace(category))
			if current, ok := rl.rateLimits[category]; ok && current.After(disabledUntil) {
				continue
			}
			rl.rateLimits[category] = disabledUntil
			rl.logger.Warn("Rate limit applied",
				zap.String("category", category),
				zap.Time("disabled_until", disabledUntil),
				zap.Duration("retry_after", retryAfter))
		}
	}
}

func (rl *RateLimiter) applyRetryAfter(seconds *float64, raw string, now time.Time) {
	retryAfter := defaultRetryAfter
	if seconds != nil {
		retryAfter = time.Duration(*seconds * float64(time.Second))
	} else {
		rl.logger.Warn("Failed to parse Retry-After header, using default",
			zap.String("header", raw))
	}

	disabledUntil := now.Add(retryAfter)
	rl.rateLimits[categoryAll] = disabledUntil
	rl.logger.Warn("Global rate limit applied via Retry-After header",
		zap.Time("disabled_until", disabledUntil),
		zap.Duration("retry_after", retryAfter))
}

// retryAfterSeconds accepts delta seconds (possibly fractional) or an HTTP date
func retryAfterSeconds(header string, now time.Time) (float64, bool) {
	if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds >= 0 {
		return seconds, true
	}
	if retryTime, err := http.ParseTime(header); err == nil {
		d := retryTime.Sub(now).Seconds()
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// normalizeCategory converts event types to Sentry data categories
func normalizeCategory(category string) string {
	switch category {
	case "":
		return categoryAll
	case "event", "default":
		return categoryError
	case "log":
		return "log_item"
	default:
		return category
	}
}

// CleanupExpired removes expired rate limits
func (rl *RateLimiter) CleanupExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for category, disabledUntil := range rl.rateLimits {
		if !disabledUntil.After(now) {
			delete(rl.rateLimits, category)
		}
	}
}

// Status returns current rate limit status
func (rl *RateLimiter) Status() map[string]time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	status := make(map[string]time.Time, len(rl.rateLimits))
	for category, disabledUntil := range rl.rateLimits {
		status[category] = disabledUntil
	}

	return status
}
