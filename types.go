package sentry_client

import (
	"time"
)

// DeliveryOutcome represents the result of a send operation
type DeliveryOutcome struct {
	EventID     string `json:"event_id"`
	Success     bool   `json:"success"`
	StatusCode  int    `json:"status_code"`
	RateLimited bool   `json:"rate_limited,omitempty"`
	// RetryAfterSeconds is set when the server sent Retry-After
	RetryAfterSeconds *float64 `json:"retry_after_seconds,omitempty"`
	Error             string   `json:"error,omitempty"`
	Attempts          int      `json:"attempts,omitempty"`
}

// Err converts a failed outcome to an error matching ErrRateLimited or
// ErrDelivery. Accepted events yield nil, even when the server also sent limits.
func (o DeliveryOutcome) Err() error {
	switch {
	case o.Success:
		return nil
	case o.RateLimited:
		return &Error{Op: "deliver", Kind: KindRateLimited, Message: o.Error}
	default:
		return &Error{Op: "deliver", Kind: KindDelivery, Message: o.Error}
	}
}

// Delivery is a fully prepared request: serialized event plus its auth header
type Delivery struct {
	EventID    string
	Level      Severity
	Endpoint   string
	ProjectID  string
	AuthHeader string
	Body       []byte
}

// queuedDelivery represents a delivery waiting for a dispatcher worker
type queuedDelivery struct {
	Delivery *Delivery
	Enqueued time.Time
}

// FailureSink receives outcomes of detached sends that did not succeed
type FailureSink func(outcome DeliveryOutcome)

// TransportMetrics is a snapshot of delivery counters
type TransportMetrics struct {
	EventsSent      int64
	EventsFailed    int64
	EventsRateLimit int64
	EventsDropped   int64
	TotalRetries    int64
	QueueLength     int
}
