package sentry_client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a Client
type Option func(*clientOptions)

type clientOptions struct {
	logger      *zap.Logger
	reader      SourceReader
	now         func() time.Time
	failureSink FailureSink
}

// WithLogger sets the logger (default: no-op)
func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithSourceReader sets where frame source context is read from (default: local files)
func WithSourceReader(reader SourceReader) Option {
	return func(o *clientOptions) {
		o.reader = reader
	}
}

// WithClock overrides the time source used for timestamps and auth headers
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// WithFailureSink receives outcomes of detached sends that failed or were dropped
func WithFailureSink(sink FailureSink) Option {
	return func(o *clientOptions) {
		o.failureSink = sink
	}
}

// MessageOptions are the optional inputs of CaptureMessage
type MessageOptions struct {
	// Level defaults to info
	Level    Severity
	Path     string
	Params   []any
	UserInfo map[string]any
	Detached bool
	// Request overrides the RequestContext stored on ctx
	Request *RequestContext
	EventID string
}

// ExceptionCaptureOptions are the optional inputs of CaptureException
type ExceptionCaptureOptions struct {
	// Level defaults to error
	Level                    Severity
	Path                     string
	OneLineStackTrace        bool
	ShowRawStackTrace        bool
	StripTabsInRawStackTrace bool
	AdditionalData           map[string]any
	UserInfo                 map[string]any
	Detached                 bool
	Request                  *RequestContext
	EventID                  string
}

// CaptureOptions are the envelope and delivery inputs of Capture
type CaptureOptions struct {
	Path     string
	UserInfo map[string]any
	Detached bool
	Request  *RequestContext
	EventID  string
}

// CaptureResult is returned by the capture methods. Outcome is nil for detached sends.
type CaptureResult struct {
	EventID string
	Outcome *DeliveryOutcome
}

// Client builds events and delivers them to Sentry
type Client struct {
	config      ClientConfig
	logger      *zap.Logger
	now         func() time.Time
	builder     *EventBuilder
	transport   *HTTPTransport
	retry       *RetryPolicy
	dispatcher  *Dispatcher
	metrics     *metricsCollector
	failureSink FailureSink
}

// New validates cfg and creates a ready to use Client.
// Detached deliveries run until Close is called.
func New(cfg Config, opts ...Option) (*Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}

	cfg.InitDefaults()
	cc, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}

	metrics := newMetricsCollector()
	rateLimiter := NewRateLimiter(o.logger)
	rateLimiter.now = o.now
	transport, err := NewHTTPTransport(cfg.Transport, o.logger, rateLimiter, metrics)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:      cc,
		logger:      o.logger,
		now:         o.now,
		builder:     NewEventBuilder(cc.envelope(), NewStacktraceExtractor(o.reader, o.logger), o.now),
		transport:   transport,
		retry:       NewRetryPolicy(cfg.Retry, o.logger, metrics),
		metrics:     metrics,
		failureSink: o.failureSink,
	}
	c.dispatcher = NewDispatcher(cfg.Queue, c.deliverDetached, c.dropped, o.logger)
	metrics.queueLength = c.dispatcher.Len
	c.dispatcher.Start(context.Background())

	o.logger.Debug("Sentry client configured",
		zap.String("endpoint", cc.EndpointBaseURL),
		zap.String("project", cc.ProjectID),
		zap.String("environment", cc.Environment),
		zap.String("release", cc.Release))

	return c, nil
}

// Config returns a copy of the resolved configuration
func (c *Client) Config() ClientConfig {
	cc := c.config
	cc.AllowedLevels = NewLevelSet(c.config.AllowedLevels.Levels())
	return cc
}

// CaptureMessage reports a message
func (c *Client) CaptureMessage(ctx context.Context, message string, opts MessageOptions) (*CaptureResult, error) {
	level := opts.Level
	if level == "" {
		level = SeverityInfo
	}
	if err := c.validateLevel("capture_message", level); err != nil {
		return nil, err
	}

	ev := c.builder.BuildMessage(message, level, opts.Params)
	return c.Capture(ctx, ev, CaptureOptions{
		Path:     opts.Path,
		UserInfo: opts.UserInfo,
		Detached: opts.Detached,
		Request:  opts.Request,
		EventID:  opts.EventID,
	})
}

// CaptureException reports an exception with its stack frames
func (c *Client) CaptureException(ctx context.Context, ex CapturedException, opts ExceptionCaptureOptions) (*CaptureResult, error) {
	level := opts.Level
	if level == "" {
		level = SeverityError
	}
	if err := c.validateLevel("capture_exception", level); err != nil {
		return nil, err
	}

	ev := c.builder.BuildException(ex, level, ExceptionOptions{
		OneLineStackTrace:        opts.OneLineStackTrace,
		ShowRawStackTrace:        opts.ShowRawStackTrace,
		StripTabsInRawStackTrace: opts.StripTabsInRawStackTrace,
		AdditionalData:           opts.AdditionalData,
	})
	return c.Capture(ctx, ev, CaptureOptions{
		Path:     opts.Path,
		UserInfo: opts.UserInfo,
		Detached: opts.Detached,
		Request:  opts.Request,
		EventID:  opts.EventID,
	})
}

// Capture decorates a built event and delivers it. Inline delivery failures
// are reported through the returned outcome, never as an error.
func (c *Client) Capture(ctx context.Context, ev *Event, opts CaptureOptions) (*CaptureResult, error) {
	const op = "capture"

	if ev == nil {
		return nil, validationError(op, "event is nil")
	}
	if err := c.validateLevel(op, ev.Level); err != nil {
		return nil, err
	}

	rc := RequestContext{}
	if opts.Request != nil {
		rc = *opts.Request
	} else if fromCtx, ok := RequestContextFrom(ctx); ok {
		rc = fromCtx
	}

	c.builder.Decorate(ev, DecorateOptions{
		EventID:  opts.EventID,
		Path:     opts.Path,
		Request:  rc,
		UserInfo: opts.UserInfo,
	})
	c.metrics.IncEventsByLevel(ev.Level)

	c.logger.Debug("Capturing event",
		zap.String("event_id", ev.EventID),
		zap.Stringer("kind", ev.Kind),
		zap.String("level", string(ev.Level)),
		zap.Bool("detached", opts.Detached))

	result := &CaptureResult{EventID: ev.EventID}

	body, err := json.Marshal(ev)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindValidation, Message: "event is not serializable", Err: err}
	}

	delivery := &Delivery{
		EventID:    ev.EventID,
		Level:      ev.Level,
		Endpoint:   c.config.EndpointBaseURL,
		ProjectID:  c.config.ProjectID,
		AuthHeader: c.authHeader(),
		Body:       body,
	}

	if opts.Detached {
		// submit failures go to the failure sink, the caller never sees them
		_ = c.dispatcher.Submit(delivery)
		return result, nil
	}

	outcome := c.deliver(ctx, delivery)
	result.Outcome = &outcome
	return result, nil
}

func (c *Client) validateLevel(op string, level Severity) error {
	if !level.Valid() {
		return validationError(op, "unknown severity level %q", level)
	}
	if !c.config.AllowedLevels.Contains(level) {
		return validationError(op, "severity level %q is not allowed", level)
	}
	return nil
}

func (c *Client) authHeader() string {
	header := AuthHeader(c.config.SentryProtocolVersion, c.now().UnixMilli(), c.config.PublicKey, ClientName, c.config.SDKVersion)
	return withSecret(header, c.config.PrivateKey)
}

// deliver sends d unless the server asked us to back off
func (c *Client) deliver(ctx context.Context, d *Delivery) DeliveryOutcome {
	rl := c.transport.RateLimiter()
	if disabledUntil := rl.DisabledUntil(categoryError); !disabledUntil.IsZero() {
		remaining := disabledUntil.Sub(c.now()).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		outcome := DeliveryOutcome{
			EventID:           d.EventID,
			RateLimited:       true,
			RetryAfterSeconds: &remaining,
			Error:             fmt.Sprintf("rate limited until %s", disabledUntil.Format(time.RFC3339)),
		}
		c.metrics.RecordOutcome(outcome)
		c.logger.Warn("Event suppressed by rate limit",
			zap.String("event_id", d.EventID),
			zap.Time("disabled_until", disabledUntil))
		return outcome
	}

	return c.retry.Do(ctx, func(ctx context.Context) DeliveryOutcome {
		return c.transport.Send(ctx, d)
	})
}

func (c *Client) deliverDetached(ctx context.Context, d *Delivery) {
	outcome := c.deliver(ctx, d)
	if !outcome.Success && c.failureSink != nil {
		c.failureSink(outcome)
	}
}

func (c *Client) dropped(d *Delivery, err error) {
	c.metrics.IncDroppedEvents()
	if c.failureSink != nil {
		c.failureSink(DeliveryOutcome{EventID: d.EventID, Error: err.Error()})
	}
}

// RateLimiter exposes the last known rate limits
func (c *Client) RateLimiter() *RateLimiter {
	return c.transport.RateLimiter()
}

// Metrics returns a snapshot of the delivery counters
func (c *Client) Metrics() TransportMetrics {
	return c.metrics.Snapshot()
}

// MetricsCollector returns the prometheus collector of this client
func (c *Client) MetricsCollector() prometheus.Collector {
	return c.metrics
}

// Close stops detached delivery, waiting for queued events until ctx expires
func (c *Client) Close(ctx context.Context) error {
	err := c.dispatcher.Stop(ctx)
	if cerr := c.transport.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
