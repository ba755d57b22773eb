package sentry_client

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// maxErrorBody limits how much of a failed response is kept
const maxErrorBody = 512

// HTTPTransport handles HTTP communication with Sentry
type HTTPTransport struct {
	config      TransportConfig
	client      *http.Client
	logger      *zap.Logger
	rateLimiter *RateLimiter
	metrics     *metricsCollector
}

// NewHTTPTransport creates a new HTTP transport. rateLimiter and metrics may be nil.
func NewHTTPTransport(config TransportConfig, logger *zap.Logger, rateLimiter *RateLimiter, metrics *metricsCollector) (*HTTPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rateLimiter == nil {
		rateLimiter = NewRateLimiter(logger)
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: config.Timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec
		},
	}

	// Configure proxy if specified
	if config.Proxy != "" {
		proxyURL, err := url.Parse(config.Proxy)
		if err != nil {
			return nil, configError("transport_init", "invalid proxy URL %q: %v", config.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &HTTPTransport{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		logger:      logger,
		rateLimiter: rateLimiter,
		metrics:     metrics,
	}, nil
}

// Send posts one delivery and classifies the response
func (t *HTTPTransport) Send(ctx context.Context, d *Delivery) DeliveryOutcome {
	outcome := t.send(ctx, d)
	if t.metrics != nil {
		t.metrics.RecordOutcome(outcome)
	}
	return outcome
}

func (t *HTTPTransport) send(ctx context.Context, d *Delivery) DeliveryOutcome {
	outcome := DeliveryOutcome{EventID: d.EventID}

	req, err := t.createRequest(ctx, d)
	if err != nil {
		t.logger.Error("Failed to create request",
			zap.String("event_id", d.EventID),
			zap.Error(err))
		outcome.Error = err.Error()
		return outcome
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error("HTTP request failed",
			zap.String("event_id", d.EventID),
			zap.Error(err))
		outcome.Error = err.Error()
		return outcome
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		t.logger.Warn("Failed to read response body",
			zap.String("event_id", d.EventID),
			zap.Error(err))
	}

	outcome.StatusCode = resp.StatusCode
	outcome.Success = resp.StatusCode >= 200 && resp.StatusCode < 300

	signal := t.rateLimiter.HandleResponse(resp.StatusCode, resp.Header)
	outcome.RateLimited = signal.Limited
	outcome.RetryAfterSeconds = signal.RetryAfterSeconds

	switch {
	case outcome.Success:
		t.logger.Info("Event sent successfully",
			zap.String("event_id", d.EventID),
			zap.Int("status_code", resp.StatusCode),
			zap.Bool("rate_limited", outcome.RateLimited))
	case outcome.RateLimited:
		outcome.Error = "rate limited by server"
		t.logger.Warn("Event rate limited by server",
			zap.String("event_id", d.EventID),
			zap.Int("status_code", resp.StatusCode),
			zap.Float64p("retry_after_seconds", outcome.RetryAfterSeconds))
	default:
		outcome.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))
		t.logger.Error("Event send failed",
			zap.String("event_id", d.EventID),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)))
	}

	return outcome
}

// createRequest creates an HTTP request for the delivery
func (t *HTTPTransport) createRequest(ctx context.Context, d *Delivery) (*http.Request, error) {
	var body io.Reader = bytes.NewReader(d.Body)
	var contentEncoding string

	if t.config.Compression {
		var buf bytes.Buffer
		gzipWriter := gzip.NewWriter(&buf)
		if _, err := gzipWriter.Write(d.Body); err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := gzipWriter.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		body = &buf
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, StoreURL(d.Endpoint, d.ProjectID), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ClientName+"/"+ClientVersion)
	req.Header.Set("X-Sentry-Auth", d.AuthHeader)

	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	return req, nil
}

// RateLimiter returns the rate limiter
func (t *HTTPTransport) RateLimiter() *RateLimiter {
	return t.rateLimiter
}

// Close closes the transport
func (t *HTTPTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	return nil
}
