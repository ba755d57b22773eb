package sentry_client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// receivedRequest is what the fake store endpoint saw
type receivedRequest struct {
	Path  string
	Auth  string
	Event map[string]any
}

// fakeSentry is an httptest store endpoint recording every request
type fakeSentry struct {
	*httptest.Server
	mu       sync.Mutex
	requests []receivedRequest
	calls    atomic.Int32
	respond  func(w http.ResponseWriter)
}

func newFakeSentry(t *testing.T) *fakeSentry {
	fs := &fakeSentry{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var ev map[string]any
		_ = json.Unmarshal(body, &ev)

		fs.mu.Lock()
		fs.requests = append(fs.requests, receivedRequest{Path: r.URL.Path, Auth: r.Header.Get("X-Sentry-Auth"), Event: ev})
		respond := fs.respond
		fs.mu.Unlock()

		if respond != nil {
			respond(w)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeSentry) setResponse(respond func(w http.ResponseWriter)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.respond = respond
}

func (fs *fakeSentry) received() []receivedRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]receivedRequest, len(fs.requests))
	copy(out, fs.requests)
	return out
}

// dsnFor points a DSN at the fake server
func dsnFor(fs *fakeSentry, key, project string) string {
	return strings.Replace(fs.URL, "http://", "http://"+key+"@", 1) + "/" + project
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) *Client {
	if cfg.Release == "" {
		cfg.Release = "1.2.3"
	}
	if cfg.Environment == "" {
		cfg.Environment = "test"
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedTime })}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestClient_EndToEnd(t *testing.T) {
	cfg := Config{DSN: "https://pub123@o1.ingest.example.com/5", Release: "1.0", Environment: "prod"}
	cfg.InitDefaults()
	cc, err := cfg.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://o1.ingest.example.com", cc.EndpointBaseURL)
	assert.Equal(t, "pub123", cc.PublicKey)
	assert.Equal(t, "5", cc.ProjectID)

	fs := newFakeSentry(t)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "pub123", "5")})

	result, err := c.CaptureMessage(context.Background(), "disk full", MessageOptions{Level: SeverityError})
	require.NoError(t, err)
	require.NotNil(t, result.Outcome)
	assert.True(t, result.Outcome.Success)
	assert.Equal(t, 1, result.Outcome.Attempts)

	reqs := fs.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/5/store/", reqs[0].Path)
	assert.Contains(t, reqs[0].Auth, "sentry_key=pub123")
	assert.Contains(t, reqs[0].Auth, "sentry_version=7")
	assert.Contains(t, reqs[0].Auth, "sentry_timestamp=1709296245000")
	assert.Contains(t, reqs[0].Auth, "sentry_client="+ClientName+"/"+ClientVersion)
	assert.NotContains(t, reqs[0].Auth, "sentry_secret")

	ev := reqs[0].Event
	assert.Equal(t, "5", ev["project"])
	assert.Equal(t, "disk full", ev["message"])
	assert.Equal(t, "error", ev["level"])
	assert.Equal(t, result.EventID, ev["event_id"])
	assert.Equal(t, "1.2.3", ev["release"])
	assert.Equal(t, "test", ev["environment"])
	assert.Equal(t, "2024-03-01T12:30:45Z", ev["timestamp"])
	assert.Contains(t, ev, "request")
}

func TestClient_DefaultLevels(t *testing.T) {
	fs := newFakeSentry(t)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")})

	_, err := c.CaptureMessage(context.Background(), "m", MessageOptions{})
	require.NoError(t, err)
	_, err = c.CaptureException(context.Background(), CapturedException{Message: "e", Type: "Any"}, ExceptionCaptureOptions{})
	require.NoError(t, err)

	reqs := fs.received()
	require.Len(t, reqs, 2)
	assert.Equal(t, "info", reqs[0].Event["level"])
	assert.Equal(t, "error", reqs[1].Event["level"])
	assert.Equal(t, "Any Error", reqs[1].Event["exception"].(map[string]any)["type"])
}

func TestClient_InvalidLevel(t *testing.T) {
	fs := newFakeSentry(t)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1"), Levels: []string{"error", "fatal"}})

	for _, level := range []Severity{"critical", "WARN", SeverityInfo} {
		_, err := c.CaptureMessage(context.Background(), "m", MessageOptions{Level: level})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation), "level %q", level)

		_, err = c.CaptureException(context.Background(), CapturedException{}, ExceptionCaptureOptions{Level: level})
		assert.True(t, errors.Is(err, ErrValidation), "level %q", level)
	}

	_, err := c.Capture(context.Background(), nil, CaptureOptions{})
	assert.True(t, errors.Is(err, ErrValidation))

	assert.Zero(t, fs.calls.Load(), "no HTTP call on validation errors")
}

func TestClient_CaptureExceptionOneLine(t *testing.T) {
	fs := newFakeSentry(t)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")}, WithSourceReader(newMemorySource(nil)))

	frames := make([]StackFrame, 6)
	for i := range frames {
		frames[i] = StackFrame{TemplatePath: "/t.cfm", Line: i + 1, FrameID: "CFFUNCTION"}
	}
	_, err := c.CaptureException(context.Background(), CapturedException{Message: "m", Type: "Any", StackFrames: frames},
		ExceptionCaptureOptions{OneLineStackTrace: true})
	require.NoError(t, err)

	reqs := fs.received()
	require.Len(t, reqs, 1)
	st := reqs[0].Event["exception"].(map[string]any)["stacktrace"].(map[string]any)
	assert.Len(t, st["frames"], 1)
}

func TestClient_RequestContextFromContext(t *testing.T) {
	fs := newFakeSentry(t)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")})

	ctx := WithRequestContext(context.Background(), RequestContext{Secure: true, Host: "a.example.com", ScriptPath: "/x", Method: "GET"})
	_, err := c.CaptureMessage(ctx, "m", MessageOptions{UserInfo: map[string]any{"id": "u1"}})
	require.NoError(t, err)

	explicit := RequestContext{Host: "b.example.com", ScriptPath: "/y"}
	_, err = c.CaptureMessage(ctx, "m", MessageOptions{Request: &explicit})
	require.NoError(t, err)

	reqs := fs.received()
	require.Len(t, reqs, 2)
	assert.Equal(t, "https://a.example.com/x", reqs[0].Event["transaction"])
	assert.Equal(t, map[string]any{"id": "u1"}, reqs[0].Event["user"])
	assert.Equal(t, "http://b.example.com/y", reqs[1].Event["transaction"])
	assert.NotContains(t, reqs[1].Event, "user")
}

func TestClient_FormDataThroughMiddleware(t *testing.T) {
	fs := newFakeSentry(t)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")})

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := c.CaptureMessage(r.Context(), "login failed", MessageOptions{Level: SeverityWarning})
		require.NoError(t, err)
	}))

	r := httptest.NewRequest(http.MethodPost, "http://app.example.com/login", strings.NewReader("user=bob"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	reqs := fs.received()
	require.Len(t, reqs, 1)
	request := reqs[0].Event["request"].(map[string]any)
	assert.Equal(t, map[string]any{"user": "bob"}, request["data"])
	assert.Equal(t, "POST", request["method"])
	assert.Equal(t, "http://app.example.com/login", request["url"])
}

func TestClient_DeliveryFailureIsNotAnError(t *testing.T) {
	fs := newFakeSentry(t)
	fs.setResponse(func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadRequest) })
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1"), Retry: RetryConfig{MaxAttempts: 3}})

	result, err := c.CaptureMessage(context.Background(), "m", MessageOptions{})
	require.NoError(t, err)
	assert.False(t, result.Outcome.Success)
	assert.Equal(t, http.StatusBadRequest, result.Outcome.StatusCode)
	assert.ErrorIs(t, result.Outcome.Err(), ErrDelivery)
	assert.Equal(t, int32(1), fs.calls.Load(), "4xx is not retried")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	fs := newFakeSentry(t)
	var n atomic.Int32
	fs.setResponse(func(w http.ResponseWriter) {
		if n.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1"), Retry: RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}})

	result, err := c.CaptureMessage(context.Background(), "m", MessageOptions{})
	require.NoError(t, err)
	assert.True(t, result.Outcome.Success)
	assert.Equal(t, 3, result.Outcome.Attempts)
	assert.Equal(t, int64(2), c.Metrics().TotalRetries)
}

func TestClient_RateLimitSuppressesSends(t *testing.T) {
	fs := newFakeSentry(t)
	fs.setResponse(func(w http.ResponseWriter) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")})

	result, err := c.CaptureMessage(context.Background(), "first", MessageOptions{})
	require.NoError(t, err)
	assert.True(t, result.Outcome.RateLimited)
	assert.False(t, result.Outcome.Success)
	require.NotNil(t, result.Outcome.RetryAfterSeconds)
	assert.Equal(t, 30.0, *result.Outcome.RetryAfterSeconds)

	result, err = c.CaptureMessage(context.Background(), "second", MessageOptions{})
	require.NoError(t, err)
	assert.True(t, result.Outcome.RateLimited)
	assert.Zero(t, result.Outcome.StatusCode)
	assert.ErrorIs(t, result.Outcome.Err(), ErrRateLimited)
	require.NotNil(t, result.Outcome.RetryAfterSeconds)
	assert.Equal(t, 30.0, *result.Outcome.RetryAfterSeconds)

	assert.Equal(t, int32(1), fs.calls.Load(), "second send is suppressed locally")
	assert.Equal(t, int64(2), c.Metrics().EventsRateLimit)
}

func TestClient_Detached(t *testing.T) {
	fs := newFakeSentry(t)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")})

	result, err := c.CaptureMessage(context.Background(), "async", MessageOptions{Detached: true})
	require.NoError(t, err)
	assert.Nil(t, result.Outcome)
	assert.NotEmpty(t, result.EventID)

	require.NoError(t, c.Close(context.Background()))

	reqs := fs.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, result.EventID, reqs[0].Event["event_id"])
}

func TestClient_DetachedFailureSink(t *testing.T) {
	fs := newFakeSentry(t)
	fs.setResponse(func(w http.ResponseWriter) { w.WriteHeader(http.StatusInternalServerError) })

	failures := make(chan DeliveryOutcome, 4)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")}, WithFailureSink(func(o DeliveryOutcome) { failures <- o }))

	result, err := c.CaptureException(context.Background(), CapturedException{Message: "m", Type: "Any"}, ExceptionCaptureOptions{Detached: true})
	require.NoError(t, err)

	select {
	case o := <-failures:
		assert.Equal(t, result.EventID, o.EventID)
		assert.Equal(t, http.StatusInternalServerError, o.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("failure sink was not called")
	}
}

func TestClient_DetachedAfterClose(t *testing.T) {
	fs := newFakeSentry(t)
	failures := make(chan DeliveryOutcome, 1)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")}, WithFailureSink(func(o DeliveryOutcome) { failures <- o }))
	require.NoError(t, c.Close(context.Background()))

	_, err := c.CaptureMessage(context.Background(), "late", MessageOptions{Detached: true})
	require.NoError(t, err)

	o := <-failures
	assert.Equal(t, ErrQueueClosed.Error(), o.Error)
	assert.Equal(t, int64(1), c.Metrics().EventsDropped)
	assert.Zero(t, fs.calls.Load())
}

func TestClient_LegacyDSNSendsSecret(t *testing.T) {
	fs := newFakeSentry(t)
	dsn := strings.Replace(fs.URL, "http://", "http://pub:priv@", 1) + "/3"
	c := newTestClient(t, Config{DSN: dsn, LegacyDSN: true})

	_, err := c.CaptureMessage(context.Background(), "m", MessageOptions{})
	require.NoError(t, err)

	reqs := fs.received()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Auth, "sentry_key=pub")
	assert.Contains(t, reqs[0].Auth, "sentry_secret=priv")
}

func TestClient_KeyConfiguration(t *testing.T) {
	fs := newFakeSentry(t)
	c := newTestClient(t, Config{Endpoint: fs.URL, PublicKey: "pk", ProjectID: "77"})

	_, err := c.CaptureMessage(context.Background(), "m", MessageOptions{})
	require.NoError(t, err)

	reqs := fs.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/77/store/", reqs[0].Path)
	assert.Equal(t, "77", reqs[0].Event["project"])
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no credentials", Config{Release: "1", Environment: "e"}, ErrConfig},
		{"no release", Config{DSN: "https://k@h/1", Environment: "e"}, ErrConfig},
		{"no environment", Config{DSN: "https://k@h/1", Release: "1"}, ErrConfig},
		{"partial keys", Config{PublicKey: "k", Release: "1", Environment: "e"}, ErrConfig},
		{"bad level", Config{DSN: "https://k@h/1", Release: "1", Environment: "e", Levels: []string{"loud"}}, ErrConfig},
		{"malformed dsn", Config{DSN: "not-a-dsn", Release: "1", Environment: "e"}, ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestClient_ConfigIsACopy(t *testing.T) {
	fs := newFakeSentry(t)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")})

	cc := c.Config()
	cc.ProjectID = "changed"
	assert.Equal(t, "1", c.Config().ProjectID)
	assert.Len(t, c.Config().AllowedLevels.Levels(), 5)
}

func TestClient_LogsDelivery(t *testing.T) {
	fs := newFakeSentry(t)
	core, logs := observer.New(zap.DebugLevel)
	c := newTestClient(t, Config{DSN: dsnFor(fs, "k", "1")}, WithLogger(zap.New(core)))

	result, err := c.CaptureMessage(context.Background(), "m", MessageOptions{})
	require.NoError(t, err)

	sent := logs.FilterMessage("Event sent successfully").All()
	require.Len(t, sent, 1)
	assert.Equal(t, result.EventID, sent[0].ContextMap()["event_id"])

	_, err = c.CaptureException(context.Background(), CapturedException{Message: "e", Type: "Any"}, ExceptionCaptureOptions{})
	require.NoError(t, err)

	captured := logs.FilterMessage("Capturing event").All()
	require.Len(t, captured, 2)
	assert.Equal(t, "message", captured[0].ContextMap()["kind"])
	assert.Equal(t, "exception", captured[1].ContextMap()["kind"])
	assert.Equal(t, "error", captured[1].ContextMap()["level"])
}
