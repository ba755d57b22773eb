package sentry_client

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// Plugin represents the main plugin structure
type Plugin struct {
	config *Config
	logger *zap.Logger
	client *Client

	// Lifecycle
	stopCh chan struct{}
	doneCh chan struct{}
	served bool
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out any) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// Reporter is what other plugins receive to report events
type Reporter interface {
	CaptureMessage(ctx context.Context, message string, opts MessageOptions) (*CaptureResult, error)
	CaptureException(ctx context.Context, ex CapturedException, opts ExceptionCaptureOptions) (*CaptureResult, error)
	Capture(ctx context.Context, ev *Event, opts CaptureOptions) (*CaptureResult, error)
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("sentry_client_init")

	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	p.config = config
	p.logger = log.NamedLogger(PluginName)

	client, err := New(*config, WithLogger(p.logger), WithFailureSink(p.logFailure))
	if err != nil {
		return errors.E(op, err)
	}
	p.client = client

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("Sentry client plugin initialized",
		zap.String("project", client.config.ProjectID),
		zap.String("environment", config.Environment),
		zap.Int("queue_buffer_size", config.Queue.BufferSize),
		zap.Int("workers", config.Queue.Workers))

	return nil
}

// Serve starts the plugin
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.client == nil {
		errCh <- errors.E(errors.Op("sentry_client_serve"), errors.Str("plugin not initialized"))
		return errCh
	}

	p.served = true
	go func() {
		defer close(p.doneCh)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go p.cleanupRoutine(ctx)

		p.logger.Info("Sentry client plugin started")

		<-p.stopCh
		p.logger.Info("Sentry client plugin stopping")
	}()

	return errCh
}

// Stop stops the plugin, flushing detached events until ctx expires
func (p *Plugin) Stop(ctx context.Context) error {
	if p.stopCh != nil {
		close(p.stopCh)
		// doneCh is only closed by the Serve goroutine
		if p.served {
			select {
			case <-p.doneCh:
			case <-ctx.Done():
			}
		}
	}

	if p.client == nil {
		return nil
	}

	if err := p.client.Close(ctx); err != nil {
		p.logger.Warn("Plugin stop timed out", zap.Error(err))
		return err
	}

	p.logger.Info("Sentry client plugin stopped")
	return nil
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() any {
	return NewRPC(p.client, p.logger)
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*Reporter)(nil), p.Reporter),
	}
}

// Reporter returns the client as a Reporter
func (p *Plugin) Reporter() Reporter {
	return p.client
}

// MetricsCollector implements the metrics plugin StatProvider
func (p *Plugin) MetricsCollector() []prometheus.Collector {
	if p.client == nil {
		return nil
	}
	return []prometheus.Collector{p.client.MetricsCollector()}
}

// cleanupRoutine periodically drops expired rate limits
func (p *Plugin) cleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.client.RateLimiter().CleanupExpired()
		}
	}
}

// logFailure makes detached failures visible in the plugin log
func (p *Plugin) logFailure(outcome DeliveryOutcome) {
	p.logger.Warn("Detached event was not delivered",
		zap.String("event_id", outcome.EventID),
		zap.Int("status_code", outcome.StatusCode),
		zap.Bool("rate_limited", outcome.RateLimited),
		zap.Error(outcome.Err()))
}
