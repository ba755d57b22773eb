package sentry_client

import (
	"os"
	"time"
)

const (
	PluginName = "sentry_client"

	ClientName            = "sentry-client-rr"
	ClientVersion         = "1.0.0"
	SentryProtocolVersion = "7"

	// DefaultEndpoint is used with key based configuration when no endpoint is given
	DefaultEndpoint = "https://sentry.io"
)

// Config represents the plugin configuration
type Config struct {
	// Sentry DSN; alternatively PublicKey/PrivateKey/ProjectID with an optional Endpoint
	DSN       string `mapstructure:"dsn"`
	LegacyDSN bool   `mapstructure:"legacy_dsn"`

	Endpoint   string `mapstructure:"endpoint"`
	PublicKey  string `mapstructure:"public_key"`
	PrivateKey string `mapstructure:"private_key"`
	ProjectID  string `mapstructure:"project_id"`

	Release     string   `mapstructure:"release"`
	Environment string   `mapstructure:"environment"`
	ServerName  string   `mapstructure:"server_name"`
	Logger      string   `mapstructure:"logger"`
	Platform    string   `mapstructure:"platform"`
	Levels      []string `mapstructure:"levels"`

	// HTTP transport settings
	Transport TransportConfig `mapstructure:"transport"`

	// Retry configuration
	Retry RetryConfig `mapstructure:"retry"`

	// Queue configuration for detached sends
	Queue QueueConfig `mapstructure:"queue"`
}

// TransportConfig contains HTTP transport settings
type TransportConfig struct {
	// Request timeout
	Timeout time.Duration `mapstructure:"timeout"`
	// Enable gzip compression
	Compression bool `mapstructure:"compression"`
	// Skip TLS verification when true
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// Proxy URL
	Proxy string `mapstructure:"proxy"`
}

// RetryConfig contains retry mechanism settings
type RetryConfig struct {
	// Maximum attempts per event, 0 or 1 disables retries
	MaxAttempts int `mapstructure:"max_attempts"`
	// Initial backoff duration
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// Backoff multiplier
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	// Maximum backoff duration
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// QueueConfig contains queue settings
type QueueConfig struct {
	// Buffer size for the event queue
	BufferSize int `mapstructure:"buffer_size"`
	// Number of worker goroutines
	Workers int `mapstructure:"workers"`
}

// InitDefaults initializes default configuration values
func (cfg *Config) InitDefaults() {
	if cfg.Logger == "" {
		cfg.Logger = "sentry"
	}
	if cfg.Platform == "" {
		cfg.Platform = "go"
	}
	if cfg.ServerName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.ServerName = host
		}
	}
	if len(cfg.Levels) == 0 {
		for _, l := range AllSeverities() {
			cfg.Levels = append(cfg.Levels, string(l))
		}
	}

	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 2 * time.Second
	}

	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2.0
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 10 * time.Second
	}

	if cfg.Queue.BufferSize == 0 {
		cfg.Queue.BufferSize = 100
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 2
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	const op = "config_validate"

	if cfg.Release == "" {
		return configError(op, "release is required")
	}
	if cfg.Environment == "" {
		return configError(op, "environment is required")
	}
	if cfg.DSN == "" && (cfg.PublicKey == "" || cfg.ProjectID == "") {
		return configError(op, "either dsn or public_key and project_id must be set")
	}
	for _, l := range cfg.Levels {
		if !Severity(l).Valid() {
			return configError(op, "unknown level %q in levels", l)
		}
	}
	if cfg.Retry.MaxAttempts < 0 {
		return configError(op, "retry.max_attempts must not be negative")
	}
	if cfg.Queue.BufferSize < 0 || cfg.Queue.Workers < 0 {
		return configError(op, "queue sizes must not be negative")
	}

	return nil
}

// ClientConfig is the resolved, read-only configuration of a Client
type ClientConfig struct {
	Environment           string
	Release               string
	ServerName            string
	Logger                string
	Platform              string
	SDKVersion            string
	SentryProtocolVersion string
	EndpointBaseURL       string
	PublicKey             string
	PrivateKey            string
	ProjectID             string
	AllowedLevels         LevelSet
}

// ClientConfig validates cfg and resolves credentials, parsing the DSN when present
func (cfg *Config) ClientConfig() (ClientConfig, error) {
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}

	cc := ClientConfig{
		Environment:           cfg.Environment,
		Release:               cfg.Release,
		ServerName:            cfg.ServerName,
		Logger:                cfg.Logger,
		Platform:              cfg.Platform,
		SDKVersion:            ClientVersion,
		SentryProtocolVersion: SentryProtocolVersion,
	}

	if cfg.DSN != "" {
		dsn, err := ParseDSN(cfg.DSN, cfg.LegacyDSN)
		if err != nil {
			return ClientConfig{}, err
		}
		cc.EndpointBaseURL = dsn.Endpoint
		cc.PublicKey = dsn.PublicKey
		cc.PrivateKey = dsn.PrivateKey
		cc.ProjectID = dsn.ProjectID
	} else {
		cc.EndpointBaseURL = cfg.Endpoint
		if cc.EndpointBaseURL == "" {
			cc.EndpointBaseURL = DefaultEndpoint
		}
		cc.PublicKey = cfg.PublicKey
		cc.PrivateKey = cfg.PrivateKey
		cc.ProjectID = cfg.ProjectID
	}

	levels := make([]Severity, 0, len(cfg.Levels))
	for _, l := range cfg.Levels {
		levels = append(levels, Severity(l))
	}
	if len(levels) == 0 {
		levels = AllSeverities()
	}
	cc.AllowedLevels = NewLevelSet(levels)

	return cc, nil
}

func (cc ClientConfig) envelope() Envelope {
	return Envelope{
		Logger:      cc.Logger,
		Project:     cc.ProjectID,
		ServerName:  cc.ServerName,
		Platform:    cc.Platform,
		Release:     cc.Release,
		Environment: cc.Environment,
		SDKName:     ClientName,
		SDKVersion:  cc.SDKVersion,
	}
}
