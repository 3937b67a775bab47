package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/orbit/pkg/bulk"
	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/composite"
	"github.com/ajitpratap0/orbit/pkg/csvbatch"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/observability"
	"github.com/ajitpratap0/orbit/pkg/restapi"
	"github.com/ajitpratap0/orbit/pkg/spool"
)

// ClientConfig is the complete configuration of a data API client.
type ClientConfig struct {
	// Connection identifies the org and carries the bearer token
	Connection ConnectionConfig `yaml:"connection" json:"connection"`

	// Performance settings control the connection pool
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for rate limiting and the circuit breaker
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Bulk tunes bulk ingest submissions
	Bulk BulkConfig `yaml:"bulk" json:"bulk"`

	// Composite tunes unit of work commits
	Composite CompositeConfig `yaml:"composite" json:"composite"`

	// Spool stores failed bulk batches
	Spool spool.Config `yaml:"spool" json:"spool"`

	// Observability settings for logging and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ConnectionConfig locates the remote API.
type ConnectionConfig struct {
	// InstanceURL is the org base URL, e.g. https://example.my.salesforce.com
	InstanceURL string `yaml:"instance_url" json:"instance_url"`
	// APIVersion without the leading "v", e.g. 59.0
	APIVersion string `yaml:"api_version" json:"api_version"`
	// AccessToken is sent as a bearer token (use ${ENV} substitution)
	AccessToken string `yaml:"access_token" json:"-"`
	// InsecureSkipVerify disables certificate verification (sandbox proxies only)
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	// UserAgent overrides the default User-Agent header
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// PerformanceConfig contains connection pool settings.
type PerformanceConfig struct {
	MaxIdleConns        int  `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxIdleConnsPerHost int  `yaml:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
	MaxConnsPerHost     int  `yaml:"max_conns_per_host" json:"max_conns_per_host"`
	EnableHTTP2         bool `yaml:"enable_http2" json:"enable_http2"`
	// DisableCompression stops asking for gzip responses
	DisableCompression bool `yaml:"disable_compression" json:"disable_compression"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Request bounds one complete HTTP call, body included
	Request        time.Duration `yaml:"request" json:"request"`
	Dial           time.Duration `yaml:"dial" json:"dial"`
	TLSHandshake   time.Duration `yaml:"tls_handshake" json:"tls_handshake"`
	ResponseHeader time.Duration `yaml:"response_header" json:"response_header"`
	Idle           time.Duration `yaml:"idle" json:"idle"`
	KeepAlive      time.Duration `yaml:"keep_alive" json:"keep_alive"`
}

// ReliabilityConfig contains client-side protection settings.
type ReliabilityConfig struct {
	// RateLimitPerSec limits requests per second (0 = unlimited)
	RateLimitPerSec  float64       `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RateBurst        int           `yaml:"rate_burst" json:"rate_burst"`
	CircuitBreaker   bool          `yaml:"circuit_breaker" json:"circuit_breaker"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	CircuitTimeout   time.Duration `yaml:"circuit_timeout" json:"circuit_timeout"`
}

// BulkConfig tunes bulk submissions.
type BulkConfig struct {
	// MaxBytes is the CSV size ceiling of one batch
	MaxBytes int `yaml:"max_bytes" json:"max_bytes"`
	// Concurrency bounds the batches in flight per submission
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// RejectOversized fails single records above MaxBytes locally
	RejectOversized bool `yaml:"reject_oversized" json:"reject_oversized"`
	// Compress gzips batch uploads
	Compress bool `yaml:"compress" json:"compress"`
	// NullText marks a cleared field in CSV
	NullText     string        `yaml:"null_text" json:"null_text"`
	AbortTimeout time.Duration `yaml:"abort_timeout" json:"abort_timeout"`
}

// CompositeConfig tunes composite graph commits.
type CompositeConfig struct {
	// MaxNodes is the largest unit of work accepted
	MaxNodes int `yaml:"max_nodes" json:"max_nodes"`
}

// ObservabilityConfig contains logging and tracing settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// EnableTracing activates OpenTelemetry spans
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingExporter is stdout or none
	TracingExporter   string  `yaml:"tracing_exporter" json:"tracing_exporter"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	ServiceName       string  `yaml:"service_name" json:"service_name"`
	Environment       string  `yaml:"environment" json:"environment"`
}

// NewClientConfig returns a configuration with production defaults. Only the
// connection section has to be filled in.
func NewClientConfig() *ClientConfig {
	httpDefaults := clients.DefaultHTTPConfig()
	bulkDefaults := bulk.DefaultConfig()

	return &ClientConfig{
		Connection: ConnectionConfig{
			APIVersion: restapi.DefaultAPIVersion,
			UserAgent:  httpDefaults.UserAgent,
		},
		Performance: PerformanceConfig{
			MaxIdleConns:        httpDefaults.MaxIdleConns,
			MaxIdleConnsPerHost: httpDefaults.MaxIdleConnsPerHost,
			MaxConnsPerHost:     httpDefaults.MaxConnsPerHost,
			EnableHTTP2:         httpDefaults.EnableHTTP2,
		},
		Timeouts: TimeoutConfig{
			Request:        httpDefaults.RequestTimeout,
			Dial:           httpDefaults.DialTimeout,
			TLSHandshake:   httpDefaults.TLSHandshakeTimeout,
			ResponseHeader: httpDefaults.ResponseHeaderTimeout,
			Idle:           httpDefaults.IdleConnTimeout,
			KeepAlive:      httpDefaults.KeepAlive,
		},
		Reliability: ReliabilityConfig{
			RateLimitPerSec:  httpDefaults.RateLimit,
			RateBurst:        httpDefaults.RateBurst,
			CircuitBreaker:   httpDefaults.CircuitBreakerEnabled,
			FailureThreshold: httpDefaults.FailureThreshold,
			SuccessThreshold: httpDefaults.SuccessThreshold,
			CircuitTimeout:   httpDefaults.Timeout,
		},
		Bulk: BulkConfig{
			MaxBytes:     bulkDefaults.MaxBytes,
			Concurrency:  bulkDefaults.Concurrency,
			NullText:     bulkDefaults.NullText,
			AbortTimeout: bulkDefaults.AbortTimeout,
		},
		Composite: CompositeConfig{
			MaxNodes: composite.DefaultMaxNodes,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			TracingExporter:   "stdout",
			TracingSampleRate: 0.1,
			ServiceName:       "orbit",
			Environment:       "development",
		},
	}
}

// Validate checks required fields and value ranges.
func (c *ClientConfig) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Connection.InstanceURL == "" {
		add("connection.instance_url is required")
	} else if u, err := url.Parse(c.Connection.InstanceURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("connection.instance_url %q is not an absolute URL", c.Connection.InstanceURL)
	}
	if c.Connection.AccessToken == "" {
		add("connection.access_token is required")
	}
	if v := strings.TrimPrefix(c.Connection.APIVersion, "v"); v == "" || strings.Trim(v, "0123456789.") != "" {
		add("connection.api_version %q is not a version number", c.Connection.APIVersion)
	}

	if c.Timeouts.Request <= 0 {
		add("timeouts.request must be positive")
	}
	if c.Reliability.RateLimitPerSec < 0 {
		add("reliability.rate_limit_per_sec cannot be negative")
	}
	if c.Bulk.MaxBytes <= 0 || c.Bulk.MaxBytes > csvbatch.DefaultMaxBytes {
		add("bulk.max_bytes must be between 1 and %d", csvbatch.DefaultMaxBytes)
	}
	if c.Bulk.Concurrency <= 0 {
		add("bulk.concurrency must be positive")
	}
	if c.Composite.MaxNodes <= 0 || c.Composite.MaxNodes > composite.DefaultMaxNodes {
		add("composite.max_nodes must be between 1 and %d", composite.DefaultMaxNodes)
	}
	if err := c.Spool.Validate(); err != nil {
		add("%s", err.Error())
	}
	switch c.Observability.TracingExporter {
	case "", "stdout", "none":
	default:
		add("observability.tracing_exporter %q is not stdout or none", c.Observability.TracingExporter)
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// Endpoint returns the API endpoint.
func (c *ClientConfig) Endpoint() restapi.Endpoint {
	return restapi.Endpoint{
		InstanceURL: c.Connection.InstanceURL,
		APIVersion:  c.Connection.APIVersion,
	}
}

// HTTPConfig maps the connection, performance, timeout and reliability
// sections onto the shared HTTP client configuration.
func (c *ClientConfig) HTTPConfig() *clients.HTTPConfig {
	cfg := clients.DefaultHTTPConfig()

	cfg.MaxIdleConns = c.Performance.MaxIdleConns
	cfg.MaxIdleConnsPerHost = c.Performance.MaxIdleConnsPerHost
	cfg.MaxConnsPerHost = c.Performance.MaxConnsPerHost
	cfg.EnableHTTP2 = c.Performance.EnableHTTP2
	cfg.DisableCompression = c.Performance.DisableCompression

	cfg.RequestTimeout = c.Timeouts.Request
	cfg.DialTimeout = c.Timeouts.Dial
	cfg.TLSHandshakeTimeout = c.Timeouts.TLSHandshake
	cfg.ResponseHeaderTimeout = c.Timeouts.ResponseHeader
	cfg.IdleConnTimeout = c.Timeouts.Idle
	cfg.KeepAlive = c.Timeouts.KeepAlive

	cfg.RateLimit = c.Reliability.RateLimitPerSec
	cfg.RateBurst = c.Reliability.RateBurst
	cfg.CircuitBreakerEnabled = c.Reliability.CircuitBreaker
	cfg.FailureThreshold = c.Reliability.FailureThreshold
	cfg.SuccessThreshold = c.Reliability.SuccessThreshold
	cfg.Timeout = c.Reliability.CircuitTimeout

	cfg.InsecureSkipVerify = c.Connection.InsecureSkipVerify
	if c.Connection.UserAgent != "" {
		cfg.UserAgent = c.Connection.UserAgent
	}
	return cfg
}

// BulkConfig returns the bulk orchestrator configuration.
func (c *ClientConfig) BulkConfig() bulk.Config {
	return bulk.Config{
		MaxBytes:        c.Bulk.MaxBytes,
		Concurrency:     c.Bulk.Concurrency,
		RejectOversized: c.Bulk.RejectOversized,
		Compress:        c.Bulk.Compress,
		NullText:        c.Bulk.NullText,
		AbortTimeout:    c.Bulk.AbortTimeout,
	}
}

// LoggerConfig returns the logger configuration.
func (c *ClientConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Observability.LogLevel,
		Development: c.Observability.LogEncoding == "console",
		Encoding:    c.Observability.LogEncoding,
	}
}

// TracingConfig returns the OpenTelemetry configuration.
func (c *ClientConfig) TracingConfig() observability.TracingConfig {
	cfg := observability.DefaultTracingConfig()
	cfg.Enabled = c.Observability.EnableTracing
	cfg.ExporterType = c.Observability.TracingExporter
	cfg.SamplingRate = c.Observability.TracingSampleRate
	if c.Observability.ServiceName != "" {
		cfg.ServiceName = c.Observability.ServiceName
	}
	if c.Observability.Environment != "" {
		cfg.Environment = c.Observability.Environment
	}
	return cfg
}
