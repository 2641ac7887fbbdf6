package config

import (
	"time"
)

// Config represents the complete relay configuration. Values come from
// defaults, an optional YAML file and OWSRGATE_* environment variables,
// in increasing order of precedence.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream" yaml:"upstream"`
	Admission AdmissionConfig `mapstructure:"admission" yaml:"admission"`
	Throttle  ThrottleConfig  `mapstructure:"throttle" yaml:"throttle"`
	CORS      CORSConfig      `mapstructure:"cors" yaml:"cors"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Admin     AdminConfig     `mapstructure:"admin" yaml:"admin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// UpstreamConfig describes the identity provider and the submission service.
type UpstreamConfig struct {
	TokenURL      string        `mapstructure:"token_url" yaml:"token_url"`
	SubmissionURL string        `mapstructure:"submission_url" yaml:"submission_url"`
	ClientID      string        `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret" yaml:"client_secret"`
	Scope         string        `mapstructure:"scope" yaml:"scope"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AdmissionConfig sizes the outbound admission windows. A limit of 0
// leaves that operation ungated.
type AdmissionConfig struct {
	Window          time.Duration `mapstructure:"window" yaml:"window"`
	TokenLimit      int           `mapstructure:"token_limit" yaml:"token_limit"`
	SubmissionLimit int           `mapstructure:"submission_limit" yaml:"submission_limit"`
}

// ThrottleConfig configures the optional per-client inbound throttle.
type ThrottleConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

// CORSConfig lists the origins allowed to call the relay.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level: simple or structured
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated Prometheus exporter port; the main HTTP port
	// proxies it at /metrics
	Port int `mapstructure:"port" yaml:"port"`
}

// AdminConfig controls the optional POST /admin/signal endpoint.
type AdminConfig struct {
	// Token is the bearer token required by the endpoint; empty disables it
	Token string `mapstructure:"token" yaml:"token"`
}
