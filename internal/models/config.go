package models

import "time"

// Config holds the application configuration
type Config struct {
	Callsign         string         `json:"callsign"`
	AprsDest         string         `json:"aprs_dest"`
	Digis            string         `json:"digis"`
	NoSend           *bool          `json:"no_send"`
	Workers          int            `json:"workers"`
	SessionExpireSec int            `json:"session_expire_sec"`
	DrainIntervalSec int            `json:"drain_interval_sec"`
	StatsIntervalSec int            `json:"stats_interval_sec"`
	IdleBackoffSec   int            `json:"idle_backoff_sec"`
	Decay            DecayConfig    `json:"decay"`
	Bus              BusConfig      `json:"bus"`
	Database         DatabaseConfig `json:"database"`
	Cache            CacheConfig    `json:"cache"`
	Retry            RetryConfig    `json:"retry"`
	Tracing          TracingConfig  `json:"tracing"`
	Server           ServerConfig   `json:"server"`
	LogLevel         string         `json:"log_level"`
}

// DecayConfig holds the retry timings of broadcasts awaiting confirmation
type DecayConfig struct {
	RetrySec         int `json:"retry_sec"`
	TimeoutSec       int `json:"timeout_sec"`
	ObjectRetrySec   int `json:"object_retry_sec"`
	ObjectTimeoutSec int `json:"object_timeout_sec"`
	ObjectWindowSec  int `json:"object_window_sec"`
}

// BusConfig holds the message bus connection and topic settings
type BusConfig struct {
	Broker           string `json:"broker"`
	ClientID         string `json:"client_id"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	NotifyTopic      string `json:"notify_topic"`
	FeedsTopic       string `json:"feeds_topic"`
	PushTopic        string `json:"push_topic"`
	Prefetch         int    `json:"prefetch"`
	ReceiveTimeoutMs int    `json:"receive_timeout_ms"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// CacheConfig holds the acknowledgement cache settings. An empty RedisURL
// selects the in-process cache.
type CacheConfig struct {
	RedisURL           string `json:"redis_url"`
	SessionMarkerSec   int    `json:"session_marker_sec"`
	FailureCooldownSec int    `json:"failure_cooldown_sec"`
}

// RetryConfig holds reconnect back-off settings
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// ServerConfig holds the admin HTTP server settings
type ServerConfig struct {
	Port int `json:"port"`
}

// SendDisabled reports whether packets are only logged instead of published
func (c *Config) SendDisabled() bool {
	return c.NoSend == nil || *c.NoSend
}

// DrainInterval returns the minimum time between two drain passes
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalSec) * time.Second
}

// SessionExpire returns the freshness window of a user session
func (c *Config) SessionExpire() time.Duration {
	return time.Duration(c.SessionExpireSec) * time.Second
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
