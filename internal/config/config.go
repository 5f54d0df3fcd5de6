package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"aprsrelay/internal/constants"
	"aprsrelay/internal/models"
	"aprsrelay/internal/security"

	"github.com/joho/godotenv"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
	ErrMissingBroker = models.ConfigError{Message: "missing bus broker URL"}
)

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.AprsDest == "" {
		c.AprsDest = constants.DefaultAprsDest
	}
	if c.Digis == "" {
		c.Digis = constants.DefaultDigis
	}
	if c.NoSend == nil {
		noSend := true
		c.NoSend = &noSend
	}
	if c.Workers <= 0 {
		c.Workers = constants.DefaultWorkers
	}
	if c.SessionExpireSec <= 0 {
		c.SessionExpireSec = constants.DefaultSessionExpireSec
	}
	if c.DrainIntervalSec <= 0 {
		c.DrainIntervalSec = constants.DefaultDrainIntervalSec
	}
	if c.StatsIntervalSec <= 0 {
		c.StatsIntervalSec = constants.DefaultStatsIntervalSec
	}
	if c.IdleBackoffSec <= 0 {
		c.IdleBackoffSec = constants.DefaultIdleBackoffSec
	}

	if c.Decay.RetrySec <= 0 {
		c.Decay.RetrySec = constants.DefaultDecayRetrySec
	}
	if c.Decay.TimeoutSec <= 0 {
		c.Decay.TimeoutSec = constants.DefaultDecayTimeoutSec
	}
	if c.Decay.ObjectRetrySec <= 0 {
		c.Decay.ObjectRetrySec = constants.DefaultObjectDecayRetrySec
	}
	if c.Decay.ObjectTimeoutSec <= 0 {
		c.Decay.ObjectTimeoutSec = constants.DefaultObjectDecayTimeoutSec
	}
	if c.Decay.ObjectWindowSec <= 0 {
		c.Decay.ObjectWindowSec = constants.DefaultObjectDecayWindowSec
	}

	if c.Bus.Broker == "" {
		c.Bus.Broker = constants.DefaultBroker
	}
	if c.Bus.ClientID == "" {
		c.Bus.ClientID = constants.DefaultClientID
	}
	if c.Bus.NotifyTopic == "" {
		c.Bus.NotifyTopic = constants.DefaultNotifyTopic
	}
	if c.Bus.FeedsTopic == "" {
		c.Bus.FeedsTopic = constants.DefaultFeedsTopic
	}
	if c.Bus.PushTopic == "" {
		c.Bus.PushTopic = constants.DefaultPushTopic
	}
	if c.Bus.Prefetch <= 0 {
		c.Bus.Prefetch = constants.DefaultPrefetch
	}
	if c.Bus.ReceiveTimeoutMs <= 0 {
		c.Bus.ReceiveTimeoutMs = constants.DefaultReceiveTimeoutMs
	}

	if c.Cache.SessionMarkerSec <= 0 {
		c.Cache.SessionMarkerSec = constants.DefaultSessionMarkerSec
	}
	if c.Cache.FailureCooldownSec <= 0 {
		c.Cache.FailureCooldownSec = constants.DefaultCacheCooldownSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = constants.DefaultTracingServiceName
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = constants.DefaultTracingOTLPEndpointURL
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = constants.DefaultTracingSampleRate
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Bus.Broker == "" {
		return ErrMissingBroker
	}
	if c.Callsign != "" && (len(c.Callsign) > 9 || strings.ContainsAny(c.Callsign, " >:,*")) {
		return models.ConfigError{Message: fmt.Sprintf("invalid callsign: %q", c.Callsign)}
	}
	if c.Decay.RetrySec > c.Decay.TimeoutSec/2 {
		return models.ConfigError{Message: "decay timeout_sec must be at least twice retry_sec"}
	}
	if c.Decay.ObjectRetrySec > c.Decay.ObjectTimeoutSec/2 {
		return models.ConfigError{Message: "decay object_timeout_sec must be at least twice object_retry_sec"}
	}
	if c.Retry.InitialBackoffMs > c.Retry.MaxBackoffMs {
		return models.ConfigError{Message: "retry initialBackoffMs must not exceed maxBackoffMs"}
	}
	if c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if callsign := os.Getenv("APRSRELAY_CALLSIGN"); callsign != "" {
		c.Callsign = callsign
	}
	if broker := os.Getenv("APRSRELAY_BROKER"); broker != "" {
		c.Bus.Broker = broker
	}

	// Bus credentials should come from the environment rather than the config file
	if user := os.Getenv("APRSRELAY_BUS_USERNAME"); user != "" {
		c.Bus.Username = user
	}
	if pass := os.Getenv("APRSRELAY_BUS_PASSWORD"); pass != "" {
		c.Bus.Password = pass
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Cache.RedisURL = url
	}
	if raw := os.Getenv("APRSRELAY_NO_SEND"); raw != "" {
		if noSend, err := strconv.ParseBool(raw); err == nil {
			c.NoSend = &noSend
		}
	}
}
