package service

import (
	"strings"
	"time"

	"aprsrelay/internal/models"
	"aprsrelay/internal/packet"
	"aprsrelay/internal/retry"
)

// Settings is the resolved runtime configuration shared by the parts of one
// worker
type Settings struct {
	Callsign string
	AprsDest string
	Digis    []string
	NoSend   bool

	NotifyTopic string
	FeedsTopic  string
	PushTopic   string

	SessionExpire time.Duration
	SessionMarker time.Duration

	MessageRetry   time.Duration
	MessageTimeout time.Duration
	ObjectRetry    time.Duration
	ObjectTimeout  time.Duration
	ObjectWindow   time.Duration

	DrainInterval time.Duration
	StatsInterval time.Duration
	IdleBackoff   time.Duration
	Reconnect     retry.BackoffConfig
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// SettingsFromConfig resolves a loaded configuration. Defaults must already
// be applied.
func SettingsFromConfig(cfg *models.Config) Settings {
	return Settings{
		Callsign:       strings.ToUpper(cfg.Callsign),
		AprsDest:       cfg.AprsDest,
		Digis:          packet.ParseDigis(cfg.Digis),
		NoSend:         cfg.SendDisabled(),
		NotifyTopic:    cfg.Bus.NotifyTopic,
		FeedsTopic:     cfg.Bus.FeedsTopic,
		PushTopic:      cfg.Bus.PushTopic,
		SessionExpire:  cfg.SessionExpire(),
		SessionMarker:  seconds(cfg.Cache.SessionMarkerSec),
		MessageRetry:   seconds(cfg.Decay.RetrySec),
		MessageTimeout: seconds(cfg.Decay.TimeoutSec),
		ObjectRetry:    seconds(cfg.Decay.ObjectRetrySec),
		ObjectTimeout:  seconds(cfg.Decay.ObjectTimeoutSec),
		ObjectWindow:   seconds(cfg.Decay.ObjectWindowSec),
		DrainInterval:  cfg.DrainInterval(),
		StatsInterval:  seconds(cfg.StatsIntervalSec),
		IdleBackoff:    seconds(cfg.IdleBackoffSec),
		Reconnect:      retry.FromConfig(cfg.Retry),
	}
}

// header returns the packet header for a packet sent on behalf of source
func (s Settings) header(source string) packet.Header {
	return packet.Header{Source: source, Dest: s.AprsDest, Digis: s.Digis}
}
