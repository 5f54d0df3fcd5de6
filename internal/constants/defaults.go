package constants

// Default relay identity
const (
	DefaultAprsDest = "APOA00"
	DefaultDigis    = "TCPIP*,qAC"
	DefaultWorkers  = 1
)

// Default decay timings in seconds
const (
	DefaultDecayRetrySec         = 15
	DefaultDecayTimeoutSec       = 900
	DefaultObjectDecayRetrySec   = 30
	DefaultObjectDecayTimeoutSec = 300
	DefaultObjectDecayWindowSec  = 14400
)

// Default loop timings
const (
	DefaultSessionExpireSec = 300
	DefaultSessionMarkerSec = 300
	DefaultDrainIntervalSec = 2
	DefaultStatsIntervalSec = 60
	DefaultIdleBackoffSec   = 2
	// SlowSessionLookupMs is the session lookup duration above which a warning is logged
	SlowSessionLookupMs = 1000
)

// Default bus configuration values
const (
	DefaultBroker           = "tcp://localhost:1883"
	DefaultClientID         = "aprsrelay"
	DefaultNotifyTopic      = "aprs/notify/messages"
	DefaultFeedsTopic       = "aprs/feeds/is"
	DefaultPushTopic        = "aprs/push/is"
	DefaultPrefetch         = 1024
	DefaultReceiveTimeoutMs = 100
	DefaultSubscriptionID   = "1"
)

// Default cache configuration values
const (
	DefaultCacheCooldownSec = 60
	AckCacheNamespace       = "ack"
)

// Default retry and server values
const (
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultMaxAttempts            = 5
	DefaultDatabaseRetryAttempts  = 3
	DefaultServerPort             = 8082
	DefaultGracefulShutdownSec    = 30
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultConnectTimeoutSec      = 10
	DefaultTracingSampleRate      = 0.1
	DefaultTracingServiceName     = "aprsrelay"
	DefaultTracingOTLPEndpointURL = "localhost:4318"
)
