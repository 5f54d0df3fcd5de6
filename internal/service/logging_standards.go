package service

import (
	"context"

	"aprsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Standard field names. Use these exact names so log lines from every
// worker can be filtered the same way.
const (
	LogFieldWorker    = "worker"
	LogFieldComponent = "component"
	LogFieldOperation = "operation"

	LogFieldSource    = "source"
	LogFieldTarget    = "target"
	LogFieldMessageID = "message_id"
	LogFieldRowID     = "row_id"
	LogFieldDecayID   = "decay_id"
	LogFieldRules     = "rules"

	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldAttempt  = "attempt"
)

// Log Level Usage
//
// DEBUG: raw frames and packets, cache hits.
// INFO: packets created, acks received, verification results, connects.
// WARN: retryable failures, slow session lookups, no-send packets, encoding
// failures of a single row.
// ERROR: failures that lose work, such as a row that cannot be marked sent.

// LogWithContext returns an entry carrying the correlation fields of ctx
func LogWithContext(ctx context.Context, logger logrus.FieldLogger) *logrus.Entry {
	return logger.WithFields(tracing.LogFields(ctx))
}
