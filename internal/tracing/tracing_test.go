package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aprsrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestTracingManager_Disabled(t *testing.T) {
	tm := NewTracingManager(models.TracingConfig{Enabled: false}, quietLogger())

	require.NoError(t, tm.Initialize(context.Background()))
	assert.Nil(t, tm.provider)
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestTracingManager_Stdout(t *testing.T) {
	tm := NewTracingManager(models.TracingConfig{
		ServiceName:    "aprsrelay-test",
		ServiceVersion: "test",
		Environment:    "test",
		SampleRate:     1,
		Enabled:        true,
		UseStdout:      true,
	}, quietLogger())

	require.NoError(t, tm.Initialize(context.Background()))
	require.NotNil(t, tm.provider)

	ctx, span := StartSpan(context.Background(), "worker.drain")
	assert.True(t, span.IsRecording())
	assert.NotEmpty(t, TraceID(ctx))
	SetSpanStatus(ctx, codes.Ok, "")
	RecordError(ctx, errors.New("boom"))
	span.End()

	assert.NoError(t, tm.Shutdown(context.Background()))
	assert.Nil(t, tm.provider)
	assert.NoError(t, tm.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestTracingManager_Sampler(t *testing.T) {
	always := NewTracingManager(models.TracingConfig{SampleRate: 1}, quietLogger())
	assert.NotContains(t, always.sampler().Description(), "TraceIDRatioBased")

	ratio := NewTracingManager(models.TracingConfig{SampleRate: 0.25}, quietLogger())
	assert.Contains(t, ratio.sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestSpanHelpers_NoSpan(t *testing.T) {
	ctx := context.Background()

	assert.NotPanics(t, func() {
		AddSpanAttributes(ctx)
		SetSpanStatus(ctx, codes.Error, "x")
		RecordError(ctx, errors.New("x"))
	})
	assert.Empty(t, TraceID(ctx))
}

func TestRequestContext(t *testing.T) {
	id := NewRequestID()
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.NotEqual(t, id, NewRequestID())

	ctx := WithRequestID(context.Background(), id)
	assert.Equal(t, id, RequestID(ctx))
	assert.Equal(t, logrus.Fields{"request_id": id}, LogFields(ctx))

	assert.Zero(t, Duration(ctx))
	ctx = WithStartTime(ctx, time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, Duration(ctx), time.Second)

	assert.Empty(t, RequestID(context.Background()))
	assert.Empty(t, LogFields(context.Background()))
}
