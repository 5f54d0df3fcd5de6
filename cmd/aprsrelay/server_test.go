package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aprsrelay/internal/decay"
	"aprsrelay/internal/metrics"
	"aprsrelay/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	status service.WorkerStatus
}

func (f fakeWorker) Status() service.WorkerStatus {
	return f.status
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestServer(checks map[string]func(context.Context) error) (*Server, *metrics.Registry) {
	registry := metrics.NewRegistry()
	workers := []statusSource{
		fakeWorker{service.WorkerStatus{ID: 0, State: "connected", ConnectedTo: "tcp://broker:1883", DecaySize: 1, Decay: []decay.Entry{
			{ID: "abc", Source: "KC1ABC", Label: "Create message 'hi' to N0CALL", Interval: 15 * time.Second, MaxInterval: 900 * time.Second},
		}}},
		fakeWorker{service.WorkerStatus{ID: 1, State: "disconnected"}},
	}
	return NewServer(0, registry, workers, checks, quietLogger()), registry
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServer_HandleHealth(t *testing.T) {
	s, _ := newTestServer(map[string]func(context.Context) error{
		"database": func(context.Context) error { return nil },
	})

	w := get(t, s, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"database": "ok"}, resp.Checks)
	assert.Equal(t, map[int]string{0: "connected", 1: "disconnected"}, resp.Workers)
}

func TestServer_HandleHealthDegraded(t *testing.T) {
	s, _ := newTestServer(map[string]func(context.Context) error{
		"database": func(context.Context) error { return nil },
		"cache":    func(context.Context) error { return errors.New("connection refused") },
	})

	w := get(t, s, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["cache"])
}

func TestServer_HandleMetrics(t *testing.T) {
	s, registry := newTestServer(nil)
	registry.IncrementCounter("frames_in", map[string]string{"worker": "0"}, "Frames received from the bus")

	w := get(t, s, "/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	var snapshot metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	require.Contains(t, snapshot.Counters, "frames_in_worker:0")
	assert.Equal(t, float64(1), snapshot.Counters["frames_in_worker:0"].Value)
}

func TestServer_HandleDecay(t *testing.T) {
	s, _ := newTestServer(nil)

	w := get(t, s, "/decay")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp decayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Workers, 2)
	require.Len(t, resp.Workers[0].Decay, 1)
	assert.Equal(t, "abc", resp.Workers[0].Decay[0].ID)
	assert.Equal(t, 15*time.Second, resp.Workers[0].Decay[0].Interval)
}

func TestServer_HandleDecaySizesOnly(t *testing.T) {
	s, _ := newTestServer(nil)

	w := get(t, s, "/decay?entries=false")

	var resp decayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Workers[0].DecaySize)
	assert.Empty(t, resp.Workers[0].Decay)
}

func TestServer_RequestsAreCounted(t *testing.T) {
	s, registry := newTestServer(nil)

	get(t, s, "/decay")
	get(t, s, "/decay")

	assert.Equal(t, float64(2), registry.CounterValue("http_requests", map[string]string{
		"method": "GET", "endpoint": "/decay", "status_code": "200",
	}))
}

func TestServer_RejectsOtherMethods(t *testing.T) {
	s, _ := newTestServer(nil)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/decay", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	s, _ := newTestServer(nil)
	assert.NoError(t, s.Shutdown(context.Background()))
}
