package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"aprsrelay/internal/metrics"
	"aprsrelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(registry *metrics.Registry, logger logrus.FieldLogger) *mux.Router {
	router := mux.NewRouter()
	router.Use(Observability(logger, registry))
	router.HandleFunc("/workers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", tracing.RequestID(r.Context()))
		if mux.Vars(r)["id"] == "9" {
			http.Error(w, "no such worker", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return router
}

func TestObservability_RecordsRouteTemplate(t *testing.T) {
	registry := metrics.NewRegistry()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	router := newRouter(registry, logger)

	for _, path := range []string{"/workers/0", "/workers/1"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("X-Request-ID"), "req_")
	}

	assert.Equal(t, float64(2), registry.CounterValue("http_requests", map[string]string{
		"method": "GET", "endpoint": "/workers/{id}", "status_code": "200",
	}))

	require.Len(t, hook.Entries, 2)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "/workers/1", entry.Data["path"])
	assert.Equal(t, int64(2), entry.Data["size"])
	assert.NotEmpty(t, entry.Data["request_id"])
}

func TestObservability_ClientErrorLogsWarning(t *testing.T) {
	registry := metrics.NewRegistry()
	logger, hook := test.NewNullLogger()
	router := newRouter(registry, logger)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/workers/9", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, 404, hook.LastEntry().Data["status_code"])
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:5000", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:5000", "198.51.100.2"},
		{"remote addr", nil, "192.0.2.10:43210", "192.0.2.10"},
		{"ipv6 remote", nil, "[2001:db8::1]:8080", "2001:db8::1"},
		{"no port", nil, "192.0.2.10", "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientAddress(r))
		})
	}
}
