package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"aprsrelay/internal/constants"
	"aprsrelay/internal/metrics"
	"aprsrelay/internal/middleware"
	"aprsrelay/internal/service"
	"aprsrelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// statusSource is the part of a worker the admin server reads
type statusSource interface {
	Status() service.WorkerStatus
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Workers map[int]string    `json:"workers"`
}

type decayResponse struct {
	Total   int                    `json:"total"`
	Workers []service.WorkerStatus `json:"workers"`
}

// Server is the admin HTTP server
type Server struct {
	router  *mux.Router
	logger  logrus.FieldLogger
	metrics *metrics.Registry
	workers []statusSource
	checks  map[string]func(context.Context) error
	port    int
	server  *http.Server
}

func NewServer(port int, registry *metrics.Registry, workers []statusSource, checks map[string]func(context.Context) error, logger logrus.FieldLogger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger.WithField("component", "admin"),
		metrics: registry,
		workers: workers,
		checks:  checks,
		port:    port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger, s.metrics))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc("/decay", s.handleDecay()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting admin server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleHealth reports the store and cache checks. Workers being
// disconnected does not fail the check: they reconnect on their own.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:  "ok",
			Checks:  make(map[string]string, len(s.checks)),
			Workers: make(map[int]string, len(s.workers)),
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}
		for _, worker := range s.workers {
			status := worker.Status()
			resp.Workers[status.ID] = status.State
		}

		code := http.StatusOK
		if resp.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		s.writeJSON(w, r, code, resp)
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		s.writeJSON(w, r, http.StatusOK, s.metrics.GetAllMetrics())
	}
}

// handleDecay lists the decay queue of every worker. Pass ?entries=false
// for the sizes only.
func (s *Server) handleDecay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withEntries := r.URL.Query().Get("entries") != "false"

		resp := decayResponse{Workers: make([]service.WorkerStatus, 0, len(s.workers))}
		for _, worker := range s.workers {
			status := worker.Status()
			if !withEntries {
				status.Decay = nil
			}
			resp.Total += status.DecaySize
			resp.Workers = append(resp.Workers, status)
		}
		s.writeJSON(w, r, http.StatusOK, resp)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		s.logger.WithFields(tracing.LogFields(r.Context())).WithError(err).Error("Failed to encode response")
	}
}
