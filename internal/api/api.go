// SPDX-License-Identifier: MIT

// Package api implements the HTTP control surface: every route is
// read-only status/listing or a promptly-returning mutation forwarded to
// the fleet controller, storage manager and re-encoder engine. The
// surface is deliberately fixed-route and unauthenticated — it is meant
// to sit behind a trusted network boundary, not be exposed directly.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/fernbank/camguard/internal/config"
	"github.com/fernbank/camguard/internal/fleet"
	"github.com/fernbank/camguard/internal/health"
	"github.com/fernbank/camguard/internal/logring"
	"github.com/fernbank/camguard/internal/storage"
	"github.com/fernbank/camguard/internal/transcode"
)

// Server holds every dependency the control surface's handlers read from
// or forward mutations to.
type Server struct {
	fleet     *fleet.Controller
	store     *storage.Manager
	engine    *transcode.Engine
	toggles   *config.Toggles
	snap      *config.Snapshot
	monitor   *health.Monitor
	logs      *logring.Ring
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a Server wiring the control surface to the rest of the
// daemon's running components.
func New(f *fleet.Controller, store *storage.Manager, engine *transcode.Engine, toggles *config.Toggles, snap *config.Snapshot, monitor *health.Monitor, logs *logring.Ring, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		fleet:     f,
		store:     store,
		engine:    engine,
		toggles:   toggles,
		snap:      snap,
		monitor:   monitor,
		logs:      logs,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Router builds the chi.Mux implementing the full control surface, plus
// the health monitor's /healthz and /metrics.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	if s.monitor != nil {
		r.Get("/healthz", s.monitor.HealthzHandler)
		r.Handle("/metrics", s.monitor.MetricsHandler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/cameras", s.handleCameras)
		r.Get("/recordings", s.handleRecordings)
		r.Get("/storage", s.handleStorage)
		r.Post("/storage/cleanup", s.handleCleanup)
		r.Get("/system/cpu", s.handleSystemCPU)
		r.Get("/system/memory", s.handleSystemMemory)
		r.Get("/logs", s.handleLogs)

		r.Post("/camera/{id}/start", s.handleCameraStart)
		r.Post("/camera/{id}/stop", s.handleCameraStop)
		r.Post("/start_all", s.handleStartAll)
		r.Post("/stop_all", s.handleStopAll)
		r.Post("/system/restart_cameras", s.handleRestartCameras)

		r.Get("/download/{id}/{filename}", s.handleDownload)
		r.Delete("/delete/{id}/{filename}", s.handleDelete)

		r.Get("/transcoding/status", s.handleTranscodingStatus)
		r.Post("/transcoding/enable", s.handleTranscodingEnable)
		r.Post("/transcoding/disable", s.handleTranscodingDisable)
	})

	return r
}

// requestID stands in for chi/middleware.RequestID with a uuid-based id,
// unique across daemon restarts rather than per-process-counter-based.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog is a minimal slog-based structured access logger; camguard
// has no distributed tracing or per-client rate limiting to layer in
// alongside it.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ListenAndServe serves the control surface on addr until stop is
// closed, then closes the server at once; in-flight requests are not
// drained. The listener is bound inside a goroutine, and a bind or serve
// error is returned as soon as it occurs.
func (s *Server) ListenAndServe(addr string, stop <-chan struct{}) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second, // download route streams file bodies
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-stop:
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
