// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// ListenAndServe binds addr and serves the health monitor's HTTP surface
// until ctx is cancelled, then shuts down gracefully: the listener is
// bound synchronously before returning so callers can rely on the port
// being open, and shutdown allows in-flight requests 5 seconds to
// finish.
func (m *Monitor) ListenAndServe(ctx context.Context, addr string) error {
	return m.ListenAndServeReady(ctx, addr, nil)
}

// ListenAndServeReady is ListenAndServe but signals readiness on ready
// (if non-nil) once the listener is bound, before Serve is called.
func (m *Monitor) ListenAndServeReady(ctx context.Context, addr string, ready chan<- struct{}) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.HealthzHandler)
	mux.Handle("/metrics", m.MetricsHandler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
