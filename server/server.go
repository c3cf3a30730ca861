// Package server exposes the HTTP surface: health, readiness, engine status,
// and metrics. Requests get a correlation ID injected into their context for
// consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/stagehand/orchestrate"
	"github.com/onnwee/stagehand/telemetry"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(o *orchestrate.Orchestrator) http.Handler {
	h := &Handlers{orch: o, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)

	return withCorrelation(mux)
}

// withCorrelation assigns every request a correlation id, echoed in the
// X-Correlation-ID response header.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(telemetry.WithCorrelation(r.Context(), id)))
	})
}

// Start runs the HTTP server on addr and shuts it down gracefully when ctx is
// cancelled.
func Start(ctx context.Context, o *orchestrate.Orchestrator, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(o),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
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
