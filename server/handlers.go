package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/stagehand/orchestrate"
)

// Handlers owns the endpoint implementations and their dependencies.
type Handlers struct {
	orch      *orchestrate.Orchestrator
	startedAt time.Time
}

// HandleHealthz responds to liveness probes.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the orchestrator run loop is answering.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := h.orch.Snapshot(ctx); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

type statusResponse struct {
	orchestrate.Status
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// HandleStatus returns a JSON snapshot of the broadcast engine.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		Status:        st,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}
