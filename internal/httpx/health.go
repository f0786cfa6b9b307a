package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/chatkeep/chatkeep/internal/health"
	"github.com/chatkeep/chatkeep/internal/janitor"
)

// handleHealth implements GET /healthz: the status document with a 200 when
// healthy and 503 when degraded.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s := h.Tracker.Snapshot()
	code := http.StatusOK
	if !s.Healthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(s)
}

// statusDoc is the GET /status response body.
type statusDoc struct {
	Health       health.Status        `json:"health"`
	Housekeeping *janitor.MetricsView `json:"housekeeping,omitempty"`
}

// handleStatus implements GET /status: health plus housekeeping counters.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	doc := statusDoc{Health: h.Tracker.Snapshot()}
	if h.Metrics != nil {
		mv := h.Metrics()
		doc.Housekeeping = &mv
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(doc)
}
