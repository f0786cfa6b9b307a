// Package httpx contains the HTTP delivery layer for the chatkeep service.
// The bridge process posts chat events to /events; /healthz and /status
// expose liveness and operational counters. Handlers are split across files
// (events.go, health.go).
package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chatkeep/chatkeep/internal/domain"
	"github.com/chatkeep/chatkeep/internal/health"
	"github.com/chatkeep/chatkeep/internal/janitor"
)

// defaultMaxEventBody bounds an /events request body. Events carry metadata
// only, never attachment bytes.
const defaultMaxEventBody = 1 << 20

// IngestPort abstracts the ingest use-case for the HTTP layer. Satisfied by
// *app.Ingestor in production and mocked in tests.
type IngestPort interface {
	HandleNew(ctx context.Context, msg *domain.Message, edited bool) error
}

// CorrelatorPort abstracts the correlation use-case for the HTTP layer.
type CorrelatorPort interface {
	HandleEdited(ctx context.Context, msg *domain.Message) error
	HandleDeleted(ctx context.Context, chatID *int64, ids []int64) error
	HandleReadContents(ctx context.Context, ids []int64) error
}

// SaverPort abstracts the link-saving use-case for the HTTP layer.
type SaverPort interface {
	HandleCandidate(ctx context.Context, msg *domain.Message) bool
	SaveLink(ctx context.Context, link string) error
}

// Handler wires HTTP endpoints to the application use-cases.
// Zero-value is not valid; construct via New.
type Handler struct {
	Ingest     IngestPort
	Correlator CorrelatorPort
	Saver      SaverPort // optional
	Tracker    *health.Tracker
	Metrics    func() janitor.MetricsView // optional
	MaxBody    int64
	Log        *slog.Logger
}

// New returns a configured Handler.
func New(ingest IngestPort, correlator CorrelatorPort, tracker *health.Tracker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Ingest:     ingest,
		Correlator: correlator,
		Tracker:    tracker,
		MaxBody:    defaultMaxEventBody,
		Log:        logger.With("domain", "httpx"),
	}
}

// Router constructs and returns an http.Handler with all routes mounted.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.handleEvents)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	return mux
}

// writeError writes a JSON error body with the given status code.
func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
}
