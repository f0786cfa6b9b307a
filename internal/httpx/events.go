package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/chatkeep/chatkeep/internal/domain"
)

// Event kinds accepted by POST /events.
const (
	EventNew          = "new"
	EventEdited       = "edited"
	EventDeleted      = "deleted"
	EventReadContents = "read_contents"
	EventSaveLink     = "save_link"
)

// Event is the wire shape the bridge posts for every chat notification.
type Event struct {
	Kind string `json:"kind"`
	// Message is required for "new" and "edited".
	Message *domain.Message `json:"message,omitempty"`
	// ChatID scopes a "deleted" event; nil means the notification carried no
	// chat scope.
	ChatID *int64 `json:"chat_id,omitempty"`
	// IDs are the affected message ids for "deleted" and "read_contents".
	IDs []int64 `json:"ids,omitempty"`
	// Link is the message link for "save_link".
	Link string `json:"link,omitempty"`
}

// handleEvents implements POST /events.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var ev Event
	body := http.MaxBytesReader(w, r.Body, h.MaxBody)
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid event")
		return
	}

	ctx := r.Context()
	var err error
	switch ev.Kind {
	case EventNew:
		if ev.Message == nil {
			h.writeError(w, http.StatusBadRequest, "message required")
			return
		}
		// The operator's own link posts in the log chat are commands, not
		// messages to record.
		if h.Saver != nil && h.Saver.HandleCandidate(ctx, ev.Message) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		err = h.Ingest.HandleNew(ctx, ev.Message, false)
	case EventEdited:
		if ev.Message == nil {
			h.writeError(w, http.StatusBadRequest, "message required")
			return
		}
		// Diff against the stored row first; the insert is OR IGNORE, so
		// handling order preserves the original text for the diff.
		if err = h.Correlator.HandleEdited(ctx, ev.Message); err == nil {
			err = h.Ingest.HandleNew(ctx, ev.Message, true)
		}
	case EventDeleted:
		err = h.Correlator.HandleDeleted(ctx, ev.ChatID, ev.IDs)
	case EventReadContents:
		err = h.Correlator.HandleReadContents(ctx, ev.IDs)
	case EventSaveLink:
		if h.Saver == nil || ev.Link == "" {
			h.writeError(w, http.StatusBadRequest, "link required")
			return
		}
		err = h.Saver.SaveLink(ctx, ev.Link)
	default:
		h.writeError(w, http.StatusBadRequest, "unknown event kind")
		return
	}
	if err != nil {
		h.Log.Error("event handling failed", "kind", ev.Kind, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
