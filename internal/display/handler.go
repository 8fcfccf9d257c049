package display

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type statusResponse struct {
	Snapshot
	QueueLength int    `json:"queueLength"`
	APIURL      string `json:"apiUrl"`
}

// Handler exposes the display status (what the debug overlay showed).
type Handler struct {
	sched  *Scheduler
	apiURL string
}

// NewHandler returns a status Handler for sched.
func NewHandler(sched *Scheduler, apiURL string) *Handler {
	return &Handler{sched: sched, apiURL: apiURL}
}

// Register mounts the display routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/status", h.Status)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.sched.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(statusResponse{
		Snapshot:    snap,
		QueueLength: len(snap.Queue),
		APIURL:      h.apiURL,
	})
}
