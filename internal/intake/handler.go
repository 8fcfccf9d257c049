package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"framecast/internal/platform/metrics"
	"framecast/internal/playlist"

	"github.com/go-chi/chi/v5"
)

// submitRequest is the body of POST /api/submit. userId and id are
// synonyms; glitchMode is the older spelling of effectMode "glitch".
type submitRequest struct {
	UserID     string `json:"userId"`
	ID         string `json:"id"`
	FoundAll   bool   `json:"foundAll"`
	EffectMode string `json:"effectMode"`
	GlitchMode bool   `json:"glitchMode"`
}

type submitResponse struct {
	Success  bool   `json:"success"`
	VideoURL string `json:"videoUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// playlistEntry is one element of GET /api/playlist.
type playlistEntry struct {
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	EffectMode playlist.EffectMode `json:"effectMode"`
	GlitchMode bool                `json:"glitchMode"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// Handler exposes the intake HTTP endpoints using go-chi.
type Handler struct {
	svc         *Service
	log         *slog.Logger
	metrics     *metrics.Metrics
	videosDir   string
	clipSeconds float64
	publicURL   *url.URL
}

// NewHandler returns a Handler serving artifacts from videosDir under
// /videos/. clipSeconds is advertised in the M3U export, and publicURL, when
// non-nil, is the base its urls are resolved against. Metrics may be nil to
// disable metric recording (e.g. in tests).
func NewHandler(svc *Service, videosDir string, clipSeconds float64, publicURL *url.URL, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		svc:         svc,
		log:         log,
		metrics:     m,
		videosDir:   videosDir,
		clipSeconds: clipSeconds,
		publicURL:   publicURL,
	}
}

// Register mounts the intake routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Post("/api/submit", h.Submit)
	r.Get("/api/playlist", h.Playlist)
	r.Get("/api/playlist.m3u8", h.M3U)
	r.Handle("/videos/*", http.StripPrefix("/videos/", http.FileServer(http.Dir(h.videosDir))))
}

// maxSubmitBody bounds the JSON body of a submission.
const maxSubmitBody = 1 << 16

// Submit handles POST /api/submit.
// Body: { "userId": "abc", "foundAll": true, "effectMode": "glitch" }.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid submit body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "Invalid request body"})
		return
	}

	mode, err := playlist.ParseEffectMode(body.EffectMode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "Unknown effect mode"})
		return
	}
	if body.EffectMode == "" && body.GlitchMode {
		mode = playlist.EffectGlitch
	}
	id := body.UserID
	if id == "" {
		id = body.ID
	}

	rec, err := h.svc.Submit(r.Context(), Request{ID: id, FoundAll: body.FoundAll, EffectMode: mode})
	if err != nil {
		status, msg := classify(err)
		if status >= 500 {
			h.log.Error("submission error", slog.String("id", id), slog.String("error", err.Error()))
		} else {
			h.log.Info("submission rejected", slog.String("id", id), slog.String("error", err.Error()))
		}
		writeJSON(w, status, submitResponse{Error: msg})
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{Success: true, VideoURL: rec.URL})
}

// Playlist handles GET /api/playlist.
func (h *Handler) Playlist(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Playlist(r.Context())
	if err != nil {
		h.log.Error("list playlist failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, submitResponse{Error: "Playlist unavailable"})
		return
	}

	out := make([]playlistEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, playlistEntry{
			ID:         rec.ID,
			URL:        rec.URL,
			EffectMode: rec.EffectMode,
			GlitchMode: rec.EffectMode == playlist.EffectGlitch,
			CreatedAt:  rec.CreatedAt,
		})
	}
	if h.metrics != nil {
		h.metrics.SetPlaylistRecords(len(out))
	}
	writeJSON(w, http.StatusOK, out)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// classify maps an intake error to a status code and a public message.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrIncompleteClaim):
		return http.StatusBadRequest, "Must find all frames first"
	case errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest, "Invalid submission id"
	case errors.Is(err, playlist.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request abandoned"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
