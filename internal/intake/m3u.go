package intake

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"framecast/internal/playlist"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// BuildM3U renders records as an extended M3U playlist so a stock media
// player can loop the collection without the display orchestrator. Relative
// urls are resolved against base when it is non-nil. clipSeconds is the
// duration of every clip.
func BuildM3U(records []playlist.Record, base *url.URL, clipSeconds float64) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	for _, rec := range records {
		u := rec.URL
		if base != nil {
			if ref, err := url.Parse(rec.URL); err == nil {
				u = base.ResolveReference(ref).String()
			}
		}
		b.WriteString(fmt.Sprintf("#EXTINF:%.1f,%s (%s)\n", clipSeconds, rec.ID, rec.EffectMode))
		b.WriteString(u)
		b.WriteString("\n")
	}
	return b.String()
}

// M3U handles GET /api/playlist.m3u8. Urls are made absolute against the
// configured public url, or the request's host when none is set, so the file
// works when saved and opened elsewhere.
func (h *Handler) M3U(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Playlist(r.Context())
	if err != nil {
		h.log.Error("list playlist failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	base := h.publicURL
	if base == nil {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = &url.URL{Scheme: scheme, Host: r.Host}
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(BuildM3U(records, base, h.clipSeconds)))
}
