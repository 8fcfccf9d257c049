package display

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"framecast/internal/playlist"
)

// Source is the read side of the playlist. playlist.Store satisfies it, so a
// display can run in-process next to the intake server.
type Source interface {
	ListAll(ctx context.Context) ([]playlist.Record, error)
}

// HTTPSource reads GET <base>/api/playlist.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSource returns a source for the intake server at baseURL. A nil
// client gets a 10 second timeout.
func NewHTTPSource(baseURL string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/api/playlist")
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{endpoint: u.String(), client: client}, nil
}

// ListAll implements Source. Transport failures and non-200 responses wrap
// playlist.ErrStoreUnavailable.
func (s *HTTPSource) ListAll(ctx context.Context) ([]playlist.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", playlist.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: playlist returned %s", playlist.ErrStoreUnavailable, resp.Status)
	}

	var records []playlist.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: decode playlist: %v", playlist.ErrStoreUnavailable, err)
	}
	return records, nil
}
