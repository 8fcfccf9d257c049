package display

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"framecast/internal/playlist"
)

// Player puts one record on the playback surface and blocks until it ends.
// A nil error means natural completion.
type Player interface {
	Play(ctx context.Context, rec playlist.Record) error
}

// PlaybackError reports that an item could not be played to the end.
type PlaybackError struct {
	ID  string
	URL string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback of %s (%s): %v", e.ID, e.URL, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// ResolveURL resolves an artifact reference against the intake base url.
// Absolute references are returned unchanged.
func ResolveURL(base *url.URL, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base == nil {
		return r.String(), nil
	}
	return base.ResolveReference(r).String(), nil
}

// ExecPlayer plays each artifact with an external media player such as
// "mpv --fs --really-quiet". The artifact url is appended as the last
// argument and playback ends when the process exits.
type ExecPlayer struct {
	command []string
	base    *url.URL
}

// NewExecPlayer parses a whitespace separated command line.
func NewExecPlayer(command string, base *url.URL) (*ExecPlayer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty player command")
	}
	return &ExecPlayer{command: fields, base: base}, nil
}

// Play implements Player.
func (p *ExecPlayer) Play(ctx context.Context, rec playlist.Record) error {
	src, err := ResolveURL(p.base, rec.URL)
	if err != nil {
		return &PlaybackError{ID: rec.ID, URL: rec.URL, Err: err}
	}
	args := append(append([]string{}, p.command[1:]...), src)
	out, err := exec.CommandContext(ctx, p.command[0], args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(string(out))
		if len(msg) > 256 {
			msg = msg[len(msg)-256:]
		}
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return &PlaybackError{ID: rec.ID, URL: src, Err: err}
	}
	return nil
}

// ProbePlayer is a headless surface: it downloads the artifact, checks that it
// is a video, and holds it "on screen" for a fixed clip duration. Used for
// unattended soak runs and for monitoring that published urls resolve.
type ProbePlayer struct {
	client   *http.Client
	base     *url.URL
	duration time.Duration
}

// NewProbePlayer returns a ProbePlayer. A nil client gets a 30 second timeout.
func NewProbePlayer(client *http.Client, base *url.URL, clip time.Duration) *ProbePlayer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProbePlayer{client: client, base: base, duration: clip}
}

// Play implements Player.
func (p *ProbePlayer) Play(ctx context.Context, rec playlist.Record) error {
	src, err := ResolveURL(p.base, rec.URL)
	if err != nil {
		return &PlaybackError{ID: rec.ID, URL: rec.URL, Err: err}
	}
	fail := func(err error) error { return &PlaybackError{ID: rec.ID, URL: src, Err: err} }

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fail(err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("artifact returned %s", resp.Status))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || !strings.HasPrefix(mt, "video/") {
			return fail(fmt.Errorf("artifact content type %q is not video", ct))
		}
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fail(err)
	}
	if n == 0 {
		return fail(fmt.Errorf("artifact is empty"))
	}

	t := time.NewTimer(p.duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
