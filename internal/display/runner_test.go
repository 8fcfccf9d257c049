package display

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"framecast/internal/platform/metrics"
	"framecast/internal/playlist"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakePlayer records every Play call and stops the runner after limit calls.
type fakePlayer struct {
	mu     sync.Mutex
	played []string
	limit  int
	cancel context.CancelFunc
	fail   map[string]bool
	hook   func(rec playlist.Record)
}

func (p *fakePlayer) Play(ctx context.Context, rec playlist.Record) error {
	if p.hook != nil {
		p.hook(rec)
	}
	p.mu.Lock()
	p.played = append(p.played, rec.ID)
	n := len(p.played)
	p.mu.Unlock()

	if n >= p.limit {
		p.cancel()
	}
	if p.fail[rec.ID] {
		return errors.New("decoder error")
	}
	return nil
}

func (p *fakePlayer) history() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func runWithTimeout(t *testing.T, ctx context.Context, r *Runner) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func newTestRunner(src Source, p Player, interval time.Duration) *Runner {
	r := NewRunner(seeded(), src, p, interval, testLogger(), nil)
	r.backoff = 0
	return r
}

func TestRunner_plays_listing_then_refills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakePlayer{limit: 4, cancel: cancel}
	r := newTestRunner(&staticSource{records: recs("a", "b")}, p, time.Hour)

	runWithTimeout(t, ctx, r)

	got := p.history()
	if len(got) < 4 {
		t.Fatalf("expected 4 plays, got %v", got)
	}
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("first pass should follow listing order, got %v", got)
	}
	refill := append([]string(nil), got[2:4]...)
	sort.Strings(refill)
	if refill[0] != "a" || refill[1] != "b" {
		t.Errorf("refill should replay the library, got %v", got[2:4])
	}
	if r.sched.Snapshot().Current != nil {
		t.Error("current item should be released on shutdown")
	}
}

func TestRunner_playback_error_skips_item(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakePlayer{limit: 3, cancel: cancel, fail: map[string]bool{"bad": true}}
	r := newTestRunner(&staticSource{records: recs("bad", "good")}, p, time.Hour)

	runWithTimeout(t, ctx, r)

	got := p.history()
	if len(got) < 3 || got[0] != "bad" || got[1] != "good" {
		t.Errorf("broken item should be skipped, got %v", got)
	}
}

func TestRunner_single_error_advances_without_backoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakePlayer{limit: 2, cancel: cancel, fail: map[string]bool{"bad": true}}
	r := newTestRunner(&staticSource{records: recs("bad", "good")}, p, time.Hour)
	r.backoff = time.Hour

	runWithTimeout(t, ctx, r)

	if got := p.history(); len(got) != 2 || got[1] != "good" {
		t.Errorf("expected good to follow bad immediately, got %v", got)
	}
}

func TestRunner_repeated_errors_back_off(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		start = map[string]time.Time{}
	)
	p := &fakePlayer{limit: 3, cancel: cancel, fail: map[string]bool{"bad1": true, "bad2": true}}
	p.hook = func(rec playlist.Record) {
		mu.Lock()
		start[rec.ID] = time.Now()
		mu.Unlock()
	}
	r := newTestRunner(&staticSource{records: recs("bad1", "bad2", "good")}, p, time.Hour)
	r.backoff = 100 * time.Millisecond

	runWithTimeout(t, ctx, r)

	if got := p.history(); len(got) != 3 || got[2] != "good" {
		t.Fatalf("unexpected play order %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if gap := start["good"].Sub(start["bad2"]); gap < r.backoff {
		t.Errorf("second consecutive error should back off, gap was %v", gap)
	}
}

func TestRunner_waits_in_empty_until_content(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &staticSource{err: playlist.ErrStoreUnavailable}
	p := &fakePlayer{limit: 1, cancel: cancel}
	r := newTestRunner(src, p, 10*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		if st := r.sched.Snapshot().State; st != StateEmpty {
			t.Errorf("expected EMPTY while the store is down, got %s", st)
		}
		src.set(recs("late"), nil)
	}()
	runWithTimeout(t, ctx, r)

	if got := p.history(); len(got) != 1 || got[0] != "late" {
		t.Errorf("expected to play the late record, got %v", got)
	}
}

func TestRunner_reconcile_does_not_interrupt_playback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &staticSource{records: recs("a", "b")}

	var r *Runner
	p := &fakePlayer{limit: 2, cancel: cancel}
	p.hook = func(rec playlist.Record) {
		if rec.ID != "a" {
			return
		}
		src.set(recs("a", "b", "c"), nil)
		deadline := time.Now().Add(2 * time.Second)
		for r.sched.Snapshot().LibrarySize < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}
	r = newTestRunner(src, p, 10*time.Millisecond)

	runWithTimeout(t, ctx, r)

	got := p.history()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("new record should play right after the current one, got %v", got)
	}
}

func TestRunner_metrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := make([]string, len(States))
	for i, s := range States {
		states[i] = string(s)
	}
	reg := metrics.New()
	m := metrics.NewDisplay(reg, states)
	p := &fakePlayer{limit: 2, cancel: cancel, fail: map[string]bool{"a": true}}
	r := NewRunner(seeded(), &staticSource{records: recs("a")}, p, time.Hour, testLogger(), m)
	r.backoff = 0

	runWithTimeout(t, ctx, r)

	rec := httptest.NewRecorder()
	reg.Handler(r.UpdateMetrics).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"framecast_display_playback_starts_total 2",
		"framecast_display_playback_errors_total 1",
		"framecast_display_refills_total 1",
		"framecast_display_library_size 1",
		"framecast_display_records_discovered_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}
