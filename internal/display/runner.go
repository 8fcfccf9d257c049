package display

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"framecast/internal/platform/metrics"
)

// DefaultPollInterval is how often the playlist is reconciled.
const DefaultPollInterval = 30 * time.Second

// defaultErrorBackoff spaces out back-to-back playback errors so a library of
// broken artifacts does not spin the loop. A single failure advances at once.
const defaultErrorBackoff = time.Second

// Runner drives a Scheduler with two independent loops: a fixed-interval
// reconcile poll and the playback loop. They share nothing but the Scheduler.
type Runner struct {
	sched    *Scheduler
	source   Source
	player   Player
	interval time.Duration
	backoff  time.Duration
	log      *slog.Logger
	metrics  *metrics.Display
}

// NewRunner returns a Runner. Metrics may be nil.
func NewRunner(sched *Scheduler, src Source, p Player, interval time.Duration, log *slog.Logger, m *metrics.Display) *Runner {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Runner{
		sched:    sched,
		source:   src,
		player:   p,
		interval: interval,
		backoff:  defaultErrorBackoff,
		log:      log,
		metrics:  m,
	}
}

// Run blocks until ctx is done. No error from the source or the player stops
// it; the display degrades to waiting in EMPTY instead.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.playLoop(ctx)
	}()
	wg.Wait()
	r.sched.Release()
}

// ReconcileOnce runs a single reconcile pass and logs its outcome.
func (r *Runner) ReconcileOnce(ctx context.Context) {
	n, err := r.sched.Reconcile(ctx, r.source)
	if r.metrics != nil {
		r.metrics.ObserveReconcile(n, err)
	}
	switch {
	case err != nil && ctx.Err() != nil:
	case err != nil:
		r.log.Warn("reconcile failed, retrying next tick", slog.String("error", err.Error()))
	case n > 0:
		r.log.Info("new videos found", slog.Int("count", n))
	default:
		r.log.Debug("no new videos")
	}
}

func (r *Runner) pollLoop(ctx context.Context) {
	r.ReconcileOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

func (r *Runner) playLoop(ctx context.Context) {
	failures := 0
	for ctx.Err() == nil {
		rec, refilled, ok := r.sched.Advance()
		if !ok {
			r.log.Debug("queue empty, waiting for content")
			select {
			case <-ctx.Done():
				return
			case <-r.sched.Ready():
			}
			continue
		}
		if refilled {
			r.log.Info("queue empty, refilled from library", slog.Int("library_size", r.sched.Snapshot().LibrarySize))
			if r.metrics != nil {
				r.metrics.IncRefills()
			}
		}

		r.log.Info("playing", slog.String("id", rec.ID), slog.String("url", rec.URL))
		if r.metrics != nil {
			r.metrics.IncPlaybackStarts()
		}
		err := r.player.Play(ctx, rec)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			failures = 0
			r.log.Debug("video ended", slog.String("id", rec.ID))
			continue
		}
		var perr *PlaybackError
		if !errors.As(err, &perr) {
			err = &PlaybackError{ID: rec.ID, URL: rec.URL, Err: err}
		}
		failures++
		r.playbackFailed(ctx, rec.ID, err, failures > 1)
	}
}

// playbackFailed records a failed item. It waits out the backoff only when
// the previous item failed too.
func (r *Runner) playbackFailed(ctx context.Context, id string, err error, repeated bool) {
	r.log.Warn("video error, skipping", slog.String("id", id), slog.String("error", err.Error()))
	if r.metrics != nil {
		r.metrics.IncPlaybackErrors()
	}
	if !repeated || r.backoff <= 0 {
		return
	}
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// UpdateMetrics copies the scheduler snapshot into the gauges.
func (r *Runner) UpdateMetrics() {
	if r.metrics == nil {
		return
	}
	snap := r.sched.Snapshot()
	r.metrics.SetSnapshot(len(snap.Queue), snap.LibrarySize, string(snap.State))
}
