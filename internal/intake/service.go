package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"framecast/internal/platform/metrics"
	"framecast/internal/playlist"
	"framecast/internal/synth"

	"github.com/google/uuid"
)

var (
	// ErrIncompleteClaim is returned when the client reports it has not found
	// every frame. The claim itself is trusted; see DESIGN.md.
	ErrIncompleteClaim = errors.New("must find all frames first")

	// ErrInvalidID is returned for caller-supplied ids that cannot be used as
	// part of an artifact file name.
	ErrInvalidID = errors.New("invalid submission id")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FrameSource supplies the complete frame set for a synthesis.
type FrameSource interface {
	Load() (synth.FrameSet, error)
}

// Synthesizer produces an artifact from a frame set.
type Synthesizer interface {
	Synthesize(ctx context.Context, fs synth.FrameSet, mode playlist.EffectMode, name string) (synth.Artifact, error)
}

// Request is a validated submission.
type Request struct {
	ID         string // empty means assign one
	FoundAll   bool
	EffectMode playlist.EffectMode
}

// call tracks one in-flight synthesis so concurrent submissions for the same
// id share its outcome.
type call struct {
	done chan struct{}
	rec  playlist.Record
	err  error
}

// Service validates submissions, runs synthesis on the job pool and publishes
// the resulting record.
type Service struct {
	store     playlist.Store
	frames    FrameSource
	synth     Synthesizer
	pool      *synth.Pool
	urlPrefix string
	log       *slog.Logger
	metrics   *metrics.Metrics

	newID func() string
	now   func() time.Time

	mu       sync.Mutex
	inflight map[string]*call
}

// NewService wires a Service. urlPrefix is prepended to artifact file names to
// form the public url (e.g. "/videos"). Metrics may be nil.
func NewService(store playlist.Store, frames FrameSource, s Synthesizer, pool *synth.Pool, urlPrefix string, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		frames:    frames,
		synth:     s,
		pool:      pool,
		urlPrefix: urlPrefix,
		log:       log,
		metrics:   m,
		newID:     func() string { return uuid.New().String() },
		now:       func() time.Time { return time.Now().UTC() },
		inflight:  make(map[string]*call),
	}
}

// Submit runs the whole intake flow and blocks until the record is published
// or the flow fails. If ctx ends first Submit returns ctx.Err() while the
// synthesis carries on and still publishes on success.
//
// A second submission under an id that already has a record returns that
// record without synthesizing again.
func (s *Service) Submit(ctx context.Context, req Request) (playlist.Record, error) {
	if !req.FoundAll {
		if s.metrics != nil {
			s.metrics.IncRejected()
		}
		return playlist.Record{}, ErrIncompleteClaim
	}

	id := req.ID
	if id == "" {
		id = s.newID()
	} else if !validID.MatchString(id) {
		return playlist.Record{}, ErrInvalidID
	}
	mode := req.EffectMode
	if mode == "" {
		mode = playlist.EffectNormal
	}

	if rec, ok, err := s.store.Get(ctx, id); err != nil {
		return playlist.Record{}, err
	} else if ok {
		s.log.Info("submission already published", slog.String("id", id))
		return rec, nil
	}

	c, leader := s.join(id)
	if leader {
		s.log.Info("processing submission",
			slog.String("id", id),
			slog.Bool("found_all", true),
			slog.String("effect_mode", string(mode)))
		if _, err := s.pool.Submit(ctx, s.job(c, id, mode)); err != nil {
			s.finish(id, c, playlist.Record{}, fmt.Errorf("schedule synthesis: %w", err))
		}
	}

	select {
	case <-c.done:
		return c.rec, c.err
	case <-ctx.Done():
		return playlist.Record{}, ctx.Err()
	}
}

// join returns the in-flight call for id, creating it when none exists.
// leader reports whether the caller created it.
func (s *Service) join(id string) (c *call, leader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.inflight[id]; ok {
		return c, false
	}
	c = &call{done: make(chan struct{})}
	s.inflight[id] = c
	return c, true
}

func (s *Service) finish(id string, c *call, rec playlist.Record, err error) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()

	c.rec, c.err = rec, err
	close(c.done)
}

// job synthesizes and then appends. Nothing is written to the store unless
// synthesis succeeded. Waiters on c are always released, even if a step
// panics.
func (s *Service) job(c *call, id string, mode playlist.EffectMode) synth.Job {
	return func(ctx context.Context) (err error) {
		if s.metrics != nil {
			s.metrics.AddJobsInFlight(1)
			defer s.metrics.AddJobsInFlight(-1)
		}

		var rec playlist.Record
		defer func() {
			if r := recover(); r != nil {
				rec, err = playlist.Record{}, fmt.Errorf("synthesis panicked: %v", r)
			}
			if err != nil {
				if s.metrics != nil && !errors.Is(err, playlist.ErrStoreUnavailable) {
					s.metrics.IncSynthFailed()
				}
				s.log.Error("submission failed", slog.String("id", id), slog.String("error", err.Error()))
			}
			s.finish(id, c, rec, err)
		}()

		rec, err = s.synthesizeAndPublish(ctx, id, mode)
		return err
	}
}

func (s *Service) synthesizeAndPublish(ctx context.Context, id string, mode playlist.EffectMode) (playlist.Record, error) {
	// A previous leader may have published between Submit's lookup and join.
	if rec, ok, err := s.store.Get(ctx, id); err != nil {
		return playlist.Record{}, err
	} else if ok {
		return rec, nil
	}

	fs, err := s.frames.Load()
	if err != nil {
		return playlist.Record{}, err
	}

	start := time.Now()
	art, err := s.synth.Synthesize(ctx, fs, mode, synth.ArtifactName(id))
	if err != nil {
		return playlist.Record{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveSynthesis(time.Since(start))
	}

	rec := playlist.Record{
		ID:         id,
		URL:        s.urlPrefix + "/" + art.Name,
		EffectMode: mode,
		CreatedAt:  s.now(),
	}
	if err := s.store.Append(ctx, rec); err != nil {
		if errors.Is(err, playlist.ErrDuplicateID) {
			if existing, ok, gerr := s.store.Get(ctx, id); gerr == nil && ok {
				return existing, nil
			}
		}
		return playlist.Record{}, err
	}

	s.log.Info("video generated",
		slog.String("id", id),
		slog.String("url", rec.URL),
		slog.Duration("took", time.Since(start)))
	if s.metrics != nil {
		s.metrics.IncSubmissions()
	}
	return rec, nil
}

// Playlist returns every published record in insertion order.
func (s *Service) Playlist(ctx context.Context) ([]playlist.Record, error) {
	return s.store.ListAll(ctx)
}

// Count returns the number of published records.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}
