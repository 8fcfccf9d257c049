package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"framecast/internal/playlist"
	"framecast/internal/synth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeFrames struct {
	err error
}

func (f fakeFrames) Load() (synth.FrameSet, error) {
	if f.err != nil {
		return synth.FrameSet{}, f.err
	}
	fs := synth.FrameSet{}
	for i := 0; i < synth.DefaultFrameCount; i++ {
		fs.Frames = append(fs.Frames, synth.Frame{Index: i, Path: synth.FrameName(i)})
	}
	return fs, nil
}

// fakeSynth records calls. When gate is non-nil every call for an id listed
// in gated waits for the gate to close.
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	modes []playlist.EffectMode
	err   error

	gate    chan struct{}
	gated   map[string]bool
	started chan string
}

func (f *fakeSynth) Synthesize(ctx context.Context, fs synth.FrameSet, mode playlist.EffectMode, name string) (synth.Artifact, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.modes = append(f.modes, mode)
	gated := f.gated[name]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- name
	}
	if err := fs.Complete(synth.DefaultFrameCount); err != nil {
		return synth.Artifact{}, err
	}
	if gated && f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return synth.Artifact{}, ctx.Err()
		}
	}
	if f.err != nil {
		return synth.Artifact{}, f.err
	}
	return synth.Artifact{Name: name, Path: "/tmp/" + name}, nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// panicSynth panics on every call.
type panicSynth struct{}

func (panicSynth) Synthesize(ctx context.Context, fs synth.FrameSet, mode playlist.EffectMode, name string) (synth.Artifact, error) {
	panic("encoder crashed")
}

// brokenStore fails every write.
type brokenStore struct {
	*playlist.InMemoryStore
}

func (brokenStore) Append(ctx context.Context, rec playlist.Record) error {
	return errors.Join(playlist.ErrStoreUnavailable, errors.New("disk I/O error"))
}

func newTestService(t *testing.T, store playlist.Store, fs FrameSource, s Synthesizer) *Service {
	t.Helper()
	pool := synth.NewPool(2, 8, 5*time.Second, testLogger())
	t.Cleanup(func() { pool.Close(context.Background()) })
	svc := NewService(store, fs, s, pool, "/videos", testLogger(), nil)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC) }
	return svc
}
