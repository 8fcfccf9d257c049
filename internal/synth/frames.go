package synth

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultFrameCount is the number of clues a complete hunt collects.
const DefaultFrameCount = 12

var (
	// ErrIncompleteInput is returned when fewer than the required number of
	// frames are available. Partial sets are never synthesized.
	ErrIncompleteInput = errors.New("incomplete frame set")

	// ErrInvalidFrame is returned for unreadable frames or frames whose
	// resolution differs from the first frame of the set.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Frame is one still image of a FrameSet.
type Frame struct {
	Index  int
	Path   string
	Width  int
	Height int
}

// FrameSet is the ordered sequence of frames, indexed 0..N-1, that one video
// is made from.
type FrameSet struct {
	Frames []Frame
}

// Len returns the number of frames.
func (fs FrameSet) Len() int { return len(fs.Frames) }

// Complete reports whether fs holds exactly n frames with contiguous indexes.
func (fs FrameSet) Complete(n int) error {
	if len(fs.Frames) < n {
		return fmt.Errorf("%w: have %d of %d frames", ErrIncompleteInput, len(fs.Frames), n)
	}
	if len(fs.Frames) > n {
		return fmt.Errorf("%w: have %d frames, want %d", ErrInvalidFrame, len(fs.Frames), n)
	}
	for i, f := range fs.Frames {
		if f.Index != i || f.Path == "" {
			return fmt.Errorf("%w: slot %d missing", ErrIncompleteInput, i)
		}
	}
	return nil
}

// FrameName returns the master file name for the frame at zero-based index i.
// Masters are numbered from 1 on disk.
func FrameName(i int) string {
	return fmt.Sprintf("frame_%d.png", i+1)
}

// FrameLoader reads the master frames from a directory and caches the
// resulting FrameSet until the directory changes.
type FrameLoader struct {
	dir   string
	count int
	log   *slog.Logger

	mu     sync.Mutex
	cached *FrameSet
}

// NewFrameLoader returns a loader for count frames under dir.
func NewFrameLoader(dir string, count int, log *slog.Logger) *FrameLoader {
	if count <= 0 {
		count = DefaultFrameCount
	}
	return &FrameLoader{dir: dir, count: count, log: log}
}

// Count returns the number of frames a complete set has.
func (l *FrameLoader) Count() int { return l.count }

// Load returns the complete FrameSet or ErrIncompleteInput / ErrInvalidFrame.
func (l *FrameLoader) Load() (FrameSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil {
		return *l.cached, nil
	}

	fs := FrameSet{Frames: make([]Frame, 0, l.count)}
	for i := 0; i < l.count; i++ {
		path := filepath.Join(l.dir, FrameName(i))
		w, h, err := decodeSize(path)
		if errors.Is(err, os.ErrNotExist) {
			return FrameSet{}, fmt.Errorf("%w: %s not found", ErrIncompleteInput, FrameName(i))
		}
		if err != nil {
			return FrameSet{}, fmt.Errorf("%w: %s: %v", ErrInvalidFrame, FrameName(i), err)
		}
		if i > 0 && (w != fs.Frames[0].Width || h != fs.Frames[0].Height) {
			return FrameSet{}, fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				ErrInvalidFrame, FrameName(i), w, h, fs.Frames[0].Width, fs.Frames[0].Height)
		}
		fs.Frames = append(fs.Frames, Frame{Index: i, Path: path, Width: w, Height: h})
	}

	l.cached = &fs
	return fs, nil
}

// Invalidate drops the cached set; the next Load reads the directory again.
func (l *FrameLoader) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// Watch invalidates the cache whenever a file in the masters directory is
// created, written, renamed or removed. It returns once the watcher is
// installed; watching stops when ctx is done.
func (l *FrameLoader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(ev.Name), "frame_") || ev.Op == fsnotify.Chmod {
					continue
				}
				l.Invalidate()
				l.log.Debug("master frames changed",
					slog.String("file", ev.Name),
					slog.String("op", ev.Op.String()))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn("frame watcher error", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}

func decodeSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
