package synth

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// writeMasters writes n solid PNG frames named like the production masters.
func writeMasters(t *testing.T, dir string, n, w, h int) {
	t.Helper()
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(dir, FrameName(i)), w, h, uint8(i*20))
	}
}

func writePNG(t *testing.T, path string, w, h int, shade uint8) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: 255 - shade, B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// fakeRunner stands in for ffmpeg. On success it writes the joined argument
// list (minus the staging directory) to the output path.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
	empty bool
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if r.fail != nil {
		return []byte("x264 [error]: broken pipe"), r.fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := args[len(args)-1]
	if r.empty {
		return nil, os.WriteFile(out, nil, 0o644)
	}
	stage := filepath.Dir(out)
	body := strings.ReplaceAll(strings.Join(args[:len(args)-1], " "), stage, "<stage>")
	return nil, os.WriteFile(out, []byte(body), 0o644)
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var errBoom = errors.New("exit status 1")
