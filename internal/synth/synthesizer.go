package synth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"framecast/internal/playlist"
)

// DefaultFrameRate is one source frame per output slice at 6 fps, giving a
// two second clip for a twelve frame hunt.
const DefaultFrameRate = 6

// glitchNoiseSeed keeps the noise pattern identical across retries.
const glitchNoiseSeed = 1337

// EncodingError reports a failed transform. Output holds the tail of the
// encoder's diagnostics.
type EncodingError struct {
	Err    error
	Output string
}

func (e *EncodingError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("encoding failed: %v", e.Err)
	}
	return fmt.Sprintf("encoding failed: %v: %s", e.Err, e.Output)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// CommandRunner runs an external tool and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Config parameterises a Synthesizer.
type Config struct {
	FFmpegPath string
	OutputDir  string
	FrameCount int
	FrameRate  int
}

// Artifact is the result of a successful synthesis.
type Artifact struct {
	Name string // file name inside the output directory
	Path string
}

// Synthesizer turns a FrameSet into an H.264 MP4 that browsers and media
// players can start before the download completes.
type Synthesizer struct {
	cfg    Config
	runner CommandRunner
}

// NewSynthesizer creates the output directory if needed.
func NewSynthesizer(cfg Config, runner CommandRunner) (*Synthesizer, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FrameCount <= 0 {
		cfg.FrameCount = DefaultFrameCount
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Synthesizer{cfg: cfg, runner: runner}, nil
}

// ArtifactName is the file name used for a submitter's video.
func ArtifactName(id string) string {
	return "submission_" + id + ".mp4"
}

// Synthesize encodes fs into OutputDir/name. Each call stages its frames in a
// private directory and the finished file is renamed into place, so the final
// path either holds a complete video or nothing new. Running it again with the
// same inputs produces the same clip.
func (s *Synthesizer) Synthesize(ctx context.Context, fs FrameSet, mode playlist.EffectMode, name string) (Artifact, error) {
	if err := fs.Complete(s.cfg.FrameCount); err != nil {
		return Artifact{}, err
	}
	if name == "" || filepath.Base(name) != name {
		return Artifact{}, fmt.Errorf("invalid artifact name %q", name)
	}

	stage, err := os.MkdirTemp(s.cfg.OutputDir, ".stage-")
	if err != nil {
		return Artifact{}, &EncodingError{Err: err}
	}
	defer os.RemoveAll(stage)

	for _, f := range fs.Frames {
		if err := linkOrCopy(f.Path, filepath.Join(stage, stagedName(f.Index))); err != nil {
			return Artifact{}, &EncodingError{Err: fmt.Errorf("stage frame %d: %w", f.Index, err)}
		}
	}

	tmpOut := filepath.Join(stage, "out.mp4")
	out, err := s.runner.Run(ctx, s.cfg.FFmpegPath, s.Args(stage, tmpOut, mode)...)
	if err != nil {
		return Artifact{}, &EncodingError{Err: err, Output: tail(out, 512)}
	}
	if st, err := os.Stat(tmpOut); err != nil || st.Size() == 0 {
		return Artifact{}, &EncodingError{Err: fmt.Errorf("encoder produced no output"), Output: tail(out, 512)}
	}

	final := filepath.Join(s.cfg.OutputDir, name)
	if err := os.Rename(tmpOut, final); err != nil {
		return Artifact{}, &EncodingError{Err: err}
	}
	return Artifact{Name: name, Path: final}, nil
}

// Args builds the encoder command line for frames staged in stageDir.
func (s *Synthesizer) Args(stageDir, out string, mode playlist.EffectMode) []string {
	rate := strconv.Itoa(s.cfg.FrameRate)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-framerate", rate,
		"-start_number", "0",
		"-i", filepath.Join(stageDir, "frame_%03d.png"),
		"-vf", Filters(mode),
		"-frames:v", strconv.Itoa(s.cfg.FrameCount),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", rate,
		"-fflags", "+bitexact",
		"-flags:v", "+bitexact",
		"-map_metadata", "-1",
		"-movflags", "+faststart",
		out,
	}
}

// Filters returns the video filter graph for mode. Dimensions are rounded
// down to even values because yuv420p cannot represent odd sizes.
func Filters(mode playlist.EffectMode) string {
	base := "scale=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p"
	if mode == playlist.EffectGlitch {
		return fmt.Sprintf("negate,noise=alls=20:allf=t+u:all_seed=%d,%s", glitchNoiseSeed, base)
	}
	return base
}

func stagedName(i int) string {
	return fmt.Sprintf("frame_%03d.png", i)
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
