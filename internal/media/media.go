// Package media shells out to ffmpeg for the audio work the pipeline
// cannot do in-process: normalizing arbitrary recordings to mono 16 kHz
// PCM WAV, probing durations, and cutting time ranges.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"time"
)

// Runner executes external commands and returns their combined output.
// It exists so tests can intercept ffmpeg invocations.
type Runner interface {
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

// osRunner implements Runner using exec.CommandContext.
type osRunner struct{}

func (osRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// FFmpeg wraps a single ffmpeg binary. Safe for concurrent use.
type FFmpeg struct {
	path   string
	cmd    Runner
	logger *slog.Logger
}

// Option configures an FFmpeg wrapper.
type Option func(*FFmpeg)

// WithRunner replaces the OS command runner.
func WithRunner(r Runner) Option {
	return func(f *FFmpeg) { f.cmd = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *FFmpeg) { f.logger = l }
}

// NewFFmpeg builds a wrapper around the ffmpeg binary at path ("ffmpeg" to
// use PATH lookup).
func NewFFmpeg(path string, opts ...Option) (*FFmpeg, error) {
	if path == "" {
		return nil, fmt.Errorf("media: ffmpeg path is required")
	}
	f := &FFmpeg{path: path, cmd: osRunner{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Normalize transcodes any container/codec ffmpeg understands into the
// pipeline's canonical format: mono, 16 kHz, 16-bit PCM WAV, video dropped.
func (f *FFmpeg) Normalize(ctx context.Context, inPath, outPath string) error {
	args := []string{
		"-y",
		"-i", inPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		outPath,
	}
	output, err := f.cmd.CombinedOutput(ctx, f.path, args)
	if err != nil {
		return fmt.Errorf("media: normalize %s: %w\noutput: %s", inPath, err, output)
	}
	f.logger.Debug("normalized audio", "in", inPath, "out", outPath)
	return nil
}

// Cut extracts [start, end) seconds of inPath into outPath, re-encoded to
// the canonical mono 16 kHz PCM WAV format. Re-encoding (rather than stream
// copy) keeps cuts sample-accurate.
func (f *FFmpeg) Cut(ctx context.Context, inPath, outPath string, start, end float64) error {
	if end <= start {
		return fmt.Errorf("media: cut range [%v, %v) is empty", start, end)
	}
	args := []string{
		"-y",
		"-i", inPath,
		"-ss", formatTime(start),
		"-to", formatTime(end),
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		outPath,
	}
	output, err := f.cmd.CombinedOutput(ctx, f.path, args)
	if err != nil {
		return fmt.Errorf("media: cut %s [%v, %v): %w\noutput: %s", inPath, start, end, err, output)
	}
	return nil
}

// ProbeDuration returns the duration of the media file in seconds. It runs
// ffmpeg with a null muxer and parses the duration from stderr, so it works
// where ffprobe is not installed.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-i", path,
		"-f", "null", "-",
	}
	output, err := f.cmd.CombinedOutput(ctx, f.path, args)
	if err != nil && len(output) == 0 {
		// ffmpeg exits non-zero even on success with the null muxer, so
		// only fail outright when there is nothing to parse.
		return 0, fmt.Errorf("media: probe %s: %w", path, err)
	}
	d, perr := parseDuration(string(output))
	if perr != nil {
		return 0, fmt.Errorf("media: probe %s: %w", path, perr)
	}
	return d, nil
}

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	timeRe     = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
)

// parseDuration extracts a duration in seconds from ffmpeg stderr output.
// It prefers the "Duration:" header line and falls back to the last
// progress "time=" stamp.
func parseDuration(output string) (float64, error) {
	if m := durationRe.FindStringSubmatch(output); m != nil {
		return timeComponents(m[1], m[2], m[3], m[4]), nil
	}
	all := timeRe.FindAllStringSubmatch(output, -1)
	if len(all) > 0 {
		m := all[len(all)-1]
		return timeComponents(m[1], m[2], m[3], m[4]), nil
	}
	return 0, fmt.Errorf("no duration in ffmpeg output")
}

// timeComponents converts HH, MM, SS and a fractional part of arbitrary
// precision to seconds.
func timeComponents(hours, minutes, seconds, fractional string) float64 {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.Atoi(seconds)
	frac, _ := strconv.Atoi(fractional)
	scale := 1.0
	for range fractional {
		scale *= 10
	}
	return float64(h*3600+m*60+s) + float64(frac)/scale
}

// formatTime formats seconds for ffmpeg -ss/-to arguments.
func formatTime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}
