// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/longscribe/longscribe/pkg/audio"
	"github.com/longscribe/longscribe/pkg/provider/stt"
)

// Native implements stt.Transcriber using whisper.cpp Go bindings (CGO),
// eliminating HTTP overhead entirely. The model is loaded once and shared
// across calls; each call gets a fresh whisper context because contexts are
// not thread safe.
type Native struct {
	model    whisperlib.Model
	language string
}

var _ stt.Transcriber = (*Native)(nil)

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g. "ja", "en"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative loads the GGML model at modelPath.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, language: "en"}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Transcribe implements stt.Transcriber. It decodes the WAV file at path
// and runs in-process inference. The binding call is not interruptible, so
// ctx is checked before inference starts.
func (n *Native) Transcribe(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clip, err := audio.ReadWAV(path)
	if err != nil {
		return "", fmt.Errorf("whisper: decode audio file: %w", err)
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}

	if err := wctx.Process(clip.Samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the loaded model.
func (n *Native) Close() error {
	if n.model != nil {
		if err := n.model.Close(); err != nil {
			return fmt.Errorf("whisper: close model: %w", err)
		}
		n.model = nil
	}
	return nil
}
