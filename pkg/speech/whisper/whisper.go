// Package whisper implements [speech.Recognizer] on top of the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
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
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxdaemon/voxd/pkg/speech"
)

// Compile-time interface assertion.
var _ speech.Recognizer = (*Engine)(nil)

const (
	defaultSampleRate = 16000
	defaultLanguage   = "auto"

	// minDuration is the floor every segment is padded to before
	// inference. whisper.cpp misbehaves on clips under roughly 100 ms.
	minDuration = 200 * time.Millisecond
)

// Engine is a batch recognizer backed by a loaded whisper.cpp model. The
// model stays resident until Close; inference calls are serialized so
// concurrent segments do not contend for compute.
type Engine struct {
	mu         sync.Mutex
	model      whisperlib.Model
	language   string
	sampleRate int
	minSamples int
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the language code used for transcription (e.g. "en",
// "de"). The special value "auto" enables language autodetection.
// Defaults to "auto".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithSampleRate sets the sample rate in Hz of the audio passed to
// Transcribe. Defaults to 16000, the rate whisper models are trained on.
func WithSampleRate(rate int) Option {
	return func(e *Engine) { e.sampleRate = rate }
}

// New loads the whisper.cpp model from the given file path. Loading may
// take seconds for large models. The caller must call Close when the
// engine is no longer needed.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &Engine{
		model:      model,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(e)
	}
	e.minSamples = int(minDuration.Milliseconds()) * e.sampleRate / 1000
	return e, nil
}

// Transcribe runs one inference pass over the samples and returns the
// concatenated segment text. Segments shorter than the padding floor are
// zero-extended first. A context cancelled before the call starts is
// honored; inference itself cannot be interrupted.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return "", errors.New("whisper: engine is closed")
	}

	if len(samples) < e.minSamples {
		padded := make([]float32, e.minSamples)
		copy(padded, samples)
		samples = padded
	}

	// Contexts are cheap relative to inference and are not reusable
	// across languages, so each call gets a fresh one from the shared
	// model.
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	wctx.SetTranslate(false)
	if e.language != "" {
		if err := wctx.SetLanguage(e.language); err != nil {
			slog.Warn("whisper: failed to set language, using model default",
				"language", e.language, "error", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
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

// SetLanguage switches the language used by subsequent Transcribe calls.
func (e *Engine) SetLanguage(lang string) error {
	if lang == "" {
		return errors.New("whisper: language must not be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.language = lang
	return nil
}

// Close releases the model. Transcribe calls after Close fail. Close is
// idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	if err != nil {
		return fmt.Errorf("whisper: close model: %w", err)
	}
	return nil
}
