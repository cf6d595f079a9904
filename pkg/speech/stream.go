package speech

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Compile-time interface assertion.
var _ Streamer = (*Stream)(nil)

// StreamConfig controls the sliding window of a [Stream].
type StreamConfig struct {
	// SampleRate of the incoming audio in Hz.
	SampleRate int

	// Window is how much audio accumulates before a recognition pass runs
	// over the whole buffer.
	Window time.Duration

	// Keep is how much trailing audio survives each pass as context for
	// the next one. Must be shorter than Window.
	Keep time.Duration
}

// Stream adapts a batch [Recognizer] into a [Streamer]. It accumulates
// samples until a full window is buffered, transcribes the window, keeps a
// configured tail for context continuity, and suppresses emissions whose
// text matches the previous pass. Stream is safe for concurrent use,
// though in practice a single processing loop feeds it.
type Stream struct {
	rec           Recognizer
	windowSamples int
	keepSamples   int

	mu     sync.Mutex
	window []float32
	last   string
}

// NewStream validates the window configuration and wraps rec. The Stream
// takes ownership of rec; closing the Stream closes it.
func NewStream(rec Recognizer, cfg StreamConfig) (*Stream, error) {
	if rec == nil {
		return nil, fmt.Errorf("speech: stream recognizer must not be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("speech: stream sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("speech: stream window must be positive, got %v", cfg.Window)
	}
	if cfg.Keep < 0 || cfg.Keep >= cfg.Window {
		return nil, fmt.Errorf("speech: stream keep %v must be shorter than window %v", cfg.Keep, cfg.Window)
	}

	return &Stream{
		rec:           rec,
		windowSamples: samplesFor(cfg.Window, cfg.SampleRate),
		keepSamples:   samplesFor(cfg.Keep, cfg.SampleRate),
	}, nil
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Milliseconds()) * rate / 1000
}

// SendAudio appends samples to the window. Once the window is full it runs
// one recognition pass, slides the window down to the keep tail, and
// returns the text if it differs from the previous emission. A recognition
// error leaves the window intact so the audio is retried on the next call.
func (s *Stream) SendAudio(ctx context.Context, samples []float32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, samples...)
	if len(s.window) < s.windowSamples {
		return "", nil
	}

	text, err := s.rec.Transcribe(ctx, s.window)
	if err != nil {
		return "", fmt.Errorf("speech: stream window transcription: %w", err)
	}

	// Slide: retain only the keep tail. Copy into a fresh slice so the
	// discarded prefix can be collected.
	tail := s.window[len(s.window)-s.keepSamples:]
	s.window = append(make([]float32, 0, s.windowSamples+s.keepSamples), tail...)

	if text == "" || text == s.last {
		return "", nil
	}
	s.last = text
	return text, nil
}

// SetLanguage propagates the language change to the wrapped recognizer.
// It takes effect from the next window.
func (s *Stream) SetLanguage(lang string) error {
	return s.rec.SetLanguage(lang)
}

// Reset discards buffered audio and the last-emission marker. Used when the
// pipeline stops so a later start does not resume mid-window.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = nil
	s.last = ""
}

// Close closes the wrapped recognizer.
func (s *Stream) Close() error {
	return s.rec.Close()
}
