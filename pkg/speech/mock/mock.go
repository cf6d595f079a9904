// Package mock provides in-memory mock implementations of the
// [speech.Recognizer] and [speech.Streamer] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test can set to control return values.
//
// Typical usage:
//
//	rec := &mock.Recognizer{TranscribeResults: []string{"hello world"}}
//	text, err := rec.Transcribe(ctx, samples)
package mock

import (
	"context"
	"sync"

	"github.com/voxdaemon/voxd/pkg/speech"
)

// Compile-time interface assertions.
var (
	_ speech.Recognizer = (*Recognizer)(nil)
	_ speech.Streamer   = (*Streamer)(nil)
)

// ─── Recognizer ───────────────────────────────────────────────────────────────

// TranscribeCall records the arguments of a single [Recognizer.Transcribe]
// invocation.
type TranscribeCall struct {
	// Samples is a copy of the samples passed to Transcribe.
	Samples []float32
}

// Recognizer is a mock implementation of [speech.Recognizer].
// Set the exported Result/Error fields before use; inspect the recorded
// calls after.
type Recognizer struct {
	mu sync.Mutex

	// TranscribeResults are returned by successive Transcribe calls in
	// order. Once exhausted, further calls return the final entry, or ""
	// if the slice is empty.
	TranscribeResults []string

	// TranscribeError is returned by every Transcribe call when set.
	TranscribeError error

	// SetLanguageError is returned by [Recognizer.SetLanguage].
	SetLanguageError error

	// CloseError is returned by [Recognizer.Close].
	CloseError error

	// TranscribeCalls records all Transcribe invocations.
	TranscribeCalls []TranscribeCall

	// Languages records the codes passed to SetLanguage, in order.
	Languages []string

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Transcribe implements [speech.Recognizer]. Records a copy of the samples
// and returns the next scripted result.
func (r *Recognizer) Transcribe(_ context.Context, samples []float32) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := make([]float32, len(samples))
	copy(cp, samples)
	r.TranscribeCalls = append(r.TranscribeCalls, TranscribeCall{Samples: cp})

	if r.TranscribeError != nil {
		return "", r.TranscribeError
	}

	i := len(r.TranscribeCalls) - 1
	switch {
	case len(r.TranscribeResults) == 0:
		return "", nil
	case i < len(r.TranscribeResults):
		return r.TranscribeResults[i], nil
	default:
		return r.TranscribeResults[len(r.TranscribeResults)-1], nil
	}
}

// SetLanguage implements [speech.Recognizer]. Records the code and returns
// SetLanguageError.
func (r *Recognizer) SetLanguage(lang string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Languages = append(r.Languages, lang)
	return r.SetLanguageError
}

// Close implements [speech.Recognizer]. Returns CloseError.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountClose++
	return r.CloseError
}

// ─── Streamer ─────────────────────────────────────────────────────────────────

// SendAudioCall records the arguments of a single [Streamer.SendAudio]
// invocation.
type SendAudioCall struct {
	// Samples is a copy of the samples passed to SendAudio.
	Samples []float32
}

// Streamer is a mock implementation of [speech.Streamer].
type Streamer struct {
	mu sync.Mutex

	// SendAudioResults are returned by successive SendAudio calls in
	// order. Once exhausted, further calls return "".
	SendAudioResults []string

	// SendAudioError is returned by every SendAudio call when set.
	SendAudioError error

	// SetLanguageError is returned by [Streamer.SetLanguage].
	SetLanguageError error

	// CloseError is returned by [Streamer.Close].
	CloseError error

	// SendAudioCalls records all SendAudio invocations.
	SendAudioCalls []SendAudioCall

	// Languages records the codes passed to SetLanguage, in order.
	Languages []string

	// CallCountReset records how many times Reset was called.
	CallCountReset int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// SendAudio implements [speech.Streamer]. Records a copy of the samples and
// returns the next scripted result.
func (s *Streamer) SendAudio(_ context.Context, samples []float32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Samples: cp})

	if s.SendAudioError != nil {
		return "", s.SendAudioError
	}

	i := len(s.SendAudioCalls) - 1
	if i < len(s.SendAudioResults) {
		return s.SendAudioResults[i], nil
	}
	return "", nil
}

// SetLanguage implements [speech.Streamer]. Records the code and returns
// SetLanguageError.
func (s *Streamer) SetLanguage(lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Languages = append(s.Languages, lang)
	return s.SetLanguageError
}

// Reset implements [speech.Streamer]. Records the call.
func (s *Streamer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReset++
}

// Close implements [speech.Streamer]. Returns CloseError.
func (s *Streamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}
