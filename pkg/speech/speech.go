// Package speech defines the recognition interfaces consumed by the
// dictation pipeline and a sliding-window streamer that adapts a batch
// recognizer for low-latency partial results.
//
// Engine implementations live in subpackages (e.g. [whisper]); the daemon
// depends only on the interfaces here so tests can substitute mocks.
package speech

import "context"

// Recognizer converts a finished speech segment to text in one shot.
//
// Implementations are safe for concurrent use. Transcribe blocks for the
// duration of inference; callers that need a ceiling run it under their own
// timeout. The context is checked before inference starts but a call
// already inside the model cannot be interrupted.
type Recognizer interface {
	// Transcribe runs recognition over the samples and returns the raw
	// text. Short segments are padded internally to the engine's minimum
	// duration. An empty result means the engine heard nothing usable.
	Transcribe(ctx context.Context, samples []float32) (string, error)

	// SetLanguage switches the language used by subsequent Transcribe
	// calls. The code is applied as-is; callers validate format.
	SetLanguage(lang string) error

	// Close releases the engine and its model. The Recognizer must not be
	// used afterwards.
	Close() error
}

// Streamer consumes a continuous sample stream and yields partial text as
// it becomes available.
//
// SendAudio returns the newly recognized text, or "" when the window is
// still filling or recognition produced nothing new since the last
// emission.
type Streamer interface {
	SendAudio(ctx context.Context, samples []float32) (string, error)

	// SetLanguage switches the language for subsequent windows.
	SetLanguage(lang string) error

	// Reset discards buffered audio and the duplicate-suppression state.
	Reset()

	// Close releases the underlying engine.
	Close() error
}
