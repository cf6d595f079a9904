// Package audio defines the capture-side types of the dictation pipeline:
// the sample chunk unit, the capture interface implemented by microphone
// backends, and a bounded multicast that decouples capture from processing.
package audio

// Chunk is one block of mono float32 samples in [-1, 1], produced at the
// pipeline's fixed nominal rate. Chunks are the atomic unit of audio
// transport: captured from the input stream, fanned out by [Broadcaster],
// and consumed by the segmentation loop. A published chunk must not be
// mutated afterwards; consumers copy samples into their own buffers.
type Chunk []float32

// Config describes the capture format.
type Config struct {
	// SampleRate in Hz. Whisper models expect 16000.
	SampleRate int

	// Channels is the number of capture channels. Multi-channel input is
	// downmixed to mono before publishing.
	Channels int

	// FramesPerChunk is the number of frames delivered per chunk read from
	// the device.
	FramesPerChunk int
}

// Capture is implemented by microphone backends. Start begins publishing
// chunks into the given broadcaster from a backend-owned goroutine; Stop
// halts publishing and releases the device. A Capture may be restarted
// after Stop.
type Capture interface {
	Start(b *Broadcaster) error
	Stop() error
}
