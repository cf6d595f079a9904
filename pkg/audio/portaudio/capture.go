// Package portaudio implements microphone capture on top of the PortAudio
// library. It opens the system default input device and publishes fixed-size
// mono chunks into an [audio.Broadcaster].
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/voxdaemon/voxd/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Capture = (*Capture)(nil)

const (
	// pollInterval is how long the read loop sleeps when the device has no
	// samples ready. The loop also observes Stop at this granularity.
	pollInterval = 10 * time.Millisecond

	// stopWait bounds how long Stop waits for the read loop to exit before
	// tearing the stream down anyway.
	stopWait = 100 * time.Millisecond
)

// Capture reads from the default input device. Multi-channel devices are
// downmixed to mono before publishing. Capture is safe for concurrent use
// and may be restarted after Stop.
type Capture struct {
	cfg audio.Config

	mu      sync.Mutex
	stream  *pa.Stream
	buffer  []float32
	running bool
	done    chan struct{}
}

// New validates the capture format and returns an idle Capture. The device
// is not touched until Start.
func New(cfg audio.Config) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("portaudio: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("portaudio: channel count must be at least 1, got %d", cfg.Channels)
	}
	if cfg.FramesPerChunk <= 0 {
		return nil, fmt.Errorf("portaudio: frames per chunk must be positive, got %d", cfg.FramesPerChunk)
	}
	return &Capture{cfg: cfg}, nil
}

// Start initialises PortAudio, opens the default input stream, and begins
// publishing chunks into b. Starting an already running capture is a no-op.
func (c *Capture) Start(b *audio.Broadcaster) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	c.buffer = make([]float32, c.cfg.FramesPerChunk*c.cfg.Channels)
	stream, err := pa.OpenDefaultStream(
		c.cfg.Channels,
		0,
		float64(c.cfg.SampleRate),
		c.cfg.FramesPerChunk,
		c.buffer,
	)
	if err != nil {
		pa.Terminate()
		return fmt.Errorf("portaudio: open default input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}

	c.stream = stream
	c.running = true
	c.done = make(chan struct{})

	slog.Debug("microphone capture started",
		"sampleRate", c.cfg.SampleRate,
		"channels", c.cfg.Channels,
		"framesPerChunk", c.cfg.FramesPerChunk,
	)

	go c.readLoop(b, stream, c.done)
	return nil
}

// readLoop polls the stream and publishes each filled buffer as a chunk.
// It exits when running is cleared by Stop. The stream stays valid for the
// loop's lifetime because Stop waits on done before closing it.
func (c *Capture) readLoop(b *audio.Broadcaster, stream *pa.Stream, done chan struct{}) {
	defer close(done)

	for {
		if !c.isRunning() {
			return
		}

		available, err := stream.AvailableToRead()
		if err != nil || available == 0 {
			time.Sleep(pollInterval)
			continue
		}

		if err := stream.Read(); err != nil {
			slog.Debug("microphone read failed", "error", err)
			time.Sleep(pollInterval)
			continue
		}

		c.mu.Lock()
		chunk := make([]float32, len(c.buffer))
		copy(chunk, c.buffer)
		c.mu.Unlock()

		if c.cfg.Channels > 1 {
			chunk = audio.Downmix(chunk, c.cfg.Channels)
		}
		b.Publish(chunk)
	}
}

func (c *Capture) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop halts the read loop, closes the stream, and releases PortAudio.
// Stopping an idle capture is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stream := c.stream
	c.stream = nil
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopWait):
	}

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}

	slog.Debug("microphone capture stopped")
	return errors.Join(errs...)
}
