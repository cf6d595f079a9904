// Package mock provides an in-memory mock implementation of the
// [audio.Capture] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and exposes exported fields the test can
// set to control return values. [Capture.Publish] feeds scripted chunks into
// the broadcaster passed to Start, standing in for a real microphone.
//
// Typical usage:
//
//	cap := &mock.Capture{}
//	b := audio.NewBroadcaster(8)
//	_ = cap.Start(b)
//	cap.Publish(audio.Chunk{0.5, 0.5})
package mock

import (
	"sync"

	"github.com/voxdaemon/voxd/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Capture = (*Capture)(nil)

// Capture is a mock implementation of [audio.Capture].
// Set the exported Error fields before use; inspect the Call* fields after.
type Capture struct {
	mu sync.Mutex

	// StartError is returned by [Capture.Start]. When set, the broadcaster
	// is not recorded.
	StartError error

	// StopError is returned by [Capture.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// Broadcaster holds the broadcaster passed to the most recent
	// successful Start. Nil until Start succeeds.
	Broadcaster *audio.Broadcaster
}

// Start implements [audio.Capture]. Records the call and the broadcaster,
// then returns StartError.
func (c *Capture) Start(b *audio.Broadcaster) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	c.Broadcaster = b
	return nil
}

// Stop implements [audio.Capture]. Records the call and returns StopError.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	return c.StopError
}

// Publish forwards a chunk to the broadcaster recorded by Start. Use this
// in tests to simulate microphone input. Publishing before a successful
// Start is a no-op.
func (c *Capture) Publish(chunk audio.Chunk) {
	c.mu.Lock()
	b := c.Broadcaster
	c.mu.Unlock()
	if b != nil {
		b.Publish(chunk)
	}
}

// Started reports whether the most recent Start succeeded and no Stop has
// followed it.
func (c *Capture) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Broadcaster != nil && c.CallCountStart > c.CallCountStop
}
