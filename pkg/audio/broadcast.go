package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by [Receiver.Recv] once the broadcaster has been
// closed and the receiver's queue is drained.
var ErrClosed = errors.New("audio: broadcast closed")

// LagError reports that a slow receiver missed chunks. It is returned by
// [Receiver.Recv] before any further data so the consumer can observe the
// gap; the next call resumes with the oldest retained chunk.
type LagError struct {
	// Dropped is the number of chunks discarded since the previous Recv.
	Dropped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("audio: receiver lagged, dropped %d chunks", e.Dropped)
}

// Broadcaster fans captured chunks out to any number of receivers. Each
// receiver owns a bounded queue; when a queue is full the oldest chunk is
// discarded so that capture never blocks on a slow consumer. The drop is
// surfaced to that receiver as a [LagError] on its next Recv.
type Broadcaster struct {
	mu       sync.Mutex
	capacity int
	subs     map[*Receiver]struct{}
	closed   bool
}

// NewBroadcaster returns a broadcaster whose receivers each buffer up to
// capacity chunks. Capacity must be at least 1.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcaster{
		capacity: capacity,
		subs:     make(map[*Receiver]struct{}),
	}
}

// Subscribe registers a new receiver. The receiver only observes chunks
// published after the call. Subscribing to a closed broadcaster yields a
// receiver that reports [ErrClosed] immediately.
func (b *Broadcaster) Subscribe() *Receiver {
	r := &Receiver{
		b:      b,
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		r.closed = true
		return r
	}
	b.subs[r] = struct{}{}
	return r
}

// Publish delivers a chunk to every subscribed receiver. It never blocks;
// full receivers drop their oldest chunk instead. Publishing after Close is
// a no-op.
func (b *Broadcaster) Publish(c Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for r := range b.subs {
		r.push(c, b.capacity)
	}
}

// Close shuts the broadcaster down. Receivers drain their remaining queues
// and then report [ErrClosed]. Close is idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for r := range b.subs {
		r.shutdown()
		delete(b.subs, r)
	}
}

func (b *Broadcaster) unsubscribe(r *Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, r)
}

// Receiver consumes chunks from a [Broadcaster].
type Receiver struct {
	b      *Broadcaster
	notify chan struct{}

	mu      sync.Mutex
	queue   []Chunk
	dropped uint64
	closed  bool
}

func (r *Receiver) push(c Chunk, capacity int) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if len(r.queue) >= capacity {
		r.queue = r.queue[1:]
		r.dropped++
	}
	r.queue = append(r.queue, c)
	r.mu.Unlock()
	r.wake()
}

func (r *Receiver) shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wake()
}

func (r *Receiver) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Recv returns the next chunk, blocking until one is available, the context
// is done, or the stream ends. If chunks were dropped since the previous
// call it returns a [LagError] first, without consuming data. After the
// broadcaster closes, queued chunks are still delivered in order before
// Recv settles on [ErrClosed].
func (r *Receiver) Recv(ctx context.Context) (Chunk, error) {
	for {
		r.mu.Lock()
		if r.dropped > 0 {
			n := r.dropped
			r.dropped = 0
			r.mu.Unlock()
			return nil, &LagError{Dropped: n}
		}
		if len(r.queue) > 0 {
			c := r.queue[0]
			r.queue[0] = nil
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return c, nil
		}
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.notify:
		}
	}
}

// Close detaches the receiver from its broadcaster and discards any queued
// chunks. Subsequent Recv calls return [ErrClosed].
func (r *Receiver) Close() {
	if r.b != nil {
		r.b.unsubscribe(r)
	}
	r.mu.Lock()
	r.closed = true
	r.queue = nil
	r.mu.Unlock()
	r.wake()
}
