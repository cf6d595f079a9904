// Package mock provides an in-memory mock implementation of the
// [output.Typer] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every injected text so
// tests can assert on call order and content, and it can simulate slow
// injection for timeout tests via TypeDelay.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxdaemon/voxd/pkg/output"
)

// Compile-time interface assertion.
var _ output.Typer = (*Typer)(nil)

// TypeCall records the arguments of a single [Typer.Type] invocation.
type TypeCall struct {
	// Text is the text passed to Type.
	Text string
}

// Typer is a mock implementation of [output.Typer].
// Set the exported fields before use; inspect TypeCalls after.
type Typer struct {
	mu sync.Mutex

	// TypeError is returned by every Type call when set.
	TypeError error

	// TypeDelay makes Type wait before returning, honoring the context.
	// Use this to exercise injection timeouts.
	TypeDelay time.Duration

	// TypeCalls records all Type invocations in order.
	TypeCalls []TypeCall
}

// Type implements [output.Typer]. Records the call, waits TypeDelay (or
// until the context is done), and returns TypeError.
func (t *Typer) Type(ctx context.Context, text string) error {
	t.mu.Lock()
	t.TypeCalls = append(t.TypeCalls, TypeCall{Text: text})
	delay := t.TypeDelay
	err := t.TypeError
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Texts returns the injected texts in call order.
func (t *Typer) Texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.TypeCalls))
	for i, c := range t.TypeCalls {
		out[i] = c.Text
	}
	return out
}
