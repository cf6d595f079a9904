// Package output injects recognized text into the focused window as
// keystrokes. The mechanism is platform specific; New selects the right
// implementation at build time.
package output

import "context"

// Typer injects text into the currently focused input field.
//
// Type must honor the context where the platform allows it: the exec-based
// implementations kill the helper process when the context expires. A
// failed or timed-out injection returns an error; the text is not retried.
type Typer interface {
	Type(ctx context.Context, text string) error
}

// New returns the platform Typer for the current OS.
func New() (Typer, error) {
	return newTyper()
}
