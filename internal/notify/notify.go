// Package notify surfaces daemon lifecycle events as desktop
// notifications. Notifications are best effort; a missing notification
// service never affects dictation.
package notify

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"
)

const appName = "voxd"

// maxBodyLen truncates long transcripts so the notification stays one
// toast instead of a scrolling wall.
const maxBodyLen = 100

// Notifier sends desktop notifications. The zero value is disabled.
type Notifier struct {
	enabled atomic.Bool
}

// New returns a Notifier in the given state.
func New(enabled bool) *Notifier {
	n := &Notifier{}
	n.enabled.Store(enabled)
	return n
}

// SetEnabled turns notifications on or off at runtime.
func (n *Notifier) SetEnabled(enabled bool) {
	n.enabled.Store(enabled)
}

// Listening announces that dictation started and audio is flowing.
func (n *Notifier) Listening() {
	n.notify("Listening", "Speak to dictate into the focused window")
}

// Stopped announces that dictation stopped.
func (n *Notifier) Stopped() {
	n.notify("Stopped", "Dictation is off")
}

// Paused announces that processing is paused while capture stays warm.
func (n *Notifier) Paused() {
	n.notify("Paused", "Dictation is paused")
}

// Transcribed previews injected text.
func (n *Notifier) Transcribed(text string) {
	n.notify("Transcribed", truncate(text))
}

// Error surfaces a failure the user should know about, such as a failed
// model download.
func (n *Notifier) Error(msg string) {
	n.notify("Error", truncate(msg))
}

func truncate(s string) string {
	if len(s) > maxBodyLen {
		return s[:maxBodyLen] + "..."
	}
	return s
}

func (n *Notifier) notify(title, message string) {
	if !n.enabled.Load() {
		return
	}
	// Notification failures are not worth propagating.
	_ = beeep.Notify(appName+": "+title, message, "")
}
