//go:build linux

package output

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// linuxTyper shells out to the session's injection helper: wtype on
// Wayland, xdotool on X11. The choice is made once at construction from
// WAYLAND_DISPLAY.
type linuxTyper struct {
	wayland bool
}

func newTyper() (Typer, error) {
	return &linuxTyper{
		wayland: os.Getenv("WAYLAND_DISPLAY") != "",
	}, nil
}

func (t *linuxTyper) Type(ctx context.Context, text string) error {
	var cmd *exec.Cmd
	if t.wayland {
		cmd = exec.CommandContext(ctx, "wtype", text)
	} else {
		cmd = exec.CommandContext(ctx, "xdotool", "type", "--clearmodifiers", "--", text)
	}
	return runTyper(cmd)
}

// runTyper executes an injection helper and folds its stderr into the
// returned error, since the exit status alone rarely says what went wrong.
func runTyper(cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("output: %s: %w (%s)", cmd.Path, err, msg)
		}
		return fmt.Errorf("output: %s: %w", cmd.Path, err)
	}
	return nil
}
