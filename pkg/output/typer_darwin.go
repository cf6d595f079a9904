//go:build darwin

package output

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// darwinTyper drives System Events through osascript. This requires the
// accessibility permission for the terminal or app hosting the daemon.
type darwinTyper struct{}

func newTyper() (Typer, error) {
	return &darwinTyper{}, nil
}

// appleScriptEscaper quotes the two characters AppleScript string literals
// treat specially.
var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func (t *darwinTyper) Type(ctx context.Context, text string) error {
	script := fmt.Sprintf(`tell application "System Events" to keystroke "%s"`,
		appleScriptEscaper.Replace(text))
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("output: osascript: %w (%s)", err, msg)
		}
		return fmt.Errorf("output: osascript: %w", err)
	}
	return nil
}
