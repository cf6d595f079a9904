package ipc

import (
	"os"
	"path/filepath"
)

// socketName is the file name of the control socket.
const socketName = "voxd.sock"

// SocketPath returns the default control socket path: the per-user runtime
// directory when available, otherwise a fixed path under /tmp.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketName)
	}
	return filepath.Join(os.TempDir(), socketName)
}
