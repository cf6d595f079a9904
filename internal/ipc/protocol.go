// Package ipc defines the control protocol spoken between voxd and its
// clients over a Unix domain socket, plus the client used by voxctl.
//
// Framing is newline-delimited JSON: each request is one [Command] on a
// single line, each reply one [Response] on a single line. Lines are capped
// at [MaxLineBytes]; anything longer is a protocol error, never a silent
// truncation.
package ipc

// Command names understood by the daemon.
const (
	CmdStart       = "start"
	CmdStop        = "stop"
	CmdPause       = "pause"
	CmdResume      = "resume"
	CmdStatus      = "status"
	CmdSetLanguage = "set_language"
	CmdToggle      = "toggle"
)

// MaxLineBytes is the hard ceiling for one protocol line in either
// direction.
const MaxLineBytes = 64 * 1024

// Command is sent from a client to the daemon.
type Command struct {
	Cmd      string `json:"cmd"`
	Language string `json:"language,omitempty"`
}

// StatusInfo is the daemon state snapshot carried by a status response.
type StatusInfo struct {
	// IsRunning reflects daemon process liveness; it is true whenever the
	// daemon answers at all.
	IsRunning bool `json:"is_running"`
	// IsActive reports whether the dictation pipeline is currently
	// processing audio.
	IsActive bool `json:"is_active"`
	// Language is the recognition language code, or "auto".
	Language string `json:"language"`
}

// Response is returned by the daemon after processing one command.
type Response struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Status *StatusInfo `json:"status,omitempty"`
}

// Ok returns a plain success response.
func Ok() Response {
	return Response{OK: true}
}

// Errorf returns a failure response carrying msg.
func Errorf(msg string) Response {
	return Response{OK: false, Error: msg}
}

// StatusOf returns a success response carrying a status snapshot.
func StatusOf(info StatusInfo) Response {
	return Response{OK: true, Status: &info}
}

// Err converts a failure response into an error. A success response yields
// nil.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return errDaemonRefused
	}
	return &DaemonError{Message: r.Error}
}

// DaemonError is an error reported by the daemon itself, as opposed to a
// transport failure.
type DaemonError struct {
	Message string
}

func (e *DaemonError) Error() string { return e.Message }

var errDaemonRefused = &DaemonError{Message: "daemon refused the command"}
