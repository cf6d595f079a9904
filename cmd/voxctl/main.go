// Command voxctl controls a running voxd daemon over its Unix socket.
//
// Lifecycle commands print "Success" or the daemon's error; status-carrying
// responses print a multi-line state block. The history subcommand reads
// the transcript database directly and works without a running daemon.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/voxdaemon/voxd/internal/history"
	"github.com/voxdaemon/voxd/internal/ipc"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	socketPath := flag.String("socket", "", "daemon control socket (default: $XDG_RUNTIME_DIR/voxd.sock)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return 2
	}

	switch cmd := args[0]; cmd {
	case "version":
		fmt.Println("voxctl " + version)
		return 0
	case "history":
		return runHistory(args[1:])
	case "start", "stop", "pause", "resume", "status", "toggle", "lang":
		return runDaemonCommand(*socketPath, cmd, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "voxctl: unknown command %q\n\n", cmd)
		usage()
		return 2
	}
}

// runDaemonCommand sends one command over the socket and renders the
// response.
func runDaemonCommand(socket, cmd string, rest []string) int {
	var c ipc.Command
	switch cmd {
	case "start":
		c.Cmd = ipc.CmdStart
	case "stop":
		c.Cmd = ipc.CmdStop
	case "pause":
		c.Cmd = ipc.CmdPause
	case "resume":
		c.Cmd = ipc.CmdResume
	case "status":
		c.Cmd = ipc.CmdStatus
	case "toggle":
		c.Cmd = ipc.CmdToggle
	case "lang":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "voxctl: usage: voxctl lang <code>")
			return 2
		}
		c.Cmd = ipc.CmdSetLanguage
		c.Language = rest[0]
	}

	if socket == "" {
		socket = ipc.SocketPath()
	}
	client, err := ipc.Connect(socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		return 1
	}
	defer client.Close()

	resp, err := client.SendCommand(c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		return 1
	}

	switch {
	case resp.Status != nil:
		// status, and toggle reporting the state it landed in
		printStatus(*resp.Status)
	case resp.OK:
		fmt.Println("Success")
	default:
		fmt.Fprintln(os.Stderr, "Error: "+resp.Error)
		return 1
	}
	return 0
}

func printStatus(st ipc.StatusInfo) {
	fmt.Println("Status:")
	fmt.Printf("  Running: %v\n", st.IsRunning)
	fmt.Printf("  Active: %v\n", st.IsActive)
	fmt.Printf("  Language: %s\n", st.Language)
}

// runHistory prints recent transcripts from the local database, newest
// first. It never creates a database: absent means nothing was recorded.
func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of entries to show, newest first")
	dbPath := fs.String("db", "", "history database path (default: the per-user data dir)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := *dbPath
	if path == "" {
		path = history.DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: no history database at %s\n", path)
		return 1
	}

	store, err := history.OpenReadOnly(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.Recent(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Println("No transcripts recorded yet.")
		return 0
	}
	for _, e := range entries {
		fmt.Printf("%s  [%s/%s]  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Mode, e.Language, e.Text)
	}
	return 0
}

func usage() {
	fmt.Fprint(os.Stderr, `voxctl controls a running voxd daemon.

Usage:
  voxctl [-socket path] <command>

Commands:
  start        start dictation
  stop         stop dictation and release the microphone
  pause        pause processing, keep the microphone warm
  resume       resume processing after a pause
  toggle       stop when active, start otherwise
  status       print the daemon state
  lang <code>  switch the recognition language (e.g. en, de)
  history      print recent transcripts [-n count] [-db path]
  version      print the version and exit

Flags:
`)
	flag.PrintDefaults()
}
