package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxdaemon/voxd/internal/ipc"
	"github.com/voxdaemon/voxd/internal/observe"
	"github.com/voxdaemon/voxd/internal/ratelimit"
)

const (
	// acceptTimeout is the accept-loop wakeup interval; shutdown is
	// observed at least this often even if the listener close races.
	acceptTimeout = 10 * time.Second

	// ioTimeout bounds each read and each write on a client connection. A
	// client that stalls mid-command gets disconnected, not waited on.
	ioTimeout = 10 * time.Second

	// maxConns bounds concurrently served connections; the accept loop
	// blocks once the limit is reached.
	maxConns = 32
)

// rateLimitMsg is the refusal sent to throttled clients. The wording is
// part of the client protocol.
const rateLimitMsg = "Rate limit exceeded. Please wait before sending more commands."

// Server answers voxctl commands on a Unix domain socket. Each connection
// may carry any number of newline-delimited JSON commands; every command
// passes the rate limiter before it is dispatched, status included.
type Server struct {
	state   *State
	limiter *ratelimit.Limiter
	metrics *observe.Metrics
	log     *slog.Logger
	path    string
	ln      *net.UnixListener
}

// ServerOption is a functional option for configuring a [Server].
type ServerOption func(*Server)

// WithServerLogger replaces the server logger.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServerMetrics replaces the command instrumentation.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewServer binds the control socket at path, replacing a stale socket file
// left behind by a crashed daemon. An empty path selects the default
// location. The socket is restricted to the owning user.
func NewServer(path string, st *State, lim *ratelimit.Limiter, opts ...ServerOption) (*Server, error) {
	if st == nil {
		return nil, errors.New("daemon: server state must not be nil")
	}
	if lim == nil {
		return nil, errors.New("daemon: server rate limiter must not be nil")
	}
	if path == "" {
		path = ipc.SocketPath()
	}

	// net.Listen refuses an existing path, so a leftover socket file from
	// a crashed daemon has to go first.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("daemon: remove stale socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("daemon: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("daemon: restrict socket permissions: %w", err)
	}

	s := &Server{
		state:   st,
		limiter: lim,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
		path:    path,
		ln:      ln.(*net.UnixListener),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Path returns the bound socket path.
func (s *Server) Path() string {
	return s.path
}

// Serve accepts connections until ctx is cancelled, then drains the active
// handlers and returns. The socket file is unlinked when the listener
// closes.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	g := &errgroup.Group{}
	g.SetLimit(maxConns)
	defer func() { _ = g.Wait() }()

	s.log.Info("command server listening", "socket", s.path)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.ln.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			return fmt.Errorf("daemon: set accept deadline: %w", err)
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		g.Go(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
	}
}

// Close shuts the listener down. Safe to call after Serve has returned.
func (s *Server) Close() error {
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// handleConn serves one client: a loop of one command line in, one response
// line out. Malformed JSON gets an error response; an oversized line or an
// expired deadline drops the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), ipc.MaxLineBytes)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
			return
		}
		if !sc.Scan() {
			switch err := sc.Err(); {
			case err == nil:
				// Client closed the connection.
			case errors.Is(err, bufio.ErrTooLong):
				s.log.Warn("command line exceeds protocol limit, dropping connection",
					"limit", ipc.MaxLineBytes)
			case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, net.ErrClosed):
			default:
				s.log.Debug("connection read ended", "error", err)
			}
			return
		}

		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp ipc.Response
		var cmd ipc.Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			resp = ipc.Errorf("invalid command: " + err.Error())
		} else {
			s.log.Debug("command received", "command", cmd.Cmd)
			resp = s.execute(ctx, cmd)
		}

		data, err := json.Marshal(resp)
		if err != nil {
			s.log.Error("encode response failed", "error", err)
			return
		}
		data = append(data, '\n')
		if err := conn.SetWriteDeadline(time.Now().Add(ioTimeout)); err != nil {
			return
		}
		if _, err := conn.Write(data); err != nil {
			s.log.Debug("connection write failed", "error", err)
			return
		}
	}
}

// execute admits one command through the rate limiter and dispatches it to
// the state machine.
func (s *Server) execute(ctx context.Context, cmd ipc.Command) ipc.Response {
	if !s.limiter.Allow() {
		s.log.Warn("command rate limited", "command", cmd.Cmd)
		s.metrics.RecordCommand(ctx, cmd.Cmd, "rate_limited")
		return ipc.Errorf(rateLimitMsg)
	}

	var err error
	switch cmd.Cmd {
	case ipc.CmdStart:
		err = s.state.Start(ctx)
	case ipc.CmdStop:
		s.state.Stop()
	case ipc.CmdPause:
		err = s.state.Pause()
	case ipc.CmdResume:
		err = s.state.Resume()
	case ipc.CmdToggle:
		err = s.state.Toggle(ctx)
	case ipc.CmdSetLanguage:
		err = s.state.SetLanguage(cmd.Language)
	case ipc.CmdStatus:
		s.metrics.RecordCommand(ctx, cmd.Cmd, "ok")
		return ipc.StatusOf(s.state.Status())
	default:
		s.metrics.RecordCommand(ctx, cmd.Cmd, "error")
		return ipc.Errorf(fmt.Sprintf("unknown command: %q", cmd.Cmd))
	}

	if err != nil {
		s.log.Warn("command failed", "command", cmd.Cmd, "error", err)
		s.metrics.RecordCommand(ctx, cmd.Cmd, "error")
		return ipc.Errorf(err.Error())
	}
	s.metrics.RecordCommand(ctx, cmd.Cmd, "ok")
	if cmd.Cmd == ipc.CmdToggle {
		// Toggle reports the state it landed in.
		return ipc.StatusOf(s.state.Status())
	}
	return ipc.Ok()
}
