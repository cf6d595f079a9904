package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultTimeout bounds connect and per-command round-trips for [Client].
const DefaultTimeout = 5 * time.Second

// Client talks to a running voxd over its Unix socket. One command is in
// flight at a time; Client is safe for concurrent use.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	timeout time.Duration
	mu      sync.Mutex
}

// Connect dials the daemon socket. The connect attempt and every subsequent
// command round-trip are bounded by [DefaultTimeout].
func Connect(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: connect to %s (is voxd running?): %w", socketPath, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), MaxLineBytes)

	return &Client{conn: conn, scanner: scanner, timeout: DefaultTimeout}, nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendCommand writes one command line and reads one response line.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return Response{}, fmt.Errorf("ipc: set deadline: %w", err)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: marshal command: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return Response{}, fmt.Errorf("ipc: write command: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("ipc: read response: %w", err)
		}
		return Response{}, fmt.Errorf("ipc: connection closed by daemon")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("ipc: unmarshal response: %w", err)
	}
	return resp, nil
}

// do sends a command and folds a refusal into the returned error.
func (c *Client) do(cmd Command) error {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return err
	}
	return resp.Err()
}

// Start asks the daemon to start the dictation pipeline.
func (c *Client) Start() error { return c.do(Command{Cmd: CmdStart}) }

// Stop asks the daemon to stop the dictation pipeline.
func (c *Client) Stop() error { return c.do(Command{Cmd: CmdStop}) }

// Pause suspends processing while keeping audio capture warm.
func (c *Client) Pause() error { return c.do(Command{Cmd: CmdPause}) }

// Resume restarts processing after a pause.
func (c *Client) Resume() error { return c.do(Command{Cmd: CmdResume}) }

// Toggle stops the pipeline when active, starts it otherwise.
func (c *Client) Toggle() error { return c.do(Command{Cmd: CmdToggle}) }

// SetLanguage switches the recognition language.
func (c *Client) SetLanguage(code string) error {
	return c.do(Command{Cmd: CmdSetLanguage, Language: code})
}

// Status fetches the daemon state snapshot.
func (c *Client) Status() (StatusInfo, error) {
	resp, err := c.SendCommand(Command{Cmd: CmdStatus})
	if err != nil {
		return StatusInfo{}, err
	}
	if err := resp.Err(); err != nil {
		return StatusInfo{}, err
	}
	if resp.Status == nil {
		return StatusInfo{}, fmt.Errorf("ipc: status response missing status payload")
	}
	return *resp.Status, nil
}
