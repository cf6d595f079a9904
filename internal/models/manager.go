// Package models manages the on-disk model assets consumed by the
// recognition engine: locating an installed model, verifying its integrity,
// and downloading it atomically when absent or corrupt.
package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	// systemShareDir is the machine-wide model location probed after the
	// per-user directory.
	systemShareDir = "/usr/share/voxd/models"

	defaultAttempts     = 3
	defaultBackoff      = 500 * time.Millisecond
	defaultMaxBackoff   = 10 * time.Second
	defaultChunkTimeout = 30 * time.Second

	copyBufferSize = 32 * 1024
)

// errStalled marks a download cancelled by the per-chunk watchdog.
var errStalled = errors.New("models: download stalled")

// Manager resolves, verifies, and downloads model files. Construct with
// [New]; the zero value is not usable. Manager is safe for concurrent use,
// though the daemon consults it from a single goroutine per activation.
type Manager struct {
	client       *http.Client
	dataDir      string
	attempts     int
	backoff      time.Duration
	maxBackoff   time.Duration
	chunkTimeout time.Duration
	log          *slog.Logger
}

// Option is a functional option for configuring a [Manager].
type Option func(*Manager)

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithDataDir overrides the per-user model directory, which is both the
// first probe location and the install target for downloads.
func WithDataDir(dir string) Option {
	return func(m *Manager) { m.dataDir = dir }
}

// WithRetry sets the download attempt count and the initial backoff between
// attempts. Backoff doubles per attempt up to a fixed ceiling.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(m *Manager) {
		m.attempts = attempts
		m.backoff = initial
	}
}

// WithChunkTimeout sets the per-chunk read deadline for download streams. A
// connection that delivers no bytes for this long is treated as stalled and
// aborted.
func WithChunkTimeout(d time.Duration) Option {
	return func(m *Manager) { m.chunkTimeout = d }
}

// New returns a Manager with default probing locations, retry policy, and
// the default HTTP client.
func New(opts ...Option) *Manager {
	m := &Manager{
		client:       http.DefaultClient,
		dataDir:      userDataDir(),
		attempts:     defaultAttempts,
		backoff:      defaultBackoff,
		maxBackoff:   defaultMaxBackoff,
		chunkTimeout: defaultChunkTimeout,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// userDataDir returns the per-user model directory following the XDG data
// home convention.
func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "voxd", "models")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "models")
	}
	return filepath.Join(home, ".local", "share", "voxd", "models")
}

// ResolvePath derives the model file name from the final path element of
// rawURL and probes, in order: the per-user model directory, the system
// share directory, a "models" subdirectory of the working directory, and
// the working directory itself. The first existing match wins; when none
// exists the per-user target path is returned so a download lands there.
func (m *Manager) ResolvePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("models: parse model URL: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("models: model URL %q has no file name", rawURL)
	}

	candidates := []string{
		filepath.Join(m.dataDir, name),
		filepath.Join(systemShareDir, name),
		filepath.Join("models", name),
		name,
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return candidates[0], nil
}

// Ensure makes sure the model referenced by rawURL exists locally and, when
// checksum (hex SHA-256) is non-empty, that its content matches. A missing
// or mismatching file is downloaded with bounded retries. It returns the
// path of the verified model file.
func (m *Manager) Ensure(ctx context.Context, rawURL, checksum string) (string, error) {
	dest, err := m.ResolvePath(rawURL)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(dest); err == nil {
		if checksum == "" {
			return dest, nil
		}
		sum, err := fileChecksum(dest)
		if err != nil {
			return "", fmt.Errorf("models: checksum %s: %w", dest, err)
		}
		if strings.EqualFold(sum, checksum) {
			return dest, nil
		}
		// A corrupt model must never be used silently.
		m.log.Warn("model checksum mismatch, re-downloading",
			"path", dest, "got", sum, "want", checksum)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("models: stat %s: %w", dest, err)
	}

	if err := m.downloadWithRetry(ctx, rawURL, dest, checksum); err != nil {
		return "", err
	}
	return dest, nil
}

// downloadWithRetry runs download attempts with exponential backoff. The
// last error is surfaced once attempts are exhausted.
func (m *Manager) downloadWithRetry(ctx context.Context, rawURL, dest, checksum string) error {
	backoff := m.backoff
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		lastErr = m.download(ctx, rawURL, dest, checksum)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// The caller gave up; retrying cannot help.
			return fmt.Errorf("models: download %s: %w", rawURL, lastErr)
		}
		m.log.Warn("model download failed",
			"url", rawURL, "attempt", attempt, "of", m.attempts, "error", lastErr)
		if attempt < m.attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("models: download %s: %w", rawURL, ctx.Err())
			}
			backoff *= 2
			if backoff > m.maxBackoff {
				backoff = m.maxBackoff
			}
		}
	}
	return fmt.Errorf("models: download %s after %d attempts: %w", rawURL, m.attempts, lastErr)
}

// download performs one attempt: HEAD for the expected size, streaming GET
// into a sibling temp file with a running SHA-256 and a per-chunk watchdog,
// then size and checksum verification before the atomic rename onto dest.
func (m *Manager) download(ctx context.Context, rawURL, dest, checksum string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	expected := m.expectedSize(ctx, rawURL)

	// The watchdog cancels the request when no bytes arrive for a full
	// chunk timeout, so a stalled connection cannot hang the daemon.
	dctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(m.chunkTimeout, func() { cancel(errStalled) })
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return m.wrapStall(dctx, fmt.Errorf("fetch: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}

	tmp := dest + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	// After a successful rename this is a no-op on a path that no longer
	// exists; on any failure path it removes the partial file.
	defer os.Remove(tmp)

	hash := sha256.New()
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(m.chunkTimeout)
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return fmt.Errorf("write temp file: %w", werr)
			}
			hash.Write(buf[:n])
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return m.wrapStall(dctx, fmt.Errorf("read body: %w", rerr))
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if expected >= 0 && written != expected {
		return fmt.Errorf("size mismatch: wrote %d bytes, server announced %d", written, expected)
	}
	if checksum != "" {
		if sum := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(sum, checksum) {
			return fmt.Errorf("checksum mismatch: got %s, want %s", sum, checksum)
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	m.log.Info("model downloaded", "url", rawURL, "path", dest, "bytes", written)
	return nil
}

// expectedSize asks the server for the content length via HEAD. Servers
// that refuse HEAD just leave the size unknown (-1); verification is then
// skipped.
func (m *Manager) expectedSize(ctx context.Context, rawURL string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return -1
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Debug("HEAD request failed, size unknown", "url", rawURL, "error", err)
		return -1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return -1
	}
	return resp.ContentLength
}

// wrapStall rewrites watchdog cancellations so the caller sees the stall
// rather than a bare context error.
func (m *Manager) wrapStall(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errStalled) {
		return fmt.Errorf("%w after %v without data (%v)", errStalled, m.chunkTimeout, err)
	}
	return err
}

// fileChecksum computes the streaming hex SHA-256 of the file at path.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
