// Package app wires all voxd subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control socket and the optional telemetry
// listener until the context is cancelled, and Shutdown tears everything
// down in reverse-init order.
//
// For testing, inject mock implementations via functional options
// (WithModelSource, WithCaptureFactory, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/voxdaemon/voxd/internal/config"
	"github.com/voxdaemon/voxd/internal/daemon"
	"github.com/voxdaemon/voxd/internal/health"
	"github.com/voxdaemon/voxd/internal/history"
	"github.com/voxdaemon/voxd/internal/models"
	"github.com/voxdaemon/voxd/internal/notify"
	"github.com/voxdaemon/voxd/internal/observe"
	"github.com/voxdaemon/voxd/internal/ratelimit"
	"github.com/voxdaemon/voxd/pkg/audio"
	"github.com/voxdaemon/voxd/pkg/audio/portaudio"
	"github.com/voxdaemon/voxd/pkg/output"
	"github.com/voxdaemon/voxd/pkg/speech"
	"github.com/voxdaemon/voxd/pkg/speech/whisper"
)

// App owns all subsystem lifetimes and orchestrates the dictation daemon.
type App struct {
	cfg        *config.Config
	version    string
	socketPath string
	configFile string

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics     *observe.Metrics
	models      daemon.ModelSource
	modelsMgr   *models.Manager
	transcripts daemon.TranscriptLog
	histStore   *history.Store
	notifier    *notify.Notifier
	state       *daemon.State
	limiter     *ratelimit.Limiter
	server      *daemon.Server
	telemetry   *http.Server
	watcher     *config.Watcher
	logLevel    *slog.LevelVar

	// Factories for the device-backed components; tests swap in mocks.
	newCapture    func(cfg audio.Config) (audio.Capture, error)
	newRecognizer func(modelPath, language string) (speech.Recognizer, error)
	newStreamer   func(modelPath, language string, cfg speech.StreamConfig) (speech.Streamer, error)
	newTyper      func() (output.Typer, error)

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSocketPath binds the control socket at path instead of the default
// runtime-dir location.
func WithSocketPath(path string) Option {
	return func(a *App) { a.socketPath = path }
}

// WithConfigFile enables the config file watcher on path. Without it the
// daemon keeps the config it started with.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configFile = path }
}

// WithVersion sets the version string reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithLogLevel hands the App the level var backing the process logger, so a
// config reload can change verbosity at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithModelSource injects a model source instead of creating a download
// manager.
func WithModelSource(src daemon.ModelSource) Option {
	return func(a *App) { a.models = src }
}

// WithTranscriptLog injects a transcript log instead of opening the SQLite
// history store.
func WithTranscriptLog(log daemon.TranscriptLog) Option {
	return func(a *App) { a.transcripts = log }
}

// WithCaptureFactory injects a microphone backend factory instead of the
// portaudio one.
func WithCaptureFactory(fn func(cfg audio.Config) (audio.Capture, error)) Option {
	return func(a *App) { a.newCapture = fn }
}

// WithRecognizerFactory injects a batch engine factory instead of the
// whisper.cpp one.
func WithRecognizerFactory(fn func(modelPath, language string) (speech.Recognizer, error)) Option {
	return func(a *App) { a.newRecognizer = fn }
}

// WithStreamerFactory injects a rolling-window engine factory instead of
// the whisper.cpp one.
func WithStreamerFactory(fn func(modelPath, language string, cfg speech.StreamConfig) (speech.Streamer, error)) Option {
	return func(a *App) { a.newStreamer = fn }
}

// WithTyperFactory injects a keystroke injector factory instead of the
// platform one.
func WithTyperFactory(fn func() (output.Typer, error)) Option {
	return func(a *App) { a.newTyper = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: telemetry, the
// model manager, the transcript history, the daemon state machine, and the
// command server. Use Option functions to inject test doubles for any
// subsystem.
//
// New binds the control socket but does not accept connections; call Run
// for that. The recognition model is not touched here — it is resolved
// lazily on the first start command.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}

	a := &App{
		cfg:           cfg,
		newCapture:    func(c audio.Config) (audio.Capture, error) { return portaudio.New(c) },
		newRecognizer: newWhisperRecognizer,
		newStreamer:   newWhisperStreamer,
		newTyper:      output.New,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry providers ───────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Model manager ─────────────────────────────────────────────────
	a.initModels()

	// ── 3. Transcript history ────────────────────────────────────────────
	if err := a.initHistory(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 4. Notifier ──────────────────────────────────────────────────────
	a.notifier = notify.New(cfg.Notifications.Enabled)

	// ── 5. Daemon state ──────────────────────────────────────────────────
	if err := a.initState(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init daemon state: %w", err)
	}

	// ── 6. Command server ────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init command server: %w", err)
	}

	// ── 7. Telemetry listener ────────────────────────────────────────────
	a.initListener()

	// ── 8. Config watcher ────────────────────────────────────────────────
	a.initWatcher()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel providers and the metrics instruments.
// With telemetry disabled the daemon still records against the default
// instruments; without a reader attached they cost next to nothing.
func (a *App) initTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		a.metrics = observe.DefaultMetrics()
		return nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: a.version,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(flushCtx)
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initModels creates the model download manager if one wasn't injected.
func (a *App) initModels() {
	if a.models != nil {
		return
	}
	mgr := models.New()
	a.modelsMgr = mgr
	a.models = mgr
}

// initHistory opens the SQLite transcript store when history is enabled.
func (a *App) initHistory() error {
	if a.transcripts != nil {
		return nil // injected
	}
	if !a.cfg.History.Enabled {
		return nil
	}

	path := a.cfg.History.Path
	if path == "" {
		path = history.DefaultPath()
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	a.histStore = store
	a.transcripts = store
	a.closers = append(a.closers, store.Close)
	slog.Info("transcript history enabled", "path", path)
	return nil
}

// initState builds the daemon lifecycle state machine from the factories.
func (a *App) initState() error {
	st, err := daemon.New(a.cfg, daemon.Deps{
		NewCapture:    a.newCapture,
		NewRecognizer: a.newRecognizer,
		NewStreamer:   a.newStreamer,
		NewTyper:      a.newTyper,
		Models:        a.models,
		History:       a.transcripts,
		Notifier:      a.notifier,
		Metrics:       a.metrics,
		Log:           slog.Default(),
	})
	if err != nil {
		return err
	}
	a.state = st
	a.closers = append(a.closers, st.Close)
	return nil
}

// initServer builds the rate limiter and binds the control socket.
func (a *App) initServer() error {
	rl := a.cfg.RateLimit
	perSecond, burst := rl.CommandsPerSecond, rl.BurstCapacity
	if !rl.Enabled {
		// A disabled limiter admits everything; the numbers only have to
		// satisfy construction.
		if perSecond <= 0 {
			perSecond = 1
		}
		if burst <= 0 {
			burst = 1
		}
	}
	lim, err := ratelimit.New(perSecond, burst, rl.Enabled)
	if err != nil {
		return err
	}
	a.limiter = lim

	srv, err := daemon.NewServer(a.socketPath, a.state, lim,
		daemon.WithServerMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.server = srv
	a.closers = append(a.closers, srv.Close)
	return nil
}

// initListener assembles the telemetry HTTP server: /metrics via the
// Prometheus handler, /healthz and /readyz via the health package, all
// behind the request-duration middleware. Run starts it.
func (a *App) initListener() {
	if !a.cfg.Telemetry.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.checkers()...).Register(mux)

	a.telemetry = &http.Server{
		Addr:              a.cfg.Telemetry.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, a.telemetry.Close)
}

// checkers builds the readiness probes for the components that can
// meaningfully fail underneath a running daemon.
func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if a.modelsMgr != nil {
		modelURL := a.cfg.Whisper.ModelURL
		cs = append(cs, health.Checker{
			Name: "model",
			Check: func(context.Context) error {
				path, err := a.modelsMgr.ResolvePath(modelURL)
				if err != nil {
					return err
				}
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("model not downloaded yet: %w", err)
				}
				return nil
			},
		})
	}
	if a.histStore != nil {
		cs = append(cs, health.Checker{
			Name: "history",
			Check: func(context.Context) error {
				_, err := a.histStore.Recent(1)
				return err
			},
		})
	}
	return cs
}

// initWatcher starts polling the config file when one was given. A daemon
// that cannot watch its config still dictates fine, so failures only warn.
func (a *App) initWatcher() {
	if a.configFile == "" {
		return
	}
	w, err := config.NewWatcher(a.configFile, a.applyConfigChange)
	if err != nil {
		slog.Warn("config watcher disabled", "path", a.configFile, "err", err)
		return
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	slog.Info("watching config file for changes", "path", a.configFile)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control socket until ctx is cancelled. The telemetry
// listener, when configured, runs alongside it.
func (a *App) Run(ctx context.Context) error {
	if a.telemetry != nil {
		go func() {
			slog.Info("telemetry listener serving", "addr", a.telemetry.Addr)
			if err := a.telemetry.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("telemetry listener failed", "err", err)
			}
		}()
	}

	return a.server.Serve(ctx)
}

// SocketPath returns the bound control socket path.
func (a *App) SocketPath() string {
	return a.server.Path()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// applyConfigChange is the watcher callback: it buckets the differences and
// applies each through the matching runtime path. Changes a live process
// cannot absorb are logged for the operator.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	// The next pipeline start always picks up the newest config.
	a.state.UpdateConfig(new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguageChanged {
		if d.NewLanguage == "auto" {
			slog.Info("language set to autodetect, applied when the engine reloads")
		} else if err := a.state.SetLanguage(d.NewLanguage); err != nil {
			slog.Warn("could not apply reloaded language", "language", d.NewLanguage, "err", err)
		}
	}
	if d.NotificationsChanged {
		a.notifier.SetEnabled(d.NotificationsEnabled)
	}
	if d.PipelineChanged {
		slog.Info("pipeline settings changed, applied at the next start")
	}
	if d.RestartRequired {
		slog.Warn("model, rate limit, history, or telemetry changes require a daemon restart")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to acquire before failing. Errors
// are dropped; the constructor error is the one worth reporting.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// ─── Engine factories ────────────────────────────────────────────────────────

// newWhisperRecognizer loads a whisper.cpp batch engine.
func newWhisperRecognizer(modelPath, language string) (speech.Recognizer, error) {
	return whisper.New(modelPath, whisper.WithLanguage(language))
}

// newWhisperStreamer loads a whisper.cpp engine and wraps it in the
// rolling-window adapter.
func newWhisperStreamer(modelPath, language string, cfg speech.StreamConfig) (speech.Streamer, error) {
	rec, err := whisper.New(modelPath,
		whisper.WithLanguage(language),
		whisper.WithSampleRate(cfg.SampleRate),
	)
	if err != nil {
		return nil, err
	}
	s, err := speech.NewStream(rec, cfg)
	if err != nil {
		rec.Close()
		return nil, err
	}
	return s, nil
}
