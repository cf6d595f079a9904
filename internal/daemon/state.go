// Package daemon implements the dictation daemon: the lifecycle state
// machine that drives capture, segmentation, recognition, and keystroke
// injection, and the Unix-socket command server that voxctl talks to.
//
// Lifecycle commands are serialized on a single operation mutex so that
// composite commands such as toggle observe and change state atomically.
// Status reads bypass that mutex and never wait on a running operation.
// The processing pipeline is one goroutine that owns its audio receiver
// and segmenter; the engines and typer are handed to it at spawn time.
// Engines stay loaded across stop so restarting dictation skips the model
// load entirely.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxdaemon/voxd/internal/config"
	"github.com/voxdaemon/voxd/internal/ipc"
	"github.com/voxdaemon/voxd/internal/notify"
	"github.com/voxdaemon/voxd/internal/observe"
	"github.com/voxdaemon/voxd/internal/vad"
	"github.com/voxdaemon/voxd/pkg/audio"
	"github.com/voxdaemon/voxd/pkg/output"
	"github.com/voxdaemon/voxd/pkg/speech"
)

// whisperSampleRate is the rate whisper models are trained on. Audio
// captured at any other rate is resampled to it before recognition.
const whisperSampleRate = 16000

// Pipeline mode labels, used in logs, metrics, and history rows.
const (
	modeBatch     = "batch"
	modeStreaming = "streaming"
)

// Guard errors returned by lifecycle operations. The wording is part of the
// client protocol; voxctl prints these verbatim.
var (
	ErrAlreadyProcessing = errors.New("Already processing audio")
	ErrNotStarted        = errors.New("Already paused or not started")
	ErrAlreadyActive     = errors.New("Already active, cannot resume")
	ErrCaptureNotRunning = errors.New("Cannot resume: audio capture not running. Use Start instead.")
)

// ModelSource locates the recognition model on disk, downloading it when
// absent. Implemented by models.Manager.
type ModelSource interface {
	Ensure(ctx context.Context, rawURL, checksum string) (string, error)
}

// TranscriptLog records injected transcripts. Implemented by history.Store.
type TranscriptLog interface {
	Append(text, mode, language string, duration time.Duration) (int64, error)
}

// Deps carries the factories and services a [State] is wired with. The
// factories let tests substitute mocks for the device-backed components.
type Deps struct {
	// NewCapture opens a microphone backend for the given format.
	NewCapture func(cfg audio.Config) (audio.Capture, error)

	// NewRecognizer loads the batch recognition engine from a model file.
	NewRecognizer func(modelPath, language string) (speech.Recognizer, error)

	// NewStreamer loads the rolling-window engine from a model file.
	NewStreamer func(modelPath, language string, cfg speech.StreamConfig) (speech.Streamer, error)

	// NewTyper builds the platform keystroke injector.
	NewTyper func() (output.Typer, error)

	// Models resolves and downloads model assets.
	Models ModelSource

	// History is the transcript log. Nil disables recording.
	History TranscriptLog

	// Notifier surfaces lifecycle events on the desktop. Nil disables.
	Notifier *notify.Notifier

	// Metrics receives pipeline instrumentation. Nil selects the
	// package-level default instruments.
	Metrics *observe.Metrics

	// Log is the daemon logger. Nil selects slog.Default.
	Log *slog.Logger
}

func (d Deps) validate() error {
	var errs []error
	if d.NewCapture == nil {
		errs = append(errs, errors.New("daemon: NewCapture factory is required"))
	}
	if d.NewRecognizer == nil {
		errs = append(errs, errors.New("daemon: NewRecognizer factory is required"))
	}
	if d.NewStreamer == nil {
		errs = append(errs, errors.New("daemon: NewStreamer factory is required"))
	}
	if d.NewTyper == nil {
		errs = append(errs, errors.New("daemon: NewTyper factory is required"))
	}
	if d.Models == nil {
		errs = append(errs, errors.New("daemon: Models source is required"))
	}
	return errors.Join(errs...)
}

// State is the daemon's lifecycle state machine.
//
// Two flags describe the pipeline: processing means capture resources are
// live, active means a loop is consuming them. Start sets both, pause
// clears only active (capture keeps running so resume is instant), stop
// clears both and releases the capture. Loaded engines survive stop.
type State struct {
	deps Deps

	// op serializes every lifecycle transition. Composite operations such
	// as Toggle hold it across their observe-then-act sequence.
	op sync.Mutex

	active     atomic.Bool
	processing atomic.Bool

	langMu   sync.RWMutex
	language string

	// Everything below is guarded by op.

	cfg    *config.Config // applied at the next pipeline start
	runCfg *config.Config // parameters of the current capture session

	capture     audio.Capture
	broadcaster *audio.Broadcaster
	receiver    *audio.Receiver
	recognizer  speech.Recognizer
	streamer    speech.Streamer
	typer       output.Typer

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New validates deps and returns an idle State.
func New(cfg *config.Config, deps Deps) (*State, error) {
	if cfg == nil {
		return nil, errors.New("daemon: config must not be nil")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.New(false)
	}
	return &State{
		deps:     deps,
		cfg:      cfg,
		language: cfg.Whisper.Language,
	}, nil
}

// Start brings the full pipeline up: engine (loaded lazily on first use),
// typer, capture, and the processing loop. The activation flags flip last,
// so a failed start leaves the daemon exactly as inactive as before.
func (s *State) Start(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.startLocked(ctx)
}

func (s *State) startLocked(ctx context.Context) error {
	if s.processing.Load() {
		return ErrAlreadyProcessing
	}

	// A loop that exited on its own (audio stream closed underneath it)
	// leaves its capture behind; reclaim it before building a new pipeline.
	s.teardownPipelineLocked()

	cfg := s.cfg
	if err := s.ensureEngineLocked(ctx, cfg); err != nil {
		return err
	}
	if s.typer == nil {
		t, err := s.deps.NewTyper()
		if err != nil {
			return fmt.Errorf("daemon: create typer: %w", err)
		}
		s.typer = t
	}

	c, err := s.deps.NewCapture(audio.Config{
		SampleRate:     cfg.Audio.SampleRate,
		Channels:       cfg.Audio.Channels,
		FramesPerChunk: cfg.Audio.ChunkSize,
	})
	if err != nil {
		return fmt.Errorf("daemon: open audio capture: %w", err)
	}
	b := audio.NewBroadcaster(cfg.Buffer.BroadcastCapacity)
	if err := c.Start(b); err != nil {
		b.Close()
		return fmt.Errorf("daemon: start audio capture: %w", err)
	}
	s.capture = c
	s.broadcaster = b
	s.runCfg = cfg

	if err := s.spawnLoopLocked(cfg); err != nil {
		s.teardownPipelineLocked()
		return err
	}

	s.processing.Store(true)
	s.active.Store(true)

	mode := modeBatch
	if cfg.Whisper.StreamingMode {
		mode = modeStreaming
	}
	s.deps.Log.Info("dictation started", "mode", mode, "language", s.languageSnapshot())
	s.deps.Metrics.ActivePipelines.Add(ctx, 1)
	s.deps.Notifier.Listening()
	return nil
}

// ensureEngineLocked loads the engine for the configured mode unless a warm
// one is already resident.
func (s *State) ensureEngineLocked(ctx context.Context, cfg *config.Config) error {
	if cfg.Whisper.StreamingMode {
		if s.streamer != nil {
			return nil
		}
		path, err := s.ensureModelLocked(ctx, cfg)
		if err != nil {
			return err
		}
		s.deps.Log.Info("loading streaming engine", "model", path)
		str, err := s.deps.NewStreamer(path, s.languageSnapshot(), speech.StreamConfig{
			SampleRate: whisperSampleRate,
			Window:     cfg.Streaming.Window(),
			Keep:       cfg.Streaming.Keep(),
		})
		if err != nil {
			return fmt.Errorf("daemon: load streaming engine: %w", err)
		}
		s.streamer = str
		return nil
	}

	if s.recognizer != nil {
		return nil
	}
	path, err := s.ensureModelLocked(ctx, cfg)
	if err != nil {
		return err
	}
	s.deps.Log.Info("loading recognition engine", "model", path)
	rec, err := s.deps.NewRecognizer(path, s.languageSnapshot())
	if err != nil {
		return fmt.Errorf("daemon: load recognition engine: %w", err)
	}
	s.recognizer = rec
	return nil
}

func (s *State) ensureModelLocked(ctx context.Context, cfg *config.Config) (string, error) {
	start := time.Now()
	path, err := s.deps.Models.Ensure(ctx, cfg.Whisper.ModelURL, cfg.Whisper.ModelChecksum)
	s.deps.Metrics.DownloadDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.deps.Notifier.Error(fmt.Sprintf("Model download failed: %v", err))
		return "", fmt.Errorf("daemon: prepare model: %w", err)
	}
	return path, nil
}

// spawnLoopLocked subscribes a fresh receiver and starts the processing
// loop matching cfg's mode.
func (s *State) spawnLoopLocked(cfg *config.Config) error {
	rcv := s.broadcaster.Subscribe()

	var seg *vad.Segmenter
	if !cfg.Whisper.StreamingMode {
		var err error
		seg, err = vad.NewSegmenter(vad.SegmenterConfig{
			Thresholds: vad.Thresholds{
				Start: cfg.VAD.ThresholdStart,
				Stop:  cfg.VAD.ThresholdStop,
			},
			MinSilence: cfg.VAD.MinSilence(),
			Gain:       cfg.Audio.Gain,
			SampleRate: cfg.Audio.SampleRate,
		}, s.deps.Log)
		if err != nil {
			rcv.Close()
			return fmt.Errorf("daemon: build segmenter: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	if cfg.Whisper.StreamingMode {
		go s.runStreaming(loopCtx, done, rcv, s.streamer, s.typer, cfg)
	} else {
		go s.runBatch(loopCtx, done, rcv, seg, s.recognizer, s.typer, cfg)
	}

	s.receiver = rcv
	s.loopCancel = cancel
	s.loopDone = done
	return nil
}

// Stop tears the pipeline down and releases the audio device. Loaded
// engines stay resident so the next start is fast. Stopping an idle daemon
// is a no-op.
func (s *State) Stop() {
	s.op.Lock()
	defer s.op.Unlock()
	s.stopLocked()
}

func (s *State) stopLocked() {
	wasLive := s.active.Load() || s.processing.Load() || s.capture != nil

	s.active.Store(false)
	// The loop's closed-stream exit path also clears this flag; the swap
	// makes sure only one of the two decrements the gauge.
	if s.processing.Swap(false) {
		s.deps.Metrics.ActivePipelines.Add(context.Background(), -1)
	}
	s.teardownPipelineLocked()

	if s.streamer != nil {
		// The rolling window must not leak into the next session.
		s.streamer.Reset()
	}
	if !wasLive {
		return
	}
	s.deps.Log.Info("dictation stopped, model kept in memory")
	s.deps.Notifier.Stopped()
}

// teardownPipelineLocked joins the loop and releases capture resources. It
// tolerates any subset of them being absent.
func (s *State) teardownPipelineLocked() {
	if s.loopCancel != nil {
		s.loopCancel()
		<-s.loopDone
		s.loopCancel = nil
		s.loopDone = nil
	}
	if s.receiver != nil {
		s.receiver.Close()
		s.receiver = nil
	}
	if s.capture != nil {
		if err := s.capture.Stop(); err != nil {
			s.deps.Log.Warn("audio capture stop failed", "error", err)
		}
		s.capture = nil
	}
	if s.broadcaster != nil {
		s.broadcaster.Close()
		s.broadcaster = nil
	}
}

// Pause suspends processing while the microphone keeps running, so Resume
// can pick the stream back up without touching the device. Audio captured
// while paused is discarded, and a partially buffered utterance is dropped.
func (s *State) Pause() error {
	s.op.Lock()
	defer s.op.Unlock()

	if !s.active.Load() {
		return ErrNotStarted
	}
	s.active.Store(false)

	if s.loopCancel != nil {
		s.loopCancel()
		<-s.loopDone
		s.loopCancel = nil
		s.loopDone = nil
	}
	if s.receiver != nil {
		s.receiver.Close()
		s.receiver = nil
	}

	s.deps.Log.Info("dictation paused, capture stays live")
	s.deps.Notifier.Paused()
	return nil
}

// Resume restarts processing after a pause, reusing the running capture
// and the loaded engine.
func (s *State) Resume() error {
	s.op.Lock()
	defer s.op.Unlock()

	if s.active.Load() {
		return ErrAlreadyActive
	}
	if !s.processing.Load() || s.capture == nil || s.broadcaster == nil {
		return ErrCaptureNotRunning
	}

	if err := s.spawnLoopLocked(s.runCfg); err != nil {
		return err
	}
	s.active.Store(true)

	s.deps.Log.Info("dictation resumed")
	s.deps.Notifier.Listening()
	return nil
}

// Toggle stops the pipeline when it is active and starts it otherwise, as
// one atomic operation.
func (s *State) Toggle(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	if s.active.Load() {
		s.stopLocked()
		return nil
	}
	return s.startLocked(ctx)
}

// SetLanguage validates a language code and applies it to any loaded
// engine; the next start also picks it up. The error wording is part of
// the client protocol.
func (s *State) SetLanguage(lang string) error {
	if len(lang) < 2 || len(lang) > 3 {
		return fmt.Errorf("Invalid language code: '%s'. Expected 2-3 letter ISO 639-1 code (e.g., 'en', 'es', 'fr')", lang)
	}
	for i := 0; i < len(lang); i++ {
		if lang[i] < 'a' || lang[i] > 'z' {
			return fmt.Errorf("Invalid language code: '%s'. Must be lowercase ASCII letters only", lang)
		}
	}

	s.op.Lock()
	defer s.op.Unlock()

	if s.recognizer != nil {
		if err := s.recognizer.SetLanguage(lang); err != nil {
			return fmt.Errorf("daemon: set engine language: %w", err)
		}
	}
	if s.streamer != nil {
		if err := s.streamer.SetLanguage(lang); err != nil {
			return fmt.Errorf("daemon: set streaming engine language: %w", err)
		}
	}

	s.langMu.Lock()
	s.language = lang
	s.langMu.Unlock()

	s.deps.Log.Info("recognition language changed", "language", lang)
	return nil
}

// Status returns a snapshot without waiting on any running lifecycle
// operation.
func (s *State) Status() ipc.StatusInfo {
	return ipc.StatusInfo{
		IsRunning: true,
		IsActive:  s.active.Load(),
		Language:  s.languageSnapshot(),
	}
}

func (s *State) languageSnapshot() string {
	s.langMu.RLock()
	defer s.langMu.RUnlock()
	return s.language
}

// UpdateConfig replaces the configuration used by the next pipeline start.
// A pipeline that is already running keeps the parameters it started with.
func (s *State) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.op.Lock()
	defer s.op.Unlock()
	s.cfg = cfg
}

// Close stops any running pipeline and releases the loaded engines. The
// State must not be used afterwards.
func (s *State) Close() error {
	s.op.Lock()
	defer s.op.Unlock()

	s.stopLocked()

	var errs []error
	if s.recognizer != nil {
		if err := s.recognizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("daemon: close recognition engine: %w", err))
		}
		s.recognizer = nil
	}
	if s.streamer != nil {
		if err := s.streamer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("daemon: close streaming engine: %w", err))
		}
		s.streamer = nil
	}
	return errors.Join(errs...)
}
