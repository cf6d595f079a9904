package daemon_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxdaemon/voxd/internal/config"
	"github.com/voxdaemon/voxd/internal/daemon"
	"github.com/voxdaemon/voxd/internal/history"
	"github.com/voxdaemon/voxd/internal/notify"
	"github.com/voxdaemon/voxd/pkg/audio"
	audiomock "github.com/voxdaemon/voxd/pkg/audio/mock"
	"github.com/voxdaemon/voxd/pkg/output"
	outputmock "github.com/voxdaemon/voxd/pkg/output/mock"
	"github.com/voxdaemon/voxd/pkg/speech"
	speechmock "github.com/voxdaemon/voxd/pkg/speech/mock"
)

// ---- Test fixture ----

type fixture struct {
	cfg     *config.Config
	state   *daemon.State
	capture *audiomock.Capture
	typer   *outputmock.Typer

	rec speech.Recognizer
	str speech.Streamer

	recLoads   atomic.Int32
	strLoads   atomic.Int32
	modelCalls atomic.Int32

	recLang    atomic.Value // string: language handed to the batch factory
	streamCfg  atomic.Value // speech.StreamConfig handed to the factory
	captureCfg atomic.Value // audio.Config handed to the capture factory
}

// newFixture builds a State wired entirely with mocks. The config is tuned
// for fast tests: small chunks and a short silence confirmation window.
func newFixture(t *testing.T, mutate func(*config.Config), depMutate ...func(*daemon.Deps)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.ChunkSize = 256
	cfg.VAD.MinSilenceMS = 40
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		cfg:     cfg,
		capture: &audiomock.Capture{},
		typer:   &outputmock.Typer{},
		rec:     &speechmock.Recognizer{TranscribeResults: []string{"hello world"}},
		str:     &speechmock.Streamer{},
	}

	deps := daemon.Deps{
		NewCapture: func(ac audio.Config) (audio.Capture, error) {
			f.captureCfg.Store(ac)
			return f.capture, nil
		},
		NewRecognizer: func(_, lang string) (speech.Recognizer, error) {
			f.recLoads.Add(1)
			f.recLang.Store(lang)
			return f.rec, nil
		},
		NewStreamer: func(_, lang string, sc speech.StreamConfig) (speech.Streamer, error) {
			f.strLoads.Add(1)
			f.streamCfg.Store(sc)
			return f.str, nil
		},
		NewTyper: func() (output.Typer, error) { return f.typer, nil },
		Models: modelSourceFunc(func(context.Context, string, string) (string, error) {
			f.modelCalls.Add(1)
			return "ggml-base.bin", nil
		}),
		Notifier: notify.New(false),
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range depMutate {
		m(&deps)
	}

	st, err := daemon.New(cfg, deps)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	f.state = st
	t.Cleanup(func() { _ = st.Close() })
	return f
}

type modelSourceFunc func(ctx context.Context, rawURL, checksum string) (string, error)

func (f modelSourceFunc) Ensure(ctx context.Context, rawURL, checksum string) (string, error) {
	return f(ctx, rawURL, checksum)
}

// scriptRecognizer is a minimal Recognizer for tests that need delays,
// fixed errors, or a counter that is safe to read while the pipeline runs.
type scriptRecognizer struct {
	result string
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (r *scriptRecognizer) Transcribe(ctx context.Context, _ []float32) (string, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.err != nil {
		return "", r.err
	}
	return r.result, nil
}

func (r *scriptRecognizer) SetLanguage(string) error { return nil }
func (r *scriptRecognizer) Close() error             { return nil }

func loudChunk(n int) audio.Chunk {
	c := make(audio.Chunk, n)
	for i := range c {
		c[i] = 0.5
	}
	return c
}

func silenceChunk(n int) audio.Chunk {
	return make(audio.Chunk, n)
}

// waitFor polls cond until it holds or the wait window runs out.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// dictate feeds one spoken utterance and then trickles silence until cond
// holds, giving the segmenter the quiet time it needs to close the segment.
func dictate(t *testing.T, f *fixture, cond func() bool) {
	t.Helper()
	f.capture.Publish(loudChunk(256))
	f.capture.Publish(loudChunk(256))
	waitFor(t, func() bool {
		f.capture.Publish(silenceChunk(256))
		return cond()
	})
}

// ---- Construction ----

func TestNew_RequiresConfigAndDeps(t *testing.T) {
	t.Parallel()

	if _, err := daemon.New(nil, daemon.Deps{}); err == nil {
		t.Fatal("expected error for nil config, got nil")
	}

	_, err := daemon.New(config.Default(), daemon.Deps{})
	if err == nil {
		t.Fatal("expected error for empty deps, got nil")
	}
	for _, want := range []string{"NewCapture", "NewRecognizer", "NewStreamer", "NewTyper", "Models"} {
		if !containsString(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func containsString(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// ---- Batch pipeline ----

func TestStart_BatchSegmentIsTyped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.capture.Started() {
		t.Fatal("capture should be running after Start")
	}
	if got := f.state.Status(); !got.IsActive {
		t.Error("status should report active after Start")
	}

	dictate(t, f, func() bool { return len(f.typer.Texts()) == 1 })

	if got, want := f.typer.Texts()[0], "hello world"; got != want {
		t.Errorf("typed text: got %q, want %q", got, want)
	}
}

func TestStart_NormalizesBeforeTyping(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.rec = &speechmock.Recognizer{TranscribeResults: []string{"the the cat [BLANK_AUDIO] sat"}}

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dictate(t, f, func() bool { return len(f.typer.Texts()) == 1 })

	if got, want := f.typer.Texts()[0], "the cat sat"; got != want {
		t.Errorf("typed text: got %q, want %q", got, want)
	}
}

func TestStart_EmptyTranscriptTypesNothing(t *testing.T) {
	t.Parallel()
	rec := &scriptRecognizer{result: ""}
	f := newFixture(t, nil, func(d *daemon.Deps) {
		d.NewRecognizer = func(string, string) (speech.Recognizer, error) { return rec, nil }
	})

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dictate(t, f, func() bool { return rec.calls.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if texts := f.typer.Texts(); len(texts) != 0 {
		t.Errorf("nothing should be typed for an empty transcript, got %q", texts)
	}
	if !f.state.Status().IsActive {
		t.Error("pipeline should stay active after an empty segment")
	}
}

func TestStart_WhileActiveFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := f.state.Start(context.Background())
	if !errors.Is(err, daemon.ErrAlreadyProcessing) {
		t.Fatalf("second Start: got %v, want ErrAlreadyProcessing", err)
	}
	if got, want := err.Error(), "Already processing audio"; got != want {
		t.Errorf("error text: got %q, want %q", got, want)
	}
}

func TestStart_CaptureFailureLeavesDaemonInactive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.capture.StartError = errors.New("device busy")

	err := f.state.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to fail when the device is busy")
	}
	if f.state.Status().IsActive {
		t.Error("a failed Start must not leave the daemon active")
	}
	if !errors.Is(f.state.Resume(), daemon.ErrCaptureNotRunning) {
		t.Error("Resume after failed Start should report capture not running")
	}

	// A later Start must come up cleanly once the device frees up.
	f.capture.StartError = nil
	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start after recovery: %v", err)
	}
	if !f.state.Status().IsActive {
		t.Error("recovered Start should activate the daemon")
	}
}

func TestStart_TyperFailureLeavesDaemonInactive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, func(d *daemon.Deps) {
		d.NewTyper = func() (output.Typer, error) { return nil, errors.New("no display") }
	})

	err := f.state.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to fail without a typer")
	}
	if f.state.Status().IsActive {
		t.Error("a failed Start must not leave the daemon active")
	}
	if f.capture.CallCountStart != 0 {
		t.Error("capture should not be touched when the typer cannot be built")
	}
}

func TestStart_ModelFailurePropagates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, func(d *daemon.Deps) {
		d.Models = modelSourceFunc(func(context.Context, string, string) (string, error) {
			return "", errors.New("connection refused")
		})
	})

	err := f.state.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to fail when the model cannot be prepared")
	}
	if !containsString(err.Error(), "prepare model") {
		t.Errorf("error should mention model preparation, got: %v", err)
	}
	if f.recLoads.Load() != 0 {
		t.Error("engine must not be loaded without a model")
	}
}

// ---- Stop ----

func TestStop_IsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.state.Stop()

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.state.Stop()
	f.state.Stop()

	if f.state.Status().IsActive {
		t.Error("status should be inactive after Stop")
	}
	if f.capture.CallCountStop != 1 {
		t.Errorf("capture should be stopped exactly once, got %d", f.capture.CallCountStop)
	}
}

func TestStop_KeepsEngineWarm(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	dictate(t, f, func() bool { return len(f.typer.Texts()) == 1 })
	f.state.Stop()

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	dictate(t, f, func() bool { return len(f.typer.Texts()) == 2 })

	if got := f.recLoads.Load(); got != 1 {
		t.Errorf("engine should be loaded once across restarts, got %d loads", got)
	}
	if got := f.modelCalls.Load(); got != 1 {
		t.Errorf("model should be resolved once across restarts, got %d calls", got)
	}
}

// ---- Pause and resume ----

func TestPause_RequiresActivePipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	err := f.state.Pause()
	if !errors.Is(err, daemon.ErrNotStarted) {
		t.Fatalf("Pause on idle daemon: got %v, want ErrNotStarted", err)
	}
	if got, want := err.Error(), "Already paused or not started"; got != want {
		t.Errorf("error text: got %q, want %q", got, want)
	}
}

func TestPause_KeepsCaptureRunning(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.state.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if !f.capture.Started() {
		t.Error("capture must keep running through a pause")
	}
	if f.state.Status().IsActive {
		t.Error("status should be inactive while paused")
	}
	if err := f.state.Pause(); !errors.Is(err, daemon.ErrNotStarted) {
		t.Errorf("second Pause: got %v, want ErrNotStarted", err)
	}
	if err := f.state.Start(context.Background()); !errors.Is(err, daemon.ErrAlreadyProcessing) {
		t.Errorf("Start while paused: got %v, want ErrAlreadyProcessing", err)
	}
}

func TestResume_GuardsMatchState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	err := f.state.Resume()
	if !errors.Is(err, daemon.ErrCaptureNotRunning) {
		t.Fatalf("Resume on idle daemon: got %v, want ErrCaptureNotRunning", err)
	}
	if got, want := err.Error(), "Cannot resume: audio capture not running. Use Start instead."; got != want {
		t.Errorf("error text: got %q, want %q", got, want)
	}

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.state.Resume(); !errors.Is(err, daemon.ErrAlreadyActive) {
		t.Errorf("Resume while active: got %v, want ErrAlreadyActive", err)
	}
}

func TestPauseResume_RoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dictate(t, f, func() bool { return len(f.typer.Texts()) == 1 })

	if err := f.state.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// Audio that arrives while paused is discarded, not queued.
	f.capture.Publish(loudChunk(256))
	f.capture.Publish(loudChunk(256))
	time.Sleep(60 * time.Millisecond)
	f.capture.Publish(silenceChunk(256))

	if err := f.state.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !f.state.Status().IsActive {
		t.Error("status should be active after Resume")
	}

	dictate(t, f, func() bool { return len(f.typer.Texts()) == 2 })

	if got := len(f.typer.Texts()); got != 2 {
		t.Errorf("paused audio must not produce text: got %d injections", got)
	}
	if f.capture.CallCountStart != 1 {
		t.Errorf("pause/resume must reuse the capture session, got %d starts", f.capture.CallCountStart)
	}
}

// ---- Closed audio stream ----

func TestClosedAudioStream_ClearsProcessing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Kill the stream underneath the loop, as a dying backend would.
	f.capture.Broadcaster.Close()

	waitFor(t, func() bool {
		return errors.Is(f.state.Resume(), daemon.ErrCaptureNotRunning)
	})
	if f.state.Status().IsActive {
		t.Error("status should be inactive once the stream closed")
	}

	// A fresh Start reclaims the stale capture and builds a new pipeline.
	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start after stream death: %v", err)
	}
	if f.capture.CallCountStart != 2 {
		t.Errorf("expected a second capture start, got %d", f.capture.CallCountStart)
	}
	if f.capture.CallCountStop != 1 {
		t.Errorf("stale capture should have been stopped once, got %d", f.capture.CallCountStop)
	}
}

// ---- Toggle ----

func TestToggle_FlipsPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Toggle(context.Background()); err != nil {
		t.Fatalf("first Toggle: %v", err)
	}
	if !f.state.Status().IsActive {
		t.Error("first toggle should start the pipeline")
	}

	if err := f.state.Toggle(context.Background()); err != nil {
		t.Fatalf("second Toggle: %v", err)
	}
	if f.state.Status().IsActive {
		t.Error("second toggle should stop the pipeline")
	}
}

func TestToggle_WhilePausedReportsProcessing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.state.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// Paused means inactive, so toggle attempts a start and trips over the
	// still-running capture. Resume is the way out of a pause.
	if err := f.state.Toggle(context.Background()); !errors.Is(err, daemon.ErrAlreadyProcessing) {
		t.Errorf("Toggle while paused: got %v, want ErrAlreadyProcessing", err)
	}
}

// ---- Language ----

func TestSetLanguage_RejectsMalformedCodes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	lengthMsg := func(code string) string {
		return fmt.Sprintf("Invalid language code: '%s'. Expected 2-3 letter ISO 639-1 code (e.g., 'en', 'es', 'fr')", code)
	}
	charsetMsg := func(code string) string {
		return fmt.Sprintf("Invalid language code: '%s'. Must be lowercase ASCII letters only", code)
	}

	cases := []struct {
		code string
		want string
	}{
		{"", lengthMsg("")},
		{"e", lengthMsg("e")},
		{"engl", lengthMsg("engl")},
		{"auto", lengthMsg("auto")},
		{"EN", charsetMsg("EN")},
		{"e1", charsetMsg("e1")},
		{"d-e", charsetMsg("d-e")},
	}
	for _, tc := range cases {
		err := f.state.SetLanguage(tc.code)
		if err == nil {
			t.Errorf("SetLanguage(%q): expected error, got nil", tc.code)
			continue
		}
		if err.Error() != tc.want {
			t.Errorf("SetLanguage(%q):\n got %q\nwant %q", tc.code, err.Error(), tc.want)
		}
	}

	for _, code := range []string{"en", "es", "deu"} {
		if err := f.state.SetLanguage(code); err != nil {
			t.Errorf("SetLanguage(%q): unexpected error: %v", code, err)
		}
	}
}

func TestSetLanguage_AppliesToLoadedEngine(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	rec := &speechmock.Recognizer{}
	f.rec = rec

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.state.SetLanguage("de"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	f.state.Stop()

	if got := f.state.Status().Language; got != "de" {
		t.Errorf("status language: got %q, want %q", got, "de")
	}
	if len(rec.Languages) != 1 || rec.Languages[0] != "de" {
		t.Errorf("engine languages: got %v, want [de]", rec.Languages)
	}
}

func TestSetLanguage_BeforeStartSeedsEngine(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.SetLanguage("fr"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := f.recLang.Load(); got != "fr" {
		t.Errorf("engine factory language: got %v, want %q", got, "fr")
	}
}

// ---- Streaming mode ----

func TestStreaming_EmissionsAreTyped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Whisper.StreamingMode = true
	})
	f.str = &speechmock.Streamer{SendAudioResults: []string{"partial one"}}

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool {
		f.capture.Publish(loudChunk(256))
		return len(f.typer.Texts()) == 1
	})

	if got, want := f.typer.Texts()[0], "partial one"; got != want {
		t.Errorf("typed text: got %q, want %q", got, want)
	}
	if f.recLoads.Load() != 0 {
		t.Error("batch engine must not be loaded in streaming mode")
	}
	if f.strLoads.Load() != 1 {
		t.Errorf("streaming engine loads: got %d, want 1", f.strLoads.Load())
	}
}

func TestStreaming_FactoryReceivesWindowConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Whisper.StreamingMode = true
		cfg.Streaming.WindowMS = 1000
		cfg.Streaming.KeepMS = 200
	})

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sc, ok := f.streamCfg.Load().(speech.StreamConfig)
	if !ok {
		t.Fatal("streamer factory was not called")
	}
	if sc.SampleRate != 16000 {
		t.Errorf("stream sample rate: got %d, want 16000", sc.SampleRate)
	}
	if sc.Window != time.Second {
		t.Errorf("stream window: got %v, want 1s", sc.Window)
	}
	if sc.Keep != 200*time.Millisecond {
		t.Errorf("stream keep: got %v, want 200ms", sc.Keep)
	}
}

func TestStreaming_StopResetsWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Whisper.StreamingMode = true
	})
	str := &speechmock.Streamer{}
	f.str = str

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.state.Stop()

	if str.CallCountReset == 0 {
		t.Error("Stop must reset the streaming window")
	}
	if str.CallCountClose != 0 {
		t.Error("Stop must keep the streaming engine loaded")
	}
}

// ---- Recognition failures ----

func TestTranscriptionTimeout_DropsSegment(t *testing.T) {
	t.Parallel()
	rec := &scriptRecognizer{result: "too late", delay: 300 * time.Millisecond}
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Whisper.TranscribeTimeoutMS = 30
	}, func(d *daemon.Deps) {
		d.NewRecognizer = func(string, string) (speech.Recognizer, error) { return rec, nil }
	})

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dictate(t, f, func() bool { return rec.calls.Load() >= 1 })
	time.Sleep(100 * time.Millisecond)

	if texts := f.typer.Texts(); len(texts) != 0 {
		t.Errorf("a timed-out segment must not be typed, got %q", texts)
	}
	if !f.state.Status().IsActive {
		t.Error("pipeline should survive a transcription timeout")
	}
}

func TestTranscriptionError_LoopContinues(t *testing.T) {
	t.Parallel()
	rec := &scriptRecognizer{err: errors.New("inference failed")}
	f := newFixture(t, nil, func(d *daemon.Deps) {
		d.NewRecognizer = func(string, string) (speech.Recognizer, error) { return rec, nil }
	})

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dictate(t, f, func() bool { return rec.calls.Load() >= 1 })
	dictate(t, f, func() bool { return rec.calls.Load() >= 2 })

	if texts := f.typer.Texts(); len(texts) != 0 {
		t.Errorf("failed segments must not be typed, got %q", texts)
	}
	if !f.state.Status().IsActive {
		t.Error("pipeline should survive transcription errors")
	}
}

// ---- History ----

func TestBatch_RecordsHistory(t *testing.T) {
	t.Parallel()
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := newFixture(t, nil, func(d *daemon.Deps) {
		d.History = store
	})

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dictate(t, f, func() bool { return len(f.typer.Texts()) == 1 })

	var entries []history.Entry
	waitFor(t, func() bool {
		entries, err = store.Recent(10)
		return err == nil && len(entries) == 1
	})

	e := entries[0]
	if e.Text != "hello world" {
		t.Errorf("history text: got %q, want %q", e.Text, "hello world")
	}
	if e.Mode != "batch" {
		t.Errorf("history mode: got %q, want %q", e.Mode, "batch")
	}
	if e.Language != "auto" {
		t.Errorf("history language: got %q, want %q", e.Language, "auto")
	}
	if e.Duration <= 0 {
		t.Errorf("history duration should be positive, got %v", e.Duration)
	}
}

// ---- Config swap ----

func TestUpdateConfig_AppliesAtNextStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, _ := f.captureCfg.Load().(audio.Config)
	if first.FramesPerChunk != 256 {
		t.Fatalf("initial chunk size: got %d, want 256", first.FramesPerChunk)
	}

	next := config.Default()
	next.Audio.ChunkSize = 128
	f.state.UpdateConfig(next)

	// The running pipeline keeps its parameters until restarted.
	if got, _ := f.captureCfg.Load().(audio.Config); got.FramesPerChunk != 256 {
		t.Errorf("running pipeline should keep its chunk size, got %d", got.FramesPerChunk)
	}

	f.state.Stop()
	if err := f.state.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got, _ := f.captureCfg.Load().(audio.Config); got.FramesPerChunk != 128 {
		t.Errorf("restarted pipeline chunk size: got %d, want 128", got.FramesPerChunk)
	}
}
