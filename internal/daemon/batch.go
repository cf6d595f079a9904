package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxdaemon/voxd/internal/config"
	"github.com/voxdaemon/voxd/internal/observe"
	"github.com/voxdaemon/voxd/internal/transcript"
	"github.com/voxdaemon/voxd/internal/vad"
	"github.com/voxdaemon/voxd/pkg/audio"
	"github.com/voxdaemon/voxd/pkg/output"
	"github.com/voxdaemon/voxd/pkg/speech"
)

// runBatch is the VAD-segmented processing loop. It consumes chunks from
// rcv, feeds them through the segmenter, and hands each finished segment to
// its own goroutine so a long recognition pass never stalls segmentation of
// the audio that keeps arriving.
//
// The loop exits when ctx is cancelled (pause or stop, flags handled by the
// caller) or when the audio stream closes underneath it, in which case it
// clears the activation flags itself.
func (s *State) runBatch(ctx context.Context, done chan<- struct{}, rcv *audio.Receiver, seg *vad.Segmenter, rec speech.Recognizer, typer output.Typer, cfg *config.Config) {
	defer close(done)

	var wg sync.WaitGroup
	defer wg.Wait()

	s.deps.Log.Debug("batch loop started",
		"min_silence", cfg.VAD.MinSilence(),
		"transcribe_timeout", cfg.Whisper.TranscribeTimeout(),
	)

	for {
		chunk, err := rcv.Recv(ctx)
		if err != nil {
			var lag *audio.LagError
			switch {
			case errors.As(err, &lag):
				s.deps.Log.Warn("audio receiver lagged", "dropped", lag.Dropped, "mode", modeBatch)
				s.deps.Metrics.DroppedChunks.Add(ctx, int64(lag.Dropped))
				continue
			case errors.Is(err, audio.ErrClosed):
				s.deps.Log.Info("audio stream closed, batch loop exiting")
				s.active.Store(false)
				if s.processing.Swap(false) {
					s.deps.Metrics.ActivePipelines.Add(ctx, -1)
				}
				return
			default:
				// Context cancelled by pause or stop.
				return
			}
		}

		segment := seg.Feed(chunk)
		if segment == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.processSegment(ctx, segment, rec, typer, cfg)
		}()
	}
}

// processSegment runs one segment through recognition, normalization, and
// keystroke injection.
func (s *State) processSegment(ctx context.Context, segment []float32, rec speech.Recognizer, typer output.Typer, cfg *config.Config) {
	ctx, span := observe.StartSpan(ctx, "segment.process")
	defer span.End()
	span.SetAttributes(observe.Attr("mode", modeBatch))

	audioLen := time.Duration(len(segment)) * time.Second / time.Duration(cfg.Audio.SampleRate)
	samples := audio.Resample(segment, cfg.Audio.SampleRate, whisperSampleRate)

	start := time.Now()
	text, err := transcribeWithTimeout(ctx, rec, samples, cfg.Whisper.TranscribeTimeout())
	s.deps.Metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("mode", modeBatch)))

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.deps.Log.Warn("transcription timed out, dropping segment",
			"timeout", cfg.Whisper.TranscribeTimeout(), "audio", audioLen)
		s.deps.Metrics.RecordSegment(ctx, modeBatch, "timeout")
		return
	case err != nil:
		if ctx.Err() != nil {
			// The pipeline is shutting down; the segment is abandoned,
			// not failed.
			return
		}
		s.deps.Log.Error("transcription failed", "error", err, "audio", audioLen)
		s.deps.Metrics.RecordSegment(ctx, modeBatch, "error")
		return
	}

	s.typeText(ctx, typer, text, modeBatch, audioLen, cfg)
}

// typeText normalizes raw recognizer output and injects it into the focused
// window under the configured injection deadline. Shared by the batch and
// streaming loops.
func (s *State) typeText(ctx context.Context, typer output.Typer, raw, mode string, audioLen time.Duration, cfg *config.Config) {
	text := transcript.Normalize(raw)
	if text == "" {
		s.deps.Log.Debug("segment produced no text", "mode", mode)
		s.deps.Metrics.RecordSegment(ctx, mode, "empty")
		return
	}

	tctx, cancel := context.WithTimeout(ctx, cfg.Output.TypeTimeout())
	defer cancel()

	start := time.Now()
	err := typer.Type(tctx, text)
	s.deps.Metrics.InjectionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.deps.Log.Error("keystroke injection failed", "error", err, "chars", len(text))
		s.deps.Metrics.RecordSegment(ctx, mode, "error")
		return
	}

	s.deps.Log.Info("text injected", "mode", mode, "chars", len(text))
	s.deps.Metrics.InjectedChars.Add(ctx, int64(len(text)))
	s.deps.Metrics.RecordSegment(ctx, mode, "ok")
	s.deps.Notifier.Transcribed(text)

	if s.deps.History != nil {
		if _, err := s.deps.History.Append(text, mode, s.languageSnapshot(), audioLen); err != nil {
			s.deps.Log.Warn("history append failed", "error", err)
		}
	}
}

type transcribeResult struct {
	text string
	err  error
}

// transcribeWithTimeout runs rec.Transcribe under its own deadline.
// Inference inside the model cannot be interrupted, so on timeout the
// goroutine is abandoned and its eventual result discarded; the buffered
// channel lets it finish without a reader.
func transcribeWithTimeout(ctx context.Context, rec speech.Recognizer, samples []float32, timeout time.Duration) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan transcribeResult, 1)
	go func() {
		text, err := rec.Transcribe(tctx, samples)
		ch <- transcribeResult{text: text, err: err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-tctx.Done():
		return "", tctx.Err()
	}
}
