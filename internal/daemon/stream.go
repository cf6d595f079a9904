package daemon

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxdaemon/voxd/internal/config"
	"github.com/voxdaemon/voxd/internal/observe"
	"github.com/voxdaemon/voxd/pkg/audio"
	"github.com/voxdaemon/voxd/pkg/output"
	"github.com/voxdaemon/voxd/pkg/speech"
)

// runStreaming is the rolling-window processing loop. Every chunk goes
// straight into the streamer, which transcribes once a full window has
// accumulated and reports only text that differs from its previous
// emission. Recognition runs inline; while a pass is busy the receiver
// buffers arriving audio and sheds the oldest chunks if it falls behind.
//
// Exit conditions match runBatch: context cancellation leaves the flags to
// the caller, a closed audio stream clears them here.
func (s *State) runStreaming(ctx context.Context, done chan<- struct{}, rcv *audio.Receiver, str speech.Streamer, typer output.Typer, cfg *config.Config) {
	defer close(done)

	s.deps.Log.Debug("streaming loop started",
		"window", cfg.Streaming.Window(),
		"keep", cfg.Streaming.Keep(),
	)

	for {
		chunk, err := rcv.Recv(ctx)
		if err != nil {
			var lag *audio.LagError
			switch {
			case errors.As(err, &lag):
				s.deps.Log.Warn("audio receiver lagged", "dropped", lag.Dropped, "mode", modeStreaming)
				s.deps.Metrics.DroppedChunks.Add(ctx, int64(lag.Dropped))
				continue
			case errors.Is(err, audio.ErrClosed):
				s.deps.Log.Info("audio stream closed, streaming loop exiting")
				s.active.Store(false)
				if s.processing.Swap(false) {
					s.deps.Metrics.ActivePipelines.Add(ctx, -1)
				}
				return
			default:
				return
			}
		}

		samples := audio.Resample(chunk, cfg.Audio.SampleRate, whisperSampleRate)

		start := time.Now()
		text, err := str.SendAudio(ctx, samples)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.deps.Log.Error("streaming transcription failed", "error", err)
			s.deps.Metrics.RecordSegment(ctx, modeStreaming, "error")
			continue
		}
		if text == "" {
			continue
		}
		s.deps.Metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("mode", modeStreaming)))

		// Streaming emissions have no measured segment length; the history
		// row records zero rather than a guess.
		s.typeText(ctx, typer, text, modeStreaming, 0, cfg)
	}
}
