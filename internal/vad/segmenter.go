package vad

import (
	"fmt"
	"log/slog"
	"time"
)

// speechState is the segmenter's position in the utterance lifecycle.
type speechState int

const (
	// stateIdle means no speech is buffered and the stream is silent.
	stateIdle speechState = iota
	// stateSpeaking means an utterance is open and still being captured.
	stateSpeaking
	// stateSilence means the stream went quiet mid-utterance and the
	// segmenter is waiting for the silence to persist before closing it.
	stateSilence
)

func (s speechState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSpeaking:
		return "speaking"
	case stateSilence:
		return "silence"
	default:
		return fmt.Sprintf("speechState(%d)", int(s))
	}
}

// SegmenterConfig holds the tuning parameters for a [Segmenter].
type SegmenterConfig struct {
	// Thresholds are the hysteresis levels for the underlying detector.
	Thresholds Thresholds

	// MinSilence is how long the stream must stay quiet before an open
	// segment is considered finished. Shorter gaps are treated as pauses
	// within the same utterance.
	MinSilence time.Duration

	// Gain is multiplied into every sample of an emitted segment. It is
	// applied only at emission so amplification cannot distort the
	// detector's own judgement. 1.0 leaves samples untouched.
	Gain float32

	// SampleRate is used to report segment durations. Hz.
	SampleRate int
}

// Segmenter turns a stream of audio chunks into discrete speech segments.
//
// It is a three-state machine driven once per arriving chunk: silence while
// idle is discarded, speech opens a segment, and a segment closes only after
// the stream has been quiet for MinSilence. Speech that resumes before the
// silence is confirmed is a false alarm: the pending silence mark is cleared
// and the same segment keeps growing, so natural mid-sentence pauses do not
// fragment one utterance into several recognition calls.
//
// A Segmenter is not safe for concurrent use; it belongs to the single
// processing loop that owns the audio receiver.
type Segmenter struct {
	det *Detector
	cfg SegmenterConfig
	log *slog.Logger

	state        speechState
	buf          []float32
	speechStart  time.Time
	silenceStart time.Time
}

// NewSegmenter validates cfg and returns an idle Segmenter.
func NewSegmenter(cfg SegmenterConfig, log *slog.Logger) (*Segmenter, error) {
	det, err := NewDetector(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	if cfg.MinSilence <= 0 {
		return nil, fmt.Errorf("vad: min silence must be positive, got %v", cfg.MinSilence)
	}
	if cfg.Gain <= 0 {
		return nil, fmt.Errorf("vad: gain must be positive, got %v", cfg.Gain)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if log == nil {
		log = slog.Default()
	}
	log.Debug("segmenter initialized",
		"threshold_start", cfg.Thresholds.Start,
		"threshold_stop", cfg.Thresholds.Stop,
		"min_silence", cfg.MinSilence,
		"gain", cfg.Gain,
	)
	return &Segmenter{det: det, cfg: cfg, log: log, state: stateIdle}, nil
}

// Feed advances the state machine with one chunk. It returns a completed,
// gain-adjusted segment when the chunk confirms the end of an utterance and
// nil otherwise. The returned slice is owned by the caller; the segmenter
// retains no reference to it.
func (s *Segmenter) Feed(chunk []float32) []float32 {
	level := s.det.Level(chunk)
	isSpeech := s.det.Classify(level, s.state == stateSpeaking)

	switch s.state {
	case stateIdle:
		if isSpeech {
			s.state = stateSpeaking
			s.speechStart = time.Now()
			s.silenceStart = time.Time{}
			s.buf = append(s.buf, chunk...)
			s.log.Debug("speech started", "level", level, "buffered", len(s.buf))
		}

	case stateSpeaking:
		s.buf = append(s.buf, chunk...)
		if !isSpeech {
			s.state = stateSilence
			s.silenceStart = time.Now()
			s.log.Debug("silence pending", "confirm_after", s.cfg.MinSilence)
		}

	case stateSilence:
		s.buf = append(s.buf, chunk...)
		if isSpeech {
			// False alarm: the pause ended before MinSilence elapsed, so
			// the open segment keeps growing.
			s.state = stateSpeaking
			s.silenceStart = time.Time{}
			s.log.Debug("silence was a false alarm", "buffered", len(s.buf))
		} else if time.Since(s.silenceStart) >= s.cfg.MinSilence {
			segment := s.buf
			elapsed := time.Since(s.speechStart)
			s.buf = nil
			s.state = stateIdle
			s.speechStart = time.Time{}
			s.silenceStart = time.Time{}
			for i := range segment {
				segment[i] *= s.cfg.Gain
			}
			s.log.Debug("segment complete",
				"audio", s.segmentDuration(len(segment)),
				"elapsed", elapsed,
				"samples", len(segment),
			)
			return segment
		}
	}
	return nil
}

// segmentDuration converts a sample count to wall duration at the
// configured rate.
func (s *Segmenter) segmentDuration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate)
}
