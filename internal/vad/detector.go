// Package vad implements voice activity detection and speech segmentation
// for the dictation pipeline.
//
// Detection is a two-threshold hysteresis classifier over per-chunk RMS
// levels: entering speech requires the level to reach the start threshold,
// while staying in speech only requires the lower stop threshold. The lower
// bar keeps a segment open through brief level dips so the signal hovering
// near a single threshold cannot flap the classifier.
//
// Segmentation is a three-state machine (idle, speaking, silence pending)
// that turns the continuous chunk stream into discrete speech segments
// bounded by confirmed silence. See [Segmenter].
package vad

import (
	"fmt"
	"math"
)

// Thresholds holds the hysteresis levels for a [Detector].
type Thresholds struct {
	// Start is the RMS level at or above which a non-speaking stream is
	// classified as speech. Range: (0.0, 1.0] for normalized float samples.
	Start float32

	// Stop is the RMS level at or above which an already-speaking stream
	// remains classified as speech. Must be ≤ Start.
	Stop float32
}

// Detector is a stateless audio-level classifier. The caller supplies the
// previous speaking state on each call; the detector itself carries no
// mutable state and is safe for concurrent use.
type Detector struct {
	thresholds Thresholds
}

// NewDetector validates the thresholds and returns a Detector.
func NewDetector(t Thresholds) (*Detector, error) {
	if t.Start <= 0 {
		return nil, fmt.Errorf("vad: start threshold must be positive, got %v", t.Start)
	}
	if t.Stop <= 0 {
		return nil, fmt.Errorf("vad: stop threshold must be positive, got %v", t.Stop)
	}
	if t.Stop > t.Start {
		return nil, fmt.Errorf("vad: stop threshold %v must be ≤ start threshold %v", t.Stop, t.Start)
	}
	return &Detector{thresholds: t}, nil
}

// Level computes the root-mean-square level of samples. An empty chunk
// yields 0. The result depends only on sample magnitudes, never on sign.
func (d *Detector) Level(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

// Classify reports whether level counts as speech. wasSpeaking selects the
// comparison arm: the start threshold when the stream was not speaking, the
// stop threshold when it was. Both comparisons are inclusive.
func (d *Detector) Classify(level float32, wasSpeaking bool) bool {
	if wasSpeaking {
		return level >= d.thresholds.Stop
	}
	return level >= d.thresholds.Start
}
