// Package analysis computes perceptual features (energy, spectrum, beats)
// from windows of captured audio.
package analysis

import "time"

// FeatureFrame is one immutable snapshot of the analysis output, created once
// per analysis cycle and published to consumers. It is never mutated after
// publication; the next frame supersedes it.
type FeatureFrame struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// Energy is the mean of squared samples over the raw (unwindowed)
	// analysis window. Mean-square, not RMS: the beat detector's threshold
	// scaling assumes this convention.
	Energy float64 `json:"energy"`

	// Spectrum holds windowSize/2+1 magnitude bins up to Nyquist,
	// normalized by window length. All bins are non-negative.
	Spectrum []float64 `json:"spectrum"`

	Beat bool `json:"beat"`

	// Activation is a continuous [0,1] intensity relative to the adaptive
	// baseline, for driving visuals smoothly between beats.
	Activation float64 `json:"activation"`
}
