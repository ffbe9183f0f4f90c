package analysis

import (
	"math"
	"time"
)

// DetectorState is the beat detector's trigger state.
type DetectorState int

const (
	// Idle means a beat may trigger on the next qualifying window.
	Idle DetectorState = iota
	// Cooldown suppresses re-triggering for the refractory period after a
	// beat, so one transient cannot fire multiple events.
	Cooldown
)

// Detector is an adaptive-threshold beat classifier. It keeps an
// exponentially weighted running average of energy; a window whose energy
// exceeds that average by the configured multiplier (and an absolute floor)
// is a beat. The time constant of the average is long (~1s) so it tracks
// loudness trends while individual windows track transients.
//
// Detector state is owned by the analysis goroutine and never shared; only
// its outputs cross thread boundaries inside FeatureFrames.
type Detector struct {
	multiplier float64
	minEnergy  float64
	refractory time.Duration
	alpha      float64

	state    DetectorState
	avg      float64
	primed   bool
	lastBeat time.Time
}

// NewDetector creates a Detector.
//
// interval is the analysis cadence and timeConstant the desired averaging
// horizon; the EWMA coefficient follows as 1-exp(-interval/timeConstant)
// (~0.023 per cycle for 23ms windows and a 1s constant).
func NewDetector(multiplier, minEnergy float64, refractory, timeConstant, interval time.Duration) *Detector {
	alpha := 1.0
	if timeConstant > 0 {
		alpha = 1 - math.Exp(-float64(interval)/float64(timeConstant))
	}
	return &Detector{
		multiplier: multiplier,
		minEnergy:  minEnergy,
		refractory: refractory,
		alpha:      alpha,
		state:      Idle,
	}
}

// Update feeds one window's energy into the detector and returns whether a
// beat triggered plus the continuous activation level.
//
// The comparison uses the average from before this window is folded in, so a
// constant-energy stream can never exceed its own average. The first window
// seeds the average directly: nothing can trigger on the very first cycle,
// and silence converges to zero rather than creeping up from it.
func (d *Detector) Update(energy float64, now time.Time) (beat bool, activation float64) {
	if !d.primed {
		d.avg = energy
		d.primed = true
		return false, d.activation(energy)
	}

	if d.state == Cooldown && now.Sub(d.lastBeat) >= d.refractory {
		d.state = Idle
	}

	if d.state == Idle &&
		energy > d.avg*d.multiplier &&
		energy > d.minEnergy &&
		(d.lastBeat.IsZero() || now.Sub(d.lastBeat) > d.refractory) {
		beat = true
		d.lastBeat = now
		d.state = Cooldown
	}

	activation = d.activation(energy)

	// Fold the window in after the comparison.
	d.avg += d.alpha * (energy - d.avg)

	return beat, activation
}

// activation maps energy to [0,1] relative to the trigger threshold. The
// denominator is floored at minEnergy so near-silence maps to small values
// instead of dividing by zero; the mapping is continuous across the beat
// boundary because it does not depend on the trigger state.
func (d *Detector) activation(energy float64) float64 {
	denom := math.Max(d.avg, d.minEnergy) * d.multiplier
	if denom <= 0 {
		return 0
	}
	a := energy / denom
	if a < 0 {
		return 0
	}
	if a > 1 {
		return 1
	}
	return a
}

// Average returns the current running-average energy.
func (d *Detector) Average() float64 { return d.avg }

// State returns the current trigger state.
func (d *Detector) State() DetectorState { return d.state }

// Alpha returns the EWMA coefficient in use.
func (d *Detector) Alpha() float64 { return d.alpha }
