// Package sig generates deterministic test signals for the analysis pipeline.
package sig

import "math"

// Sine returns size samples of a pure sine wave at the given frequency and
// amplitude, sampled at sampleRate Hz.
func Sine(size int, sampleRate, frequency, amplitude float64) []float64 {
	buf := make([]float64, size)
	for i := range buf {
		t := float64(i) / sampleRate
		buf[i] = amplitude * math.Sin(2*math.Pi*frequency*t)
	}
	return buf
}

// Silence returns size zero samples.
func Silence(size int) []float64 {
	return make([]float64, size)
}

// Harmonics returns a 440Hz fundamental with two harmonics, useful for
// exercising the extractor with a signal that has realistic spectral spread.
func Harmonics(size int, sampleRate float64) []float64 {
	buf := make([]float64, size)
	for i := range buf {
		t := float64(i) / sampleRate
		buf[i] = math.Sin(2*math.Pi*440*t)*0.5 +
			math.Sin(2*math.Pi*880*t)*0.3 +
			math.Sin(2*math.Pi*1320*t)*0.2
	}
	return buf
}

// FindPeakBin returns the index of the largest magnitude in bins [startBin, endBin].
// Out-of-range bounds are clamped.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}
