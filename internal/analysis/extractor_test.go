package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseviz/pkg/sig"
)

const (
	testWindowSize = 1024
	testSampleRate = 44100.0
)

func TestNewExtractorRejectsBadParams(t *testing.T) {
	_, err := NewExtractor(1000, testSampleRate)
	assert.Error(t, err, "non power-of-2 window")

	_, err = NewExtractor(testWindowSize, 0)
	assert.Error(t, err, "zero sample rate")

	_, err = NewExtractor(testWindowSize, -44100)
	assert.Error(t, err, "negative sample rate")
}

func TestExtractSinePeakBin(t *testing.T) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	require.NoError(t, err)

	// Put the tone exactly on bin 40 so leakage is minimal.
	binFreq := 40 * testSampleRate / testWindowSize
	win := sig.Sine(testWindowSize, testSampleRate, binFreq, 0.8)

	_, spectrum, err := e.Extract(win)
	require.NoError(t, err)
	require.Len(t, spectrum, testWindowSize/2+1)

	peak := sig.FindPeakBin(spectrum, 1, len(spectrum)-1)
	assert.InDelta(t, 40, peak, 1, "dominant peak within one bin of the tone")
}

func TestExtractOffBinSinePeak(t *testing.T) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	require.NoError(t, err)

	// 1000Hz falls between bins; the peak must still land within one bin
	// of 1000/(sr/N) = 23.2.
	win := sig.Sine(testWindowSize, testSampleRate, 1000, 0.8)

	_, spectrum, err := e.Extract(win)
	require.NoError(t, err)

	peak := sig.FindPeakBin(spectrum, 1, len(spectrum)-1)
	expected := 1000.0 / (testSampleRate / testWindowSize)
	assert.InDelta(t, expected, float64(peak), 1.0)
}

func TestExtractEnergyProportionalToAmplitudeSquared(t *testing.T) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	require.NoError(t, err)

	binFreq := 32 * testSampleRate / testWindowSize

	e1, _, err := e.Extract(sig.Sine(testWindowSize, testSampleRate, binFreq, 0.5))
	require.NoError(t, err)
	e2, _, err := e.Extract(sig.Sine(testWindowSize, testSampleRate, binFreq, 1.0))
	require.NoError(t, err)

	// Mean-square of a sine of amplitude A is A²/2.
	assert.InDelta(t, 0.125, e1, 0.001)
	assert.InDelta(t, 0.5, e2, 0.004)
	assert.InDelta(t, 4.0, e2/e1, 0.05, "doubling amplitude quadruples energy")
}

func TestExtractSilence(t *testing.T) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	require.NoError(t, err)

	energy, spectrum, err := e.Extract(sig.Silence(testWindowSize))
	require.NoError(t, err)

	assert.Zero(t, energy)
	for i, m := range spectrum {
		assert.Zero(t, m, "bin %d", i)
	}
}

func TestExtractSpectrumNonNegative(t *testing.T) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	require.NoError(t, err)

	_, spectrum, err := e.Extract(sig.Harmonics(testWindowSize, testSampleRate))
	require.NoError(t, err)

	for i, m := range spectrum {
		if m < 0 || math.IsNaN(m) {
			t.Fatalf("bin %d is %v, want non-negative", i, m)
		}
	}
}

func TestExtractWindowLengthMismatch(t *testing.T) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	require.NoError(t, err)

	_, _, err = e.Extract(make([]float64, testWindowSize/2))
	assert.Error(t, err)
}

func TestExtractReturnsFreshSpectrum(t *testing.T) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	require.NoError(t, err)

	win := sig.Harmonics(testWindowSize, testSampleRate)
	_, s1, err := e.Extract(win)
	require.NoError(t, err)
	_, s2, err := e.Extract(win)
	require.NoError(t, err)

	// Published frames are immutable, so each cycle gets its own slice.
	require.NotSame(t, &s1[0], &s2[0])
	assert.Equal(t, s1, s2, "same input, same output")
}

func TestFrequencyForBin(t *testing.T) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	require.NoError(t, err)

	res := testSampleRate / testWindowSize
	assert.Zero(t, e.FrequencyForBin(0))
	assert.InDelta(t, res, e.FrequencyForBin(1), 1e-9)
	assert.InDelta(t, testSampleRate/2, e.FrequencyForBin(testWindowSize/2), 1e-9)
	assert.Zero(t, e.FrequencyForBin(-1))
	assert.Zero(t, e.FrequencyForBin(e.BinCount()))
}

func BenchmarkExtract(b *testing.B) {
	e, err := NewExtractor(testWindowSize, testSampleRate)
	if err != nil {
		b.Fatal(err)
	}
	win := sig.Harmonics(testWindowSize, testSampleRate)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _, _ = e.Extract(win)
	}
}
