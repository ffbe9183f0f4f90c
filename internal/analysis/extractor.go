package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"pulseviz/pkg/bitint"
)

// extractorWorkspace holds pre-allocated buffers for one extraction cycle.
type extractorWorkspace struct {
	input     []float64    // windowed input samples
	fftOutput []complex128 // FFT complex output
	coeffs    []float64    // Hann window coefficients
}

// Extractor computes the mean-square energy and magnitude spectrum of fixed
// length sample windows. It is owned and driven by a single goroutine; the
// workspace buffers are reused across cycles.
type Extractor struct {
	windowSize int
	sampleRate float64
	fft        *fourier.FFT
	workspace  extractorWorkspace
}

// NewExtractor creates an Extractor for the given window size and sample
// rate. The window size must be a power of 2 (FFT requirement) and the
// Hann coefficients are computed once up front.
func NewExtractor(windowSize int, sampleRate float64) (*Extractor, error) {
	if !bitint.IsPowerOfTwo(windowSize) {
		return nil, fmt.Errorf("window size must be a power of 2, got %d", windowSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	coeffs := make([]float64, windowSize)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	window.Hann(coeffs)

	binCount := windowSize/2 + 1

	return &Extractor{
		windowSize: windowSize,
		sampleRate: sampleRate,
		fft:        fourier.NewFFT(windowSize),
		workspace: extractorWorkspace{
			input:     make([]float64, windowSize),
			fftOutput: make([]complex128, binCount),
			coeffs:    coeffs,
		},
	}, nil
}

// Extract computes features for one window of len == WindowSize samples.
//
// Energy is the mean of squared raw samples, clamped to >= 0. The spectrum
// is the magnitude of the real FFT of the Hann-windowed samples, normalized
// by window length, windowSize/2+1 bins up to Nyquist. The returned spectrum
// is freshly allocated because frames are immutable once published.
func (e *Extractor) Extract(win []float64) (energy float64, spectrum []float64, err error) {
	if len(win) != e.windowSize {
		return 0, nil, fmt.Errorf("window length %d does not match extractor size %d", len(win), e.windowSize)
	}

	var sumSquares float64
	for i, s := range win {
		sumSquares += s * s
		e.workspace.input[i] = s * e.workspace.coeffs[i]
	}
	energy = sumSquares / float64(e.windowSize)
	if energy < 0 || math.IsNaN(energy) {
		energy = 0
	}

	e.fft.Coefficients(e.workspace.fftOutput, e.workspace.input)

	norm := 1.0 / float64(e.windowSize)
	spectrum = make([]float64, len(e.workspace.fftOutput))
	for i, c := range e.workspace.fftOutput {
		spectrum[i] = cmplx.Abs(c) * norm
	}

	return energy, spectrum, nil
}

// WindowSize returns the configured window length in samples.
func (e *Extractor) WindowSize() int { return e.windowSize }

// BinCount returns the number of spectrum bins produced per window.
func (e *Extractor) BinCount() int { return e.windowSize/2 + 1 }

// FrequencyForBin returns the center frequency (Hz) for a spectrum bin.
// Out-of-range indices return 0.
func (e *Extractor) FrequencyForBin(bin int) float64 {
	if bin < 0 || bin >= e.BinCount() {
		return 0
	}
	return float64(bin) * (e.sampleRate / float64(e.windowSize))
}
