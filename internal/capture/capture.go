// Package capture bridges one audio input to the sample ring.
//
// The live implementation wraps a PortAudio input stream whose callback
// downmixes interleaved frames to mono and pushes them into the ring with
// pre-allocated buffers only, no locks, no allocation on that path. Replay
// implementations feed WAV files or prepared sample slices through the same
// interface so the rest of the pipeline cannot tell the difference.
package capture

import "errors"

// Error taxonomy for opening a source.
var (
	// ErrDeviceUnavailable means the requested device cannot be opened at
	// all. Fatal to start; recoverable by retrying with another device.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrUnsupportedFormat means the device rejected the requested sample
	// rate or channel count. The opener falls back to the device's own
	// defaults once before giving up.
	ErrUnsupportedFormat = errors.New("capture: unsupported format")
)

// Source delivers fixed-size mono sample blocks into the ring on its own
// execution context.
type Source interface {
	// Start begins block delivery.
	Start() error

	// Stop quiesces delivery: once it returns, no push is in flight and
	// none will follow, so ring teardown is safe.
	Stop() error

	// Close releases the underlying device or file.
	Close() error

	// Status reports asynchronous capture failures (device loss, replay
	// read errors). Errors are delivered here instead of being thrown
	// across the real-time callback boundary. The channel is closed when
	// the source finishes on its own.
	Status() <-chan error

	// SampleRate returns the actual rate the source delivers at, which may
	// differ from the requested rate after a format fallback.
	SampleRate() float64
}
