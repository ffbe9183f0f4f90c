// Package record writes the captured mono stream to a WAV file. It is a
// downstream consumer: it is fed from the analysis side and never touches
// the capture callback.
package record

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "pulseviz/internal/log"
)

// Recorder encodes mono float64 samples to a WAV file. Start/Stop are safe
// to call from a control goroutine while Write runs on the analysis
// goroutine; the recording flag is atomic and the encoder is mutex-guarded.
type Recorder struct {
	sampleRate int
	bitDepth   int
	scale      float64

	recording atomic.Bool
	mu        sync.Mutex
	file      *os.File
	enc       *wav.Encoder
	buf       *audio.IntBuffer
}

// NewRecorder creates a Recorder for the given format. Supported bit depths
// are 16, 24 and 32.
func NewRecorder(sampleRate float64, bitDepth int) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	return &Recorder{
		sampleRate: int(sampleRate),
		bitDepth:   bitDepth,
		scale:      math.Pow(2, float64(bitDepth-1)) - 1,
	}, nil
}

// DefaultFilename returns a timestamped recording name.
func DefaultFilename() string {
	return "recording-" + time.Now().UTC().Format("02-01-2006-150405") + ".wav"
}

// Start opens the output file and begins accepting samples.
func (r *Recorder) Start(filename string) error {
	if r.recording.Load() {
		return fmt.Errorf("already recording")
	}
	if filename == "" {
		filename = DefaultFilename()
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create recording file: %w", err)
	}

	r.mu.Lock()
	r.file = file
	r.enc = wav.NewEncoder(file, r.sampleRate, r.bitDepth, 1, 1)
	r.buf = &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: r.sampleRate},
	}
	r.mu.Unlock()

	r.recording.Store(true)
	applog.Infof("record: writing to %s (%d Hz, %d-bit)", filename, r.sampleRate, r.bitDepth)
	return nil
}

// Write appends samples to the recording. Calls while not recording are
// cheap no-ops so the analysis loop can call it unconditionally.
func (r *Recorder) Write(samples []float64) error {
	if !r.recording.Load() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}

	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		r.buf.Data[i] = int(s * r.scale)
	}

	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	return nil
}

// Stop finalizes the WAV header and closes the file. Safe to call when not
// recording.
func (r *Recorder) Stop() error {
	if !r.recording.Swap(false) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enc != nil {
		if err := r.enc.Close(); err != nil {
			return fmt.Errorf("failed to finalize recording: %w", err)
		}
		r.enc = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close recording file: %w", err)
		}
		r.file = nil
	}
	return nil
}

// Recording reports whether samples are currently being written.
func (r *Recorder) Recording() bool { return r.recording.Load() }
