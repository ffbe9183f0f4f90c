package capture

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"pulseviz/internal/buffer"
	applog "pulseviz/internal/log"
)

// SliceSource replays an in-memory sample stream through the Source
// interface, block by block, optionally paced at real time. It lets tests
// and file replay drive the pipeline exactly like a live device.
type SliceSource struct {
	ring       *buffer.Ring
	samples    []float64
	blockSize  int
	sampleRate float64
	realtime   bool

	status    chan error
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewSliceSource creates a replay source over prepared mono samples. With
// realtime true, blocks are delivered at the cadence a device would produce
// them; otherwise as fast as the ring accepts them (pair with the block
// overflow policy to avoid losing samples).
func NewSliceSource(samples []float64, blockSize int, sampleRate float64, realtime bool, ring *buffer.Ring) *SliceSource {
	return &SliceSource{
		ring:       ring,
		samples:    samples,
		blockSize:  blockSize,
		sampleRate: sampleRate,
		realtime:   realtime,
		status:     make(chan error, 1),
		done:       make(chan struct{}),
	}
}

// NewWAVSource creates a replay source from a WAV file. Multi-channel files
// are downmixed to mono by averaging, matching the live capture path.
func NewWAVSource(path string, blockSize int, realtime bool, ring *buffer.Ring) (*SliceSource, error) {
	samples, sampleRate, err := LoadWAV(path)
	if err != nil {
		return nil, err
	}
	applog.Infof("capture: replaying %q (%.0f Hz, %d samples)", path, sampleRate, len(samples))
	return NewSliceSource(samples, blockSize, sampleRate, realtime, ring), nil
}

// Start launches the replay goroutine. The status channel is closed when the
// stream is exhausted.
func (s *SliceSource) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.closeStatus()

		var ticker *time.Ticker
		if s.realtime {
			interval := time.Duration(float64(s.blockSize) / s.sampleRate * float64(time.Second))
			ticker = time.NewTicker(interval)
			defer ticker.Stop()
		}

		for off := 0; off < len(s.samples); off += s.blockSize {
			select {
			case <-s.done:
				return
			default:
			}

			end := off + s.blockSize
			if end > len(s.samples) {
				end = len(s.samples)
			}
			s.ring.Push(s.samples[off:end])

			if ticker != nil {
				select {
				case <-ticker.C:
				case <-s.done:
					return
				}
			}
		}
	}()
	return nil
}

// Stop halts replay and waits for the delivery goroutine, so no push is in
// flight once it returns.
func (s *SliceSource) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

// Close is Stop; there is no underlying device to release.
func (s *SliceSource) Close() error { return s.Stop() }

// Status is closed when the stream is exhausted or stopped.
func (s *SliceSource) Status() <-chan error { return s.status }

// SampleRate returns the replayed stream's rate.
func (s *SliceSource) SampleRate() float64 { return s.sampleRate }

func (s *SliceSource) closeStatus() {
	s.closeOnce.Do(func() { close(s.status) })
}

// LoadWAV reads an entire WAV file into normalized mono float64 samples in
// [-1, 1] and returns them with the file's sample rate.
func LoadWAV(path string) ([]float64, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedFormat, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		return nil, 0, fmt.Errorf("%w: %s reports %d channels", ErrUnsupportedFormat, path, channels)
	}

	norm := 1.0 / math.Pow(2, float64(dec.BitDepth-1))
	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) * norm
	}

	return samples, float64(buf.Format.SampleRate), nil
}
