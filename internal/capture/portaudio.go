package capture

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gordonklaus/portaudio"

	"pulseviz/internal/buffer"
	applog "pulseviz/internal/log"
)

// DeviceSource captures from one PortAudio input device. The stream callback
// is the pipeline's real-time context: it downmixes to mono into a
// pre-allocated block and pushes to the ring, nothing else.
type DeviceSource struct {
	ring   *buffer.Ring
	stream *portaudio.Stream
	info   *portaudio.DeviceInfo

	sampleRate float64
	channels   int
	blockSize  int
	mono       []float64 // pre-allocated downmix target

	status chan error
}

// DeviceParams describe the requested capture format.
type DeviceParams struct {
	DeviceID   int // -1 for loopback auto-detect
	SampleRate float64
	Channels   int
	BlockSize  int
	LowLatency bool
}

// OpenDevice resolves and opens an input device. If the device rejects the
// requested format, it retries once with the device's own default sample
// rate and channel count before failing; the actual format is visible via
// SampleRate and Channels afterwards.
func OpenDevice(params DeviceParams, ring *buffer.Ring) (*DeviceSource, error) {
	info, err := inputDevice(params.DeviceID)
	if err != nil {
		return nil, err
	}

	channels := params.Channels
	if channels > info.MaxInputChannels {
		channels = info.MaxInputChannels
	}

	s := &DeviceSource{
		ring:      ring,
		info:      info,
		blockSize: params.BlockSize,
		mono:      make([]float64, params.BlockSize),
		status:    make(chan error, 4),
	}

	if err := s.open(params.SampleRate, channels, params.LowLatency); err != nil {
		// The configured format was rejected; fall back to what the device
		// declares it supports.
		applog.Warnf("capture: %v, retrying with device defaults (%.0f Hz)", err, info.DefaultSampleRate)

		fallbackChannels := channels
		if fallbackChannels > 2 || fallbackChannels < 1 {
			fallbackChannels = min(2, info.MaxInputChannels)
		}
		if err := s.open(info.DefaultSampleRate, fallbackChannels, params.LowLatency); err != nil {
			return nil, fmt.Errorf("%w: device %q rejected fallback format: %v", ErrDeviceUnavailable, info.Name, err)
		}
	}

	applog.Infof("capture: opened %q (%.0f Hz, %d ch, %d frames/block)",
		info.Name, s.sampleRate, s.channels, s.blockSize)
	return s, nil
}

func (s *DeviceSource) open(sampleRate float64, channels int, lowLatency bool) error {
	var latency time.Duration
	if lowLatency {
		latency = s.info.DefaultLowInputLatency
	} else {
		latency = s.info.DefaultHighInputLatency
	}

	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   s.info,
			Channels: channels,
			Latency:  latency,
		},
		FramesPerBuffer: s.blockSize,
		SampleRate:      sampleRate,
	}

	stream, err := portaudio.OpenStream(streamParams, s.processInput)
	if err != nil {
		return fmt.Errorf("%w: %.0f Hz / %d ch: %v", ErrUnsupportedFormat, sampleRate, channels, err)
	}

	s.stream = stream
	s.sampleRate = sampleRate
	s.channels = channels
	return nil
}

// processInput is the real-time capture callback.
//
// Performance Critical:
// - Runs on the audio subsystem's thread, locked for the duration.
// - Pre-allocated buffers only; Push is lock-free.
// Multi-channel input is downmixed by averaging; losing per-channel peaks
// is an accepted tradeoff.
func (s *DeviceSource) processInput(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ch := s.channels
	frames := len(in) / ch
	if frames > len(s.mono) {
		frames = len(s.mono)
	}

	if ch == 1 {
		for i := 0; i < frames; i++ {
			s.mono[i] = float64(in[i])
		}
	} else {
		scale := 1.0 / float64(ch)
		for i := 0; i < frames; i++ {
			var sum float64
			base := i * ch
			for c := 0; c < ch; c++ {
				sum += float64(in[base+c])
			}
			s.mono[i] = sum * scale
		}
	}

	s.ring.Push(s.mono[:frames])
}

// Start begins the PortAudio stream; the first callback marks the start of
// the hot path.
func (s *DeviceSource) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("%w: failed to start stream: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// Stop halts the stream. PortAudio guarantees the callback is not running
// and will not be invoked again once Stop returns.
func (s *DeviceSource) Stop() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

// Close releases the stream.
func (s *DeviceSource) Close() error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	close(s.status)
	if err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

// Status reports asynchronous device failures. PortAudio exposes no
// stream-loss callback, so a live source cannot populate this channel today;
// it exists so replay sources and future backends share one monitoring path.
func (s *DeviceSource) Status() <-chan error { return s.status }

// SampleRate returns the rate actually in use after any format fallback.
func (s *DeviceSource) SampleRate() float64 { return s.sampleRate }

// Channels returns the channel count actually in use.
func (s *DeviceSource) Channels() int { return s.channels }

// DeviceName returns the resolved device name.
func (s *DeviceSource) DeviceName() string { return s.info.Name }
