package pipeline

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseviz/internal/buffer"
	"pulseviz/internal/bus"
	"pulseviz/internal/capture"
	"pulseviz/internal/config"
)

const (
	testSampleRate = 44100.0
	testBlockSize  = 1024
	testWindowSize = 1024
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = testSampleRate
	cfg.Audio.BlockSize = testBlockSize
	cfg.Audio.WindowSize = testWindowSize
	// Accelerated replay must not lose samples, so the source waits for the
	// analysis goroutine instead of overwriting.
	cfg.Audio.OverflowPolicy = config.BlockProducer
	return cfg
}

func replayFactory(samples []float64) SourceFactory {
	return func(cfg *config.Config, ring *buffer.Ring) (capture.Source, error) {
		return capture.NewSliceSource(samples, cfg.Audio.BlockSize, cfg.Audio.SampleRate, false, ring), nil
	}
}

// silenceThenBurst builds n windows of silence followed by burstWindows of a
// constant 0.5 signal (mean-square energy 0.25).
func silenceThenBurst(n, burstWindows int) []float64 {
	samples := make([]float64, (n+burstWindows)*testWindowSize)
	for i := n * testWindowSize; i < len(samples); i++ {
		samples[i] = 0.5
	}
	return samples
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.WindowSize = 0

	c := New(cfg)
	err := c.Start()
	require.Error(t, err)

	var cfgErr *config.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestStartTwiceFails(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, WithSourceFactory(replayFactory(silenceThenBurst(4, 0))))
	require.NoError(t, c.Start())
	defer c.Stop()

	assert.Error(t, c.Start())
}

func TestSilenceThenBurstProducesExactlyOneBeat(t *testing.T) {
	cfg := testConfig()
	// A long refractory pins the detector after the burst so re-reads of the
	// final window cannot retrigger before the test stops the pipeline.
	cfg.Analysis.RefractoryMs = 5000

	samples := silenceThenBurst(24, 2)
	c := New(cfg, WithSourceFactory(replayFactory(samples)))
	require.NoError(t, c.Start())
	defer c.Stop()

	var (
		beats    int
		lastSeq  uint64
		burstSeq uint64
	)
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for burst to be analyzed")
		case <-ticker.C:
			frame, err := c.Latest()
			if err != nil {
				continue
			}
			if frame.Seq == lastSeq {
				continue
			}
			lastSeq = frame.Seq

			if frame.Energy > cfg.Analysis.MinEnergy {
				if burstSeq == 0 {
					burstSeq = frame.Seq
				}
			} else {
				assert.False(t, frame.Beat, "silence must never register a beat")
			}
			if frame.Beat {
				beats++
			}
			// Two extra frames after the burst confirm the refractory holds.
			if burstSeq != 0 && frame.Seq >= burstSeq+2 {
				break poll
			}
		}
	}

	assert.Equal(t, 1, beats)
	assert.Zero(t, c.DroppedSamples())
	assert.NoError(t, c.Err())
}

func TestLatestBeforeFirstWindow(t *testing.T) {
	cfg := testConfig()
	// An empty source never fills a window, so no frame is ever published.
	c := New(cfg, WithSourceFactory(replayFactory(nil)))
	require.NoError(t, c.Start())
	defer c.Stop()

	time.Sleep(3 * cfg.AnalysisInterval())

	_, err := c.Latest()
	assert.ErrorIs(t, err, bus.ErrNoFrameYet)
}

func TestStopQuiesces(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, WithSourceFactory(replayFactory(silenceThenBurst(200, 0))))
	require.NoError(t, c.Start())

	time.Sleep(2 * cfg.AnalysisInterval())
	require.NoError(t, c.Stop())

	before, _ := c.Latest()
	time.Sleep(3 * cfg.AnalysisInterval())
	after, _ := c.Latest()
	assert.Same(t, before, after, "no frame may be published after Stop")

	// Stop is idempotent.
	assert.NoError(t, c.Stop())
}

// erroringSource reports a capture failure shortly after starting.
type erroringSource struct {
	status chan error
}

func newErroringSource() *erroringSource {
	return &erroringSource{status: make(chan error, 1)}
}

func (s *erroringSource) Start() error {
	s.status <- errors.New("stream died")
	return nil
}

func (s *erroringSource) Stop() error          { return nil }
func (s *erroringSource) Close() error         { return nil }
func (s *erroringSource) Status() <-chan error { return s.status }
func (s *erroringSource) SampleRate() float64  { return testSampleRate }

// trackedSource records lifecycle calls so tests can assert a source was
// quiesced.
type trackedSource struct {
	status  chan error
	started atomic.Bool
	stopped atomic.Bool
}

func newTrackedSource() *trackedSource {
	return &trackedSource{status: make(chan error, 1)}
}

func (s *trackedSource) Start() error {
	s.started.Store(true)
	return nil
}

func (s *trackedSource) Stop() error {
	s.stopped.Store(true)
	return nil
}

func (s *trackedSource) Close() error {
	s.stopped.Store(true)
	return nil
}

func (s *trackedSource) Status() <-chan error { return s.status }
func (s *trackedSource) SampleRate() float64  { return testSampleRate }

// TestStopDuringReopenLeavesNoLiveSource pins Stop against a reopen that is
// in flight: the factory for the replacement source blocks until Stop has
// snapshotted the failed one, so the replacement is swapped in after the
// snapshot. Stop must still quiesce it before returning.
func TestStopDuringReopenLeavesNoLiveSource(t *testing.T) {
	cfg := testConfig()
	gate := make(chan struct{})
	tracked := newTrackedSource()

	var calls atomic.Int32
	factory := func(cfg *config.Config, ring *buffer.Ring) (capture.Source, error) {
		if calls.Add(1) == 1 {
			return newErroringSource(), nil
		}
		<-gate
		return tracked, nil
	}

	c := New(cfg, WithSourceFactory(factory))
	require.NoError(t, c.Start())

	// The monitor is now blocked inside the factory.
	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 5*time.Second, time.Millisecond)

	stopDone := make(chan error, 1)
	go func() { stopDone <- c.Stop() }()

	// Let Stop snapshot the failed source and park in wg.Wait, then release
	// the replacement.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	select {
	case err := <-stopDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if tracked.started.Load() {
		assert.True(t, tracked.stopped.Load(),
			"a source started during reopen must be quiesced by Stop")
	} else {
		assert.True(t, tracked.stopped.Load(),
			"a source created during reopen must at least be closed")
	}
}

func TestCaptureErrorTriggersSingleReopen(t *testing.T) {
	cfg := testConfig()
	samples := silenceThenBurst(8, 0)

	var calls atomic.Int32
	factory := func(cfg *config.Config, ring *buffer.Ring) (capture.Source, error) {
		if calls.Add(1) == 1 {
			return newErroringSource(), nil
		}
		return capture.NewSliceSource(samples, cfg.Audio.BlockSize, cfg.Audio.SampleRate, false, ring), nil
	}

	c := New(cfg, WithSourceFactory(factory))
	require.NoError(t, c.Start())
	defer c.Stop()

	require.Eventually(t, func() bool {
		_, err := c.Latest()
		return err == nil
	}, 5*time.Second, time.Millisecond, "frames should flow from the reopened source")

	assert.Equal(t, int32(2), calls.Load())
	assert.NoError(t, c.Err())
}

func TestFailedReopenSurfacesError(t *testing.T) {
	cfg := testConfig()

	var calls atomic.Int32
	factory := func(cfg *config.Config, ring *buffer.Ring) (capture.Source, error) {
		if calls.Add(1) == 1 {
			return newErroringSource(), nil
		}
		return nil, capture.ErrDeviceUnavailable
	}

	c := New(cfg, WithSourceFactory(factory))
	require.NoError(t, c.Start())
	defer c.Stop()

	require.Eventually(t, func() bool {
		return c.Err() != nil
	}, 5*time.Second, time.Millisecond)

	assert.ErrorIs(t, c.Err(), capture.ErrDeviceUnavailable)
}
