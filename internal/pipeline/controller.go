// Package pipeline owns the capture → extract → detect → publish lifecycle.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"pulseviz/internal/analysis"
	"pulseviz/internal/buffer"
	"pulseviz/internal/bus"
	"pulseviz/internal/capture"
	"pulseviz/internal/config"
	applog "pulseviz/internal/log"
	"pulseviz/internal/record"
	"pulseviz/internal/transport"
)

// SourceFactory builds the capture source for a pipeline run. Tests inject
// replay or fake sources here; the default opens a live device, or a WAV
// replay when the config names one.
type SourceFactory func(cfg *config.Config, ring *buffer.Ring) (capture.Source, error)

// Option configures a Controller.
type Option func(*Controller)

// WithSourceFactory overrides how the capture source is built.
func WithSourceFactory(f SourceFactory) Option {
	return func(c *Controller) { c.sourceFactory = f }
}

// WithTransport adds a push transport that receives every published frame.
// The controller closes it on Stop.
func WithTransport(t transport.Transport) Option {
	return func(c *Controller) { c.transports = append(c.transports, t) }
}

// Controller wires the pipeline together and owns its two execution
// contexts: the capture callback (owned by the source) and the analysis
// goroutine (owned here). There is exactly one Controller per pipeline; no
// process-wide singleton.
//
// Reconfiguration is modeled as Stop then Start, never in-place mutation of
// a running pipeline.
type Controller struct {
	cfg           *config.Config
	sourceFactory SourceFactory
	transports    []transport.Transport

	mu      sync.Mutex // guards lifecycle state
	running bool

	ring       *buffer.Ring
	source     capture.Source
	extractor  *analysis.Extractor
	detector   *analysis.Detector
	featureBus *bus.Bus
	recorder   *record.Recorder

	done chan struct{}
	wg   sync.WaitGroup

	errMu   sync.Mutex
	lastErr error
}

// New creates a Controller for the given configuration. Nothing runs until
// Start.
func New(cfg *config.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:           cfg,
		sourceFactory: defaultSourceFactory,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultSourceFactory(cfg *config.Config, ring *buffer.Ring) (capture.Source, error) {
	if cfg.Audio.ReplayFile != "" {
		return capture.NewWAVSource(cfg.Audio.ReplayFile, cfg.Audio.BlockSize, true, ring)
	}
	return capture.OpenDevice(capture.DeviceParams{
		DeviceID:   cfg.Audio.Device,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BlockSize:  cfg.Audio.BlockSize,
		LowLatency: cfg.Audio.LowLatency,
	}, ring)
}

// Start validates the configuration, opens the source, and spins up the
// analysis goroutine. Invalid configurations are rejected with a
// *config.ConfigError before any goroutine exists.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("pipeline already running")
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	ringPolicy := buffer.DropOldest
	if c.cfg.Audio.OverflowPolicy == config.BlockProducer {
		ringPolicy = buffer.Block
	}
	c.ring = buffer.New(c.cfg.RingCapacity(), ringPolicy)

	source, err := c.sourceFactory(c.cfg, c.ring)
	if err != nil {
		return err
	}
	c.source = source

	// The source may have fallen back to a different rate than requested;
	// analysis follows the actual rate.
	sampleRate := source.SampleRate()
	interval := time.Duration(float64(c.cfg.Audio.WindowSize) / sampleRate * float64(time.Second))

	c.extractor, err = analysis.NewExtractor(c.cfg.Audio.WindowSize, sampleRate)
	if err != nil {
		source.Close()
		return err
	}
	c.detector = analysis.NewDetector(
		c.cfg.Analysis.BeatMultiplier,
		c.cfg.Analysis.MinEnergy,
		c.cfg.Refractory(),
		c.cfg.AvgTimeConstant(),
		interval,
	)
	c.featureBus = bus.New()

	if c.cfg.Recording.Enabled {
		rec, err := record.NewRecorder(sampleRate, c.cfg.Recording.BitDepth)
		if err != nil {
			source.Close()
			return err
		}
		if err := rec.Start(c.cfg.Recording.OutputFile); err != nil {
			source.Close()
			return err
		}
		c.recorder = rec
	}

	if err := source.Start(); err != nil {
		source.Close()
		if c.recorder != nil {
			c.recorder.Stop()
			c.recorder = nil
		}
		c.source = nil
		return err
	}

	c.done = make(chan struct{})
	c.wg.Add(2)
	go c.analysisLoop(interval)
	go c.monitorSource(source)

	c.running = true
	c.setErr(nil)
	applog.Infof("pipeline: started (%.0f Hz, window %d, interval %s)",
		sampleRate, c.cfg.Audio.WindowSize, interval)
	return nil
}

// analysisLoop is the analysis execution context: on each tick it pulls the
// newest window, computes features, runs beat detection, and publishes the
// frame. It holds no lock the capture callback could ever wait on.
func (c *Controller) analysisLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	window := make([]float64, c.cfg.Audio.WindowSize)

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		if err := c.ring.ReadLatest(window); err != nil {
			// Startup: the ring has not filled one window yet. No frame is
			// published; consumers see ErrNoFrameYet and tolerate the gap.
			continue
		}

		energy, spectrum, err := c.extractor.Extract(window)
		if err != nil {
			// Analysis failures must never reach the capture context.
			applog.Errorf("pipeline: extraction failed: %v", err)
			continue
		}

		now := time.Now()
		beat, activation := c.detector.Update(energy, now)

		frame := &analysis.FeatureFrame{
			Timestamp:  now,
			Energy:     energy,
			Spectrum:   spectrum,
			Beat:       beat,
			Activation: activation,
		}
		c.featureBus.Publish(frame)

		if c.recorder != nil {
			if err := c.recorder.Write(window); err != nil {
				applog.Errorf("pipeline: recording failed: %v", err)
			}
		}
		for _, t := range c.transports {
			if err := t.Send(frame); err != nil {
				applog.Warnf("pipeline: transport send failed: %v", err)
			}
		}
	}
}

// monitorSource watches the capture status channel. A capture error triggers
// one automatic reopen attempt; if that fails, the error becomes terminal
// and is reported via Err. A closed channel means the source finished on its
// own (replay exhausted).
func (c *Controller) monitorSource(source capture.Source) {
	defer c.wg.Done()

	status := source.Status()
	for {
		select {
		case <-c.done:
			return
		case err, ok := <-status:
			if !ok {
				applog.Debugf("pipeline: capture source finished")
				return
			}
			if err == nil {
				continue
			}
			applog.Warnf("pipeline: capture error: %v, attempting reopen", err)

			source.Close()
			reopened, rerr := c.sourceFactory(c.cfg, c.ring)
			if rerr != nil {
				c.setErr(fmt.Errorf("capture failed and reopen failed: %w", rerr))
				applog.Errorf("pipeline: %v", rerr)
				return
			}

			// Stop may have been called while the factory ran; starting
			// the replacement now would leave a live capture context
			// behind after Stop returns.
			select {
			case <-c.done:
				reopened.Close()
				return
			default:
			}

			if rerr := reopened.Start(); rerr != nil {
				reopened.Close()
				c.setErr(fmt.Errorf("capture failed and restart failed: %w", rerr))
				return
			}

			c.mu.Lock()
			c.source = reopened
			c.mu.Unlock()
			source = reopened
			status = reopened.Status()
			applog.Infof("pipeline: capture source reopened")
		}
	}
}

// Stop quiesces the capture context first (no push in flight once the source
// is stopped), then the analysis goroutine, then finalizes the recorder and
// transports. Safe to call more than once.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	source := c.source
	c.mu.Unlock()

	var firstErr error
	if source != nil {
		if err := source.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := source.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	close(c.done)
	c.wg.Wait()

	// The monitor may have swapped in a reopened source after the snapshot
	// above. It is final once wg.Wait returns; quiesce it too.
	c.mu.Lock()
	reopened := c.source
	c.mu.Unlock()
	if reopened != nil && reopened != source {
		if err := reopened.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := reopened.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()

	applog.Infof("pipeline: stopped")
	return firstErr
}

func (c *Controller) teardownLocked() {
	if c.recorder != nil {
		if err := c.recorder.Stop(); err != nil {
			applog.Errorf("pipeline: failed to finalize recording: %v", err)
		}
		c.recorder = nil
	}
	for _, t := range c.transports {
		if err := t.Close(); err != nil {
			applog.Warnf("pipeline: transport close failed: %v", err)
		}
	}
	c.source = nil
}

// Latest returns the most recent feature frame, or bus.ErrNoFrameYet before
// the first publish.
func (c *Controller) Latest() (*analysis.FeatureFrame, error) {
	c.mu.Lock()
	b := c.featureBus
	c.mu.Unlock()
	if b == nil {
		return nil, bus.ErrNoFrameYet
	}
	return b.Latest()
}

// Bus exposes the feature bus for pull-based consumers (UDP publisher, TUI).
func (c *Controller) Bus() *bus.Bus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.featureBus
}

// DroppedSamples reports how many captured samples were overwritten before
// analysis read them. Overload observability, not an error.
func (c *Controller) DroppedSamples() uint64 {
	c.mu.Lock()
	r := c.ring
	c.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.Dropped()
}

// Err returns the terminal capture error, if any.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Controller) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}
