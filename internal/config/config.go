// Package config defines the runtime configuration for the audio pipeline
// and its consumers. Values come from built-in defaults, an optional YAML
// file, and PULSEVIZ_* environment overrides, in that order.
package config

import (
	"fmt"
	"time"

	"pulseviz/pkg/bitint"
)

// Defaults and limits for the pipeline configuration.
const (
	DefaultDeviceID   = -1 // -1 means auto-detect a loopback capable device
	DefaultSampleRate = 44100
	DefaultChannels   = 2
	DefaultBlockSize  = 1024
	DefaultWindowSize = 1024

	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MinWindowSize = 256    // Below this the spectrum is too coarse to drive visuals
	MaxBlockSize  = 8192   // Maximum frames per capture block

	DefaultBeatMultiplier    = 1.5  // Beat when energy exceeds avg by this factor
	DefaultMinEnergy         = 0.01 // Mean-square energy floor, keeps silence from triggering
	DefaultRefractoryMs      = 100  // Suppress re-triggering after a beat
	DefaultAvgTimeConstantMs = 1000 // Running-average time constant

	// MinRingHeadroom is the smallest allowed ratio of ring capacity to
	// window size. Two windows of headroom tolerates one full analysis
	// cycle of jitter without dropping samples.
	MinRingHeadroom     = 2
	DefaultRingHeadroom = 4
)

// OverflowPolicy controls what the ring buffer does when the capture side
// outruns the analysis side.
type OverflowPolicy string

const (
	// DropOldest overwrites the oldest unread samples and counts them.
	// This is the default: capture must never stall, analysis lags instead.
	DropOldest OverflowPolicy = "drop_oldest"
	// BlockProducer makes the writer wait for the reader. Only sensible for
	// replay sources; a live callback must never block.
	BlockProducer OverflowPolicy = "block"
)

// ConfigError describes a rejected configuration value. Start fails with a
// ConfigError before any goroutine is spun up.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Config is the top-level application configuration, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"`
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig holds capture and buffering settings.
type AudioConfig struct {
	Device         int            `yaml:"device"`          // Device index, -1 for loopback auto-detect
	SampleRate     float64        `yaml:"sample_rate"`     // Hz
	Channels       int            `yaml:"channels"`        // Capture channels, downmixed to mono
	BlockSize      int            `yaml:"block_size"`      // Frames per capture block
	WindowSize     int            `yaml:"window_size"`     // Samples per analysis window (power of 2)
	LowLatency     bool           `yaml:"low_latency"`     // Request low latency from the device
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy"` // drop_oldest or block
	RingHeadroom   int            `yaml:"ring_headroom"`   // Ring capacity as a multiple of window size
	ReplayFile     string         `yaml:"replay_file"`     // WAV file to replay instead of a live device
}

// AnalysisConfig holds beat detection parameters.
type AnalysisConfig struct {
	BeatMultiplier    float64 `yaml:"beat_multiplier"`      // Threshold as multiple of running average
	MinEnergy         float64 `yaml:"min_energy"`           // Mean-square floor below which nothing triggers
	RefractoryMs      int     `yaml:"refractory_ms"`        // Cooldown after a detected beat
	AvgTimeConstantMs int     `yaml:"avg_time_constant_ms"` // Running-average time constant
}

// RecordingConfig holds WAV recording settings.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"` // Empty means a timestamped name
	BitDepth   int    `yaml:"bit_depth"`
}

// TransportConfig holds settings for publishing feature frames to external
// consumers (renderers).
type TransportConfig struct {
	WebsocketEnabled    bool   `yaml:"websocket_enabled"`
	WebsocketAddr       string `yaml:"websocket_addr"`
	WebsocketIntervalMs int    `yaml:"websocket_interval_ms"`
	UDPEnabled          bool   `yaml:"udp_enabled"`
	UDPTargetAddress    string `yaml:"udp_target_address"`
	UDPSendIntervalMs   int    `yaml:"udp_send_interval_ms"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			Device:         DefaultDeviceID,
			SampleRate:     DefaultSampleRate,
			Channels:       DefaultChannels,
			BlockSize:      DefaultBlockSize,
			WindowSize:     DefaultWindowSize,
			LowLatency:     false,
			OverflowPolicy: DropOldest,
			RingHeadroom:   DefaultRingHeadroom,
		},
		Analysis: AnalysisConfig{
			BeatMultiplier:    DefaultBeatMultiplier,
			MinEnergy:         DefaultMinEnergy,
			RefractoryMs:      DefaultRefractoryMs,
			AvgTimeConstantMs: DefaultAvgTimeConstantMs,
		},
		Recording: RecordingConfig{
			Enabled:  false,
			BitDepth: 16,
		},
		Transport: TransportConfig{
			WebsocketEnabled:    false,
			WebsocketAddr:       ":8080",
			WebsocketIntervalMs: 33, // ~30Hz, typical renderer poll rate
			UDPEnabled:          false,
			UDPTargetAddress:    "127.0.0.1:9090",
			UDPSendIntervalMs:   33,
		},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	a := &c.Audio
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return &ConfigError{"audio.sample_rate",
			fmt.Sprintf("must be in [%d, %d], got %.0f", MinSampleRate, MaxSampleRate, a.SampleRate)}
	}
	if a.Channels < 1 {
		return &ConfigError{"audio.channels", fmt.Sprintf("must be >= 1, got %d", a.Channels)}
	}
	if a.BlockSize <= 0 || a.BlockSize > MaxBlockSize {
		return &ConfigError{"audio.block_size",
			fmt.Sprintf("must be in (0, %d], got %d", MaxBlockSize, a.BlockSize)}
	}
	if a.WindowSize < MinWindowSize {
		return &ConfigError{"audio.window_size",
			fmt.Sprintf("must be >= %d, got %d", MinWindowSize, a.WindowSize)}
	}
	if !bitint.IsPowerOfTwo(a.WindowSize) {
		return &ConfigError{"audio.window_size",
			fmt.Sprintf("must be a power of 2, got %d", a.WindowSize)}
	}
	if a.OverflowPolicy != DropOldest && a.OverflowPolicy != BlockProducer {
		return &ConfigError{"audio.overflow_policy",
			fmt.Sprintf("must be %q or %q, got %q", DropOldest, BlockProducer, a.OverflowPolicy)}
	}
	if a.RingHeadroom < MinRingHeadroom {
		return &ConfigError{"audio.ring_headroom",
			fmt.Sprintf("must be >= %d, got %d", MinRingHeadroom, a.RingHeadroom)}
	}

	an := &c.Analysis
	if an.BeatMultiplier <= 1.0 {
		return &ConfigError{"analysis.beat_multiplier",
			fmt.Sprintf("must be > 1.0, got %g", an.BeatMultiplier)}
	}
	if an.MinEnergy < 0 {
		return &ConfigError{"analysis.min_energy", fmt.Sprintf("must be >= 0, got %g", an.MinEnergy)}
	}
	if an.RefractoryMs < 0 {
		return &ConfigError{"analysis.refractory_ms", fmt.Sprintf("must be >= 0, got %d", an.RefractoryMs)}
	}
	if an.AvgTimeConstantMs <= 0 {
		return &ConfigError{"analysis.avg_time_constant_ms",
			fmt.Sprintf("must be > 0, got %d", an.AvgTimeConstantMs)}
	}

	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 && c.Recording.BitDepth != 32 {
		return &ConfigError{"recording.bit_depth",
			fmt.Sprintf("must be 16, 24 or 32, got %d", c.Recording.BitDepth)}
	}

	return nil
}

// RingCapacity returns the sample capacity of the ring buffer: the configured
// headroom multiple of the window size, rounded up to a power of 2.
func (c *Config) RingCapacity() int {
	return bitint.NextPowerOfTwo(c.Audio.RingHeadroom * c.Audio.WindowSize)
}

// AnalysisInterval returns the cadence of the analysis goroutine: one window
// length of audio (~23ms at 1024/44.1kHz).
func (c *Config) AnalysisInterval() time.Duration {
	return time.Duration(float64(c.Audio.WindowSize) / c.Audio.SampleRate * float64(time.Second))
}

// Refractory returns the beat cooldown as a duration.
func (c *Config) Refractory() time.Duration {
	return time.Duration(c.Analysis.RefractoryMs) * time.Millisecond
}

// AvgTimeConstant returns the running-average time constant as a duration.
func (c *Config) AvgTimeConstant() time.Duration {
	return time.Duration(c.Analysis.AvgTimeConstantMs) * time.Millisecond
}
