package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	applog "pulseviz/internal/log"
)

// Load reads configuration from a YAML file at path. If path is empty, it
// searches default locations ("config.yaml", "pulseviz.yaml"). Missing files
// are not an error; built-in defaults apply. A .env file, if present, is
// loaded before environment overrides so PULSEVIZ_* variables can live there.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case, ignore it.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"config.yaml", "pulseviz.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies PULSEVIZ_* environment variables on top of the
// loaded configuration. Overrides run after file loading so they always win.
func (cfg *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("PULSEVIZ_DEBUG"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = b
			applog.Debugf("config: overriding debug from env: %v", b)
		}
	}
	if val, ok := os.LookupEnv("PULSEVIZ_LOG_LEVEL"); ok {
		cfg.LogLevel = val
	}
	if val, ok := os.LookupEnv("PULSEVIZ_DEVICE"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Audio.Device = n
			applog.Debugf("config: overriding audio.device from env: %d", n)
		}
	}
	if val, ok := os.LookupEnv("PULSEVIZ_SAMPLE_RATE"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Audio.SampleRate = f
			applog.Debugf("config: overriding audio.sample_rate from env: %.0f", f)
		}
	}
	if val, ok := os.LookupEnv("PULSEVIZ_WS_ADDR"); ok {
		cfg.Transport.WebsocketAddr = val
		cfg.Transport.WebsocketEnabled = true
	}
	if val, ok := os.LookupEnv("PULSEVIZ_UDP_TARGET"); ok {
		cfg.Transport.UDPTargetAddress = val
		cfg.Transport.UDPEnabled = true
	}
}
