package capture

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Initialize sets up the PortAudio subsystem. Must be called before any
// device operation and paired with Terminate.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// Device describes one audio device as exposed to the CLI and TUI.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsLoopback        bool
}

// loopbackHints are lowercase name fragments that mark a device as carrying
// system output. Ordered by preference for auto-detection.
var loopbackHints = []string{"stereo mix", "loopback", "what u hear", "monitor"}

// isLoopbackName reports whether a device name suggests loopback capability.
func isLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range loopbackHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Devices returns all audio devices with loopback capability flagged.
func Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsLoopback:        info.MaxInputChannels > 0 && isLoopbackName(info.Name),
		}
	}
	return devices, nil
}

// findLoopbackDevice scans for a loopback-capable input in hint priority
// order and falls back to the default input device.
func findLoopbackDevice() (*portaudio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	for _, hint := range loopbackHints {
		for _, info := range infos {
			if info.MaxInputChannels > 0 && strings.Contains(strings.ToLower(info.Name), hint) {
				return info, nil
			}
		}
	}

	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: no loopback device and no default input: %v", ErrDeviceUnavailable, err)
	}
	return info, nil
}

// inputDevice resolves a device index to PortAudio device info. Index -1
// triggers loopback auto-detection.
func inputDevice(id int) (*portaudio.DeviceInfo, error) {
	if id < 0 {
		return findLoopbackDevice()
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if id >= len(infos) {
		return nil, fmt.Errorf("%w: invalid device ID %d", ErrDeviceUnavailable, id)
	}
	if infos[id].MaxInputChannels == 0 {
		return nil, fmt.Errorf("%w: device %d has no input channels", ErrDeviceUnavailable, id)
	}
	return infos[id], nil
}

// ListDevices prints all devices to stdout, marking loopback candidates the
// way the `list` command expects.
func ListDevices() error {
	devices, err := Devices()
	if err != nil {
		return err
	}

	fmt.Printf("\nAvailable Audio Devices\n\n")
	for _, d := range devices {
		marker := ""
		if d.IsLoopback {
			marker = " [LOOPBACK]"
		}
		fmt.Printf("[%d] %s%s\n", d.ID, d.Name, marker)
		fmt.Printf("    Input channels: %d, default sample rate: %.0f Hz\n\n",
			d.MaxInputChannels, d.DefaultSampleRate)
	}
	return nil
}
