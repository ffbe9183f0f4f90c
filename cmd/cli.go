// Package cmd parses command line arguments into an application config.
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pulseviz/internal/config"
	"pulseviz/pkg/build"
)

// Options is the result of argument parsing: the effective configuration plus
// which mode the binary should run in.
type Options struct {
	Config *config.Config

	// Command is a one-off command ("list") that runs without the pipeline.
	Command string

	// PickDevice runs the interactive device picker before starting.
	PickDevice bool

	// Monitor runs the live TUI monitor; otherwise the pipeline runs
	// headless until interrupted.
	Monitor bool
}

// configPathArg pre-scans the arguments for --config so the file can be
// loaded before flag defaults are registered. Flags then override file
// values only when set on the command line.
func configPathArg(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, "--config=") {
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func ParseArgs() (*Options, error) {
	cfg, err := config.Load(configPathArg(os.Args[1:]))
	if err != nil {
		return nil, err
	}

	info := build.Get()
	options := &Options{Config: cfg, Monitor: true}

	var configPath string

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         "Real-time system audio capture and beat analysis",
		Version:       info.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available capture devices",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = "list"
			options.Monitor = false
		},
	}
	rootCmd.AddCommand(listCmd)

	pickCmd := &cobra.Command{
		Use:   "pick",
		Short: "Pick a capture device interactively, then start",
		Run: func(cmd *cobra.Command, args []string) {
			options.PickDevice = true
		},
	}
	rootCmd.AddCommand(pickCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML config file")

	// Capture
	rootCmd.PersistentFlags().IntVarP(&cfg.Audio.Device, "device", "d", cfg.Audio.Device,
		"Input device ID, -1 auto-detects a loopback device. Use 'list' to see devices.")
	rootCmd.PersistentFlags().Float64VarP(&cfg.Audio.SampleRate, "sample-rate", "s", cfg.Audio.SampleRate,
		"Sample rate in Hz")
	rootCmd.PersistentFlags().IntVarP(&cfg.Audio.Channels, "channels", "c", cfg.Audio.Channels,
		"Capture channels, downmixed to mono")
	rootCmd.PersistentFlags().IntVarP(&cfg.Audio.BlockSize, "block-size", "b", cfg.Audio.BlockSize,
		"Frames per capture block (affects latency)")
	rootCmd.PersistentFlags().IntVarP(&cfg.Audio.WindowSize, "window-size", "w", cfg.Audio.WindowSize,
		"Samples per analysis window, must be a power of 2")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Audio.LowLatency, "low-latency", "l", cfg.Audio.LowLatency,
		"Request low latency from the device")
	rootCmd.PersistentFlags().StringVar(&cfg.Audio.ReplayFile, "replay", cfg.Audio.ReplayFile,
		"Replay a WAV file instead of capturing a live device")

	// Recording
	rootCmd.PersistentFlags().BoolVarP(&cfg.Recording.Enabled, "record", "r", cfg.Recording.Enabled,
		"Record captured audio to a WAV file")
	rootCmd.PersistentFlags().StringVarP(&cfg.Recording.OutputFile, "output", "o", cfg.Recording.OutputFile,
		"Recording file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")

	// Transports
	rootCmd.PersistentFlags().StringVar(&cfg.Transport.WebsocketAddr, "ws-addr", cfg.Transport.WebsocketAddr,
		"WebSocket listen address for frame streaming")
	rootCmd.PersistentFlags().BoolVar(&cfg.Transport.WebsocketEnabled, "ws", cfg.Transport.WebsocketEnabled,
		"Stream feature frames over WebSocket")
	rootCmd.PersistentFlags().StringVar(&cfg.Transport.UDPTargetAddress, "udp-target", cfg.Transport.UDPTargetAddress,
		"UDP target address for binary frame packets")
	rootCmd.PersistentFlags().BoolVar(&cfg.Transport.UDPEnabled, "udp", cfg.Transport.UDPEnabled,
		"Send binary frame packets over UDP")

	var headless bool
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false,
		"Run without the TUI monitor, until interrupted")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Debug, "verbose", "v", cfg.Debug,
		"Show verbose output")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if headless {
		options.Monitor = false
	}

	return options, nil
}
