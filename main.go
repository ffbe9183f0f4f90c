package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulseviz/cmd"
	"pulseviz/internal/capture"
	applog "pulseviz/internal/log"
	"pulseviz/internal/pipeline"
	"pulseviz/internal/transport"
	"pulseviz/internal/transport/udp"
	"pulseviz/internal/tui"
)

// main runs in three phases:
//
//  1. Startup (cold path): parse arguments, load config, initialize the
//     capture subsystem, handle one-off commands.
//  2. Concurrent (hot path): the capture callback and the analysis goroutine
//     run; the TUI or signal handler owns the foreground.
//  3. Shutdown (cold path): quiesce capture, stop analysis, finalize the
//     recording and transports.
func main() {
	options, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}
	cfg := options.Config

	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	} else if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}

	// Replay does not need the audio subsystem.
	needsPortAudio := cfg.Audio.ReplayFile == "" || options.Command == "list" || options.PickDevice
	if needsPortAudio {
		if err := capture.Initialize(); err != nil {
			applog.Fatalf("failed to initialize audio subsystem: %v", err)
		}
		defer capture.Terminate()
	}

	if options.Command == "list" {
		if err := capture.ListDevices(); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}

	if options.PickDevice {
		id, err := tui.PickDevice()
		if err != nil {
			applog.Fatalf("%v", err)
		}
		if id < 0 {
			return
		}
		cfg.Audio.Device = id
	}

	var opts []pipeline.Option
	if cfg.Transport.WebsocketEnabled {
		interval := time.Duration(cfg.Transport.WebsocketIntervalMs) * time.Millisecond
		opts = append(opts, pipeline.WithTransport(
			transport.NewWebSocketTransport(cfg.Transport.WebsocketAddr, interval)))
	}

	controller := pipeline.New(cfg, opts...)
	if err := controller.Start(); err != nil {
		applog.Fatalf("failed to start pipeline: %v", err)
	}

	stopPublisher := func() {}
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			controller.Stop()
			applog.Fatalf("udp transport: %v", err)
		}
		interval := time.Duration(cfg.Transport.UDPSendIntervalMs) * time.Millisecond
		publisher, err := udp.NewPublisher(interval, sender, controller.Bus())
		if err != nil {
			controller.Stop()
			applog.Fatalf("udp transport: %v", err)
		}
		publisher.Start()
		stopPublisher = func() {
			publisher.Stop()
			sender.Close()
		}
	}

	if options.Monitor {
		if err := tui.RunMonitor(controller, cfg.AnalysisInterval()); err != nil {
			applog.Errorf("monitor: %v", err)
		}
	} else {
		done := make(chan os.Signal, 1)
		signal.Notify(done, os.Interrupt, syscall.SIGTERM)
		<-done
	}

	stopPublisher()
	if err := controller.Stop(); err != nil {
		applog.Errorf("shutdown: %v", err)
	}

	if dropped := controller.DroppedSamples(); dropped > 0 {
		applog.Infof("dropped %d samples to stay current", dropped)
	}
	if cfg.Recording.Enabled && cfg.Recording.OutputFile != "" {
		fmt.Printf("Recording saved to: %s\n", cfg.Recording.OutputFile)
	}
}
