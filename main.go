// ABOUTME: Entry point for the netaudio player
// ABOUTME: Connects to a broadcaster, plays the stream and shows a TUI or streaming logs
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/internal/config"
	"github.com/Resonate-Protocol/netaudio-go/internal/discovery"
	"github.com/Resonate-Protocol/netaudio-go/internal/logging"
	"github.com/Resonate-Protocol/netaudio-go/internal/ui"
	"github.com/Resonate-Protocol/netaudio-go/internal/version"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio/output"
	"github.com/Resonate-Protocol/netaudio-go/pkg/netaudio"
	"go.uber.org/zap"
)

var (
	configPath  = flag.String("config", "", "YAML config file")
	serverAddr  = flag.String("server", "", "Broadcaster address host:port (skip mDNS)")
	location    = flag.Float64("location", 0, "Speaker location, -1 left to 1 right")
	outputKind  = flag.String("output", "", "Audio output: oto, clock, stdout")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	printConfig = flag.Bool("print-config", false, "Print the effective configuration and exit")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFile     = flag.String("log-file", "", "Log file path (default netaudio-player.log with the TUI)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netaudio-player: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Client.Server = *serverAddr
		case "location":
			cfg.Client.Location = *location
		case "output":
			cfg.Client.Output = *outputKind
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		}
	})
	return cfg, cfg.Validate()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *printConfig {
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	// Raw PCM on stdout and the TUI cannot share the terminal.
	useTUI := !*noTUI && cfg.Client.Output != "stdout"

	logOpts := logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Quiet: useTUI}
	if useTUI && logOpts.File == "" {
		logOpts.File = "netaudio-player.log"
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Client.Server
	if addr == "" {
		logger.Info("browsing for broadcasters", zap.Duration("timeout", cfg.Client.DiscoverTimeout))
		dctx, cancel := context.WithTimeout(ctx, cfg.Client.DiscoverTimeout)
		found, err := discovery.NewManager(discovery.Config{Logger: logger}).Browse(dctx)
		cancel()
		if err != nil {
			return fmt.Errorf("no broadcaster found: %w", err)
		}
		addr = found.Addr()
	}

	sink, err := output.New(cfg.Client.Output, os.Stdout, logger)
	if err != nil {
		return err
	}

	// The TUI runs in the background so status sends never wait on it.
	var prog *ui.Program
	controls := ui.NewControls()
	if useTUI {
		prog = ui.Run(controls, cfg.Client.Location)
		defer prog.Stop()
	}
	send := func(msg ui.StatusMsg) { prog.Send(msg) }

	connConfig := cfg.Conn.Protocol()
	connConfig.Logger = logger
	r, err := netaudio.NewReceiver(netaudio.ReceiverConfig{
		Addr:           addr,
		DialTimeout:    cfg.Client.DialTimeout,
		RetryInterval:  cfg.Client.RetryInterval,
		Format:         cfg.Audio.Format(),
		BufferFrames:   cfg.Client.BufferFrames,
		ReadyThreshold: cfg.Client.ReadyThreshold,
		Location:       cfg.Client.Location,
		Sink:           sink,
		ProbeInterval:  cfg.Client.ProbeInterval,
		Conn:           connConfig,
		Logger:         logger,
		OnStateChange: func(s netaudio.ReceiverState) {
			send(ui.StatusMsg{State: s.String()})
		},
	})
	if err != nil {
		return err
	}

	logger.Info("starting player",
		zap.String("version", version.String()),
		zap.String("server", addr),
		zap.String("output", cfg.Client.Output),
		zap.Float64("location", r.Location()))

	if err := r.Start(); err != nil {
		return err
	}
	defer r.Stop()

	send(ui.StatusMsg{ServerName: addr, Format: r.Engine().Format().String()})

	go handleControls(ctx, r, sink, controls, logger)
	go statsLoop(ctx, r, send, logger, useTUI)

	if prog != nil {
		select {
		case <-prog.Done():
			stop()
			if err := prog.Err(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("player stopped")
	return nil
}

// volumeSink is implemented by outputs with software volume.
type volumeSink interface {
	SetVolume(int)
	SetMuted(bool)
}

// handleControls applies pan and volume changes made in the TUI.
func handleControls(ctx context.Context, r *netaudio.Receiver, sink output.Sink, controls *ui.Controls, logger *zap.Logger) {
	vs, hasVolume := sink.(volumeSink)
	for {
		select {
		case <-ctx.Done():
			return
		case <-controls.Quit:
			return
		case x := <-controls.Location:
			logger.Info("speaker location changed", zap.Float64("location", r.SetLocation(x)))
		case v := <-controls.Volume:
			if !hasVolume {
				continue
			}
			vs.SetVolume(v.Volume)
			vs.SetMuted(v.Muted)
		}
	}
}

// statsLoop pushes receiver stats to the TUI, or logs them periodically
// without one.
func statsLoop(ctx context.Context, r *netaudio.Receiver, send func(ui.StatusMsg), logger *zap.Logger, useTUI bool) {
	interval := 500 * time.Millisecond
	if !useTUI {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := r.Stats()
			if !useTUI {
				logger.Info("playback stats",
					zap.Stringer("state", s.State),
					zap.Uint64("pending", s.Playback.Pending),
					zap.Uint64("played", s.Playback.FramesPlayed),
					zap.Uint64("underruns", s.Playback.Underruns),
					zap.Duration("latency", s.AverageLatency),
					zap.Duration("rtt", s.RTT))
				continue
			}
			loc := s.Location
			send(ui.StatusMsg{
				Location: &loc,
				Stats: &ui.Stats{
					Pending:        s.Playback.Pending,
					Capacity:       s.Playback.Capacity,
					Packets:        s.Packets,
					Played:         s.Playback.FramesPlayed,
					Underruns:      s.Playback.Underruns,
					Latency:        s.AverageLatency,
					RTT:            s.RTT,
					LatencySamples: s.LatencySamples,
				},
			})
		}
	}
}
