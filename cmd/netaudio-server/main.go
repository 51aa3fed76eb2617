// ABOUTME: Entry point for the netaudio broadcaster
// ABOUTME: Streams an audio file or test tone to every connected receiver
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/netaudio-go/internal/config"
	"github.com/Resonate-Protocol/netaudio-go/internal/discovery"
	"github.com/Resonate-Protocol/netaudio-go/internal/logging"
	"github.com/Resonate-Protocol/netaudio-go/internal/metrics"
	"github.com/Resonate-Protocol/netaudio-go/internal/status"
	"github.com/Resonate-Protocol/netaudio-go/internal/version"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio/decode"
	"github.com/Resonate-Protocol/netaudio-go/pkg/netaudio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath  = flag.String("config", "", "YAML config file")
	port        = flag.Int("port", netaudio.DefaultPort, "TCP port to listen on")
	audioFile   = flag.String("audio", "", "Audio file to stream (WAV, MP3, raw PCM). If not specified, plays test tone")
	loop        = flag.Bool("loop", false, "Restart the audio file when it ends")
	statusAddr  = flag.String("status", "", "Serve /metrics and /status on this address, e.g. :9100")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	printConfig = flag.Bool("print-config", false, "Print the effective configuration and exit")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netaudio-server: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	// Explicit flags win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "audio":
			cfg.Server.Source = *audioFile
		case "loop":
			cfg.Server.Loop = *loop
		case "status":
			cfg.Server.StatusAddr = *statusAddr
		case "no-mdns":
			cfg.Server.MDNS = !*noMDNS
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	return cfg, cfg.Validate()
}

func openSource(cfg *config.Config, format audio.Format) (decode.Stream, error) {
	if cfg.Server.Source == "" {
		return decode.NewTone(format), nil
	}
	open := func() (decode.Stream, error) { return decode.Open(cfg.Server.Source, format) }
	if cfg.Server.Loop {
		return decode.Loop(open)
	}
	return open()
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

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logger.Sync()

	format := cfg.Audio.Format()
	source, err := openSource(cfg, format)
	if err != nil {
		return fmt.Errorf("failed to open audio source: %w", err)
	}
	defer source.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var advertiser netaudio.Advertiser
	if cfg.Server.MDNS {
		advertiser = discovery.NewManager(discovery.Config{
			ServiceName: cfg.Server.Name,
			Port:        cfg.Server.Port,
			Logger:      logger,
		})
	}

	connConfig := cfg.Conn.Protocol()
	connConfig.Logger = logger
	b, err := netaudio.NewBroadcaster(netaudio.BroadcasterConfig{
		Addr:          fmt.Sprintf(":%d", cfg.Server.Port),
		Format:        format,
		QueueDepth:    cfg.Server.QueueDepth,
		AcceptTimeout: cfg.Server.AcceptTimeout,
		ProbeInterval: cfg.Server.ProbeInterval,
		Conn:          connConfig,
		Logger:        logger,
		Metrics:       metrics.NewBroadcaster(reg),
		Advertiser:    advertiser,
	})
	if err != nil {
		return err
	}

	logger.Info("starting broadcaster",
		zap.String("version", version.String()),
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port),
		zap.String("source", sourceName(cfg)),
		zap.Stringer("format", format))

	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		err := b.Stream(gctx, source, netaudio.StreamOptions{
			FramesPerPacket: cfg.Server.FramesPerPacket,
			WaitForClients:  cfg.Server.WaitForClients,
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.Server.StatusAddr != "" {
		srv := status.New(status.Config{
			Addr:     cfg.Server.StatusAddr,
			Gatherer: reg,
			Logger:   logger,
			Snapshot: func() any {
				return serverStatus{
					State:   b.State().String(),
					Addr:    b.Addr().String(),
					Format:  format.String(),
					Clients: b.Clients(),
				}
			},
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("broadcaster stopped")
	return err
}

type serverStatus struct {
	State   string                `json:"state"`
	Addr    string                `json:"addr"`
	Format  string                `json:"format"`
	Clients []netaudio.ClientInfo `json:"clients"`
}

func sourceName(cfg *config.Config) string {
	if cfg.Server.Source == "" {
		return "test tone"
	}
	return cfg.Server.Source
}
