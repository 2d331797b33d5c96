package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"doorguard/internal/api"
	"doorguard/internal/config"
	"doorguard/internal/detector"
	"doorguard/internal/events"
	"doorguard/internal/ingest"
	"doorguard/internal/logging"
	"doorguard/internal/metrics"
	"doorguard/internal/model"
	"doorguard/internal/relay"
	"doorguard/internal/storage"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var logLevel string
	var showVersion bool

	flagSet := pflag.NewFlagSet("doorguard", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "doorguard.yaml", "path to YAML or JSON config file")
	flagSet.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("doorguard", version)
		return nil
	}

	cfgManager, err := loadConfig(config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	cfg := cfgManager.Get()
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger := logging.NewLogger(logLevel)
	logger.Info("starting doorguard", "version", version, "config", cfgManager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsStore := metrics.NewStore(0)
	eventsStore := events.NewStore(cfg.Events.StoreLimit)
	opts := []detector.Option{detector.WithMetrics(metricsStore), detector.WithEvents(eventsStore)}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	var writer *storage.Writer
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer store.Close()
		writer = storage.NewWriter(store, cfg.Storage.Buffer, logger)
		writer.Start(ctx)
		opts = append(opts, detector.WithAudit(writer))
		logger.Info("audit storage enabled", "driver", cfg.Storage.Driver)
	}

	det := detector.New(cfg, logger, opts...)
	hub := api.NewHub(det, cfg.API.WebSocket, metricsStore, logger)
	sinks := []detector.Sink{hub.Broadcast}

	var rel *relay.Relay
	if cfg.Relay.Enabled {
		rel, err = relay.New(ctx, cfg.Relay, logger)
		if err != nil {
			logger.Error("relay disabled", "addr", cfg.Relay.Addr, "err", err)
		} else {
			rel.Start(ctx)
			sinks = append(sinks, rel.Sink)
			logger.Info("relay enabled", "addr", cfg.Relay.Addr, "channel", cfg.Relay.Channel)
		}
	}
	det.Configure(detector.Fanout(sinks...))

	attempts := make(chan model.Attempt, cfg.Ingest.ChannelBuffer)
	det.Start(ctx, attempts)
	det.StartSweeper(ctx)

	parser := ingest.NewParser()
	ingest.StartREST(ctx, cfgManager, attempts, logger)
	ingest.StartTCPStream(ctx, cfgManager, parser, attempts, logger)
	ingest.StartFileTail(ctx, cfgManager, parser, attempts, logger)
	ingest.StartKafka(ctx, cfgManager, parser, attempts, logger)

	server := api.NewServer(cfgManager, det, hub, metricsStore, eventsStore, logger, version)
	if store != nil {
		server.SetKeyHistory(store)
	}
	apiDone := api.Start(ctx, server, logger)

	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		det.UpdateConfig(next)
		logger.Info("config reloaded", "threshold", next.Detection.Threshold, "window", next.Detection.Window.String())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
	<-apiDone
	if writer != nil {
		writer.Wait()
	}
	if rel != nil {
		_ = rel.Close()
	}
	return nil
}

// loadConfig falls back to defaults when the file does not exist.
func loadConfig(path string) (*config.Manager, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("config file not found, using defaults", "path", path)
		return config.NewManager("")
	}
	m, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return m, nil
}
