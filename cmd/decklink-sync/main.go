package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/video-system/go-decklink-sync/internal/logging"
	"github.com/video-system/go-decklink-sync/internal/telemetry"
	"github.com/video-system/go-decklink-sync/pkg/api"
	"github.com/video-system/go-decklink-sync/pkg/compositor"
	"github.com/video-system/go-decklink-sync/pkg/decklink"
	_ "github.com/video-system/go-decklink-sync/pkg/ffdeck"
)

const (
	service = "decklink-sync"
	version = "1.0.0"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", service, version)
		return
	}

	// Load configuration
	cfg, err := compositor.LoadConfig(*configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = compositor.DefaultConfig()
	case err != nil:
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging, service, version)
	slog.SetDefault(logger)
	if err != nil {
		logger.Warn("Config file not found, using defaults", "path", *configPath)
	}

	instanceID := telemetry.InstanceID(cfg.InstanceID)
	logger = logger.With("instance_id", instanceID)

	driverName := cfg.Device.Driver
	driver, ok := decklink.Get(driverName, decklink.DriverOptions{
		DeviceName: cfg.Device.Name,
		Logger:     logger,
	})
	if !ok {
		logger.Warn("Unknown DeckLink driver, running without hardware",
			"driver", driverName, "available", decklink.Drivers())
		driverName = "none"
		driver = decklink.NoDriver{}
	}

	manager := decklink.NewManager(driver, cfg.Device.DecklinkConfig(),
		decklink.WithLogger(logger),
		decklink.WithFrameHeight(cfg.Device.FrameHeight))

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sinks := openSinks(ctx, cfg, instanceID, logger)

	runner := compositor.NewRunner(manager, compositor.RunnerConfig{
		InstanceID:        instanceID,
		Driver:            driverName,
		Interval:          cfg.Tick.Interval(),
		LatencyPreference: cfg.Device.LatencyPreference,
		Surfaces: compositor.Surfaces{
			Color:  compositor.NamedSurface("color"),
			Output: compositor.NamedSurface("output"),
		},
	}, sinks, logger)

	if err := runner.Start(ctx); err != nil {
		logger.Error("Failed to start frame loop", "error", err)
		os.Exit(1)
	}

	// Create and start API server
	apiServer := api.NewServer(api.ServerConfig{
		Host:   cfg.API.Host,
		Port:   cfg.API.Port,
		Engine: runner,
		Logger: logger,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("API server error", "error", err)
			cancel()
		}
	}()

	logger.Info("DeckLink sync running", "driver", driverName, "api", cfg.API.Addr())

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	// Cleanup
	runner.Stop()
	apiServer.Stop()
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			logger.Warn("Sink close failed", "error", err)
		}
	}

	logger.Info("DeckLink sync stopped")
}

// openSinks connects the configured state and timing sinks. A sink that
// cannot connect is skipped.
func openSinks(ctx context.Context, cfg *compositor.Config, instanceID string, logger *slog.Logger) []compositor.StatusSink {
	var sinks []compositor.StatusSink

	mqtt, err := telemetry.NewMQTTPublisher(cfg.MQTT, instanceID, logger)
	switch {
	case err == nil:
		logger.Info("Publishing state over MQTT", "topic", mqtt.Topic())
		sinks = append(sinks, mqtt)
	case !errors.Is(err, telemetry.ErrDisabled):
		logger.Warn("MQTT unavailable, state will not be published", "error", err)
	}

	influx, err := telemetry.NewInfluxRecorder(ctx, cfg.InfluxDB, instanceID, logger)
	switch {
	case err == nil:
		sinks = append(sinks, influx)
	case !errors.Is(err, telemetry.ErrDisabled):
		logger.Warn("InfluxDB unavailable, timing will not be recorded", "error", err)
	}

	return sinks
}
