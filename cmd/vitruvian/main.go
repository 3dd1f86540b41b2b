package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/vitruvian-trainer/internal/api"
	"github.com/lowaak/vitruvian-trainer/internal/bt"
	"github.com/lowaak/vitruvian-trainer/internal/config"
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
	"github.com/lowaak/vitruvian-trainer/internal/publish"
	"github.com/lowaak/vitruvian-trainer/internal/routine"
	"github.com/lowaak/vitruvian-trainer/internal/storage"
	"github.com/lowaak/vitruvian-trainer/internal/transport"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()
	logger.Printf("Vitruvian: Starting with %s transport", cfg.Transport.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.StorageConfig(), logger)
	must("open storage", err)
	defer store.Close()

	reporter := publish.NewReporter(newPublishers(ctx, cfg, logger), logger)

	link, shutdownLink := newTransport(cfg, logger)
	defer shutdownLink()

	must("connect", connect(ctx, link, cfg.Transport.ScanTimeout, logger))

	controller := workout.NewController(link, reporter.WrapPersistence(store), cfg.WorkoutConfig(), logger)
	must("attach controller", controller.Attach())
	if err := controller.SetColorScheme(protocol.DefaultBrightness, protocol.DefaultColors); err != nil {
		logger.Printf("Vitruvian: Color scheme not applied: %v", err)
	}

	reporter.Start(ctx, controller)
	metrics := api.NewMetrics(logger)
	metrics.Start(ctx, controller)

	if cfg.Workout.RoutineFile != "" {
		r, err := routine.Load(cfg.Workout.RoutineFile)
		must("load routine", err)
		must("load routine", controller.LoadRoutine(r))
		logger.Printf("Vitruvian: Loaded routine %q with %d sets", r.Name, r.TotalSets())
	}

	var server *api.Server
	if cfg.API.Listen != "" {
		server = api.NewServer(controller, store, metrics, logger)
		server.Start(cfg.API.Listen)
	}

	<-ctx.Done()
	logger.Println("Vitruvian: Shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Vitruvian: API shutdown: %v", err)
		}
		cancel()
	}
	if err := controller.StopWorkout(); err != nil && !errors.Is(err, workout.ErrShutdown) {
		logger.Printf("Vitruvian: Stop workout: %v", err)
	}
	controller.Shutdown()
	metrics.Stop()
	reporter.Stop()
	if dropped := reporter.Dropped(); dropped > 0 {
		logger.Printf("Vitruvian: Reporter dropped %d messages", dropped)
	}
}

// newLogger writes to a rotating file, stderr, or both.
func newLogger(cfg config.LogConfig) (*log.Logger, func()) {
	var writers []io.Writer
	closeLog := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "log directory: %v\n", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotating)
		closeLog = func() { rotating.Close() }
	}
	if cfg.Stderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	return log.New(io.MultiWriter(writers...), "", log.LstdFlags|log.Lmicroseconds), closeLog
}

func newTransport(cfg *config.Config, logger *log.Logger) (transport.Transport, func()) {
	if cfg.Transport.Kind == config.TransportSimulated {
		sim := transport.NewSimulatedDevice(logger, cfg.SimulatedDeviceConfig())
		must("start simulated device", sim.Start())
		return sim.Transport(), sim.Shutdown
	}

	manager := bt.NewBTManager(bluetooth.DefaultAdapter, logger)
	must("enable BLE stack", manager.Enable())
	preferred := transport.NewPreferredDeviceStore(cfg.Transport.PreferredDeviceFile, logger)
	link := transport.NewBLETransport(manager, cfg.BLEConfig(), preferred, logger)
	return link, func() {
		link.Shutdown()
		manager.Shutdown()
	}
}

// connect finds the trainer, connects, and resets it to a known state.
func connect(ctx context.Context, link transport.Transport, scanTimeout time.Duration, logger *log.Logger) error {
	logger.Printf("Vitruvian: Scanning for a trainer")
	device, err := link.Scan(ctx, scanTimeout)
	if err != nil {
		return err
	}
	logger.Printf("Vitruvian: Found %s (%s) [RSSI: %d]", device.Name, device.Address, device.RSSI)
	if err := link.Connect(ctx, device); err != nil {
		return err
	}
	for _, frame := range [][]byte{protocol.EncodeInit(), protocol.EncodeInitPreset()} {
		if err := link.WriteCommand(frame); err != nil {
			return fmt.Errorf("%s: %w", protocol.DescribeCommand(frame), err)
		}
	}
	return nil
}

// newPublishers connects every enabled publisher. A publisher that cannot
// connect is skipped so the trainer still works offline.
func newPublishers(ctx context.Context, cfg *config.Config, logger *log.Logger) []publish.Publisher {
	var publishers []publish.Publisher
	if cfg.Publish.MQTT.Enabled {
		if p, err := publish.NewMQTTPublisher(cfg.MQTTConfig(), logger); err != nil {
			logger.Printf("Vitruvian: MQTT disabled: %v", err)
		} else {
			publishers = append(publishers, p)
		}
	}
	if cfg.Publish.Redis.Enabled {
		if p, err := publish.NewRedisPublisher(ctx, cfg.RedisConfig(), logger); err != nil {
			logger.Printf("Vitruvian: Redis disabled: %v", err)
		} else {
			publishers = append(publishers, p)
		}
	}
	if cfg.Publish.Kafka.Enabled {
		if p, err := publish.NewKafkaPublisher(cfg.KafkaConfig(), logger); err != nil {
			logger.Printf("Vitruvian: Kafka disabled: %v", err)
		} else {
			publishers = append(publishers, p)
		}
	}
	return publishers
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
