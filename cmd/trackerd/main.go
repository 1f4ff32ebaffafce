// trackerd keeps persistent client connections open to a set of game
// zones, discovers the zones from per-network server feeds, and exposes a
// REST gateway for firing protocol commands at any of them. Zone lifecycle
// telemetry is published via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gge-tracker/gge-tracker-sub003/internal/cli"
	"github.com/gge-tracker/gge-tracker-sub003/internal/clock"
	"github.com/gge-tracker/gge-tracker-sub003/internal/config"
	"github.com/gge-tracker/gge-tracker-sub003/internal/directory"
	"github.com/gge-tracker/gge-tracker-sub003/internal/events"
	"github.com/gge-tracker/gge-tracker-sub003/internal/gateway"
	"github.com/gge-tracker/gge-tracker-sub003/internal/store"
	"github.com/gge-tracker/gge-tracker-sub003/internal/telemetry"
	"github.com/gge-tracker/gge-tracker-sub003/internal/util"
)

const (
	AppName    = "gge-tracker"
	AppVersion = "1.0.0"
	Banner     = `
   __ _  __ _  ___      | game zone tracker
  / _' |/ _' |/ _ \_____| v%s
 | (_| | (_| |  __/_____|
  \__, |\__, |\___|
  |___/ |___/
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting tracker")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.ApplicationData.Logging.Level,
		Directory:  cfg.ApplicationData.Logging.Directory,
		MaxSizeMB:  cfg.ApplicationData.Logging.MaxSizeMB,
		MaxBackups: cfg.ApplicationData.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components
	bus := events.NewBus()
	clk := clock.New()

	// Account database, seeded from configuration
	st, err := store.Open(cfg.ApplicationData.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open account database")
	}
	defer st.Close()

	td := cfg.GetTrackerData()
	seed := make(map[string]store.Credentials, len(td.Accounts))
	for zone, acct := range td.Accounts {
		seed[zone] = store.Credentials{
			Username: acct.Username,
			Password: acct.Password,
			ServerID: acct.ServerID,
		}
	}
	if err := st.Seed(seed); err != nil {
		log.Fatal().Err(err).Msg("failed to seed account database")
	}

	// Discover zones from the variant feeds
	dir := directory.New(st, clk, bus)
	dir.Discover(ctx, td.Variants)
	if len(dir.Zones()) == 0 {
		log.Warn().Msg("no zones discovered, gateway will serve an empty directory")
	}

	// REST gateway
	gw := gateway.NewServer(cfg, bus, dir)

	// MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if cfg.ApplicationData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Interactive CLI
	cliHandler := cli.NewCLI(cfg, bus, dir)

	// The CLI requests shutdown over the bus.
	shutdownCh := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, event events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: zone connections
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("zones", len(dir.Zones())).Msg("starting zone connections")
		dir.StartAll()
		<-ctx.Done()
		dir.Shutdown()
	}()

	// Task 2: REST gateway
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.ApplicationData.APIPort).Msg("starting REST gateway")
		if err := gw.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway failed")
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested via CLI")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()

	log.Info().Msg("tracker stopped")
}
