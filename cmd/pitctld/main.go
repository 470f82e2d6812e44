// Package main — cmd/pitctld/main.go
//
// pitctld entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/pitctl/config.yaml (or -config).
//  2. Initialise structured logger (zap).
//  3. Open BoltDB storage; seed the settings row on first boot only.
//  4. Prune stale reading rows.
//  5. Build the sensor channel manager (real SPI or simulated per
//     settings.sim_mode) and the relay driver (real GPIO or simulated).
//  6. Wire alert engine, webhook dispatcher, telemetry publisher, and
//     session coordinator.
//  7. Assemble and start the control loop goroutine.
//  8. Start the Prometheus metrics server.
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to the loop and metrics server).
//  2. Wait for the loop goroutine to exit (max 5s).
//  3. Close the webhook dispatcher and BoltDB.
//  4. Flush logger.
//  5. Exit 0.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/babygramps/pitctl/internal/adaptive"
	"github.com/babygramps/pitctl/internal/alert"
	"github.com/babygramps/pitctl/internal/config"
	"github.com/babygramps/pitctl/internal/loop"
	"github.com/babygramps/pitctl/internal/model"
	"github.com/babygramps/pitctl/internal/observability"
	"github.com/babygramps/pitctl/internal/phase"
	"github.com/babygramps/pitctl/internal/pidctl"
	"github.com/babygramps/pitctl/internal/relay"
	"github.com/babygramps/pitctl/internal/sensor"
	"github.com/babygramps/pitctl/internal/session"
	"github.com/babygramps/pitctl/internal/storage"
	"github.com/babygramps/pitctl/internal/telemetry"
	"github.com/babygramps/pitctl/internal/webhook"
)

const metricsAddr = "127.0.0.1:9091"
const defaultControlChannel model.ThermocoupleID = 1

func main() {
	configPath := flag.String("config", "/etc/pitctl/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("pitctld (dev build)")
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Logger ─────────────────────────────────────────────────────
	log, err := observability.BuildLoggerToFile(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("pitctld starting", zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open storage, seed settings ────────────────────────────────
	db, err := storage.Open(cfg.DBPath, storage.DefaultRetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.DBPath))

	seeded, err := db.SeedSettingsIfAbsent(cfg.SettingsSeed)
	if err != nil {
		log.Fatal("settings seed failed", zap.Error(err))
	}
	if seeded {
		log.Info("settings row seeded from config on first boot")
	}
	settings, _ := db.GetSettings()

	// ── Step 4: Prune stale readings ───────────────────────────────────────
	pruned, err := db.PruneOldReadings(time.Now())
	if err != nil {
		log.Warn("reading pruning failed", zap.Error(err))
	} else {
		log.Info("readings pruned", zap.Int("deleted", pruned))
	}

	if err := ensureDefaultThermocouple(db); err != nil {
		log.Fatal("default thermocouple provisioning failed", zap.Error(err))
	}

	// ── Step 5: Sensors + relay ─────────────────────────────────────────────
	sensors, err := buildSensorManager(db, settings, log)
	if err != nil {
		log.Fatal("sensor manager build failed", zap.Error(err))
	}

	relayDriver, err := buildRelayDriver(settings, log)
	if err != nil {
		log.Warn("relay hardware fallback", zap.Error(err))
	}

	// ── Step 6: Alerts, webhook, telemetry, session ─────────────────────────
	sender := webhook.NewHTTPSender()
	dispatcher := webhook.NewDispatcher(sender, log, 2, 64)
	defer dispatcher.Close()

	alertEngine := alert.NewEngine(db, dispatcher, settings.WebhookURL, log)
	publisher := telemetry.NewPublisher()
	phaseMachine := phase.NewMachine(db)
	coordinator := session.NewCoordinator(db, phaseMachine, nil, db, log)
	if activeID, setpointF := coordinator.LoadActiveSmoke(db.GetActiveSmoke); activeID != nil {
		log.Info("resumed active smoke", zap.Uint64("smoke_id", uint64(*activeID)))
		if setpointF != nil {
			settings.SetpointC = model.FahrenheitToCelsius(*setpointF)
		}
	}

	pid := pidctl.New(settings.Kp, settings.Ki, settings.Kd)
	adaptiveCtl := adaptive.New(adaptive.DefaultConfig())

	// ── Step 7: Control loop ────────────────────────────────────────────────
	ctl := loop.New(loop.Deps{
		Log:         log,
		Store:       db,
		Smokes:      db,
		Sensors:     sensors,
		Relay:       relayDriver,
		Alerts:      alertEngine,
		Telemetry:   publisher,
		Session:     coordinator,
		PID:         pid,
		Adaptive:    adaptiveCtl,
		ControlChan: defaultControlChannel,
		Settings:    settings,
	})
	if settings.AdaptivePIDEnabled {
		ctl.SetControlMode(loop.ModeTimeProportional)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		ctl.Run(ctx)
	}()
	log.Info("control loop started")

	// ── Step 8: Metrics server ──────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, metricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", metricsAddr))

	// ── Step 9: Wait for shutdown signal ────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("control loop shutdown timeout — forcing exit")
	case <-loopDone:
		log.Info("control loop stopped")
	}

	log.Info("pitctld shutdown complete")
}

// ensureDefaultThermocouple provisions the single control-channel
// thermocouple row on first boot, matching the default-settings'
// assumption that channel ID 1 is always configured and enabled.
func ensureDefaultThermocouple(db *storage.DB) error {
	existing, err := db.ListThermocouples()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = db.SaveThermocouple(model.Thermocouple{
		Name:          "Pit",
		CSPin:         0,
		Enabled:       true,
		IsControl:     true,
		DisplayOrder:  0,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	})
	return err
}

// buildSensorManager registers one Channel per configured thermocouple:
// simulated in sim_mode, real SPI otherwise.
func buildSensorManager(db *storage.DB, settings model.Settings, log *zap.Logger) (*sensor.Manager, error) {
	tcs, err := db.ListThermocouples()
	if err != nil {
		return nil, fmt.Errorf("list thermocouples: %w", err)
	}

	mgr := sensor.NewManager()
	for _, tc := range tcs {
		if !tc.Enabled {
			continue
		}
		if settings.SimMode {
			ch := sensor.NewSimChannel(float64(tc.ID)*5, int64(tc.ID))
			ch.SetSetpoint(settings.SetpointC)
			mgr.AddChannel(tc.ID, ch)
			continue
		}

		conn, err := openSPIThermocouple(tc.CSPin)
		if err != nil {
			log.Warn("real thermocouple unavailable, falling back to simulator",
				zap.Int("cs_pin", tc.CSPin), zap.Error(err))
			sim := sensor.NewSimChannel(0, int64(tc.ID))
			sim.SetSetpoint(settings.SetpointC)
			mgr.AddChannel(tc.ID, sim)
			continue
		}
		mgr.AddChannel(tc.ID, sensor.NewSPIChannel(conn))
	}
	return mgr, nil
}

// buildRelayDriver acquires the GPIO output for the configured pin,
// probing device-file accessibility first so a wiring mistake produces
// a clear diagnostic instead of a silent simulator fallback.
func buildRelayDriver(settings model.Settings, log *zap.Logger) (relay.Driver, error) {
	if settings.SimMode {
		return relay.NewSimDriver(log), nil
	}
	return relay.NewGPIODriver(openGPIOLine, log, settings.GPIOPin, settings.RelayActiveHigh)
}
