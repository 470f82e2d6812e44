// Package main — cmd/pitctl-sim/main.go
//
// pitctl-sim runs the real control loop (internal/loop) against the
// simulated sensor and relay backends for local development and
// scenario replay, sibling to pitctld the way octoreflex-sim sits
// alongside octoreflexd.
//
// Usage:
//   pitctl-sim -duration 2m -setpoint-f 225 -boost 0 -seed 1
//
// Output: per-second CSV to stdout (elapsed_s,temp_f,setpoint_f,
// pid_output,relay_state,alert_count); summary to stderr on exit.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/babygramps/pitctl/internal/adaptive"
	"github.com/babygramps/pitctl/internal/alert"
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
)

const simControlChannel model.ThermocoupleID = 1

func main() {
	duration := flag.Duration("duration", 2*time.Minute, "How long to run the simulation")
	setpointF := flag.Float64("setpoint-f", 225, "Setpoint in degrees Fahrenheit")
	boostS := flag.Float64("boost", 0, "Seconds of boost to trigger at t=0 (0 disables)")
	seed := flag.Int64("seed", 1, "Sensor simulator random seed")
	dbPath := flag.String("db", "", "Scratch BoltDB path (defaults to a temp file)")
	flag.Parse()

	log, err := observability.BuildLogger("warn", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		f, err := os.CreateTemp("", "pitctl-sim-*.db")
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: temp db create failed: %v\n", err)
			os.Exit(1)
		}
		path = f.Name()
		f.Close()
		defer os.Remove(path)
	}

	db, err := storage.Open(path, storage.DefaultRetentionDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: storage open failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close() //nolint:errcheck

	settings := model.Settings{
		SetpointC:            model.FahrenheitToCelsius(*setpointF),
		Kp:                   4.0,
		Ki:                   0.02,
		Kd:                   30.0,
		MinOnS:               30,
		MinOffS:              30,
		HystC:                1.0,
		TimeWindowS:          20,
		HiAlarmC:             model.FahrenheitToCelsius(*setpointF + 100),
		LoAlarmC:             model.FahrenheitToCelsius(*setpointF - 75),
		StuckHighRateCPerMin: 2.0,
		StuckHighDurationS:   120,
		SimMode:              true,
		GPIOPin:              17,
		RelayActiveHigh:      true,
	}
	if _, err := db.SeedSettingsIfAbsent(settings); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: settings seed failed: %v\n", err)
		os.Exit(1)
	}

	ch := sensor.NewSimChannel(0, *seed)
	ch.SetSetpoint(settings.SetpointC)
	sensors := sensor.NewManager()
	sensors.AddChannel(simControlChannel, ch)

	relayDriver := relay.NewSimDriver(log)
	alertEngine := alert.NewEngine(db, nil, "", log)
	publisher := telemetry.NewPublisher()
	machine := phase.NewMachine(db)
	coordinator := session.NewCoordinator(db, machine, nil, db, log)
	pid := pidctl.New(settings.Kp, settings.Ki, settings.Kd)
	adaptiveCtl := adaptive.New(adaptive.DefaultConfig())

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
		ControlChan: simControlChannel,
		Settings:    settings,
	})
	ctl.StartControl()
	if *boostS > 0 {
		ctl.StartBoost(*boostS, time.Now())
	}

	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"elapsed_s", "temp_f", "setpoint_f", "pid_output", "relay_state", "alert_count"})
	obs := &csvObserver{w: w, start: time.Now()}
	publisher.Subscribe(obs)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	ctl.Run(ctx)
	w.Flush()

	fmt.Fprintf(os.Stderr, "\n=== SIMULATION SUMMARY ===\n")
	fmt.Fprintf(os.Stderr, "duration:       %s\n", *duration)
	fmt.Fprintf(os.Stderr, "setpoint:       %.1f F\n", *setpointF)
	fmt.Fprintf(os.Stderr, "frames emitted: %d\n", obs.count)
	fmt.Fprintf(os.Stderr, "final temp:     %.2f F\n", obs.lastTempF)
	fmt.Fprintf(os.Stderr, "final alerts:   %d\n", obs.lastAlertCount)
}

type csvObserver struct {
	w              *csv.Writer
	start          time.Time
	count          int
	lastTempF      float64
	lastAlertCount int
}

func (o *csvObserver) Deliver(f telemetry.Frame) error {
	o.count++
	var tempF float64
	if f.CurrentTempF != nil {
		tempF = *f.CurrentTempF
	}
	o.lastTempF = tempF
	o.lastAlertCount = f.AlertSummary.Count

	relayState := "0"
	if f.RelayState {
		relayState = "1"
	}
	return o.w.Write([]string{
		strconv.FormatFloat(time.Since(o.start).Seconds(), 'f', 1, 64),
		strconv.FormatFloat(tempF, 'f', 2, 64),
		strconv.FormatFloat(f.SetpointF, 'f', 2, 64),
		strconv.FormatFloat(f.PIDOutput, 'f', 2, 64),
		relayState,
		strconv.Itoa(f.AlertSummary.Count),
	})
}
