// Package loop implements the 1 Hz control loop of SPEC_FULL.md §4.8: a
// single periodic task that reads the sensor snapshot, runs the selected
// strategy, commands the relay, persists a Reading, runs alert checks,
// and publishes a telemetry Frame — in that order, every tick.
//
// The original runs this as a single-threaded cooperative task; Go has no
// equivalent scheduling primitive, so Loop instead serialises every tick
// and every external command (Start, Stop, SetSettings, StartAutotune,
// ...) behind one mutex. Exactly one goroutine (the ticker loop) ever
// calls tick(), matching SPEC_FULL.md §5's "no two tick bodies overlap"
// guarantee. tick holds the lock for its whole body, so an external
// command issued mid-tick waits until that tick's I/O has finished.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/babygramps/pitctl/internal/adaptive"
	"github.com/babygramps/pitctl/internal/alert"
	"github.com/babygramps/pitctl/internal/autotune"
	"github.com/babygramps/pitctl/internal/model"
	"github.com/babygramps/pitctl/internal/pidctl"
	"github.com/babygramps/pitctl/internal/relay"
	"github.com/babygramps/pitctl/internal/sensor"
	"github.com/babygramps/pitctl/internal/session"
	"github.com/babygramps/pitctl/internal/strategy"
	"github.com/babygramps/pitctl/internal/telemetry"
	"go.uber.org/zap"
	"sync"
)

// ControlMode selects which steady-state strategy §4.8 step 3 applies.
type ControlMode string

const (
	ModeThermostat       ControlMode = "thermostat"
	ModeTimeProportional ControlMode = "time_proportional"
)

const tickInterval = 1 * time.Second

// ReadingStore is the persistence dependency the loop needs on the hot
// path. Satisfied by *internal/storage.DB.
type ReadingStore interface {
	AppendReading(model.Reading, []model.ThermocoupleReading) error
	AppendEvent(model.Event) error
}

// SmokeStore resolves the active smoke's configured meat-probe channel.
// Satisfied by *internal/storage.DB.
type SmokeStore interface {
	GetSmoke(id model.SmokeID) (model.Smoke, bool)
}

// Deps bundles the loop's collaborators, mirroring the teacher's
// many-argument runWorker — grouped into a struct here because the loop
// owns substantially more state than a single event-processing worker.
type Deps struct {
	Log         *zap.Logger
	Store       ReadingStore
	Smokes      SmokeStore
	Sensors     *sensor.Manager
	Relay       relay.Driver
	Alerts      *alert.Engine
	Telemetry   *telemetry.Publisher
	Session     *session.Coordinator
	PID         *pidctl.Controller
	Adaptive    *adaptive.Controller
	ControlChan model.ThermocoupleID
	Settings    model.Settings
}

// Loop owns the monitoring+control tick and all control-task-exclusive
// state (the PID integrator, adaptive buffer, auto-tuner) per
// SPEC_FULL.md §5's shared-resource policy.
type Loop struct {
	mu sync.Mutex

	log       *zap.Logger
	store     ReadingStore
	smokes    SmokeStore
	sensors   *sensor.Manager
	relay     relay.Driver
	alerts    *alert.Engine
	publisher *telemetry.Publisher
	session   *session.Coordinator

	pid         *pidctl.Controller
	adaptiveCtl *adaptive.Controller
	autotuner   *autotune.Tuner

	thermostat *strategy.Thermostat
	timeProp   *strategy.TimeProportional

	controlChan model.ThermocoupleID
	settings    model.Settings
	mode        ControlMode

	running     bool
	boostActive bool
	boostUntil  time.Time

	loopCount     uint64
	lastLoopTime  time.Duration
	lastPIDOutput float64
	lastOutputOn  bool

	lastReadings map[model.ThermocoupleID]channelReading

	cancel context.CancelFunc
}

type channelReading struct {
	TempC float64
	Fault bool
}

// New builds a Loop in the stopped state with the given settings applied.
func New(d Deps) *Loop {
	l := &Loop{
		log:          d.Log,
		store:        d.Store,
		smokes:       d.Smokes,
		sensors:      d.Sensors,
		relay:        d.Relay,
		alerts:       d.Alerts,
		publisher:    d.Telemetry,
		session:      d.Session,
		pid:          d.PID,
		adaptiveCtl:  d.Adaptive,
		controlChan:  d.ControlChan,
		settings:     d.Settings,
		mode:         ModeThermostat,
		thermostat:   strategy.NewThermostat(d.Settings.HystC, d.Settings.MinOnS, d.Settings.MinOffS),
		timeProp:     strategy.NewTimeProportional(d.PID, d.Settings.TimeWindowS),
		lastReadings: make(map[model.ThermocoupleID]channelReading),
	}
	return l
}

// Run starts the ticker-driven loop. Blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			if l.running {
				_ = l.relay.SetState(false)
				l.running = false
			}
			l.mu.Unlock()
			return
		case now := <-ticker.C:
			l.tick(ctx, now)
		}
	}
}

// SetControlMode switches between thermostat and time-proportional
// steady-state strategies.
func (l *Loop) SetControlMode(mode ControlMode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
}

// StartControl turns the control task on; the next tick begins running
// strategy decisions.
func (l *Loop) StartControl() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = true
}

// StopControl turns the control task off and commands the relay OFF
// immediately, matching §5's stop() semantics.
func (l *Loop) StopControl() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	_ = l.relay.SetState(false)
	l.thermostat = strategy.NewThermostat(l.settings.HystC, l.settings.MinOnS, l.settings.MinOffS)
}

// Running reports whether the control task is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// SetSettings replaces the live settings, re-seeding the PID gains and
// dwell parameters used by the strategies.
func (l *Loop) SetSettings(s model.Settings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings = s
	l.pid.SetGains(s.Kp, s.Ki, s.Kd)
	l.thermostat = strategy.NewThermostat(s.HystC, s.MinOnS, s.MinOffS)
	l.timeProp = strategy.NewTimeProportional(l.pid, s.TimeWindowS)
}

// StartBoost forces the relay ON unconditionally (dwell bypassed) until
// now+durationS, per §4.8 step 2/3.
func (l *Loop) StartBoost(durationS float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.boostActive = true
	l.boostUntil = now.Add(time.Duration(durationS * float64(time.Second)))
}

// StartAutotune begins a relay-step auto-tune run with cfg.
func (l *Loop) StartAutotune(cfg autotune.Config, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.autotuner = autotune.New(cfg)
	return l.autotuner.Start(now)
}

// CancelAutotune transitions any running auto-tune to failed and restores
// output to 0, per §5's cancellation semantics.
func (l *Loop) CancelAutotune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.autotuner != nil {
		l.autotuner.Cancel()
	}
}

// AutotuneStatus reports the current auto-tune run, if any is active.
func (l *Loop) AutotuneStatus(now time.Time) (autotune.Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.autotuner == nil {
		return autotune.Status{}, false
	}
	return l.autotuner.Status(now), true
}

// tick runs one full §4.8 control tick. Sensor reads happen every call
// (the always-on monitoring loop); the remaining control steps only run
// while l.running is true.
func (l *Loop) tick(ctx context.Context, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	readings := l.sensors.ReadAll(ctx, now)
	for id, r := range readings {
		l.lastReadings[id] = channelReading{TempC: r.TempC, Fault: r.Fault}
	}

	ctrl, haveCtrl := readings[l.controlChan]

	if l.running {
		l.runControlTick(ctx, ctrl, haveCtrl, now)
	}

	l.lastLoopTime = time.Since(start)
	l.loopCount++

	l.publishFrame(now)
}

// runControlTick implements §4.8 steps 1-6.
func (l *Loop) runControlTick(ctx context.Context, ctrl channelReading, haveCtrl bool, now time.Time) {
	if !haveCtrl || ctrl.Fault {
		_ = l.relay.SetState(false)
		if l.autotuner != nil {
			l.autotuner.Cancel()
		}
		if err := l.store.AppendEvent(model.Event{
			Ts:      now,
			Kind:    "sensor_fault",
			Message: fmt.Sprintf("Control thermocouple reading failed (ID=%d)", l.controlChan),
		}); err != nil {
			l.log.Warn("sensor_fault event append failed", zap.Error(err))
		}
		l.appendReading(0, false, false, now)
		l.alerts.Check(l.alertStatus(nil), l.thresholds(), now)
		return
	}

	if l.boostActive && now.After(l.boostUntil) {
		l.boostActive = false
	}

	autotuneState := autotune.StateIdle
	if l.autotuner != nil {
		autotuneState = l.autotuner.Status(now).State
	}

	var decision strategy.Decision
	switch {
	case l.autotuner != nil && autotuneState != autotune.StateIdle && !autotuneState.IsTerminal():
		output, done := l.autotuner.Update(ctrl.TempC, now)
		decision = strategy.Decision{RelayOn: output > 0, PIDOutput: output}
		if done {
			if gains, ok := l.autotuner.Gains(); ok {
				l.log.Info("autotune succeeded",
					zap.Float64("kp", gains.Kp), zap.Float64("ki", gains.Ki), zap.Float64("kd", gains.Kd))
				if l.settings.AutoApplyTunedGains {
					l.pid.SetGains(gains.Kp, gains.Ki, gains.Kd)
				}
			} else {
				l.log.Warn("autotune failed")
			}
		}
	case l.boostActive:
		decision = strategy.Decision{RelayOn: true, PIDOutput: 100}
	case l.mode == ModeTimeProportional:
		if l.settings.AdaptivePIDEnabled {
			l.adaptiveCtl.RecordSample(ctrl.TempC, l.settings.SetpointC, now)
			if l.adaptiveCtl.ShouldAdjust(now) {
				kp, ki, kd := l.pid.Gains()
				if adj, ok := l.adaptiveCtl.Evaluate(kp, ki, kd, now); ok {
					l.pid.SetGains(adj.Kp, adj.Ki, adj.Kd)
					l.log.Info("adaptive tuner adjusted gains",
						zap.Float64("kp", adj.Kp), zap.Float64("ki", adj.Ki), zap.Float64("kd", adj.Kd),
						zap.String("reason", adj.Reason))
				}
			}
		}
		decision = l.timeProp.Decide(l.settings.SetpointC, ctrl.TempC, now)
	default:
		decision = l.thermostat.Decide(l.settings.SetpointC, ctrl.TempC, now)
	}

	if err := l.relay.SetState(decision.RelayOn); err != nil {
		l.log.Warn("relay command failed", zap.Error(err))
	}

	meatTempC, meatFault := l.meatProbeReading()
	l.session.CheckPhaseConditions(ctrl.TempC, meatTempC, meatFault, now)

	l.lastPIDOutput = decision.PIDOutput
	l.lastOutputOn = decision.RelayOn
	l.appendReading(decision.PIDOutput, decision.RelayOn, true, now)
	l.alerts.Check(l.alertStatus(&ctrl.TempC), l.thresholds(), now)
}

// meatProbeReading resolves the active smoke's configured meat-probe
// channel (if any) to its latest filtered reading.
func (l *Loop) meatProbeReading() (*float64, bool) {
	if l.smokes == nil {
		return nil, false
	}
	smokeID, ok := l.session.ActiveSmokeID()
	if !ok {
		return nil, false
	}
	sm, ok := l.smokes.GetSmoke(smokeID)
	if !ok || sm.MeatProbeTCID == nil {
		return nil, false
	}
	r, ok := l.lastReadings[*sm.MeatProbeTCID]
	if !ok {
		return nil, false
	}
	tempC := r.TempC
	return &tempC, r.Fault
}

func (l *Loop) appendReading(pidOutput float64, relayOn, haveCtrl bool, now time.Time) {
	var controlTempC float64
	if haveCtrl {
		if r, ok := l.lastReadings[l.controlChan]; ok {
			controlTempC = r.TempC
		}
	}

	reading := model.Reading{
		Ts:           now,
		ControlTempC: controlTempC,
		SetpointC:    l.settings.SetpointC,
		OutputBool:   relayOn,
		RelayState:   l.relay.State(),
		LoopMs:       float64(l.lastLoopTime.Milliseconds()),
		PIDOutput:    pidOutput,
		BoostActive:  l.boostActive,
	}

	tcReadings := make([]model.ThermocoupleReading, 0, len(l.lastReadings))
	for id, r := range l.lastReadings {
		tcReadings = append(tcReadings, model.ThermocoupleReading{
			ThermocoupleID: id, TempC: r.TempC, Fault: r.Fault,
		})
	}

	if err := l.store.AppendReading(reading, tcReadings); err != nil {
		l.log.Error("append reading failed", zap.Error(err))
	}
}

func (l *Loop) alertStatus(tempC *float64) alert.Status {
	// A SimDriver outside sim_mode is the relay's hardware fallback:
	// relay.NewGPIODriver substitutes one when line acquisition fails.
	_, relaySimulated := l.relay.(*relay.SimDriver)
	return alert.Status{
		TempC:       tempC,
		RelayOn:     l.relay.State(),
		SimMode:     l.settings.SimMode,
		AnyFallback: l.sensors.AnyFallback(l.settings.SimMode) || (relaySimulated && !l.settings.SimMode),
	}
}

func (l *Loop) thresholds() alert.Thresholds {
	return alert.Thresholds{
		HiAlarmC:             l.settings.HiAlarmC,
		LoAlarmC:             l.settings.LoAlarmC,
		StuckHighRateCPerMin: l.settings.StuckHighRateCPerMin,
	}
}

// publishFrame assembles a read-only telemetry Frame from the loop's
// current state and publishes it to all observers.
func (l *Loop) publishFrame(now time.Time) {
	frame := telemetry.Frame{
		Timestamp:    now,
		Running:      l.running,
		BoostActive:  l.boostActive,
		ControlMode:  string(l.mode),
		SetpointC:    l.settings.SetpointC,
		SetpointF:    model.CelsiusToFahrenheit(l.settings.SetpointC),
		PIDOutput:    l.lastPIDOutput,
		OutputBool:   l.lastOutputOn,
		RelayState:   l.relay.State(),
		LoopCount:    l.loopCount,
	}
	if id, ok := l.session.ActiveSmokeID(); ok {
		frame.ActiveSmokeID = &id
	}
	if l.boostActive {
		boostUntil := l.boostUntil
		frame.BoostUntil = &boostUntil
	}
	frame.LastLoopTime = &now

	if r, ok := l.lastReadings[l.controlChan]; ok {
		tempC := r.TempC
		tempF := model.CelsiusToFahrenheit(r.TempC)
		frame.CurrentTempC = &tempC
		frame.CurrentTempF = &tempF
	}

	for id, r := range l.lastReadings {
		frame.ThermocoupleReadings = append(frame.ThermocoupleReadings, telemetry.ThermocoupleFrame{
			ThermocoupleID: id, TempC: r.TempC, TempF: model.CelsiusToFahrenheit(r.TempC), Fault: r.Fault,
		})
	}

	summary := l.alerts.GetSummary()
	frame.AlertSummary = telemetry.AlertSummary{
		Count: summary.Count, Critical: summary.Critical, Error: summary.Error,
		Warning: summary.Warning, Info: summary.Info, Unacknowledged: summary.Unacknowledged,
	}
	frame.Alerts = l.alerts.ActiveAlerts()

	if info := l.session.GetCurrentPhaseInfo(); info != nil {
		frame.CurrentPhase = &telemetry.PhaseFrame{
			PhaseName: info.PhaseName, TargetTempF: info.TargetTempF,
		}
	}

	l.publisher.Publish(frame)
}
