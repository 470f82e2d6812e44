package loop

import (
	"context"
	"testing"
	"time"

	"github.com/babygramps/pitctl/internal/adaptive"
	"github.com/babygramps/pitctl/internal/alert"
	"github.com/babygramps/pitctl/internal/model"
	"github.com/babygramps/pitctl/internal/phase"
	"github.com/babygramps/pitctl/internal/pidctl"
	"github.com/babygramps/pitctl/internal/relay"
	"github.com/babygramps/pitctl/internal/sensor"
	"github.com/babygramps/pitctl/internal/session"
	"github.com/babygramps/pitctl/internal/telemetry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const controlChan model.ThermocoupleID = 1

type fakeStore struct {
	readings   []model.Reading
	tcReadings [][]model.ThermocoupleReading
	smokes     map[model.SmokeID]model.Smoke
	phases     map[model.PhaseID]model.SmokePhase
	alerts     map[uint64]model.Alert
	nextID     uint64
	events     []model.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		smokes: make(map[model.SmokeID]model.Smoke),
		phases: make(map[model.PhaseID]model.SmokePhase),
		alerts: make(map[uint64]model.Alert),
	}
}

func (s *fakeStore) AppendReading(r model.Reading, tcs []model.ThermocoupleReading) error {
	s.readings = append(s.readings, r)
	s.tcReadings = append(s.tcReadings, tcs)
	return nil
}

func (s *fakeStore) GetSmoke(id model.SmokeID) (model.Smoke, bool) {
	v, ok := s.smokes[id]
	return v, ok
}
func (s *fakeStore) SaveSmoke(sm model.Smoke) error { s.smokes[sm.ID] = sm; return nil }
func (s *fakeStore) GetPhase(id model.PhaseID) (model.SmokePhase, bool) {
	v, ok := s.phases[id]
	return v, ok
}
func (s *fakeStore) SavePhase(p model.SmokePhase) error { s.phases[p.ID] = p; return nil }
func (s *fakeStore) PhaseByOrder(smokeID model.SmokeID, order int) (model.SmokePhase, bool) {
	for _, p := range s.phases {
		if p.SmokeID == smokeID && p.PhaseOrder == order {
			return p, true
		}
	}
	return model.SmokePhase{}, false
}

func (s *fakeStore) SaveAlert(a model.Alert) (model.Alert, error) {
	s.nextID++
	a.ID = s.nextID
	s.alerts[a.ID] = a
	return a, nil
}
func (s *fakeStore) UpdateAlert(a model.Alert) error { s.alerts[a.ID] = a; return nil }
func (s *fakeStore) GetAlert(id uint64) (model.Alert, bool) {
	v, ok := s.alerts[id]
	return v, ok
}
func (s *fakeStore) AppendEvent(e model.Event) error { s.events = append(s.events, e); return nil }

type recordingObserver struct {
	frames []telemetry.Frame
}

func (o *recordingObserver) Deliver(f telemetry.Frame) error {
	o.frames = append(o.frames, f)
	return nil
}

func newTestLoop(t *testing.T, settings model.Settings) (*Loop, *fakeStore, relay.Driver, *recordingObserver) {
	t.Helper()
	log := zap.NewNop()
	store := newFakeStore()

	ch := sensor.NewSimChannel(0, 1)
	ch.SetSetpoint(settings.SetpointC)
	sensors := sensor.NewManager()
	sensors.AddChannel(controlChan, ch)

	sim := relay.NewSimDriver(log)

	engine := alert.NewEngine(store, nil, "", log)
	publisher := telemetry.NewPublisher()
	obs := &recordingObserver{}
	publisher.Subscribe(obs)

	machine := phase.NewMachine(store)
	coordinator := session.NewCoordinator(store, machine, nil, store, log)

	pid := pidctl.New(settings.Kp, settings.Ki, settings.Kd)
	adaptiveCtl := adaptive.New(adaptive.DefaultConfig())

	l := New(Deps{
		Log:         log,
		Store:       store,
		Smokes:      store,
		Sensors:     sensors,
		Relay:       sim,
		Alerts:      engine,
		Telemetry:   publisher,
		Session:     coordinator,
		PID:         pid,
		Adaptive:    adaptiveCtl,
		ControlChan: controlChan,
		Settings:    settings,
	})
	return l, store, sim, obs
}

func testSettings() model.Settings {
	return model.Settings{
		SetpointC:            107,
		Kp:                   4.0,
		Ki:                   0.02,
		Kd:                   30.0,
		MinOnS:               30,
		MinOffS:              30,
		HystC:                1.0,
		TimeWindowS:          20,
		HiAlarmC:             163,
		LoAlarmC:             65,
		StuckHighRateCPerMin: 2.0,
		StuckHighDurationS:   120,
		SimMode:              true,
		GPIOPin:              17,
		RelayActiveHigh:      true,
	}
}

func TestTickAlwaysPublishesTelemetryEvenWhenStopped(t *testing.T) {
	l, _, _, obs := newTestLoop(t, testSettings())
	l.tick(context.Background(), time.Now())
	require.Len(t, obs.frames, 1)
	require.False(t, obs.frames[0].Running)
}

func TestFaultBranchAppendsSensorFaultEvent(t *testing.T) {
	log := zap.NewNop()
	store := newFakeStore()

	// Control channel ID 99 is never registered with the sensor manager,
	// so every tick's control-channel lookup misses, matching a faulted
	// or missing reading.
	sensors := sensor.NewManager()

	sim := relay.NewSimDriver(log)
	engine := alert.NewEngine(store, nil, "", log)
	publisher := telemetry.NewPublisher()
	machine := phase.NewMachine(store)
	coordinator := session.NewCoordinator(store, machine, nil, store, log)
	pid := pidctl.New(4, 0.02, 30)
	adaptiveCtl := adaptive.New(adaptive.DefaultConfig())

	settings := testSettings()
	l := New(Deps{
		Log:         log,
		Store:       store,
		Smokes:      store,
		Sensors:     sensors,
		Relay:       sim,
		Alerts:      engine,
		Telemetry:   publisher,
		Session:     coordinator,
		PID:         pid,
		Adaptive:    adaptiveCtl,
		ControlChan: 99,
		Settings:    settings,
	})
	l.StartControl()
	l.tick(context.Background(), time.Now())

	// The alert engine shares the store, so the sensor_fault event is
	// followed by the alert_created event for the sensor_fault alert.
	require.Len(t, store.events, 2)
	require.Equal(t, "sensor_fault", store.events[0].Kind)
	require.Equal(t, "alert_created", store.events[1].Kind)
}

func TestTickAppendsReadingOnlyWhenRunning(t *testing.T) {
	l, store, _, _ := newTestLoop(t, testSettings())
	l.tick(context.Background(), time.Now())
	require.Empty(t, store.readings)

	l.StartControl()
	l.tick(context.Background(), time.Now().Add(time.Second))
	require.Len(t, store.readings, 1)
	require.Len(t, store.tcReadings[0], 1)
}

func TestStopControlCommandsRelayOff(t *testing.T) {
	l, _, drv, _ := newTestLoop(t, testSettings())
	l.StartControl()
	l.tick(context.Background(), time.Now())
	l.StopControl()
	require.False(t, drv.State())
	require.False(t, l.Running())
}

func TestBoostOverridesThermostatUntilExpiry(t *testing.T) {
	l, _, _, _ := newTestLoop(t, testSettings())
	l.StartControl()
	now := time.Now()
	l.StartBoost(5, now)
	l.tick(context.Background(), now)
	require.True(t, l.boostActive)

	l.tick(context.Background(), now.Add(10*time.Second))
	require.False(t, l.boostActive)
}

func TestSetSettingsUpdatesPIDGains(t *testing.T) {
	l, _, _, _ := newTestLoop(t, testSettings())
	s := testSettings()
	s.Kp = 9.5
	l.SetSettings(s)
	kp, _, _ := l.pid.Gains()
	require.Equal(t, 9.5, kp)
}
