package session

import (
	"testing"
	"time"

	"github.com/babygramps/pitctl/internal/model"
	"github.com/babygramps/pitctl/internal/phase"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	smokes map[model.SmokeID]model.Smoke
	phases map[model.PhaseID]model.SmokePhase
	events []model.Event
}

func newMemStore() *memStore {
	return &memStore{smokes: make(map[model.SmokeID]model.Smoke), phases: make(map[model.PhaseID]model.SmokePhase)}
}

func (s *memStore) GetSmoke(id model.SmokeID) (model.Smoke, bool) { v, ok := s.smokes[id]; return v, ok }
func (s *memStore) SaveSmoke(sm model.Smoke) error                { s.smokes[sm.ID] = sm; return nil }
func (s *memStore) GetPhase(id model.PhaseID) (model.SmokePhase, bool) {
	v, ok := s.phases[id]
	return v, ok
}
func (s *memStore) SavePhase(p model.SmokePhase) error { s.phases[p.ID] = p; return nil }
func (s *memStore) PhaseByOrder(smokeID model.SmokeID, order int) (model.SmokePhase, bool) {
	for _, p := range s.phases {
		if p.SmokeID == smokeID && p.PhaseOrder == order {
			return p, true
		}
	}
	return model.SmokePhase{}, false
}
func (s *memStore) AppendEvent(e model.Event) error { s.events = append(s.events, e); return nil }

type recordingNotifier struct {
	events []TransitionReadyEvent
}

func (n *recordingNotifier) PhaseTransitionReady(e TransitionReadyEvent) {
	n.events = append(n.events, e)
}

func seed(store *memStore, start time.Time) model.SmokeID {
	const smokeID model.SmokeID = 1
	startedAt := start
	store.phases[1] = model.SmokePhase{
		ID: 1, SmokeID: smokeID, PhaseName: model.PhasePreheat, PhaseOrder: 0,
		TargetTempF: 270,
		CompletionConditions: model.CompletionConditions{
			StabilityRangeF: fPtr(5), StabilityDurationMin: iPtr(2),
		},
		StartedAt: &startedAt, IsActive: true,
	}
	store.phases[2] = model.SmokePhase{ID: 2, SmokeID: smokeID, PhaseName: model.PhaseSmoke, PhaseOrder: 1, TargetTempF: 225}
	id := model.PhaseID(1)
	store.smokes[smokeID] = model.Smoke{ID: smokeID, StartedAt: start, IsActive: true, CurrentPhaseID: &id}
	return smokeID
}

func fPtr(f float64) *float64 { return &f }
func iPtr(i int) *int         { return &i }

func TestLoadActiveSmokeAppliesPhaseSetpoint(t *testing.T) {
	store := newMemStore()
	start := time.Unix(0, 0)
	smokeID := seed(store, start)
	m := phase.NewMachine(store)
	c := NewCoordinator(store, m, nil, store, zap.NewNop())

	id, setpoint := c.LoadActiveSmoke(func() (model.Smoke, bool) { return store.smokes[smokeID], true })
	require.NotNil(t, id)
	require.Equal(t, smokeID, *id)
	require.NotNil(t, setpoint)
	require.Equal(t, 270.0, *setpoint)

	got, ok := c.ActiveSmokeID()
	require.True(t, ok)
	require.Equal(t, smokeID, got)
}

func TestLoadActiveSmokeNoneFound(t *testing.T) {
	store := newMemStore()
	m := phase.NewMachine(store)
	c := NewCoordinator(store, m, nil, store, zap.NewNop())

	id, setpoint := c.LoadActiveSmoke(func() (model.Smoke, bool) { return model.Smoke{}, false })
	require.Nil(t, id)
	require.Nil(t, setpoint)
	_, ok := c.ActiveSmokeID()
	require.False(t, ok)
}

func TestCheckPhaseConditionsBroadcastsTransitionReady(t *testing.T) {
	store := newMemStore()
	start := time.Unix(0, 0)
	smokeID := seed(store, start)
	m := phase.NewMachine(store)
	notifier := &recordingNotifier{}
	c := NewCoordinator(store, m, notifier, store, zap.NewNop())
	c.SetActiveSmoke(smokeID)

	for i := 0; i < 120; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		c.CheckPhaseConditions(model.FahrenheitToCelsius(270), nil, false, now)
	}
	require.Empty(t, notifier.events)

	now120 := start.Add(120 * time.Second)
	c.CheckPhaseConditions(model.FahrenheitToCelsius(270), nil, false, now120)

	require.Len(t, notifier.events, 1)
	evt := notifier.events[0]
	require.Equal(t, smokeID, evt.SmokeID)
	require.Equal(t, "temperature stability achieved", evt.Reason)
	require.NotNil(t, evt.CurrentPhase)
	require.NotNil(t, evt.NextPhase)
	require.Equal(t, model.PhaseSmoke, evt.NextPhase.PhaseName)

	smoke, _ := store.GetSmoke(smokeID)
	require.True(t, smoke.PendingPhaseTransition)
}

func TestCheckPhaseConditionsSkipsWhenPaused(t *testing.T) {
	store := newMemStore()
	start := time.Unix(0, 0)
	smokeID := seed(store, start)
	p := store.phases[1]
	p.IsPaused = true
	store.phases[1] = p

	m := phase.NewMachine(store)
	notifier := &recordingNotifier{}
	c := NewCoordinator(store, m, notifier, store, zap.NewNop())
	c.SetActiveSmoke(smokeID)

	now := start.Add(200 * time.Second)
	c.CheckPhaseConditions(model.FahrenheitToCelsius(270), nil, false, now)
	require.Empty(t, notifier.events)
}

func TestGetCurrentPhaseInfo(t *testing.T) {
	store := newMemStore()
	start := time.Unix(0, 0)
	smokeID := seed(store, start)
	m := phase.NewMachine(store)
	c := NewCoordinator(store, m, nil, store, zap.NewNop())
	c.SetActiveSmoke(smokeID)

	info := c.GetCurrentPhaseInfo()
	require.NotNil(t, info)
	require.Equal(t, model.PhasePreheat, info.PhaseName)
	require.Equal(t, 270.0, info.TargetTempF)
}
