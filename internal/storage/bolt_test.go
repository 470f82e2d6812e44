package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/babygramps/pitctl/internal/model"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pitctl.db")
	db, err := Open(path, 30)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenInitialisesSchemaVersion(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.checkSchemaVersion())
}

func TestSeedSettingsIfAbsentOnlySeedsOnce(t *testing.T) {
	db := openTestDB(t)

	seeded, err := db.SeedSettingsIfAbsent(model.Settings{SetpointC: 100, Kp: 4})
	require.NoError(t, err)
	require.True(t, seeded)

	got, ok := db.GetSettings()
	require.True(t, ok)
	require.Equal(t, 100.0, got.SetpointC)

	require.NoError(t, db.SaveSettings(model.Settings{SetpointC: 120, Kp: 4}))

	seeded, err = db.SeedSettingsIfAbsent(model.Settings{SetpointC: 999})
	require.NoError(t, err)
	require.False(t, seeded, "a second seed attempt must not overwrite the persisted row")

	got, _ = db.GetSettings()
	require.Equal(t, 120.0, got.SetpointC)
}

func TestSmokeCreateGetSave(t *testing.T) {
	db := openTestDB(t)

	s, err := db.CreateSmoke(model.Smoke{Name: "brisket", IsActive: true, StartedAt: time.Unix(0, 0)})
	require.NoError(t, err)
	require.NotZero(t, s.ID)

	got, ok := db.GetSmoke(s.ID)
	require.True(t, ok)
	require.Equal(t, "brisket", got.Name)

	got.PendingPhaseTransition = true
	require.NoError(t, db.SaveSmoke(got))

	got2, _ := db.GetSmoke(s.ID)
	require.True(t, got2.PendingPhaseTransition)

	active, ok := db.GetActiveSmoke()
	require.True(t, ok)
	require.Equal(t, s.ID, active.ID)
}

func TestPhaseByOrderAndListPhasesForSmoke(t *testing.T) {
	db := openTestDB(t)
	smoke, _ := db.CreateSmoke(model.Smoke{Name: "ribs"})

	p0, err := db.CreatePhase(model.SmokePhase{SmokeID: smoke.ID, PhaseName: model.PhasePreheat, PhaseOrder: 0, TargetTempF: 270})
	require.NoError(t, err)
	p1, err := db.CreatePhase(model.SmokePhase{SmokeID: smoke.ID, PhaseName: model.PhaseSmoke, PhaseOrder: 1, TargetTempF: 225})
	require.NoError(t, err)
	require.NotEqual(t, p0.ID, p1.ID)

	found, ok := db.PhaseByOrder(smoke.ID, 1)
	require.True(t, ok)
	require.Equal(t, model.PhaseSmoke, found.PhaseName)

	all, err := db.ListPhasesForSmoke(smoke.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 0, all[0].PhaseOrder)
	require.Equal(t, 1, all[1].PhaseOrder)
}

func TestAppendReadingWithChannelReadingsStoresOneReading(t *testing.T) {
	db := openTestDB(t)
	err := db.AppendReading(
		model.Reading{Ts: time.Unix(100, 0), ControlTempC: 110, SetpointC: 110},
		[]model.ThermocoupleReading{
			{ThermocoupleID: 1, TempC: 110},
			{ThermocoupleID: 2, TempC: 60},
		},
	)
	require.NoError(t, err)

	readings, err := db.ReadRecentReadings(10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.Equal(t, uint64(1), readings[0].ID)
}

func TestPruneOldReadingsRemovesStaleRowsOnly(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.AppendReading(model.Reading{Ts: now.AddDate(0, 0, -40)}, nil))
	require.NoError(t, db.AppendReading(model.Reading{Ts: now.AddDate(0, 0, -1)}, nil))

	deleted, err := db.PruneOldReadings(now)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	readings, err := db.ReadRecentReadings(10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
}

func TestAlertSaveUpdateGet(t *testing.T) {
	db := openTestDB(t)
	a, err := db.SaveAlert(model.Alert{AlertType: model.AlertHighTemp, Severity: model.SeverityCritical, Active: true})
	require.NoError(t, err)
	require.NotZero(t, a.ID)

	a.Acknowledged = true
	require.NoError(t, db.UpdateAlert(a))

	got, ok := db.GetAlert(a.ID)
	require.True(t, ok)
	require.True(t, got.Acknowledged)
}

func TestAppendEventAndReadRecent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AppendEvent(model.Event{Ts: time.Unix(1, 0), Kind: "boot"}))
	require.NoError(t, db.AppendEvent(model.Event{Ts: time.Unix(2, 0), Kind: "phase_transition_ready"}))

	events, err := db.ReadRecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "boot", events[0].Kind)
}

func TestThermocoupleAndRecipeRoundTrip(t *testing.T) {
	db := openTestDB(t)
	tc, err := db.SaveThermocouple(model.Thermocouple{Name: "pit", CSPin: 8, IsControl: true, DisplayOrder: 0})
	require.NoError(t, err)
	require.NotZero(t, tc.ID)

	list, err := db.ListThermocouples()
	require.NoError(t, err)
	require.Len(t, list, 1)

	recipe, err := db.SaveRecipe(model.CookingRecipe{Name: "default brisket", IsSystem: true})
	require.NoError(t, err)
	require.NotZero(t, recipe.ID)

	got, ok := db.GetRecipe(recipe.ID)
	require.True(t, ok)
	require.Equal(t, "default brisket", got.Name)
}
