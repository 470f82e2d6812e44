// Package storage — bolt.go
//
// BoltDB-backed persistent storage for pitctld.
//
// Schema (BoltDB bucket layout):
//
//	/settings             key: "singleton"           value: JSON Settings
//	/thermocouple         key: big-endian ID          value: JSON Thermocouple
//	/cookingrecipe        key: big-endian ID          value: JSON CookingRecipe
//	/smoke                key: big-endian ID          value: JSON Smoke
//	/smokephase           key: big-endian ID          value: JSON SmokePhase
//	/reading              key: big-endian ID          value: JSON Reading
//	/thermocouplereading  key: big-endian ID          value: JSON ThermocoupleReading
//	/alert                key: big-endian ID          value: JSON Alert
//	/event                key: big-endian ID          value: JSON Event
//	/meta                 key: "schema_version"       value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Reading/ThermocoupleReading rows older than RetentionDays are pruned
//     by PruneOldReadings, which cmd/pitctld calls once at startup.
//   - Smoke, SmokePhase, Alert, and Event rows are never automatically
//     pruned (operator action required).
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The agent logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error. The caller logs the
//     error and continues without persisting this tick's write.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/babygramps/pitctl/internal/model"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/pitctl/pitctl.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default reading retention period.
	DefaultRetentionDays = 30

	bucketSettings            = "settings"
	bucketThermocouple        = "thermocouple"
	bucketCookingRecipe       = "cookingrecipe"
	bucketSmoke               = "smoke"
	bucketSmokePhase          = "smokephase"
	bucketReading             = "reading"
	bucketThermocoupleReading = "thermocouplereading"
	bucketAlert               = "alert"
	bucketEvent               = "event"
	bucketMeta                = "meta"

	settingsKey = "singleton"
)

var allBuckets = []string{
	bucketSettings, bucketThermocouple, bucketCookingRecipe, bucketSmoke,
	bucketSmokePhase, bucketReading, bucketThermocoupleReading, bucketAlert,
	bucketEvent, bucketMeta,
}

// DB wraps a BoltDB instance with typed accessors for pitctld's data model.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, agent requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// idKey encodes an ID as a big-endian 8-byte key so lexicographic bucket
// order matches numeric (and therefore insertion) order.
func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

func decodeIDKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}

// ─── Settings ───────────────────────────────────────────────────────────

// GetSettings returns the singleton settings row, or (zero, false) if none
// has been persisted yet.
func (d *DB) GetSettings() (model.Settings, bool) {
	var s model.Settings
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketSettings)).Get([]byte(settingsKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &s)
	})
	return s, found
}

// SaveSettings overwrites the singleton settings row.
func (d *DB) SaveSettings(s model.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("SaveSettings marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSettings)).Put([]byte(settingsKey), data)
	})
}

// SeedSettingsIfAbsent writes seed as the settings row only if no row
// exists yet, implementing the "env seeds DB at first boot" rule: on every
// boot after the first, the persisted row is authoritative and seed is
// discarded. Returns whether the seed was actually written.
func (d *DB) SeedSettingsIfAbsent(seed model.Settings) (bool, error) {
	if _, ok := d.GetSettings(); ok {
		return false, nil
	}
	if err := d.SaveSettings(seed); err != nil {
		return false, err
	}
	return true, nil
}

// ─── Thermocouple ───────────────────────────────────────────────────────

// SaveThermocouple creates (ID==0) or updates (ID!=0) a thermocouple row.
func (d *DB) SaveThermocouple(tc model.Thermocouple) (model.Thermocouple, error) {
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketThermocouple))
		if tc.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			tc.ID = model.ThermocoupleID(seq)
		}
		data, err := json.Marshal(tc)
		if err != nil {
			return err
		}
		return b.Put(idKey(uint64(tc.ID)), data)
	})
	return tc, err
}

// GetThermocouple looks up a thermocouple by ID.
func (d *DB) GetThermocouple(id model.ThermocoupleID) (model.Thermocouple, bool) {
	var tc model.Thermocouple
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketThermocouple)).Get(idKey(uint64(id)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &tc)
	})
	return tc, found
}

// ListThermocouples returns every configured channel ordered by DisplayOrder.
func (d *DB) ListThermocouples() ([]model.Thermocouple, error) {
	var out []model.Thermocouple
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketThermocouple)).ForEach(func(_, v []byte) error {
			var tc model.Thermocouple
			if err := json.Unmarshal(v, &tc); err != nil {
				return err
			}
			out = append(out, tc)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, err
}

// ─── CookingRecipe ──────────────────────────────────────────────────────

// SaveRecipe creates (ID==0) or updates (ID!=0) a recipe row.
func (d *DB) SaveRecipe(r model.CookingRecipe) (model.CookingRecipe, error) {
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCookingRecipe))
		if r.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			r.ID = seq
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(idKey(r.ID), data)
	})
	return r, err
}

// GetRecipe looks up a recipe by ID.
func (d *DB) GetRecipe(id uint64) (model.CookingRecipe, bool) {
	var r model.CookingRecipe
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketCookingRecipe)).Get(idKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &r)
	})
	return r, found
}

// ListRecipes returns every recipe.
func (d *DB) ListRecipes() ([]model.CookingRecipe, error) {
	var out []model.CookingRecipe
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketCookingRecipe)).ForEach(func(_, v []byte) error {
			var r model.CookingRecipe
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// ─── Smoke ──────────────────────────────────────────────────────────────

// CreateSmoke allocates a new Smoke ID and persists the row.
func (d *DB) CreateSmoke(s model.Smoke) (model.Smoke, error) {
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSmoke))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		s.ID = model.SmokeID(seq)
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return b.Put(idKey(uint64(s.ID)), data)
	})
	return s, err
}

// GetSmoke satisfies internal/phase.Store and internal/session.
func (d *DB) GetSmoke(id model.SmokeID) (model.Smoke, bool) {
	var s model.Smoke
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketSmoke)).Get(idKey(uint64(id)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &s)
	})
	return s, found
}

// SaveSmoke updates an existing smoke row. Satisfies internal/phase.Store.
func (d *DB) SaveSmoke(s model.Smoke) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("SaveSmoke marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSmoke)).Put(idKey(uint64(s.ID)), data)
	})
}

// GetActiveSmoke returns the one smoke with IsActive==true, if any.
func (d *DB) GetActiveSmoke() (model.Smoke, bool) {
	var found model.Smoke
	ok := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSmoke)).ForEach(func(_, v []byte) error {
			var s model.Smoke
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if s.IsActive {
				found = s
				ok = true
			}
			return nil
		})
	})
	return found, ok
}

// ListSmokes returns every smoke session, most recent first.
func (d *DB) ListSmokes() ([]model.Smoke, error) {
	var out []model.Smoke
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSmoke)).ForEach(func(_, v []byte) error {
			var s model.Smoke
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			out = append(out, s)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, err
}

// ─── SmokePhase ─────────────────────────────────────────────────────────

// CreatePhase allocates a new PhaseID and persists the row.
func (d *DB) CreatePhase(p model.SmokePhase) (model.SmokePhase, error) {
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSmokePhase))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		p.ID = model.PhaseID(seq)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(idKey(uint64(p.ID)), data)
	})
	return p, err
}

// GetPhase satisfies internal/phase.Store.
func (d *DB) GetPhase(id model.PhaseID) (model.SmokePhase, bool) {
	var p model.SmokePhase
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketSmokePhase)).Get(idKey(uint64(id)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &p)
	})
	return p, found
}

// SavePhase satisfies internal/phase.Store.
func (d *DB) SavePhase(p model.SmokePhase) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("SavePhase marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSmokePhase)).Put(idKey(uint64(p.ID)), data)
	})
}

// PhaseByOrder satisfies internal/phase.Store.
func (d *DB) PhaseByOrder(smokeID model.SmokeID, order int) (model.SmokePhase, bool) {
	var found model.SmokePhase
	ok := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSmokePhase)).ForEach(func(_, v []byte) error {
			var p model.SmokePhase
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.SmokeID == smokeID && p.PhaseOrder == order {
				found = p
				ok = true
			}
			return nil
		})
	})
	return found, ok
}

// ListPhasesForSmoke returns every phase row belonging to smokeID, in order.
func (d *DB) ListPhasesForSmoke(smokeID model.SmokeID) ([]model.SmokePhase, error) {
	var out []model.SmokePhase
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSmokePhase)).ForEach(func(_, v []byte) error {
			var p model.SmokePhase
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.SmokeID == smokeID {
				out = append(out, p)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PhaseOrder < out[j].PhaseOrder })
	return out, err
}

// ─── Reading / ThermocoupleReading ──────────────────────────────────────

// AppendReading writes a Reading and its per-channel ThermocoupleReadings
// in a single ACID transaction, so a crash never leaves one without the
// other.
func (d *DB) AppendReading(r model.Reading, tcReadings []model.ThermocoupleReading) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		rb := tx.Bucket([]byte(bucketReading))
		seq, err := rb.NextSequence()
		if err != nil {
			return err
		}
		r.ID = seq
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := rb.Put(idKey(r.ID), data); err != nil {
			return err
		}

		tb := tx.Bucket([]byte(bucketThermocoupleReading))
		for _, tr := range tcReadings {
			tr.ReadingID = r.ID
			seq, err := tb.NextSequence()
			if err != nil {
				return err
			}
			tr.ID = seq
			data, err := json.Marshal(tr)
			if err != nil {
				return err
			}
			if err := tb.Put(idKey(tr.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadRecentReadings returns up to limit most recent readings, oldest first.
func (d *DB) ReadRecentReadings(limit int) ([]model.Reading, error) {
	var out []model.Reading
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketReading)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var r model.Reading
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// PruneOldReadings deletes Reading/ThermocoupleReading rows older than
// retentionDays, returning the number of Reading rows deleted. Called
// once at startup by cmd/pitctld.
func (d *DB) PruneOldReadings(now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -d.retentionDays)
	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		rb := tx.Bucket([]byte(bucketReading))
		c := rb.Cursor()

		var staleIDs []uint64
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r model.Reading
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Ts.After(cutoff) {
				break
			}
			staleIDs = append(staleIDs, decodeIDKey(k))
		}
		for _, id := range staleIDs {
			if err := rb.Delete(idKey(id)); err != nil {
				return err
			}
			deleted++
		}

		tb := tx.Bucket([]byte(bucketThermocoupleReading))
		staleSet := make(map[uint64]bool, len(staleIDs))
		for _, id := range staleIDs {
			staleSet[id] = true
		}
		tc := tb.Cursor()
		var staleTCKeys [][]byte
		for k, v := tc.First(); k != nil; k, v = tc.Next() {
			var tr model.ThermocoupleReading
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			if staleSet[tr.ReadingID] {
				kc := make([]byte, len(k))
				copy(kc, k)
				staleTCKeys = append(staleTCKeys, kc)
			}
		}
		for _, k := range staleTCKeys {
			if err := tb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}

// ─── Alert ──────────────────────────────────────────────────────────────

// SaveAlert allocates a new Alert ID and persists the row. Satisfies
// internal/alert.Store.
func (d *DB) SaveAlert(a model.Alert) (model.Alert, error) {
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAlert))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		a.ID = seq
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put(idKey(a.ID), data)
	})
	return a, err
}

// UpdateAlert overwrites an existing alert row by ID. Satisfies
// internal/alert.Store.
func (d *DB) UpdateAlert(a model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("UpdateAlert marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAlert)).Put(idKey(a.ID), data)
	})
}

// GetAlert satisfies internal/alert.Store.
func (d *DB) GetAlert(id uint64) (model.Alert, bool) {
	var a model.Alert
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketAlert)).Get(idKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &a)
	})
	return a, found
}

// ListAlerts returns every alert row ordered by ID, most recent last.
func (d *DB) ListAlerts() ([]model.Alert, error) {
	var out []model.Alert
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAlert)).ForEach(func(_, v []byte) error {
			var a model.Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// ─── Event ──────────────────────────────────────────────────────────────

// AppendEvent writes an append-only audit event. Satisfies
// internal/alert.Store and internal/session.EventStore.
func (d *DB) AppendEvent(e model.Event) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvent))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.ID = seq
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(idKey(e.ID), data)
	})
}

// ReadRecentEvents returns up to limit most recent events, oldest first.
// For operational use (CLI/API inspection). Not called on the hot path.
func (d *DB) ReadRecentEvents(limit int) ([]model.Event, error) {
	var out []model.Event
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketEvent)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e model.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
