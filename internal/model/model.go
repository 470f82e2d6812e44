// Package model holds the value types shared across the control-plane
// packages: the persisted entities of the data model plus the small
// enums attached to them. Kept dependency-free so storage, phase, alert
// and loop can all import it without creating cycles.
package model

import "time"

// ThermocoupleID identifies a configured sensor channel.
type ThermocoupleID uint32

// SmokeID identifies a cook session.
type SmokeID uint64

// PhaseID identifies a single phase row within a smoke.
type PhaseID uint64

// Thermocouple is a configured sensor channel.
type Thermocouple struct {
	ID            ThermocoupleID `json:"id"`
	Name          string         `json:"name"`
	CSPin         int            `json:"cs_pin"`
	Enabled       bool           `json:"enabled"`
	IsControl     bool           `json:"is_control"`
	DisplayOrder  int            `json:"display_order"`
	Color         string         `json:"color"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Settings is the singleton configuration row. Fahrenheit/Celsius unit
// preference only affects display; setpoint_c is always authoritative.
type Settings struct {
	TempUnitFahrenheit bool `json:"temp_unit_fahrenheit"`

	SetpointC float64 `json:"setpoint_c"`

	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`

	MinOnS  float64 `json:"min_on_s"`
	MinOffS float64 `json:"min_off_s"`
	HystC   float64 `json:"hyst_c"`

	TimeWindowS float64 `json:"time_window_s"`

	HiAlarmC              float64 `json:"hi_alarm_c"`
	LoAlarmC              float64 `json:"lo_alarm_c"`
	StuckHighRateCPerMin  float64 `json:"stuck_high_rate_c_per_min"`
	StuckHighDurationS    float64 `json:"stuck_high_duration_s"`

	SimMode           bool   `json:"sim_mode"`
	GPIOPin           int    `json:"gpio_pin"`
	RelayActiveHigh   bool   `json:"relay_active_high"`
	AdaptivePIDEnabled bool  `json:"adaptive_pid_enabled"`
	WebhookURL        string `json:"webhook_url,omitempty"`
	BoostDurationS    float64 `json:"boost_duration_s"`

	// AutoApplyTunedGains controls whether a successful auto-tune run is
	// applied to the live PID automatically. Default false — see
	// DESIGN.md Open Question #2.
	AutoApplyTunedGains bool `json:"auto_apply_tuned_gains"`
}

// Smoke is a cook session.
type Smoke struct {
	ID          SmokeID    `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	IsActive    bool       `json:"is_active"`

	RecipeID     *uint64 `json:"recipe_id,omitempty"`
	RecipeConfig []byte  `json:"recipe_config,omitempty"`

	CurrentPhaseID *PhaseID        `json:"current_phase_id,omitempty"`
	MeatTargetTempF *float64       `json:"meat_target_temp_f,omitempty"`
	MeatProbeTCID   *ThermocoupleID `json:"meat_probe_tc_id,omitempty"`

	PendingPhaseTransition bool `json:"pending_phase_transition"`

	TotalDurationMinutes *int     `json:"total_duration_minutes,omitempty"`
	AvgTempF             *float64 `json:"avg_temp_f,omitempty"`
	MinTempF             *float64 `json:"min_temp_f,omitempty"`
	MaxTempF             *float64 `json:"max_temp_f,omitempty"`
}

// PhaseName enumerates the fixed recipe phase sequence.
type PhaseName string

const (
	PhasePreheat     PhaseName = "preheat"
	PhaseLoadRecover PhaseName = "load_recover"
	PhaseSmoke       PhaseName = "smoke"
	PhaseStall       PhaseName = "stall"
	PhaseFinishHold  PhaseName = "finish_hold"
)

// CookingRecipe is a named, reusable template of phases.
type CookingRecipe struct {
	ID          uint64         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Phases      []RecipePhase  `json:"phases"`
	IsSystem    bool           `json:"is_system"`
}

// RecipePhase is a phase template, snapshotted into a SmokePhase at
// session creation.
type RecipePhase struct {
	PhaseName            PhaseName          `json:"phase_name"`
	PhaseOrder           int                `json:"phase_order"`
	TargetTempF          float64            `json:"target_temp_f"`
	CompletionConditions CompletionConditions `json:"completion_conditions"`
}

// CompletionConditions is the bag of optional completion predicates a
// phase may carry, per SPEC_FULL.md §4.7.
type CompletionConditions struct {
	MaxDurationMin       *int     `json:"max_duration_min,omitempty"`
	StabilityRangeF      *float64 `json:"stability_range_f,omitempty"`
	StabilityDurationMin *int     `json:"stability_duration_min,omitempty"`
	MeatTempThresholdF   *float64 `json:"meat_temp_threshold_f,omitempty"`
}

// SmokePhase is one phase instance belonging to a Smoke.
type SmokePhase struct {
	ID          PhaseID   `json:"id"`
	SmokeID     SmokeID   `json:"smoke_id"`
	PhaseName   PhaseName `json:"phase_name"`
	PhaseOrder  int       `json:"phase_order"`
	TargetTempF float64   `json:"target_temp_f"`

	CompletionConditions CompletionConditions `json:"completion_conditions"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	IsActive  bool       `json:"is_active"`
	IsPaused  bool       `json:"is_paused"`

	// ActualDurationMinutes is truncated, not rounded — see
	// DESIGN.md Open Question #3.
	ActualDurationMinutes *int `json:"actual_duration_minutes,omitempty"`
}

// Reading is appended once per control tick.
type Reading struct {
	ID          uint64    `json:"id"`
	Ts          time.Time `json:"ts"`
	SmokeID     *SmokeID  `json:"smoke_id,omitempty"`
	ControlTempC float64  `json:"control_temp_c"`
	SetpointC   float64   `json:"setpoint_c"`
	OutputBool  bool      `json:"output_bool"`
	RelayState  bool      `json:"relay_state"`
	LoopMs      float64   `json:"loop_ms"`
	PIDOutput   float64   `json:"pid_output"`
	BoostActive bool      `json:"boost_active"`
}

// ThermocoupleReading is emitted per enabled channel per tick.
type ThermocoupleReading struct {
	ID             uint64         `json:"id"`
	ReadingID      uint64         `json:"reading_id"`
	ThermocoupleID ThermocoupleID `json:"thermocouple_id"`
	TempC          float64        `json:"temp_c"`
	Fault          bool           `json:"fault"`
}

// AlertType enumerates the fixed set of alert predicates.
type AlertType string

const (
	AlertHighTemp         AlertType = "high_temp"
	AlertLowTemp          AlertType = "low_temp"
	AlertStuckHigh        AlertType = "stuck_high"
	AlertSensorFault      AlertType = "sensor_fault"
	AlertHardwareFallback AlertType = "hardware_fallback"
)

// Severity enumerates alert severities, ascending.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is a persisted alert row. At most one row with Active=true may
// exist per AlertType at a time (invariant enforced by internal/alert).
type Alert struct {
	ID           uint64         `json:"id"`
	Ts           time.Time      `json:"ts"`
	AlertType    AlertType      `json:"alert_type"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Active       bool           `json:"active"`
	Acknowledged bool           `json:"acknowledged"`
	ClearedTs    *time.Time     `json:"cleared_ts,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Event is an append-only audit record.
type Event struct {
	ID      uint64         `json:"id"`
	Ts      time.Time      `json:"ts"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// CelsiusToFahrenheit converts a Celsius temperature to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

// FahrenheitToCelsius converts a Fahrenheit temperature to Celsius.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}
