// Package config loads and validates pitctld's configuration: an
// on-disk YAML file overlaid with environment variables, following the
// teacher's Defaults()/Load(path)/Validate(cfg) shape.
//
// Two kinds of settings live here, per spec.md §9's "env and DB" design
// note:
//   - Process-level knobs (DBPath, LogLevel, LogFile, AllowedOrigins)
//     always come from the environment/file, since they gate how the
//     store itself is opened.
//   - The Settings seed (SimMode, GPIOPin, RelayActiveHigh, WebhookURL,
//     PID gains, alarm thresholds, ...) is only used to populate the
//     persisted `settings` row the very first time the store is opened
//     with none present. On every later boot that row is authoritative
//     and this seed is ignored.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/babygramps/pitctl/internal/model"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for pitctld.
type Config struct {
	// DBPath is the absolute path to the bbolt store file.
	DBPath string `yaml:"db_path"`

	// LogLevel controls the minimum zap log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat selects "json" (production) or "console" (development) encoding.
	LogFormat string `yaml:"log_format"`

	// LogFile, if non-empty, also writes logs to this path alongside stderr.
	LogFile string `yaml:"log_file"`

	// AllowedOrigins is the CSV of URLs the (out-of-scope) HTTP surface
	// would honor for CORS; carried here since it's read from the same
	// environment/file as everything else.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// SettingsSeed populates the persisted Settings row on first boot only.
	SettingsSeed model.Settings `yaml:"settings_seed"`
}

// DefaultDBPath is the bbolt store location absent DB_PATH/config override.
const DefaultDBPath = "/var/lib/pitctl/pitctl.db"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		DBPath:         DefaultDBPath,
		LogLevel:       "info",
		LogFormat:      "console",
		AllowedOrigins: nil,
		SettingsSeed: model.Settings{
			TempUnitFahrenheit:   true,
			SetpointC:            model.FahrenheitToCelsius(225),
			Kp:                   4.0,
			Ki:                   0.02,
			Kd:                   30.0,
			MinOnS:               30,
			MinOffS:              30,
			HystC:                1.0,
			TimeWindowS:          20,
			HiAlarmC:             model.FahrenheitToCelsius(325),
			LoAlarmC:             model.FahrenheitToCelsius(150),
			StuckHighRateCPerMin: 2.0,
			StuckHighDurationS:   120,
			SimMode:              true,
			GPIOPin:              17,
			RelayActiveHigh:      true,
			AdaptivePIDEnabled:   false,
			BoostDurationS:       600,
			AutoApplyTunedGains:  false,
		},
	}
}

// Load reads config from path (if it exists), applies environment
// overrides, and validates the result. A missing path is not an error —
// Defaults() plus environment overrides are used instead, matching a
// zero-config first run.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
		} else {
			// model.Settings carries json tags only, so the snake_case
			// settings_seed keys are applied through encoding/json.
			var raw struct {
				Seed map[string]any `yaml:"settings_seed"`
			}
			_ = yaml.Unmarshal(data, &raw) // same document parsed cleanly above
			if js, err := json.Marshal(raw.Seed); err == nil && raw.Seed != nil {
				if err := json.Unmarshal(js, &cfg.SettingsSeed); err != nil {
					return nil, fmt.Errorf("config.Load: parse %q settings_seed: %w", path, err)
				}
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides layers the spec.md §6 environment variables over cfg.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.LogFile = v
	}
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v, ok := os.LookupEnv("SIM_MODE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SettingsSeed.SimMode = b
		}
	}
	if v, ok := os.LookupEnv("GPIO_PIN"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SettingsSeed.GPIOPin = n
		}
	}
	if v, ok := os.LookupEnv("RELAY_ACTIVE_HIGH"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SettingsSeed.RelayActiveHigh = b
		}
	}
	if v, ok := os.LookupEnv("WEBHOOK_URL"); ok {
		cfg.SettingsSeed.WebhookURL = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks all config fields for correctness, accumulating every
// violation into a single joined error.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.DBPath == "" {
		errs = append(errs, "db_path must not be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level must be one of debug|info|warn|error, got %q", cfg.LogLevel))
	}

	s := cfg.SettingsSeed
	if s.Kp < 0 || s.Ki < 0 || s.Kd < 0 {
		errs = append(errs, "settings_seed PID gains (kp, ki, kd) must be >= 0")
	}
	if s.MinOnS < 0 || s.MinOffS < 0 || s.HystC < 0 {
		errs = append(errs, "settings_seed min_on_s, min_off_s, and hyst_c must be >= 0")
	}
	if s.TimeWindowS <= 0 {
		errs = append(errs, fmt.Sprintf("settings_seed time_window_s must be > 0, got %f", s.TimeWindowS))
	}
	if s.GPIOPin < 0 {
		errs = append(errs, fmt.Sprintf("settings_seed gpio_pin must be >= 0, got %d", s.GPIOPin))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
