package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildLogger constructs a zap.Logger with the given level and format
// ("console" for development-style colored output, anything else for
// production JSON).
func BuildLogger(level, format string) (*zap.Logger, error) {
	return BuildLoggerToFile(level, format, "")
}

// BuildLoggerToFile is BuildLogger plus an optional additional output
// path; logs are written to stderr and, if file is non-empty, to file
// as well.
func BuildLoggerToFile(level, format, file string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if file != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, file)
	}

	return cfg.Build()
}
