package engine

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/kolkov/threadlocal/internal/tls/logger"
	"github.com/kolkov/threadlocal/internal/tls/slot"
	"github.com/kolkov/threadlocal/internal/tls/threads"
)

// EnvOptions is the environment variable read by ConfigFromEnv.
//
// Format follows GORACE: space-separated key=value pairs, e.g.
//
//	TLSENGINE_OPTIONS="max_slots=1024 reentry=default log=debug halt_on_violation=0"
const EnvOptions = "TLSENGINE_OPTIONS"

// Config configures an Engine. The zero value is usable.
type Config struct {
	// MaxSlots bounds the slot ID space. 0 selects slot.DefaultMaxSlots.
	MaxSlots int

	// MaxThreads bounds the number of live threads. 0 selects
	// threads.DefaultMaxThreads.
	MaxThreads int

	// DefaultReentry applies to slots declared with slot.ReentryUnset.
	// The zero value selects slot.ReentryFatal.
	DefaultReentry slot.Reentry

	// OnViolation receives every contract violation. nil selects
	// HaltOnViolation.
	OnViolation func(*ContractViolation)

	// Logging, if non-nil, gives the engine its own logger. Otherwise it
	// logs through the package logger.
	Logging *logger.Options
}

func (c Config) withDefaults() Config {
	if c.MaxSlots <= 0 {
		c.MaxSlots = slot.DefaultMaxSlots
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = threads.DefaultMaxThreads
	}
	if c.DefaultReentry == slot.ReentryUnset {
		c.DefaultReentry = slot.ReentryFatal
	}
	if c.OnViolation == nil {
		c.OnViolation = HaltOnViolation
	}
	return c
}

// ConfigFromEnv parses EnvOptions. An unset variable yields the zero Config.
func ConfigFromEnv() (Config, error) {
	return ParseOptions(os.Getenv(EnvOptions))
}

// ParseOptions parses a GORACE-style option string.
//
// Keys:
//   - max_slots=N
//   - max_threads=N
//   - reentry=fatal|default
//   - halt_on_violation=0|1 (default 1)
//   - log=off|debug|info|warn|error
//   - log_json=0|1
func ParseOptions(s string) (Config, error) {
	var cfg Config
	var logOpts *logger.Options

	for _, field := range strings.Fields(s) {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			return Config{}, fmt.Errorf("engine: option %q: missing '='", field)
		}

		switch key {
		case "max_slots", "max_threads":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return Config{}, fmt.Errorf("engine: option %s: invalid count %q", key, val)
			}
			if key == "max_slots" {
				cfg.MaxSlots = n
			} else {
				cfg.MaxThreads = n
			}
		case "reentry":
			r, err := slot.ParseReentry(val)
			if err != nil {
				return Config{}, fmt.Errorf("engine: option reentry: %w", err)
			}
			cfg.DefaultReentry = r
		case "halt_on_violation":
			halt, err := strconv.ParseBool(val)
			if err != nil {
				return Config{}, fmt.Errorf("engine: option halt_on_violation: %w", err)
			}
			if !halt {
				cfg.OnViolation = ReportViolation
			}
		case "log":
			if logOpts == nil {
				logOpts = &logger.Options{}
			}
			if val == "off" {
				logOpts.Enabled = false
				continue
			}
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(val)); err != nil {
				return Config{}, fmt.Errorf("engine: option log: %w", err)
			}
			logOpts.Enabled = true
			logOpts.Level = lvl
		case "log_json":
			js, err := strconv.ParseBool(val)
			if err != nil {
				return Config{}, fmt.Errorf("engine: option log_json: %w", err)
			}
			if logOpts == nil {
				logOpts = &logger.Options{}
			}
			logOpts.JSON = js
		default:
			return Config{}, fmt.Errorf("engine: unknown option %q", key)
		}
	}

	cfg.Logging = logOpts
	return cfg, nil
}
