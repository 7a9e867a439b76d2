// Package config loads corvid's optional YAML configuration file,
// grounded on dokzlo13-lightd/internal/config/config.go: a typed struct
// with yaml tags, a Duration wrapper for human-readable durations, and
// accessor methods that centralize defaults rather than scattering zero
// checks across callers.
package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is corvid's top-level configuration, read from the path given
// to `corvid run -config` (corvid.yaml by default).
type Config struct {
	JIT          JITConfig          `yaml:"jit"`
	Require      RequireConfig      `yaml:"require"`
	Cancellation CancellationConfig `yaml:"cancellation"`
	Net          NetConfig          `yaml:"net"`
	Process      ProcessConfig      `yaml:"process"`
	Log          LogConfig          `yaml:"log"`
}

// JITConfig stands in for Luau's JIT toggle. gopher-lua has no JIT or
// optimization pass to switch, so cmd/corvid only logs when it is
// disabled; the setting does not change how scripts are compiled or run.
type JITConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled returns the configured jit.enabled value, defaulting to true.
func (c *JITConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// RequireConfig configures the module resolver.
type RequireConfig struct {
	Aliases        map[string]string `yaml:"aliases"`
	CycleDetection string            `yaml:"cycle_detection"`
}

// DefaultCycleDetection is used when cycle_detection is unset.
const DefaultCycleDetection = "error"

// GetCycleDetection returns the configured mode with its default.
func (c *RequireConfig) GetCycleDetection() string {
	if c.CycleDetection == "" {
		return DefaultCycleDetection
	}
	return c.CycleDetection
}

// CancellationConfig controls cancel()'s interaction with wait_for_thread.
type CancellationConfig struct {
	SynthesizeError *bool `yaml:"synthesize_error"`
}

// ShouldSynthesizeError reports whether cancel() should store a
// synthetic error for tracked threads, defaulting to true
// (SPEC_FULL.md §7, decision 2).
func (c *CancellationConfig) ShouldSynthesizeError() bool {
	if c.SynthesizeError == nil {
		return true
	}
	return *c.SynthesizeError
}

// NetConfig holds the net.* settings. The net builtin does not read it:
// its WebSocket dialer uses a fixed 10-second handshake timeout
// regardless of dial_timeout.
type NetConfig struct {
	DialTimeout Duration `yaml:"dial_timeout"`
}

// DefaultDialTimeout is used when net.dial_timeout is unset.
const DefaultDialTimeout = 10 * time.Second

// GetDialTimeout returns the configured dial timeout with its default.
func (c *NetConfig) GetDialTimeout() time.Duration {
	if c.DialTimeout == 0 {
		return DefaultDialTimeout
	}
	return c.DialTimeout.Duration()
}

// ProcessConfig configures the scheduler's process-wide resource limits.
type ProcessConfig struct {
	MaxBlockingWorkers int `yaml:"max_blocking_workers"`
}

// DefaultMaxBlockingWorkers is used when process.max_blocking_workers is
// unset or non-positive.
const DefaultMaxBlockingWorkers = 16

// GetMaxBlockingWorkers returns the configured worker cap with its default.
func (c *ProcessConfig) GetMaxBlockingWorkers() int {
	if c.MaxBlockingWorkers <= 0 {
		return DefaultMaxBlockingWorkers
	}
	return c.MaxBlockingWorkers
}

// LogConfig configures the zerolog setup in cmd/corvid.
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"use_json"`
}

// DefaultLogLevel is used when log.level is unset.
const DefaultLogLevel = "info"

// GetLevel returns the configured log level with its default.
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return DefaultLogLevel
	}
	return c.Level
}

// Duration wraps time.Duration so it can be written as "5s"/"250ms" in
// YAML instead of a raw nanosecond integer.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands ${VAR} and ${VAR:default} references.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if v, ok := os.LookupEnv(parts[1]); ok {
			return v
		}
		return parts[2]
	})
}

// Load reads and parses path. A missing file is not an error: Load
// returns a zero-value Config so every accessor falls back to its
// default, matching the reference's "config is optional" behavior.
// Defaults live in the Get*/Is* accessors, not here.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
