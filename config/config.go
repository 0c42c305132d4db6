// Package config defines the runtime configuration for capgate and
// provides helpers for parsing ports and durations from the various
// configuration sources.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gerrors "capgate/internal/errors"
	"capgate/util"
)

// Config holds every tuneable for a gateway process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxMessageSize int64  `yaml:"max_message_size"` // 0 = unlimited

	// ── Staging ──────────────────────────────────────────────────────
	StagingRoot        string `yaml:"staging_root"`
	CleanupConcurrency int    `yaml:"cleanup_concurrency"`

	// ── Transcoder ───────────────────────────────────────────────────
	TranscoderPath  string        `yaml:"transcoder"`
	ExportTimeout   time.Duration `yaml:"export_timeout"`
	InputFrameRate  int           `yaml:"input_frame_rate"`
	OutputFrameRate int           `yaml:"output_frame_rate"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`

	// ── Handoff ──────────────────────────────────────────────────────
	HandoffTTL time.Duration `yaml:"handoff_ttl"` // 0 = never expire

	// ── Output ───────────────────────────────────────────────────────
	Verbose int `yaml:"verbose"`

	// ConfigFile is the YAML file the config was read from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Port:               DefaultPort,
		StagingRoot:        DefaultStagingRoot,
		CleanupConcurrency: DefaultCleanupConcurrency,
		TranscoderPath:     DefaultTranscoderPath,
		ExportTimeout:      DefaultExportTimeout,
		InputFrameRate:     DefaultInputFrameRate,
		OutputFrameRate:    DefaultOutputFrameRate,
		BreakerFailures:    DefaultBreakerFailures,
		BreakerReset:       DefaultBreakerReset,
		HandoffTTL:         DefaultHandoffTTL,
		Verbose:            1,
	}
}

// ── Port helpers ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(spec))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// PortOrDefault parses spec and falls back to DefaultPort when it is
// empty or invalid.  The second result reports whether the fallback
// was taken for a non-empty spec.
func PortOrDefault(spec string) (int, bool) {
	if spec == "" {
		return DefaultPort, false
	}
	port, err := ParsePort(spec)
	if err != nil {
		return DefaultPort, true
	}
	return port, false
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return util.FormatAddr(c.Host, c.Port)
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &gerrors.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
			Hint:    fmt.Sprintf("omit the flag to listen on %d", DefaultPort),
		}
	}
	if c.StagingRoot == "" {
		return &gerrors.ConfigError{
			Field:   "staging-root",
			Message: "must not be empty",
			Hint:    "use . for the working directory",
		}
	}
	if c.TranscoderPath == "" {
		return &gerrors.ConfigError{
			Field:   "transcoder",
			Message: "path to the transcoder tool is required",
			Hint:    "install ffmpeg or pass --transcoder /path/to/ffmpeg",
		}
	}
	if c.ExportTimeout < 0 {
		return &gerrors.ConfigError{Field: "export-timeout", Value: c.ExportTimeout, Message: "must not be negative"}
	}
	if c.HandoffTTL < 0 {
		return &gerrors.ConfigError{Field: "handoff-ttl", Value: c.HandoffTTL, Message: "must not be negative"}
	}
	if c.InputFrameRate < 1 || c.OutputFrameRate < 1 {
		return &gerrors.ConfigError{
			Field:   "frame-rate",
			Value:   fmt.Sprintf("%d/%d", c.InputFrameRate, c.OutputFrameRate),
			Message: "input and output frame rates must be positive",
		}
	}
	if c.CleanupConcurrency < 1 {
		return &gerrors.ConfigError{Field: "cleanup-concurrency", Value: c.CleanupConcurrency, Message: "must be at least 1"}
	}
	if c.MaxMessageSize < 0 {
		return &gerrors.ConfigError{Field: "max-message-size", Value: c.MaxMessageSize, Message: "must not be negative"}
	}
	return nil
}
