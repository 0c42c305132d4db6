package config

// loader.go - configuration loading from environment variables and an
// optional YAML file.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ── Config file ──────────────────────────────────────────────────────

// LoadFile overlays the YAML document at path onto cfg.  Keys absent
// from the document keep their current value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the CAPGATE_ prefix.  Durations accept
// Go syntax ("90s", "5m") or a bare number of seconds.

// ConfigFileFromEnv returns CAPGATE_CONFIG.
func ConfigFileFromEnv() string {
	return os.Getenv("CAPGATE_CONFIG")
}

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CAPGATE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("CAPGATE_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := envInt("CAPGATE_MAX_MESSAGE_SIZE"); v > 0 {
		cfg.MaxMessageSize = int64(v)
	}

	// Staging
	if v := os.Getenv("CAPGATE_STAGING_ROOT"); v != "" {
		cfg.StagingRoot = v
	}
	if v := envInt("CAPGATE_CLEANUP_CONCURRENCY"); v > 0 {
		cfg.CleanupConcurrency = v
	}

	// Transcoder
	if v := os.Getenv("CAPGATE_TRANSCODER"); v != "" {
		cfg.TranscoderPath = v
	}
	if v, ok := envDuration("CAPGATE_EXPORT_TIMEOUT"); ok {
		cfg.ExportTimeout = v
	}
	if v := envInt("CAPGATE_INPUT_FRAME_RATE"); v > 0 {
		cfg.InputFrameRate = v
	}
	if v := envInt("CAPGATE_OUTPUT_FRAME_RATE"); v > 0 {
		cfg.OutputFrameRate = v
	}

	// Handoff
	if v, ok := envDuration("CAPGATE_HANDOFF_TTL"); ok {
		cfg.HandoffTTL = v
	}

	// Output
	if v := envInt("CAPGATE_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
