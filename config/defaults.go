package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is used when no port is given or the given one is
	// not a valid TCP port.
	DefaultPort = 8080

	// DefaultStagingRoot holds the per-connection client_NNNNNNN
	// directories.
	DefaultStagingRoot = "."

	// DefaultCleanupConcurrency bounds parallel directory removal
	// during the startup purge.
	DefaultCleanupConcurrency = 8

	// DefaultTranscoderPath is resolved through $PATH.
	DefaultTranscoderPath = "ffmpeg"

	// DefaultExportTimeout bounds each transcoder invocation.
	DefaultExportTimeout = 5 * time.Minute

	// DefaultInputFrameRate is the rate captured frames are read at.
	DefaultInputFrameRate = 10

	// DefaultOutputFrameRate is the rate of the encoded video.
	DefaultOutputFrameRate = 30

	// DefaultBreakerFailures is how many consecutive transcoder
	// failures open the circuit.
	DefaultBreakerFailures = 5

	// DefaultBreakerReset is how long the circuit stays open.
	DefaultBreakerReset = 30 * time.Second

	// DefaultHandoffTTL expires consents that never found a partner.
	DefaultHandoffTTL = 10 * time.Minute

	// DefaultGracePeriod is how long shutdown waits for handlers.
	DefaultGracePeriod = 5 * time.Second

	// DefaultWriteTimeout bounds a single outbound message.
	DefaultWriteTimeout = 30 * time.Second
)
