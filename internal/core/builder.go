package core

import (
	"fmt"
	"os/exec"

	"capgate/config"
	"capgate/internal/export"
	"capgate/internal/handoff"
	"capgate/internal/metrics"
	"capgate/internal/registry"
	"capgate/internal/retry"
	"capgate/internal/staging"
	"capgate/internal/transcode"
	"capgate/util"
)

// Build constructs a Server from cfg.  Nothing is listening yet and the
// startup purge has not run; both happen in Server.Run.
func Build(cfg *config.Config, logger *util.Logger) (*Server, error) {
	root, err := staging.NewRoot(cfg.StagingRoot)
	if err != nil {
		return nil, fmt.Errorf("staging root: %w", err)
	}

	m := metrics.New()
	reg := registry.New()

	coord := handoff.New(root, reg, cfg.HandoffTTL)
	coord.Metrics = m
	coord.Logger = logger.With("handoff")

	h := &Handler{
		Root:     root,
		Registry: reg,
		Handoff:  coord,
		Exporter: buildExporter(cfg, logger, m),
		Metrics:  m,
		Logger:   logger,
	}

	return &Server{
		Addr:               util.FormatAddr(cfg.Host, cfg.Port),
		Handler:            h,
		CleanupConcurrency: cfg.CleanupConcurrency,
		MaxMessageSize:     cfg.MaxMessageSize,
		WriteTimeout:       config.DefaultWriteTimeout,
		GracePeriod:        config.DefaultGracePeriod,
		Logger:             logger,
		Metrics:            m,
	}, nil
}

// buildExporter wires the transcoder behind a circuit breaker.
func buildExporter(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *export.Exporter {
	if _, err := exec.LookPath(cfg.TranscoderPath); err != nil {
		logger.Warn("transcoder %q not found; exports will fail: %v", cfg.TranscoderPath, err)
	}

	return &export.Exporter{
		Runner: &transcode.Guarded{
			Runner:  &transcode.Exec{Path: cfg.TranscoderPath, Logger: logger},
			Breaker: transcoderBreaker(cfg, logger),
		},
		Timeout: cfg.ExportTimeout,
		Rates:   transcode.Rates{Input: cfg.InputFrameRate, Output: cfg.OutputFrameRate},
		Logger:  logger,
		Metrics: m,
	}
}

// transcoderBreaker is shared by every connection, so only faults of
// the tool itself count against it.
func transcoderBreaker(cfg *config.Config, logger *util.Logger) *retry.CircuitBreaker {
	return retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerFailures,
		ResetTimeout: cfg.BreakerReset,
		OnStateChange: func(from, to retry.State) {
			logger.Warn("transcoder circuit %s -> %s", from, to)
		},
		IsFailure: transcode.ToolFault,
	})
}
