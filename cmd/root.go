// Package cmd wires up the CLI flags and starts the gateway.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"capgate/config"
	"capgate/internal/core"
	"capgate/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X capgate/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// flags holds raw flag values; only the ones the user set are applied
// on top of the file and environment configuration.
type flags struct {
	port               string
	host               string
	configFile         string
	stagingRoot        string
	cleanupConcurrency int
	maxMessageSize     int64
	transcoder         string
	exportTimeout      time.Duration
	inputFrameRate     int
	outputFrameRate    int
	handoffTTL         time.Duration
	verbose            int
	quiet              bool
	dryRun             bool
	showVersion        bool
	showHelp           bool
}

// Execute parses args and runs the gateway until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	var f flags
	fs := flag.NewFlagSet("capgate", flag.ContinueOnError)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&f.port, "port", "p", "", "Listen port (default 8080)")
	fs.StringVar(&f.host, "host", "", "Listen address (default all interfaces)")
	fs.Int64Var(&f.maxMessageSize, "max-message-size", 0, "Largest accepted message in bytes (0 = unlimited)")

	// ── staging ──────────────────────────────────────────────────
	fs.StringVar(&f.stagingRoot, "staging-root", config.DefaultStagingRoot, "Directory holding client_NNNNNNN staging areas")
	fs.IntVar(&f.cleanupConcurrency, "cleanup-concurrency", config.DefaultCleanupConcurrency, "Parallel removals during startup cleanup")

	// ── transcoder ───────────────────────────────────────────────
	fs.StringVar(&f.transcoder, "transcoder", config.DefaultTranscoderPath, "Transcoder binary")
	fs.DurationVar(&f.exportTimeout, "export-timeout", config.DefaultExportTimeout, "Limit for each transcoder run")
	fs.IntVar(&f.inputFrameRate, "input-frame-rate", config.DefaultInputFrameRate, "Frame rate of captured images")
	fs.IntVar(&f.outputFrameRate, "output-frame-rate", config.DefaultOutputFrameRate, "Frame rate of exported video")

	// ── handoff ──────────────────────────────────────────────────
	fs.DurationVar(&f.handoffTTL, "handoff-ttl", config.DefaultHandoffTTL, "Expiry of unmatched handoff consents (0 = never)")

	// ── general ──────────────────────────────────────────────────
	fs.StringVarP(&f.configFile, "config", "f", "", "YAML config file (env CAPGATE_CONFIG)")
	fs.CountVarP(&f.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&f.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.showHelp {
		printUsage(fs)
		return nil
	}
	if f.showVersion {
		fmt.Printf("capgate %s\n", version)
		return nil
	}

	// ── positional port ──────────────────────────────────────────
	rest := fs.Args()
	if len(rest) > 1 {
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
	if len(rest) == 1 && f.port == "" {
		f.port = rest[0]
	}

	cfg, warnings, err := resolve(fs, &f)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	for _, w := range warnings {
		logger.Warn("%s", w)
	}
	if cfg.ConfigFile != "" {
		logger.Verbose("loaded %s", cfg.ConfigFile)
	}

	if f.dryRun {
		logger.Info("configuration ok: listen %s, staging %s, transcoder %s", cfg.Addr(), cfg.StagingRoot, cfg.TranscoderPath)
		return nil
	}

	// ── run ──────────────────────────────────────────────────────
	srv, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	err = srv.Run(ctx)
	logger.Verbose("stats:\n%s", srv.Metrics.JSON())
	return err
}

// resolve layers the configuration sources: defaults, then the YAML
// file, then CAPGATE_* variables, then flags the user actually set.
func resolve(fs *flag.FlagSet, f *flags) (*config.Config, []string, error) {
	cfg := config.Default()
	var warnings []string

	path := f.configFile
	if path == "" {
		path = config.ConfigFileFromEnv()
	}
	if path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return nil, nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if f.port != "" {
		port, fellBack := config.PortOrDefault(f.port)
		if fellBack {
			warnings = append(warnings, fmt.Sprintf("invalid port %q, using %d", f.port, port))
		}
		cfg.Port = port
	}
	if fs.Changed("host") {
		cfg.Host = f.host
	}
	if fs.Changed("max-message-size") {
		cfg.MaxMessageSize = f.maxMessageSize
	}
	if fs.Changed("staging-root") {
		cfg.StagingRoot = f.stagingRoot
	}
	if fs.Changed("cleanup-concurrency") {
		cfg.CleanupConcurrency = f.cleanupConcurrency
	}
	if fs.Changed("transcoder") {
		cfg.TranscoderPath = f.transcoder
	}
	if fs.Changed("export-timeout") {
		cfg.ExportTimeout = f.exportTimeout
	}
	if fs.Changed("input-frame-rate") {
		cfg.InputFrameRate = f.inputFrameRate
	}
	if fs.Changed("output-frame-rate") {
		cfg.OutputFrameRate = f.outputFrameRate
	}
	if fs.Changed("handoff-ttl") {
		cfg.HandoffTTL = f.handoffTTL
	}
	cfg.Verbose += f.verbose
	if f.quiet {
		cfg.Verbose = 0
	}
	return cfg, warnings, nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `capgate – media capture gateway v%s

Accepts websocket clients that stream image frames and audio, and
assembles them into mp4 video with ffmpeg on request.

Usage:
  capgate [options] [port]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  CAPGATE_CONFIG, CAPGATE_HOST, CAPGATE_PORT, CAPGATE_STAGING_ROOT,
  CAPGATE_TRANSCODER, CAPGATE_EXPORT_TIMEOUT, CAPGATE_HANDOFF_TTL, ...

Examples:
  capgate                                     Listen on 8080
  capgate 9000                                Listen on 9000
  capgate -p 9000 --staging-root /var/capgate
  capgate -f capgate.yaml -vv
  curl localhost:8080/stats                   Runtime counters
`)
}
