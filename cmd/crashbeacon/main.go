// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package main is the Crashbeacon command line entry point.
//
// Crashbeacon is primarily an embeddable library: a CMS plugin host wires
// the pipeline into its exception handler and injects its own delivery
// sink. This binary exercises the same stack for installs without host
// wiring and for operators:
//
//	crashbeacon < report.json     # run one error report through the pipeline
//	crashbeacon -stats            # print dedup and rate limit state
//	crashbeacon -clear-tracked    # drop all tracked error signatures
//	crashbeacon -reset-rate       # clear the current rate window
//	crashbeacon -diag             # serve /healthz, /api/v1/stats, /metrics
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - CRASHBEACON_* environment variables
//   - Config file (crashbeacon.yaml, or -config / CRASHBEACON_CONFIG)
//   - Built-in defaults
//
// With storage.path set, suppression and rate state persist in BadgerDB
// across invocations, which is what makes one-report-per-process usage
// work: each crash handler invocation sees the state left by the last.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/crashbeacon/internal/config"
	"github.com/tomtom215/crashbeacon/internal/dedup"
	"github.com/tomtom215/crashbeacon/internal/delivery"
	"github.com/tomtom215/crashbeacon/internal/diag"
	"github.com/tomtom215/crashbeacon/internal/envprobe"
	"github.com/tomtom215/crashbeacon/internal/logging"
	"github.com/tomtom215/crashbeacon/internal/logtail"
	"github.com/tomtom215/crashbeacon/internal/models"
	"github.com/tomtom215/crashbeacon/internal/pipeline"
	"github.com/tomtom215/crashbeacon/internal/ratelimit"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to config file (default: search crashbeacon.yaml)")
		showStats    = flag.Bool("stats", false, "print dedup and rate limit state and exit")
		clearTracked = flag.Bool("clear-tracked", false, "drop all tracked error signatures and exit")
		resetRate    = flag.Bool("reset-rate", false, "clear the current rate window and exit")
		serveDiag    = flag.Bool("diag", false, "serve the diagnostic HTTP endpoint")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Default logger: config (and its logging section) is not available.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("site_id", cfg.SiteID).
		Str("storage_path", cfg.Storage.Path).
		Bool("persistent", cfg.Storage.Path != "").
		Msg("Configuration loaded")

	p, cleanup, err := buildPipeline(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := run(ctx, cfg, p, command{
		stats:        *showStats,
		clearTracked: *clearTracked,
		resetRate:    *resetRate,
		serveDiag:    *serveDiag,
	}, os.Stdin, os.Stdout)

	// The store must close before exit so badger flushes its value log.
	cleanup()

	if runErr != nil {
		logging.Error().Err(runErr).Msg("crashbeacon failed")
		os.Exit(1)
	}
}

type command struct {
	stats        bool
	clearTracked bool
	resetRate    bool
	serveDiag    bool
}

// run dispatches one CLI invocation. Split from main for testability.
func run(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, cmd command, in io.Reader, out io.Writer) error {
	switch {
	case cmd.stats:
		return printJSON(out, p.Stats(ctx))

	case cmd.clearTracked:
		if err := p.ClearTrackedErrors(ctx); err != nil {
			return fmt.Errorf("clearing tracked errors: %w", err)
		}
		logging.Info().Msg("Tracked error signatures cleared")
		return nil

	case cmd.resetRate:
		if err := p.ResetRateLimit(ctx); err != nil {
			return fmt.Errorf("resetting rate limit: %w", err)
		}
		logging.Info().Msg("Rate limit window cleared")
		return nil

	case cmd.serveDiag:
		srv := diag.New(diag.Config{
			Listen:            cfg.Diag.Listen,
			RequestsPerMinute: cfg.Diag.RequestsPerMinute,
		}, p)
		return srv.ListenAndServe(ctx)
	}

	// Default mode: one error report as JSON on stdin.
	var rep models.ErrorReport
	if err := json.NewDecoder(in).Decode(&rep); err != nil {
		return fmt.Errorf("decoding error report from stdin: %w", err)
	}

	result, err := p.Report(ctx, &rep)
	if printErr := printJSON(out, result); printErr != nil {
		return printErr
	}
	return err
}

// buildPipeline wires the full stack from configuration. The returned
// cleanup closes the shared store.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, func(), error) {
	var (
		dedupStore dedup.Store
		rateStore  ratelimit.CounterStore
		cleanup    = func() {}
	)

	if cfg.Storage.Path != "" {
		db, err := badger.Open(badger.DefaultOptions(cfg.Storage.Path).WithLogger(nil))
		if err != nil {
			return nil, nil, fmt.Errorf("opening state store %s: %w", cfg.Storage.Path, err)
		}
		cleanup = func() {
			if err := db.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing state store")
			}
		}
		dedupStore = dedup.NewBadgerStore(db, "")
		rateStore = ratelimit.NewBadgerCounterStore(db, "")
	} else {
		logging.Warn().Msg("No storage.path configured, suppression state is process-local")
		dedupStore = dedup.NewMemoryStore()
		rateStore = ratelimit.NewMemoryCounterStore()
	}

	filter := dedup.NewFilter(dedupStore, dedup.Config{
		TTL:        cfg.Tracking.Duration,
		MaxTracked: cfg.Tracking.MaxEntries,
		Version:    cfg.PluginVersion,
	})
	limiter := ratelimit.NewLimiter(rateStore, ratelimit.Config{
		Window:       cfg.RateLimit.Window,
		MaxPerWindow: cfg.RateLimit.MaxPerWindow,
		Tenant:       cfg.SiteID,
	})

	collector := envprobe.New(envprobe.DefaultProbes())
	if cfg.PluginVersion != "" {
		collector.Add(envprobe.StaticProbe("plugin_version", cfg.PluginVersion))
	}

	tail := logtail.New(logtail.Config{
		Lines:      cfg.LogTail.Lines,
		ChunkBytes: cfg.LogTail.ChunkBytes,
		MaxBytes:   cfg.LogTail.MaxBytes,
	})

	return pipeline.New(cfg, filter, limiter, collector, tail, buildSink(cfg)), cleanup, nil
}

// buildSink selects the delivery sink: the reference webhook when a URL
// is configured, wrapped in a circuit breaker unless disabled, otherwise
// a stdout echo for dry runs.
func buildSink(cfg *config.Config) delivery.Sink {
	if cfg.Delivery.WebhookURL == "" {
		logging.Warn().Msg("No delivery.webhook_url configured, payloads echo to stdout")
		return delivery.FuncSink(func(ctx context.Context, payload *models.Payload) error {
			return printJSON(os.Stdout, payload)
		})
	}

	var sink delivery.Sink = delivery.NewWebhookSink(cfg.Delivery.WebhookURL, nil)
	if cfg.Delivery.BreakerThreshold > 0 {
		sink = delivery.NewBreakerSink(sink, delivery.BreakerConfig{
			Name:             "webhook",
			FailureThreshold: cfg.Delivery.BreakerThreshold,
			Timeout:          cfg.Delivery.BreakerOpenFor,
		})
	}
	return sink
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
