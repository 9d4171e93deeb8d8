// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package dedup

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/tomtom215/crashbeacon/internal/logging"
	"github.com/tomtom215/crashbeacon/internal/models"
)

// Duplicate filter metrics.
var (
	// ChecksTotal counts duplicate checks by outcome.
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashbeacon_dedup_checks_total",
			Help: "Total duplicate checks by outcome",
		},
		[]string{"outcome"}, // duplicate, unique, error
	)

	// TrackedEntries tracks the current number of tracked signatures.
	TrackedEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crashbeacon_dedup_tracked_entries",
			Help: "Current number of tracked error signatures",
		},
	)

	// CompactionsTotal counts write-triggered compaction runs.
	CompactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crashbeacon_dedup_compactions_total",
			Help: "Total compaction runs triggered by the entry cap",
		},
	)

	// StoreErrorsTotal counts store failures the filter degraded through.
	StoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crashbeacon_dedup_store_errors_total",
			Help: "Total dedup store errors (filter failed open)",
		},
	)
)

// Defaults for the duplicate filter.
const (
	// DefaultTTL is the tracking window: 7 days.
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultMaxTracked is the hard cap on tracked signatures.
	DefaultMaxTracked = 1000
)

// Config holds duplicate filter settings. Zero values use defaults.
type Config struct {
	// TTL is the tracking window within which a repeat is suppressed.
	TTL time.Duration

	// MaxTracked is the entry cap that triggers compaction on write.
	MaxTracked int

	// Version is the plugin version folded into signatures, so a fixed
	// bug re-keys across releases instead of staying suppressed.
	Version string
}

// Filter decides whether an error has already been reported recently.
// All operations are O(1) amortized; compaction runs opportunistically on
// the read and write paths, so no sweep job is needed.
type Filter struct {
	store      Store
	ttl        time.Duration
	maxTracked int
	version    string
	log        zerolog.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewFilter creates a duplicate filter over the given store.
func NewFilter(store Store, cfg Config) *Filter {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxTracked <= 0 {
		cfg.MaxTracked = DefaultMaxTracked
	}
	return &Filter{
		store:      store,
		ttl:        cfg.TTL,
		maxTracked: cfg.MaxTracked,
		version:    cfg.Version,
		log:        logging.Component("dedup"),
		now:        time.Now,
	}
}

// Signature returns the dedup key for a report under this filter's
// version tag.
func (f *Filter) Signature(r *models.ErrorReport) string {
	return models.Signature(r, f.version)
}

// IsDuplicate reports whether the same underlying bug was already
// reported within the tracking window.
//
// Fails open: a store error returns false, because a dedup failure must
// never silently drop a real report. The failure is surfaced on the
// diagnostic channel instead.
func (f *Filter) IsDuplicate(ctx context.Context, r *models.ErrorReport) bool {
	sig := f.Signature(r)

	reportedAt, found, err := f.store.Get(ctx, sig)
	if err != nil {
		StoreErrorsTotal.Inc()
		ChecksTotal.WithLabelValues("error").Inc()
		f.log.Warn().Err(err).Str("signature", sig).Msg("dedup store read failed, failing open")
		return false
	}
	if !found {
		ChecksTotal.WithLabelValues("unique").Inc()
		return false
	}

	if f.now().Sub(reportedAt) < f.ttl {
		ChecksTotal.WithLabelValues("duplicate").Inc()
		f.log.Debug().Str("signature", sig).Time("reported_at", reportedAt).Msg("duplicate suppressed")
		return true
	}

	// Expired entry encountered on the read path: drop it now rather than
	// waiting for a write-triggered compaction.
	if err := f.store.Delete(ctx, sig); err != nil {
		f.log.Debug().Err(err).Str("signature", sig).Msg("expired entry cleanup failed")
	}
	ChecksTotal.WithLabelValues("unique").Inc()
	return false
}

// MarkReported records that a report for this bug was dispatched now.
// When the store exceeds the entry cap, expired entries are compacted
// away before returning. Returns false only if the upsert itself failed.
func (f *Filter) MarkReported(ctx context.Context, r *models.ErrorReport) bool {
	sig := f.Signature(r)

	if err := f.store.Set(ctx, sig, f.now(), f.ttl); err != nil {
		StoreErrorsTotal.Inc()
		f.log.Warn().Err(err).Str("signature", sig).Msg("dedup store write failed")
		return false
	}

	count, err := f.store.Count(ctx)
	if err != nil {
		StoreErrorsTotal.Inc()
		f.log.Debug().Err(err).Msg("dedup store count failed, skipping compaction check")
		return true
	}
	TrackedEntries.Set(float64(count))

	if count > f.maxTracked {
		f.compact(ctx)
	}
	return true
}

// ClearAll removes every tracked signature. Administrative.
func (f *Filter) ClearAll(ctx context.Context) error {
	if err := f.store.DeleteAll(ctx); err != nil {
		StoreErrorsTotal.Inc()
		return err
	}
	TrackedEntries.Set(0)
	return nil
}

// Count returns the number of tracked signatures, 0 on store error.
func (f *Filter) Count(ctx context.Context) int {
	count, err := f.store.Count(ctx)
	if err != nil {
		StoreErrorsTotal.Inc()
		f.log.Debug().Err(err).Msg("dedup store count failed")
		return 0
	}
	return count
}

// compact drops entries older than the TTL. Invoked from the write path
// when the entry cap is exceeded; the store never grows past
// maxTracked + a handful of unexpired entries between compactions.
func (f *Filter) compact(ctx context.Context) {
	CompactionsTotal.Inc()

	entries, err := f.store.All(ctx)
	if err != nil {
		StoreErrorsTotal.Inc()
		f.log.Warn().Err(err).Msg("compaction scan failed")
		return
	}

	now := f.now()
	removed := 0
	for sig, reportedAt := range entries {
		if now.Sub(reportedAt) >= f.ttl {
			if err := f.store.Delete(ctx, sig); err != nil {
				f.log.Debug().Err(err).Str("signature", sig).Msg("compaction delete failed")
				continue
			}
			removed++
		}
	}

	TrackedEntries.Set(float64(len(entries) - removed))
	f.log.Debug().Int("removed", removed).Int("remaining", len(entries)-removed).Msg("dedup compaction completed")
}
