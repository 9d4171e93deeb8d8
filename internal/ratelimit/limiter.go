// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/tomtom215/crashbeacon/internal/logging"
)

// Rate limiter metrics.
var (
	// DecisionsTotal counts rate limit decisions by outcome.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashbeacon_ratelimit_decisions_total",
			Help: "Total rate limit decisions by outcome",
		},
		[]string{"outcome"}, // allowed, limited, error
	)

	// StoreErrorsTotal counts counter store failures the limiter degraded
	// through.
	StoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crashbeacon_ratelimit_store_errors_total",
			Help: "Total rate counter store errors (limiter failed open)",
		},
	)
)

// Defaults for the rate limiter.
const (
	// DefaultWindow is the fixed window duration: 10 minutes.
	DefaultWindow = 10 * time.Minute

	// DefaultMaxPerWindow is the report cap per window.
	DefaultMaxPerWindow = 5
)

// Config holds rate limiter settings. Zero values use defaults.
type Config struct {
	// Window is the fixed window duration.
	Window time.Duration

	// MaxPerWindow is the report cap within one window.
	MaxPerWindow int

	// Tenant identifies the install (e.g. site id or URL). The counter
	// key is derived from its hash so multi-tenant deployments sharing
	// one store never share a counter.
	Tenant string
}

// Limiter is a fixed-window counter capping reports per tenant.
type Limiter struct {
	store  CounterStore
	window time.Duration
	max    int
	key    string
	log    zerolog.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewLimiter creates a fixed-window rate limiter over the given store.
func NewLimiter(store CounterStore, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = DefaultMaxPerWindow
	}
	return &Limiter{
		store:  store,
		window: cfg.Window,
		max:    cfg.MaxPerWindow,
		key:    tenantKey(cfg.Tenant),
		log:    logging.Component("ratelimit"),
		now:    time.Now,
	}
}

// tenantKey derives the counter key from the tenant identifier. Hashing
// keeps arbitrary site URLs out of store keys and bounds key length.
func tenantKey(tenant string) string {
	sum := sha256.Sum256([]byte(tenant))
	return hex.EncodeToString(sum[:6])
}

// CanSend reports whether another report fits in the current window.
//
// Fails open: a store error returns true, because a limiter failure must
// never silently drop a real report.
func (l *Limiter) CanSend(ctx context.Context) bool {
	count, err := l.store.Get(ctx, l.key)
	if err != nil {
		StoreErrorsTotal.Inc()
		DecisionsTotal.WithLabelValues("error").Inc()
		l.log.Warn().Err(err).Msg("rate counter read failed, failing open")
		return true
	}

	if count >= l.max {
		DecisionsTotal.WithLabelValues("limited").Inc()
		return false
	}
	DecisionsTotal.WithLabelValues("allowed").Inc()
	return true
}

// Increment counts one dispatched report against the current window.
// The first increment of a window sets the counter's expiry to the full
// window duration; later increments preserve the remaining expiry so the
// window boundary stays fixed.
func (l *Limiter) Increment(ctx context.Context) error {
	count, err := l.store.Get(ctx, l.key)
	if err != nil {
		StoreErrorsTotal.Inc()
		return err
	}

	ttl := l.window
	if count > 0 {
		expiry, err := l.store.Expiry(ctx, l.key)
		if err != nil {
			StoreErrorsTotal.Inc()
			return err
		}
		if remaining := expiry.Sub(l.now()); remaining > 0 {
			ttl = remaining
		} else {
			// Window lapsed between Get and Expiry: start fresh.
			count = 0
		}
	}

	if err := l.store.Set(ctx, l.key, count+1, ttl); err != nil {
		StoreErrorsTotal.Inc()
		return err
	}
	return nil
}

// Reset clears the current window. Administrative; also used to bypass
// limiting for critical errors.
func (l *Limiter) Reset(ctx context.Context) error {
	if err := l.store.Delete(ctx, l.key); err != nil {
		StoreErrorsTotal.Inc()
		return err
	}
	return nil
}

// Remaining returns how many reports fit in the current window, never
// negative. Degrades to the full cap on store error.
func (l *Limiter) Remaining(ctx context.Context) int {
	count, err := l.store.Get(ctx, l.key)
	if err != nil {
		StoreErrorsTotal.Inc()
		l.log.Debug().Err(err).Msg("rate counter read failed")
		return l.max
	}
	if count >= l.max {
		return 0
	}
	return l.max - count
}

// WindowExpires returns when the current window lapses; zero time when no
// window is active or the store failed.
func (l *Limiter) WindowExpires(ctx context.Context) time.Time {
	expiry, err := l.store.Expiry(ctx, l.key)
	if err != nil {
		StoreErrorsTotal.Inc()
		l.log.Debug().Err(err).Msg("rate counter expiry read failed")
		return time.Time{}
	}
	return expiry
}
