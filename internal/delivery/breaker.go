// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package delivery

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/crashbeacon/internal/logging"
	"github.com/tomtom215/crashbeacon/internal/models"
)

// BreakerConfig holds circuit breaker settings for a wrapped sink.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// FailureThreshold is the number of consecutive delivery failures
	// that opens the circuit.
	FailureThreshold uint32

	// Timeout is how long the circuit stays open before a probe attempt.
	Timeout time.Duration
}

// BreakerSink wraps a Sink with a circuit breaker so that a dead delivery
// endpoint fails fast instead of stalling every incident for the full
// request timeout. No retry is performed; a fast failure surfaces to the
// caller exactly like a slow one.
type BreakerSink struct {
	inner Sink
	cb    *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerSink wraps a sink with a circuit breaker. Zero config fields
// default to 3 consecutive failures and a 60s open interval.
func NewBreakerSink(inner Sink, cfg BreakerConfig) *BreakerSink {
	if cfg.Name == "" {
		cfg.Name = "delivery"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	log := logging.Component("delivery")
	settings := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("delivery circuit breaker state change")
		},
	}

	return &BreakerSink{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Send delivers through the breaker. While the circuit is open the inner
// sink is not invoked and gobreaker.ErrOpenState is returned.
func (s *BreakerSink) Send(ctx context.Context, payload *models.Payload) error {
	_, err := s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.inner.Send(ctx, payload)
	})
	return err
}

// State returns the breaker state for diagnostics.
func (s *BreakerSink) State() string {
	return s.cb.State().String()
}
