// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package pipeline orchestrates one error report from incident to
// dispatch decision:
//
//	Received -> Validated -> DedupChecked -> RateChecked -> Enriched
//	         -> {Delivered | Skipped | Rejected | Failed}
//
// Validation is the only fatal stage. Every other external call (stores,
// probes, sink) is wrapped so a failure degrades to a safe default:
// permissive for the dedup and rate gates, placeholder for data. Failures
// are surfaced on the diagnostic channel (structured log + metrics), not
// to the caller as panics.
//
// All collaborators are injected through the constructor. There is no
// global registry and no singleton accessor; the host builds one Pipeline
// and owns its lifetime.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/crashbeacon/internal/config"
	"github.com/tomtom215/crashbeacon/internal/dedup"
	"github.com/tomtom215/crashbeacon/internal/delivery"
	"github.com/tomtom215/crashbeacon/internal/envprobe"
	"github.com/tomtom215/crashbeacon/internal/logging"
	"github.com/tomtom215/crashbeacon/internal/logtail"
	"github.com/tomtom215/crashbeacon/internal/metrics"
	"github.com/tomtom215/crashbeacon/internal/models"
	"github.com/tomtom215/crashbeacon/internal/ratelimit"
)

// State is a pipeline stage or terminal outcome.
type State string

// Pipeline states. The first five are transitional; the last four are
// terminal.
const (
	StateReceived     State = "received"
	StateValidated    State = "validated"
	StateDedupChecked State = "dedup_checked"
	StateRateChecked  State = "rate_checked"
	StateEnriched     State = "enriched"

	StateDelivered State = "delivered"
	StateSkipped   State = "skipped"
	StateRejected  State = "rejected"
	StateFailed    State = "failed"
)

// Rejection and skip reasons.
const (
	ReasonValidation  = "validation"
	ReasonRateLimited = "rate_limited"
	ReasonDuplicate   = "duplicate"
)

// Sentinel errors returned alongside terminal results.
var (
	// ErrValidation indicates a required field was missing.
	ErrValidation = errors.New("report validation failed")

	// ErrRateLimited indicates the window cap was reached.
	ErrRateLimited = errors.New("report rate limit exceeded")
)

// Result describes the terminal outcome of one pipeline run.
type Result struct {
	// State is a terminal state: Delivered, Skipped, Rejected or Failed.
	State State `json:"state"`

	// Reason qualifies Rejected and Skipped outcomes.
	Reason string `json:"reason,omitempty"`

	// ReferenceID is set for reports that reached enrichment.
	ReferenceID string `json:"reference_id,omitempty"`

	// Severity is set for reports that passed validation.
	Severity models.Severity `json:"severity,omitempty"`

	// Signature is the dedup key the report resolved to.
	Signature string `json:"signature,omitempty"`
}

// Ok reports whether the run is a success from the caller's view:
// the report was delivered, or intentionally skipped as a duplicate.
func (r *Result) Ok() bool {
	return r.State == StateDelivered || r.State == StateSkipped
}

// Stats is the administrative snapshot exposed to operators.
type Stats struct {
	TrackedErrors      int       `json:"tracked_errors"`
	RateLimitRemaining int       `json:"rate_limit_remaining"`
	WindowExpires      time.Time `json:"window_expires"`
}

// Pipeline composes the reporting components. Safe for concurrent use;
// per-run state lives on the stack of Report.
type Pipeline struct {
	cfg       *config.Config
	filter    *dedup.Filter
	limiter   *ratelimit.Limiter
	collector *envprobe.Collector
	tail      *logtail.Reader
	sink      delivery.Sink
	log       zerolog.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New wires a pipeline from its collaborators.
func New(cfg *config.Config, filter *dedup.Filter, limiter *ratelimit.Limiter,
	collector *envprobe.Collector, tail *logtail.Reader, sink delivery.Sink) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		filter:    filter,
		limiter:   limiter,
		collector: collector,
		tail:      tail,
		sink:      sink,
		log:       logging.Component("pipeline"),
		now:       time.Now,
	}
}

// Report runs one error report through the pipeline and returns its
// terminal result. The error is non-nil for Rejected and Failed
// outcomes; Skipped is a success from the caller's view.
func (p *Pipeline) Report(ctx context.Context, rep *models.ErrorReport) (*Result, error) {
	log := p.log.With().Str("run_id", uuid.NewString()).Logger()

	// Received -> Validated. The sole strict stage: no store mutation
	// and no delivery happen for an invalid report.
	if field := missingField(rep); field != "" {
		metrics.ReportsTotal.WithLabelValues("rejected_validation").Inc()
		log.Debug().Str("missing", field).Msg("report rejected by validation")
		return &Result{State: StateRejected, Reason: ReasonValidation},
			fmt.Errorf("%w: missing required field %q", ErrValidation, field)
	}

	if rep.Timestamp.IsZero() {
		rep.Timestamp = p.now()
	}

	result := &Result{
		Signature: p.filter.Signature(rep),
		Severity:  models.ClassifySeverity(rep.Code, rep.Message),
	}

	// Validated -> DedupChecked. Critical reports bypass suppression.
	if !rep.IsCritical && p.filter.IsDuplicate(ctx, rep) {
		metrics.ReportsTotal.WithLabelValues("skipped_duplicate").Inc()
		result.State = StateSkipped
		result.Reason = ReasonDuplicate
		return result, nil
	}

	// DedupChecked -> RateChecked. Critical reports clear the window
	// instead of waiting for it.
	if !p.limiter.CanSend(ctx) {
		if !rep.IsCritical {
			metrics.ReportsTotal.WithLabelValues("rejected_rate_limited").Inc()
			result.State = StateRejected
			result.Reason = ReasonRateLimited
			return result, ErrRateLimited
		}
		if err := p.limiter.Reset(ctx); err != nil {
			log.Warn().Err(err).Msg("rate limit reset for critical report failed, proceeding")
		}
	}

	// RateChecked -> Enriched. The environment snapshot is collected
	// once here and memoized for the rest of the run.
	payload := p.enrich(rep, result)

	// Enriched -> Delivered | Failed.
	start := p.now()
	err := p.send(ctx, payload)
	metrics.DeliverySeconds.Observe(p.now().Sub(start).Seconds())

	if err != nil {
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("reference_id", result.ReferenceID).Msg("delivery failed")
		result.State = StateFailed
		return result, fmt.Errorf("delivering report %s: %w", result.ReferenceID, err)
	}

	// Record only after a successful dispatch, so a failed delivery is
	// retried by the next incident rather than suppressed.
	if !p.filter.MarkReported(ctx, rep) {
		log.Warn().Str("signature", result.Signature).Msg("marking reported failed, duplicate suppression degraded")
	}
	if err := p.limiter.Increment(ctx); err != nil {
		log.Warn().Err(err).Msg("rate counter increment failed, limiting degraded")
	}

	metrics.ReportsTotal.WithLabelValues("delivered").Inc()
	metrics.LastDeliveryUnix.Set(float64(p.now().Unix()))
	log.Info().
		Str("reference_id", result.ReferenceID).
		Str("severity", string(result.Severity)).
		Int("code", rep.Code).
		Msg("error report delivered")

	result.State = StateDelivered
	return result, nil
}

// ReportFromError is a convenience wrapper deriving an ErrorReport from a
// Go error at the caller's location. Extra carries host context fields.
func (p *Pipeline) ReportFromError(ctx context.Context, err error, extra map[string]string) (*Result, error) {
	if err == nil {
		return &Result{State: StateRejected, Reason: ReasonValidation},
			fmt.Errorf("%w: nil error", ErrValidation)
	}

	file, line := "unknown", 1
	if _, callerFile, callerLine, ok := runtime.Caller(1); ok {
		file, line = callerFile, callerLine
	}

	return p.Report(ctx, &models.ErrorReport{
		Message:   err.Error(),
		Code:      500,
		File:      file,
		Line:      line,
		Timestamp: p.now(),
		Extra:     extra,
	})
}

// ClearTrackedErrors drops all dedup state. Administrative.
func (p *Pipeline) ClearTrackedErrors(ctx context.Context) error {
	return p.filter.ClearAll(ctx)
}

// ResetRateLimit clears the current rate window. Administrative.
func (p *Pipeline) ResetRateLimit(ctx context.Context) error {
	return p.limiter.Reset(ctx)
}

// Stats returns the operator snapshot of dedup and rate limit state.
func (p *Pipeline) Stats(ctx context.Context) Stats {
	return Stats{
		TrackedErrors:      p.filter.Count(ctx),
		RateLimitRemaining: p.limiter.Remaining(ctx),
		WindowExpires:      p.limiter.WindowExpires(ctx),
	}
}

// missingField returns the name of the first missing required field,
// or "" if the report is valid. Required: message, code, file, line.
func missingField(rep *models.ErrorReport) string {
	switch {
	case rep == nil:
		return "report"
	case rep.Message == "":
		return "message"
	case rep.Code == 0:
		return "code"
	case rep.File == "":
		return "file"
	case rep.Line <= 0:
		return "line"
	}
	return ""
}

// enrich assembles the delivery payload: environment snapshot, log tail,
// severity and reference id. Probe failures already degrade inside the
// collector; a missing debug log degrades to an empty tail.
func (p *Pipeline) enrich(rep *models.ErrorReport, result *Result) *models.Payload {
	result.ReferenceID = models.ReferenceID(p.cfg.SiteID, rep.File, rep.Line, rep.Timestamp)

	env := p.collector.Collect()
	for k, v := range rep.Extra {
		env["extra_"+k] = v
	}

	tail := ""
	if p.cfg.LogTail.Path != "" {
		tail = p.tail.Joined(p.cfg.LogTail.Path)
	}

	result.State = StateEnriched
	return &models.Payload{
		ErrorMessage:     rep.Message,
		ErrorCode:        rep.Code,
		RelativeFilePath: rep.File,
		ErrorLine:        rep.Line,
		Severity:         result.Severity,
		ReferenceID:      result.ReferenceID,
		Tenant:           p.cfg.SiteID,
		StackTrace:       rep.StackTrace,
		Environment:      env,
		LogTail:          tail,
		Timestamp:        rep.Timestamp,
	}
}

// send invokes the sink, containing panics so a broken sink degrades to
// a Failed result instead of unwinding into the host.
func (p *Pipeline) send(ctx context.Context, payload *models.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery sink panicked: %v", r)
		}
	}()
	return p.sink.Send(ctx, payload)
}
