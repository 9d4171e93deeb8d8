// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package metrics holds Prometheus instrumentation for the reporting
// pipeline. Component-local metrics (dedup, rate limit, probes) live in
// their own packages; this one covers end-to-end outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReportsTotal counts pipeline runs by terminal outcome.
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crashbeacon_reports_total",
			Help: "Total error reports processed, by terminal outcome",
		},
		[]string{"outcome"}, // delivered, skipped_duplicate, rejected_validation, rejected_rate_limited, failed
	)

	// DeliverySeconds observes the single outbound delivery call.
	DeliverySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crashbeacon_delivery_seconds",
			Help:    "Duration of delivery sink calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LastDeliveryUnix records when a report last reached the sink.
	LastDeliveryUnix = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crashbeacon_last_delivery_timestamp_seconds",
			Help: "Unix time of the most recent successful delivery",
		},
	)
)
