// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package delivery defines the boundary to whatever actually sends the
// report. The pipeline treats delivery as a boolean send primitive:
// template rendering, transport, and any retry policy belong to the sink.
package delivery

import (
	"context"

	"github.com/tomtom215/crashbeacon/internal/models"
)

// Sink accepts a final diagnostic payload. A nil return means the report
// was dispatched; any error means it was not.
type Sink interface {
	Send(ctx context.Context, payload *models.Payload) error
}

// FuncSink adapts a plain function to the Sink interface, for tests and
// host-provided senders.
type FuncSink func(ctx context.Context, payload *models.Payload) error

// Send implements Sink.
func (f FuncSink) Send(ctx context.Context, payload *models.Payload) error {
	return f(ctx, payload)
}
