// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package models defines the data types that flow through the reporting
// pipeline: the incident report supplied by the host, the delivery payload
// handed to the sink, and the pure derivation functions (signature,
// reference id, severity) shared across components.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ErrorReport describes a single caught exception in the host application.
// It is created per incident by the caller, enriched in place by the
// pipeline, and discarded after the attempt. Only its signature persists.
type ErrorReport struct {
	// Message is the error message as caught by the host.
	Message string `json:"message"`

	// Code is the numeric error code (HTTP-style: 500 fatal, 400 user).
	Code int `json:"code"`

	// File is the source file the error originated from, relative to the
	// plugin root where possible.
	File string `json:"file"`

	// Line is the source line number.
	Line int `json:"line"`

	// StackTrace is an optional pre-rendered stack trace.
	StackTrace string `json:"stack_trace,omitempty"`

	// Timestamp is when the incident occurred. Zero means "now" and is
	// filled in by the pipeline.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// IsCritical bypasses duplicate suppression and rate limiting.
	// Reserved for errors that must always reach maintainers.
	IsCritical bool `json:"is_critical,omitempty"`

	// Extra carries arbitrary caller-supplied context fields.
	Extra map[string]string `json:"extra,omitempty"`
}

// signatureSep separates identity fields inside the signature preimage.
// A field value containing the separator would at worst merge two
// signatures, which only costs one suppressed duplicate.
const signatureSep = "|"

// Signature returns a short deterministic fingerprint of the report's
// identity fields {message, file, line, code}, plus the plugin version so a
// fixed bug re-keys across releases instead of staying suppressed forever.
//
// Pure function: identical inputs always produce identical signatures.
// sha256 truncated to 16 hex chars; a collision only suppresses one
// duplicate email, never loses data.
func Signature(r *ErrorReport, version string) string {
	preimage := fmt.Sprintf("%s%s%s%s%d%s%d%s%s",
		r.Message, signatureSep,
		r.File, signatureSep,
		r.Line, signatureSep,
		r.Code, signatureSep,
		version,
	)
	sum := sha256.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:8])
}

// ReferenceID returns a short stable identifier for one dispatched report,
// suitable for maintainers to quote back. Derived from site, location and
// incident time so the same bug produces distinct ids across incidents.
func ReferenceID(site, file string, line int, ts time.Time) string {
	preimage := fmt.Sprintf("%s%s%s%s%d%s%d",
		site, signatureSep, file, signatureSep, line, signatureSep, ts.Unix())
	sum := sha256.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:6])
}

// Payload is the final diagnostic bundle handed to the delivery sink.
// The sink owns template rendering and transport.
type Payload struct {
	ErrorMessage     string            `json:"error_message"`
	ErrorCode        int               `json:"error_code"`
	RelativeFilePath string            `json:"relative_file_path"`
	ErrorLine        int               `json:"error_line"`
	Severity         Severity          `json:"severity"`
	ReferenceID      string            `json:"reference_id"`
	Tenant           string            `json:"tenant,omitempty"`
	StackTrace       string            `json:"stack_trace,omitempty"`
	Environment      map[string]string `json:"environment"`
	LogTail          string            `json:"log_tail"`
	Timestamp        time.Time         `json:"timestamp"`
}
