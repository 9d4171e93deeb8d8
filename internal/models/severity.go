// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package models

import "strings"

// Severity is the coarse triage bucket attached to a delivered report.
type Severity string

// Severity levels, highest first.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ClassifySeverity derives a severity bucket from the error code and
// message. Pure function; the numeric code wins over message keywords.
//
//	code >= 500                          -> high
//	code >= 400                          -> medium
//	message contains fatal/critical      -> high
//	message contains warning             -> medium
//	message contains notice              -> low
//	otherwise                            -> medium
func ClassifySeverity(code int, message string) Severity {
	switch {
	case code >= 500:
		return SeverityHigh
	case code >= 400:
		return SeverityMedium
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "fatal"), strings.Contains(msg, "critical"):
		return SeverityHigh
	case strings.Contains(msg, "warning"):
		return SeverityMedium
	case strings.Contains(msg, "notice"):
		return SeverityLow
	default:
		return SeverityMedium
	}
}
