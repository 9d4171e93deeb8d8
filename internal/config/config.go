// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package config defines Crashbeacon's configuration and its three-layer
// loader: struct defaults, then an optional YAML file, then environment
// variables, highest priority last.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the reporting subsystem.
type Config struct {
	// SiteID identifies this install. It scopes the rate limit counter,
	// so multi-tenant deployments sharing one store never share a cap.
	SiteID string `koanf:"site_id" validate:"required"`

	// PluginVersion is folded into dedup signatures so a fixed bug
	// re-keys across releases.
	PluginVersion string `koanf:"plugin_version"`

	Tracking  TrackingConfig  `koanf:"tracking"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	LogTail   LogTailConfig   `koanf:"log_tail"`
	Delivery  DeliveryConfig  `koanf:"delivery"`
	Storage   StorageConfig   `koanf:"storage"`
	Diag      DiagConfig      `koanf:"diag"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// TrackingConfig controls duplicate suppression.
type TrackingConfig struct {
	// MaxEntries caps the tracked-signature store.
	MaxEntries int `koanf:"max_entries" validate:"min=1"`

	// Duration is the suppression window for a repeated error.
	Duration time.Duration `koanf:"duration" validate:"min=1m"`
}

// RateLimitConfig controls the per-tenant report cap.
type RateLimitConfig struct {
	// Window is the fixed window duration.
	Window time.Duration `koanf:"window" validate:"min=1s"`

	// MaxPerWindow is the report cap within one window.
	MaxPerWindow int `koanf:"max_per_window" validate:"min=1"`
}

// LogTailConfig controls the debug log tail attached to payloads.
type LogTailConfig struct {
	// Path is the host debug log. Empty disables the tail.
	Path string `koanf:"path"`

	// Lines is the number of trailing lines to attach.
	Lines int `koanf:"lines" validate:"min=1,max=10000"`

	// ChunkBytes is the backward read chunk size.
	ChunkBytes int `koanf:"chunk_bytes" validate:"min=512"`

	// MaxBytes is the hard read budget from the tail of the file.
	MaxBytes int64 `koanf:"max_bytes" validate:"min=1024"`
}

// DeliveryConfig controls the reference webhook sink used by the CLI.
// Hosts embedding the library inject their own sink instead.
type DeliveryConfig struct {
	// WebhookURL receives the JSON payload.
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`

	// Timeout bounds the single outbound delivery call.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// delivery circuit breaker. 0 disables the breaker.
	BreakerThreshold uint32 `koanf:"breaker_threshold"`

	// BreakerOpenFor is how long the circuit stays open.
	BreakerOpenFor time.Duration `koanf:"breaker_open_for"`
}

// StorageConfig controls the shared TTL key-value store.
type StorageConfig struct {
	// Path is the BadgerDB directory. Empty selects in-memory stores
	// (suppression state then lasts only for the process lifetime).
	Path string `koanf:"path"`
}

// DiagConfig controls the local diagnostics endpoint.
type DiagConfig struct {
	// Enabled starts the HTTP diagnostics listener.
	Enabled bool `koanf:"enabled"`

	// Listen is the bind address. Loopback by default; this endpoint is
	// operator plumbing, not a public surface.
	Listen string `koanf:"listen" validate:"omitempty,hostname_port"`

	// RequestsPerMinute rate-limits the endpoint per client IP.
	RequestsPerMinute int `koanf:"requests_per_minute" validate:"min=1"`
}

// LoggingConfig controls the diagnostic logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns a Config with all default values applied.
func Default() *Config {
	return &Config{
		SiteID:        "default",
		PluginVersion: "",
		Tracking: TrackingConfig{
			MaxEntries: 1000,
			Duration:   7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Window:       10 * time.Minute,
			MaxPerWindow: 5,
		},
		LogTail: LogTailConfig{
			Path:       "",
			Lines:      150,
			ChunkBytes: 8192,
			MaxBytes:   5 << 20,
		},
		Delivery: DeliveryConfig{
			WebhookURL:       "",
			Timeout:          10 * time.Second,
			BreakerThreshold: 3,
			BreakerOpenFor:   time.Minute,
		},
		Storage: StorageConfig{
			Path: "",
		},
		Diag: DiagConfig{
			Enabled:           false,
			Listen:            "127.0.0.1:6060",
			RequestsPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// validate is the package validator. go-playground caches struct info,
// so one shared instance is cheaper than per-call construction.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if int64(c.LogTail.ChunkBytes) > c.LogTail.MaxBytes {
		return fmt.Errorf("invalid configuration: log_tail.chunk_bytes (%d) exceeds log_tail.max_bytes (%d)",
			c.LogTail.ChunkBytes, c.LogTail.MaxBytes)
	}
	return nil
}
