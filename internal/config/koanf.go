// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"crashbeacon.yaml",
	"crashbeacon.yml",
	"/etc/crashbeacon/config.yaml",
	"/etc/crashbeacon/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CRASHBEACON_CONFIG"

// envPrefix namespaces Crashbeacon's environment variables so they never
// collide with the host process's environment.
const envPrefix = "CRASHBEACON_"

// Load builds the configuration from three layers: struct defaults, an
// optional YAML file, then CRASHBEACON_* environment variables, highest
// priority last. An empty path triggers the default search.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults.
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading default configuration: %w", err)
	}

	// Layer 2: optional config file.
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables.
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing default config path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps CRASHBEACON_* variables (prefix stripped, lowercased)
// to config paths. An explicit table avoids guessing where underscores
// become nesting separators.
var envMappings = map[string]string{
	"site_id":              "site_id",
	"plugin_version":       "plugin_version",
	"tracking_max_entries": "tracking.max_entries",
	"tracking_duration":    "tracking.duration",
	"rate_window":          "rate_limit.window",
	"rate_max_per_window":  "rate_limit.max_per_window",
	"log_path":             "log_tail.path",
	"log_lines":            "log_tail.lines",
	"log_chunk_bytes":      "log_tail.chunk_bytes",
	"log_max_bytes":        "log_tail.max_bytes",
	"webhook_url":          "delivery.webhook_url",
	"delivery_timeout":     "delivery.timeout",
	"breaker_threshold":    "delivery.breaker_threshold",
	"breaker_open_for":     "delivery.breaker_open_for",
	"storage_path":         "storage.path",
	"diag_enabled":         "diag.enabled",
	"diag_listen":          "diag.listen",
	"diag_rpm":             "diag.requests_per_minute",
	"log_level":            "logging.level",
	"log_format":           "logging.format",
}

// envTransform maps one environment variable name to its config path.
// Unknown variables are dropped rather than guessed into paths.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if path, ok := envMappings[key]; ok {
		return path
	}
	return ""
}
