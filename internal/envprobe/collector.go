// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package envprobe gathers a point-in-time snapshot of the runtime
// environment for diagnostic payloads. Each fact comes from an
// independent probe; a failing or panicking probe substitutes a
// placeholder value and never aborts collection of the remaining facts.
package envprobe

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/tomtom215/crashbeacon/internal/logging"
)

// ProbeFailuresTotal counts probes that degraded to the placeholder.
var ProbeFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crashbeacon_env_probe_failures_total",
		Help: "Total environment probes that failed and substituted a placeholder",
	},
	[]string{"probe"},
)

// Placeholder is the value substituted for a failing probe.
const Placeholder = "unavailable"

// Probe gathers one named environment fact.
type Probe struct {
	// Name is the snapshot map key.
	Name string

	// Fn produces the fact. Errors and panics degrade to Placeholder.
	Fn func() (string, error)
}

// Collector runs a probe set and assembles the snapshot map.
// The collector itself is stateless; the pipeline memoizes one snapshot
// per invocation.
type Collector struct {
	probes []Probe
	log    zerolog.Logger
}

// New creates a collector over the given probes.
func New(probes []Probe) *Collector {
	return &Collector{
		probes: probes,
		log:    logging.Component("envprobe"),
	}
}

// Add appends extra probes, e.g. host-framework facts injected by the
// embedding plugin.
func (c *Collector) Add(probes ...Probe) {
	c.probes = append(c.probes, probes...)
}

// Collect runs every probe and returns the snapshot map. Probe failures
// are isolated: the failing fact maps to Placeholder and the rest of the
// snapshot is unaffected.
func (c *Collector) Collect() map[string]string {
	snapshot := make(map[string]string, len(c.probes))
	for _, p := range c.probes {
		snapshot[p.Name] = c.runProbe(p)
	}
	return snapshot
}

// runProbe executes one probe, containing errors and panics.
func (c *Collector) runProbe(p Probe) (value string) {
	defer func() {
		if r := recover(); r != nil {
			ProbeFailuresTotal.WithLabelValues(p.Name).Inc()
			c.log.Warn().Str("probe", p.Name).Interface("panic", r).Msg("environment probe panicked")
			value = Placeholder
		}
	}()

	v, err := p.Fn()
	if err != nil {
		ProbeFailuresTotal.WithLabelValues(p.Name).Inc()
		c.log.Debug().Str("probe", p.Name).Err(err).Msg("environment probe failed")
		return Placeholder
	}
	return v
}

// StaticProbe returns a probe that always yields the given value.
// Used for host-injected facts like the plugin version.
func StaticProbe(name, value string) Probe {
	return Probe{Name: name, Fn: func() (string, error) { return value, nil }}
}

// ListProbe returns a probe yielding a comma-joined list, e.g. the host's
// active integrations.
func ListProbe(name string, values func() []string) Probe {
	return Probe{Name: name, Fn: func() (string, error) {
		list := values()
		if len(list) == 0 {
			return "none", nil
		}
		out := list[0]
		for _, v := range list[1:] {
			out += ", " + v
		}
		return out, nil
	}}
}

// formatBytes renders a byte count in MiB for human-scanned payloads.
func formatBytes(n uint64) string {
	return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
}
