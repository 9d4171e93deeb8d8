// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package envprobe

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// processStart anchors the uptime probe.
var processStart = time.Now()

// DefaultProbes returns the built-in probe set covering the Go runtime
// and the process. Host-framework facts (app name, version, active
// integrations) are injected by the embedder via Add.
func DefaultProbes() []Probe {
	return []Probe{
		{Name: "go_version", Fn: func() (string, error) {
			return runtime.Version(), nil
		}},
		{Name: "os", Fn: func() (string, error) {
			return runtime.GOOS + "/" + runtime.GOARCH, nil
		}},
		{Name: "num_cpu", Fn: func() (string, error) {
			return fmt.Sprintf("%d", runtime.NumCPU()), nil
		}},
		{Name: "goroutines", Fn: func() (string, error) {
			return fmt.Sprintf("%d", runtime.NumGoroutine()), nil
		}},
		{Name: "heap_in_use", Fn: func() (string, error) {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return formatBytes(m.HeapInuse), nil
		}},
		{Name: "mem_sys", Fn: func() (string, error) {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return formatBytes(m.Sys), nil
		}},
		{Name: "hostname", Fn: func() (string, error) {
			return os.Hostname()
		}},
		{Name: "pid", Fn: func() (string, error) {
			return fmt.Sprintf("%d", os.Getpid()), nil
		}},
		{Name: "process_uptime", Fn: func() (string, error) {
			return time.Since(processStart).Round(time.Second).String(), nil
		}},
	}
}
