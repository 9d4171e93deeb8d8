// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/crashbeacon/internal/config"
	"github.com/tomtom215/crashbeacon/internal/pipeline"
)

func newTestPipeline(t *testing.T) (*config.Config, *pipeline.Pipeline) {
	t.Helper()

	cfg := config.Default()
	cfg.SiteID = "cli-test"

	p, cleanup, err := buildPipeline(cfg)
	if err != nil {
		t.Fatalf("buildPipeline failed: %v", err)
	}
	t.Cleanup(cleanup)
	return cfg, p
}

func TestRun_ReportFromStdin(t *testing.T) {
	cfg, p := newTestPipeline(t)

	in := strings.NewReader(`{"message":"Fatal: boom","code":500,"file":"a.php","line":10}`)
	var out bytes.Buffer

	if err := run(context.Background(), cfg, p, command{}, in, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !strings.Contains(out.String(), `"state": "delivered"`) {
		t.Errorf("Expected delivered result, got: %s", out.String())
	}
	if !strings.Contains(out.String(), `"reference_id"`) {
		t.Errorf("Expected reference id in result, got: %s", out.String())
	}
}

func TestRun_InvalidReportFails(t *testing.T) {
	cfg, p := newTestPipeline(t)

	in := strings.NewReader(`{"message":"no line","code":500,"file":"a.php"}`)
	var out bytes.Buffer

	err := run(context.Background(), cfg, p, command{}, in, &out)
	if err == nil {
		t.Fatal("Expected a validation error exit")
	}
	if !strings.Contains(out.String(), `"rejected"`) {
		t.Errorf("Expected rejected result printed before exit, got: %s", out.String())
	}
}

func TestRun_MalformedJSON(t *testing.T) {
	cfg, p := newTestPipeline(t)

	if err := run(context.Background(), cfg, p, command{}, strings.NewReader("{nope"), &bytes.Buffer{}); err == nil {
		t.Fatal("Expected a decode error")
	}
}

func TestRun_Stats(t *testing.T) {
	cfg, p := newTestPipeline(t)

	var out bytes.Buffer
	if err := run(context.Background(), cfg, p, command{stats: true}, nil, &out); err != nil {
		t.Fatalf("run -stats failed: %v", err)
	}

	var stats pipeline.Stats
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatalf("Decoding stats output: %v", err)
	}
	if stats.TrackedErrors != 0 {
		t.Errorf("Expected empty state, got %d tracked", stats.TrackedErrors)
	}
}

func TestRun_AdminCommands(t *testing.T) {
	cfg, p := newTestPipeline(t)

	if err := run(context.Background(), cfg, p, command{clearTracked: true}, nil, &bytes.Buffer{}); err != nil {
		t.Errorf("clear-tracked failed: %v", err)
	}
	if err := run(context.Background(), cfg, p, command{resetRate: true}, nil, &bytes.Buffer{}); err != nil {
		t.Errorf("reset-rate failed: %v", err)
	}
}

func TestBuildPipeline_PersistentStore(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()

	p, cleanup, err := buildPipeline(cfg)
	if err != nil {
		t.Fatalf("buildPipeline with badger failed: %v", err)
	}
	defer cleanup()

	if p == nil {
		t.Fatal("Expected a pipeline")
	}
}
