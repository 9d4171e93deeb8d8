// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package dedup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/crashbeacon/internal/models"
)

// fakeClock provides a controllable time source for window tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

// failingStore returns an error from every operation.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errStoreDown
}
func (failingStore) Set(context.Context, string, time.Time, time.Duration) error { return errStoreDown }
func (failingStore) Delete(context.Context, string) error                        { return errStoreDown }
func (failingStore) All(context.Context) (map[string]time.Time, error)           { return nil, errStoreDown }
func (failingStore) DeleteAll(context.Context) error                             { return errStoreDown }
func (failingStore) Count(context.Context) (int, error)                          { return 0, errStoreDown }

func testReport(msg string) *models.ErrorReport {
	return &models.ErrorReport{Message: msg, Code: 500, File: "a.php", Line: 10}
}

func newTestFilter(cfg Config) (*Filter, *fakeClock) {
	f := NewFilter(NewMemoryStore(), cfg)
	clock := newFakeClock()
	f.now = clock.Now
	return f, clock
}

func TestFilter_DedupWindow(t *testing.T) {
	ctx := context.Background()
	f, clock := newTestFilter(Config{TTL: time.Hour})
	r := testReport("boom")

	if f.IsDuplicate(ctx, r) {
		t.Error("Expected false before MarkReported")
	}

	if !f.MarkReported(ctx, r) {
		t.Fatal("MarkReported failed")
	}
	if !f.IsDuplicate(ctx, r) {
		t.Error("Expected true immediately after MarkReported")
	}

	clock.Advance(59 * time.Minute)
	if !f.IsDuplicate(ctx, r) {
		t.Error("Expected true within the TTL window")
	}

	clock.Advance(2 * time.Minute)
	if f.IsDuplicate(ctx, r) {
		t.Error("Expected false once the TTL elapsed")
	}

	// The expired entry is removed on the read path.
	if got := f.Count(ctx); got != 0 {
		t.Errorf("Expected expired entry to be cleaned up, count = %d", got)
	}
}

func TestFilter_DistinctReportsNotDuplicates(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFilter(Config{})

	f.MarkReported(ctx, testReport("boom"))
	if f.IsDuplicate(ctx, testReport("different boom")) {
		t.Error("A distinct error must not be suppressed")
	}
}

func TestFilter_VersionReKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	v1 := NewFilter(store, Config{Version: "1.0.0"})
	v2 := NewFilter(store, Config{Version: "1.0.1"})
	r := testReport("boom")

	v1.MarkReported(ctx, r)
	if !v1.IsDuplicate(ctx, r) {
		t.Error("Expected duplicate under the same version")
	}
	if v2.IsDuplicate(ctx, r) {
		t.Error("A new release must re-key the signature")
	}
}

func TestFilter_Compaction(t *testing.T) {
	ctx := context.Background()
	max := 10
	f, clock := newTestFilter(Config{TTL: time.Hour, MaxTracked: max})

	// Half the entries will be expired by the time the cap is exceeded.
	for i := 0; i < max/2; i++ {
		f.MarkReported(ctx, testReport(fmt.Sprintf("old-%d", i)))
	}
	clock.Advance(2 * time.Hour)
	for i := 0; i < max/2; i++ {
		f.MarkReported(ctx, testReport(fmt.Sprintf("new-%d", i)))
	}

	// Store is exactly at the cap: the next write pushes past it and
	// triggers compaction, which drops the expired half.
	f.MarkReported(ctx, testReport("overflow"))

	got := f.Count(ctx)
	want := max/2 + 1 // unexpired half plus the overflow entry
	if got != want {
		t.Errorf("Expected %d entries after compaction, got %d", want, got)
	}

	// The unexpired entries survived.
	for i := 0; i < max/2; i++ {
		if !f.IsDuplicate(ctx, testReport(fmt.Sprintf("new-%d", i))) {
			t.Errorf("Unexpired entry new-%d was dropped by compaction", i)
		}
	}
}

func TestFilter_FailsOpenOnStoreError(t *testing.T) {
	ctx := context.Background()
	f := NewFilter(failingStore{}, Config{})

	if f.IsDuplicate(ctx, testReport("boom")) {
		t.Error("IsDuplicate must fail open (false) when the store is down")
	}
	if f.MarkReported(ctx, testReport("boom")) {
		t.Error("MarkReported must report failure when the store is down")
	}
	if err := f.ClearAll(ctx); err == nil {
		t.Error("ClearAll should surface the store error")
	}
	if got := f.Count(ctx); got != 0 {
		t.Errorf("Count should degrade to 0 on store error, got %d", got)
	}
}

func TestFilter_ClearAll(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFilter(Config{})

	f.MarkReported(ctx, testReport("a"))
	f.MarkReported(ctx, testReport("b"))
	if got := f.Count(ctx); got != 2 {
		t.Fatalf("Expected 2 tracked entries, got %d", got)
	}

	if err := f.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if got := f.Count(ctx); got != 0 {
		t.Errorf("Expected 0 after ClearAll, got %d", got)
	}
	if f.IsDuplicate(ctx, testReport("a")) {
		t.Error("Cleared entry must not be treated as duplicate")
	}
}
