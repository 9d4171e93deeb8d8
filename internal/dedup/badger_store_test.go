// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func openTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewBadgerStore(openTestBadger(t), "")

	ts := time.Unix(1700000000, 0).UTC()
	if err := store.Set(ctx, "sig-1", ts, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, found, err := store.Get(ctx, "sig-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected signature to be found")
	}
	if !got.Equal(ts) {
		t.Errorf("Expected %v, got %v", ts, got)
	}

	_, found, err = store.Get(ctx, "sig-missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected absent signature to report not found")
	}
}

func TestBadgerStore_AllAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewBadgerStore(openTestBadger(t), "")

	ts := time.Unix(1700000000, 0).UTC()
	for _, sig := range []string{"a", "b", "c"} {
		if err := store.Set(ctx, sig, ts, time.Hour); err != nil {
			t.Fatalf("Set(%q) failed: %v", sig, err)
		}
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(all))
	}
	if _, ok := all["b"]; !ok {
		t.Error("Expected signature 'b' in All result, keys must be stored without prefix")
	}

	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if count, _ := store.Count(ctx); count != 2 {
		t.Errorf("Expected 2 entries after delete, got %d", count)
	}

	if err := store.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if count, _ := store.Count(ctx); count != 0 {
		t.Errorf("Expected empty store after DeleteAll, got %d", count)
	}
}

func TestBadgerStore_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	db := openTestBadger(t)

	a := NewBadgerStore(db, "dedup-a:")
	b := NewBadgerStore(db, "dedup-b:")

	ts := time.Now().UTC()
	if err := a.Set(ctx, "shared-sig", ts, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, found, _ := b.Get(ctx, "shared-sig"); found {
		t.Error("Stores with different prefixes must not see each other's keys")
	}
	if err := b.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if _, found, _ := a.Get(ctx, "shared-sig"); !found {
		t.Error("DeleteAll on one prefix must not clear the other")
	}
}

func TestBadgerStore_Closed(t *testing.T) {
	ctx := context.Background()
	store := NewBadgerStore(openTestBadger(t), "")
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, _, err := store.Get(ctx, "x"); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
	if err := store.Set(ctx, "x", time.Now(), time.Hour); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
}

func TestFilter_WithBadgerStore(t *testing.T) {
	ctx := context.Background()
	f := NewFilter(NewBadgerStore(openTestBadger(t), ""), Config{TTL: time.Hour})
	r := testReport("badger-backed boom")

	if f.IsDuplicate(ctx, r) {
		t.Error("Expected false before MarkReported")
	}
	if !f.MarkReported(ctx, r) {
		t.Fatal("MarkReported failed")
	}
	if !f.IsDuplicate(ctx, r) {
		t.Error("Expected true after MarkReported")
	}
	if got := f.Count(ctx); got != 1 {
		t.Errorf("Expected 1 tracked entry, got %d", got)
	}
}
