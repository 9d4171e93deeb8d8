// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// fakeClock provides a controllable time source for window tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestLimiter wires a limiter and its memory store to one fake clock.
func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	store := NewMemoryCounterStore()
	store.now = clock.Now

	l := NewLimiter(store, cfg)
	l.now = clock.Now
	return l, clock
}

// failingCounterStore returns an error from every operation.
type failingCounterStore struct{}

var errCounterDown = errors.New("counter store down")

func (failingCounterStore) Get(context.Context, string) (int, error) { return 0, errCounterDown }
func (failingCounterStore) Set(context.Context, string, int, time.Duration) error {
	return errCounterDown
}
func (failingCounterStore) Delete(context.Context, string) error { return errCounterDown }
func (failingCounterStore) Expiry(context.Context, string) (time.Time, error) {
	return time.Time{}, errCounterDown
}

func TestLimiter_Boundary(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(Config{Window: 10 * time.Minute, MaxPerWindow: 5, Tenant: "site-1"})

	// Exactly max increments keep CanSend true.
	for i := 0; i < 5; i++ {
		if !l.CanSend(ctx) {
			t.Fatalf("CanSend flipped false after %d increments, cap is 5", i)
		}
		if err := l.Increment(ctx); err != nil {
			t.Fatalf("Increment %d failed: %v", i, err)
		}
	}

	if l.CanSend(ctx) {
		t.Error("CanSend must be false once the cap is reached")
	}
	if got := l.Remaining(ctx); got != 0 {
		t.Errorf("Expected 0 remaining, got %d", got)
	}
}

func TestLimiter_WindowSelfResets(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(Config{Window: 10 * time.Minute, MaxPerWindow: 2, Tenant: "site-1"})

	l.Increment(ctx)
	l.Increment(ctx)
	if l.CanSend(ctx) {
		t.Fatal("Expected limit reached")
	}

	// No explicit reset: the stored window TTL lapses on its own.
	clock.Advance(10*time.Minute + time.Second)
	if !l.CanSend(ctx) {
		t.Error("Expected CanSend true after the window TTL elapsed")
	}
	if got := l.Remaining(ctx); got != 2 {
		t.Errorf("Expected full cap remaining after lapse, got %d", got)
	}
}

func TestLimiter_WindowBoundaryStaysFixed(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(Config{Window: 10 * time.Minute, MaxPerWindow: 5, Tenant: "site-1"})

	start := clock.Now()
	l.Increment(ctx)

	// Later increments must not push the window boundary out.
	clock.Advance(4 * time.Minute)
	l.Increment(ctx)
	clock.Advance(4 * time.Minute)
	l.Increment(ctx)

	expires := l.WindowExpires(ctx)
	want := start.Add(10 * time.Minute)
	if !expires.Equal(want) {
		t.Errorf("Expected window to expire at %v, got %v", want, expires)
	}
}

func TestLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(Config{MaxPerWindow: 1, Tenant: "site-1"})

	l.Increment(ctx)
	if l.CanSend(ctx) {
		t.Fatal("Expected limit reached")
	}

	if err := l.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !l.CanSend(ctx) {
		t.Error("Expected CanSend true after Reset")
	}
	if got := l.WindowExpires(ctx); !got.IsZero() {
		t.Errorf("Expected zero expiry after Reset, got %v", got)
	}
}

func TestLimiter_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	store := NewMemoryCounterStore()
	store.now = clock.Now

	a := NewLimiter(store, Config{MaxPerWindow: 1, Tenant: "site-a"})
	a.now = clock.Now
	b := NewLimiter(store, Config{MaxPerWindow: 1, Tenant: "site-b"})
	b.now = clock.Now

	a.Increment(ctx)
	if a.CanSend(ctx) {
		t.Error("Tenant a should be at its cap")
	}
	if !b.CanSend(ctx) {
		t.Error("Tenant b must not share tenant a's counter")
	}
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(failingCounterStore{}, Config{MaxPerWindow: 1, Tenant: "site-1"})

	if !l.CanSend(ctx) {
		t.Error("CanSend must fail open (true) when the store is down")
	}
	if err := l.Increment(ctx); err == nil {
		t.Error("Increment should surface the store error")
	}
	if got := l.Remaining(ctx); got != 1 {
		t.Errorf("Remaining should degrade to the full cap, got %d", got)
	}
	if got := l.WindowExpires(ctx); !got.IsZero() {
		t.Errorf("WindowExpires should degrade to zero time, got %v", got)
	}
}

func TestLimiter_WithBadgerStore(t *testing.T) {
	ctx := context.Background()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	l := NewLimiter(NewBadgerCounterStore(db, ""), Config{Window: time.Hour, MaxPerWindow: 2, Tenant: "site-1"})

	if !l.CanSend(ctx) {
		t.Fatal("Expected CanSend true on empty window")
	}
	for i := 0; i < 2; i++ {
		if err := l.Increment(ctx); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}
	if l.CanSend(ctx) {
		t.Error("Expected limit reached with badger-backed counter")
	}

	expires := l.WindowExpires(ctx)
	if expires.IsZero() {
		t.Error("Expected a window expiry from badger entry TTL")
	}
	if until := time.Until(expires); until > time.Hour+time.Minute || until < 50*time.Minute {
		t.Errorf("Window expiry %v not within the configured hour", until)
	}

	if err := l.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !l.CanSend(ctx) {
		t.Error("Expected CanSend true after Reset")
	}
}
