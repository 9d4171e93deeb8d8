// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package ratelimit caps outbound reports per tenant per fixed window,
// independent of how many distinct bugs are firing. This protects the
// delivery channel from floods when an install breaks wholesale.
//
// The limiter is a fixed-window counter, not a sliding log or token
// bucket: it admits brief bursts across window boundaries (up to ~2x the
// nominal cap) in exchange for O(1) memory and no background sweeping.
// The counter's storage carries its own expiry equal to the window
// duration, so an idle window self-resets.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreClosed indicates the counter store has been closed.
var ErrStoreClosed = errors.New("rate counter store is closed")

// CounterStore is the persistence boundary for window counters.
type CounterStore interface {
	// Get returns the current counter value, 0 if absent or expired.
	Get(ctx context.Context, key string) (int, error)

	// Set stores a counter value with an expiry of now + ttl.
	Set(ctx context.Context, key string, value int, ttl time.Duration) error

	// Delete removes a counter.
	Delete(ctx context.Context, key string) error

	// Expiry returns when the counter's window lapses; zero time if the
	// counter is absent or carries no expiry.
	Expiry(ctx context.Context, key string) (time.Time, error)
}

type counterEntry struct {
	value     int
	expiresAt time.Time
}

// MemoryCounterStore is an in-memory CounterStore with lazy expiry,
// for tests and single-request hosts.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]counterEntry
	closed  bool

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]counterEntry),
		now:     time.Now,
	}
}

// Get returns the counter value, lazily dropping a lapsed window.
func (s *MemoryCounterStore) Get(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return 0, nil
	}
	return entry.value, nil
}

// Set stores a counter value expiring after ttl.
func (s *MemoryCounterStore) Set(ctx context.Context, key string, value int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.entries[key] = counterEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete removes a counter.
func (s *MemoryCounterStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, key)
	return nil
}

// Expiry returns when the counter's window lapses.
func (s *MemoryCounterStore) Expiry(ctx context.Context, key string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return time.Time{}, ErrStoreClosed
	}

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		return time.Time{}, nil
	}
	return entry.expiresAt, nil
}

// Close marks the store closed.
func (s *MemoryCounterStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
