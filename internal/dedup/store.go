// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package dedup suppresses repeat reports for the same underlying bug
// within a rolling tracking window. Each error is fingerprinted by a
// deterministic signature; signatures map to the unix time they were last
// reported, stored in a TTL key-value store shared across requests.
//
// Storage backends:
//   - MemoryStore: ephemeral, for tests and single-request hosts
//   - BadgerStore: persistent, entries expire via BadgerDB's native TTL
//
// Consistency is best effort. Concurrent requests may race on
// check-then-mark; the cost is at worst one extra duplicate email in a
// tight window, never corruption, so no distributed lock is used.
package dedup

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("dedup store is closed")

// Store is the persistence boundary for tracked error signatures.
// Implementations map signature -> last-reported time.
type Store interface {
	// Get returns the last-reported time for a signature, with a
	// presence flag.
	Get(ctx context.Context, signature string) (time.Time, bool, error)

	// Set upserts the last-reported time for a signature. The TTL is a
	// hint for backends with native expiry; window logic lives in Filter.
	Set(ctx context.Context, signature string, reportedAt time.Time, ttl time.Duration) error

	// Delete removes a single signature.
	Delete(ctx context.Context, signature string) error

	// All returns every tracked signature and its last-reported time.
	All(ctx context.Context) (map[string]time.Time, error)

	// DeleteAll removes every tracked signature.
	DeleteAll(ctx context.Context) error

	// Count returns the number of tracked signatures.
	Count(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory Store for testing and ephemeral installs.
// Entries never expire on their own; the Filter's compaction keeps the
// store bounded.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

// Get returns the last-reported time for a signature.
func (s *MemoryStore) Get(ctx context.Context, signature string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return time.Time{}, false, ErrStoreClosed
	}
	ts, ok := s.entries[signature]
	return ts, ok, nil
}

// Set upserts the last-reported time for a signature.
func (s *MemoryStore) Set(ctx context.Context, signature string, reportedAt time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.entries[signature] = reportedAt
	return nil
}

// Delete removes a single signature.
func (s *MemoryStore) Delete(ctx context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, signature)
	return nil
}

// All returns a copy of every tracked signature.
func (s *MemoryStore) All(ctx context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make(map[string]time.Time, len(s.entries))
	for sig, ts := range s.entries {
		out[sig] = ts
	}
	return out, nil
}

// DeleteAll removes every tracked signature.
func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.entries = make(map[string]time.Time)
	return nil
}

// Count returns the number of tracked signatures.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.entries), nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
