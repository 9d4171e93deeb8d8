// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerCounterStore is a BadgerDB-backed CounterStore for production
// installs. Window expiry rides on BadgerDB's native per-entry TTL, so a
// lapsed window disappears without a sweep job. The DB instance is shared
// and not closed by this store.
type BadgerCounterStore struct {
	db     *badger.DB
	prefix []byte
	mu     sync.RWMutex
	closed bool
}

// NewBadgerCounterStore creates a BadgerDB-backed counter store.
// An empty prefix defaults to "ratewin:".
func NewBadgerCounterStore(db *badger.DB, prefix string) *BadgerCounterStore {
	if prefix == "" {
		prefix = "ratewin:"
	}
	return &BadgerCounterStore{db: db, prefix: []byte(prefix)}
}

func (s *BadgerCounterStore) makeKey(key string) []byte {
	return append(append([]byte{}, s.prefix...), []byte(key)...)
}

func (s *BadgerCounterStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns the counter value, 0 if absent or expired.
func (s *BadgerCounterStore) Get(ctx context.Context, key string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	value := 0
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, convErr := strconv.Atoi(string(val))
			if convErr != nil {
				return convErr
			}
			value = n
			return nil
		})
	})
	return value, err
}

// Set stores a counter value with a native TTL.
func (s *BadgerCounterStore) Set(ctx context.Context, key string, value int, ttl time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(s.makeKey(key), []byte(strconv.Itoa(value)))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes a counter.
func (s *BadgerCounterStore) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.makeKey(key))
	})
}

// Expiry returns when the counter's entry lapses, from BadgerDB's entry
// metadata. Zero time if absent or without TTL.
func (s *BadgerCounterStore) Expiry(ctx context.Context, key string) (time.Time, error) {
	if err := s.checkOpen(); err != nil {
		return time.Time{}, err
	}

	var expiry time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if exp := item.ExpiresAt(); exp > 0 {
			expiry = time.Unix(int64(exp), 0)
		}
		return nil
	})
	return expiry, err
}

// Close marks the store closed. The shared DB stays open.
func (s *BadgerCounterStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
