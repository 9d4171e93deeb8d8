// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// trackedEntry is the stored record for one signature.
type trackedEntry struct {
	ReportedAt time.Time `json:"reported_at"`
}

// BadgerStore is a BadgerDB-backed Store for production installs.
// Entries carry BadgerDB's native TTL, so an idle install sheds expired
// signatures without any sweep job. The DB instance is shared with other
// components and is not closed by this store.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore creates a BadgerDB-backed store.
// An empty prefix defaults to "dedup:".
func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	if prefix == "" {
		prefix = "dedup:"
	}
	return &BadgerStore{db: db, prefix: []byte(prefix)}
}

func (s *BadgerStore) makeKey(signature string) []byte {
	return append(append([]byte{}, s.prefix...), []byte(signature)...)
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns the last-reported time for a signature.
func (s *BadgerStore) Get(ctx context.Context, signature string) (time.Time, bool, error) {
	if err := s.checkOpen(); err != nil {
		return time.Time{}, false, err
	}

	var entry trackedEntry
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(signature))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return entry.ReportedAt, found, nil
}

// Set upserts the last-reported time for a signature with a native TTL.
func (s *BadgerStore) Set(ctx context.Context, signature string, reportedAt time.Time, ttl time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(trackedEntry{ReportedAt: reportedAt})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(s.makeKey(signature), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes a single signature.
func (s *BadgerStore) Delete(ctx context.Context, signature string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.makeKey(signature))
	})
}

// All returns every tracked signature and its last-reported time.
func (s *BadgerStore) All(ctx context.Context) (map[string]time.Time, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make(map[string]time.Time)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			sig := string(item.Key()[len(s.prefix):])

			var entry trackedEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			out[sig] = entry.ReportedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAll removes every tracked signature.
func (s *BadgerStore) DeleteAll(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			key := make([]byte, len(it.Item().Key()))
			copy(key, it.Item().Key())
			keys = append(keys, key)
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of tracked signatures via a key-only scan.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close marks the store closed. The shared DB stays open.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
