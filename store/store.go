// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package store provides the durable key/value layer and typed
// repositories for every persisted entity: the instance config table,
// endpoints, the probe-outcome log, aggregated results, monitoring
// instances, instance tokens, endpoint sync status and the application
// log.
//
// A single embedded bbolt database backs everything: each entity gets its
// own bucket, all writes are last-writer-wins, and reads never block
// writes to a different bucket.
package store

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.etcd.io/bbolt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	bucketConfig     = []byte("instance_config")
	bucketEndpoints  = []byte("endpoints")
	bucketOutcomes   = []byte("probe_outcomes")
	bucketAggregated = []byte("aggregated_results")
	bucketInstances  = []byte("monitoring_instances")
	bucketTokens     = []byte("instance_tokens")
	bucketSyncStatus = []byte("endpoint_sync_status")
	bucketAppLogs    = []byte("application_logs")

	allBuckets = [][]byte{
		bucketConfig, bucketEndpoints, bucketOutcomes, bucketAggregated,
		bucketInstances, bucketTokens, bucketSyncStatus, bucketAppLogs,
		bucketLatestOutcome,
	}
)

// ErrNotFound is returned by single-item lookups when the key is absent.
var ErrNotFound = errors.New("store: not found")

// Store wraps a bbolt database with typed helpers. All methods are safe for
// concurrent use: bbolt itself serializes writers and allows concurrent
// readers.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and ensures
// every bucket this package knows about exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping confirms the database still answers reads, for liveness checks.
func (s *Store) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error { return nil })
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func put(tx *bbolt.Tx, bucket []byte, key []byte, v any) error {
	b := tx.Bucket(bucket)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func get(tx *bbolt.Tx, bucket []byte, key []byte, v any) error {
	b := tx.Bucket(bucket)
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// randomHex returns n random bytes hex-encoded, used for the JWT signing
// secret. A shared secret is never generated; it comes only from
// configuration.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
