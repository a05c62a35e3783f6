// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package store

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/watchwire/sentinel/domain"
)

// Retention is how long probe outcomes are kept in the append-only stream
// on a primary.
const Retention = 7 * 24 * time.Hour

var bucketLatestOutcome = []byte("latest_outcomes")

func latestKey(endpointID int64, instanceID string) []byte {
	return []byte(fmt.Sprintf("%d:%s", endpointID, instanceID))
}

func outcomeKey(o domain.ProbeOutcome) []byte {
	// Big-endian nanosecond timestamp keeps the per-endpoint sub-bucket in
	// probe-completion order; the instance id disambiguates outcomes that
	// land in the same nanosecond from different instances.
	key := itob(o.Timestamp.UnixNano())
	return append(key, []byte(":"+o.InstanceID)...)
}

// AppendOutcome appends o to the per-endpoint stream (pruning anything
// older than Retention) and updates the (endpoint_id, instance_id) latest
// index the aggregator reads from. o is normalized in place before storage.
func (s *Store) AppendOutcome(o domain.ProbeOutcome) error {
	o.Normalize()

	return s.db.Update(func(tx *bbolt.Tx) error {
		top := tx.Bucket(bucketOutcomes)
		sub, err := top.CreateBucketIfNotExists(itob(o.EndpointID))
		if err != nil {
			return err
		}

		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if err := sub.Put(outcomeKey(o), data); err != nil {
			return err
		}

		cutoff := itob(o.Timestamp.Add(-Retention).UnixNano())
		c := sub.Cursor()
		for k, _ := c.First(); k != nil && len(k) >= 8 && bytesLess(k[:8], cutoff); k, _ = c.Next() {
			if err := sub.Delete(k); err != nil {
				return err
			}
		}

		return put(tx, bucketLatestOutcome, latestKey(o.EndpointID, o.InstanceID), o)
	})
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// LatestOutcome returns the most recent outcome known for (endpointID,
// instanceID) — the row the aggregator folds into AggregatedResult.
func (s *Store) LatestOutcome(endpointID int64, instanceID string) (domain.ProbeOutcome, error) {
	var o domain.ProbeOutcome
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, bucketLatestOutcome, latestKey(endpointID, instanceID), &o)
	})
	return o, err
}

// OutcomesSince returns every outcome recorded for endpointID at or after
// since, across all instances, in timestamp order. This backs the uptime
// calculator.
func (s *Store) OutcomesSince(endpointID int64, since time.Time) ([]domain.ProbeOutcome, error) {
	var out []domain.ProbeOutcome
	err := s.db.View(func(tx *bbolt.Tx) error {
		top := tx.Bucket(bucketOutcomes)
		sub := top.Bucket(itob(endpointID))
		if sub == nil {
			return nil
		}

		cutoff := itob(since.UnixNano())
		c := sub.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(k) >= 8 && bytesLess(k[:8], cutoff) {
				continue
			}
			var o domain.ProbeOutcome
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}
