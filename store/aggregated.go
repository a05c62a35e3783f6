// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package store

import (
	"go.etcd.io/bbolt"

	"github.com/watchwire/sentinel/domain"
)

// AggregatedResult returns the current merged view for an endpoint, or
// ErrNotFound if the aggregator has never seen an outcome for it.
func (s *Store) AggregatedResult(endpointID int64) (domain.AggregatedResult, error) {
	var r domain.AggregatedResult
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, bucketAggregated, itob(endpointID), &r)
	})
	return r, err
}

// PutAggregatedResult stores the recomputed merged view for an endpoint.
func (s *Store) PutAggregatedResult(r domain.AggregatedResult) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketAggregated, itob(r.EndpointID), r)
	})
}

// AggregatedResults returns every aggregated row currently known.
func (s *Store) AggregatedResults() ([]domain.AggregatedResult, error) {
	var out []domain.AggregatedResult
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAggregated).ForEach(func(k, v []byte) error {
			var r domain.AggregatedResult
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}
