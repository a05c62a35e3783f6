// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package store

import (
	"go.etcd.io/bbolt"

	"github.com/watchwire/sentinel/domain"
)

// PutEndpoint upserts an endpoint by id, last-writer-wins.
func (s *Store) PutEndpoint(e domain.Endpoint) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketEndpoints, itob(e.ID), e)
	})
}

// Endpoint looks up a single endpoint by id.
func (s *Store) Endpoint(id int64) (domain.Endpoint, error) {
	var e domain.Endpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, bucketEndpoints, itob(id), &e)
	})
	return e, err
}

// DeleteEndpoint removes an endpoint; the caller (scheduler) is responsible
// for tearing down its timer and Kafka pool record before or after this
// call's stop() contract.
func (s *Store) DeleteEndpoint(id int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEndpoints).Delete(itob(id))
	})
}

// Endpoints returns every endpoint, in id order.
func (s *Store) Endpoints() ([]domain.Endpoint, error) {
	var out []domain.Endpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEndpoints)
		return b.ForEach(func(k, v []byte) error {
			var e domain.Endpoint
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// NonPausedEndpoints is the view GET /endpoints serves to dependents.
func (s *Store) NonPausedEndpoints() ([]domain.Endpoint, error) {
	all, err := s.Endpoints()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if !e.Paused {
			out = append(out, e)
		}
	}
	return out, nil
}

// NextEndpointID returns an unused id suitable for a newly created endpoint.
func (s *Store) NextEndpointID() (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		seq, err := tx.Bucket(bucketEndpoints).NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		return nil
	})
	return id, err
}
