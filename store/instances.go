// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.etcd.io/bbolt"

	"github.com/watchwire/sentinel/domain"
)

// PutInstance upserts a monitoring instance by InstanceID.
func (s *Store) PutInstance(m domain.MonitoringInstance) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketInstances, []byte(m.InstanceID), m)
	})
}

// Instance looks up a single monitoring instance.
func (s *Store) Instance(instanceID string) (domain.MonitoringInstance, error) {
	var m domain.MonitoringInstance
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, bucketInstances, []byte(instanceID), &m)
	})
	return m, err
}

// DeleteInstance removes an instance from the registry (DELETE /instances/:id).
func (s *Store) DeleteInstance(instanceID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketInstances).Delete([]byte(instanceID)); err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Delete([]byte(instanceID))
	})
}

// Instances returns every registered instance.
func (s *Store) Instances() ([]domain.MonitoringInstance, error) {
	var out []domain.MonitoringInstance
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var m domain.MonitoringInstance
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

// UpdateInstanceStatus is a narrow read-modify-write used by the reaper
// and the failover controller to flip an instance's status
// without clobbering concurrent field updates from a heartbeat.
func (s *Store) UpdateInstanceStatus(instanceID string, status domain.InstanceStatus) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		var m domain.MonitoringInstance
		if err := get(tx, bucketInstances, []byte(instanceID), &m); err != nil {
			return err
		}
		m.Status = status
		m.UpdatedAt = time.Now()
		return put(tx, bucketInstances, []byte(instanceID), m)
	})
}

// TokenSHA256 hashes a bearer token the way the server persists it:
// sha256(token) only, never the raw token.
func TokenSHA256(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// PutToken stores the single active token for an instance, replacing any
// prior token (re-registration revokes the old one by overwrite).
func (s *Store) PutToken(t domain.InstanceToken) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketTokens, []byte(t.InstanceID), t)
	})
}

// TokenByInstance looks up the active token record for an instance.
func (s *Store) TokenByInstance(instanceID string) (domain.InstanceToken, error) {
	var t domain.InstanceToken
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, bucketTokens, []byte(instanceID), &t)
	})
	return t, err
}
