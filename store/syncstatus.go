// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package store

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/watchwire/sentinel/domain"
)

func syncStatusKey(endpointID int64, instanceID string) []byte {
	return []byte(fmt.Sprintf("%d:%s", endpointID, instanceID))
}

// PutEndpointSyncStatus records when a dependent last pulled or acked an
// endpoint's configuration.
func (s *Store) PutEndpointSyncStatus(st domain.EndpointSyncStatus) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketSyncStatus, syncStatusKey(st.EndpointID, st.InstanceID), st)
	})
}

// EndpointSyncStatus looks up the sync status for one (endpoint, instance) pair.
func (s *Store) EndpointSyncStatus(endpointID int64, instanceID string) (domain.EndpointSyncStatus, error) {
	var st domain.EndpointSyncStatus
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, bucketSyncStatus, syncStatusKey(endpointID, instanceID), &st)
	})
	return st, err
}
