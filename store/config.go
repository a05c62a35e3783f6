// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package store

import (
	"go.etcd.io/bbolt"

	"github.com/watchwire/sentinel/domain"
)

const configKey = "singleton"

// InstanceConfig returns the current instance identity record, or
// domain.InstanceConfig{} wrapped in ErrNotFound if InitInstanceConfig has
// never run.
func (s *Store) InstanceConfig() (domain.InstanceConfig, error) {
	var cfg domain.InstanceConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, bucketConfig, []byte(configKey), &cfg)
	})
	return cfg, err
}

// PutInstanceConfig writes the instance config record, last-writer-wins.
func (s *Store) PutInstanceConfig(cfg domain.InstanceConfig) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketConfig, []byte(configKey), cfg)
	})
}

// InitInstanceConfig is the one-shot atomic initialization: on
// first boot it generates the instance UUID and the JWT signing secret (32
// random bytes, hex), optionally seeding the shared secret, and persists
// the result. Subsequent calls are idempotent — the existing record is
// returned unchanged.
func (s *Store) InitInstanceConfig(newInstanceID func() string, sharedSecretIfUnset string) (domain.InstanceConfig, error) {
	var cfg domain.InstanceConfig
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		data := b.Get([]byte(configKey))
		if data != nil {
			return json.Unmarshal(data, &cfg)
		}

		jwtSecret, err := randomHex(32)
		if err != nil {
			return err
		}

		cfg = domain.InstanceConfig{
			InstanceID:   newInstanceID(),
			JWTSecret:    jwtSecret,
			SharedSecret: sharedSecretIfUnset,
		}
		return put(tx, bucketConfig, []byte(configKey), cfg)
	})
	return cfg, err
}

// PutConnectionStatus caches a dependent's last reported connection state
// under the connection_<id> key.
func (s *Store) PutConnectionStatus(instanceID string, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketConfig, []byte("connection_"+instanceID), v)
	})
}

// PutSystemMetrics caches a dependent's last reported system metrics under
// the system_<id> key.
func (s *Store) PutSystemMetrics(instanceID string, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketConfig, []byte("system_"+instanceID), v)
	})
}

// LogLevel reads the runtime-configurable log level persisted under the
// log_level key, defaulting to "info" when unset.
func (s *Store) LogLevel() (string, error) {
	var level string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		data := b.Get([]byte("log_level"))
		if data == nil {
			level = "info"
			return nil
		}
		return json.Unmarshal(data, &level)
	})
	return level, err
}

// SetLogLevel persists the runtime log level so it survives restarts.
func (s *Store) SetLogLevel(level string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketConfig, []byte("log_level"), level)
	})
}

// AppLog appends one entry to the bounded application log and trims it to
// the most recent 10,000 entries.
func (s *Store) AppLog(entry domain.ApplicationLogEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAppLogs)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := put(tx, bucketAppLogs, itob(int64(seq)), entry); err != nil {
			return err
		}

		const maxEntries = 10_000
		if b.Stats().KeyN <= maxEntries {
			return nil
		}

		c := b.Cursor()
		toDelete := b.Stats().KeyN - maxEntries
		for k, _ := c.First(); k != nil && toDelete > 0; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
			toDelete--
		}
		return nil
	})
}

// RecentAppLogs returns the most recent n log entries, newest first.
func (s *Store) RecentAppLogs(n int) ([]domain.ApplicationLogEntry, error) {
	var out []domain.ApplicationLogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAppLogs)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var e domain.ApplicationLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// ClearAppLogs deletes every persisted log entry.
func (s *Store) ClearAppLogs() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketAppLogs); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketAppLogs)
		return err
	})
}
