// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package role implements the instance role state machine and the
// subsystem gating table
package role

import (
	"fmt"
	"sync"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/store"
)

// Manager holds and mutates the effective role of this instance. The role
// is derived from persisted config rather than stored redundantly, so a
// restart always recomputes the same answer from the same config row.
type Manager struct {
	mu    sync.RWMutex
	store *store.Store
	cfg   domain.InstanceConfig
}

// New computes the initial role from the config already persisted by the store's
// InitInstanceConfig.
func New(s *store.Store, cfg domain.InstanceConfig) *Manager {
	return &Manager{store: s, cfg: cfg}
}

// Role derives the effective role: dependent if
// PrimarySyncURL is set, else primary if the explicit flag is set, else
// standalone. The two conditions are mutually exclusive by construction —
// every mutator below clears one before setting the other.
func (m *Manager) Role() domain.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return effectiveRole(m.cfg)
}

func effectiveRole(cfg domain.InstanceConfig) domain.Role {
	switch {
	case cfg.PrimarySyncURL != "":
		return domain.RoleDependent
	case cfg.InstanceRole:
		return domain.RolePrimary
	default:
		return domain.RoleStandalone
	}
}

// Config returns a copy of the current instance config.
func (m *Manager) Config() domain.InstanceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// PromoteToPrimary clears PrimarySyncURL and sets the explicit primary
// flag, persisting the change. Used by the failover controller once
// it wins an election.
func (m *Manager) PromoteToPrimary() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.PrimarySyncURL = ""
	m.cfg.InstanceRole = true
	return m.store.PutInstanceConfig(m.cfg)
}

// DemoteToDependent sets PrimarySyncURL and clears the primary flag.
func (m *Manager) DemoteToDependent(primaryURL string) error {
	if primaryURL == "" {
		return fmt.Errorf("role: demoteToDependent requires a non-empty primary url")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.PrimarySyncURL = primaryURL
	m.cfg.InstanceRole = false
	return m.store.PutInstanceConfig(m.cfg)
}

// ResetToStandalone clears both role-determining fields.
func (m *Manager) ResetToStandalone() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.PrimarySyncURL = ""
	m.cfg.InstanceRole = false
	return m.store.PutInstanceConfig(m.cfg)
}

// Subsystem names a component whose startup is gated by the current
// role.
type Subsystem string

const (
	SubsystemScheduler    Subsystem = "scheduler"
	SubsystemNotifier     Subsystem = "notifier"
	SubsystemSyncServer   Subsystem = "sync_server"
	SubsystemSyncClient   Subsystem = "sync_client"
	SubsystemAggregator   Subsystem = "aggregator"
	SubsystemFailover     Subsystem = "failover"
	SubsystemHealthReaper Subsystem = "health_reaper"
)

// Allowed implements the gating table
func Allowed(r domain.Role, sub Subsystem) bool {
	switch sub {
	case SubsystemScheduler, SubsystemNotifier:
		return r == domain.RolePrimary || r == domain.RoleStandalone
	case SubsystemSyncServer, SubsystemAggregator, SubsystemHealthReaper:
		return r == domain.RolePrimary
	case SubsystemSyncClient, SubsystemFailover:
		return r == domain.RoleDependent
	default:
		return false
	}
}

// Allowed is a convenience wrapper around the package-level Allowed using
// the manager's current role.
func (m *Manager) Allowed(sub Subsystem) bool {
	return Allowed(m.Role(), sub)
}
