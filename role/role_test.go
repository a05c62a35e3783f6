// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package role_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/role"
	"github.com/watchwire/sentinel/store"
)

func newManager(t *testing.T) (*role.Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return role.New(s, domain.InstanceConfig{InstanceID: "i1"}), s
}

func TestRoleDerivation(t *testing.T) {
	m, _ := newManager(t)
	require.Equal(t, domain.RoleStandalone, m.Role())

	require.NoError(t, m.DemoteToDependent("http://primary:3001"))
	require.Equal(t, domain.RoleDependent, m.Role())

	require.NoError(t, m.PromoteToPrimary())
	require.Equal(t, domain.RolePrimary, m.Role())

	require.NoError(t, m.ResetToStandalone())
	require.Equal(t, domain.RoleStandalone, m.Role())
}

func TestRoleConfigPersists(t *testing.T) {
	m, s := newManager(t)
	require.NoError(t, m.PromoteToPrimary())

	cfg, err := s.InstanceConfig()
	require.NoError(t, err)
	require.True(t, cfg.InstanceRole)
	require.Empty(t, cfg.PrimarySyncURL)
}

func TestSubsystemGating(t *testing.T) {
	require.True(t, role.Allowed(domain.RolePrimary, role.SubsystemSyncServer))
	require.False(t, role.Allowed(domain.RoleDependent, role.SubsystemSyncServer))
	require.True(t, role.Allowed(domain.RoleDependent, role.SubsystemSyncClient))
	require.True(t, role.Allowed(domain.RoleDependent, role.SubsystemFailover))
	require.True(t, role.Allowed(domain.RoleStandalone, role.SubsystemScheduler))
	require.True(t, role.Allowed(domain.RolePrimary, role.SubsystemScheduler))
	require.False(t, role.Allowed(domain.RoleDependent, role.SubsystemScheduler))
}

func TestDemoteRequiresURL(t *testing.T) {
	m, _ := newManager(t)
	require.Error(t, m.DemoteToDependent(""))
}
