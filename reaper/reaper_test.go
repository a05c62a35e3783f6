// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package reaper

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestScanMarksStaleActiveInstancesInactive(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()

	require.NoError(t, st.PutInstance(domain.MonitoringInstance{InstanceID: "stale", Status: domain.InstanceActive, LastHeartbeat: now.Add(-10 * time.Minute)}))
	require.NoError(t, st.PutInstance(domain.MonitoringInstance{InstanceID: "fresh", Status: domain.InstanceActive, LastHeartbeat: now.Add(-1 * time.Minute)}))
	require.NoError(t, st.PutInstance(domain.MonitoringInstance{InstanceID: "already-inactive", Status: domain.InstanceInactive, LastHeartbeat: now.Add(-20 * time.Minute)}))

	r := New(st, slog.Default())
	r.ScanOnce()

	stale, err := st.Instance("stale")
	require.NoError(t, err)
	require.Equal(t, domain.InstanceInactive, stale.Status)

	fresh, err := st.Instance("fresh")
	require.NoError(t, err)
	require.Equal(t, domain.InstanceActive, fresh.Status)
}

func TestScanLeavesPromotingInstancesAlone(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	require.NoError(t, st.PutInstance(domain.MonitoringInstance{InstanceID: "promoting", Status: domain.InstancePromoting, LastHeartbeat: now.Add(-30 * time.Minute)}))

	r := New(st, slog.Default())
	r.ScanOnce()

	inst, err := st.Instance("promoting")
	require.NoError(t, err)
	require.Equal(t, domain.InstancePromoting, inst.Status)
}
