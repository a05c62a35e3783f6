// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInitInstanceConfigIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	calls := 0
	newID := func() string {
		calls++
		return "instance-1"
	}

	first, err := s.InitInstanceConfig(newID, "")
	require.NoError(t, err)
	require.Equal(t, "instance-1", first.InstanceID)
	require.Len(t, first.JWTSecret, 64)

	second, err := s.InitInstanceConfig(newID, "")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls, "InitInstanceConfig must only generate identity once")
}

func TestLogLevelRoundTrips(t *testing.T) {
	s := openTestStore(t)

	level, err := s.LogLevel()
	require.NoError(t, err)
	require.Equal(t, "info", level)

	require.NoError(t, s.SetLogLevel("debug"))

	level, err = s.LogLevel()
	require.NoError(t, err)
	require.Equal(t, "debug", level)
}

func TestEndpointCRUD(t *testing.T) {
	s := openTestStore(t)

	e := domain.Endpoint{ID: 1, Name: "example", Type: domain.CheckHTTP, URL: "http://example/ok"}
	require.NoError(t, s.PutEndpoint(e))

	got, err := s.Endpoint(1)
	require.NoError(t, err)
	require.Equal(t, e.Name, got.Name)

	all, err := s.Endpoints()
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, s.DeleteEndpoint(1))
	_, err = s.Endpoint(1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOutcomesSinceOrdersByTimeAndPrunesOldRows(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, s.AppendOutcome(domain.ProbeOutcome{
		EndpointID: 1, InstanceID: "a", Timestamp: base, Status: domain.StatusUp,
	}))

	recent := time.Now()
	require.NoError(t, s.AppendOutcome(domain.ProbeOutcome{
		EndpointID: 1, InstanceID: "a", Timestamp: recent, Status: domain.StatusDown,
	}))

	// Query from before base so only pruning can keep the old row out.
	outcomes, err := s.OutcomesSince(1, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, outcomes, 1, "outcome older than retention should have been pruned on append")
	require.Equal(t, domain.StatusDown, outcomes[0].Status)

	latest, err := s.LatestOutcome(1, "a")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDown, latest.Status)
}

func TestTokenSHA256IsDeterministic(t *testing.T) {
	a := store.TokenSHA256("abc")
	b := store.TokenSHA256("abc")
	require.Equal(t, a, b)
	require.NotEqual(t, a, store.TokenSHA256("xyz"))
}
