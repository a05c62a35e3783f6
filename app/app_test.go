// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/kafkapool"
	"github.com/watchwire/sentinel/notify"
	"github.com/watchwire/sentinel/probe/certcheck"
	"github.com/watchwire/sentinel/reaper"
	"github.com/watchwire/sentinel/role"
	"github.com/watchwire/sentinel/scheduler"
	"github.com/watchwire/sentinel/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testServices(t *testing.T, st *store.Store, cfg domain.InstanceConfig) Services {
	t.Helper()
	log := slog.Default()
	roles := role.New(st, cfg)
	pool := kafkapool.New(log)
	dispatcher := notify.New(log, notify.NewStaticBinding())
	sched := scheduler.New(st, pool, GatedNotifier(roles, dispatcher), log, cfg.InstanceID, "test")

	return Services{
		Store:       st,
		Roles:       roles,
		Pool:        pool,
		Scheduler:   sched,
		Certs:       certcheck.New(log, dispatcher),
		Reaper:      reaper.New(st, log),
		Log:         log,
		SyncHandler: http.NewServeMux(),
		InstanceID:  cfg.InstanceID,
		ListenAddr:  "127.0.0.1:0",
	}
}

func TestNewRejectsMissingServices(t *testing.T) {
	_, _, err := New(Services{})
	require.Error(t, err)
}

func TestNewRejectsDependentWithoutSyncClient(t *testing.T) {
	st := openTestStore(t)
	svcs := testServices(t, st, domain.InstanceConfig{
		InstanceID:     "dep-1",
		PrimarySyncURL: "http://primary:3001",
	})

	_, _, err := New(svcs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sync client")
}

func TestRunStandaloneStartsAndStopsCleanly(t *testing.T) {
	st := openTestStore(t)
	svcs := testServices(t, st, domain.InstanceConfig{InstanceID: "solo-1"})

	a, hooks, err := New(svcs)
	require.NoError(t, err)

	var hookRan bool
	hooks.OnShutdown(func(context.Context) error {
		hookRan = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		healthy, _ := a.Live().Healthy(context.Background())
		return healthy
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
	require.True(t, hookRan)

	healthy, _ := a.Live().Healthy(context.Background())
	require.False(t, healthy)
}

func TestShutdownHookErrorsAreJoined(t *testing.T) {
	st := openTestStore(t)
	svcs := testServices(t, st, domain.InstanceConfig{InstanceID: "solo-2"})

	a, hooks, err := New(svcs)
	require.NoError(t, err)

	boom := errors.New("close failed")
	hooks.OnShutdown(func(context.Context) error { return boom })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, a.Run(ctx), boom)
}

type recordingNotifier struct {
	events []notify.Event
}

func (r *recordingNotifier) Dispatch(ctx context.Context, e domain.Endpoint, event notify.Event) {
	r.events = append(r.events, event)
}

func TestGatedNotifierSuppressesOnDependent(t *testing.T) {
	st := openTestStore(t)

	inner := &recordingNotifier{}
	dep := role.New(st, domain.InstanceConfig{InstanceID: "d", PrimarySyncURL: "http://p:3001"})
	gated := GatedNotifier(dep, inner)

	gated.Dispatch(context.Background(), domain.Endpoint{ID: 1}, notify.StatusChange(domain.StatusDown))
	require.Empty(t, inner.events)

	// Promotion flips the role; the same wrapper starts emitting.
	require.NoError(t, dep.PromoteToPrimary())
	gated.Dispatch(context.Background(), domain.Endpoint{ID: 1}, notify.StatusChange(domain.StatusUp))
	require.Len(t, inner.events, 1)
}
