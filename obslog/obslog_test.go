// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package obslog

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watchwire/sentinel/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSetLevelPersistsAcrossLoggerInstances(t *testing.T) {
	st := openTestStore(t)

	l1, err := New("sentineld", st)
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, l1.Level())

	require.NoError(t, l1.SetLevel(slog.LevelDebug))

	l2, err := New("sentineld", st)
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, l2.Level())
}

func TestLogRecordsArePersistedAndReadableNewestFirst(t *testing.T) {
	st := openTestStore(t)
	l, err := New("sentineld", st)
	require.NoError(t, err)

	l.Info("first")
	l.Info("second")

	entries, err := l.RecentAppLogs(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "second", entries[0].Message)
	require.Equal(t, "first", entries[1].Message)
}

func TestLevelGatesPersistedEntries(t *testing.T) {
	st := openTestStore(t)
	l, err := New("sentineld", st)
	require.NoError(t, err)

	l.Debug("should be filtered")
	l.Info("should persist")

	entries, err := l.RecentAppLogs(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "should persist", entries[0].Message)
}

func TestClearAppLogsDeletesEverything(t *testing.T) {
	st := openTestStore(t)
	l, err := New("sentineld", st)
	require.NoError(t, err)

	l.Info("entry")
	require.NoError(t, l.ClearAppLogs())

	entries, err := l.RecentAppLogs(10)
	require.NoError(t, err)
	require.Empty(t, entries)
}
