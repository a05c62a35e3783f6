// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadNilReaderYieldsDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	require.Equal(t, DefaultFailoverOrder, cfg.Instance.FailoverOrder)
	require.Equal(t, DefaultSyncInterval, cfg.Sync.Interval)
	require.Equal(t, DefaultPort, cfg.Server.Port)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	doc := `
instance:
  name: probe-eu
  location: eu-west
  failover_order: 2
server:
  port: 8080
sync:
  interval: 45s
`
	cfg, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	require.Equal(t, "probe-eu", cfg.Instance.Name)
	require.Equal(t, "eu-west", cfg.Instance.Location)
	require.Equal(t, 2, cfg.Instance.FailoverOrder)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 45*time.Second, cfg.Sync.Interval)
}

func TestLoadRendersEnvTemplate(t *testing.T) {
	t.Setenv("TEST_SENTINEL_NAME", "from-env")

	doc := `
instance:
  name: '{{env "TEST_SENTINEL_NAME" | default "fallback"}}'
  location: '{{env "TEST_SENTINEL_MISSING" | default "fallback"}}'
`
	cfg, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Instance.Name)
	require.Equal(t, "fallback", cfg.Instance.Location)
}

func TestEnvVarsOverrideDocument(t *testing.T) {
	t.Setenv("PRIMARY_SYNC_URL", "http://primary:3001")
	t.Setenv("INSTANCE_ROLE", "primary")
	t.Setenv("FAILOVER_ORDER", "1")
	t.Setenv("SYNC_INTERVAL", "60")
	t.Setenv("HEARTBEAT_INTERVAL", "45000")
	t.Setenv("PORT", "4000")

	cfg, err := Load(strings.NewReader("instance:\n  failover_order: 7\n"))
	require.NoError(t, err)

	require.Equal(t, "http://primary:3001", cfg.Instance.PrimarySyncURL)
	require.True(t, cfg.Instance.Primary)
	require.Equal(t, 1, cfg.Instance.FailoverOrder)
	require.Equal(t, 60*time.Second, cfg.Sync.Interval)
	require.Equal(t, 45*time.Second, cfg.Sync.HeartbeatInterval)
	require.Equal(t, 4000, cfg.Server.Port)
}

func TestSyncIntervalClampedToFloor(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "3")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, MinSyncInterval, cfg.Sync.Interval)
}

func TestMalformedIntEnvIsAnError(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := Load(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "PORT")
}

func TestNegativeFailoverOrderFallsBackToDefault(t *testing.T) {
	t.Setenv("FAILOVER_ORDER", "-5")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultFailoverOrder, cfg.Instance.FailoverOrder)
}
