// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizedIntervalCoercesBelowFloor(t *testing.T) {
	e := Endpoint{HeartbeatIntervalSeconds: 3}
	require.Equal(t, 10*time.Second, e.NormalizedInterval())

	e.HeartbeatIntervalSeconds = 10
	require.Equal(t, 10*time.Second, e.NormalizedInterval())

	e.HeartbeatIntervalSeconds = 60
	require.Equal(t, time.Minute, e.NormalizedInterval())
}

func TestRetryThresholdZeroRetriesFlipsImmediately(t *testing.T) {
	require.Equal(t, 1, Endpoint{Retries: 0}.RetryThreshold())
	require.Equal(t, 1, Endpoint{Retries: 1}.RetryThreshold())
	require.Equal(t, 3, Endpoint{Retries: 3}.RetryThreshold())
}

func TestNormalizeStatusCoercesUnknownToDown(t *testing.T) {
	require.Equal(t, StatusUp, NormalizeStatus(StatusUp))
	require.Equal(t, StatusDown, NormalizeStatus(StatusDown))
	require.Equal(t, StatusDown, NormalizeStatus(StatusUnknown))
	require.Equal(t, StatusDown, NormalizeStatus(Status("PENDING")))
}

func TestOutcomeNormalizeKeepsIsOKAndStatusCoupled(t *testing.T) {
	o := ProbeOutcome{Status: Status("weird"), IsOK: true}
	o.Normalize()
	require.Equal(t, StatusDown, o.Status)
	require.False(t, o.IsOK)

	o = ProbeOutcome{Status: StatusUp}
	o.Normalize()
	require.True(t, o.IsOK)
}
