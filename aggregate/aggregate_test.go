// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package aggregate

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
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func outcome(endpointID int64, instanceID, location string, status domain.Status, rt int64) domain.ProbeOutcome {
	return domain.ProbeOutcome{
		EndpointID:     endpointID,
		InstanceID:     instanceID,
		Location:       location,
		Status:         status,
		ResponseTimeMS: rt,
		Timestamp:      time.Now(),
	}
}

// TestApplyAllUpYieldsConsensusUp exercises the multi-location
// baseline: every location reporting UP must consensus to UP.
func TestApplyAllUpYieldsConsensusUp(t *testing.T) {
	st := openTestStore(t)
	a := New(st)

	require.NoError(t, a.Apply(outcome(1, "east", "us-east", domain.StatusUp, 100)))
	require.NoError(t, a.Apply(outcome(1, "west", "us-west", domain.StatusUp, 200)))

	r, err := st.AggregatedResult(1)
	require.NoError(t, err)
	require.Equal(t, domain.ConsensusUp, r.Consensus)
	require.Equal(t, 2, r.TotalLocations)
	require.Equal(t, 2, r.SuccessfulLocations)
	require.InDelta(t, 150.0, r.AvgResponseTimeMS, 0.001)
	require.Equal(t, int64(100), r.MinResponseTimeMS)
	require.Equal(t, int64(200), r.MaxResponseTimeMS)
}

// TestApplyMixedStatusesYieldsConsensusPartial exercises the mixed
// case: one location down among several up is PARTIAL, not DOWN.
func TestApplyMixedStatusesYieldsConsensusPartial(t *testing.T) {
	st := openTestStore(t)
	a := New(st)

	require.NoError(t, a.Apply(outcome(1, "east", "us-east", domain.StatusUp, 100)))
	require.NoError(t, a.Apply(outcome(1, "west", "us-west", domain.StatusDown, 0)))

	r, err := st.AggregatedResult(1)
	require.NoError(t, err)
	require.Equal(t, domain.ConsensusPartial, r.Consensus)
	require.Equal(t, 1, r.SuccessfulLocations)
}

func TestApplyAllDownYieldsConsensusDown(t *testing.T) {
	st := openTestStore(t)
	a := New(st)

	require.NoError(t, a.Apply(outcome(1, "east", "us-east", domain.StatusDown, 0)))
	require.NoError(t, a.Apply(outcome(1, "west", "us-west", domain.StatusDown, 0)))

	r, err := st.AggregatedResult(1)
	require.NoError(t, err)
	require.Equal(t, domain.ConsensusDown, r.Consensus)
	require.Equal(t, 0, r.SuccessfulLocations)
}

// TestApplyReplacesPriorOutcomeForSameInstance ensures a later heartbeat from
// the same instance replaces, rather than duplicates, its location entry.
func TestApplyReplacesPriorOutcomeForSameInstance(t *testing.T) {
	st := openTestStore(t)
	a := New(st)

	require.NoError(t, a.Apply(outcome(1, "east", "us-east", domain.StatusUp, 100)))
	require.NoError(t, a.Apply(outcome(1, "east", "us-east", domain.StatusDown, 0)))

	r, err := st.AggregatedResult(1)
	require.NoError(t, err)
	require.Equal(t, 1, r.TotalLocations)
	require.Equal(t, domain.ConsensusDown, r.Consensus)
}

func TestApplyBatchAppliesEveryOutcomeInOrder(t *testing.T) {
	st := openTestStore(t)
	a := New(st)

	batch := []domain.ProbeOutcome{
		outcome(1, "east", "us-east", domain.StatusUp, 100),
		outcome(2, "east", "us-east", domain.StatusDown, 0),
	}
	require.NoError(t, a.ApplyBatch(batch))

	r1, err := st.AggregatedResult(1)
	require.NoError(t, err)
	require.Equal(t, domain.ConsensusUp, r1.Consensus)

	r2, err := st.AggregatedResult(2)
	require.NoError(t, err)
	require.Equal(t, domain.ConsensusDown, r2.Consensus)
}
