// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package aggregate folds per-instance outcomes into the primary's
// AggregatedResult view.
package aggregate

import (
	"errors"
	"fmt"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/store"
)

// Aggregator recomputes the AggregatedResult for an endpoint every time a
// new per-instance outcome arrives.
type Aggregator struct {
	store *store.Store
}

// New constructs an Aggregator over the shared primary store.
func New(st *store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Apply folds a single outcome into its endpoint's AggregatedResult,
// replacing any prior entry for the same instance or appending a new one,
// then recomputing totals/averages/consensus. No time-window filtering
// happens here; staleness is the reaper's job.
func (a *Aggregator) Apply(o domain.ProbeOutcome) error {
	current, err := a.store.AggregatedResult(o.EndpointID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("aggregate: read endpoint %d: %w", o.EndpointID, err)
	}
	if errors.Is(err, store.ErrNotFound) {
		current = domain.AggregatedResult{EndpointID: o.EndpointID}
	}

	current.LocationResults = upsertLocation(current.LocationResults, o)
	recompute(&current)
	current.UpdatedAt = o.Timestamp

	if err := a.store.PutAggregatedResult(current); err != nil {
		return fmt.Errorf("aggregate: persist endpoint %d: %w", o.EndpointID, err)
	}
	return nil
}

// ApplyBatch applies every outcome in a single heartbeat payload, in
// order, each persisted by its own Apply. The batch is not atomic: the
// first failure stops it and is returned, and outcomes applied before it
// stay applied. The caller (the sync server handler) then rejects the
// heartbeat; the dependent clears its buffer on every send, so the
// outcomes are not resent.
func (a *Aggregator) ApplyBatch(outcomes []domain.ProbeOutcome) error {
	for _, o := range outcomes {
		if err := a.Apply(o); err != nil {
			return err
		}
	}
	return nil
}

// upsertLocation replaces the entry for o.InstanceID if present, or appends
// a new one.
func upsertLocation(locations []domain.LocationResult, o domain.ProbeOutcome) []domain.LocationResult {
	entry := domain.LocationResult{
		InstanceID:     o.InstanceID,
		Location:       o.Location,
		Status:         o.Status,
		ResponseTimeMS: o.ResponseTimeMS,
		Timestamp:      o.Timestamp,
	}

	for i, l := range locations {
		if l.InstanceID == o.InstanceID {
			locations[i] = entry
			return locations
		}
	}
	return append(locations, entry)
}

// recompute derives total/successful/avg and consensus from r's current
// location_results: consensus is UP iff all locations are UP and total >= 1,
// DOWN iff none are UP and total >= 1, PARTIAL otherwise. min/max are not
// re-derived on removal (there is no removal path here).
func recompute(r *domain.AggregatedResult) {
	total := len(r.LocationResults)
	r.TotalLocations = total
	if total == 0 {
		r.SuccessfulLocations = 0
		r.Consensus = ""
		r.AvgResponseTimeMS = 0
		return
	}

	successful := 0
	var sum float64
	min, max := r.LocationResults[0].ResponseTimeMS, r.LocationResults[0].ResponseTimeMS
	for _, l := range r.LocationResults {
		if l.Status == domain.StatusUp {
			successful++
		}
		sum += float64(l.ResponseTimeMS)
		if l.ResponseTimeMS < min {
			min = l.ResponseTimeMS
		}
		if l.ResponseTimeMS > max {
			max = l.ResponseTimeMS
		}
	}

	r.SuccessfulLocations = successful
	r.AvgResponseTimeMS = sum / float64(total)
	r.MinResponseTimeMS = min
	r.MaxResponseTimeMS = max

	switch {
	case successful == total:
		r.Consensus = domain.ConsensusUp
	case successful == 0:
		r.Consensus = domain.ConsensusDown
	default:
		r.Consensus = domain.ConsensusPartial
	}
}
