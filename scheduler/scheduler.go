// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package scheduler implements one independent timer per endpoint,
// dispatching to the probe executors, applying the retry/debounce
// state-transition rules, and persisting outcomes.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/kafkapool"
	"github.com/watchwire/sentinel/notify"
	"github.com/watchwire/sentinel/probe"
	"github.com/watchwire/sentinel/store"
)

// Clock abstracts time.Now so tests can control probe timestamps and
// interval math without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Notifier is the subset of notify.Dispatcher the scheduler needs. On a
// dependent instance this is wired to a no-op implementation, since notification
// emission is gated to primary/standalone.
type Notifier interface {
	Dispatch(ctx context.Context, e domain.Endpoint, event notify.Event)
}

// OutcomeSink receives every outcome the scheduler produces, in addition to
// it being persisted to the store. On a dependent this feeds the sync client's pending
// buffer; on a primary/standalone it can be a no-op.
type OutcomeSink interface {
	Enqueue(o domain.ProbeOutcome)
}

type noopSink struct{}

func (noopSink) Enqueue(domain.ProbeOutcome) {}

// endpointTimer tracks the single cancellable timer that may exist per
// endpoint id.
type endpointTimer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns every live per-endpoint timer. Safe for concurrent use.
type Scheduler struct {
	store      *store.Store
	pool       *kafkapool.Pool
	notifier   Notifier
	sink       OutcomeSink
	clock      Clock
	log        *slog.Logger
	instanceID string
	location   string

	mu     sync.Mutex
	timers map[int64]*endpointTimer
}

// Option configures an optional collaborator on New.
type Option func(*Scheduler)

// WithClock overrides the default system clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithOutcomeSink wires a sink that receives every produced outcome, e.g.
// the sync client's pending buffer on a dependent.
func WithOutcomeSink(sink OutcomeSink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// New constructs a Scheduler. instanceID and location are stamped onto
// every ProbeOutcome this scheduler produces.
func New(st *store.Store, pool *kafkapool.Pool, notifier Notifier, log *slog.Logger, instanceID, location string, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		pool:       pool,
		notifier:   notifier,
		sink:       noopSink{},
		clock:      systemClock{},
		log:        log,
		instanceID: instanceID,
		location:   location,
		timers:     make(map[int64]*endpointTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms a timer for endpointID if one isn't already running, firing
// ~1s after this call to avoid stampedes on bulk startup.
func (s *Scheduler) Start(ctx context.Context, endpointID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.timers[endpointID]; exists {
		return
	}

	tctx, cancel := context.WithCancel(ctx)
	et := &endpointTimer{cancel: cancel, done: make(chan struct{})}
	s.timers[endpointID] = et

	go s.run(tctx, endpointID, et.done, time.Second)
}

// Stop cancels endpointID's timer, blocks until its goroutine has exited,
// and tears down its Kafka pool record.
func (s *Scheduler) Stop(endpointID int64) {
	if s.halt(endpointID) {
		s.pool.Cleanup(endpointID)
	}
}

// halt cancels the timer and waits for its goroutine, reporting whether one
// was running. It leaves the Kafka pool record alone.
func (s *Scheduler) halt(endpointID int64) bool {
	s.mu.Lock()
	et, exists := s.timers[endpointID]
	if exists {
		delete(s.timers, endpointID)
	}
	s.mu.Unlock()

	if !exists {
		return false
	}
	et.cancel()
	<-et.done
	return true
}

// Restart cancels any existing timer, re-reads the endpoint and re-arms —
// the "hot reload" path after a config change. The Kafka pool record is
// kept and reused by later probes, so a change to the endpoint's
// connection settings takes effect only once Stop (or Pool.Cleanup) has
// torn that record down.
func (s *Scheduler) Restart(ctx context.Context, endpointID int64) {
	s.halt(endpointID)
	s.Start(ctx, endpointID)
}

// Running reports whether endpointID currently has an armed timer.
func (s *Scheduler) Running(endpointID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[endpointID]
	return ok
}

// run is the single goroutine body for one endpoint's timer. It owns no
// shared mutable state besides the map entry read once at start. At most
// one probe runs per endpoint at a time by construction: the next timer
// only arms after fire() returns.
func (s *Scheduler) run(ctx context.Context, endpointID int64, done chan struct{}, initialDelay time.Duration) {
	defer close(done)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		interval, rearm := s.fire(ctx, endpointID)
		if !rearm {
			return
		}
		timer.Reset(interval)
	}
}

// fire executes exactly one probe cycle for endpointID and reports the
// interval to wait before the next one, plus whether the timer should
// re-arm at all (false once the endpoint is paused or deleted).
func (s *Scheduler) fire(ctx context.Context, endpointID int64) (time.Duration, bool) {
	e, err := s.store.Endpoint(endpointID)
	if err != nil {
		s.log.Warn("scheduler: endpoint vanished, stopping timer", slog.Int64("endpointId", endpointID), slog.Any("error", err))
		return 0, false
	}
	if e.Paused {
		return 0, false
	}

	now := s.clock.Now()
	result := probe.Dispatch(ctx, s.pool, e, now)

	updated := s.applyTransition(e, result, now)

	if err := s.store.PutEndpoint(updated); err != nil {
		s.log.Error("scheduler: persist endpoint", slog.Int64("endpointId", endpointID), slog.Any("error", err))
	}

	outcome := domain.ProbeOutcome{
		EndpointID:     updated.ID,
		InstanceID:     s.instanceID,
		Timestamp:      now,
		IsOK:           result.IsOK,
		ResponseTimeMS: result.ResponseTimeMS,
		Status:         result.Status,
		FailureReason:  result.FailureReason,
		Location:       s.location,
		CheckType:      e.Type,
		Metadata:       result.Metadata,
	}
	outcome.Normalize()

	if err := s.store.AppendOutcome(outcome); err != nil {
		s.log.Error("scheduler: append outcome", slog.Int64("endpointId", endpointID), slog.Any("error", err))
	}
	s.sink.Enqueue(outcome)

	return updated.NormalizedInterval(), true
}

// applyTransition applies the retry/debounce
// rule that decides whether this probe result flips the endpoint's status,
// and whether a notification fires. It returns the endpoint with its
// status/retry counters/last-checked fields updated; it does not persist.
func (s *Scheduler) applyTransition(e domain.Endpoint, result probe.Result, now time.Time) domain.Endpoint {
	e.LastChecked = now

	if result.IsOK {
		if e.Status != domain.StatusUp {
			e.Status = domain.StatusUp
			s.notifier.Dispatch(context.Background(), e, notify.StatusChange(domain.StatusUp))
		}
		e.RetriesFailedSoFar = 0
		return e
	}

	e.RetriesFailedSoFar++
	if e.RetriesFailedSoFar >= e.RetryThreshold() {
		if e.Status != domain.StatusDown {
			e.Status = domain.StatusDown
			s.notifier.Dispatch(context.Background(), e, notify.StatusChange(domain.StatusDown))
		}
	}
	return e
}
