// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package notify looks up the notification services bound to an endpoint
// and hands off a state-change event to each in isolation.
// A single service failing must never block another, and no error from this
// package is ever propagated back to the scheduler.
package notify

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/watchwire/sentinel/domain"
)

// EventKind distinguishes a scheduler state transition from a certificate
// or domain expiry warning; both travel through the same dispatch path.
type EventKind string

const (
	EventStatusChange EventKind = "status_change"
	EventExpiring     EventKind = "expiring"
)

// Event is the single payload every notifier receives. For EventStatusChange,
// Status holds the endpoint's new UP/DOWN status; for EventExpiring it
// carries a human-readable Message instead.
type Event struct {
	Kind    EventKind
	Status  domain.Status
	Message string
}

// Notifier is the single collaborator interface this package dispatches to.
// Concrete transports (Telegram, Slack, email, webhook) are out of scope
// here and live behind this interface.
type Notifier interface {
	Notify(ctx context.Context, endpoint domain.Endpoint, event Event) error
}

// Binding resolves which notifiers are attached to a given endpoint. A
// concrete implementation typically reads the endpoint<->notifier join
// join table; out of scope here, so callers supply one.
type Binding interface {
	NotifiersFor(endpointID int64) []Notifier
}

// Dispatcher fans a single state transition out to every notifier bound to
// the transitioning endpoint.
type Dispatcher struct {
	log     *slog.Logger
	binding Binding
}

// New constructs a Dispatcher over the given binding lookup.
func New(log *slog.Logger, binding Binding) *Dispatcher {
	return &Dispatcher{log: log, binding: binding}
}

// Dispatch invokes every notifier bound to endpoint concurrently, logging
// (not propagating) any individual failure. It returns once every notifier
// has either succeeded or failed — callers that don't need to wait should
// invoke it from their own goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoint domain.Endpoint, event Event) {
	notifiers := d.binding.NotifiersFor(endpoint.ID)
	if len(notifiers) == 0 {
		return
	}

	p := pool.New().WithContext(ctx)
	for _, n := range notifiers {
		n := n
		p.Go(func(ctx context.Context) error {
			if err := n.Notify(ctx, endpoint, event); err != nil {
				d.log.Error(
					"notifier failed",
					slog.Int64("endpointId", endpoint.ID),
					slog.String("kind", string(event.Kind)),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}
	// Every goroutine above swallows its own error, so Wait never fails;
	// it's only used to block until every notifier has had its turn.
	_ = p.Wait()
}

// StatusChange is a convenience constructor for the common scheduler
// state-transition event.
func StatusChange(status domain.Status) Event {
	return Event{Kind: EventStatusChange, Status: status}
}

// Expiring is a convenience constructor for the certificate/domain expiry
// warning event.
func Expiring(message string) Event {
	return Event{Kind: EventExpiring, Message: message}
}

// StaticBinding is a Binding backed by a fixed, in-memory map — suitable for
// the standalone/default configuration where notifiers are not persisted
// per endpoint but registered once at startup.
type StaticBinding struct {
	byEndpoint map[int64][]Notifier
	global     []Notifier
}

// NewStaticBinding builds a StaticBinding that sends every endpoint's
// transitions to the given global notifiers, in addition to any later
// per-endpoint overrides added with Bind.
func NewStaticBinding(global ...Notifier) *StaticBinding {
	return &StaticBinding{byEndpoint: make(map[int64][]Notifier), global: global}
}

// Bind attaches additional notifiers to a specific endpoint.
func (b *StaticBinding) Bind(endpointID int64, notifiers ...Notifier) {
	b.byEndpoint[endpointID] = append(b.byEndpoint[endpointID], notifiers...)
}

// NotifiersFor implements Binding.
func (b *StaticBinding) NotifiersFor(endpointID int64) []Notifier {
	out := make([]Notifier, 0, len(b.global)+len(b.byEndpoint[endpointID]))
	out = append(out, b.global...)
	out = append(out, b.byEndpoint[endpointID]...)
	return out
}
