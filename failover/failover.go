// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package failover implements the dependent-only primary-liveness
// poller and ordered-election promotion protocol.
package failover

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/role"
	"github.com/watchwire/sentinel/store"
)

// ErrPromotionRace names the case where another instance is already
// promoting or a fresher, lower-order peer exists. The controller does not
// return it: promotion logs that case and gives up, never fatally.
var ErrPromotionRace = errors.New("failover: another instance has priority")

const (
	pollInterval     = 30 * time.Second
	healthTimeout    = 5 * time.Second
	failureThreshold = 3
	promotionHold    = 5 * time.Second
	recheckFreshness = 2 * time.Minute
	primaryFreshness = 5 * time.Minute
)

// HealthChecker probes the current primary's liveness endpoint.
type HealthChecker interface {
	CheckPrimaryHealth(ctx context.Context) error
}

// Clock abstracts time.Now and time.Sleep for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Hooks are the component lifecycle callbacks the promotion protocol
// invokes once it wins an election: stop the sync client and this
// controller's own ticker, then start the primary-only subsystems (sync
// server, aggregator, reaper) via the caller's wiring.
type Hooks struct {
	StopSyncClient         func()
	StartPrimaryComponents func(ctx context.Context)
}

// Controller runs only on a dependent instance.
type Controller struct {
	store     *store.Store
	health    HealthChecker
	roles     *role.Manager
	clock     Clock
	log       *slog.Logger
	hooks     Hooks
	selfID    string
	selfOrder int

	mu                  sync.Mutex
	consecutiveFailures int
	lastPrimaryContact  time.Time
}

// New constructs a Controller for selfID/selfOrder, which must match the
// MonitoringInstance row this dependent was registered under.
func New(st *store.Store, health HealthChecker, roles *role.Manager, selfID string, selfOrder int, hooks Hooks, log *slog.Logger) *Controller {
	return &Controller{
		store:     st,
		health:    health,
		roles:     roles,
		clock:     systemClock{},
		log:       log,
		hooks:     hooks,
		selfID:    selfID,
		selfOrder: selfOrder,
	}
}

// Run polls the primary's health every 30s until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.checkOnce(ctx)
		}
	}
}

func (c *Controller) checkOnce(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := c.health.CheckPrimaryHealth(hctx); err == nil {
		c.mu.Lock()
		c.consecutiveFailures = 0
		c.lastPrimaryContact = c.clock.Now()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.consecutiveFailures++
	reached := c.consecutiveFailures >= failureThreshold
	c.mu.Unlock()

	if reached {
		c.promote(ctx)
	}
}

// promote runs the 5-step protocol, using the locally
// cached instance registry since the primary is presumed unreachable.
func (c *Controller) promote(ctx context.Context) {
	now := c.clock.Now()
	if c.hasFresherLowerOrderPeer(now, primaryFreshness) {
		c.log.Info("failover: lower-order active peer present, not promoting")
		return
	}
	if c.otherInstancePromoting() {
		c.log.Info("failover: another instance already promoting, not promoting")
		return
	}

	if err := c.store.UpdateInstanceStatus(c.selfID, domain.InstancePromoting); err != nil {
		c.log.Error("failover: set promoting status", slog.Any("error", err))
		return
	}

	c.clock.Sleep(promotionHold)

	if c.hasFresherLowerOrderPeer(c.clock.Now(), recheckFreshness) {
		c.log.Info("failover: lower-order peer appeared during hold, reverting")
		if err := c.store.UpdateInstanceStatus(c.selfID, domain.InstanceActive); err != nil {
			c.log.Error("failover: revert promoting status", slog.Any("error", err))
		}
		return
	}

	c.hooks.StopSyncClient()
	if err := c.roles.PromoteToPrimary(); err != nil {
		c.log.Error("failover: promote to primary", slog.Any("error", err))
		return
	}
	c.hooks.StartPrimaryComponents(ctx)

	if err := c.store.UpdateInstanceStatus(c.selfID, domain.InstanceActive); err != nil {
		c.log.Error("failover: set active status post-promotion", slog.Any("error", err))
	}

	c.mu.Lock()
	c.consecutiveFailures = 0
	c.mu.Unlock()
}

func (c *Controller) hasFresherLowerOrderPeer(now time.Time, window time.Duration) bool {
	instances, err := c.store.Instances()
	if err != nil {
		c.log.Warn("failover: list instances", slog.Any("error", err))
		return false
	}
	for _, inst := range instances {
		if inst.InstanceID == c.selfID {
			continue
		}
		if inst.Status == domain.InstanceActive && inst.FailoverOrder < c.selfOrder && inst.Fresh(now, window) {
			return true
		}
	}
	return false
}

func (c *Controller) otherInstancePromoting() bool {
	instances, err := c.store.Instances()
	if err != nil {
		c.log.Warn("failover: list instances", slog.Any("error", err))
		return false
	}
	for _, inst := range instances {
		if inst.InstanceID != c.selfID && inst.Status == domain.InstancePromoting {
			return true
		}
	}
	return false
}

// ForcePromotion is the manual override: it sets the failure count to the
// threshold and runs the same protocol.
func (c *Controller) ForcePromotion(ctx context.Context) {
	c.mu.Lock()
	c.consecutiveFailures = failureThreshold
	c.mu.Unlock()
	c.promote(ctx)
}

// ResetFailoverState zeroes the failure counter and restores this
// instance's registry status to active.
func (c *Controller) ResetFailoverState() error {
	c.mu.Lock()
	c.consecutiveFailures = 0
	c.mu.Unlock()
	return c.store.UpdateInstanceStatus(c.selfID, domain.InstanceActive)
}

// ConsecutiveFailures reports the current failure streak, for tests and
// diagnostics.
func (c *Controller) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures
}
