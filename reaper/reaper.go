// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package reaper implements the primary-only scan that marks stale
// instances inactive.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/store"
)

// ScanInterval and StaleAfter are the fixed reaping windows.
const (
	ScanInterval = 2 * time.Minute
	StaleAfter   = 5 * time.Minute
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Reaper runs only on a primary.
type Reaper struct {
	store *store.Store
	log   *slog.Logger
	clock Clock
}

// New constructs a Reaper.
func New(st *store.Store, log *slog.Logger) *Reaper {
	return &Reaper{store: st, log: log, clock: systemClock{}}
}

// Run blocks, scanning every ScanInterval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(ScanInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.ScanOnce()
		}
	}
}

// ScanOnce marks every active instance whose last heartbeat is older than
// StaleAfter as inactive. Aggregated results are left untouched — they age
// out naturally as fresh outcomes overwrite them.
func (r *Reaper) ScanOnce() {
	instances, err := r.store.Instances()
	if err != nil {
		r.log.Error("reaper: list instances", slog.Any("error", err))
		return
	}

	now := r.clock.Now()
	for _, inst := range instances {
		if inst.Status != domain.InstanceActive {
			continue
		}
		if inst.Fresh(now, StaleAfter) {
			continue
		}
		if err := r.store.UpdateInstanceStatus(inst.InstanceID, domain.InstanceInactive); err != nil {
			r.log.Error("reaper: mark inactive", slog.String("instanceId", inst.InstanceID), slog.Any("error", err))
		}
	}
}
