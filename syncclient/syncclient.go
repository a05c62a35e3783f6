// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package syncclient implements the dependent's side of the sync
// protocol — registration, periodic endpoint refresh, and a debounced,
// event-driven heartbeat sender.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/store"
	"github.com/watchwire/sentinel/syncwire"
)

// ErrUnauthorized is returned when the primary rejects the current token;
// callers re-register once and retry before counting a transport failure.
var ErrUnauthorized = errors.New("syncclient: unauthorized")

const (
	healthTimeout    = 5 * time.Second
	registerTimeout  = 10 * time.Second
	endpointsTimeout = 10 * time.Second
	heartbeatTimeout = 10 * time.Second
	debounceWindow   = 2 * time.Second
)

// Scheduler is the subset of scheduler.Scheduler the client drives when
// reconciling the local endpoint set against the primary's.
type Scheduler interface {
	Start(ctx context.Context, endpointID int64)
	Stop(endpointID int64)
	Restart(ctx context.Context, endpointID int64)
	Running(endpointID int64) bool
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Identity is the fixed self-description a dependent presents at
// registration.
type Identity struct {
	InstanceID     string
	InstanceName   string
	Location       string
	Version        string
	Capabilities   []string
	FailoverOrder  int
	PublicEndpoint string
	SharedSecret   string
	SystemInfo     syncwire.SystemInfo
}

// Client is a dependent instance's connection to its primary.
type Client struct {
	httpClient *http.Client
	primaryURL string
	identity   Identity
	store      *store.Store
	scheduler  Scheduler
	log        *slog.Logger
	clock      Clock

	mu                   sync.Mutex
	token                string
	pending              []domain.ProbeOutcome
	debounceArmed        bool
	lastHeartbeatSuccess time.Time
	heartbeatFailures    int
	syncErrors           int

	startedAt time.Time
}

// New constructs a Client. primaryURL is the base sync URL, with no
// trailing slash assumed (e.g. "http://primary.internal:3001").
func New(primaryURL string, identity Identity, st *store.Store, sched Scheduler, log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		primaryURL: primaryURL,
		identity:   identity,
		store:      st,
		scheduler:  sched,
		log:        log,
		clock:      systemClock{},
		startedAt:  time.Now(),
	}
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// RegisterWithPrimary confirms liveness with GET /health, then registers
// via POST /register and persists the returned bearer token in memory
// only (never to disk).
func (c *Client) RegisterWithPrimary(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := c.checkHealth(hctx); err != nil {
		return fmt.Errorf("syncclient: primary health check: %w", err)
	}

	rctx, cancel2 := context.WithTimeout(ctx, registerTimeout)
	defer cancel2()

	req := syncwire.RegisterRequest{
		InstanceID:     c.identity.InstanceID,
		InstanceName:   c.identity.InstanceName,
		Location:       c.identity.Location,
		Version:        c.identity.Version,
		Capabilities:   c.identity.Capabilities,
		FailoverOrder:  c.identity.FailoverOrder,
		PublicEndpoint: c.identity.PublicEndpoint,
		SharedSecret:   c.identity.SharedSecret,
		SystemInfo:     c.identity.SystemInfo,
	}

	var resp syncwire.RegisterResponse
	if err := c.doJSON(rctx, http.MethodPost, "/api/sync/register", req, "", &resp); err != nil {
		return fmt.Errorf("syncclient: register: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// CheckPrimaryHealth satisfies failover.HealthChecker: a plain GET /health
// with no auth, used by the failover controller's liveness poller.
func (c *Client) CheckPrimaryHealth(ctx context.Context) error {
	return c.checkHealth(ctx)
}

func (c *Client) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.primaryURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// FetchEndpointsFromPrimary fetches the primary's current endpoint set,
// re-registering once on 401, then reconciles local scheduling — stopping
// endpoints no longer present and starting every non-paused endpoint that
// is.
func (c *Client) FetchEndpointsFromPrimary(ctx context.Context) error {
	eps, err := c.fetchEndpoints(ctx)
	if errors.Is(err, ErrUnauthorized) {
		if rerr := c.RegisterWithPrimary(ctx); rerr != nil {
			return fmt.Errorf("syncclient: re-register after 401: %w", rerr)
		}
		eps, err = c.fetchEndpoints(ctx)
	}
	if err != nil {
		return fmt.Errorf("syncclient: fetch endpoints: %w", err)
	}

	return c.reconcile(ctx, eps)
}

func (c *Client) fetchEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	fctx, cancel := context.WithTimeout(ctx, endpointsTimeout)
	defer cancel()

	var eps []domain.Endpoint
	if err := c.doJSON(fctx, http.MethodGet, "/api/sync/endpoints", nil, c.currentToken(), &eps); err != nil {
		return nil, err
	}
	return eps, nil
}

func (c *Client) reconcile(ctx context.Context, fresh []domain.Endpoint) error {
	freshIDs := make(map[int64]bool, len(fresh))
	for _, e := range fresh {
		freshIDs[e.ID] = true
	}

	existing, err := c.store.Endpoints()
	if err != nil {
		return fmt.Errorf("syncclient: list local endpoints: %w", err)
	}
	for _, e := range existing {
		if !freshIDs[e.ID] {
			c.scheduler.Stop(e.ID)
			if err := c.store.DeleteEndpoint(e.ID); err != nil {
				c.log.Warn("syncclient: delete stale local endpoint", slog.Int64("endpointId", e.ID), slog.Any("error", err))
			}
		}
	}

	now := c.clock.Now()
	for _, e := range fresh {
		if err := c.store.PutEndpoint(e); err != nil {
			c.log.Error("syncclient: persist endpoint", slog.Int64("endpointId", e.ID), slog.Any("error", err))
			continue
		}
		if err := c.store.PutEndpointSyncStatus(domain.EndpointSyncStatus{
			EndpointID: e.ID, InstanceID: c.identity.InstanceID, LastPushedAt: now, LastAckAt: now,
		}); err != nil {
			c.log.Warn("syncclient: record sync status", slog.Int64("endpointId", e.ID), slog.Any("error", err))
		}

		if e.Paused {
			c.scheduler.Stop(e.ID)
			continue
		}
		c.scheduler.Start(ctx, e.ID)
	}
	return nil
}

// Enqueue implements scheduler.OutcomeSink: every locally produced outcome
// is buffered and, on the first push since the last fire, a 2s debounce
// timer is armed.
func (c *Client) Enqueue(o domain.ProbeOutcome) {
	c.mu.Lock()
	c.pending = append(c.pending, o)
	armed := c.debounceArmed
	c.debounceArmed = true
	c.mu.Unlock()

	if armed {
		return
	}

	time.AfterFunc(debounceWindow, func() {
		p := pool.New().WithContext(context.Background())
		p.Go(func(ctx context.Context) error {
			return c.fireHeartbeat(ctx)
		})
		if err := p.Wait(); err != nil {
			c.log.Error("syncclient: heartbeat send", slog.Any("error", err))
		}
	})
}

// fireHeartbeat drains the pending buffer and sends it as one
// HeartbeatPayload. The buffer is cleared regardless of outcome, so delivery
// of historical outcomes is at-most-once; success/failure only affects the
// failure counters.
func (c *Client) fireHeartbeat(ctx context.Context) error {
	c.mu.Lock()
	buffered := c.pending
	c.pending = nil
	c.debounceArmed = false
	c.mu.Unlock()

	if len(buffered) == 0 {
		return nil
	}

	wireOutcomes := make([]syncwire.ProbeOutcome, len(buffered))
	for i, o := range buffered {
		wireOutcomes[i] = syncwire.OutcomeFromDomain(o)
	}

	hctx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()

	payload := syncwire.HeartbeatPayload{
		InstanceID:        c.identity.InstanceID,
		Timestamp:         c.clock.Now(),
		Status:            c.selfAssessedHealth(),
		UptimeSeconds:     int64(time.Since(c.startedAt) / time.Second),
		MonitoringResults: wireOutcomes,
		SystemMetrics:     c.systemMetrics(),
		ConnectionStatus:  c.connectionStatus(),
	}

	err := c.send(hctx, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.heartbeatFailures++
		c.syncErrors++
		return err
	}
	c.lastHeartbeatSuccess = c.clock.Now()
	c.heartbeatFailures = 0
	return nil
}

// selfAssessedHealth degrades once heartbeats start failing and reports
// failing once the failover threshold's worth of sends have been lost.
func (c *Client) selfAssessedHealth() syncwire.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.heartbeatFailures >= 3:
		return syncwire.HealthFailing
	case c.heartbeatFailures > 0:
		return syncwire.HealthDegraded
	default:
		return syncwire.HealthHealthy
	}
}

// systemMetrics snapshots what this dependent can cheaply self-report; the
// active endpoint count is the set currently scheduled locally.
func (c *Client) systemMetrics() syncwire.SystemMetrics {
	active := 0
	if eps, err := c.store.NonPausedEndpoints(); err == nil {
		for _, e := range eps {
			if c.scheduler.Running(e.ID) {
				active++
			}
		}
	}
	return syncwire.SystemMetrics{ActiveEndpoints: active}
}

func (c *Client) connectionStatus() syncwire.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := syncwire.ConnectionStatus{
		PrimaryReachable: c.heartbeatFailures == 0,
		SyncErrors:       c.syncErrors,
	}
	if !c.lastHeartbeatSuccess.IsZero() {
		t := c.lastHeartbeatSuccess
		cs.LastSyncSuccess = &t
	}
	return cs
}

// LastHeartbeatSuccess reports when the primary last acknowledged a
// heartbeat, zero if it never has.
func (c *Client) LastHeartbeatSuccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeatSuccess
}

func (c *Client) send(ctx context.Context, payload syncwire.HeartbeatPayload) error {
	var resp syncwire.HeartbeatResponse
	err := c.doJSON(ctx, http.MethodPut, "/api/sync/heartbeat", payload, c.currentToken(), &resp)
	if errors.Is(err, ErrUnauthorized) {
		if rerr := c.RegisterWithPrimary(ctx); rerr != nil {
			return rerr
		}
		return c.doJSON(ctx, http.MethodPut, "/api/sync/heartbeat", payload, c.currentToken(), &resp)
	}
	return err
}

// RunPeriodicRefresh blocks, calling FetchEndpointsFromPrimary every
// interval, until ctx is cancelled.
func (c *Client) RunPeriodicRefresh(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.FetchEndpointsFromPrimary(ctx); err != nil {
				c.log.Warn("syncclient: periodic endpoint refresh failed", slog.Any("error", err))
			}
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, token string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.primaryURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env syncwire.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if !env.Success {
		return fmt.Errorf("primary returned error: %s", env.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
