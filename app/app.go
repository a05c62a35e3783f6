// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app assembles one monitor instance: it owns the HTTP listener,
// starts the subsystems the instance's role allows, and supervises them
// until shutdown. Promotion re-enters the same wiring — the failover
// controller's election hooks stop the dependent-only subsystems and start
// the primary-only ones without restarting the process.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/failover"
	"github.com/watchwire/sentinel/health"
	"github.com/watchwire/sentinel/kafkapool"
	"github.com/watchwire/sentinel/notify"
	"github.com/watchwire/sentinel/probe/certcheck"
	"github.com/watchwire/sentinel/probe/rdap"
	"github.com/watchwire/sentinel/reaper"
	"github.com/watchwire/sentinel/role"
	"github.com/watchwire/sentinel/scheduler"
	"github.com/watchwire/sentinel/store"
	"github.com/watchwire/sentinel/syncclient"
)

// DefaultCertSweepInterval is how often the TLS-expiry sub-check walks the
// endpoint set.
const DefaultCertSweepInterval = 24 * time.Hour

// registerRetryInterval paces a dependent's registration attempts while
// the primary is unreachable at boot.
const registerRetryInterval = 30 * time.Second

// Services bundles the collaborators the supervisor wires together. All
// fields are required unless noted.
type Services struct {
	Store     *store.Store
	Roles     *role.Manager
	Pool      *kafkapool.Pool
	Scheduler *scheduler.Scheduler
	Certs     *certcheck.Checker
	Reaper    *reaper.Reaper

	// Domains resolves registration expiry over RDAP during the expiry
	// sweep; nil disables the lookup.
	Domains *rdap.Client
	Log     *slog.Logger

	// SyncHandler serves /health and the /api/sync routes. Primary-only
	// routes reject with 403 on their own, so the handler is mounted
	// under every role.
	SyncHandler http.Handler

	// SyncClient is required on a dependent, nil otherwise.
	SyncClient *syncclient.Client

	// Identity of this instance within the registry, used by the
	// failover election on a dependent.
	InstanceID    string
	FailoverOrder int

	ListenAddr        string
	SyncInterval      time.Duration
	CertSweepInterval time.Duration

	// Live is the readiness toggle /health composes; a nil Live gets a
	// fresh toggle. Passing it in lets the caller build the health
	// monitor before the App exists.
	Live *health.Toggle
}

// App supervises one running instance.
type App struct {
	services Services
	hooks    *Hooks
	live     *health.Toggle
}

// New validates the collaborator set and returns an App. The returned
// Hooks registry collects shutdown work; hooks run after Run returns.
func New(services Services) (*App, *Hooks, error) {
	if services.Store == nil || services.Roles == nil || services.Scheduler == nil || services.SyncHandler == nil {
		return nil, nil, errors.New("app: missing required service")
	}
	if services.Roles.Role() == domain.RoleDependent && services.SyncClient == nil {
		return nil, nil, errors.New("app: dependent role requires a sync client")
	}
	if services.CertSweepInterval <= 0 {
		services.CertSweepInterval = DefaultCertSweepInterval
	}
	if services.Live == nil {
		services.Live = &health.Toggle{}
	}

	hooks := &Hooks{}
	return &App{services: services, hooks: hooks, live: services.Live}, hooks, nil
}

// Live is the toggle the /health monitor composes: it reports ready once
// the role's subsystems are started and not-ready once shutdown begins.
func (a *App) Live() *health.Toggle {
	return a.live
}

// Run starts every subsystem the current role allows and blocks until ctx
// is cancelled or an interrupt/TERM signal arrives. Registered shutdown
// hooks run after all subsystems have stopped; their errors are joined
// with any run error.
func (a *App) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := a.run(sigCtx)

	// Shutdown hooks get a fresh context: the lifecycle one is already
	// cancelled by the time they run.
	hookCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(runErr, a.hooks.run(hookCtx))
}

func (a *App) run(ctx context.Context) error {
	s := a.services

	srv := &http.Server{Addr: s.ListenAddr, Handler: s.SyncHandler}

	p := pool.New().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		a.live.MarkNotReady()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	switch s.Roles.Role() {
	case domain.RolePrimary:
		a.startLocalMonitoring(ctx, p)
		p.Go(func(ctx context.Context) error {
			s.Reaper.Run(ctx)
			return nil
		})
	case domain.RoleStandalone:
		a.startLocalMonitoring(ctx, p)
	case domain.RoleDependent:
		a.startDependent(ctx, p)
	}

	s.Log.Info("instance started",
		slog.String("instanceId", s.InstanceID),
		slog.String("role", string(s.Roles.Role())),
		slog.String("listen", s.ListenAddr))
	a.live.MarkReady()

	return p.Wait()
}

// startLocalMonitoring arms a timer for every non-paused endpoint in the
// local store and starts the TLS-expiry sweep.
func (a *App) startLocalMonitoring(ctx context.Context, p *pool.ContextPool) {
	s := a.services

	eps, err := s.Store.NonPausedEndpoints()
	if err != nil {
		s.Log.Error("list endpoints at startup", slog.Any("error", err))
	}
	for _, e := range eps {
		s.Scheduler.Start(ctx, e.ID)
	}

	p.Go(func(ctx context.Context) error {
		a.runCertSweep(ctx)
		return nil
	})
}

// runCertSweep periodically walks the endpoint set and runs the TLS-expiry
// sub-check for each endpoint that opted in.
func (a *App) runCertSweep(ctx context.Context) {
	s := a.services

	t := time.NewTicker(s.CertSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			eps, err := s.Store.NonPausedEndpoints()
			if err != nil {
				s.Log.Warn("cert sweep: list endpoints", slog.Any("error", err))
				continue
			}
			for _, e := range eps {
				s.Certs.Run(ctx, e)
				a.checkDomainExpiry(ctx, e)
			}
		}
	}
}

// checkDomainExpiry resolves the registration expiry of an HTTP endpoint's
// root domain. Lookup failures are logged and swallowed; they never affect
// the endpoint's status.
func (a *App) checkDomainExpiry(ctx context.Context, e domain.Endpoint) {
	s := a.services
	if s.Domains == nil || e.Type != domain.CheckHTTP {
		return
	}

	host := hostOf(e.URL)
	if host == "" || net.ParseIP(host) != nil {
		return
	}

	info, err := s.Domains.Lookup(ctx, host)
	if err != nil {
		s.Log.Warn("domain expiry lookup failed",
			slog.Int64("endpointId", e.ID),
			slog.String("domain", host),
			slog.Any("error", err))
		return
	}

	s.Log.Info("domain expiry",
		slog.Int64("endpointId", e.ID),
		slog.String("domain", host),
		slog.String("registrar", info.Registrar),
		slog.Time("expires", info.ExpiryDate))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}

// startDependent registers with the primary, begins the periodic endpoint
// refresh, and runs the failover controller. The dependent-only subsystems
// share a child context so a won election can stop them without touching
// the rest of the app.
func (a *App) startDependent(ctx context.Context, p *pool.ContextPool) {
	s := a.services

	depCtx, stopDependent := context.WithCancel(ctx)

	p.Go(func(_ context.Context) error {
		a.registerUntilCancelled(depCtx)
		if depCtx.Err() != nil {
			return nil
		}
		if err := s.SyncClient.FetchEndpointsFromPrimary(depCtx); err != nil {
			s.Log.Warn("initial endpoint fetch failed", slog.Any("error", err))
		}
		s.SyncClient.RunPeriodicRefresh(depCtx, s.SyncInterval)
		return nil
	})

	appCtx := ctx
	ctl := failover.New(s.Store, s.SyncClient, s.Roles, s.InstanceID, s.FailoverOrder, failover.Hooks{
		StopSyncClient: stopDependent,
		// The election hook's context is the dependent one, already
		// cancelled by StopSyncClient; the primary subsystems must
		// outlive it, so they start under the app lifecycle context.
		StartPrimaryComponents: func(context.Context) {
			s.Log.Info("promoted to primary, starting primary subsystems")
			a.startLocalMonitoring(appCtx, p)
			p.Go(func(ctx context.Context) error {
				s.Reaper.Run(ctx)
				return nil
			})
		},
	}, s.Log)

	p.Go(func(ctx context.Context) error {
		ctl.Run(depCtx)
		// A promotion cancels depCtx but the app keeps running; block
		// until the whole lifecycle ends.
		<-ctx.Done()
		return nil
	})
}

// registerUntilCancelled retries registration on an interval until it
// succeeds or ctx is cancelled.
func (a *App) registerUntilCancelled(ctx context.Context) {
	s := a.services
	for {
		err := s.SyncClient.RegisterWithPrimary(ctx)
		if err == nil {
			return
		}
		s.Log.Warn("registration with primary failed, retrying",
			slog.Any("error", err),
			slog.Duration("retryIn", registerRetryInterval))

		select {
		case <-ctx.Done():
			return
		case <-time.After(registerRetryInterval):
		}
	}
}

// GatedNotifier wraps a dispatcher so emission follows the role gate:
// only a primary or standalone instance notifies. After promotion the
// same scheduler starts emitting without being rebuilt.
func GatedNotifier(roles *role.Manager, inner scheduler.Notifier) scheduler.Notifier {
	return gatedNotifier{roles: roles, inner: inner}
}

type gatedNotifier struct {
	roles *role.Manager
	inner scheduler.Notifier
}

func (g gatedNotifier) Dispatch(ctx context.Context, e domain.Endpoint, event notify.Event) {
	if !g.roles.Allowed(role.SubsystemNotifier) {
		return
	}
	g.inner.Dispatch(ctx, e, event)
}
