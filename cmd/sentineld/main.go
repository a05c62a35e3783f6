// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// sentineld runs one monitoring instance: standalone by default, primary
// when INSTANCE_ROLE=primary is set, dependent when PRIMARY_SYNC_URL points
// at a primary.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/watchwire/sentinel/aggregate"
	"github.com/watchwire/sentinel/app"
	"github.com/watchwire/sentinel/config"
	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/health"
	"github.com/watchwire/sentinel/internal/otelboot"
	"github.com/watchwire/sentinel/kafkapool"
	"github.com/watchwire/sentinel/notify"
	"github.com/watchwire/sentinel/obslog"
	"github.com/watchwire/sentinel/probe/certcheck"
	"github.com/watchwire/sentinel/probe/rdap"
	"github.com/watchwire/sentinel/reaper"
	"github.com/watchwire/sentinel/role"
	"github.com/watchwire/sentinel/scheduler"
	"github.com/watchwire/sentinel/store"
	"github.com/watchwire/sentinel/syncclient"
	"github.com/watchwire/sentinel/syncserver"
	"github.com/watchwire/sentinel/syncwire"
)

// version is stamped by the build via -ldflags.
var version = "dev"

var cli struct {
	Config  string           `help:"Path to the YAML config file." short:"c" optional:"" type:"existingfile"`
	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("sentineld"),
		kong.Description("Distributed endpoint-availability monitor."),
		kong.Vars{"version": version},
	)
	kctx.FatalIfErrorf(run(context.Background()))
}

func run(ctx context.Context) error {
	var src io.Reader
	if cli.Config != "" {
		f, err := os.Open(cli.Config)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	cfg, err := config.Load(src)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}

	instCfg, err := bootInstanceConfig(st, cfg)
	if err != nil {
		st.Close()
		return err
	}

	otelShutdown, err := otelboot.Init(ctx, otelboot.Config{
		ServiceName:        cfg.OTel.ServiceName,
		ServiceVersion:     version,
		InstanceID:         instCfg.InstanceID,
		Location:           cfg.Instance.Location,
		OTLPTarget:         cfg.OTel.OTLP.Target,
		TraceSampling:      cfg.OTel.Trace.Sampling,
		TraceBatchTimeout:  cfg.OTel.Trace.BatchTimeout,
		MetricExportPeriod: cfg.OTel.Metric.ExportPeriod,
		LogBatchTimeout:    cfg.OTel.Log.BatchTimeout,
	})
	if err != nil {
		st.Close()
		return err
	}

	log, err := obslog.New("sentineld", st)
	if err != nil {
		st.Close()
		return err
	}

	roles := role.New(st, instCfg)
	pool := kafkapool.New(log.Logger)
	dispatcher := notify.New(log.Logger, notify.NewStaticBinding())

	sink := &forwardingSink{}
	sched := scheduler.New(st, pool, app.GatedNotifier(roles, dispatcher), log.Logger,
		instCfg.InstanceID, cfg.Instance.Location,
		scheduler.WithOutcomeSink(sink))

	var client *syncclient.Client
	if roles.Role() == domain.RoleDependent {
		client = syncclient.New(instCfg.PrimarySyncURL, syncclient.Identity{
			InstanceID:    instCfg.InstanceID,
			InstanceName:  instanceName(cfg),
			Location:      cfg.Instance.Location,
			Version:       version,
			Capabilities:  []string{"http", "ping", "tcp", "kafka_producer", "kafka_consumer"},
			FailoverOrder: instCfg.FailoverOrder,
			SharedSecret:  instCfg.SharedSecret,
			SystemInfo:    localSystemInfo(),
		}, st, sched, log.Logger)
		sink.set(client)
	}

	live := &health.Toggle{}
	srv := syncserver.New(st, aggregate.New(st), roles, log.Logger,
		syncserver.WithHealth(health.All(health.Store(st), live)))

	a, hooks, err := app.New(app.Services{
		Store:         st,
		Roles:         roles,
		Pool:          pool,
		Scheduler:     sched,
		Certs:         certcheck.New(log.Logger, dispatcher),
		Domains:       rdap.New(),
		Reaper:        reaper.New(st, log.Logger),
		Log:           log.Logger,
		SyncHandler:   srv,
		SyncClient:    client,
		InstanceID:    instCfg.InstanceID,
		FailoverOrder: instCfg.FailoverOrder,
		ListenAddr:    fmt.Sprintf(":%d", cfg.Server.Port),
		SyncInterval:  cfg.Sync.Interval,
		Live:          live,
	})
	if err != nil {
		st.Close()
		return err
	}

	hooks.OnShutdown(func(context.Context) error {
		pool.CloseAll()
		return nil
	})
	hooks.OnShutdown(otelShutdown)
	hooks.OnShutdown(func(context.Context) error { return st.Close() })

	return a.Run(ctx)
}

// bootInstanceConfig runs the one-shot initialization and layers this
// boot's role inputs over the persisted record, so environment changes
// take effect on restart while the generated identity and secrets stay
// stable.
func bootInstanceConfig(st *store.Store, cfg config.Config) (domain.InstanceConfig, error) {
	instCfg, err := st.InitInstanceConfig(uuid.NewString, cfg.Instance.SharedSecret)
	if err != nil {
		return domain.InstanceConfig{}, err
	}

	instCfg.PrimarySyncURL = cfg.Instance.PrimarySyncURL
	instCfg.InstanceRole = cfg.Instance.Primary
	if cfg.Instance.SharedSecret != "" {
		instCfg.SharedSecret = cfg.Instance.SharedSecret
	}
	instCfg.FailoverOrder = cfg.Instance.FailoverOrder
	instCfg.SyncIntervalSec = int(cfg.Sync.Interval / time.Second)
	instCfg.HeartbeatInterval = int(cfg.Sync.HeartbeatInterval / time.Millisecond)

	if err := st.PutInstanceConfig(instCfg); err != nil {
		return domain.InstanceConfig{}, err
	}
	return instCfg, nil
}

func instanceName(cfg config.Config) string {
	if cfg.Instance.Name != "" {
		return cfg.Instance.Name
	}
	host, err := os.Hostname()
	if err != nil {
		return "sentinel"
	}
	return host
}

var processStart = time.Now()

func localSystemInfo() syncwire.SystemInfo {
	return syncwire.SystemInfo{
		Platform:    runtime.GOOS,
		Arch:        runtime.GOARCH,
		NodeVersion: runtime.Version(),
		CPU:         fmt.Sprintf("%d cores", runtime.NumCPU()),
		Uptime:      int64(time.Since(processStart) / time.Second),
	}
}

// forwardingSink lets the scheduler be constructed before the sync client
// that consumes its outcomes; until set is called it drops outcomes, which
// only happens during assembly.
type forwardingSink struct {
	inner scheduler.OutcomeSink
}

func (f *forwardingSink) set(s scheduler.OutcomeSink) { f.inner = s }

func (f *forwardingSink) Enqueue(o domain.ProbeOutcome) {
	if f.inner == nil {
		return
	}
	f.inner.Enqueue(o)
}
