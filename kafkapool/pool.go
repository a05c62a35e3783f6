// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkapool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"

	"github.com/watchwire/sentinel/domain"
)

// Record is a single long-lived connection, keyed by endpoint id. At most
// one Kafka client exists per endpoint at any time.
type Record struct {
	Client    *kgo.Client
	Admin     *kadm.Client
	Connected bool
	LastError error
}

// Pool is a mutex-guarded registry of one record per endpoint id, opened
// lazily and reused across probes.
type Pool struct {
	log *slog.Logger

	mu      sync.Mutex
	records map[int64]*Record
}

// New constructs an empty Pool.
func New(log *slog.Logger) *Pool {
	return &Pool{log: log, records: make(map[int64]*Record)}
}

// Get returns the existing healthy record for endpoint, or opens a new one.
// The endpoint's free-form Kafka client config is sanitized through
// SanitizeConfig before anything reaches the franz-go client.
func (p *Pool) Get(ctx context.Context, e domain.Endpoint) (*Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec, ok := p.records[e.ID]; ok && rec.Connected {
		return rec, nil
	}

	rec, err := p.open(e)
	if err != nil {
		p.records[e.ID] = &Record{Connected: false, LastError: err}
		return nil, err
	}
	p.records[e.ID] = rec
	return rec, nil
}

func (p *Pool) open(e domain.Endpoint) (*Record, error) {
	brokers := splitBrokers(e.URL)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafkapool: endpoint %d has no broker addresses", e.ID)
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.WithLogger(kslog.New(p.log.With(slog.Int64("endpointId", e.ID)))),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
			),
			kotel.NewMeter(kotel.MeterProvider(otel.GetMeterProvider())),
		),
	}

	// Only the sanitized, allow-listed timeouts from the user-supplied
	// client config ever reach the client; zero values keep the
	// franz-go defaults.
	sc := SanitizeConfig(e.Kafka.ClientConfig)
	if sc.ConnectionTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(sc.ConnectionTimeout))
	}
	if sc.RequestTimeout > 0 {
		opts = append(opts, kgo.RequestTimeoutOverhead(sc.RequestTimeout))
	}
	if sc.TransactionTimeout > 0 {
		opts = append(opts, kgo.TransactionTimeout(sc.TransactionTimeout))
	}

	if e.MTLS.Enabled() {
		tlsCfg, err := clientTLS(e.MTLS)
		if err != nil {
			return nil, fmt.Errorf("kafkapool: endpoint %d mtls: %w", e.ID, err)
		}
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}

	switch e.Type {
	case domain.CheckKafkaProducer:
		// One in-flight produce request, idempotence off: probe sends
		// must fail fast rather than be retried transparently.
		opts = append(opts,
			kgo.MaxProduceRequestsInflightPerBroker(1),
			kgo.DisableIdempotentWrite(),
		)
	case domain.CheckKafkaConsumer:
		groupID := fmt.Sprintf("monitor-app-%d", e.ID)
		opts = append(opts,
			kgo.ConsumerGroup(groupID),
			kgo.ConsumeTopics(e.Kafka.Topic),
		)
		if sc.SessionTimeout > 0 {
			opts = append(opts, kgo.SessionTimeout(sc.SessionTimeout))
		}
		if sc.HeartbeatInterval > 0 {
			opts = append(opts, kgo.HeartbeatInterval(sc.HeartbeatInterval))
		}
		if !e.Kafka.ConsumerAutoCommit {
			opts = append(opts, kgo.DisableAutoCommit())
		}
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafkapool: new client for endpoint %d: %w", e.ID, err)
	}

	return &Record{
		Client:    client,
		Admin:     kadm.NewClient(client),
		Connected: true,
	}, nil
}

// clientTLS builds the client-certificate config for a broker requiring
// mTLS.
func clientTLS(m *domain.MTLS) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(m.CertPEM, m.KeyPEM)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if len(m.CAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(m.CAPEM) {
			return nil, fmt.Errorf("invalid ca bundle")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Cleanup disconnects and removes the record for endpointID, if any.
func (p *Pool) Cleanup(endpointID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[endpointID]
	if !ok {
		return
	}
	if rec.Client != nil {
		rec.Client.Close()
	}
	delete(p.records, endpointID)
}

// CloseAll disconnects every record, used at shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, rec := range p.records {
		if rec.Client != nil {
			rec.Client.Close()
		}
		delete(p.records, id)
	}
}

// Restart tears down the record for e and opens a fresh one right away.
// Scheduler.Restart does not call it; it keeps the existing record.
func (p *Pool) Restart(ctx context.Context, e domain.Endpoint) (*Record, error) {
	p.Cleanup(e.ID)
	return p.Get(ctx, e)
}

// splitBrokers accepts either a single "host:port" or a comma-separated
// bootstrap-broker list.
func splitBrokers(url string) []string {
	parts := strings.Split(url, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
