// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package certcheck implements the TLS-certificate-expiry sub-check
// : an independent schedule, separate from the probe
// executors, that opens a TLS socket to an endpoint and raises a
// notification when the leaf certificate is close to expiring.
package certcheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/notify"
)

// DefaultTimeout is the 10s default for the cert-expiry sub-check.
const DefaultTimeout = 10 * time.Second

// Notifier is the single dispatcher method needed to raise an "expiring"
// notification; kept minimal so this package doesn't depend on notify's
// binding-lookup machinery.
type Notifier interface {
	Dispatch(ctx context.Context, e domain.Endpoint, event notify.Event)
}

// Checker runs the TLS-expiry schedule, independent of the probe
// schedule: open a TLS socket with verification disabled (the probe cares only
// about the leaf's NotAfter, not chain validity), compute days remaining,
// and notify when the endpoint is configured to check and the threshold is
// crossed. TLS errors are logged, never promoted to an endpoint DOWN state.
type Checker struct {
	log      *slog.Logger
	notifier Notifier
}

// New constructs a Checker.
func New(log *slog.Logger, notifier Notifier) *Checker {
	return &Checker{log: log, notifier: notifier}
}

// Check opens a TLS connection to e's host (defaulting to port 443, or the
// endpoint's explicit port when its URL carries one) and returns the number
// of whole days until the leaf certificate's NotAfter.
func (c *Checker) Check(ctx context.Context, e domain.Endpoint) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	addr := hostPort(e.URL)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("certcheck: dial %s: %w", addr, err)
	}
	defer conn.Close()

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true, ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return 0, fmt.Errorf("certcheck: handshake %s: %w", addr, err)
	}
	defer tlsConn.Close()

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return 0, fmt.Errorf("certcheck: no peer certificates from %s", addr)
	}

	remaining := int(time.Until(certs[0].NotAfter).Hours() / 24)
	return remaining, nil
}

// Run evaluates e and, if e.HTTP.CheckCertExpiry is set and the remaining
// days is at or below the configured threshold, dispatches an "expiring"
// notification. Any TLS error is logged and swallowed — the sub-check
// never marks the endpoint DOWN.
func (c *Checker) Run(ctx context.Context, e domain.Endpoint) {
	if !e.HTTP.CheckCertExpiry {
		return
	}

	remaining, err := c.Check(ctx, e)
	if err != nil {
		c.log.Warn("tls expiry check failed", slog.Int64("endpointId", e.ID), slog.Any("error", err))
		return
	}

	if remaining <= e.HTTP.CertExpiryThreshold {
		msg := fmt.Sprintf("certificate for endpoint %d expires in %d day(s)", e.ID, remaining)
		c.log.Info("certificate expiring soon", slog.Int64("endpointId", e.ID), slog.Int("daysRemaining", remaining))
		c.notifier.Dispatch(ctx, e, notify.Expiring(msg))
	}
}

func hostPort(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		if u.Port() != "" {
			return u.Host
		}
		return net.JoinHostPort(u.Hostname(), "443")
	}
	if _, _, err := net.SplitHostPort(raw); err == nil {
		return raw
	}
	return net.JoinHostPort(raw, "443")
}
