// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/watchwire/sentinel/domain"
)

// DefaultHTTPTimeout applies when the endpoint does not configure its own.
const DefaultHTTPTimeout = 10 * time.Second

// HTTP implements the http check type: issue the configured request,
// validate the response status and an optional body keyword.
func HTTP(ctx context.Context, e domain.Endpoint, now time.Time) Result {
	timeout := DefaultHTTPTimeout
	if e.HTTP.TimeoutSeconds > 0 {
		timeout = time.Duration(e.HTTP.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := httpClient(e, timeout)
	if err != nil {
		return fail("tls", 0)
	}

	method := e.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if e.HTTP.Body != "" {
		body = strings.NewReader(e.HTTP.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.URL, body)
	if err != nil {
		return fail("dns", 0)
	}
	for k, v := range e.HTTP.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return fail(classifyHTTPError(err), elapsed)
	}
	defer resp.Body.Close()

	if !e.HTTP.OkStatus(resp.StatusCode) {
		return fail(fmt.Sprintf("status %d", resp.StatusCode), elapsed)
	}

	metadata := map[string]any{"httpStatus": resp.StatusCode}

	if e.HTTP.KeywordSearch != "" {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fail("connect", elapsed)
		}
		if !strings.Contains(string(raw), e.HTTP.KeywordSearch) {
			return fail("missing_keyword", elapsed)
		}
	}

	return ok(elapsed, metadata)
}

// httpClient builds a client configured for mTLS when the endpoint's URL is
// https and an MTLS cert/key pair is present; otherwise it verifies server
// certs against the system root pool.
func httpClient(e domain.Endpoint, timeout time.Duration) (*http.Client, error) {
	if !strings.HasPrefix(strings.ToLower(e.URL), "https") || !e.MTLS.Enabled() {
		return &http.Client{Timeout: timeout}, nil
	}

	cert, err := tls.X509KeyPair(e.MTLS.CertPEM, e.MTLS.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("probe: parse mtls keypair: %w", err)
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if len(e.MTLS.CAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(e.MTLS.CAPEM) {
			return nil, fmt.Errorf("probe: parse mtls ca bundle")
		}
		tlsCfg.RootCAs = pool
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}, nil
}

func classifyHTTPError(err error) string {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "lookup"):
		return "dns"
	case strings.Contains(msg, "x509") || strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return "tls"
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connect:"):
		return "connect"
	default:
		return "connect"
	}
}
