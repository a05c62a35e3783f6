// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package rdap implements the domain-expiry sub-check: a 24h-cached
// lookup of the IANA RDAP bootstrap registry followed by a per-domain
// RDAP query for registration/expiry/registrar data.
package rdap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/watchwire/sentinel/concurrent"
)

// BootstrapURL is the IANA DNS RDAP bootstrap document, cached for
// BootstrapTTL.
const BootstrapURL = "https://data.iana.org/rdap/dns.json"

// BootstrapTTL is the cache lifetime for the bootstrap file.
const BootstrapTTL = 24 * time.Hour

// DefaultLookupTimeout is the 15s default for an RDAP lookup.
const DefaultLookupTimeout = 15 * time.Second

// BootstrapFetchTimeout is the 30s default for fetching the IANA
// bootstrap file itself.
const BootstrapFetchTimeout = 30 * time.Second

// bootstrapDoc mirrors the subset of the IANA bootstrap document this
// package needs: a list of [ [tlds...], [rdap base urls...] ] services.
type bootstrapDoc struct {
	Services [][][]string `json:"services"`
}

// Info is the expiry-relevant subset of an RDAP domain response.
type Info struct {
	RegistrationDate time.Time
	UpdatedDate      time.Time
	ExpiryDate       time.Time
	Registrar        string
}

// Client performs cached RDAP lookups over HTTP.
type Client struct {
	httpClient *http.Client
	bootstrap  *concurrent.Cache[string, bootstrapDoc]
}

// New constructs a Client with its own single-flight bootstrap cache.
func New() *Client {
	return &Client{
		httpClient: &http.Client{},
		bootstrap:  concurrent.NewCache[string, bootstrapDoc](),
	}
}

// Lookup resolves the expiry-relevant fields for domain (e.g. "example.com")
// by finding the RDAP base URL that services its TLD via the cached IANA
// bootstrap file, then fetching /domain/<root>, where <root> is the last two
// labels of domainName.
func (c *Client) Lookup(ctx context.Context, domainName string) (Info, error) {
	doc, err := c.bootstrap.GetOrRefresh("dns.json", BootstrapTTL, func() (bootstrapDoc, error) {
		return c.fetchBootstrap(ctx)
	})
	if err != nil {
		return Info{}, fmt.Errorf("rdap: fetch bootstrap: %w", err)
	}

	base, ok := baseURLForTLD(doc, tldOf(domainName))
	if !ok {
		return Info{}, fmt.Errorf("rdap: no RDAP service for %q", domainName)
	}

	return c.fetchDomain(ctx, base, domainName)
}

func (c *Client) fetchBootstrap(ctx context.Context) (bootstrapDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, BootstrapFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, BootstrapURL, nil)
	if err != nil {
		return bootstrapDoc{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return bootstrapDoc{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return bootstrapDoc{}, fmt.Errorf("rdap: bootstrap fetch status %d", resp.StatusCode)
	}

	var doc bootstrapDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return bootstrapDoc{}, err
	}
	return doc, nil
}

func baseURLForTLD(doc bootstrapDoc, tld string) (string, bool) {
	for _, svc := range doc.Services {
		if len(svc) < 2 {
			continue
		}
		tlds, urls := svc[0], svc[1]
		for _, t := range tlds {
			if strings.EqualFold(t, tld) && len(urls) > 0 {
				return strings.TrimRight(urls[0], "/"), true
			}
		}
	}
	return "", false
}

func tldOf(domainName string) string {
	parts := strings.Split(strings.Trim(domainName, "."), ".")
	return parts[len(parts)-1]
}

// rdapDomainResponse is the subset of an RFC 9083 domain response this
// package extracts events and entities from.
type rdapDomainResponse struct {
	Events []struct {
		Action string `json:"eventAction"`
		Date   string `json:"eventDate"`
	} `json:"events"`
	Entities []struct {
		Roles      []string `json:"roles"`
		VCardArray []any    `json:"vcardArray"`
		Handle     string   `json:"handle"`
	} `json:"entities"`
}

func (c *Client) fetchDomain(ctx context.Context, baseURL, domainName string) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultLookupTimeout)
	defer cancel()

	rootDomain := rootOf(domainName)
	url := fmt.Sprintf("%s/domain/%s", baseURL, rootDomain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Info{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Info{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("rdap: domain fetch status %d for %s", resp.StatusCode, domainName)
	}

	var parsed rdapDomainResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Info{}, fmt.Errorf("rdap: decode domain response: %w", err)
	}

	var info Info
	for _, ev := range parsed.Events {
		t, err := time.Parse(time.RFC3339, ev.Date)
		if err != nil {
			continue
		}
		switch strings.ToLower(ev.Action) {
		case "registration":
			info.RegistrationDate = t
		case "last changed", "last updated":
			info.UpdatedDate = t
		case "expiration":
			info.ExpiryDate = t
		}
	}

	for _, ent := range parsed.Entities {
		if !hasRole(ent.Roles, "registrar") {
			continue
		}
		info.Registrar = registrarName(ent.VCardArray, ent.Handle)
		break
	}

	return info, nil
}

func rootOf(domainName string) string {
	parts := strings.Split(strings.Trim(domainName, "."), ".")
	if len(parts) <= 2 {
		return domainName
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// registrarName extracts the "fn" (full name) field from a jCard/vCard
// array per RFC 9083's entity representation, falling back to the RDAP
// handle when no fn property is present.
func registrarName(vcard []any, handle string) string {
	if len(vcard) < 2 {
		return handle
	}
	props, ok := vcard[1].([]any)
	if !ok {
		return handle
	}
	for _, p := range props {
		field, ok := p.([]any)
		if !ok || len(field) < 4 {
			continue
		}
		name, _ := field[0].(string)
		if name != "fn" {
			continue
		}
		if value, ok := field[3].(string); ok {
			return value
		}
	}
	return handle
}
