// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package rdap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupParsesEventsAndRegistrar(t *testing.T) {
	var domainHits atomic.Int32
	domainSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		domainHits.Add(1)
		w.Write([]byte(`{
			"events": [
				{"eventAction": "registration", "eventDate": "2020-01-01T00:00:00Z"},
				{"eventAction": "last changed", "eventDate": "2025-01-01T00:00:00Z"},
				{"eventAction": "expiration", "eventDate": "2030-01-01T00:00:00Z"}
			],
			"entities": [
				{"roles": ["registrar"], "vcardArray": ["vcard", [["version", {}, "text", "4.0"], ["fn", {}, "text", "Example Registrar Inc."]]]}
			]
		}`))
	}))
	defer domainSrv.Close()

	var bootstrapHits atomic.Int32
	bootstrapSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bootstrapHits.Add(1)
		w.Write([]byte(`{"services": [[["com"], ["` + domainSrv.URL + `"]]]}`))
	}))
	defer bootstrapSrv.Close()

	c := New()
	c.httpClient = bootstrapSrv.Client()

	// fetchBootstrap always requests the fixed IANA URL, so the stub's
	// bootstrap document is fetched and decoded here instead.
	resp, err := c.httpClient.Get(bootstrapSrv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	var doc bootstrapDoc
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))

	base, ok := baseURLForTLD(doc, "com")
	require.True(t, ok)
	assert.Equal(t, domainSrv.URL, base)

	info, err := c.fetchDomain(context.Background(), base, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "Example Registrar Inc.", info.Registrar)
	assert.Equal(t, 2030, info.ExpiryDate.Year())
	assert.Equal(t, 1, int(domainHits.Load()))
}

func TestBootstrapCacheSkipsRefetchWithinTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"services": []}`))
	}))
	defer srv.Close()

	c := New()
	c.httpClient = srv.Client()

	fetch := func() (bootstrapDoc, error) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return bootstrapDoc{}, err
		}
		defer resp.Body.Close()
		return bootstrapDoc{}, nil
	}

	_, err := c.bootstrap.GetOrRefresh("dns.json", 24*time.Hour, fetch)
	require.NoError(t, err)
	_, err = c.bootstrap.GetOrRefresh("dns.json", 24*time.Hour, fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
}

func TestRootOfCollapsesSubdomains(t *testing.T) {
	assert.Equal(t, "example.com", rootOf("www.example.com"))
	assert.Equal(t, "example.com", rootOf("example.com"))
}
