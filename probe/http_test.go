// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package probe

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchwire/sentinel/domain"
)

func TestHTTPOkOn2xxByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := domain.Endpoint{Type: domain.CheckHTTP, URL: srv.URL}
	r := HTTP(t.Context(), e, time.Now())

	require.True(t, r.IsOK)
	assert.Equal(t, domain.StatusUp, r.Status)
}

func TestHTTPFailsOnDisallowedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := domain.Endpoint{Type: domain.CheckHTTP, URL: srv.URL}
	r := HTTP(t.Context(), e, time.Now())

	require.False(t, r.IsOK)
	assert.Equal(t, "status 500", r.FailureReason)
}

func TestHTTPHonorsExplicitOkStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := domain.Endpoint{
		Type: domain.CheckHTTP,
		URL:  srv.URL,
		HTTP: domain.HTTPConfig{OkStatuses: []int{404}},
	}
	r := HTTP(t.Context(), e, time.Now())

	require.True(t, r.IsOK)
}

func TestHTTPRequiresKeyword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("status: degraded"))
	}))
	defer srv.Close()

	e := domain.Endpoint{
		Type: domain.CheckHTTP,
		URL:  srv.URL,
		HTTP: domain.HTTPConfig{KeywordSearch: "all good"},
	}
	r := HTTP(t.Context(), e, time.Now())

	require.False(t, r.IsOK)
	assert.Equal(t, "missing_keyword", r.FailureReason)
}

func TestUpsideDownInvertsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := domain.Endpoint{Type: domain.CheckHTTP, URL: srv.URL, UpsideDown: true}
	r := Dispatch(t.Context(), nil, e, time.Now())

	require.False(t, r.IsOK)
	assert.Equal(t, domain.StatusDown, r.Status)
}
