// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package probe

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchwire/sentinel/domain"
)

func TestTCPOkOnSuccessfulHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	e := domain.Endpoint{Type: domain.CheckTCP, URL: "127.0.0.1"}
	e.TCP.Port = portNum

	r := TCP(t.Context(), e, time.Now())
	require.True(t, r.IsOK)
}

func TestTCPFailsOnClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)
	ln.Close()

	e := domain.Endpoint{Type: domain.CheckTCP, URL: "127.0.0.1"}
	e.TCP.Port = portNum

	r := TCP(t.Context(), e, time.Now())
	assert.False(t, r.IsOK)
}
