// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package probe

import (
	"context"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/watchwire/sentinel/domain"
)

// DefaultPingTimeout bounds the echo round trip.
const DefaultPingTimeout = 10 * time.Second

// Ping implements the ping check type: a single ICMP (unprivileged UDP)
// echo request/reply round trip. Response time is the observed RTT in
// milliseconds, or 0 on any failure.
func Ping(ctx context.Context, e domain.Endpoint, now time.Time) Result {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return fail("connect", 0)
	}
	defer conn.Close()

	deadline := time.Now().Add(DefaultPingTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fail("connect", 0)
	}

	dst, err := net.ResolveIPAddr("ip4", hostOf(e.URL))
	if err != nil {
		return fail("dns", 0)
	}

	id := os.Getpid() & 0xffff
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  1,
			Data: []byte("sentinel-ping"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return fail("connect", 0)
	}

	start := time.Now()
	if _, err := conn.WriteTo(wire, &net.UDPAddr{IP: dst.IP}); err != nil {
		return fail("connect", 0)
	}

	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	elapsed := time.Since(start)
	if err != nil {
		return fail("timeout", 0)
	}

	parsed, err := icmp.ParseMessage(1, reply[:n])
	if err != nil || parsed.Type != ipv4.ICMPTypeEchoReply {
		return fail("connect", 0)
	}

	return ok(elapsed, nil)
}

func hostOf(url string) string {
	if host, _, err := net.SplitHostPort(url); err == nil {
		return host
	}
	return url
}
