// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/watchwire/sentinel/domain"
)

// DefaultTCPTimeout bounds the TCP handshake.
const DefaultTCPTimeout = 10 * time.Second

// TCP implements the tcp check type: open a TCP connection to
// url:tcp_port, OK on successful handshake.
func TCP(ctx context.Context, e domain.Endpoint, now time.Time) Result {
	ctx, cancel := context.WithTimeout(ctx, DefaultTCPTimeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", hostOf(e.URL), e.TCP.Port)

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return fail("timeout", elapsed)
		}
		return fail("connect", elapsed)
	}
	defer conn.Close()

	return ok(elapsed, nil)
}
