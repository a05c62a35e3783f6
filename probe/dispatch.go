// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package probe

import (
	"context"
	"time"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/kafkapool"
)

// Dispatch is the single entry point the scheduler calls: it selects
// the executor for e.Type, runs it, and applies the upside_down inversion
// in one shared place rather than duplicating it
// per executor. It is a pure function of (Endpoint, now, pool).
func Dispatch(ctx context.Context, pool *kafkapool.Pool, e domain.Endpoint, now time.Time) Result {
	var r Result
	switch e.Type {
	case domain.CheckHTTP:
		r = HTTP(ctx, e, now)
	case domain.CheckPing:
		r = Ping(ctx, e, now)
	case domain.CheckTCP:
		r = TCP(ctx, e, now)
	case domain.CheckKafkaProducer:
		r = KafkaProducer(ctx, pool, e, now)
	case domain.CheckKafkaConsumer:
		r = KafkaConsumer(ctx, pool, e, now)
	default:
		r = fail("unknown_check_type", 0)
	}

	if e.UpsideDown {
		r = invert(r)
	}
	return r
}
