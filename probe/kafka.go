// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/kafkapool"
)

// DefaultKafkaTimeout bounds both Kafka checks.
const DefaultKafkaTimeout = 10 * time.Second

// KafkaProducer implements the kafka_producer check type: send one message
// to the configured topic via the pooled producer, OK iff the broker
// acknowledges it.
func KafkaProducer(ctx context.Context, pool *kafkapool.Pool, e domain.Endpoint, now time.Time) Result {
	ctx, cancel := context.WithTimeout(ctx, DefaultKafkaTimeout)
	defer cancel()

	rec, err := pool.Get(ctx, e)
	if err != nil {
		return fail("connect", 0)
	}

	body := e.Kafka.Message
	if body == "" {
		body = fmt.Sprintf("sentinel heartbeat endpoint=%d at=%s", e.ID, now.Format(time.RFC3339))
	}

	record := &kgo.Record{Topic: e.Kafka.Topic, Value: []byte(body)}

	start := time.Now()
	results := rec.Client.ProduceSync(ctx, record)
	elapsed := time.Since(start)
	if err := results.FirstErr(); err != nil {
		return fail("connect", elapsed)
	}

	return ok(elapsed, map[string]any{"topic": e.Kafka.Topic})
}

// KafkaConsumer implements the kafka_consumer check type: single-shot
// mode waits up to DefaultKafkaTimeout for one message (and
// manually commits it when auto-commit is off); otherwise a topic-metadata
// fetch via the admin client serves as the liveness check. Only transport
// or auth errors fail the probe — a clean timeout with no message is OK.
func KafkaConsumer(ctx context.Context, pool *kafkapool.Pool, e domain.Endpoint, now time.Time) Result {
	ctx, cancel := context.WithTimeout(ctx, DefaultKafkaTimeout)
	defer cancel()

	rec, err := pool.Get(ctx, e)
	if err != nil {
		return fail("connect", 0)
	}

	start := time.Now()

	if !e.Kafka.ConsumerSingleShot {
		_, err := rec.Admin.Metadata(ctx, e.Kafka.Topic)
		elapsed := time.Since(start)
		if err != nil {
			return fail("connect", elapsed)
		}
		return ok(elapsed, map[string]any{"mode": "metadata"})
	}

	fetches := rec.Client.PollFetches(ctx)
	elapsed := time.Since(start)

	// PollFetches reports the context deadline as a fetch error; that is
	// the clean timeout, not a transport failure.
	for _, fe := range fetches.Errors() {
		if !errors.Is(fe.Err, context.DeadlineExceeded) {
			return fail("connect", elapsed)
		}
	}

	var received *kgo.Record
	fetches.EachRecord(func(r *kgo.Record) {
		if received == nil {
			received = r
		}
	})
	if received == nil {
		// Timeout with no message is OK.
		return ok(elapsed, map[string]any{"mode": "single_shot", "received": false})
	}

	if !e.Kafka.ConsumerAutoCommit {
		// CommitRecords persists the commit offset at received.Offset+1.
		if err := rec.Client.CommitRecords(ctx, received); err != nil {
			return fail("connect", elapsed)
		}
	}

	return ok(elapsed, map[string]any{"mode": "single_shot", "received": true})
}
