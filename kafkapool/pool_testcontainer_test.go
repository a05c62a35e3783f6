//go:build testcontainers

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkapool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/watchwire/sentinel/domain"
)

// setupKafkaContainer starts a single-broker Kafka (KRaft mode) container
// for the pool's reuse test.
func setupKafkaContainer(t *testing.T) (brokers []string, cleanup func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "docker.io/apache/kafka-native:latest",
		ExposedPorts: []string{"9092/tcp"},
		Env: map[string]string{
			"KAFKA_NODE_ID":                          "1",
			"KAFKA_PROCESS_ROLES":                    "broker,controller",
			"KAFKA_CONTROLLER_QUORUM_VOTERS":         "1@localhost:9093",
			"KAFKA_CONTROLLER_LISTENER_NAMES":        "CONTROLLER",
			"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,CONTROLLER://0.0.0.0:9093",
			"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,CONTROLLER:PLAINTEXT",
			"KAFKA_INTER_BROKER_LISTENER_NAME":       "PLAINTEXT",
			"KAFKA_CLUSTER_ID":                       "WmV3pZkQR0O6n5j3x8j6bg==",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
		},
		WaitingFor: wait.ForLog("Kafka Server started").WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9092")
	require.NoError(t, err)

	return []string{fmt.Sprintf("%s:%s", host, port.Port())}, func() {
		_ = container.Terminate(ctx)
	}
}

// TestPoolReusesProducerConnection checks that the first Get opens a
// pooled producer, subsequent Gets for the same endpoint reuse it, and
// Cleanup tears the record down so a later Get opens fresh.
func TestPoolReusesProducerConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers test in short mode")
	}

	brokers, cleanup := setupKafkaContainer(t)
	defer cleanup()

	pool := New(slog.Default())
	endpoint := domain.Endpoint{
		ID:   3,
		Type: domain.CheckKafkaProducer,
		URL:  strings.Join(brokers, ","),
		Kafka: domain.KafkaConfig{
			Topic:   "heartbeat",
			Message: "x",
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first, err := pool.Get(ctx, endpoint)
	require.NoError(t, err)
	require.NotNil(t, first.Client)

	second, err := pool.Get(ctx, endpoint)
	require.NoError(t, err)
	require.Same(t, first.Client, second.Client)

	pool.Cleanup(endpoint.ID)

	third, err := pool.Get(ctx, endpoint)
	require.NoError(t, err)
	require.NotSame(t, first.Client, third.Client)
}
