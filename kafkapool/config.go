// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafkapool implements the long-lived Kafka producer/consumer
// connection pool keyed by endpoint id.
package kafkapool

import (
	"math"
	"time"
)

// SanitizedConfig is the explicit allow-list of user-supplied Kafka client
// timeouts, replacing filtering by property-name patterns with a fixed set
// of named keys. Only these typed fields ever reach the franz-go
// client; everything else the user supplies (including library-internal
// meta keys such as "timeout", "createdAt" or any timestamp) is dropped.
type SanitizedConfig struct {
	ConnectionTimeout         time.Duration
	RequestTimeout            time.Duration
	SessionTimeout            time.Duration
	HeartbeatInterval         time.Duration
	TransactionTimeout        time.Duration
	AuthenticationTimeout     time.Duration
	ReauthenticationThreshold time.Duration
}

// SanitizeConfig validates and extracts the named timeout keys from a
// user-supplied, free-form Kafka client config (domain.KafkaConfig.ClientConfig).
// Negative or non-finite values are rejected (the field is left at its zero
// value so the franz-go client falls back to its own default), and any key
// not in the fixed allow-list below is ignored entirely.
func SanitizeConfig(raw map[string]any) SanitizedConfig {
	var out SanitizedConfig

	assign := func(key string, dst *time.Duration) {
		v, ok := raw[key]
		if !ok {
			return
		}
		ms, ok := toFiniteNonNegativeMS(v)
		if !ok {
			return
		}
		*dst = time.Duration(ms) * time.Millisecond
	}

	assign("connectionTimeout", &out.ConnectionTimeout)
	assign("requestTimeout", &out.RequestTimeout)
	assign("sessionTimeout", &out.SessionTimeout)
	assign("heartbeatInterval", &out.HeartbeatInterval)
	assign("transactionTimeout", &out.TransactionTimeout)
	assign("authenticationTimeout", &out.AuthenticationTimeout)
	assign("reauthenticationThreshold", &out.ReauthenticationThreshold)

	return out
}

// toFiniteNonNegativeMS accepts the handful of numeric shapes JSON
// round-tripping through store produces (float64 after jsoniter decode,
// plain int/int64 when constructed in-process) and rejects anything
// negative, NaN or infinite.
func toFiniteNonNegativeMS(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}
