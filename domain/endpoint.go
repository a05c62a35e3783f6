// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package domain holds the core data model shared by every monitoring
// subsystem: endpoints, probe outcomes, aggregated consensus views and
// monitoring-instance bookkeeping. Nothing in this package performs I/O.
package domain

import "time"

// CheckType identifies which probe executor services an endpoint.
type CheckType string

const (
	CheckHTTP          CheckType = "http"
	CheckPing          CheckType = "ping"
	CheckTCP           CheckType = "tcp"
	CheckKafkaProducer CheckType = "kafka_producer"
	CheckKafkaConsumer CheckType = "kafka_consumer"
)

// Status is the normalized up/down status of an endpoint or a single probe.
type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "unknown"
)

// NormalizeStatus coerces any input value to {UP, DOWN}; anything that isn't
// exactly "UP" becomes DOWN, per the ProbeOutcome invariant.
func NormalizeStatus(s Status) Status {
	if s == StatusUp {
		return StatusUp
	}
	return StatusDown
}

// MTLS holds an optional client-certificate triple used by HTTP and Kafka probes.
type MTLS struct {
	CertPEM []byte `json:"certPem,omitempty"`
	KeyPEM  []byte `json:"keyPem,omitempty"`
	CAPEM   []byte `json:"caPem,omitempty"`
}

// Enabled reports whether a complete client certificate/key pair is configured.
func (m *MTLS) Enabled() bool {
	return m != nil && len(m.CertPEM) > 0 && len(m.KeyPEM) > 0
}

// HTTPConfig holds the HTTP-probe-specific extension fields.
type HTTPConfig struct {
	Method              string            `json:"method"`
	Headers             map[string]string `json:"headers,omitempty"`
	Body                string            `json:"body,omitempty"`
	OkStatuses          []int             `json:"okHttpStatuses,omitempty"`
	TimeoutSeconds      int               `json:"timeoutSeconds,omitempty"`
	KeywordSearch       string            `json:"keywordSearch,omitempty"`
	CheckCertExpiry     bool              `json:"checkCertExpiry"`
	CertExpiryThreshold int               `json:"certExpiryThresholdDays"`
}

// KafkaConfig holds the Kafka-probe-specific extension fields, shared by
// both the producer and consumer check types.
type KafkaConfig struct {
	Topic              string         `json:"kafkaTopic"`
	Message            string         `json:"kafkaMessage,omitempty"`
	ClientConfig       map[string]any `json:"clientConfig,omitempty"`
	ConsumerAutoCommit bool           `json:"consumerAutoCommit"`
	ConsumerSingleShot bool           `json:"consumerSingleShot"`
}

// Endpoint is a user-configured monitoring target. ID is immutable once
// assigned; every other field may be mutated by the owning primary (or a
// standalone instance) and pushed to dependents by the sync client's periodic fetch.
type Endpoint struct {
	ID   int64     `json:"id"`
	Name string    `json:"name"`
	Type CheckType `json:"type"`
	URL  string    `json:"url"`

	HeartbeatIntervalSeconds int  `json:"heartbeatIntervalSeconds"`
	Retries                  int  `json:"retries"`
	UpsideDown               bool `json:"upsideDown"`
	Paused                   bool `json:"paused"`

	RetriesFailedSoFar int       `json:"retriesFailedSoFar"`
	Status             Status    `json:"status"`
	LastChecked        time.Time `json:"lastChecked"`

	HTTP HTTPConfig `json:"http,omitempty"`
	TCP  struct {
		Port int `json:"port"`
	} `json:"tcp,omitempty"`
	Kafka KafkaConfig `json:"kafka,omitempty"`
	MTLS  *MTLS       `json:"mtls,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NormalizedInterval returns the effective heartbeat interval, coercing any
// configured value below the 10s floor up to 10s.
func (e Endpoint) NormalizedInterval() time.Duration {
	secs := e.HeartbeatIntervalSeconds
	if secs < 10 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

// RetryThreshold is the number of consecutive failures required to flip an
// UP endpoint to DOWN. retries=0 means every single failure flips it.
func (e Endpoint) RetryThreshold() int {
	if e.Retries < 1 {
		return 1
	}
	return e.Retries
}

// OkStatus reports whether an HTTP status code counts as a passing probe.
func (h HTTPConfig) OkStatus(code int) bool {
	if len(h.OkStatuses) == 0 {
		return code >= 200 && code < 300
	}
	for _, s := range h.OkStatuses {
		if s == code {
			return true
		}
	}
	return false
}
