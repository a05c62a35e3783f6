// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package syncwire defines the JSON shapes exchanged between a dependent
// (syncclient) and its primary (syncserver) under /api/sync. Both sides
// import this package so the envelope and payload shapes cannot drift
// between them.
package syncwire

import (
	"encoding/json"
	"time"

	"github.com/watchwire/sentinel/domain"
)

// Envelope is the outer shape of every sync RPC response: either a
// successful payload or an error string, never both.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SystemInfo mirrors domain.SystemInfo on the wire; kept as a distinct type
// so the wire shape can evolve independently of the persisted one.
type SystemInfo struct {
	Platform    string `json:"platform"`
	Arch        string `json:"arch"`
	NodeVersion string `json:"nodeVersion"`
	Memory      uint64 `json:"memory"`
	CPU         string `json:"cpu"`
	Uptime      int64  `json:"uptime"`
}

// RegisterRequest is the body of POST /api/sync/register.
type RegisterRequest struct {
	InstanceID     string     `json:"instanceId"`
	InstanceName   string     `json:"instanceName"`
	Location       string     `json:"location,omitempty"`
	Version        string     `json:"version"`
	Capabilities   []string   `json:"capabilities"`
	FailoverOrder  int        `json:"failoverOrder"`
	PublicEndpoint string     `json:"publicEndpoint,omitempty"`
	SharedSecret   string     `json:"sharedSecret"`
	SystemInfo     SystemInfo `json:"systemInfo"`
}

// RegisterResponse is the data payload of a successful register.
type RegisterResponse struct {
	Token      string `json:"token"`
	InstanceID string `json:"instanceId"`
}

// ProbeOutcome is the wire form of domain.ProbeOutcome.
type ProbeOutcome struct {
	EndpointID     int64          `json:"endpointId"`
	InstanceID     string         `json:"instanceId"`
	Timestamp      time.Time      `json:"timestamp"`
	IsOK           bool           `json:"isOk"`
	ResponseTimeMS int64          `json:"responseTime"`
	Status         string         `json:"status"`
	FailureReason  string         `json:"failureReason,omitempty"`
	Location       string         `json:"location"`
	CheckType      string         `json:"checkType"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OutcomeFromDomain converts a domain.ProbeOutcome into its wire form.
func OutcomeFromDomain(o domain.ProbeOutcome) ProbeOutcome {
	return ProbeOutcome{
		EndpointID:     o.EndpointID,
		InstanceID:     o.InstanceID,
		Timestamp:      o.Timestamp,
		IsOK:           o.IsOK,
		ResponseTimeMS: o.ResponseTimeMS,
		Status:         string(o.Status),
		FailureReason:  o.FailureReason,
		Location:       o.Location,
		CheckType:      string(o.CheckType),
		Metadata:       o.Metadata,
	}
}

// ToDomain converts a wire ProbeOutcome back into domain.ProbeOutcome,
// normalizing Status/IsOK per the domain invariant.
func (o ProbeOutcome) ToDomain() domain.ProbeOutcome {
	out := domain.ProbeOutcome{
		EndpointID:     o.EndpointID,
		InstanceID:     o.InstanceID,
		Timestamp:      o.Timestamp,
		ResponseTimeMS: o.ResponseTimeMS,
		Status:         domain.Status(o.Status),
		FailureReason:  o.FailureReason,
		Location:       o.Location,
		CheckType:      domain.CheckType(o.CheckType),
		Metadata:       o.Metadata,
	}
	out.Normalize()
	return out
}

// ConnectionStatus is the dependent's view of its link to the primary,
// carried in every HeartbeatPayload.
type ConnectionStatus struct {
	PrimaryReachable bool       `json:"primaryReachable"`
	LastSyncSuccess  *time.Time `json:"lastSyncSuccess,omitempty"`
	SyncErrors       int        `json:"syncErrors"`
	LatencyMS        *int64     `json:"latency,omitempty"`
}

// SystemMetrics is the dependent's self-reported resource snapshot.
type SystemMetrics struct {
	CPUUsage        float64 `json:"cpuUsage"`
	MemoryUsage     float64 `json:"memoryUsage"`
	DiskUsage       float64 `json:"diskUsage"`
	ActiveEndpoints int     `json:"activeEndpoints"`
}

// HealthStatus summarizes a dependent's self-assessed health, carried
// alongside its heartbeat.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailing  HealthStatus = "failing"
)

// HeartbeatPayload is the body of PUT /api/sync/heartbeat.
type HeartbeatPayload struct {
	InstanceID        string           `json:"instanceId"`
	Timestamp         time.Time        `json:"timestamp"`
	Status            HealthStatus     `json:"status"`
	UptimeSeconds     int64            `json:"uptime"`
	MonitoringResults []ProbeOutcome   `json:"monitoringResults"`
	SystemMetrics     SystemMetrics    `json:"systemMetrics"`
	ConnectionStatus  ConnectionStatus `json:"connectionStatus"`
}

// HeartbeatResponse is the data payload of a successful heartbeat.
type HeartbeatResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

// FailoverOrderEntry is one row of a PUT /api/sync/failover-order request.
type FailoverOrderEntry struct {
	InstanceID string `json:"instanceId"`
	Order      int    `json:"order"`
}

// FailoverOrderRequest is the body of PUT /api/sync/failover-order.
type FailoverOrderRequest struct {
	InstanceOrders []FailoverOrderEntry `json:"instanceOrders"`
}
