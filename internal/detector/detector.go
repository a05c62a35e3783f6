// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package detector provides the OTel resource detectors stamped onto every
// signal this instance emits, including the monitor-specific identity
// attributes (instance id and probing location) the aggregation plane uses
// to tell instances apart in traces.
package detector

import (
	"context"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type telemetrySDK struct{}

// TelemetrySDK reports the OTel SDK in use.
func TelemetrySDK() resource.Detector {
	return telemetrySDK{}
}

func (telemetrySDK) Detect(context.Context) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.TelemetrySDKName("opentelemetry"),
		semconv.TelemetrySDKLanguageGo,
		semconv.TelemetrySDKVersion(sdk.Version()),
	), nil
}

// Host reports the hostname this instance runs on.
func Host() resource.Detector {
	return resource.StringDetector(semconv.SchemaURL, semconv.HostNameKey, os.Hostname)
}

// ServiceName reports name, falling back to the executable's basename when
// name is empty.
func ServiceName(name string) resource.Detector {
	return resource.StringDetector(semconv.SchemaURL, semconv.ServiceNameKey, func() (string, error) {
		if len(name) > 0 {
			return name, nil
		}
		executable, err := os.Executable()
		if err != nil {
			return "unknown_service:go", nil
		}
		return "unknown_service:" + filepath.Base(executable), nil
	})
}

// ServiceVersion reports the build version.
func ServiceVersion(version string) resource.Detector {
	return resource.StringDetector(semconv.SchemaURL, semconv.ServiceVersionKey, func() (string, error) {
		return version, nil
	})
}

type instance struct {
	id       string
	location string
}

// Instance reports this monitoring instance's UUID and probing location so
// signals from different fleet members stay distinguishable at the
// collector.
func Instance(id, location string) resource.Detector {
	return instance{id: id, location: location}
}

func (d instance) Detect(context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceInstanceID(d.id),
	}
	if d.location != "" {
		attrs = append(attrs, attribute.String("monitor.location", d.location))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...), nil
}
