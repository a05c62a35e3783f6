// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config loads the instance configuration: a YAML document rendered
// through text/template (with env and default helpers), decoded over the
// built-in defaults, then overridden by the recognized environment
// variables. Load is the single entry point; the result is validated and
// clamped before anything else sees it.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/template"
	"time"

	"go.yaml.in/yaml/v3"
)

// Defaults and floors for the tunable intervals.
const (
	DefaultFailoverOrder     = 99
	DefaultSyncInterval      = 30 * time.Second
	MinSyncInterval          = 10 * time.Second
	DefaultHeartbeatInterval = 30000 * time.Millisecond
	MinHeartbeatInterval     = 30 * time.Millisecond
	DefaultConnectionTimeout = 30000 * time.Millisecond
	DefaultPort              = 3001
)

// Instance describes this process's identity and role inputs.
type Instance struct {
	Name           string `yaml:"name"`
	Location       string `yaml:"location"`
	Primary        bool   `yaml:"primary"`
	PrimarySyncURL string `yaml:"primary_sync_url"`
	SharedSecret   string `yaml:"shared_secret"`
	FailoverOrder  int    `yaml:"failover_order"`
}

// Sync holds the dependent-side cadence and transport tunables.
type Sync struct {
	Interval          time.Duration `yaml:"interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// Server holds the HTTP listener settings.
type Server struct {
	Port int `yaml:"port"`
}

// Storage holds the embedded database settings.
type Storage struct {
	Path string `yaml:"path"`
}

// OTel configures the telemetry providers. An empty OTLP target keeps the
// stdout/noop exporters.
type OTel struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	Trace struct {
		Sampling     float64       `yaml:"sampling"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"trace"`

	Metric struct {
		ExportPeriod time.Duration `yaml:"export_period"`
	} `yaml:"metric"`

	Log struct {
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"log"`

	OTLP struct {
		Target string `yaml:"target"`
	} `yaml:"otlp"`
}

// Logging holds the initial log threshold; the runtime level persisted in
// the store takes over after first boot.
type Logging struct {
	Level string `yaml:"level"`
}

// Config is the full loaded configuration.
type Config struct {
	Instance Instance `yaml:"instance"`
	Sync     Sync     `yaml:"sync"`
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	OTel     OTel     `yaml:"otel"`
	Logging  Logging  `yaml:"logging"`
}

// Default returns the configuration used when no document and no
// environment overrides are present.
func Default() Config {
	var cfg Config
	cfg.Instance.FailoverOrder = DefaultFailoverOrder
	cfg.Sync.Interval = DefaultSyncInterval
	cfg.Sync.HeartbeatInterval = DefaultHeartbeatInterval
	cfg.Sync.ConnectionTimeout = DefaultConnectionTimeout
	cfg.Server.Port = DefaultPort
	cfg.Storage.Path = "sentinel.db"
	cfg.OTel.ServiceName = "sentinel"
	cfg.Logging.Level = "info"
	return cfg
}

// Load renders r as a text/template (env and default helpers are
// available), decodes the YAML over Default(), applies the environment
// overrides, and clamps the result. A nil r loads defaults plus
// environment only.
func Load(r io.Reader) (Config, error) {
	cfg := Default()

	if r != nil {
		doc, err := render(r)
		if err != nil {
			return cfg, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(doc))
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return cfg, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	clamp(&cfg)
	return cfg, nil
}

func render(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	tmpl, err := template.New("config").Funcs(template.FuncMap{
		"env": func(key string) any {
			v, ok := os.LookupEnv(key)
			if ok {
				return v
			}
			return nil
		},
		"default": func(def, v any) any {
			if v == nil {
				return def
			}
			return v
		},
	}).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("config: parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("config: render template: %w", err)
	}
	return buf.Bytes(), nil
}

// applyEnv layers the recognized environment variables over cfg. Presence
// of PRIMARY_SYNC_URL makes the instance a dependent; INSTANCE_ROLE=primary
// sets the explicit primary flag.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PRIMARY_SYNC_URL"); ok {
		cfg.Instance.PrimarySyncURL = v
	}
	if v, ok := os.LookupEnv("INSTANCE_ROLE"); ok {
		cfg.Instance.Primary = v == "primary"
	}
	if v, ok := os.LookupEnv("INSTANCE_NAME"); ok {
		cfg.Instance.Name = v
	}
	if v, ok := os.LookupEnv("INSTANCE_LOCATION"); ok {
		cfg.Instance.Location = v
	}
	if v, ok := os.LookupEnv("SHARED_SECRET"); ok {
		cfg.Instance.SharedSecret = v
	}

	if err := intEnv("FAILOVER_ORDER", &cfg.Instance.FailoverOrder); err != nil {
		return err
	}
	if err := durationEnv("SYNC_INTERVAL", time.Second, &cfg.Sync.Interval); err != nil {
		return err
	}
	if err := durationEnv("HEARTBEAT_INTERVAL", time.Millisecond, &cfg.Sync.HeartbeatInterval); err != nil {
		return err
	}
	if err := durationEnv("CONNECTION_TIMEOUT", time.Millisecond, &cfg.Sync.ConnectionTimeout); err != nil {
		return err
	}
	if err := intEnv("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	return nil
}

func intEnv(key string, out *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*out = n
	return nil
}

func durationEnv(key string, unit time.Duration, out *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*out = time.Duration(n) * unit
	return nil
}

// clamp enforces the documented floors so the rest of the system never
// sees an interval below its minimum.
func clamp(cfg *Config) {
	if cfg.Instance.FailoverOrder < 0 {
		cfg.Instance.FailoverOrder = DefaultFailoverOrder
	}
	if cfg.Sync.Interval < MinSyncInterval {
		cfg.Sync.Interval = MinSyncInterval
	}
	if cfg.Sync.HeartbeatInterval < MinHeartbeatInterval {
		cfg.Sync.HeartbeatInterval = MinHeartbeatInterval
	}
	if cfg.Sync.ConnectionTimeout <= 0 {
		cfg.Sync.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
}
