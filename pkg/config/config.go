// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the sollsp configuration.
//
// Values are resolved in order: built-in defaults, the YAML file, then
// environment overrides. Command-line flags are applied last by the CLI.
//
//	server:
//	  kind: stdio
//	  command: solang
//	  args: [language-server]
//	workspace:
//	  root: ~/contracts
//	timeouts:
//	  initialize: 30s
//	logging:
//	  level: debug
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/SolLSP/pkg/logging"
	"github.com/AleutianAI/SolLSP/services/lsp/conn"
	"github.com/AleutianAI/SolLSP/services/lsp/session"
	"github.com/AleutianAI/SolLSP/services/lsp/telemetry"
	"github.com/AleutianAI/SolLSP/services/lsp/transport"
)

// Environment overrides.
const (
	EnvServer         = "SOLLSP_SERVER"
	EnvTransport      = "SOLLSP_TRANSPORT"
	EnvAddress        = "SOLLSP_ADDRESS"
	EnvLogLevel       = "SOLLSP_LOG_LEVEL"
	EnvStatusAddr     = "SOLLSP_STATUS_ADDR"
	EnvMaxOutstanding = "SOLLSP_MAX_OUTSTANDING"
)

// Config is the complete sollsp configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Limits    LimitConfig     `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Status    StatusConfig    `yaml:"status"`
}

// ServerConfig says how to reach the language backend.
type ServerConfig struct {
	Kind        string            `yaml:"kind" validate:"required,oneof=stdio tcp pipe websocket"`
	Command     string            `yaml:"command,omitempty" validate:"required_if=Kind stdio"`
	Args        []string          `yaml:"args,omitempty"`
	Dir         string            `yaml:"dir,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Address     string            `yaml:"address,omitempty" validate:"required_unless=Kind stdio"`
	DialTimeout time.Duration     `yaml:"dial_timeout,omitempty" validate:"gte=0"`
	LanguageID  string            `yaml:"language_id,omitempty"`

	// InitializationOptions are passed through to the backend verbatim.
	InitializationOptions map[string]any `yaml:"initialization_options,omitempty"`
}

// WorkspaceConfig names the workspace root. Root may be a path or a
// file URI; empty means no workspace folder.
type WorkspaceConfig struct {
	Root string `yaml:"root,omitempty"`
	Name string `yaml:"name,omitempty"`
}

// TimeoutConfig bounds the session phases.
type TimeoutConfig struct {
	Initialize time.Duration `yaml:"initialize" validate:"gte=0"`
	Request    time.Duration `yaml:"request" validate:"gte=0"`
	Shutdown   time.Duration `yaml:"shutdown" validate:"gte=0"`
}

// LimitConfig caps resource use.
type LimitConfig struct {
	MaxOutstanding int `yaml:"max_outstanding" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
	Dir    string `yaml:"dir,omitempty"`
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp jaeger stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
}

// StatusConfig enables the HTTP status server of long-running commands.
type StatusConfig struct {
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration: solang over stdio.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Kind:       string(transport.KindStdio),
			Command:    "solang",
			Args:       []string{"language-server"},
			LanguageID: session.DefaultLanguageID,
		},
		Timeouts: TimeoutConfig{
			Initialize: session.DefaultInitializeTimeout,
			Request:    session.DefaultRequestTimeout,
			Shutdown:   session.DefaultShutdownTimeout,
		},
		Limits: LimitConfig{
			MaxOutstanding: conn.DefaultMaxOutstanding,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/sollsp/sollsp.yaml or the platform
// equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sollsp", "sollsp.yaml")
}

var validate = validator.New()

// Load resolves the configuration.
//
// Description:
//
//	Starts from Default, merges the YAML file at path and applies
//	environment overrides, then validates the result. An empty path reads
//	DefaultPath if it exists; an explicit path must exist.
//
// Outputs:
//
//	Config - The resolved configuration
//	error - Non-nil if the file cannot be read or parsed, or the result
//	        is invalid
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return cfg, err
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvTransport); v != "" {
		cfg.Server.Kind = v
	}
	if fields := strings.Fields(os.Getenv(EnvServer)); len(fields) > 0 {
		// A command line with arguments replaces both.
		cfg.Server.Command = fields[0]
		cfg.Server.Args = fields[1:]
	}
	if v := os.Getenv(EnvAddress); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvStatusAddr); v != "" {
		cfg.Status.Addr = v
	}
	if v := os.Getenv(EnvMaxOutstanding); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxOutstanding, err)
		}
		cfg.Limits.MaxOutstanding = n
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// ToSessionConfig builds the session configuration.
func (c Config) ToSessionConfig() (session.Config, error) {
	root, err := RootURI(c.Workspace.Root)
	if err != nil {
		return session.Config{}, err
	}
	var initOpts any
	if len(c.Server.InitializationOptions) > 0 {
		initOpts = c.Server.InitializationOptions
	}
	return session.Config{
		Transport: transport.Config{
			Kind:        transport.Kind(c.Server.Kind),
			Command:     c.Server.Command,
			Args:        c.Server.Args,
			Dir:         c.Server.Dir,
			Env:         c.Server.Env,
			Address:     c.Server.Address,
			DialTimeout: c.Server.DialTimeout,
		},
		RootURI:               root,
		WorkspaceName:         c.Workspace.Name,
		LanguageID:            c.Server.LanguageID,
		InitializeTimeout:     c.Timeouts.Initialize,
		RequestTimeout:        c.Timeouts.Request,
		ShutdownTimeout:       c.Timeouts.Shutdown,
		MaxOutstanding:        c.Limits.MaxOutstanding,
		InitializationOptions: initOpts,
	}, nil
}

// ToLoggingConfig builds the logger configuration for service.
func (c Config) ToLoggingConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		Format:  logging.Format(c.Logging.Format),
		LogDir:  c.Logging.Dir,
		Service: service,
	}, nil
}

// ToTelemetryConfig builds the telemetry configuration.
func (c Config) ToTelemetryConfig() telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.TraceExporter = c.Telemetry.TraceExporter
	tc.MetricExporter = c.Telemetry.MetricExporter
	if c.Telemetry.OTLPEndpoint != "" {
		tc.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	}
	return tc
}

// RootURI turns a workspace root into a file URI. URIs pass through; paths
// are made absolute. Empty stays empty.
func RootURI(root string) (string, error) {
	if root == "" {
		return "", nil
	}
	if strings.Contains(root, "://") {
		return root, nil
	}
	return FileURI(root)
}

// FileURI returns the file URI of path, resolved against the working
// directory.
func FileURI(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}
