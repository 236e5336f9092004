// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validSecret = "unit-test-secret-0123456789-0123456789"

func TestLoadDefaultsWithSecret(t *testing.T) {
	t.Setenv("COSCRIBE_SECURITY_JWT_SECRET", validSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8081 {
		t.Errorf("Server.Port = %d, want 8081", cfg.Server.Port)
	}
	if cfg.Relay.PingInterval != 30*time.Second {
		t.Errorf("Relay.PingInterval = %v, want 30s", cfg.Relay.PingInterval)
	}
	if cfg.Relay.SendBufferSize != 256 {
		t.Errorf("Relay.SendBufferSize = %d, want 256", cfg.Relay.SendBufferSize)
	}
	if cfg.SMTP.Enabled {
		t.Error("SMTP.Enabled = true by default, want false")
	}
	if cfg.Security.TokenCookieName != "coscribe_token" {
		t.Errorf("TokenCookieName = %q, want coscribe_token", cfg.Security.TokenCookieName)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("COSCRIBE_SECURITY_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil without a JWT secret")
	}
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	t.Setenv("COSCRIBE_SECURITY_JWT_SECRET", "too-short")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil with a short JWT secret")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COSCRIBE_SECURITY_JWT_SECRET", validSecret)
	t.Setenv("COSCRIBE_SERVER_PORT", "9999")
	t.Setenv("COSCRIBE_RELAY_PING_INTERVAL", "5s")
	t.Setenv("COSCRIBE_SECURITY_CORS_ORIGINS", "https://app.example.com, https://other.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Relay.PingInterval != 5*time.Second {
		t.Errorf("Relay.PingInterval = %v, want 5s", cfg.Relay.PingInterval)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("CORSOrigins = %v, want two trimmed origins", cfg.Security.CORSOrigins)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := strings.Join([]string{
		"server:",
		"  port: 8200",
		"relay:",
		"  send_buffer_size: 64",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("COSCRIBE_SECURITY_JWT_SECRET", validSecret)
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8200 {
		t.Errorf("Server.Port = %d, want 8200 from file", cfg.Server.Port)
	}
	if cfg.Relay.SendBufferSize != 64 {
		t.Errorf("Relay.SendBufferSize = %d, want 64 from file", cfg.Relay.SendBufferSize)
	}
	// Untouched settings keep their defaults.
	if cfg.Relay.WorkerCount != 4 {
		t.Errorf("Relay.WorkerCount = %d, want default 4", cfg.Relay.WorkerCount)
	}
}

func TestEnvBeatsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8200\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("COSCRIBE_SECURITY_JWT_SECRET", validSecret)
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("COSCRIBE_SERVER_PORT", "8300")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8300 {
		t.Errorf("Server.Port = %d, want env override 8300", cfg.Server.Port)
	}
}

func TestValidateCrossFieldChecks(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWTSecret = validSecret
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ping interval too small", func(c *Config) { c.Relay.PingInterval = 100 * time.Millisecond }},
		{"zero inbound rate", func(c *Config) { c.Relay.InboundRate = 0 }},
		{"smtp enabled without host", func(c *Config) { c.SMTP.Enabled = true }},
		{"smtp enabled without from", func(c *Config) {
			c.SMTP.Enabled = true
			c.SMTP.Host = "smtp.example.com"
		}},
		{"empty cors origins", func(c *Config) { c.Security.CORSOrigins = nil }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want rejection")
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("Validate() on defaults with secret error = %v", err)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"COSCRIBE_SERVER_PORT", "server.port"},
		{"COSCRIBE_SECURITY_JWT_SECRET", "security.jwt_secret"},
		{"COSCRIBE_RELAY_PING_INTERVAL", "relay.ping_interval"},
		{"COSCRIBE_SMTP_FROM_NAME", "smtp.from_name"},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
