// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package config

import "time"

// Config holds all application configuration loaded from environment variables
// and an optional YAML config file.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via COSCRIBE_* variables
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Database DatabaseConfig `koanf:"database"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	Relay    RelayConfig    `koanf:"relay"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SecurityConfig holds authentication and request-limiting settings.
//
// Clients are admitted to the WebSocket endpoint only with a valid JWT
// (cookie or Authorization header); the relay core never sees a connection
// that failed admission.
type SecurityConfig struct {
	// JWTSecret signs and verifies session tokens. Must be at least 32
	// characters; the process refuses to start otherwise.
	JWTSecret string `koanf:"jwt_secret" validate:"required,min=32"`

	// TokenCookieName is the cookie checked for a session token before
	// falling back to the Authorization header.
	TokenCookieName string `koanf:"token_cookie_name"`

	// CORSOrigins lists allowed origins for both HTTP CORS and the
	// WebSocket origin check. "*" allows any origin.
	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB settings for the collaboration metadata store.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" runs fully in-memory.
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	// Threads caps DuckDB worker threads. 0 = runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// SMTPConfig holds settings for admin notification email delivery.
type SMTPConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	FromName string        `koanf:"from_name"`
	UseTLS   bool          `koanf:"use_tls"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RelayConfig tunes the relay core: liveness probing, per-connection
// buffering, inbound rate limiting, and the access-request worker pool.
type RelayConfig struct {
	// PingInterval is the liveness sweep cadence. A connection that fails
	// to pong across two consecutive sweeps is evicted.
	PingInterval time.Duration `koanf:"ping_interval"`

	// SendBufferSize is the per-connection outbound queue length.
	// A full queue causes frames for that connection to be dropped.
	SendBufferSize int `koanf:"send_buffer_size" validate:"min=1"`

	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64 `koanf:"max_message_size" validate:"min=1"`

	// InboundRate and InboundBurst shape the per-connection token bucket
	// for inbound frames. Frames over the limit are dropped, not fatal.
	InboundRate  float64 `koanf:"inbound_rate"`
	InboundBurst int     `koanf:"inbound_burst"`

	// WorkerCount and WorkerQueueSize bound concurrent access-request
	// processing so event bursts cannot fan out unbounded port calls.
	WorkerCount     int `koanf:"worker_count" validate:"min=1"`
	WorkerQueueSize int `koanf:"worker_queue_size" validate:"min=1"`

	// AuditBufferSize is the async audit writer queue length.
	AuditBufferSize int `koanf:"audit_buffer_size" validate:"min=1"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			TokenCookieName: "coscribe_token",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: 1 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/coscribe.duckdb",
			MaxMemory: "512MB",
			Threads:   0,
		},
		SMTP: SMTPConfig{
			Enabled:  false,
			Host:     "",
			Port:     587,
			Username: "",
			Password: "",
			From:     "",
			FromName: "Coscribe",
			UseTLS:   true,
			Timeout:  30 * time.Second,
		},
		Relay: RelayConfig{
			PingInterval:    30 * time.Second,
			SendBufferSize:  256,
			MaxMessageSize:  512 * 1024, // 512 KB
			InboundRate:     20,
			InboundBurst:    40,
			WorkerCount:     4,
			WorkerQueueSize: 256,
			AuditBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
