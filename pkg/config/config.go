/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables used to configure the tracker
	EnvPrefix = "TRACKAM_LT_"
)

// Config holds all configuration for the live tracker
type Config struct {
	Realtime RealtimeConfig `koanf:"realtime"`
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// RealtimeConfig holds the realtime connection configuration
type RealtimeConfig struct {
	URL                string        `koanf:"url"`   // ws:// or wss:// endpoint
	Token              string        `koanf:"token"` // Bearer token sent on the handshake
	AutoConnect        bool          `koanf:"auto_connect"`
	MaxAttempts        int           `koanf:"max_attempts"`   // Automatic retries after a failure
	RetryInterval      time.Duration `koanf:"retry_interval"` // Fixed delay between retries
	HandshakeTimeout   time.Duration `koanf:"handshake_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
	PingInterval       time.Duration `koanf:"ping_interval"`
	PongTimeout        time.Duration `koanf:"pong_timeout"`
	SendBuffer         int           `koanf:"send_buffer"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
}

// ServerConfig holds the local API server configuration
type ServerConfig struct {
	APIPort         int           `koanf:"api_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig holds location store configuration
type StorageConfig struct {
	Type     string         `koanf:"type"` // "sqlite", "postgres", or "memory"
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Postgres PostgresConfig `koanf:"postgres"`
	Memory   MemoryConfig   `koanf:"memory"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	DSN             string        `koanf:"dsn"` // Overrides the discrete fields when set
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"sslmode"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	ApplicationName string        `koanf:"application_name"`
}

// MemoryConfig holds in-memory store configuration
type MemoryConfig struct {
	MaxPoints int `koanf:"max_points"` // Trail points kept per delivery
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "json" (default) or "console"
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled indicates whether the metrics server should be started
	Enabled bool `koanf:"enabled"`

	// Port is the port for the metrics HTTP server
	Port int `koanf:"port"`
}

// LoadConfig loads configuration from defaults, an optional TOML file and environment
// variables, in that order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKey maps TRACKAM_LT_REALTIME_MAX__ATTEMPTS to realtime.max_attempts.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	switch s {
	case "url":
		return "realtime.url"
	case "token":
		return "realtime.token"
	default:
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
		return s
	}
}

// defaultConfig returns a Config struct with default configuration values
func defaultConfig() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			URL:              "ws://localhost:8000/ws/tracking",
			AutoConnect:      true,
			MaxAttempts:      5,
			RetryInterval:    5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			PingInterval:     25 * time.Second,
			PongTimeout:      60 * time.Second,
			SendBuffer:       256,
		},
		Server: ServerConfig{
			APIPort:         9095,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			SQLite: SQLiteConfig{
				Path: "./data/livetrack.db",
			},
			Postgres: PostgresConfig{
				Port:            5432,
				SSLMode:         "disable",
				ConnectTimeout:  5 * time.Second,
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
				ApplicationName: "livetrack",
			},
			Memory: MemoryConfig{
				MaxPoints: 500,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9096,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateRealtimeConfig(); err != nil {
		return err
	}

	if c.Server.APIPort < 1 || c.Server.APIPort > 65535 {
		return fmt.Errorf("server.api_port must be between 1 and 65535, got: %d", c.Server.APIPort)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got: %s", c.Server.ShutdownTimeout)
	}

	if err := c.validateStorageConfig(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be either 'json' or 'console', got: %s", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.APIPort {
			return fmt.Errorf("metrics.port must differ from server.api_port, both are %d", c.Metrics.Port)
		}
	}

	return nil
}

func (c *Config) validateRealtimeConfig() error {
	rt := c.Realtime

	if rt.URL == "" {
		return fmt.Errorf("realtime.url is required")
	}
	u, err := url.Parse(rt.URL)
	if err != nil {
		return fmt.Errorf("realtime.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("realtime.url must use ws or wss scheme, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("realtime.url must include a host, got: %s", rt.URL)
	}

	if rt.MaxAttempts < 0 {
		return fmt.Errorf("realtime.max_attempts must be zero or positive, got: %d", rt.MaxAttempts)
	}
	if rt.RetryInterval <= 0 {
		return fmt.Errorf("realtime.retry_interval must be positive, got: %s", rt.RetryInterval)
	}
	if rt.HandshakeTimeout <= 0 {
		return fmt.Errorf("realtime.handshake_timeout must be positive, got: %s", rt.HandshakeTimeout)
	}
	if rt.WriteTimeout <= 0 {
		return fmt.Errorf("realtime.write_timeout must be positive, got: %s", rt.WriteTimeout)
	}
	if rt.PingInterval < 0 {
		return fmt.Errorf("realtime.ping_interval must not be negative, got: %s", rt.PingInterval)
	}
	if rt.PongTimeout < 0 {
		return fmt.Errorf("realtime.pong_timeout must not be negative, got: %s", rt.PongTimeout)
	}
	if rt.PingInterval > 0 && rt.PongTimeout > 0 && rt.PongTimeout <= rt.PingInterval {
		return fmt.Errorf("realtime.pong_timeout (%s) must be greater than realtime.ping_interval (%s)",
			rt.PongTimeout, rt.PingInterval)
	}
	if rt.SendBuffer < 1 {
		return fmt.Errorf("realtime.send_buffer must be at least 1, got: %d", rt.SendBuffer)
	}

	return nil
}

func (c *Config) validateStorageConfig() error {
	st := c.Storage

	switch st.Type {
	case "memory":
		if st.Memory.MaxPoints < 1 {
			return fmt.Errorf("storage.memory.max_points must be at least 1, got: %d", st.Memory.MaxPoints)
		}
	case "sqlite":
		if st.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required when storage.type is 'sqlite'")
		}
	case "postgres":
		if st.Postgres.DSN != "" {
			return nil
		}
		if st.Postgres.Host == "" {
			return fmt.Errorf("storage.postgres.host is required when storage.type is 'postgres'")
		}
		if st.Postgres.Database == "" {
			return fmt.Errorf("storage.postgres.database is required when storage.type is 'postgres'")
		}
		if st.Postgres.Port < 1 || st.Postgres.Port > 65535 {
			return fmt.Errorf("storage.postgres.port must be between 1 and 65535, got: %d", st.Postgres.Port)
		}
	default:
		return fmt.Errorf("storage.type must be one of: sqlite, postgres, memory, got: %s", st.Type)
	}

	return nil
}
