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
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.NilError(t, err)

	assert.Equal(t, cfg.Realtime.MaxAttempts, 5)
	assert.Equal(t, cfg.Realtime.RetryInterval, 5*time.Second)
	assert.Assert(t, cfg.Realtime.AutoConnect)
	assert.Equal(t, cfg.Storage.Type, "memory")
	assert.Equal(t, cfg.Logging.Format, "json")
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
[realtime]
url = "wss://track.example.com/ws"
max_attempts = 2
retry_interval = "750ms"

[storage]
type = "sqlite"

[storage.sqlite]
path = "/tmp/lt.db"
`)

	cfg, err := LoadConfig(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Realtime.URL, "wss://track.example.com/ws")
	assert.Equal(t, cfg.Realtime.MaxAttempts, 2)
	assert.Equal(t, cfg.Realtime.RetryInterval, 750*time.Millisecond)
	assert.Equal(t, cfg.Storage.SQLite.Path, "/tmp/lt.db")
	// untouched keys keep their defaults
	assert.Equal(t, cfg.Realtime.SendBuffer, 256)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[realtime]
max_attempts = 2
`)
	t.Setenv("TRACKAM_LT_URL", "ws://10.0.0.5:8000/ws")
	t.Setenv("TRACKAM_LT_TOKEN", "s3cret")
	t.Setenv("TRACKAM_LT_REALTIME_MAX__ATTEMPTS", "7")
	t.Setenv("TRACKAM_LT_REALTIME_RETRY__INTERVAL", "2s")
	t.Setenv("TRACKAM_LT_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Realtime.URL, "ws://10.0.0.5:8000/ws")
	assert.Equal(t, cfg.Realtime.Token, "s3cret")
	assert.Equal(t, cfg.Realtime.MaxAttempts, 7)
	assert.Equal(t, cfg.Realtime.RetryInterval, 2*time.Second)
	assert.Equal(t, cfg.Logging.Level, "debug")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorContains(t, err, "failed to load config file")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, envKey("TRACKAM_LT_URL"), "realtime.url")
	assert.Equal(t, envKey("TRACKAM_LT_SERVER_API__PORT"), "server.api_port")
	assert.Equal(t, envKey("TRACKAM_LT_STORAGE_POSTGRES_HOST"), "storage.postgres.host")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero attempts allowed", mutate: func(c *Config) { c.Realtime.MaxAttempts = 0 }},
		{name: "empty url", mutate: func(c *Config) { c.Realtime.URL = "" }, wantErr: "realtime.url is required"},
		{name: "http scheme", mutate: func(c *Config) { c.Realtime.URL = "http://x/ws" }, wantErr: "ws or wss scheme"},
		{name: "negative attempts", mutate: func(c *Config) { c.Realtime.MaxAttempts = -1 }, wantErr: "realtime.max_attempts"},
		{name: "zero interval", mutate: func(c *Config) { c.Realtime.RetryInterval = 0 }, wantErr: "realtime.retry_interval must be positive"},
		{name: "pong before ping", mutate: func(c *Config) { c.Realtime.PongTimeout = 10 * time.Second }, wantErr: "realtime.pong_timeout"},
		{name: "send buffer", mutate: func(c *Config) { c.Realtime.SendBuffer = 0 }, wantErr: "realtime.send_buffer"},
		{name: "bad storage", mutate: func(c *Config) { c.Storage.Type = "bolt" }, wantErr: "storage.type must be one of"},
		{name: "sqlite path", mutate: func(c *Config) { c.Storage.Type = "sqlite"; c.Storage.SQLite.Path = "" }, wantErr: "storage.sqlite.path is required"},
		{name: "postgres host", mutate: func(c *Config) { c.Storage.Type = "postgres" }, wantErr: "storage.postgres.host is required"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Storage.Type = "postgres"; c.Storage.Postgres.DSN = "postgres://x@y/z" }},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "metrics port clash", mutate: func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = c.Server.APIPort }, wantErr: "metrics.port must differ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NilError(t, err)
				return
			}
			assert.Assert(t, is.ErrorContains(err, tt.wantErr))
		})
	}
}
