/*
 * Copyright 2025 chstack.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 8123, cfg.HTTPPort)
	assert.Equal(t, "default", cfg.Username)
	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, "lz4", cfg.Compression)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Equal(t, 2*time.Second, cfg.SlowQueryTime)
	assert.True(t, cfg.EnableReconnect)
	assert.False(t, cfg.EnableQueryLog)
	assert.Equal(t, "localhost:9000", cfg.Addr())
}

func TestDefaultSchemaSyncConfig(t *testing.T) {
	cfg := DefaultSchemaSyncConfig()
	assert.True(t, cfg.AllowColumnAdd)
	assert.True(t, cfg.AllowIndexAdd)
	assert.True(t, cfg.RecordHistory)
	assert.False(t, cfg.AllowColumnDrop)
	assert.False(t, cfg.AllowIndexDrop)
	assert.Equal(t, "chorm_schema_sync", cfg.HistoryTable)
}

func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultStreamConfig()
	assert.Equal(t, "CSVWithNames", cfg.Format)
	assert.True(t, cfg.BestEffortDateTime)
	assert.True(t, cfg.CountAfter)
	assert.Equal(t, "etl_", cfg.QueryIDPrefix)
	assert.Empty(t, cfg.Compression)
	assert.Zero(t, cfg.AllowErrorsRatio)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "prod", cfg.DataInitConfig.Environment)
	assert.Equal(t, "configs/sql", cfg.DataInitConfig.Filepath)
	assert.Equal(t, "localhost", cfg.ConnectionConfig.Host)
	assert.Equal(t, "chorm_schema_sync", cfg.SchemaSyncConfig.HistoryTable)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`connection:
  host: ch-1.internal
  port: 9440
  database: analytics
  secure: true
  settings:
    max_execution_time: 60
schema_sync:
  allow_column_drop: true
data_init:
  environment: dev
stream:
  format: JSONEachRow
  compression: zstd
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ch-1.internal", cfg.ConnectionConfig.Host)
	assert.Equal(t, 9440, cfg.ConnectionConfig.Port)
	assert.Equal(t, "analytics", cfg.ConnectionConfig.Database)
	assert.True(t, cfg.ConnectionConfig.Secure)
	assert.Equal(t, 60, cfg.ConnectionConfig.Settings["max_execution_time"])

	// Unset keys keep their defaults.
	assert.Equal(t, 8123, cfg.ConnectionConfig.HTTPPort)
	assert.Equal(t, "default", cfg.ConnectionConfig.Username)
	assert.Equal(t, "lz4", cfg.ConnectionConfig.Compression)
	assert.True(t, cfg.SchemaSyncConfig.AllowColumnAdd)
	assert.True(t, cfg.SchemaSyncConfig.AllowColumnDrop)
	assert.Equal(t, "dev", cfg.DataInitConfig.Environment)
	assert.Equal(t, "configs/sql", cfg.DataInitConfig.Filepath)
	assert.Equal(t, "JSONEachRow", cfg.StreamConfig.Format)
	assert.Equal(t, "zstd", cfg.StreamConfig.Compression)
	assert.True(t, cfg.StreamConfig.CountAfter)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connection: [not a map"), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestSkipIndexEntryToConstraint(t *testing.T) {
	entry := SkipIndexEntryConfig{
		Table:       "logs.events",
		Name:        "idx_kind",
		Expression:  "kind",
		Type:        "set(100)",
		Granularity: 4,
		Description: "unused at runtime",
	}
	ic := entry.ToIndexConstraint()
	assert.Equal(t, IndexConstraint{
		Table:       "logs.events",
		Name:        "idx_kind",
		Expression:  "kind",
		Type:        "set(100)",
		Granularity: 4,
	}, ic)
}
