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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"gopkg.in/yaml.v3"
)

// AbstractDatabaseManager defines the operations for managing a ClickHouse
// connection, synchronizing schemas, seeding data, and reporting health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) *HealthStatus
	GetConn() driver.Conn
	SyncSchemas(ctx context.Context) error
	InitData(ctx context.Context) error
	GetStats() *ConnStats
	SetLogger(logger Logger)
}

// HealthStatus holds the result of a health check against the server.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ServerVersion string        `json:"server_version,omitempty"`
	OpenConns     int           `json:"open_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// ConnStats mirrors the native client's pool statistics.
type ConnStats struct {
	MaxOpenConns int `json:"max_open_conns"`
	MaxIdleConns int `json:"max_idle_conns"`
	OpenConns    int `json:"open_conns"`
	IdleConns    int `json:"idle_conns"`
}

// ConnectionConfig describes how to reach a ClickHouse server over the
// native protocol and how to tune the client pool. HTTPPort is the HTTP
// interface used only by the streaming uploader.
type ConnectionConfig struct {
	Host                string                 `yaml:"host"`
	Port                int                    `yaml:"port"`
	HTTPPort            int                    `yaml:"http_port"`
	Username            string                 `yaml:"username"`
	Password            string                 `yaml:"password"`
	Database            string                 `yaml:"database"`
	Cluster             string                 `yaml:"cluster"`
	Secure              bool                   `yaml:"secure"`
	InsecureSkipVerify  bool                   `yaml:"insecure_skip_verify"`
	Compression         string                 `yaml:"compression"` // lz4, zstd, none
	Settings            map[string]interface{} `yaml:"settings"`
	DialTimeout         time.Duration          `yaml:"dial_timeout"`
	ReadTimeout         time.Duration          `yaml:"read_timeout"`
	MaxIdleConns        int                    `yaml:"max_idle_conns"`
	MaxOpenConns        int                    `yaml:"max_open_conns"`
	ConnMaxLifetime     time.Duration          `yaml:"conn_max_lifetime"`
	EnableReconnect     bool                   `yaml:"enable_reconnect"`
	ReconnectInterval   time.Duration          `yaml:"reconnect_interval"`
	MaxReconnectTries   int                    `yaml:"max_reconnect_tries"`
	HealthCheckInterval time.Duration          `yaml:"health_check_interval"`
	EnableQueryLog      bool                   `yaml:"enable_query_log"`
	SlowQueryTime       time.Duration          `yaml:"slow_query_time"`
	Debug               bool                   `yaml:"debug"`
}

// Addr renders the native protocol address.
func (c *ConnectionConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SchemaSyncConfig controls schema synchronization behavior on startup.
type SchemaSyncConfig struct {
	EnableSyncOnStartup bool   `yaml:"enable_sync_on_startup"`
	AllowColumnAdd      bool   `yaml:"allow_column_add"`
	AllowColumnDrop     bool   `yaml:"allow_column_drop"`
	AllowIndexAdd       bool   `yaml:"allow_index_add"`
	AllowIndexDrop      bool   `yaml:"allow_index_drop"`
	EnableIndexManager  bool   `yaml:"enable_index_manager"`
	IndexFile           string `yaml:"index_file"`
	RecordHistory       bool   `yaml:"record_history"`
	HistoryTable        string `yaml:"history_table"`
}

// DataInitConfig controls SQL data seeding and environment selection.
type DataInitConfig struct {
	AutoInitOnStartup bool   `yaml:"auto_init_on_startup"`
	Filepath          string `yaml:"filepath"`
	Environment       string `yaml:"environment"`
}

// StreamConfig carries defaults for the HTTP streaming uploader.
type StreamConfig struct {
	Format             string        `yaml:"format"`       // CSVWithNames, CSV, TabSeparated, JSONEachRow
	Compression        string        `yaml:"compression"`  // gzip, zstd, none
	AllowErrorsRatio   float64       `yaml:"allow_errors_ratio"`
	BestEffortDateTime bool          `yaml:"best_effort_datetime"`
	WaitForAsyncInsert bool          `yaml:"wait_for_async_insert"`
	CountAfter         bool          `yaml:"count_after"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	QueryIDPrefix      string        `yaml:"query_id_prefix"`
}

// Config aggregates connection, schema sync, data init, and stream settings.
type Config struct {
	ConnectionConfig ConnectionConfig `yaml:"connection"`
	SchemaSyncConfig SchemaSyncConfig `yaml:"schema_sync"`
	DataInitConfig   DataInitConfig   `yaml:"data_init"`
	StreamConfig     StreamConfig     `yaml:"stream"`
}

// DefaultConnectionConfig returns a connection config with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Host:                "localhost",
		Port:                9000,
		HTTPPort:            8123,
		Username:            "default",
		Database:            "default",
		Compression:         "lz4",
		DialTimeout:         time.Second * 10,
		ReadTimeout:         time.Second * 30,
		MaxIdleConns:        5,
		MaxOpenConns:        10,
		ConnMaxLifetime:     time.Hour,
		EnableReconnect:     true,
		ReconnectInterval:   time.Second * 5,
		MaxReconnectTries:   3,
		HealthCheckInterval: time.Minute * 5,
		EnableQueryLog:      false,
		SlowQueryTime:       time.Second * 2,
	}
}

// DefaultSchemaSyncConfig returns sync settings that only create missing
// tables and add missing columns; destructive actions stay off.
func DefaultSchemaSyncConfig() *SchemaSyncConfig {
	return &SchemaSyncConfig{
		AllowColumnAdd: true,
		AllowIndexAdd:  true,
		RecordHistory:  true,
		HistoryTable:   "chorm_schema_sync",
	}
}

// DefaultStreamConfig returns upload settings matching the common ETL path:
// CSV with a header row, permissive datetime parsing, no error tolerance.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		Format:             "CSVWithNames",
		BestEffortDateTime: true,
		CountAfter:         true,
		QueryIDPrefix:      "etl_",
	}
}

// DefaultConfig aggregates all default sections.
func DefaultConfig() *Config {
	return &Config{
		ConnectionConfig: *DefaultConnectionConfig(),
		SchemaSyncConfig: *DefaultSchemaSyncConfig(),
		DataInitConfig:   DataInitConfig{Environment: "prod", Filepath: "configs/sql"},
		StreamConfig:     *DefaultStreamConfig(),
	}
}

// LoadConfig reads a YAML configuration file over the defaults, so partial
// files only need to state what differs.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SkipIndexConfig is the YAML structure that lists data-skipping indexes.
type SkipIndexConfig struct {
	Indexes []SkipIndexEntryConfig `yaml:"indexes"`
}

// SkipIndexEntryConfig describes a single data-skipping index in configuration.
type SkipIndexEntryConfig struct {
	Table       string `yaml:"table"`
	Name        string `yaml:"name"`
	Expression  string `yaml:"expression"`
	Type        string `yaml:"type"`
	Granularity int    `yaml:"granularity"`
	Description string `yaml:"description"`
}

// ToIndexConstraint converts the config entry into a runtime constraint.
func (sic *SkipIndexEntryConfig) ToIndexConstraint() IndexConstraint {
	return IndexConstraint{
		Table:       sic.Table,
		Name:        sic.Name,
		Expression:  sic.Expression,
		Type:        sic.Type,
		Granularity: sic.Granularity,
	}
}

// ConfigurableIndexManager loads data-skipping index definitions from a YAML
// configuration file and falls back to code-defined defaults.
type ConfigurableIndexManager struct {
	*IndexManager
	configPath string
}

// NewConfigurableIndexManager creates an index manager using the provided
// YAML configuration file path.
func NewConfigurableIndexManager(logger Logger, configPath string) (*ConfigurableIndexManager, error) {
	manager := &ConfigurableIndexManager{
		configPath: configPath,
	}
	constraints, err := manager.loadFromConfig()
	if err != nil {
		if logger != nil {
			logger.Debug("Failed to load skip index config, using code-defined defaults", "error", err.Error(), "config_path", configPath)
		}
		constraints = getIndexConstraints()
	}

	manager.IndexManager = &IndexManager{
		constraints: constraints,
		logger:      logger,
	}

	return manager, nil
}

func (cim *ConfigurableIndexManager) loadFromConfig() ([]IndexConstraint, error) {
	if _, err := os.Stat(cim.configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", cim.configPath)
	}

	data, err := os.ReadFile(cim.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config SkipIndexConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var constraints []IndexConstraint
	for _, entry := range config.Indexes {
		constraints = append(constraints, entry.ToIndexConstraint())
	}

	return constraints, nil
}

func (cim *ConfigurableIndexManager) ReloadConfig() error {
	// ReloadConfig refreshes constraints from the YAML configuration file.
	constraints, err := cim.loadFromConfig()
	if err != nil {
		return err
	}

	cim.constraints = constraints
	return nil
}

func (cim *ConfigurableIndexManager) ExportToConfig(outputPath string) error {
	// ExportToConfig writes the current constraints into a YAML configuration
	// file at the given output path, creating directories as needed.
	var entries []SkipIndexEntryConfig
	for _, constraint := range cim.constraints {
		entries = append(entries, SkipIndexEntryConfig{
			Table:       constraint.Table,
			Name:        constraint.Name,
			Expression:  constraint.Expression,
			Type:        constraint.Type,
			Granularity: constraint.Granularity,
			Description: fmt.Sprintf("%s: %s TYPE %s", constraint.Table, constraint.Expression, constraint.Type),
		})
	}

	config := SkipIndexConfig{
		Indexes: entries,
	}

	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (cim *ConfigurableIndexManager) GetConfigPath() string {
	// GetConfigPath returns the path to the YAML configuration file.
	return cim.configPath
}
