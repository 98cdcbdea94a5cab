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
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type defaultDatabaseManager struct {
	config          *ConnectionConfig
	conn            driver.Conn
	logger          Logger
	mu              sync.RWMutex
	connected       bool
	lastError       error
	lastHealthCheck time.Time
	healthStatus    *HealthStatus
	serverVersion   string
	reconnectTries  int
	stopHealthCheck chan struct{}
	healthCheckOnce sync.Once
}

func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	// NewDatabaseManager returns an AbstractDatabaseManager backed by the
	// native ClickHouse client. If config is nil, a sensible default
	// configuration is used.
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &defaultDatabaseManager{
		config:          config,
		healthStatus:    &HealthStatus{},
		stopHealthCheck: make(chan struct{}),
	}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.conn != nil {
		return nil
	}

	conn, err := dm.createConnection()
	if err != nil {
		dm.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, dm.config.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctxTimeout); err != nil {
		dm.lastError = err
		_ = conn.Close()
		return fmt.Errorf("database connection test failed: %w", err)
	}

	if v, err := conn.ServerVersion(); err == nil {
		dm.serverVersion = fmt.Sprintf("%d.%d.%d", v.Version.Major, v.Version.Minor, v.Version.Patch)
	}

	if dm.config.EnableQueryLog || dm.config.SlowQueryTime > 0 {
		conn = newLoggingConn(conn, dm.config, dm.logger)
	}

	dm.conn = conn
	dm.connected = true
	dm.lastError = nil
	dm.reconnectTries = 0

	if dm.config.HealthCheckInterval > 0 {
		dm.startHealthCheck()
	}

	if dm.logger != nil {
		dm.logger.Info("Database connected successfully:",
			"addr", dm.config.Addr(), "database", dm.config.Database, "server_version", dm.serverVersion)
	}
	return nil
}

func (dm *defaultDatabaseManager) createConnection() (driver.Conn, error) {
	if dm.config.DialTimeout <= 0 {
		dm.config.DialTimeout = 30 * time.Second
	}

	compression, err := compressionFor(dm.config.Compression)
	if err != nil {
		return nil, err
	}

	opts := &clickhouse.Options{
		Addr: []string{dm.config.Addr()},
		Auth: clickhouse.Auth{
			Database: dm.config.Database,
			Username: dm.config.Username,
			Password: dm.config.Password,
		},
		Compression:     compression,
		DialTimeout:     dm.config.DialTimeout,
		ReadTimeout:     dm.config.ReadTimeout,
		MaxOpenConns:    dm.config.MaxOpenConns,
		MaxIdleConns:    dm.config.MaxIdleConns,
		ConnMaxLifetime: dm.config.ConnMaxLifetime,
	}

	if len(dm.config.Settings) > 0 {
		settings := make(clickhouse.Settings, len(dm.config.Settings))
		for k, v := range dm.config.Settings {
			settings[k] = v
		}
		opts.Settings = settings
	}

	if dm.config.Secure {
		opts.TLS = &tls.Config{InsecureSkipVerify: dm.config.InsecureSkipVerify}
	}

	if dm.config.Debug {
		opts.Debug = true
		opts.Debugf = func(format string, v ...interface{}) {
			if dm.logger != nil {
				dm.logger.Debug(fmt.Sprintf(format, v...))
			}
		}
	}

	return clickhouse.Open(opts)
}

// compressionFor maps a config name to a native protocol compression method.
func compressionFor(name string) (*clickhouse.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lz4":
		return &clickhouse.Compression{Method: clickhouse.CompressionLZ4}, nil
	case "zstd":
		return &clickhouse.Compression{Method: clickhouse.CompressionZSTD}, nil
	case "none":
		return &clickhouse.Compression{Method: clickhouse.CompressionNone}, nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %s, supported: lz4, zstd, none", name)
	}
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	select {
	case dm.stopHealthCheck <- struct{}{}:
	default:
	}

	if dm.conn != nil {
		err := dm.conn.Close()
		dm.conn = nil
		dm.connected = false

		if dm.logger != nil {
			if err != nil {
				dm.logger.Error("Failed to close database connection", "error", err)
			} else {
				dm.logger.Info("Database connection closed")
			}
		}

		return err
	}

	return nil
}

func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	if dm.logger != nil {
		dm.logger.Info("Attempting to reconnect to the database")
	}

	if err := dm.Disconnect(); err != nil {
		if dm.logger != nil {
			dm.logger.Warn("Error disconnecting existing connection", "error", err)
		}
	}

	return dm.Connect(ctx)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	dm.mu.RLock()
	conn := dm.conn
	dm.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("database not connected")
	}

	return conn.Ping(ctx)
}

func (dm *defaultDatabaseManager) GetConn() driver.Conn {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.conn
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	start := time.Now()
	status := &HealthStatus{
		LastCheckTime: start,
		Connected:     dm.connected,
		ServerVersion: dm.serverVersion,
	}

	if dm.conn == nil {
		status.Healthy = false
		status.LastError = "Database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := dm.conn.Ping(ctxTimeout)
	status.ResponseTime = time.Since(start)

	if err != nil {
		status.Healthy = false
		status.Connected = false
		status.LastError = err.Error()
		dm.lastError = err
	} else {
		status.Healthy = true
		status.Connected = true
		dm.lastError = nil
	}

	stats := dm.conn.Stats()
	status.OpenConns = stats.Open
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConns

	dm.healthStatus = status
	dm.lastHealthCheck = start

	return status
}

func (dm *defaultDatabaseManager) startHealthCheck() {
	dm.healthCheckOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(dm.config.HealthCheckInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
					status := dm.HealthCheck(ctx)
					cancel()
					if !status.Healthy && dm.config.EnableReconnect {
						dm.handleReconnect()
					}

				case <-dm.stopHealthCheck:
					return
				}
			}
		}()
	})
}

func (dm *defaultDatabaseManager) handleReconnect() {
	if dm.reconnectTries >= dm.config.MaxReconnectTries {
		if dm.logger != nil {
			dm.logger.Error("Max reconnect attempts reached, stopping", "tries", dm.reconnectTries)
		}
		return
	}

	dm.reconnectTries++
	if dm.logger != nil {
		dm.logger.Info("Starting database reconnect", "try", dm.reconnectTries)
	}

	time.Sleep(dm.config.ReconnectInterval)

	ctx, cancel := context.WithTimeout(context.Background(), dm.config.DialTimeout)
	defer cancel()

	if err := dm.Reconnect(ctx); err != nil {
		if dm.logger != nil {
			dm.logger.Error("Reconnect failed", "error", err, "try", dm.reconnectTries)
		}
	} else {
		dm.reconnectTries = 0
		if dm.logger != nil {
			dm.logger.Info("Reconnect succeeded")
		}
	}
}

func (dm *defaultDatabaseManager) GetStats() *ConnStats {
	dm.mu.RLock()
	conn := dm.conn
	dm.mu.RUnlock()

	if conn == nil {
		return &ConnStats{}
	}

	stats := conn.Stats()
	return &ConnStats{
		MaxOpenConns: stats.MaxOpenConns,
		MaxIdleConns: stats.MaxIdleConns,
		OpenConns:    stats.Open,
		IdleConns:    stats.Idle,
	}
}

func (dm *defaultDatabaseManager) SyncSchemas(ctx context.Context) error {
	conn := dm.GetConn()
	if conn == nil {
		return fmt.Errorf("database not initialized")
	}

	syncManager := NewSchemaSyncManager(conn, dm.logger, DefaultSchemaSyncConfig())

	return syncManager.Sync(ctx)
}

func (dm *defaultDatabaseManager) InitData(ctx context.Context) error {
	conn := dm.GetConn()
	if conn == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlManager := NewSQLInitManager(conn, "prod")
	return sqlManager.ExecuteInitialization(ctx)
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}
