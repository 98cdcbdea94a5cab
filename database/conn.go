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
	"database/sql"
	"fmt"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var (
	globalFactory *BaseDatabaseFactory
	globalConfig  *Config
)

// GetConn returns the global native connection, or nil before InitDB.
func GetConn() driver.Conn {
	if globalFactory != nil {
		return globalFactory.GetConn()
	}
	return nil
}

// GetDatabaseManager returns the global database manager.
func GetDatabaseManager() AbstractDatabaseManager {
	if globalFactory != nil {
		return globalFactory.GetManager()
	}
	return nil
}

// GetDatabaseFactory returns the global database factory.
func GetDatabaseFactory() *BaseDatabaseFactory {
	return globalFactory
}

// InitDB initializes the global connection using the provided configuration,
// synchronizing schemas and seeding data as the configuration requests.
func InitDB(cfg *Config) (driver.Conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	return InitDatabaseWithOptions(cfg, cfg.SchemaSyncConfig.EnableSyncOnStartup)
}

// InitDatabaseWithOptions initializes the connection and optionally runs
// schema synchronization, regardless of what the configuration says.
func InitDatabaseWithOptions(cfg *Config, syncSchemas bool) (driver.Conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	globalConfig = cfg
	globalFactory = NewDatabaseFactory()
	manager, err := globalFactory.CreateFromConfig(&cfg.ConnectionConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}

	ctx := context.Background()
	if err := globalFactory.InitializeDatabase(ctx, syncSchemas); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.DataInitConfig.AutoInitOnStartup {
		if err := InitData(); err != nil {
			return nil, fmt.Errorf("failed to seed initial data: %w", err)
		}
	}
	return manager.GetConn(), nil
}

// CloseDB closes the global connection.
func CloseDB() error {
	if globalFactory != nil {
		return globalFactory.Close()
	}
	return nil
}

// GetHealthStatus returns the current database health status.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	if globalFactory != nil {
		return globalFactory.GetHealthStatus(ctx)
	}
	return &HealthStatus{
		Healthy:   false,
		Connected: false,
		LastError: "Database not initialized",
	}
}

// GetConnStats returns global connection pool statistics.
func GetConnStats() *ConnStats {
	if globalFactory != nil {
		return globalFactory.GetStats()
	}
	return &ConnStats{}
}

// SyncSchemas reconciles registered model schemas with the server.
func SyncSchemas() error {
	if globalFactory == nil {
		return fmt.Errorf("database not initialized")
	}
	manager := globalFactory.GetManager()
	if manager == nil {
		return fmt.Errorf("database manager not initialized")
	}
	return manager.SyncSchemas(context.Background())
}

// InitData seeds initial data using the configured environment.
func InitData() error {
	defaultEnv := "prod"
	if globalConfig != nil && globalConfig.DataInitConfig.Environment != "" {
		defaultEnv = globalConfig.DataInitConfig.Environment
	}
	return InitDataWithSQL(defaultEnv)
}

// InitDataWithSQL seeds initial data by executing SQL files for the environment.
func InitDataWithSQL(environment string) error {
	if globalFactory == nil {
		return fmt.Errorf("database not initialized")
	}
	manager := globalFactory.GetManager()
	if manager == nil {
		return fmt.Errorf("database manager not initialized")
	}
	conn := manager.GetConn()
	if conn == nil {
		return fmt.Errorf("database connection not initialized")
	}

	path := "configs/sql"
	if globalConfig != nil && globalConfig.DataInitConfig.Filepath != "" {
		path = globalConfig.DataInitConfig.Filepath
	}

	sqlManager := NewSQLInitManager(conn, environment)
	sqlManager.SetSQLRootPath(path)
	return sqlManager.ExecuteInitialization(context.Background())
}

// ExecContext runs a statement on the global connection.
func ExecContext(ctx context.Context, query string, args ...any) error {
	conn := GetConn()
	if conn == nil {
		return fmt.Errorf("database not initialized")
	}
	return conn.Exec(ctx, query, args...)
}

// Raw runs a query on the global connection and hands back the native rows.
// The caller owns Close.
func Raw(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	conn := GetConn()
	if conn == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return conn.Query(ctx, query, args...)
}

// QueryMaps runs a query and returns each row as a column-keyed map, for
// ad-hoc queries where declaring a model is not worth it.
func QueryMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	conn := GetConn()
	if conn == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return queryMaps(ctx, conn, query, args...)
}

// Scalar runs a query and returns the first column of the first row.
// sql.ErrNoRows reports an empty result.
func Scalar(ctx context.Context, query string, args ...any) (any, error) {
	conn := GetConn()
	if conn == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return scalar(ctx, conn, query, args...)
}

// queryMaps scans rows without a model. Scan destinations come from the
// server-reported column types, so every ClickHouse type round-trips with
// its native Go representation.
func queryMaps(ctx context.Context, conn Querier, query string, args ...any) ([]map[string]any, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := rows.Columns()
	types := rows.ColumnTypes()
	var out []map[string]any
	for rows.Next() {
		dests := make([]any, len(types))
		for i := range types {
			dests[i] = reflect.New(types[i].ScanType()).Interface()
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = reflect.ValueOf(dests[i]).Elem().Interface()
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scalar(ctx context.Context, conn Querier, query string, args ...any) (any, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	types := rows.ColumnTypes()
	if len(types) == 0 {
		return nil, fmt.Errorf("query returned no columns")
	}
	dests := make([]any, len(types))
	for i := range types {
		dests[i] = reflect.New(types[i].ScanType()).Interface()
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, err
	}
	return reflect.ValueOf(dests[0]).Elem().Interface(), nil
}
