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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// SchemaSyncManager reconciles the schemas of registered models with the
// live server: missing tables are created, missing columns and skip indexes
// added, and stray ones dropped where the configuration allows it. Applied
// plans are hashed and recorded so repeated startups skip unchanged tables.
//
// Column type changes are deliberately out of scope: MODIFY COLUMN rewrites
// data on ClickHouse and needs an operator decision, not a startup hook.
type SchemaSyncManager struct {
	conn   Querier
	logger Logger
	config *SchemaSyncConfig
	intro  *Introspector

	mu           sync.RWMutex
	appliedPlans map[string]struct{}
	historyReady bool
}

// NewSchemaSyncManager constructs a sync manager. A nil config uses the
// defaults; a nil logger uses the package logger.
func NewSchemaSyncManager(conn Querier, logger Logger, config *SchemaSyncConfig) *SchemaSyncManager {
	if config == nil {
		config = DefaultSchemaSyncConfig()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &SchemaSyncManager{
		conn:   conn,
		logger: logger,
		config: config,
		intro:  NewIntrospector(conn),
	}
}

// Sync walks every registered model and brings its table in line with the
// model schema, then applies configuration-defined skip indexes. Statement
// logging is silenced during sync unless CHDEBUG_SYNC is set.
func (sm *SchemaSyncManager) Sync(ctx context.Context) error {
	if _, ok := os.LookupEnv("CHDEBUG_SYNC"); !ok {
		EnableSqlSilent(true)
		defer EnableSqlSilent(false)
	}

	for _, model := range RegisteredModelInstances() {
		if err := sm.syncModel(ctx, model); err != nil {
			return err
		}
	}

	if sm.config.EnableIndexManager {
		if err := sm.applyConfiguredIndexes(ctx); err != nil {
			return err
		}
	}

	sm.logger.Info("Schema synchronization completed!")
	return nil
}

func (sm *SchemaSyncManager) syncModel(ctx context.Context, model any) error {
	schema, err := SchemaOf(model)
	if err != nil {
		return fmt.Errorf("failed to resolve schema for %T: %w", model, err)
	}
	if strings.EqualFold(schema.Name, sm.config.HistoryTable) {
		return fmt.Errorf("model table %s collides with the sync history table", schema.Name)
	}

	exists, err := ExistsTable(ctx, sm.conn, schema.Name)
	if err != nil {
		return fmt.Errorf("failed to check table %s: %w", schema.Name, err)
	}
	if !exists {
		if err := CreateTableFromModel(ctx, sm.conn, model); err != nil {
			return fmt.Errorf("failed to create table %s: %w", schema.Name, err)
		}
		sm.logger.Info("Created table", "table", schema.Name)
		return nil
	}

	existingCols, err := sm.intro.DescribeTable(ctx, schema.Name)
	if err != nil {
		if existingCols, err = sm.intro.ListColumns(ctx, schema.Name); err != nil {
			return fmt.Errorf("failed to read columns of %s: %w", schema.Name, err)
		}
	}
	existingIdx, err := sm.listSkipIndexes(ctx, schema.Name)
	if err != nil {
		return fmt.Errorf("failed to read indexes of %s: %w", schema.Name, err)
	}

	plan := append(sm.planColumns(schema, existingCols), sm.planIndexes(schema, existingIdx)...)
	if len(plan) == 0 {
		return nil
	}

	version, hash := planVersion(schema.Name, plan)
	if sm.planApplied(version) {
		sm.logger.Debug("skip schema sync (schema unchanged)", "table", schema.Name)
		return nil
	}
	if sm.config.RecordHistory {
		recorded, err := sm.planRecorded(ctx, version)
		if err != nil {
			return fmt.Errorf("failed to check sync history for %s: %w", schema.Name, err)
		}
		if recorded {
			sm.markApplied(version)
			sm.logger.Debug("skip schema sync (plan unchanged, history confirmed)", "table", schema.Name, "hash", hash)
			return nil
		}
	}

	for _, stmt := range plan {
		if err := sm.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema sync of %s failed at %q: %w", schema.Name, stmt, err)
		}
	}
	sm.intro.InvalidateSchema(schema.Name)
	sm.markApplied(version)

	if sm.config.RecordHistory {
		if err := sm.recordPlan(ctx, version, schema.Name, hash, strings.Join(plan, ";\n")); err != nil {
			return fmt.Errorf("failed to record sync plan for %s: %w", schema.Name, err)
		}
	}
	sm.logger.Info("Synchronized table schema", "table", schema.Name, "statements", len(plan))
	return nil
}

// planColumns diffs the desired columns against the live ones. Adds keep
// model declaration order and chain AFTER clauses so the table ends up in
// declaration order; drops are gated separately and sorted for determinism.
func (sm *SchemaSyncManager) planColumns(schema *TableSchema, existing []ColumnDescription) []string {
	have := make(map[string]bool, len(existing))
	for _, d := range existing {
		have[strings.ToLower(d.Name)] = true
	}

	var plan []string
	if sm.config.AllowColumnAdd {
		prev := ""
		for i := range schema.Columns {
			col := &schema.Columns[i]
			if have[strings.ToLower(col.Name)] {
				prev = col.Name
				continue
			}
			stmt := "ALTER TABLE " + RenderTableName(schema.Name) + " ADD COLUMN IF NOT EXISTS " + renderColumn(col)
			if prev == "" {
				stmt += " FIRST"
			} else {
				stmt += " AFTER " + QuoteIdent(prev)
			}
			plan = append(plan, stmt)
			prev = col.Name
		}
	}

	if sm.config.AllowColumnDrop {
		desired := make(map[string]bool, len(schema.Columns))
		for i := range schema.Columns {
			desired[strings.ToLower(schema.Columns[i].Name)] = true
		}
		var drops []string
		for _, d := range existing {
			if !desired[strings.ToLower(d.Name)] {
				drops = append(drops, d.Name)
			}
		}
		sort.Strings(drops)
		for _, name := range drops {
			plan = append(plan, "ALTER TABLE "+RenderTableName(schema.Name)+" DROP COLUMN IF EXISTS "+QuoteIdent(name))
		}
	}
	return plan
}

// skipIndexRow is one row of system.data_skipping_indices.
type skipIndexRow struct {
	Name        string
	Type        string
	Expression  string
	Granularity uint64
}

// planIndexes diffs the model's skip indexes against the live ones by name.
func (sm *SchemaSyncManager) planIndexes(schema *TableSchema, existing []skipIndexRow) []string {
	have := make(map[string]bool, len(existing))
	for _, idx := range existing {
		have[strings.ToLower(idx.Name)] = true
	}
	desired := make(map[string]bool, len(schema.Indexes))
	for _, idx := range schema.Indexes {
		desired[strings.ToLower(idx.Name)] = true
	}

	var plan []string
	if sm.config.AllowIndexAdd {
		for _, idx := range schema.Indexes {
			if have[strings.ToLower(idx.Name)] {
				continue
			}
			constraint := IndexConstraint{
				Table:       schema.Name,
				Name:        idx.Name,
				Expression:  idx.Expression,
				Type:        idx.Type,
				Granularity: idx.Granularity,
			}
			plan = append(plan, constraint.AddSQL())
		}
	}
	if sm.config.AllowIndexDrop {
		var drops []string
		for _, idx := range existing {
			if !desired[strings.ToLower(idx.Name)] {
				drops = append(drops, idx.Name)
			}
		}
		sort.Strings(drops)
		for _, name := range drops {
			plan = append(plan, "ALTER TABLE "+RenderTableName(schema.Name)+" DROP INDEX IF EXISTS "+QuoteIdent(name))
		}
	}
	return plan
}

func (sm *SchemaSyncManager) listSkipIndexes(ctx context.Context, table string) ([]skipIndexRow, error) {
	db, tbl := SplitTableName(table)
	const cols = "name, type, expr, granularity"

	query := "SELECT " + cols + " FROM system.data_skipping_indices WHERE database = currentDatabase() AND table = ?"
	args := []any{tbl}
	if db != "" {
		query = "SELECT " + cols + " FROM system.data_skipping_indices WHERE database = ? AND table = ?"
		args = []any{db, tbl}
	}
	rows, err := sm.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []skipIndexRow
	for rows.Next() {
		var r skipIndexRow
		if err := rows.Scan(&r.Name, &r.Type, &r.Expression, &r.Granularity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// planVersion hashes a plan into the version key stored in the history
// table. The statements are sorted before hashing so the key depends on what
// the plan does, not the order it was assembled in.
func planVersion(table string, plan []string) (version, hash string) {
	sorted := append([]string(nil), plan...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(table + "|" + strings.Join(sorted, ";\n")))
	hash = hex.EncodeToString(sum[:])
	return fmt.Sprintf("schema_sync:%s:%s", table, hash), hash
}

func (sm *SchemaSyncManager) planApplied(version string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.appliedPlans[version]
	return ok
}

func (sm *SchemaSyncManager) markApplied(version string) {
	sm.mu.Lock()
	if sm.appliedPlans == nil {
		sm.appliedPlans = make(map[string]struct{})
	}
	sm.appliedPlans[version] = struct{}{}
	sm.mu.Unlock()
}

// ensureHistoryTable creates the sync history table. ReplacingMergeTree
// keyed on version deduplicates re-recorded plans at merge time.
func (sm *SchemaSyncManager) ensureHistoryTable(ctx context.Context) error {
	sm.mu.RLock()
	ready := sm.historyReady
	sm.mu.RUnlock()
	if ready {
		return nil
	}

	cols := []ColumnSchema{
		{Name: "version", Type: Type{Name: "String"}},
		{Name: "name", Type: Type{Name: "String"}},
		{Name: "table_name", Type: Type{Name: "String"}},
		{Name: "plan_hash", Type: Type{Name: "String"}},
		{Name: "plan", Type: Type{Name: "String"}},
		{Name: "applied_at", Type: Type{Name: "DateTime"}},
	}
	err := CreateTable(ctx, sm.conn, sm.config.HistoryTable, cols, &CreateTableOptions{
		IfNotExists: true,
		Engine:      "ReplacingMergeTree",
		OrderBy:     []string{"version"},
	})
	if err != nil {
		return err
	}

	sm.mu.Lock()
	sm.historyReady = true
	sm.mu.Unlock()
	return nil
}

func (sm *SchemaSyncManager) planRecorded(ctx context.Context, version string) (bool, error) {
	if err := sm.ensureHistoryTable(ctx); err != nil {
		return false, err
	}
	rows, err := sm.conn.Query(ctx,
		"SELECT count() FROM "+RenderTableName(sm.config.HistoryTable)+" WHERE version = ?", version)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	var count uint64
	if err := rows.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (sm *SchemaSyncManager) recordPlan(ctx context.Context, version, table, hash, planText string) error {
	if err := sm.ensureHistoryTable(ctx); err != nil {
		return err
	}
	stmt := "INSERT INTO " + RenderTableName(sm.config.HistoryTable) +
		` ("version", "name", "table_name", "plan_hash", "plan", "applied_at") VALUES (?, ?, ?, ?, ?, ?)`
	return sm.conn.Exec(ctx, stmt, version, "schema_sync", table, hash, planText, time.Now())
}

// applyConfiguredIndexes loads the YAML-defined skip indexes and adds them.
// Definitions must validate as a set before any of them is applied.
func (sm *SchemaSyncManager) applyConfiguredIndexes(ctx context.Context) error {
	manager, err := NewConfigurableIndexManager(sm.logger, sm.config.IndexFile)
	if err != nil {
		return err
	}
	if errs := manager.ValidateConstraints(); len(errs) > 0 {
		for _, e := range errs {
			sm.logger.Error("Invalid skip index definition", "error", e.Error())
		}
		return fmt.Errorf("skip index configuration has %d invalid definitions", len(errs))
	}
	return manager.AddAllIndexes(ctx, sm.conn)
}
