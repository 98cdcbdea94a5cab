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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CreateTableOptions are the engine clauses of a CREATE TABLE statement.
// The zero value of OrderBy falls back to the primary key, then a column
// named id, then the first column; pass []string{"tuple()"} for an
// explicitly empty sorting key.
type CreateTableOptions struct {
	IfNotExists bool
	OnCluster   string
	Engine      string // defaults to MergeTree
	OrderBy     []string
	PartitionBy string
	PrimaryKey  []string
	SampleBy    string
	TTL         string
	Indexes     []SkipIndex
	Settings    map[string]any
	Comment     string
}

// DefaultCreateTableOptions returns the options BuildCreateTable assumes for
// a nil opts argument.
func DefaultCreateTableOptions() *CreateTableOptions {
	return &CreateTableOptions{IfNotExists: true, Engine: "MergeTree"}
}

// DropTableOptions control DROP TABLE rendering. A nil options argument means
// IF EXISTS with no cluster clause.
type DropTableOptions struct {
	IfExists  bool
	OnCluster string
}

// BuildCreateTable renders a CREATE TABLE statement for the given columns and
// options. Column order is preserved; settings render with sorted keys so the
// output is deterministic.
func BuildCreateTable(table string, columns []ColumnSchema, opts *CreateTableOptions) (string, error) {
	if opts == nil {
		opts = DefaultCreateTableOptions()
	}
	if table == "" {
		return "", errors.New("table name is required")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("create table %s: at least one column is required", table)
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if opts.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(RenderTableName(table))
	if opts.OnCluster != "" {
		b.WriteString(" ON CLUSTER ")
		b.WriteString(QuoteIdent(opts.OnCluster))
	}

	lines := make([]string, 0, len(columns)+len(opts.Indexes))
	for i := range columns {
		lines = append(lines, "  "+renderColumn(&columns[i]))
	}
	for _, idx := range opts.Indexes {
		rendered, err := renderSkipIndex(idx)
		if err != nil {
			return "", fmt.Errorf("create table %s: %w", table, err)
		}
		lines = append(lines, "  "+rendered)
	}
	b.WriteString("\n(\n")
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")

	engine := opts.Engine
	if engine == "" {
		engine = "MergeTree"
	}
	b.WriteString("\nENGINE = ")
	b.WriteString(engine)

	if opts.PartitionBy != "" {
		b.WriteString("\nPARTITION BY ")
		b.WriteString(opts.PartitionBy)
	}
	if len(opts.PrimaryKey) > 0 {
		b.WriteString("\nPRIMARY KEY ")
		b.WriteString(renderKeyList(opts.PrimaryKey))
	}
	orderBy := opts.OrderBy
	if len(orderBy) == 0 {
		orderBy = opts.PrimaryKey
	}
	if len(orderBy) == 0 {
		orderBy = defaultSortingKey(columns)
	}
	b.WriteString("\nORDER BY ")
	b.WriteString(renderKeyList(orderBy))
	if opts.SampleBy != "" {
		b.WriteString("\nSAMPLE BY ")
		b.WriteString(opts.SampleBy)
	}
	if opts.TTL != "" {
		b.WriteString("\nTTL ")
		b.WriteString(opts.TTL)
	}
	if len(opts.Settings) > 0 {
		b.WriteString("\nSETTINGS ")
		b.WriteString(renderSettings(opts.Settings))
	}
	if opts.Comment != "" {
		b.WriteString("\nCOMMENT ")
		b.WriteString(QuoteString(opts.Comment))
	}
	return b.String(), nil
}

// BuildCreateTableForModel renders CREATE TABLE IF NOT EXISTS for a model,
// using the engine clauses declared on its CHModel tag.
func BuildCreateTableForModel(model any) (string, error) {
	schema, err := SchemaOf(model)
	if err != nil {
		return "", err
	}
	return BuildCreateTable(schema.Name, schema.Columns, &CreateTableOptions{
		IfNotExists: true,
		OnCluster:   schema.OnCluster,
		Engine:      schema.Engine,
		OrderBy:     schema.OrderBy,
		PartitionBy: schema.PartitionBy,
		PrimaryKey:  schema.PrimaryKey,
		SampleBy:    schema.SampleBy,
		TTL:         schema.TTL,
		Indexes:     schema.Indexes,
		Settings:    schema.Settings,
		Comment:     schema.Comment,
	})
}

// CreateTable builds and executes a CREATE TABLE statement.
func CreateTable(ctx context.Context, conn Querier, table string, columns []ColumnSchema, opts *CreateTableOptions) error {
	stmt, err := BuildCreateTable(table, columns, opts)
	if err != nil {
		return err
	}
	return conn.Exec(ctx, stmt)
}

// CreateTableFromModel creates the table a model describes.
func CreateTableFromModel(ctx context.Context, conn Querier, model any) error {
	stmt, err := BuildCreateTableForModel(model)
	if err != nil {
		return err
	}
	return conn.Exec(ctx, stmt)
}

// CreateAll creates the tables of every registered model, in priority order.
func CreateAll(ctx context.Context, conn Querier) error {
	for _, model := range GetRegisteredModels() {
		if err := CreateTableFromModel(ctx, conn, model.Instance()); err != nil {
			return err
		}
	}
	return nil
}

// BuildDropTable renders a DROP TABLE statement.
func BuildDropTable(table string, opts *DropTableOptions) string {
	if opts == nil {
		opts = &DropTableOptions{IfExists: true}
	}
	var b strings.Builder
	b.WriteString("DROP TABLE ")
	if opts.IfExists {
		b.WriteString("IF EXISTS ")
	}
	b.WriteString(RenderTableName(table))
	if opts.OnCluster != "" {
		b.WriteString(" ON CLUSTER ")
		b.WriteString(QuoteIdent(opts.OnCluster))
	}
	return b.String()
}

// DropTable drops a table. A nil opts means IF EXISTS.
func DropTable(ctx context.Context, conn Querier, table string, opts *DropTableOptions) error {
	return conn.Exec(ctx, BuildDropTable(table, opts))
}

// DropAll drops the tables of every registered model in reverse priority
// order, the mirror of CreateAll.
func DropAll(ctx context.Context, conn Querier) error {
	models := GetRegisteredModels()
	for i := len(models) - 1; i >= 0; i-- {
		schema, err := SchemaOf(models[i].Instance())
		if err != nil {
			return err
		}
		opts := &DropTableOptions{IfExists: true, OnCluster: schema.OnCluster}
		if err := DropTable(ctx, conn, schema.Name, opts); err != nil {
			return err
		}
	}
	return nil
}

// BuildTruncateTable renders a TRUNCATE TABLE statement.
func BuildTruncateTable(table string) string {
	return "TRUNCATE TABLE IF EXISTS " + RenderTableName(table)
}

// TruncateTable removes all data from a table, keeping its structure.
func TruncateTable(ctx context.Context, conn Querier, table string) error {
	return conn.Exec(ctx, BuildTruncateTable(table))
}

// BuildOptimizeTable renders an OPTIMIZE TABLE statement. With final the
// merge runs even when everything is already in one part, which also forces
// ReplacingMergeTree deduplication.
func BuildOptimizeTable(table string, final bool) string {
	stmt := "OPTIMIZE TABLE " + RenderTableName(table)
	if final {
		stmt += " FINAL"
	}
	return stmt
}

// OptimizeTable schedules an unscheduled merge for the table.
func OptimizeTable(ctx context.Context, conn Querier, table string, final bool) error {
	return conn.Exec(ctx, BuildOptimizeTable(table, final))
}

// ExistsTable reports whether a table exists, via EXISTS TABLE.
func ExistsTable(ctx context.Context, conn Querier, table string) (bool, error) {
	rows, err := conn.Query(ctx, "EXISTS TABLE "+RenderTableName(table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	var result uint8
	if err := rows.Scan(&result); err != nil {
		return false, err
	}
	return result == 1, nil
}

func renderColumn(col *ColumnSchema) string {
	var b strings.Builder
	b.WriteString(QuoteIdent(col.Name))
	b.WriteByte(' ')
	b.WriteString(col.Type.String())
	if col.DefaultKind != "" && col.Default != "" {
		b.WriteByte(' ')
		b.WriteString(col.DefaultKind)
		b.WriteByte(' ')
		b.WriteString(col.Default)
	}
	if col.Codec != "" {
		b.WriteString(" CODEC(")
		b.WriteString(col.Codec)
		b.WriteByte(')')
	}
	if col.Comment != "" {
		b.WriteString(" COMMENT ")
		b.WriteString(QuoteString(col.Comment))
	}
	return b.String()
}

func renderSkipIndex(idx SkipIndex) (string, error) {
	if idx.Name == "" || idx.Expression == "" || idx.Type == "" {
		return "", fmt.Errorf("skip index needs name, expression and type, got %+v", idx)
	}
	s := "INDEX " + QuoteIdent(idx.Name) + " " + idx.Expression + " TYPE " + idx.Type
	if idx.Granularity > 0 {
		s += " GRANULARITY " + strconv.Itoa(idx.Granularity)
	}
	return s, nil
}

// renderKeyList renders an ORDER BY / PRIMARY KEY entry list. Plain names are
// quoted; entries with parentheses are expressions and pass through verbatim.
// A lone tuple() renders bare, the ClickHouse spelling of an empty key.
func renderKeyList(entries []string) string {
	if len(entries) == 1 && strings.EqualFold(strings.TrimSpace(entries[0]), "tuple()") {
		return "tuple()"
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		e = strings.TrimSpace(e)
		if strings.ContainsAny(e, "()") {
			parts[i] = e
		} else {
			parts[i] = QuoteIdent(StripAnyQuotes(e))
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func renderSettings(settings map[string]any) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + RenderSettingValue(settings[k])
	}
	return strings.Join(parts, ", ")
}

// RenderSettingValue renders a setting value for SETTINGS clauses: booleans
// as 1/0, numbers bare, everything else as a quoted string literal.
func RenderSettingValue(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return QuoteString(x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32, float64:
		return fmt.Sprintf("%v", x)
	default:
		return QuoteString(fmt.Sprint(x))
	}
}
