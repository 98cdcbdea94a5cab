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

package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/chstack/chorm/database"
)

func insertStatement(table string, columns []string) string {
	stmt := "INSERT INTO " + database.RenderTableName(table)
	if len(columns) > 0 {
		stmt += " (" + database.QuoteIdentList(columns) + ")"
	}
	return stmt
}

// InsertRows batch-inserts pre-shaped rows through the native block
// interface. Each row must carry one value per column, in column order.
func InsertRows(ctx context.Context, conn Conn, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := conn.PrepareBatch(ctx, insertStatement(table, columns))
	if err != nil {
		return err
	}
	for i, row := range rows {
		if len(columns) > 0 && len(row) != len(columns) {
			_ = batch.Abort()
			return fmt.Errorf("insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return err
		}
	}
	return batch.Send()
}

// InsertMaps inserts one map per row. The column set is the sorted union of
// all keys; rows missing a key send nil for that column, so absent keys only
// work against Nullable or defaulted columns.
func InsertMaps(ctx context.Context, conn Conn, table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var columns []string
	for _, row := range rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)

	shaped := make([][]any, len(rows))
	for i, row := range rows {
		values := make([]any, len(columns))
		for j, col := range columns {
			if v, ok := row[col]; ok {
				values[j] = v
			}
		}
		shaped[i] = values
	}
	return InsertRows(ctx, conn, table, columns, shaped)
}

func insertableColumns[T any]() (*database.TableSchema, []database.ColumnSchema, []string, error) {
	schema, err := database.SchemaOf((*T)(nil))
	if err != nil {
		return nil, nil, nil, err
	}
	cols := schema.InsertColumns()
	if len(cols) == 0 {
		return nil, nil, nil, fmt.Errorf("insert into %s: no insertable columns", schema.Name)
	}
	names := make([]string, len(cols))
	for i := range cols {
		names[i] = cols[i].Name
	}
	return schema, cols, names, nil
}

func modelValues[T any](model *T, cols []database.ColumnSchema) ([]any, error) {
	if model == nil {
		return nil, fmt.Errorf("nil model")
	}
	rv := reflect.ValueOf(model).Elem()
	values := make([]any, len(cols))
	for i := range cols {
		values[i] = rv.FieldByIndex(cols[i].FieldIndex).Interface()
	}
	return values, nil
}

// InsertModels batch-inserts models, extracting values in schema column
// order. MATERIALIZED and ALIAS columns are skipped.
func InsertModels[T any](ctx context.Context, conn Conn, models ...*T) error {
	if len(models) == 0 {
		return nil
	}
	schema, cols, names, err := insertableColumns[T]()
	if err != nil {
		return err
	}
	batch, err := conn.PrepareBatch(ctx, insertStatement(schema.Name, names))
	if err != nil {
		return err
	}
	for _, model := range models {
		values, err := modelValues(model, cols)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("insert into %s: %w", schema.Name, err)
		}
		if err := batch.Append(values...); err != nil {
			_ = batch.Abort()
			return err
		}
	}
	return batch.Send()
}

// AsyncInsertModels inserts models through the server-side async insert
// queue. When wait is true the call blocks until the server flushes the
// buffer; when false it returns as soon as the server buffered the data.
func AsyncInsertModels[T any](ctx context.Context, conn Conn, wait bool, models ...*T) error {
	if len(models) == 0 {
		return nil
	}
	schema, cols, names, err := insertableColumns[T]()
	if err != nil {
		return err
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	tuples := make([]string, len(models))
	args := make([]any, 0, len(models)*len(cols))
	for i, model := range models {
		values, err := modelValues(model, cols)
		if err != nil {
			return fmt.Errorf("async insert into %s: %w", schema.Name, err)
		}
		tuples[i] = placeholders
		args = append(args, values...)
	}
	query := insertStatement(schema.Name, names) + " VALUES " + strings.Join(tuples, ", ")
	return conn.AsyncInsert(ctx, query, wait, args...)
}

// InsertFromSelect executes INSERT INTO target [(columns)] <selectSQL> with
// the select's bound arguments.
func InsertFromSelect(ctx context.Context, conn Conn, target string, selectSQL string, args []any, columns ...string) error {
	if strings.TrimSpace(selectSQL) == "" {
		return fmt.Errorf("insert into %s: empty select", target)
	}
	return conn.Exec(ctx, insertStatement(target, columns)+" "+selectSQL, args...)
}

// InsertFromSelectQuery compiles the select builder and inserts its result
// set into target.
func InsertFromSelectQuery[S any](ctx context.Context, conn Conn, target string, sel *SelectQuery[S], columns ...string) error {
	query, args, err := sel.SQL()
	if err != nil {
		return err
	}
	return InsertFromSelect(ctx, conn, target, query, args, columns...)
}

// TableSource names a FROM or JOIN table together with its alias.
type TableSource struct {
	Alias string
	Table string
}

// Src is shorthand for constructing a TableSource.
func Src(alias, table string) TableSource {
	return TableSource{Alias: alias, Table: table}
}

// CompiledInsert is the textual result of InsertSelectBuilder.Compile.
type CompiledInsert struct {
	InsertSQL string
	SelectSQL string
}

// InsertSelectBuilder assembles INSERT INTO ... SELECT statements that map
// target columns to source expressions across one or more joined tables.
// Mappings keep their call order, so compiled SQL is deterministic.
type InsertSelectBuilder struct {
	conn    Conn
	target  string
	columns []string
	exprs   []string
	sources []TableSource
	joins   []string
	where   []string
	groupBy []string
	orderBy []string
	err     error
}

// NewInsertSelect starts a builder inserting into target.
func NewInsertSelect(conn Conn, target string) *InsertSelectBuilder {
	return &InsertSelectBuilder{conn: conn, target: target}
}

func (b *InsertSelectBuilder) setErr(err error) *InsertSelectBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Map binds one target column to a source expression.
func (b *InsertSelectBuilder) Map(column, expr string) *InsertSelectBuilder {
	if column == "" || strings.TrimSpace(expr) == "" {
		return b.setErr(fmt.Errorf("insert builder %s: empty mapping", b.target))
	}
	for _, existing := range b.columns {
		if existing == column {
			return b.setErr(fmt.Errorf("insert builder %s: column %q mapped twice", b.target, column))
		}
	}
	b.columns = append(b.columns, column)
	b.exprs = append(b.exprs, expr)
	return b
}

// Sources appends the FROM table and any JOIN tables, in order.
func (b *InsertSelectBuilder) Sources(sources ...TableSource) *InsertSelectBuilder {
	b.sources = append(b.sources, sources...)
	return b
}

// JoinOn appends ON conditions, one per source after the first.
func (b *InsertSelectBuilder) JoinOn(conditions ...string) *InsertSelectBuilder {
	b.joins = append(b.joins, conditions...)
	return b
}

// Where appends raw filter expressions, AND-joined.
func (b *InsertSelectBuilder) Where(filters ...string) *InsertSelectBuilder {
	b.where = append(b.where, filters...)
	return b
}

// GroupBy appends grouping expressions.
func (b *InsertSelectBuilder) GroupBy(exprs ...string) *InsertSelectBuilder {
	b.groupBy = append(b.groupBy, exprs...)
	return b
}

// OrderBy appends ordering expressions.
func (b *InsertSelectBuilder) OrderBy(exprs ...string) *InsertSelectBuilder {
	b.orderBy = append(b.orderBy, exprs...)
	return b
}

// Validate checks the builder is structurally sound: a target, at least one
// mapping, at least one source, exactly one ON condition per join, and
// unique non-empty aliases.
func (b *InsertSelectBuilder) Validate() error {
	if b.err != nil {
		return b.err
	}
	if strings.TrimSpace(b.target) == "" {
		return fmt.Errorf("insert builder: no target table")
	}
	if len(b.columns) == 0 {
		return fmt.Errorf("insert builder %s: no column mappings", b.target)
	}
	if len(b.sources) == 0 {
		return fmt.Errorf("insert builder %s: no sources", b.target)
	}
	if len(b.joins) != len(b.sources)-1 {
		return fmt.Errorf("insert builder %s: %d join conditions for %d sources, want %d",
			b.target, len(b.joins), len(b.sources), len(b.sources)-1)
	}
	aliases := make(map[string]struct{}, len(b.sources))
	for _, src := range b.sources {
		if src.Alias == "" || src.Table == "" {
			return fmt.Errorf("insert builder %s: source needs both alias and table", b.target)
		}
		if _, dup := aliases[src.Alias]; dup {
			return fmt.Errorf("insert builder %s: duplicate source alias %q", b.target, src.Alias)
		}
		aliases[src.Alias] = struct{}{}
	}
	return nil
}

// Compile validates the builder and renders both statements.
func (b *InsertSelectBuilder) Compile() (*CompiledInsert, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	var from strings.Builder
	from.WriteString(database.RenderTableName(b.sources[0].Table))
	from.WriteString(" AS ")
	from.WriteString(b.sources[0].Alias)
	for i := 1; i < len(b.sources); i++ {
		from.WriteString(" JOIN ")
		from.WriteString(database.RenderTableName(b.sources[i].Table))
		from.WriteString(" AS ")
		from.WriteString(b.sources[i].Alias)
		from.WriteString(" ON ")
		from.WriteString(b.joins[i-1])
	}

	items := make([]string, len(b.columns))
	for i := range b.columns {
		items[i] = b.exprs[i] + " AS " + database.QuoteIdent(b.columns[i])
	}

	var sel strings.Builder
	sel.WriteString("SELECT ")
	sel.WriteString(strings.Join(items, ", "))
	sel.WriteString(" FROM ")
	sel.WriteString(from.String())
	if len(b.where) > 0 {
		sel.WriteString(" WHERE ")
		sel.WriteString(strings.Join(b.where, " AND "))
	}
	if len(b.groupBy) > 0 {
		sel.WriteString(" GROUP BY ")
		sel.WriteString(strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		sel.WriteString(" ORDER BY ")
		sel.WriteString(strings.Join(b.orderBy, ", "))
	}

	selectSQL := sel.String()
	insertSQL := insertStatement(b.target, b.columns) + " " + selectSQL
	return &CompiledInsert{InsertSQL: insertSQL, SelectSQL: selectSQL}, nil
}

// Execute compiles the statement and runs it.
func (b *InsertSelectBuilder) Execute(ctx context.Context) error {
	compiled, err := b.Compile()
	if err != nil {
		return err
	}
	if b.conn == nil {
		return fmt.Errorf("insert builder %s: no connection", b.target)
	}
	return b.conn.Exec(ctx, compiled.InsertSQL)
}
