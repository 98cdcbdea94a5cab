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
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Querier is the slice of the native connection the DDL and introspection
// helpers need. Production code passes a real driver.Conn; tests inject a
// mock.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
}

// ColumnDescription is one row of DESCRIBE TABLE (or its system.columns
// equivalent), kept as the server reports it.
type ColumnDescription struct {
	Name              string
	Type              string
	DefaultType       string // DEFAULT, MATERIALIZED, ALIAS or empty
	DefaultExpression string
	Comment           string
	CodecExpression   string
	TTLExpression     string
}

// Introspector reads table shapes from a live server and caches them.
// DESCRIBE TABLE is the primary source; system.columns is the fallback for
// servers or grants where DESCRIBE is unavailable.
type Introspector struct {
	conn   Querier
	logger Logger

	mu      sync.RWMutex
	schemas map[string]*TableSchema
}

// NewIntrospector returns an introspector bound to a connection.
func NewIntrospector(conn Querier) *Introspector {
	return &Introspector{
		conn:    conn,
		logger:  GetLogger(),
		schemas: make(map[string]*TableSchema),
	}
}

// DescribeTable runs DESCRIBE TABLE and returns the column descriptions in
// server order. Columns the server version does not report come back empty.
func (in *Introspector) DescribeTable(ctx context.Context, table string) ([]ColumnDescription, error) {
	rows, err := in.conn.Query(ctx, "DESCRIBE TABLE "+RenderTableName(table))
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", table, err)
	}
	defer rows.Close()
	return scanColumnDescriptions(rows)
}

// scanColumnDescriptions reads DESCRIBE output by column name, so the result
// set may carry any subset of the known columns in any order.
func scanColumnDescriptions(rows driver.Rows) ([]ColumnDescription, error) {
	names := rows.Columns()
	types := rows.ColumnTypes()
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[strings.ToLower(n)] = i
	}

	var out []ColumnDescription
	for rows.Next() {
		dests := make([]any, len(types))
		for i := range types {
			dests[i] = reflect.New(types[i].ScanType()).Interface()
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		field := func(col string) string {
			i, ok := pos[col]
			if !ok {
				return ""
			}
			s, _ := reflect.ValueOf(dests[i]).Elem().Interface().(string)
			return s
		}
		out = append(out, ColumnDescription{
			Name:              field("name"),
			Type:              field("type"),
			DefaultType:       field("default_type"),
			DefaultExpression: field("default_expression"),
			Comment:           field("comment"),
			CodecExpression:   field("codec_expression"),
			TTLExpression:     field("ttl_expression"),
		})
	}
	return out, rows.Err()
}

// ListColumns reads the table shape from system.columns, ordered by position.
func (in *Introspector) ListColumns(ctx context.Context, table string) ([]ColumnDescription, error) {
	db, tbl := SplitTableName(table)
	const cols = "name, type, default_kind, default_expression, comment, compression_codec"

	var (
		rows driver.Rows
		err  error
	)
	if db != "" {
		rows, err = in.conn.Query(ctx,
			"SELECT "+cols+" FROM system.columns WHERE database = ? AND table = ? ORDER BY position", db, tbl)
	} else {
		rows, err = in.conn.Query(ctx,
			"SELECT "+cols+" FROM system.columns WHERE database = currentDatabase() AND table = ? ORDER BY position", tbl)
	}
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var out []ColumnDescription
	for rows.Next() {
		var d ColumnDescription
		if err := rows.Scan(&d.Name, &d.Type, &d.DefaultType, &d.DefaultExpression, &d.Comment, &d.CodecExpression); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TableExists reports whether the table exists. Errors count as not existing,
// matching how callers use the answer to decide between CREATE and ALTER.
func (in *Introspector) TableExists(ctx context.Context, table string) bool {
	exists, err := ExistsTable(ctx, in.conn, table)
	if err != nil {
		in.logger.Debug("Table existence check failed", "table", table, "error", err)
		return false
	}
	return exists
}

// SchemaForTable returns the cached schema of a live table, introspecting on
// first use. DESCRIBE failures fall back to system.columns before giving up.
func (in *Introspector) SchemaForTable(ctx context.Context, table string) (*TableSchema, error) {
	key := RenderTableName(table)
	in.mu.RLock()
	cached := in.schemas[key]
	in.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	desc, err := in.DescribeTable(ctx, table)
	if err != nil {
		in.logger.Debug("DESCRIBE failed, falling back to system.columns", "table", table, "error", err)
		if desc, err = in.ListColumns(ctx, table); err != nil {
			return nil, err
		}
	}
	if len(desc) == 0 {
		return nil, fmt.Errorf("table %s has no columns or does not exist", table)
	}

	schema := SchemaFromDescription(table, desc)
	in.mu.Lock()
	in.schemas[key] = schema
	in.mu.Unlock()
	return schema, nil
}

// InvalidateSchema drops one table from the schema cache, e.g. after an ALTER.
func (in *Introspector) InvalidateSchema(table string) {
	in.mu.Lock()
	delete(in.schemas, RenderTableName(table))
	in.mu.Unlock()
}

// InvalidateAll empties the schema cache.
func (in *Introspector) InvalidateAll() {
	in.mu.Lock()
	in.schemas = make(map[string]*TableSchema)
	in.mu.Unlock()
}

// SchemaFromDescription converts introspected column descriptions into a
// TableSchema. Engine clauses are not recoverable from DESCRIBE and stay
// empty; the columns carry parsed types for scanning and code generation.
func SchemaFromDescription(table string, desc []ColumnDescription) *TableSchema {
	schema := &TableSchema{Name: table}
	for _, d := range desc {
		schema.Columns = append(schema.Columns, ColumnSchema{
			Name:        d.Name,
			Type:        ParseType(d.Type),
			Default:     d.DefaultExpression,
			DefaultKind: normalizeDefaultKind(d.DefaultType),
			Codec:       stripCodecWrapper(d.CodecExpression),
			Comment:     d.Comment,
		})
	}
	return schema
}

func normalizeDefaultKind(kind string) string {
	switch k := strings.ToUpper(strings.TrimSpace(kind)); k {
	case "DEFAULT", "MATERIALIZED", "ALIAS":
		return k
	default:
		return ""
	}
}

// stripCodecWrapper unwraps "CODEC(ZSTD(1))" to "ZSTD(1)"; a bare expression
// passes through.
func stripCodecWrapper(expr string) string {
	expr = strings.TrimSpace(expr)
	upper := strings.ToUpper(expr)
	if strings.HasPrefix(upper, "CODEC(") && strings.HasSuffix(expr, ")") {
		return strings.TrimSpace(expr[len("CODEC(") : len(expr)-1])
	}
	return expr
}

// DeriveModelName derives a Go type name from a table name: quotes are
// stripped, the database qualifier dropped, and the remaining words
// capitalized, so "logs.tbl_name" becomes "TblName". An unusable name falls
// back to "AutoTable".
func DeriveModelName(table string) string {
	_, tbl := SplitTableName(strings.TrimSpace(table))
	parts := splitIdentWords(tbl)
	if len(parts) == 0 {
		return "AutoTable"
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(capitalize(p))
	}
	return b.String()
}

func splitIdentWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
