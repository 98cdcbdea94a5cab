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
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/chstack/chorm/database"
)

type condition struct {
	expr string
	or   bool
	args []any
}

// SelectQuery builds a SELECT statement for a model type. Methods chain; the
// first error sticks and surfaces from SQL() and the terminal methods.
// Placeholders use ? and the collected args are bound client-side by the
// driver, in clause order: PREWHERE, WHERE, HAVING, LIMIT, OFFSET.
type SelectQuery[T any] struct {
	conn   Conn
	schema *database.TableSchema
	err    error

	table    string
	distinct bool
	final    bool
	columns  []string
	preWhere []condition
	where    []condition
	groupBy  []string
	having   []condition
	orderBy  []string
	limit    int
	offset   int
	settings map[string]any
}

// NewSelectQuery builds a query for T's table. The conn may be nil when the
// query is only compiled, never executed.
func NewSelectQuery[T any](conn Conn) *SelectQuery[T] {
	q := &SelectQuery[T]{conn: conn, limit: -1, offset: -1}
	schema, err := database.SchemaOf((*T)(nil))
	if err != nil {
		q.err = err
		return q
	}
	q.schema = schema
	q.table = schema.Name
	return q
}

func (q *SelectQuery[T]) setErr(err error) *SelectQuery[T] {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Err reports the first error collected while building the query.
func (q *SelectQuery[T]) Err() error { return q.err }

// Table overrides the table the query selects from.
func (q *SelectQuery[T]) Table(name string) *SelectQuery[T] {
	q.table = name
	return q
}

// Column adds columns to the projection. Names are quoted; when no columns
// are added the model's columns are selected.
func (q *SelectQuery[T]) Column(columns ...string) *SelectQuery[T] {
	for _, c := range columns {
		q.columns = append(q.columns, database.QuoteIdent(c))
	}
	return q
}

// ColumnExpr adds a raw expression to the projection.
func (q *SelectQuery[T]) ColumnExpr(expr string) *SelectQuery[T] {
	q.columns = append(q.columns, expr)
	return q
}

// Distinct adds the DISTINCT modifier.
func (q *SelectQuery[T]) Distinct() *SelectQuery[T] {
	q.distinct = true
	return q
}

// Final adds the FINAL modifier, forcing merged reads on ReplacingMergeTree
// and friends.
func (q *SelectQuery[T]) Final() *SelectQuery[T] {
	q.final = true
	return q
}

// PreWhere adds a PREWHERE predicate, AND-chained with earlier ones.
func (q *SelectQuery[T]) PreWhere(expr string, args ...any) *SelectQuery[T] {
	return q.addCondition(&q.preWhere, expr, false, args)
}

// Where adds a WHERE predicate, AND-chained with earlier ones.
func (q *SelectQuery[T]) Where(expr string, args ...any) *SelectQuery[T] {
	return q.addCondition(&q.where, expr, false, args)
}

// WhereOr adds a WHERE predicate OR-chained with the ones before it.
func (q *SelectQuery[T]) WhereOr(expr string, args ...any) *SelectQuery[T] {
	return q.addCondition(&q.where, expr, true, args)
}

// Having adds a HAVING predicate, AND-chained with earlier ones.
func (q *SelectQuery[T]) Having(expr string, args ...any) *SelectQuery[T] {
	return q.addCondition(&q.having, expr, false, args)
}

func (q *SelectQuery[T]) addCondition(dst *[]condition, expr string, or bool, args []any) *SelectQuery[T] {
	if strings.TrimSpace(expr) == "" {
		return q.setErr(fmt.Errorf("select %s: empty predicate", q.table))
	}
	*dst = append(*dst, condition{expr: expr, or: or, args: args})
	return q
}

// GroupBy adds grouping columns. Names are quoted.
func (q *SelectQuery[T]) GroupBy(columns ...string) *SelectQuery[T] {
	for _, c := range columns {
		q.groupBy = append(q.groupBy, database.QuoteIdent(c))
	}
	return q
}

// GroupByExpr adds a raw grouping expression.
func (q *SelectQuery[T]) GroupByExpr(expr string) *SelectQuery[T] {
	q.groupBy = append(q.groupBy, expr)
	return q
}

// OrderBy adds an ordering column with direction ASC or DESC (default ASC).
func (q *SelectQuery[T]) OrderBy(column, dir string) *SelectQuery[T] {
	switch d := strings.ToUpper(strings.TrimSpace(dir)); d {
	case "":
		q.orderBy = append(q.orderBy, database.QuoteIdent(column)+" ASC")
	case "ASC", "DESC":
		q.orderBy = append(q.orderBy, database.QuoteIdent(column)+" "+d)
	default:
		return q.setErr(fmt.Errorf("select %s: bad order direction %q", q.table, dir))
	}
	return q
}

// OrderByExpr adds a raw ordering expression.
func (q *SelectQuery[T]) OrderByExpr(expr string) *SelectQuery[T] {
	q.orderBy = append(q.orderBy, expr)
	return q
}

// Limit caps the number of returned rows; the value is bound as an argument.
func (q *SelectQuery[T]) Limit(n int) *SelectQuery[T] {
	q.limit = n
	return q
}

// Offset skips rows before the limit window; bound as an argument.
func (q *SelectQuery[T]) Offset(n int) *SelectQuery[T] {
	q.offset = n
	return q
}

// Setting adds a per-query SETTINGS entry. Values render as literals.
func (q *SelectQuery[T]) Setting(key string, value any) *SelectQuery[T] {
	if q.settings == nil {
		q.settings = make(map[string]any)
	}
	q.settings[key] = value
	return q
}

// Clone returns an independent copy of the query.
func (q *SelectQuery[T]) Clone() *SelectQuery[T] {
	dup := *q
	dup.columns = append([]string(nil), q.columns...)
	dup.preWhere = append([]condition(nil), q.preWhere...)
	dup.where = append([]condition(nil), q.where...)
	dup.groupBy = append([]string(nil), q.groupBy...)
	dup.having = append([]condition(nil), q.having...)
	dup.orderBy = append([]string(nil), q.orderBy...)
	if q.settings != nil {
		dup.settings = make(map[string]any, len(q.settings))
		for k, v := range q.settings {
			dup.settings[k] = v
		}
	}
	return &dup
}

// SQL compiles the statement text and its bound arguments. Output depends
// only on the builder state, so identical chains give identical SQL.
func (q *SelectQuery[T]) SQL() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	if q.table == "" {
		return "", nil, fmt.Errorf("select: no table")
	}

	var b strings.Builder
	var args []any

	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	switch {
	case len(q.columns) > 0:
		b.WriteString(strings.Join(q.columns, ", "))
	case q.schema != nil:
		b.WriteString(database.QuoteIdentList(q.schema.ColumnNames()))
	default:
		b.WriteString("*")
	}
	b.WriteString(" FROM ")
	b.WriteString(database.RenderTableName(q.table))
	if q.final {
		b.WriteString(" FINAL")
	}
	args = appendConditions(&b, " PREWHERE ", q.preWhere, args)
	args = appendConditions(&b, " WHERE ", q.where, args)
	if len(q.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(q.groupBy, ", "))
	}
	args = appendConditions(&b, " HAVING ", q.having, args)
	if len(q.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orderBy, ", "))
	}
	if q.limit >= 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.limit)
	}
	if q.offset >= 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, q.offset)
	}
	if len(q.settings) > 0 {
		keys := make([]string, 0, len(q.settings))
		for k := range q.settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" SETTINGS ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(database.RenderSettingValue(q.settings[k]))
		}
	}
	return b.String(), args, nil
}

func appendConditions(b *strings.Builder, keyword string, conds []condition, args []any) []any {
	if len(conds) == 0 {
		return args
	}
	b.WriteString(keyword)
	for i, c := range conds {
		if i > 0 {
			if c.or {
				b.WriteString(" OR ")
			} else {
				b.WriteString(" AND ")
			}
		}
		b.WriteString("(")
		b.WriteString(c.expr)
		b.WriteString(")")
		args = append(args, c.args...)
	}
	return args
}

// Rows executes the query and returns the raw driver rows.
func (q *SelectQuery[T]) Rows(ctx context.Context) (driver.Rows, error) {
	query, args, err := q.SQL()
	if err != nil {
		return nil, err
	}
	if q.conn == nil {
		return nil, fmt.Errorf("select %s: no connection", q.table)
	}
	return q.conn.Query(ctx, query, args...)
}

// All executes the query and scans every row into a model.
func (q *SelectQuery[T]) All(ctx context.Context) ([]*T, error) {
	rows, err := q.Rows(ctx)
	if err != nil {
		return nil, err
	}
	return scanRows[T](rows, q.schema)
}

// First executes the query with LIMIT 1 and returns the single row, or
// sql.ErrNoRows when the result set is empty.
func (q *SelectQuery[T]) First(ctx context.Context) (*T, error) {
	items, err := q.Clone().Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sql.ErrNoRows
	}
	return items[0], nil
}

// Count wraps the query, stripped of LIMIT and OFFSET, in
// SELECT count() FROM (...) AS "sub" and returns the row count.
func (q *SelectQuery[T]) Count(ctx context.Context) (uint64, error) {
	sub := q.Clone()
	sub.limit, sub.offset = -1, -1
	inner, args, err := sub.SQL()
	if err != nil {
		return 0, err
	}
	if q.conn == nil {
		return 0, fmt.Errorf("select %s: no connection", q.table)
	}
	rows, err := q.conn.Query(ctx, `SELECT count() FROM (`+inner+`) AS "sub"`, args...)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return 0, rows.Err()
	}
	var count uint64
	if err := rows.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Exists reports whether the query matches at least one row.
func (q *SelectQuery[T]) Exists(ctx context.Context) (bool, error) {
	sub := q.Clone()
	sub.columns = []string{"1"}
	sub.orderBy = nil
	sub.limit, sub.offset = 1, -1
	rows, err := sub.Rows(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}
