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

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type capturedStmt struct {
	query string
	args  []any
}

// fakeQuerier implements Querier against canned results and records every
// statement it sees.
type fakeQuerier struct {
	queries []capturedStmt
	execs   []capturedStmt

	onQuery func(query string, args []any) (driver.Rows, error)
	onExec  func(query string, args []any) error
}

func (q *fakeQuerier) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	q.queries = append(q.queries, capturedStmt{query: query, args: args})
	if q.onQuery != nil {
		return q.onQuery(query, args)
	}
	return newFakeRows(nil), nil
}

func (q *fakeQuerier) Exec(ctx context.Context, query string, args ...any) error {
	q.execs = append(q.execs, capturedStmt{query: query, args: args})
	if q.onExec != nil {
		return q.onExec(query, args)
	}
	return nil
}

func (q *fakeQuerier) execSQL() []string {
	out := make([]string, len(q.execs))
	for i := range q.execs {
		out[i] = q.execs[i].query
	}
	return out
}

type fakeColumnType struct {
	name     string
	scanType reflect.Type
}

func (c fakeColumnType) Name() string             { return c.name }
func (c fakeColumnType) Nullable() bool           { return false }
func (c fakeColumnType) ScanType() reflect.Type   { return c.scanType }
func (c fakeColumnType) DatabaseTypeName() string { return "" }

// fakeRows serves fixed rows. Scan types derive from the first row's values,
// so tests must hand it values of exactly the types the scanner expects.
type fakeRows struct {
	driver.Rows

	names  []string
	types  []driver.ColumnType
	data   [][]any
	idx    int
	closed bool
	rowErr error
}

func newFakeRows(columns []string, rows ...[]any) *fakeRows {
	r := &fakeRows{names: columns, data: rows, idx: -1}
	for i, name := range columns {
		scanType := reflect.TypeOf("")
		if len(rows) > 0 && rows[0][i] != nil {
			scanType = reflect.TypeOf(rows[0][i])
		}
		r.types = append(r.types, fakeColumnType{name: name, scanType: scanType})
	}
	return r
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return fmt.Errorf("scan without a current row")
	}
	row := r.data[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, v := range row {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func (r *fakeRows) Columns() []string                { return r.names }
func (r *fakeRows) ColumnTypes() []driver.ColumnType { return r.types }
func (r *fakeRows) Err() error                       { return r.rowErr }

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

// existsRows is the single-cell result of EXISTS TABLE.
func existsRows(exists bool) *fakeRows {
	v := uint8(0)
	if exists {
		v = 1
	}
	return newFakeRows([]string{"result"}, []any{v})
}

// describeRows builds a DESCRIBE TABLE result. Each row is
// name, type, default_type, default_expression.
func describeRows(rows ...[4]string) *fakeRows {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r[0], r[1], r[2], r[3], "", "", ""}
	}
	return newFakeRows(
		[]string{"name", "type", "default_type", "default_expression", "comment", "codec_expression", "ttl_expression"},
		data...,
	)
}
