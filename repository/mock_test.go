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

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type capturedQuery struct {
	query string
	args  []any
}

// fakeConn records every statement and serves canned results. Unset hooks
// answer with empty rows and nil errors.
type fakeConn struct {
	queries []capturedQuery
	execs   []capturedQuery
	asyncs  []capturedQuery
	waits   []bool
	batches []*fakeBatch

	onQuery   func(query string, args []any) (driver.Rows, error)
	execErr   error
	batchErr  error
	appendErr error
	sendErr   error
	asyncErr  error
}

func (c *fakeConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	c.queries = append(c.queries, capturedQuery{query: query, args: args})
	if c.onQuery != nil {
		return c.onQuery(query, args)
	}
	return newFakeRows(nil), nil
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	c.execs = append(c.execs, capturedQuery{query: query, args: args})
	return c.execErr
}

func (c *fakeConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	if c.batchErr != nil {
		return nil, c.batchErr
	}
	b := &fakeBatch{query: query, appendErr: c.appendErr, sendErr: c.sendErr}
	c.batches = append(c.batches, b)
	return b, nil
}

func (c *fakeConn) AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error {
	c.asyncs = append(c.asyncs, capturedQuery{query: query, args: args})
	c.waits = append(c.waits, wait)
	return c.asyncErr
}

// fakeBatch embeds the driver interface so only the methods the code under
// test calls need an implementation.
type fakeBatch struct {
	driver.Batch

	query     string
	appended  [][]any
	sent      bool
	aborted   bool
	appendErr error
	sendErr   error
}

func (b *fakeBatch) Append(v ...any) error {
	if b.appendErr != nil {
		return b.appendErr
	}
	row := make([]any, len(v))
	copy(row, v)
	b.appended = append(b.appended, row)
	return nil
}

func (b *fakeBatch) Send() error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = true
	return nil
}

func (b *fakeBatch) Abort() error {
	b.aborted = true
	return nil
}

func (b *fakeBatch) Rows() int { return len(b.appended) }

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
