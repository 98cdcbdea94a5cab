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
	"errors"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMapsHelper(t *testing.T) {
	q := &fakeQuerier{onQuery: func(query string, args []any) (driver.Rows, error) {
		return newFakeRows([]string{"id", "name"},
			[]any{uint64(1), "cpu"},
			[]any{uint64(2), "mem"},
		), nil
	}}

	rows, err := queryMaps(context.Background(), q, "SELECT id, name FROM metrics WHERE id < ?", 10)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": uint64(1), "name": "cpu"},
		{"id": uint64(2), "name": "mem"},
	}, rows)

	require.Len(t, q.queries, 1)
	assert.Equal(t, "SELECT id, name FROM metrics WHERE id < ?", q.queries[0].query)
	assert.Equal(t, []any{10}, q.queries[0].args)
}

func TestQueryMapsEmptyAndErrors(t *testing.T) {
	q := &fakeQuerier{}
	rows, err := queryMaps(context.Background(), q, "SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	q = &fakeQuerier{onQuery: func(query string, args []any) (driver.Rows, error) {
		return nil, errors.New("connection refused")
	}}
	_, err = queryMaps(context.Background(), q, "SELECT 1")
	assert.EqualError(t, err, "connection refused")

	q = &fakeQuerier{onQuery: func(query string, args []any) (driver.Rows, error) {
		r := newFakeRows([]string{"id"})
		r.rowErr = errors.New("stream interrupted")
		return r, nil
	}}
	_, err = queryMaps(context.Background(), q, "SELECT 1")
	assert.EqualError(t, err, "stream interrupted")
}

func TestScalarHelper(t *testing.T) {
	q := &fakeQuerier{onQuery: func(query string, args []any) (driver.Rows, error) {
		return newFakeRows([]string{"count()"}, []any{uint64(7)}), nil
	}}
	v, err := scalar(context.Background(), q, "SELECT count() FROM metrics")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	// Only the first column of the first row comes back.
	q = &fakeQuerier{onQuery: func(query string, args []any) (driver.Rows, error) {
		return newFakeRows([]string{"name", "value"},
			[]any{"cpu", 0.5},
			[]any{"mem", 0.9},
		), nil
	}}
	v, err = scalar(context.Background(), q, "SELECT name, value FROM metrics")
	require.NoError(t, err)
	assert.Equal(t, "cpu", v)

	q = &fakeQuerier{}
	_, err = scalar(context.Background(), q, "SELECT 1 WHERE 0")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	q = &fakeQuerier{onQuery: func(query string, args []any) (driver.Rows, error) {
		return nil, errors.New("timeout")
	}}
	_, err = scalar(context.Background(), q, "SELECT 1")
	assert.EqualError(t, err, "timeout")
}

// withoutGlobalDB clears the package-level connection state for the duration
// of a test.
func withoutGlobalDB(t *testing.T) {
	t.Helper()
	prevFactory, prevConfig := globalFactory, globalConfig
	globalFactory, globalConfig = nil, nil
	t.Cleanup(func() { globalFactory, globalConfig = prevFactory, prevConfig })
}

func TestGlobalHelpersBeforeInit(t *testing.T) {
	withoutGlobalDB(t)
	ctx := context.Background()

	assert.Nil(t, GetConn())
	assert.Nil(t, GetDatabaseManager())
	assert.Nil(t, GetDatabaseFactory())
	assert.NoError(t, CloseDB())

	assert.EqualError(t, ExecContext(ctx, "SELECT 1"), "database not initialized")
	_, err := Raw(ctx, "SELECT 1")
	assert.EqualError(t, err, "database not initialized")
	_, err = QueryMaps(ctx, "SELECT 1")
	assert.EqualError(t, err, "database not initialized")
	_, err = Scalar(ctx, "SELECT 1")
	assert.EqualError(t, err, "database not initialized")
	assert.EqualError(t, SyncSchemas(), "database not initialized")
	assert.EqualError(t, InitData(), "database not initialized")
	assert.EqualError(t, InitDataWithSQL("dev"), "database not initialized")

	status := GetHealthStatus(ctx)
	assert.False(t, status.Healthy)
	assert.Equal(t, "Database not initialized", status.LastError)
	assert.Equal(t, &ConnStats{}, GetConnStats())
}

func TestInitDBNilConfig(t *testing.T) {
	withoutGlobalDB(t)
	_, err := InitDB(nil)
	assert.EqualError(t, err, "database configuration cannot be empty")
	_, err = InitDatabaseWithOptions(nil, false)
	assert.EqualError(t, err, "database configuration cannot be empty")
	assert.Nil(t, GetDatabaseFactory())
}
