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
	"strings"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chstack/chorm/database"
	"github.com/chstack/chorm/types"
)

func metricRows(rows ...[]any) *fakeRows {
	return newFakeRows([]string{"id", "name", "value"}, rows...)
}

func TestNewRepositorySchema(t *testing.T) {
	repo := NewRepository[metricRow](&fakeConn{})
	schema, err := repo.Schema()
	require.NoError(t, err)
	assert.Equal(t, "metrics", schema.Name)
}

func TestRepositoryGetOne(t *testing.T) {
	conn := &fakeConn{onQuery: func(query string, args []any) (driver.Rows, error) {
		return metricRows([]any{uint64(42), "cpu", 0.5}), nil
	}}
	repo := NewRepository[metricRow](conn)

	item, err := repo.GetOne(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), item.ID)

	require.Len(t, conn.queries, 1)
	assert.Equal(t,
		`SELECT "id", "name", "value" FROM "metrics" WHERE ("id" = ?) LIMIT ?`,
		conn.queries[0].query)
	assert.Equal(t, []any{42, 1}, conn.queries[0].args)
}

func TestRepositoryQueryAndList(t *testing.T) {
	conn := &fakeConn{onQuery: func(query string, args []any) (driver.Rows, error) {
		return metricRows([]any{uint64(1), "cpu", 0.5}), nil
	}}
	repo := NewRepository[metricRow](conn)

	items, err := repo.Query(context.Background(), "name = ?", "cpu")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Contains(t, conn.queries[0].query, `WHERE (name = ?)`)

	_, err = repo.List(context.Background(), types.NewQueryFilter("value > ?", 0.1))
	require.NoError(t, err)
	assert.Contains(t, conn.queries[1].query, `WHERE (value > ?)`)
	assert.Equal(t, []any{0.1}, conn.queries[1].args)

	// A nil filter lists everything.
	_, err = repo.List(context.Background(), nil)
	require.NoError(t, err)
	assert.NotContains(t, conn.queries[2].query, "WHERE")
}

func TestRepositoryCountAndExists(t *testing.T) {
	conn := &fakeConn{onQuery: func(query string, args []any) (driver.Rows, error) {
		if strings.HasPrefix(query, "SELECT count()") {
			return newFakeRows([]string{"count()"}, []any{uint64(3)}), nil
		}
		return newFakeRows([]string{"1"}, []any{uint8(1)}), nil
	}}
	repo := NewRepository[metricRow](conn)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	found, err := repo.Exists(context.Background(), "name = ?", "cpu")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `SELECT 1 FROM "metrics" WHERE (name = ?) LIMIT ?`, conn.queries[1].query)
}

func TestRepositoryPage(t *testing.T) {
	conn := &fakeConn{onQuery: func(query string, args []any) (driver.Rows, error) {
		if strings.HasPrefix(query, "SELECT count()") {
			return newFakeRows([]string{"count()"}, []any{uint64(7)}), nil
		}
		return metricRows(
			[]any{uint64(4), "a", 0.1},
			[]any{uint64(5), "b", 0.2},
			[]any{uint64(6), "c", 0.3},
		), nil
	}}
	repo := NewRepository[metricRow](conn)

	page, err := repo.Page(context.Background(), types.NewPageRequestWithOrders(2, 3, []string{`"id" DESC`}))
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.TotalPages())
	assert.Len(t, page.Items, 3)

	require.Len(t, conn.queries, 2)
	assert.Equal(t,
		`SELECT "id", "name", "value" FROM "metrics" ORDER BY "id" DESC LIMIT ? OFFSET ?`,
		conn.queries[1].query)
	assert.Equal(t, []any{3, 3}, conn.queries[1].args)
}

func TestRepositoryPageEmptyShortCircuits(t *testing.T) {
	conn := &fakeConn{onQuery: func(query string, args []any) (driver.Rows, error) {
		return newFakeRows([]string{"count()"}, []any{uint64(0)}), nil
	}}
	repo := NewRepository[metricRow](conn)

	page, err := repo.Page(context.Background(), types.NewDefaultPageRequest(1, 10))
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Items)
	// No item query when the count is zero.
	assert.Len(t, conn.queries, 1)
}

func TestRepositoryCreate(t *testing.T) {
	conn := &fakeConn{}
	repo := NewRepository[metricRow](conn)

	err := repo.Create(context.Background(), &metricRow{ID: 1, Name: "cpu", Value: 0.5})
	require.NoError(t, err)
	require.Len(t, conn.batches, 1)
	assert.Equal(t, `INSERT INTO "metrics" ("id", "name", "value")`, conn.batches[0].query)
	assert.True(t, conn.batches[0].sent)

	err = repo.CreateAsync(context.Background(), false, &metricRow{ID: 2, Name: "mem", Value: 0.2})
	require.NoError(t, err)
	require.Len(t, conn.asyncs, 1)
	assert.Equal(t, []bool{false}, conn.waits)
}

func TestRepositoryInsertFromSelect(t *testing.T) {
	conn := &fakeConn{}
	repo := NewRepository[metricRow](conn)

	err := repo.InsertFromSelect(context.Background(), "SELECT id, name, value FROM staging", nil)
	require.NoError(t, err)
	require.Len(t, conn.execs, 1)
	assert.Equal(t, `INSERT INTO "metrics" SELECT id, name, value FROM staging`, conn.execs[0].query)
}

func TestRepositoryNewInsertSelectTargetsModelTable(t *testing.T) {
	repo := NewRepository[metricRow](&fakeConn{})
	compiled, err := repo.NewInsertSelect().
		Map("id", "s.id").
		Sources(Src("s", "staging")).
		Compile()
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "metrics" ("id") SELECT s.id AS "id" FROM "staging" AS s`, compiled.InsertSQL)
}

func TestKeyColumn(t *testing.T) {
	plain := &database.TableSchema{
		PrimaryKey: []string{"site_id"},
		Columns:    []database.ColumnSchema{{Name: "site_id"}, {Name: "id"}},
	}
	assert.Equal(t, "site_id", keyColumn(plain))

	// Expression keys fall back to a column named id.
	expr := &database.TableSchema{
		PrimaryKey: []string{"toDate(ts)"},
		Columns:    []database.ColumnSchema{{Name: "ts"}, {Name: "id"}},
	}
	assert.Equal(t, "id", keyColumn(expr))

	first := &database.TableSchema{
		Columns: []database.ColumnSchema{{Name: "ts"}, {Name: "host"}},
	}
	assert.Equal(t, "ts", keyColumn(first))
}
