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
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncEventTable struct {
	CHModel `ch:"table:sync_events,engine:MergeTree,order_by:(id)"`

	ID   uint64    `ch:"id,pk"`
	TS   time.Time `ch:"ts"`
	Kind string    `ch:"kind,type:LowCardinality(String)"`
}

type syncIndexedTable struct {
	CHModel `ch:"table:sync_indexed,engine:MergeTree,order_by:(id)"`

	ID   uint64 `ch:"id,pk"`
	Body string `ch:"body"`
}

func (syncIndexedTable) TableIndexes() []SkipIndex {
	return []SkipIndex{{Name: "idx_sync_body", Expression: "body", Type: "tokenbf_v1(10240, 3, 0)", Granularity: 4}}
}

type syncClashTable struct {
	CHModel `ch:"table:chorm_schema_sync,engine:MergeTree,order_by:(id)"`

	ID uint64 `ch:"id"`
}

// syncServerState is the table shape the fake server reports to syncModel.
type syncServerState struct {
	exists  bool
	columns [][4]string
	indexes []skipIndexRow
	count   uint64
}

func syncConn(state *syncServerState) *fakeQuerier {
	return &fakeQuerier{onQuery: func(query string, args []any) (driver.Rows, error) {
		switch {
		case strings.HasPrefix(query, "EXISTS TABLE"):
			return existsRows(state.exists), nil
		case strings.HasPrefix(query, "DESCRIBE TABLE"):
			return describeRows(state.columns...), nil
		case strings.Contains(query, "system.data_skipping_indices"):
			data := make([][]any, len(state.indexes))
			for i, idx := range state.indexes {
				data[i] = []any{idx.Name, idx.Type, idx.Expression, idx.Granularity}
			}
			return newFakeRows([]string{"name", "type", "expr", "granularity"}, data...), nil
		case strings.HasPrefix(query, "SELECT count()"):
			return newFakeRows([]string{"count()"}, []any{state.count}), nil
		default:
			return newFakeRows(nil), nil
		}
	}}
}

func TestSyncModelCreatesMissingTable(t *testing.T) {
	q := syncConn(&syncServerState{exists: false})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{AllowColumnAdd: true})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))
	require.Len(t, q.execs, 1)
	assert.True(t, strings.HasPrefix(q.execs[0].query, `CREATE TABLE IF NOT EXISTS "sync_events"`), q.execs[0].query)
}

func TestSyncModelAddsMissingColumnsInOrder(t *testing.T) {
	q := syncConn(&syncServerState{
		exists:  true,
		columns: [][4]string{{"id", "UInt64", "", ""}},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{AllowColumnAdd: true})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))
	assert.Equal(t, []string{
		`ALTER TABLE "sync_events" ADD COLUMN IF NOT EXISTS "ts" DateTime AFTER "id"`,
		`ALTER TABLE "sync_events" ADD COLUMN IF NOT EXISTS "kind" LowCardinality(String) AFTER "ts"`,
	}, q.execSQL())
}

func TestSyncModelAddsAndDropsColumns(t *testing.T) {
	q := syncConn(&syncServerState{
		exists: true,
		columns: [][4]string{
			{"id", "UInt64", "", ""},
			{"legacy_b", "String", "", ""},
			{"legacy_a", "String", "", ""},
		},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{AllowColumnAdd: true, AllowColumnDrop: true})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))
	// Adds keep declaration order; drops are sorted.
	assert.Equal(t, []string{
		`ALTER TABLE "sync_events" ADD COLUMN IF NOT EXISTS "ts" DateTime AFTER "id"`,
		`ALTER TABLE "sync_events" ADD COLUMN IF NOT EXISTS "kind" LowCardinality(String) AFTER "ts"`,
		`ALTER TABLE "sync_events" DROP COLUMN IF EXISTS "legacy_a"`,
		`ALTER TABLE "sync_events" DROP COLUMN IF EXISTS "legacy_b"`,
	}, q.execSQL())
}

func TestSyncModelAddsLeadingColumnFirst(t *testing.T) {
	q := syncConn(&syncServerState{
		exists:  true,
		columns: [][4]string{{"legacy", "String", "", ""}},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{AllowColumnAdd: true})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))
	assert.Equal(t, []string{
		`ALTER TABLE "sync_events" ADD COLUMN IF NOT EXISTS "id" UInt64 FIRST`,
		`ALTER TABLE "sync_events" ADD COLUMN IF NOT EXISTS "ts" DateTime AFTER "id"`,
		`ALTER TABLE "sync_events" ADD COLUMN IF NOT EXISTS "kind" LowCardinality(String) AFTER "ts"`,
	}, q.execSQL())
}

func TestSyncModelRespectsGates(t *testing.T) {
	q := syncConn(&syncServerState{
		exists: true,
		columns: [][4]string{
			{"id", "UInt64", "", ""},
			{"legacy", "String", "", ""},
		},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))
	assert.Empty(t, q.execs)
}

func TestSyncModelColumnMatchIsCaseInsensitive(t *testing.T) {
	q := syncConn(&syncServerState{
		exists: true,
		columns: [][4]string{
			{"ID", "UInt64", "", ""},
			{"TS", "DateTime", "", ""},
			{"KIND", "LowCardinality(String)", "", ""},
		},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{AllowColumnAdd: true, AllowColumnDrop: true})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))
	assert.Empty(t, q.execs)
}

func TestSyncModelIndexPlan(t *testing.T) {
	q := syncConn(&syncServerState{
		exists: true,
		columns: [][4]string{
			{"id", "UInt64", "", ""},
			{"body", "String", "", ""},
		},
		indexes: []skipIndexRow{{Name: "idx_stale", Type: "minmax", Expression: "id", Granularity: 1}},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{AllowIndexAdd: true, AllowIndexDrop: true})

	require.NoError(t, sm.syncModel(context.Background(), (*syncIndexedTable)(nil)))
	assert.Equal(t, []string{
		`ALTER TABLE "sync_indexed" ADD INDEX IF NOT EXISTS "idx_sync_body" body TYPE tokenbf_v1(10240, 3, 0) GRANULARITY 4`,
		`ALTER TABLE "sync_indexed" DROP INDEX IF EXISTS "idx_stale"`,
	}, q.execSQL())
}

func TestSyncModelIndexAlreadyPresent(t *testing.T) {
	q := syncConn(&syncServerState{
		exists: true,
		columns: [][4]string{
			{"id", "UInt64", "", ""},
			{"body", "String", "", ""},
		},
		indexes: []skipIndexRow{{Name: "IDX_SYNC_BODY", Type: "tokenbf_v1(10240, 3, 0)", Expression: "body", Granularity: 4}},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{AllowIndexAdd: true, AllowIndexDrop: true})

	require.NoError(t, sm.syncModel(context.Background(), (*syncIndexedTable)(nil)))
	assert.Empty(t, q.execs)
}

func TestSyncModelMemoizesAppliedPlans(t *testing.T) {
	q := syncConn(&syncServerState{
		exists:  true,
		columns: [][4]string{{"id", "UInt64", "", ""}},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{AllowColumnAdd: true})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))
	require.Len(t, q.execs, 2)

	// The same plan is not re-applied within one process.
	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))
	assert.Len(t, q.execs, 2)
}

func TestSyncModelRecordsHistory(t *testing.T) {
	q := syncConn(&syncServerState{
		exists:  true,
		columns: [][4]string{{"id", "UInt64", "", ""}},
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{
		AllowColumnAdd: true,
		RecordHistory:  true,
		HistoryTable:   "chorm_schema_sync",
	})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))

	execs := q.execSQL()
	require.Len(t, execs, 4)
	assert.True(t, strings.HasPrefix(execs[0], `CREATE TABLE IF NOT EXISTS "chorm_schema_sync"`), execs[0])
	assert.Contains(t, execs[0], "ReplacingMergeTree")
	assert.Contains(t, execs[1], `ADD COLUMN IF NOT EXISTS "ts"`)
	assert.Contains(t, execs[2], `ADD COLUMN IF NOT EXISTS "kind"`)
	assert.True(t, strings.HasPrefix(execs[3], `INSERT INTO "chorm_schema_sync"`), execs[3])

	record := q.execs[3]
	require.Len(t, record.args, 6)
	version, _ := record.args[0].(string)
	assert.True(t, strings.HasPrefix(version, "schema_sync:sync_events:"), version)
	assert.Equal(t, "schema_sync", record.args[1])
	assert.Equal(t, "sync_events", record.args[2])
	planText, _ := record.args[4].(string)
	assert.Contains(t, planText, `ADD COLUMN IF NOT EXISTS "ts"`)
	assert.Contains(t, planText, `ADD COLUMN IF NOT EXISTS "kind"`)

	// The history lookup carried the same version key.
	var countQuery *capturedStmt
	for i := range q.queries {
		if strings.HasPrefix(q.queries[i].query, "SELECT count()") {
			countQuery = &q.queries[i]
		}
	}
	require.NotNil(t, countQuery)
	assert.Contains(t, countQuery.query, `FROM "chorm_schema_sync" WHERE version = ?`)
	assert.Equal(t, []any{version}, countQuery.args)
}

func TestSyncModelHistoryConfirmedSkip(t *testing.T) {
	q := syncConn(&syncServerState{
		exists:  true,
		columns: [][4]string{{"id", "UInt64", "", ""}},
		count:   1,
	})
	sm := NewSchemaSyncManager(q, nil, &SchemaSyncConfig{
		AllowColumnAdd: true,
		RecordHistory:  true,
		HistoryTable:   "chorm_schema_sync",
	})

	require.NoError(t, sm.syncModel(context.Background(), (*syncEventTable)(nil)))

	// Only the history table was ensured; the recorded plan never re-ran.
	execs := q.execSQL()
	require.Len(t, execs, 1)
	assert.True(t, strings.HasPrefix(execs[0], `CREATE TABLE IF NOT EXISTS "chorm_schema_sync"`), execs[0])
}

func TestSyncModelHistoryTableCollision(t *testing.T) {
	q := syncConn(&syncServerState{exists: true})
	sm := NewSchemaSyncManager(q, nil, nil)

	err := sm.syncModel(context.Background(), (*syncClashTable)(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides with the sync history table")
	assert.Empty(t, q.queries)
}

func TestPlanVersion(t *testing.T) {
	plan := []string{"b", "a"}
	v1, h1 := planVersion("t", plan)
	v2, h2 := planVersion("t", []string{"a", "b"})
	assert.Equal(t, v1, v2)
	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(v1, "schema_sync:t:"))
	assert.Len(t, h1, 64)

	// Hashing must not reorder the caller's plan.
	assert.Equal(t, []string{"b", "a"}, plan)

	v3, _ := planVersion("t", []string{"a"})
	assert.NotEqual(t, v1, v3)
	v4, _ := planVersion("u", []string{"a", "b"})
	assert.NotEqual(t, v1, v4)
}

func TestListSkipIndexes(t *testing.T) {
	q := &fakeQuerier{onQuery: func(query string, args []any) (driver.Rows, error) {
		return newFakeRows([]string{"name", "type", "expr", "granularity"},
			[]any{"idx_a", "minmax", "a", uint64(1)},
			[]any{"idx_b", "set(100)", "b", uint64(4)},
		), nil
	}}
	sm := NewSchemaSyncManager(q, nil, nil)

	rows, err := sm.listSkipIndexes(context.Background(), "logs.events")
	require.NoError(t, err)
	assert.Equal(t, []skipIndexRow{
		{Name: "idx_a", Type: "minmax", Expression: "a", Granularity: 1},
		{Name: "idx_b", Type: "set(100)", Expression: "b", Granularity: 4},
	}, rows)
	require.Len(t, q.queries, 1)
	assert.Contains(t, q.queries[0].query, "WHERE database = ? AND table = ?")
	assert.Equal(t, []any{"logs", "events"}, q.queries[0].args)

	_, err = sm.listSkipIndexes(context.Background(), "events")
	require.NoError(t, err)
	assert.Contains(t, q.queries[1].query, "currentDatabase()")
	assert.Equal(t, []any{"events"}, q.queries[1].args)
}
