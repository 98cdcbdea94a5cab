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
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionFor(t *testing.T) {
	c, err := compressionFor("")
	require.NoError(t, err)
	assert.Equal(t, clickhouse.CompressionLZ4, c.Method)

	c, err = compressionFor("lz4")
	require.NoError(t, err)
	assert.Equal(t, clickhouse.CompressionLZ4, c.Method)

	c, err = compressionFor(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, clickhouse.CompressionZSTD, c.Method)

	c, err = compressionFor("none")
	require.NoError(t, err)
	assert.Equal(t, clickhouse.CompressionNone, c.Method)

	_, err = compressionFor("snappy")
	assert.EqualError(t, err, "unsupported compression method: snappy, supported: lz4, zstd, none")
}

func TestManagerBeforeConnect(t *testing.T) {
	dm := NewDatabaseManager(nil)

	assert.Nil(t, dm.GetConn())
	assert.EqualError(t, dm.Ping(context.Background()), "database not connected")
	assert.Equal(t, &ConnStats{}, dm.GetStats())
	assert.EqualError(t, dm.SyncSchemas(context.Background()), "database not initialized")
	assert.EqualError(t, dm.InitData(context.Background()), "database not initialized")
	assert.NoError(t, dm.Disconnect())

	status := dm.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Connected)
	assert.Equal(t, "Database not initialized", status.LastError)
	assert.False(t, status.LastCheckTime.IsZero())

	// SetLogger works regardless of connection state.
	dm.SetLogger(GetLogger())
}
