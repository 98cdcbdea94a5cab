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

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/chstack/chorm/database"
	"github.com/chstack/chorm/types"
)

// Conn abstracts the subset of driver.Conn the repository layer needs.
// Production code passes a real driver.Conn; tests inject a mock.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error
}

// ReadRepository defines read operations for a generic entity type.
type ReadRepository[T any] interface {
	GetOne(ctx context.Context, id any) (*T, error)

	GetAll(ctx context.Context) ([]*T, error)

	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	First(ctx context.Context) (*T, error)

	Count(ctx context.Context) (uint64, error)

	Exists(ctx context.Context, where string, args ...interface{}) (bool, error)
}

// WriteRepository defines insert operations. ClickHouse tables are
// append-oriented: there is no row-level UPDATE or DELETE here.
type WriteRepository[T any] interface {
	Create(ctx context.Context, entity ...*T) error

	CreateAsync(ctx context.Context, wait bool, entity ...*T) error

	InsertFromSelect(ctx context.Context, selectSQL string, args []any, columns ...string) error
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// Repository combines read, write, and pagination operations and exposes
// query builders for advanced use cases.
type Repository[T any] interface {
	ReadRepository[T]
	WriteRepository[T]
	PageQueryRepository[T]
	Schema() (*database.TableSchema, error)
	NewSelect() *SelectQuery[T]
	NewInsertSelect() *InsertSelectBuilder
	Conn() Conn
}
