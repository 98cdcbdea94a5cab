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

	"github.com/chstack/chorm/database"
	"github.com/chstack/chorm/types"
)

type baseRepositoryImpl[T any] struct {
	conn      Conn
	schema    *database.TableSchema
	schemaErr error
}

// NewRepository returns a generic repository for T backed by the provided
// connection. Schema problems surface from the first operation that needs
// the schema, not from the constructor.
func NewRepository[T any](conn Conn) Repository[T] {
	r := &baseRepositoryImpl[T]{conn: conn}
	r.schema, r.schemaErr = database.SchemaOf((*T)(nil))
	return r
}

func (r *baseRepositoryImpl[T]) Schema() (*database.TableSchema, error) {
	return r.schema, r.schemaErr
}

func (r *baseRepositoryImpl[T]) Conn() Conn { return r.conn }

func (r *baseRepositoryImpl[T]) NewSelect() *SelectQuery[T] {
	return NewSelectQuery[T](r.conn)
}

func (r *baseRepositoryImpl[T]) NewInsertSelect() *InsertSelectBuilder {
	target := ""
	if r.schema != nil {
		target = r.schema.Name
	}
	return NewInsertSelect(r.conn, target)
}

// keyColumn picks the column GetOne matches against: the first primary key
// column when it is a plain identifier, otherwise a column named id,
// otherwise the first column.
func keyColumn(schema *database.TableSchema) string {
	if len(schema.PrimaryKey) > 0 && isPlainIdent(schema.PrimaryKey[0]) {
		return schema.PrimaryKey[0]
	}
	if col, ok := schema.Column("id"); ok {
		return col.Name
	}
	return schema.Columns[0].Name
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (r *baseRepositoryImpl[T]) GetOne(ctx context.Context, id any) (*T, error) {
	if r.schemaErr != nil {
		return nil, r.schemaErr
	}
	return r.NewSelect().
		Where(database.QuoteIdent(keyColumn(r.schema))+" = ?", id).
		First(ctx)
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context) ([]*T, error) {
	return r.NewSelect().All(ctx)
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	query := r.NewSelect()
	if filter != nil && filter.Schema != "" {
		query.Where(filter.Schema, filter.Args...)
	}
	return query.All(ctx)
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, where string, args ...interface{}) ([]*T, error) {
	return r.NewSelect().Where(where, args...).All(ctx)
}

func (r *baseRepositoryImpl[T]) First(ctx context.Context) (*T, error) {
	return r.NewSelect().First(ctx)
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context) (uint64, error) {
	return r.NewSelect().Count(ctx)
}

func (r *baseRepositoryImpl[T]) Exists(ctx context.Context, where string, args ...interface{}) (bool, error) {
	query := r.NewSelect()
	if where != "" {
		query.Where(where, args...)
	}
	return query.Exists(ctx)
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	query := r.NewSelect()
	if pageRequest.GetFilter() != nil {
		query.Where(pageRequest.GetFilter().Schema, pageRequest.GetFilter().Args...)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	for _, order := range pageRequest.GetOrders() {
		query.OrderByExpr(order)
	}
	items, err := query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		All(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = int(total)
	pagination.Items = items
	return pagination, nil
}

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, entity ...*T) error {
	return InsertModels(ctx, r.conn, entity...)
}

func (r *baseRepositoryImpl[T]) CreateAsync(ctx context.Context, wait bool, entity ...*T) error {
	return AsyncInsertModels(ctx, r.conn, wait, entity...)
}

func (r *baseRepositoryImpl[T]) InsertFromSelect(ctx context.Context, selectSQL string, args []any, columns ...string) error {
	if r.schemaErr != nil {
		return r.schemaErr
	}
	return InsertFromSelect(ctx, r.conn, r.schema.Name, selectSQL, args, columns...)
}
