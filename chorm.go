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

// Package chorm is a ClickHouse convenience layer over clickhouse-go:
// declarative models, DDL generation, a fluent query builder, batch and
// async inserts, HTTP streaming ingestion, introspection, and model codegen.
package chorm

import (
	"context"
	"sync"

	"github.com/chstack/chorm/database"
	"github.com/chstack/chorm/repository"
	"github.com/chstack/chorm/types"
)

// CHModel marks a struct as a table model; its ch tag carries table options.
type CHModel = database.CHModel

// SkipIndex re-exports the data-skipping index declaration used by models
// implementing TableIndexes.
type SkipIndex = database.SkipIndex

// RegisterModel adds a model to the global registry so CreateAll and schema
// sync pick it up. Lower priority values are created first. Generated model
// files call this from init.
func RegisterModel(instance any, priority int) {
	database.RegisterModelInstance(instance, priority)
}

type Service[T any] interface {
	// Get returns a single entity by its key column.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query executes a raw WHERE clause and maps the results to entities.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// First returns the first entity, or sql.ErrNoRows when the table is empty.
	First(ctx context.Context) (*T, error)

	// Count returns the number of rows in the entity's table.
	Count(ctx context.Context) (uint64, error)

	// Exists reports whether any row matches the WHERE clause; an empty
	// clause checks for any row at all.
	Exists(ctx context.Context, where string, args ...interface{}) (bool, error)

	// Save batch-inserts one or more new entities.
	Save(ctx context.Context, model ...*T) error

	// SaveAsync inserts entities through the server-side async insert queue.
	SaveAsync(ctx context.Context, wait bool, model ...*T) error

	// InsertFromSelect inserts the select statement's result set into the
	// entity's table.
	InsertFromSelect(ctx context.Context, selectSQL string, args []any, columns ...string) error

	// SelectBuilder returns a fluent select query builder for the entity.
	SelectBuilder() *repository.SelectQuery[T]

	// InsertBuilder returns an INSERT ... SELECT builder targeting the
	// entity's table.
	InsertBuilder() *repository.InsertSelectBuilder
}

type baseServiceImpl[T any] struct {
	repo repository.Repository[T]
	once sync.Once
}

// NewService returns a default Service implementation using the generic
// repository backed by the global database connection. The repository binds
// lazily, so services can be constructed before InitDB runs.
func NewService[T any]() Service[T] {
	return newBaseServiceImpl[T]()
}

func newBaseServiceImpl[T any]() *baseServiceImpl[T] {
	return &baseServiceImpl[T]{}
}

func (s *baseServiceImpl[T]) baseRepo() repository.Repository[T] {
	s.once.Do(func() { s.repo = repository.NewRepository[T](database.GetConn()) })
	return s.repo
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (*T, error) {
	return s.baseRepo().GetOne(ctx, id)
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	return s.baseRepo().GetAll(ctx)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return s.baseRepo().List(ctx, filter)
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return s.baseRepo().Query(ctx, query, args...)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return s.baseRepo().Page(ctx, page)
}

func (s *baseServiceImpl[T]) First(ctx context.Context) (*T, error) {
	return s.baseRepo().First(ctx)
}

func (s *baseServiceImpl[T]) Count(ctx context.Context) (uint64, error) {
	return s.baseRepo().Count(ctx)
}

func (s *baseServiceImpl[T]) Exists(ctx context.Context, where string, args ...interface{}) (bool, error) {
	return s.baseRepo().Exists(ctx, where, args...)
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	return s.baseRepo().Create(ctx, model...)
}

func (s *baseServiceImpl[T]) SaveAsync(ctx context.Context, wait bool, model ...*T) error {
	return s.baseRepo().CreateAsync(ctx, wait, model...)
}

func (s *baseServiceImpl[T]) InsertFromSelect(ctx context.Context, selectSQL string, args []any, columns ...string) error {
	return s.baseRepo().InsertFromSelect(ctx, selectSQL, args, columns...)
}

func (s *baseServiceImpl[T]) SelectBuilder() *repository.SelectQuery[T] {
	return s.baseRepo().NewSelect()
}

func (s *baseServiceImpl[T]) InsertBuilder() *repository.InsertSelectBuilder {
	return s.baseRepo().NewInsertSelect()
}
