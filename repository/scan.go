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
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/chstack/chorm/database"
)

// scanTarget maps one result column to a model field. A nil fieldIndex means
// the column has no matching field; its value is scanned into a throwaway of
// the driver's scan type so the row stays aligned.
type scanTarget struct {
	fieldIndex []int
	scanType   reflect.Type
}

type scanPlanKey struct {
	model   reflect.Type
	columns string
}

var scanPlans sync.Map // scanPlanKey -> []scanTarget

func scanPlanFor(model reflect.Type, schema *database.TableSchema, cols []driver.ColumnType) []scanTarget {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name()
	}
	key := scanPlanKey{model: model, columns: strings.Join(names, "\x00")}
	if cached, ok := scanPlans.Load(key); ok {
		return cached.([]scanTarget)
	}

	plan := make([]scanTarget, len(cols))
	for i, ct := range cols {
		if schema != nil {
			if col, ok := schema.Column(ct.Name()); ok && col.HasField() {
				plan[i] = scanTarget{fieldIndex: col.FieldIndex}
				continue
			}
		}
		plan[i] = scanTarget{scanType: ct.ScanType()}
	}
	actual, _ := scanPlans.LoadOrStore(key, plan)
	return actual.([]scanTarget)
}

// scanRows drains rows into freshly allocated models, matching result columns
// to struct fields by their ch tag names. The rows are always closed.
func scanRows[T any](rows driver.Rows, schema *database.TableSchema) ([]*T, error) {
	defer func() { _ = rows.Close() }()

	model := reflect.TypeOf((*T)(nil)).Elem()
	if model.Kind() != reflect.Struct {
		return nil, fmt.Errorf("scan destination %s is not a struct", model)
	}
	plan := scanPlanFor(model, schema, rows.ColumnTypes())

	var items []*T
	for rows.Next() {
		ev := reflect.New(model)
		dest := make([]any, len(plan))
		for i, target := range plan {
			if target.fieldIndex != nil {
				dest[i] = ev.Elem().FieldByIndex(target.fieldIndex).Addr().Interface()
				continue
			}
			dest[i] = reflect.New(target.scanType).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		items = append(items, ev.Interface().(*T))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
