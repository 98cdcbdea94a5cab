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
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// CHModel marks a struct as a ClickHouse model. Embed it as the first field
// and put the table options on its tag:
//
//	type Event struct {
//		database.CHModel `ch:"table:logs.events,engine:MergeTree,order_by:(id, ts)"`
//
//		ID   uint64    `ch:"id,pk"`
//		TS   time.Time `ch:"ts,type:DateTime64(3)"`
//		Name string    `ch:"name,type:LowCardinality(String)"`
//	}
//
// Table options: table, engine, on_cluster, order_by, partition_by,
// primary_key, sample_by, ttl, settings, comment. Field options: an optional
// column name first, then type, default, materialized, alias, codec, comment,
// pk. A field tagged `ch:"-"` is skipped. Values containing commas must wrap
// them in parentheses or single quotes, the way ClickHouse expressions
// naturally do.
type CHModel struct{}

var chModelType = reflect.TypeOf(CHModel{})

// SkipIndex is a data skipping index declared on a table, either through the
// TableIndexer interface or in CreateTableOptions.
type SkipIndex struct {
	Name        string
	Expression  string
	Type        string // minmax, set(N), bloom_filter, ngrambf_v1(...), tokenbf_v1(...)
	Granularity int    // 0 omits the GRANULARITY clause
}

// TableIndexer is implemented by models that declare data skipping indexes.
// The indexes become part of the model schema and participate in CREATE TABLE
// rendering and schema synchronization.
type TableIndexer interface {
	TableIndexes() []SkipIndex
}

// ColumnSchema describes one column of a table: its ClickHouse type, the
// optional default clause, codec, comment, and for model-derived schemas the
// reflection path of the backing struct field.
type ColumnSchema struct {
	Name        string
	Type        Type
	Default     string // expression text of the default clause
	DefaultKind string // "DEFAULT", "MATERIALIZED" or "ALIAS"; empty when Default is
	Codec       string // codec expression without the CODEC(...) wrapper
	Comment     string
	PrimaryKey  bool
	FieldIndex  []int // struct field path; nil for introspected schemas
}

// HasField reports whether the column maps to a struct field. Introspected
// columns and expression-only columns do not.
func (c *ColumnSchema) HasField() bool { return c.FieldIndex != nil }

// TableSchema is the parsed shape of a table: name, columns in declaration
// order, and the engine clauses used when the table is created or
// synchronized.
type TableSchema struct {
	Name        string
	Engine      string
	OnCluster   string
	OrderBy     []string
	PartitionBy string
	PrimaryKey  []string
	SampleBy    string
	TTL         string
	Settings    map[string]any
	Comment     string
	Columns     []ColumnSchema
	Indexes     []SkipIndex
}

// Column finds a column by name, preferring an exact match and falling back
// to a case-insensitive one.
func (t *TableSchema) Column(name string) (*ColumnSchema, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in declaration order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i := range t.Columns {
		names[i] = t.Columns[i].Name
	}
	return names
}

// InsertColumns returns the columns that accept inserted values, skipping
// MATERIALIZED and ALIAS columns, which ClickHouse computes itself.
func (t *TableSchema) InsertColumns() []ColumnSchema {
	cols := make([]ColumnSchema, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.DefaultKind == "MATERIALIZED" || c.DefaultKind == "ALIAS" {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// SortingKey returns the effective ORDER BY columns: the declared order_by if
// present, otherwise the primary key, otherwise a column named id, otherwise
// the first column. MergeTree tables need a sorting key, so the fallback
// keeps zero-config models working.
func (t *TableSchema) SortingKey() []string {
	if len(t.OrderBy) > 0 {
		return t.OrderBy
	}
	if len(t.PrimaryKey) > 0 {
		return t.PrimaryKey
	}
	return defaultSortingKey(t.Columns)
}

func defaultSortingKey(cols []ColumnSchema) []string {
	for _, c := range cols {
		if strings.EqualFold(c.Name, "id") {
			return []string{c.Name}
		}
	}
	if len(cols) > 0 {
		return []string{cols[0].Name}
	}
	return nil
}

var schemaCache sync.Map // reflect.Type -> *TableSchema

// SchemaOf derives the table schema of a model. The model can be a value, a
// pointer, or a typed nil pointer such as (*Event)(nil). Results are cached
// per type; the returned schema is shared and must not be mutated.
func SchemaOf(model any) (*TableSchema, error) {
	rt := reflect.TypeOf(model)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct or a pointer to one, got %T", model)
	}
	if cached, ok := schemaCache.Load(rt); ok {
		return cached.(*TableSchema), nil
	}
	schema, err := parseModelSchema(rt)
	if err != nil {
		return nil, err
	}
	actual, _ := schemaCache.LoadOrStore(rt, schema)
	return actual.(*TableSchema), nil
}

// MustSchemaOf is SchemaOf for package-level initialization, panicking on a
// malformed model.
func MustSchemaOf(model any) *TableSchema {
	schema, err := SchemaOf(model)
	if err != nil {
		panic(err)
	}
	return schema
}

func parseModelSchema(rt reflect.Type) (*TableSchema, error) {
	schema := &TableSchema{
		Name:   toSnake(rt.Name()),
		Engine: "MergeTree",
	}
	if err := collectColumns(rt, nil, schema); err != nil {
		return nil, fmt.Errorf("model %s: %w", rt.Name(), err)
	}
	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("model %s declares no columns", rt.Name())
	}
	if len(schema.PrimaryKey) == 0 {
		for _, c := range schema.Columns {
			if c.PrimaryKey {
				schema.PrimaryKey = append(schema.PrimaryKey, c.Name)
			}
		}
	}
	if indexer, ok := reflect.New(rt).Interface().(TableIndexer); ok {
		schema.Indexes = append(schema.Indexes, indexer.TableIndexes()...)
	}
	return schema, nil
}

func collectColumns(rt reflect.Type, path []int, schema *TableSchema) error {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag, hasTag := f.Tag.Lookup("ch")
		if tag == "-" {
			continue
		}

		if f.Anonymous && f.Type == chModelType {
			if err := parseTableTag(tag, schema); err != nil {
				return err
			}
			continue
		}
		if f.PkgPath != "" { // unexported
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct && !hasTag {
			if err := collectColumns(f.Type, append(path, i), schema); err != nil {
				return err
			}
			continue
		}

		col, err := parseFieldTag(f, tag)
		if err != nil {
			return err
		}
		col.FieldIndex = append(append([]int(nil), path...), i)
		if _, dup := schema.Column(col.Name); dup {
			return fmt.Errorf("duplicate column %q (field %s)", col.Name, f.Name)
		}
		schema.Columns = append(schema.Columns, col)
	}
	return nil
}

func parseTableTag(tag string, schema *TableSchema) error {
	if tag == "" {
		return nil
	}
	for _, part := range splitTopLevel(tag, ',') {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "table":
			schema.Name = value
		case "engine":
			schema.Engine = value
		case "on_cluster":
			schema.OnCluster = StripAnyQuotes(value)
		case "order_by":
			schema.OrderBy = splitTagList(value)
		case "partition_by":
			schema.PartitionBy = trimOuterParens(value)
		case "primary_key":
			schema.PrimaryKey = splitTagList(value)
		case "sample_by":
			schema.SampleBy = trimOuterParens(value)
		case "ttl":
			schema.TTL = value
		case "settings":
			settings, err := parseTagSettings(value)
			if err != nil {
				return err
			}
			schema.Settings = settings
		case "comment":
			schema.Comment = value
		default:
			return fmt.Errorf("unknown table option %q in ch tag", key)
		}
	}
	return nil
}

func parseFieldTag(f reflect.StructField, tag string) (ColumnSchema, error) {
	col := ColumnSchema{Name: toSnake(f.Name)}
	parts := splitTopLevel(tag, ',')
	if tag != "" && parts[0] != "" && !strings.Contains(parts[0], ":") {
		col.Name = parts[0]
		parts = parts[1:]
	}

	var typeTag string
	for _, part := range parts {
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "type":
			typeTag = value
		case "default", "materialized", "alias":
			if col.DefaultKind != "" {
				return col, fmt.Errorf("field %s: default, materialized and alias are mutually exclusive", f.Name)
			}
			col.DefaultKind = strings.ToUpper(key)
			col.Default = value
		case "codec":
			col.Codec = value
		case "comment":
			col.Comment = value
		case "pk":
			if hasValue {
				return col, fmt.Errorf("field %s: pk takes no value", f.Name)
			}
			col.PrimaryKey = true
		default:
			return col, fmt.Errorf("field %s: unknown ch tag option %q", f.Name, key)
		}
	}

	if typeTag != "" {
		col.Type = typeFromTag(typeTag)
	} else {
		inferred, err := TypeOfGo(f.Type)
		if err != nil {
			return col, fmt.Errorf("field %s: %w", f.Name, err)
		}
		col.Type = inferred
	}
	return col, nil
}

// typeFromTag resolves an explicit type tag. Types the parser knows get the
// parsed form; anything it would degrade (IPv4, AggregateFunction, JSON, new
// server types) is carried verbatim so the DDL renders exactly what the tag
// says. The round-trip comparison catches fallbacks inside wrappers too.
func typeFromTag(raw string) Type {
	raw = strings.TrimSpace(raw)
	parsed := ParseType(raw)
	if normalizeTypeText(parsed.String()) == normalizeTypeText(raw) {
		return parsed
	}
	return Type{Name: raw}
}

func normalizeTypeText(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", ""))
}

// splitTagList parses a list-valued tag option: "(a, b)" or a bare "a".
func splitTagList(value string) []string {
	value = trimOuterParens(value)
	if value == "" {
		return nil
	}
	parts := splitTopLevel(value, ',')
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseTagSettings parses "settings:(index_granularity=8192, storage_policy='ssd')".
// Numbers and booleans keep their type so rendering emits them bare.
func parseTagSettings(value string) (map[string]any, error) {
	value = trimOuterParens(value)
	if value == "" {
		return nil, nil
	}
	settings := make(map[string]any)
	for _, part := range splitTopLevel(value, ',') {
		if part == "" {
			continue
		}
		key, raw, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("setting %q must be key=value", part)
		}
		settings[strings.TrimSpace(key)] = parseSettingValue(strings.TrimSpace(raw))
	}
	return settings, nil
}

func parseSettingValue(raw string) any {
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		return raw[1 : len(raw)-1]
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func trimOuterParens(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// toSnake converts a Go field or type name to the snake_case column naming
// ClickHouse schemas conventionally use: UserID becomes user_id, HTMLBody
// becomes html_body.
func toSnake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
