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
	"bytes"
	"context"
	"fmt"
	"go/format"
	"sort"
	"strconv"
	"strings"
)

const modulePath = "github.com/chstack/chorm"

// GenerateModelOptions control model code generation.
type GenerateModelOptions struct {
	PackageName string // package clause, defaults to models
	ModelName   string // struct name, defaults to DeriveModelName(table)
	Register    bool   // emit an init() that registers the model for schema sync
	Priority    int    // registration priority, defaults to 100
}

// GenerateModel introspects a live table and renders a Go model for it.
func (in *Introspector) GenerateModel(ctx context.Context, table string, opts *GenerateModelOptions) ([]byte, error) {
	desc, err := in.DescribeTable(ctx, table)
	if err != nil {
		if desc, err = in.ListColumns(ctx, table); err != nil {
			return nil, err
		}
	}
	return GenerateModelSource(table, desc, opts)
}

// GenerateModelSource renders gofmt-formatted Go source declaring a model
// struct for the described table. Types come back verbatim in the field tags,
// so the generated model recreates the table exactly.
func GenerateModelSource(table string, desc []ColumnDescription, opts *GenerateModelOptions) ([]byte, error) {
	if len(desc) == 0 {
		return nil, fmt.Errorf("table %s has no columns to generate from", table)
	}
	if opts == nil {
		opts = &GenerateModelOptions{}
	}
	pkg := opts.PackageName
	if pkg == "" {
		pkg = "models"
	}
	name := opts.ModelName
	if name == "" {
		name = DeriveModelName(table)
	}
	priority := opts.Priority
	if priority == 0 {
		priority = 100
	}

	imports := map[string]bool{}
	for _, d := range desc {
		ParseType(d.Type).goImports(imports)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by chormgen. DO NOT EDIT.\n\npackage %s\n\n", pkg)
	writeModelImports(&b, imports)

	fmt.Fprintf(&b, "// %s mirrors ClickHouse table %s.\n", name, RenderTableName(table))
	fmt.Fprintf(&b, "type %s struct {\n", name)
	fmt.Fprintf(&b, "\tchorm.CHModel `ch:%s`\n\n", strconv.Quote("table:"+tableTagName(table)))

	seen := map[string]bool{"CHModel": true}
	for i, d := range desc {
		field := exportedFieldName(d.Name)
		if field == "" {
			field = "Column" + strconv.Itoa(i+1)
		}
		for seen[field] {
			field += strconv.Itoa(i + 1)
		}
		seen[field] = true

		line := fmt.Sprintf("\t%s %s `ch:%s`", field, ParseType(d.Type).GoType(), strconv.Quote(columnTag(d)))
		if d.Comment != "" {
			line += " // " + strings.ReplaceAll(d.Comment, "\n", " ")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("}\n")

	if opts.Register {
		fmt.Fprintf(&b, "\nfunc init() {\n\tchorm.RegisterModel((*%s)(nil), %d)\n}\n", name, priority)
	}

	formatted, err := format.Source(b.Bytes())
	if err != nil {
		return b.Bytes(), fmt.Errorf("generated source for %s does not format: %w", table, err)
	}
	return formatted, nil
}

func writeModelImports(b *bytes.Buffer, typeImports map[string]bool) {
	var stdlib, thirdParty []string
	for path := range typeImports {
		if strings.Contains(path, ".") {
			thirdParty = append(thirdParty, path)
		} else {
			stdlib = append(stdlib, path)
		}
	}
	thirdParty = append(thirdParty, modulePath)
	sort.Strings(stdlib)
	sort.Strings(thirdParty)

	b.WriteString("import (\n")
	for _, path := range stdlib {
		fmt.Fprintf(b, "\t%q\n", path)
	}
	if len(stdlib) > 0 {
		b.WriteByte('\n')
	}
	for _, path := range thirdParty {
		fmt.Fprintf(b, "\t%q\n", path)
	}
	b.WriteString(")\n\n")
}

// columnTag builds the ch tag of a generated field. The server-reported type
// is carried verbatim; default clauses and codecs survive the round trip.
func columnTag(d ColumnDescription) string {
	parts := []string{d.Name, "type:" + d.Type}
	if kind := normalizeDefaultKind(d.DefaultType); kind != "" && d.DefaultExpression != "" {
		parts = append(parts, strings.ToLower(kind)+":"+d.DefaultExpression)
	}
	if codec := stripCodecWrapper(d.CodecExpression); codec != "" {
		parts = append(parts, "codec:"+codec)
	}
	return strings.Join(parts, ",")
}

func tableTagName(table string) string {
	db, tbl := SplitTableName(strings.TrimSpace(table))
	if db != "" {
		return db + "." + tbl
	}
	return tbl
}

var commonInitialisms = map[string]string{
	"id": "ID", "uuid": "UUID", "url": "URL", "uri": "URI",
	"ip": "IP", "api": "API", "http": "HTTP", "sql": "SQL", "json": "JSON",
}

// exportedFieldName converts a column name to an exported Go field name,
// upgrading common initialisms: user_id becomes UserID.
func exportedFieldName(column string) string {
	parts := splitIdentWords(column)
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if up, ok := commonInitialisms[strings.ToLower(p)]; ok {
			b.WriteString(up)
			continue
		}
		b.WriteString(capitalize(p))
	}
	name := b.String()
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "Col" + name
	}
	return name
}
