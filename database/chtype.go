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
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EnumPair is a single member of an Enum8 or Enum16 column type.
type EnumPair struct {
	Name  string
	Value int16
}

// Type is a ClickHouse column type expression. Simple types carry only Name;
// parameterized types use the remaining fields: Precision/Scale for Decimal,
// Precision for DateTime64, Length for FixedString, Timezone for DateTime and
// DateTime64, Elem for Nullable/Array/LowCardinality and the Map value, Key
// for the Map key, Enum for Enum8/Enum16 members.
type Type struct {
	Name      string
	Precision int
	Scale     int
	Length    int
	Timezone  string
	Key       *Type
	Elem      *Type
	Enum      []EnumPair
}

// String renders the canonical ClickHouse DDL text for the type. The zero
// value renders as String.
func (t Type) String() string {
	switch t.Name {
	case "":
		return "String"
	case "Decimal":
		return fmt.Sprintf("Decimal(%d,%d)", t.Precision, t.Scale)
	case "FixedString":
		return fmt.Sprintf("FixedString(%d)", t.Length)
	case "DateTime":
		if t.Timezone != "" {
			return fmt.Sprintf("DateTime('%s')", t.Timezone)
		}
		return "DateTime"
	case "DateTime64":
		if t.Timezone != "" {
			return fmt.Sprintf("DateTime64(%d, '%s')", t.Precision, t.Timezone)
		}
		return fmt.Sprintf("DateTime64(%d)", t.Precision)
	case "Nullable", "Array", "LowCardinality":
		return fmt.Sprintf("%s(%s)", t.Name, t.Elem)
	case "Map":
		return fmt.Sprintf("Map(%s, %s)", t.Key, t.Elem)
	case "Enum8", "Enum16":
		pairs := make([]string, len(t.Enum))
		for i, p := range t.Enum {
			pairs[i] = fmt.Sprintf("'%s' = %d", p.Name, p.Value)
		}
		return fmt.Sprintf("%s(%s)", t.Name, strings.Join(pairs, ", "))
	default:
		return t.Name
	}
}

// IsNullable reports whether the type is wrapped in Nullable.
func (t Type) IsNullable() bool { return t.Name == "Nullable" }

// Unwrap strips Nullable and LowCardinality wrappers down to the stored type.
func (t Type) Unwrap() Type {
	for (t.Name == "Nullable" || t.Name == "LowCardinality") && t.Elem != nil {
		t = *t.Elem
	}
	return t
}

var simpleTypeNames = map[string]string{
	"int8": "Int8", "int16": "Int16", "int32": "Int32", "int64": "Int64",
	"uint8": "UInt8", "uint16": "UInt16", "uint32": "UInt32", "uint64": "UInt64",
	"float32": "Float32", "float64": "Float64",
	"string": "String",
	"uuid":   "UUID",
	"bool":   "Bool", "boolean": "Bool",
	"date": "Date", "date32": "Date32",
	"datetime": "DateTime",
}

var (
	reTypeWrap    = regexp.MustCompile(`(?i)^(nullable|array|lowcardinality)\s*\((.*)\)$`)
	reTypeMap     = regexp.MustCompile(`(?i)^map\s*\((.*)\)$`)
	reTypeEnum    = regexp.MustCompile(`(?i)^(enum8|enum16)\s*\((.*)\)$`)
	reTypeDecimal = regexp.MustCompile(`(?i)^decimal\s*\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)
	reTypeFixed   = regexp.MustCompile(`(?i)^fixedstring\s*\(\s*(\d+)\s*\)$`)
	reTypeDT64    = regexp.MustCompile(`(?i)^datetime64\s*\(\s*(\d+)\s*(?:,\s*'([^']*)'\s*)?\)$`)
	reTypeDT      = regexp.MustCompile(`(?i)^datetime\s*\(\s*'([^']*)'\s*\)$`)
	reEnumMember  = regexp.MustCompile(`^'((?:[^'\\]|\\.)*)'\s*=\s*(-?\d+)$`)
)

var wrapperNames = map[string]string{
	"nullable": "Nullable", "array": "Array", "lowcardinality": "LowCardinality",
}

// ParseType parses a ClickHouse type expression as reported by DESCRIBE TABLE
// or system.columns. Parsing is case-insensitive and whitespace-tolerant, and
// total: unrecognized types degrade to String rather than failing, so schema
// introspection keeps working against newer servers.
func ParseType(s string) Type {
	s = strings.TrimSpace(s)

	if m := reTypeWrap.FindStringSubmatch(s); m != nil {
		inner := ParseType(m[2])
		return Type{Name: wrapperNames[strings.ToLower(m[1])], Elem: &inner}
	}
	if m := reTypeMap.FindStringSubmatch(s); m != nil {
		args := splitTopLevel(m[1], ',')
		if len(args) == 2 {
			k, v := ParseType(args[0]), ParseType(args[1])
			return Type{Name: "Map", Key: &k, Elem: &v}
		}
	}
	if m := reTypeEnum.FindStringSubmatch(s); m != nil {
		name := "Enum8"
		if strings.EqualFold(m[1], "enum16") {
			name = "Enum16"
		}
		var pairs []EnumPair
		for _, member := range splitTopLevel(m[2], ',') {
			pm := reEnumMember.FindStringSubmatch(strings.TrimSpace(member))
			if pm == nil {
				return Type{Name: "String"}
			}
			v, err := strconv.ParseInt(pm[2], 10, 16)
			if err != nil {
				return Type{Name: "String"}
			}
			pairs = append(pairs, EnumPair{Name: pm[1], Value: int16(v)})
		}
		return Type{Name: name, Enum: pairs}
	}
	if m := reTypeDecimal.FindStringSubmatch(s); m != nil {
		p, _ := strconv.Atoi(m[1])
		sc, _ := strconv.Atoi(m[2])
		return Type{Name: "Decimal", Precision: p, Scale: sc}
	}
	if m := reTypeFixed.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Type{Name: "FixedString", Length: n}
	}
	if m := reTypeDT64.FindStringSubmatch(s); m != nil {
		p, _ := strconv.Atoi(m[1])
		return Type{Name: "DateTime64", Precision: p, Timezone: m[2]}
	}
	if m := reTypeDT.FindStringSubmatch(s); m != nil {
		return Type{Name: "DateTime", Timezone: m[1]}
	}

	key := strings.ToLower(s)
	if i := strings.IndexByte(key, ' '); i > 0 {
		key = key[:i]
	}
	if name, ok := simpleTypeNames[key]; ok {
		return Type{Name: name}
	}
	return Type{Name: "String"}
}

// splitTopLevel splits s on sep, ignoring separators inside parentheses and
// single-quoted literals. Used for Map/Enum arguments and tag option lists,
// where type expressions such as Decimal(18,4) embed the separator.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts   []string
		depth   int
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '\'' {
				inQuote = false
			}
		case c == '\'':
			inQuote = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

// GoType returns the Go source type used when generating model code for a
// column of this type. Wrappers map naturally: Nullable to a pointer, Array
// to a slice, LowCardinality to its element.
func (t Type) GoType() string {
	switch t.Name {
	case "Int8":
		return "int8"
	case "Int16":
		return "int16"
	case "Int32":
		return "int32"
	case "Int64":
		return "int64"
	case "UInt8":
		return "uint8"
	case "UInt16":
		return "uint16"
	case "UInt32":
		return "uint32"
	case "UInt64":
		return "uint64"
	case "Float32":
		return "float32"
	case "Float64":
		return "float64"
	case "Bool":
		return "bool"
	case "UUID":
		return "uuid.UUID"
	case "Decimal":
		return "decimal.Decimal"
	case "Date", "Date32", "DateTime", "DateTime64":
		return "time.Time"
	case "Nullable":
		return "*" + t.Elem.GoType()
	case "Array":
		return "[]" + t.Elem.GoType()
	case "LowCardinality":
		return t.Elem.GoType()
	case "Map":
		return "map[" + t.Key.GoType() + "]" + t.Elem.GoType()
	default:
		// String, FixedString, Enum8, Enum16 and anything unknown scan as string.
		return "string"
	}
}

// goImports accumulates the import paths the GoType rendering needs.
func (t Type) goImports(set map[string]bool) {
	switch t.Name {
	case "UUID":
		set["github.com/google/uuid"] = true
	case "Decimal":
		set["github.com/shopspring/decimal"] = true
	case "Date", "Date32", "DateTime", "DateTime64":
		set["time"] = true
	case "Nullable", "Array", "LowCardinality":
		t.Elem.goImports(set)
	case "Map":
		t.Key.goImports(set)
		t.Elem.goImports(set)
	}
}

// TypeOfGo infers the ClickHouse type for a Go value type. It covers the
// mappings model fields rely on when no explicit type tag is present.
// Decimal columns always need an explicit tag: precision and scale cannot be
// inferred from a Go type.
func TypeOfGo(rt reflect.Type) (Type, error) {
	switch {
	case rt == reflect.TypeOf(time.Time{}):
		return Type{Name: "DateTime"}, nil
	case rt.PkgPath() == "github.com/google/uuid" && rt.Name() == "UUID":
		return Type{Name: "UUID"}, nil
	case rt.PkgPath() == "github.com/shopspring/decimal" && rt.Name() == "Decimal":
		return Type{}, fmt.Errorf("decimal field requires an explicit type tag, e.g. type:Decimal(18,4)")
	}

	switch rt.Kind() {
	case reflect.Int8:
		return Type{Name: "Int8"}, nil
	case reflect.Int16:
		return Type{Name: "Int16"}, nil
	case reflect.Int32:
		return Type{Name: "Int32"}, nil
	case reflect.Int64, reflect.Int:
		return Type{Name: "Int64"}, nil
	case reflect.Uint8:
		return Type{Name: "UInt8"}, nil
	case reflect.Uint16:
		return Type{Name: "UInt16"}, nil
	case reflect.Uint32:
		return Type{Name: "UInt32"}, nil
	case reflect.Uint64, reflect.Uint:
		return Type{Name: "UInt64"}, nil
	case reflect.Float32:
		return Type{Name: "Float32"}, nil
	case reflect.Float64:
		return Type{Name: "Float64"}, nil
	case reflect.Bool:
		return Type{Name: "Bool"}, nil
	case reflect.String:
		return Type{Name: "String"}, nil
	case reflect.Pointer:
		inner, err := TypeOfGo(rt.Elem())
		if err != nil {
			return Type{}, err
		}
		return Type{Name: "Nullable", Elem: &inner}, nil
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return Type{Name: "String"}, nil // []byte stores as String
		}
		inner, err := TypeOfGo(rt.Elem())
		if err != nil {
			return Type{}, err
		}
		return Type{Name: "Array", Elem: &inner}, nil
	case reflect.Map:
		key, err := TypeOfGo(rt.Key())
		if err != nil {
			return Type{}, err
		}
		val, err := TypeOfGo(rt.Elem())
		if err != nil {
			return Type{}, err
		}
		return Type{Name: "Map", Key: &key, Elem: &val}, nil
	default:
		return Type{}, fmt.Errorf("cannot infer ClickHouse type for Go type %s, add a type tag", rt)
	}
}
