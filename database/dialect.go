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

import "strings"

// Ident is a ClickHouse identifier (database, table, or column name) that
// renders itself quoted. It can be passed wherever rendered SQL fragments are
// assembled.
type Ident string

// String renders the identifier with SQL-standard double quotes.
func (i Ident) String() string { return QuoteIdent(string(i)) }

// Safe reports whether the identifier contains no quote characters, i.e.
// quoting it is a plain wrap without escaping.
func (i Ident) Safe() bool { return !strings.ContainsRune(string(i), '"') }

// QuoteIdent wraps an identifier in double quotes, doubling any embedded
// double quote. It accepts any string, including reserved words, spaces,
// dots, and non-ASCII scripts, and never modifies the identifier itself:
// UnquoteIdent(QuoteIdent(s)) == s for every s.
func QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// UnquoteIdent reverses QuoteIdent. Input that is not wrapped in double
// quotes is returned unchanged, so the function is total.
func UnquoteIdent(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return strings.ReplaceAll(ident[1:len(ident)-1], `""`, `"`)
	}
	return ident
}

// StripAnyQuotes removes one balanced layer of double quotes, backquotes, or
// single quotes from an identifier. Unbalanced or unquoted input is returned
// as is. Escapes inside the quotes are not interpreted; this is meant for
// identifiers arriving from user configuration, not for parsing SQL.
func StripAnyQuotes(ident string) string {
	if len(ident) >= 2 {
		first, last := ident[0], ident[len(ident)-1]
		if first == last && (first == '"' || first == '`' || first == '\'') {
			return ident[1 : len(ident)-1]
		}
	}
	return ident
}

// RenderTableName renders a bare or database-qualified table name with both
// parts quoted. The name is split at the first dot only, so
// "logs.daily.events" resolves to database "logs" and table "daily.events".
// A pre-quoted part has its outer quotes stripped before requoting, which
// keeps the function idempotent for already rendered names.
func RenderTableName(name string) string {
	if db, tbl, ok := strings.Cut(name, "."); ok {
		return QuoteIdent(StripAnyQuotes(db)) + "." + QuoteIdent(StripAnyQuotes(tbl))
	}
	return QuoteIdent(StripAnyQuotes(name))
}

// SplitTableName splits a possibly qualified, possibly quoted table name into
// its database and table parts. The database part is empty for bare names.
func SplitTableName(name string) (string, string) {
	if db, tbl, ok := strings.Cut(name, "."); ok {
		return StripAnyQuotes(db), StripAnyQuotes(tbl)
	}
	return "", StripAnyQuotes(name)
}

// QuoteIdentList renders a comma-separated list of quoted identifiers, the
// form used in column lists and ORDER BY / PRIMARY KEY clauses.
func QuoteIdentList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = QuoteIdent(ident)
	}
	return strings.Join(quoted, ", ")
}

// QuoteString renders a ClickHouse string literal with single quotes,
// escaping embedded quotes and backslashes. Used for COMMENT clauses and
// system-table lookups; data values always travel as bound parameters.
func QuoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
