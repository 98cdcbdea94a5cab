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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentPlain(t *testing.T) {
	cases := map[string]string{
		"id":          `"id"`,
		"events":      `"events"`,
		"ORDER":       `"ORDER"`,
		"weird name":  `"weird name"`,
		"db.embedded": `"db.embedded"`,
		"Անուն":       `"Անուն"`,
		"列名":          `"列名"`,
		"":            `""`,
	}
	for in, want := range cases {
		assert.Equal(t, want, QuoteIdent(in))
	}
}

func TestQuoteIdentDoublesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	assert.Equal(t, `""""`, QuoteIdent(`"`))
	assert.Equal(t, `"say ""hi"""`, QuoteIdent(`say "hi"`))
}

func TestUnquoteIdentInverse(t *testing.T) {
	// UnquoteIdent(QuoteIdent(s)) == s must hold for every s.
	inputs := []string{
		"id", "", `"`, `""`, `a"b`, `"already quoted"`, "Անուն",
		"with space", "trailing\"", "\"leading", "mixed `'\" quotes",
	}
	for _, s := range inputs {
		require.Equal(t, s, UnquoteIdent(QuoteIdent(s)), "round trip for %q", s)
	}
}

func TestUnquoteIdentPassthrough(t *testing.T) {
	// Not wrapped in double quotes: returned unchanged.
	assert.Equal(t, "plain", UnquoteIdent("plain"))
	assert.Equal(t, "`tick`", UnquoteIdent("`tick`"))
	assert.Equal(t, `"`, UnquoteIdent(`"`))
}

func TestQuoteIdentDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	}
}

func TestStripAnyQuotes(t *testing.T) {
	assert.Equal(t, "events", StripAnyQuotes(`"events"`))
	assert.Equal(t, "events", StripAnyQuotes("`events`"))
	assert.Equal(t, "events", StripAnyQuotes("'events'"))
	assert.Equal(t, "events", StripAnyQuotes("events"))
	// Only one balanced layer is removed, mismatched quotes stay.
	assert.Equal(t, `"events"`, StripAnyQuotes(`""events""`))
	assert.Equal(t, `"events'`, StripAnyQuotes(`"events'`))
	assert.Equal(t, "", StripAnyQuotes(""))
	assert.Equal(t, `"`, StripAnyQuotes(`"`))
}

func TestRenderTableName(t *testing.T) {
	assert.Equal(t, `"events"`, RenderTableName("events"))
	assert.Equal(t, `"logs"."events"`, RenderTableName("logs.events"))
	// Split happens at the first dot only.
	assert.Equal(t, `"logs"."daily.events"`, RenderTableName("logs.daily.events"))
	// Pre-quoted parts are stripped and requoted.
	assert.Equal(t, `"logs"."events"`, RenderTableName("`logs`.`events`"))
	assert.Equal(t, `"My Table"`, RenderTableName(`"My Table"`))
}

func TestSplitTableName(t *testing.T) {
	db, tbl := SplitTableName("logs.events")
	assert.Equal(t, "logs", db)
	assert.Equal(t, "events", tbl)

	db, tbl = SplitTableName(`"events"`)
	assert.Equal(t, "", db)
	assert.Equal(t, "events", tbl)
}

func TestQuoteIdentList(t *testing.T) {
	assert.Equal(t, `"id", "ts", "group"`, QuoteIdentList([]string{"id", "ts", "group"}))
	assert.Equal(t, "", QuoteIdentList(nil))
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, "'plain'", QuoteString("plain"))
	assert.Equal(t, `'it\'s'`, QuoteString("it's"))
	assert.Equal(t, `'a\\b'`, QuoteString(`a\b`))
}

func TestIdent(t *testing.T) {
	assert.Equal(t, `"group"`, Ident("group").String())
	assert.True(t, Ident("group").Safe())
	assert.False(t, Ident(`a"b`).Safe())
}
