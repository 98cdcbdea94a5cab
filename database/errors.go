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
	"database/sql"
	"errors"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoTableErr
	ExistTableErr
	NoDatabaseErr
	ExistDatabaseErr
	NoColumnErr
	ExistColumnErr
	NoIndexErr
	ExistIndexErr
	SyntaxErr
	TypeMismatchErr
	CannotParseErr
	TimeoutErr
	TooManyQueriesErr
	TooManyPartsErr
	MemoryLimitErr
	ReadonlyErr
	AuthFailedErr
	NetworkErr
)

// IsSqlError classifies an error returned by the client. Server exceptions
// are matched by their ClickHouse error code first; anything else falls back
// to message matching. The error itself is never altered or retried here,
// callers decide what to do with the classification.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true, NoRowsErr
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		switch chErr.Code {
		case 60: // UNKNOWN_TABLE
			return true, NoTableErr
		case 57: // TABLE_ALREADY_EXISTS
			return true, ExistTableErr
		case 81: // UNKNOWN_DATABASE
			return true, NoDatabaseErr
		case 82: // DATABASE_ALREADY_EXISTS
			return true, ExistDatabaseErr
		case 10, 16, 47: // NOT_FOUND_COLUMN_IN_BLOCK, NO_SUCH_COLUMN_IN_TABLE, UNKNOWN_IDENTIFIER
			return true, NoColumnErr
		case 15: // DUPLICATE_COLUMN
			return true, ExistColumnErr
		case 62: // SYNTAX_ERROR
			return true, SyntaxErr
		case 44, 50, 53, 70: // ILLEGAL_COLUMN, UNKNOWN_TYPE, TYPE_MISMATCH, CANNOT_CONVERT_TYPE
			return true, TypeMismatchErr
		case 6, 26, 27, 38, 41, 72, 117: // CANNOT_PARSE_* family, INCORRECT_DATA
			return true, CannotParseErr
		case 159, 209: // TIMEOUT_EXCEEDED, SOCKET_TIMEOUT
			return true, TimeoutErr
		case 202: // TOO_MANY_SIMULTANEOUS_QUERIES
			return true, TooManyQueriesErr
		case 252: // TOO_MANY_PARTS
			return true, TooManyPartsErr
		case 241: // MEMORY_LIMIT_EXCEEDED
			return true, MemoryLimitErr
		case 164: // READONLY
			return true, ReadonlyErr
		case 192, 193, 497, 516: // UNKNOWN_USER, WRONG_PASSWORD, ACCESS_DENIED, AUTHENTICATION_FAILED
			return true, AuthFailedErr
		default:
			return true, UnknownErr
		}
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "unknown table") ||
		(strings.Contains(s, "table") && strings.Contains(s, "doesn't exist")) ||
		(strings.Contains(s, "table") && strings.Contains(s, "does not exist")) {
		return true, NoTableErr
	}
	if strings.Contains(s, "table") && strings.Contains(s, "already exists") {
		return true, ExistTableErr
	}
	if strings.Contains(s, "unknown database") ||
		(strings.Contains(s, "database") && strings.Contains(s, "doesn't exist")) {
		return true, NoDatabaseErr
	}
	if strings.Contains(s, "no such column") ||
		strings.Contains(s, "unknown identifier") ||
		strings.Contains(s, "missing columns") {
		return true, NoColumnErr
	}
	if strings.Contains(s, "duplicate column") ||
		(strings.Contains(s, "column") && strings.Contains(s, "already exists")) {
		return true, ExistColumnErr
	}
	if strings.Contains(s, "index with this name already exists") {
		return true, ExistIndexErr
	}
	if strings.Contains(s, "cannot find index") ||
		strings.Contains(s, "no such index") {
		return true, NoIndexErr
	}
	if strings.Contains(s, "syntax error") {
		return true, SyntaxErr
	}
	if strings.Contains(s, "type mismatch") ||
		strings.Contains(s, "cannot convert") ||
		strings.Contains(s, "illegal type") {
		return true, TypeMismatchErr
	}
	if strings.Contains(s, "cannot parse") ||
		strings.Contains(s, "incorrect data") {
		return true, CannotParseErr
	}
	if strings.Contains(s, "timeout exceeded") ||
		strings.Contains(s, "i/o timeout") ||
		strings.Contains(s, "deadline exceeded") {
		return true, TimeoutErr
	}
	if strings.Contains(s, "too many parts") {
		return true, TooManyPartsErr
	}
	if strings.Contains(s, "too many simultaneous queries") {
		return true, TooManyQueriesErr
	}
	if strings.Contains(s, "memory limit") {
		return true, MemoryLimitErr
	}
	if strings.Contains(s, "readonly") || strings.Contains(s, "read-only mode") {
		return true, ReadonlyErr
	}
	if strings.Contains(s, "authentication failed") ||
		strings.Contains(s, "wrong password") ||
		strings.Contains(s, "access denied") {
		return true, AuthFailedErr
	}
	if strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "unexpected eof") {
		return true, NetworkErr
	}
	return false, UnknownErr
}
