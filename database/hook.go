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
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/fatih/color"
)

const (
	ansiReset     = "\x1b[0m"
	ansiRed       = "\x1b[31m"
	ansiYellow    = "\x1b[33m"
	ansiGreen     = "\x1b[32m"
	ansiBlue      = "\x1b[34m"
	ansiMagenta   = "\x1b[35m"
	ansiCyan      = "\x1b[36m"
	ansiBGGreen   = "\x1b[42;97m"
	ansiBGYellow  = "\x1b[43;97m"
	ansiBGBlue    = "\x1b[44;97m"
	ansiBGMagenta = "\x1b[45;97m"
	ansiBGRed     = "\x1b[41;97m"
)

var chSqlSilentMode bool

// EnableSqlSilent suppresses all statement logging, regardless of
// configuration or the CHDEBUG environment variable.
func EnableSqlSilent(b bool) {
	chSqlSilentMode = b
}

func colorWrap(s, code string) string { return fmt.Sprintf("%s%s%s", code, s, ansiReset) }

func backgroundColorWrap(s, code string) string { return fmt.Sprintf("%s%s%s", code, s, ansiReset) }

// queryTrace emits per-statement debug lines and slow-statement warnings.
// The native client has no hook API, so the manager wraps its connection in
// a loggingConn that reports here.
type queryTrace struct {
	envName  string // CHDEBUG: empty/0 off, 1 errors only, 2 every statement
	enabled  bool
	verbose  bool
	slowTime time.Duration
	writer   io.Writer
	logger   Logger
}

func (t *queryTrace) observe(start time.Time, query string, err error) {
	if chSqlSilentMode {
		return
	}
	dur := time.Since(start)

	if err == nil && t.slowTime > 0 && dur > t.slowTime {
		args := []interface{}{
			time.Now().Format("2006-01-02 15:04:05.000"),
			colorWrap(fmt.Sprintf("%15s", "[CH_SLOW]"), ansiYellow),
			fmt.Sprintf("%17s", dur.Round(time.Microsecond)),
			"  ", formatOperationBackgroundColor(query),
		}
		_, _ = fmt.Fprintln(t.writer, args...)
		if t.logger != nil {
			t.logger.Warn("\x1b[33;5mDatabase slow query detected:\x1b[0m",
				"duration", dur,
				"slow_threshold", t.slowTime,
				"query", query,
			)
		}
		return
	}

	enabled := t.enabled
	verbose := t.verbose
	if env, ok := os.LookupEnv(t.envName); ok {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}

	if !enabled {
		return
	}

	if !verbose && err == nil {
		return
	}

	args := []interface{}{
		time.Now().Format("2006-01-02 15:04:05.000"),
		colorWrap(fmt.Sprintf("%15s", "[CH]"), ansiCyan),
		fmt.Sprintf("%17s", dur.Round(time.Microsecond)),
		"  ", formatOperationColor(query),
	}

	if err != nil {
		typ := reflect.TypeOf(err).String()
		args = append(args,
			"\t",
			color.New(color.BgRed).Sprintf(" %s ", typ+": "+err.Error()),
		)
	}
	_, _ = fmt.Fprintln(t.writer, args...)
}

// operationOf extracts the leading SQL keyword, upper-cased.
func operationOf(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func formatOperationColor(query string) string {
	switch operationOf(query) {
	case "SELECT", "DESCRIBE", "EXISTS", "SHOW":
		return colorWrap(query, ansiGreen)
	case "INSERT":
		return colorWrap(query, ansiBlue)
	case "CREATE":
		return colorWrap(query, ansiYellow)
	case "ALTER", "DROP", "TRUNCATE", "OPTIMIZE":
		return colorWrap(query, ansiMagenta)
	default:
		return colorWrap(query, ansiRed)
	}
}

func formatOperationBackgroundColor(query string) string {
	switch operationOf(query) {
	case "SELECT", "DESCRIBE", "EXISTS", "SHOW":
		return backgroundColorWrap(query, ansiBGGreen)
	case "INSERT":
		return backgroundColorWrap(query, ansiBGBlue)
	case "CREATE":
		return backgroundColorWrap(query, ansiBGYellow)
	case "ALTER", "DROP", "TRUNCATE", "OPTIMIZE":
		return backgroundColorWrap(query, ansiBGMagenta)
	default:
		return backgroundColorWrap(query, ansiBGRed)
	}
}

// loggingConn wraps a driver.Conn and reports every statement to a
// queryTrace. Lifecycle methods pass through to the embedded connection.
type loggingConn struct {
	driver.Conn
	trace *queryTrace
}

func newLoggingConn(conn driver.Conn, cfg *ConnectionConfig, logger Logger) driver.Conn {
	return &loggingConn{
		Conn: conn,
		trace: &queryTrace{
			envName:  "CHDEBUG",
			enabled:  cfg.EnableQueryLog,
			verbose:  cfg.EnableQueryLog,
			slowTime: cfg.SlowQueryTime,
			writer:   os.Stdout,
			logger:   logger,
		},
	}
}

func (c *loggingConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	start := time.Now()
	rows, err := c.Conn.Query(ctx, query, args...)
	c.trace.observe(start, query, err)
	return rows, err
}

func (c *loggingConn) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	start := time.Now()
	row := c.Conn.QueryRow(ctx, query, args...)
	c.trace.observe(start, query, row.Err())
	return row
}

func (c *loggingConn) Select(ctx context.Context, dest any, query string, args ...any) error {
	start := time.Now()
	err := c.Conn.Select(ctx, dest, query, args...)
	c.trace.observe(start, query, err)
	return err
}

func (c *loggingConn) Exec(ctx context.Context, query string, args ...any) error {
	start := time.Now()
	err := c.Conn.Exec(ctx, query, args...)
	c.trace.observe(start, query, err)
	return err
}

func (c *loggingConn) AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error {
	start := time.Now()
	err := c.Conn.AsyncInsert(ctx, query, wait, args...)
	c.trace.observe(start, query, err)
	return err
}

func (c *loggingConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	// Batches are observed at prepare time; the client sends the block later.
	start := time.Now()
	batch, err := c.Conn.PrepareBatch(ctx, query, opts...)
	c.trace.observe(start, query, err)
	return batch, err
}
