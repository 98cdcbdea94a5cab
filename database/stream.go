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
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// StreamFormat names a ClickHouse input format for streaming inserts. Any
// format the server accepts can be passed; these are the common ones.
type StreamFormat string

const (
	FormatCSV                   StreamFormat = "CSV"
	FormatCSVWithNames          StreamFormat = "CSVWithNames"
	FormatTabSeparated          StreamFormat = "TabSeparated"
	FormatTabSeparatedWithNames StreamFormat = "TabSeparatedWithNames"
	FormatJSONEachRow           StreamFormat = "JSONEachRow"
)

// StreamOptions control a single streaming insert. A nil options argument
// uses the configured stream defaults; a non-nil one is taken as given, with
// only Format, Compression and QueryID falling back when empty.
type StreamOptions struct {
	Format             StreamFormat
	Compression        string // gzip, zstd or none; compresses the request body
	AllowErrorsRatio   float64
	BestEffortDateTime bool
	WaitForAsyncInsert bool
	CountAfter         bool
	QueryID            string
	Settings           map[string]string // extra per-request server settings
}

// StreamResult reports the outcome of a streaming insert.
type StreamResult struct {
	QueryID   string
	RowsAfter int64 // table row count after the insert, -1 when not counted
}

// Streamer uploads bulk data through the ClickHouse HTTP interface. The HTTP
// path exists alongside the native client because it takes a raw byte stream:
// a CSV export can be piped into the server without parsing it client-side.
type Streamer struct {
	conn   *ConnectionConfig
	stream *StreamConfig
	client *http.Client
	logger Logger
}

// NewStreamer builds a streamer from connection and stream settings. Nil
// arguments use the package defaults. RequestTimeout bounds whole uploads;
// zero means unbounded, which suits multi-gigabyte streams.
func NewStreamer(conn *ConnectionConfig, stream *StreamConfig) *Streamer {
	if conn == nil {
		conn = DefaultConnectionConfig()
	}
	if stream == nil {
		stream = DefaultStreamConfig()
	}
	return &Streamer{
		conn:   conn,
		stream: stream,
		client: &http.Client{Timeout: stream.RequestTimeout},
		logger: GetLogger(),
	}
}

// StreamInsert streams body into table. The body must already be encoded in
// the chosen format; the INSERT preamble is prepended on the wire. A non-OK
// response surfaces with the server's error text.
func (s *Streamer) StreamInsert(ctx context.Context, table string, body io.Reader, opts *StreamOptions) (*StreamResult, error) {
	o := s.resolveOptions(opts)
	if o.QueryID == "" {
		o.QueryID = s.newQueryID()
	}

	params := url.Values{}
	if s.conn.Database != "" {
		params.Set("database", s.conn.Database)
	}
	params.Set("query_id", o.QueryID)
	if o.BestEffortDateTime {
		params.Set("date_time_input_format", "best_effort")
	}
	if o.AllowErrorsRatio > 0 {
		params.Set("input_format_allow_errors_ratio", strconv.FormatFloat(o.AllowErrorsRatio, 'f', -1, 64))
	}
	if o.WaitForAsyncInsert {
		params.Set("wait_for_async_insert", "1")
		params.Set("input_format_parallel_parsing", "1")
	}
	for k, v := range o.Settings {
		params.Set(k, v)
	}

	preamble := fmt.Sprintf("INSERT INTO %s FORMAT %s\n", RenderTableName(table), o.Format)
	payload := io.MultiReader(strings.NewReader(preamble), body)

	var encoding string
	switch strings.ToLower(o.Compression) {
	case "", "none":
	case "gzip":
		payload = compressGzip(payload)
		encoding = "gzip"
	case "zstd":
		var err error
		if payload, err = compressZstd(payload); err != nil {
			return nil, err
		}
		encoding = "zstd"
	default:
		return nil, fmt.Errorf("unsupported stream compression %q", o.Compression)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL()+"?"+params.Encode(), payload)
	if err != nil {
		return nil, err
	}
	if s.conn.Username != "" {
		req.SetBasicAuth(s.conn.Username, s.conn.Password)
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream insert into %s: %w", table, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("stream insert into %s: HTTP %d: %s", table, resp.StatusCode, strings.TrimSpace(string(text)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	result := &StreamResult{QueryID: o.QueryID, RowsAfter: -1}
	if o.CountAfter {
		if n, err := s.countRows(ctx, table); err == nil {
			result.RowsAfter = n
		} else {
			s.logger.Debug("Post-insert row count failed", "table", table, "error", err.Error())
		}
	}
	return result, nil
}

// StreamFile streams a file from disk, e.g. a CSV export.
func (s *Streamer) StreamFile(ctx context.Context, table, path string, opts *StreamOptions) (*StreamResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.StreamInsert(ctx, table, f, opts)
}

// StreamJSONEachRow encodes the rows as JSONEachRow and streams them. Rows
// are encoded on the fly through a pipe, so the full payload never sits in
// memory.
func (s *Streamer) StreamJSONEachRow(ctx context.Context, table string, rows ...any) (*StreamResult, error) {
	pr, pw := io.Pipe()
	go func() {
		enc := gojson.NewEncoder(pw)
		enc.SetEscapeHTML(false)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()

	opts := &StreamOptions{
		Format:             FormatJSONEachRow,
		Compression:        s.stream.Compression,
		AllowErrorsRatio:   s.stream.AllowErrorsRatio,
		BestEffortDateTime: s.stream.BestEffortDateTime,
		WaitForAsyncInsert: s.stream.WaitForAsyncInsert,
		CountAfter:         s.stream.CountAfter,
	}
	return s.StreamInsert(ctx, table, pr, opts)
}

func (s *Streamer) resolveOptions(opts *StreamOptions) StreamOptions {
	if opts == nil {
		return StreamOptions{
			Format:             StreamFormat(s.stream.Format),
			Compression:        s.stream.Compression,
			AllowErrorsRatio:   s.stream.AllowErrorsRatio,
			BestEffortDateTime: s.stream.BestEffortDateTime,
			WaitForAsyncInsert: s.stream.WaitForAsyncInsert,
			CountAfter:         s.stream.CountAfter,
		}
	}
	o := *opts
	if o.Format == "" {
		o.Format = StreamFormat(s.stream.Format)
	}
	if o.Format == "" {
		o.Format = FormatCSVWithNames
	}
	if o.Compression == "" {
		o.Compression = s.stream.Compression
	}
	return o
}

func (s *Streamer) baseURL() string {
	scheme := "http"
	if s.conn.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, s.conn.Host, s.conn.HTTPPort)
}

func (s *Streamer) newQueryID() string {
	prefix := s.stream.QueryIDPrefix
	if prefix == "" {
		prefix = "etl_"
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// countRows asks the server for the table's row count over the same HTTP
// interface. Best effort: the insert has already succeeded at this point.
func (s *Streamer) countRows(ctx context.Context, table string) (int64, error) {
	params := url.Values{}
	if s.conn.Database != "" {
		params.Set("database", s.conn.Database)
	}
	query := "SELECT count() FROM " + RenderTableName(table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL()+"?"+params.Encode(), strings.NewReader(query))
	if err != nil {
		return 0, err
	}
	if s.conn.Username != "" {
		req.SetBasicAuth(s.conn.Username, s.conn.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	text, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("count %s: HTTP %d: %s", table, resp.StatusCode, strings.TrimSpace(string(text)))
	}
	return strconv.ParseInt(strings.TrimSpace(string(text)), 10, 64)
}

func compressGzip(r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		if _, err := io.Copy(gz, r); err != nil {
			gz.Close()
			pw.CloseWithError(err)
			return
		}
		if err := gz.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr
}

func compressZstd(r io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()
	enc, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		pw.Close()
		return nil, err
	}
	go func() {
		if _, err := io.Copy(enc, r); err != nil {
			enc.Close()
			pw.CloseWithError(err)
			return
		}
		if err := enc.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr, nil
}
