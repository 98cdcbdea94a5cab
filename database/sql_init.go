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
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"
)

// SQLInitManager discovers and executes SQL files to seed data. Files live
// under <root>/common and <root>/environments/<env>; common files run first,
// each directory ordered by a numeric filename prefix. Files are Go
// templates with {{.DATABASE}}, {{.CLUSTER}}, {{.ENVIRONMENT}}, {{.TIMESTAMP}}
// and every environment variable available.
//
// ClickHouse has no transactions, so statements execute one by one and a
// failure stops the run where it happened. Seed files should therefore be
// idempotent: INSERT into ReplacingMergeTree tables, CREATE ... IF NOT EXISTS.
type SQLInitManager struct {
	conn        Querier
	environment string
	sqlRootPath string
	database    string
	cluster     string
	logger      Logger
	lastResults []ExecutionResult
}

// SQLFileInfo describes a SQL file to be executed during initialization.
type SQLFileInfo struct {
	Path        string
	Name        string
	Order       int
	Environment string
	ModTime     time.Time
}

// ExecutionResult contains the outcome of executing a single SQL file.
type ExecutionResult struct {
	File       string
	Success    bool
	Error      error
	Duration   time.Duration
	Statements int
}

// NewSQLInitManager creates a SQL initializer for the given environment.
// The root path and template context default from the global configuration
// when the package has been initialized through InitDB.
func NewSQLInitManager(conn Querier, environment string) *SQLInitManager {
	m := &SQLInitManager{
		conn:        conn,
		environment: environment,
		sqlRootPath: "configs/sql",
		logger:      GetLogger(),
	}
	if globalConfig != nil {
		if globalConfig.DataInitConfig.Filepath != "" {
			m.sqlRootPath = globalConfig.DataInitConfig.Filepath
		}
		m.database = globalConfig.ConnectionConfig.Database
		m.cluster = globalConfig.ConnectionConfig.Cluster
	}
	return m
}

// SetSQLRootPath sets the root directory from which SQL files are loaded.
func (s *SQLInitManager) SetSQLRootPath(path string) {
	s.sqlRootPath = path
}

// SetTemplateContext sets the database and cluster names available to SQL
// templates, overriding what the global configuration provided.
func (s *SQLInitManager) SetTemplateContext(database, cluster string) {
	s.database = database
	s.cluster = cluster
}

// ExecuteInitialization runs all discovered SQL files in the correct order.
func (s *SQLInitManager) ExecuteInitialization(ctx context.Context) error {
	s.logger.Info("Starting SQL initialization", "environment", s.environment, "sql_path", s.sqlRootPath)

	files, err := s.GetSQLFiles()
	if err != nil {
		return fmt.Errorf("failed to get SQL files: %w", err)
	}

	if len(files) == 0 {
		s.logger.Info("No SQL files found to execute")
		return nil
	}

	s.lastResults = s.lastResults[:0]
	for _, file := range files {
		result := s.executeFile(ctx, file)
		s.lastResults = append(s.lastResults, result)

		if !result.Success {
			s.logger.Error("SQL file execution failed", "file", result.File, "error", result.Error.Error())
			return fmt.Errorf("SQL file execution failed %s: %w", result.File, result.Error)
		}

		s.logger.Info("SQL file executed successfully",
			"file", result.File, "duration", result.Duration.String(), "statements", result.Statements)
	}

	s.logger.Info("SQL initialization completed", "total_files", len(s.lastResults), "environment", s.environment)
	return nil
}

// GetSQLFiles returns the list of SQL files from common and environment dirs.
func (s *SQLInitManager) GetSQLFiles() ([]SQLFileInfo, error) {
	var files []SQLFileInfo

	commonFiles, err := s.getFilesFromDir(filepath.Join(s.sqlRootPath, "common"), "common")
	if err != nil {
		return nil, fmt.Errorf("failed to get common SQL files: %w", err)
	}
	files = append(files, commonFiles...)

	envPath := filepath.Join(s.sqlRootPath, "environments", s.environment)
	if _, err := os.Stat(envPath); err == nil {
		envFiles, err := s.getFilesFromDir(envPath, s.environment)
		if err != nil {
			return nil, fmt.Errorf("failed to get environment SQL files: %w", err)
		}
		files = append(files, envFiles...)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Environment != files[j].Environment {
			return files[i].Environment == "common"
		}
		if files[i].Order != files[j].Order {
			return files[i].Order < files[j].Order
		}
		return files[i].Name < files[j].Name
	})

	return files, nil
}

func (s *SQLInitManager) getFilesFromDir(dir, environment string) ([]SQLFileInfo, error) {
	var files []SQLFileInfo

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, SQLFileInfo{
			Path:        path,
			Name:        d.Name(),
			Order:       s.parseFileOrder(d.Name()),
			Environment: environment,
			ModTime:     info.ModTime(),
		})

		return nil
	})

	return files, err
}

var fileOrderPattern = regexp.MustCompile(`^(\d+)_`)

func (s *SQLInitManager) parseFileOrder(filename string) int {
	matches := fileOrderPattern.FindStringSubmatch(filename)
	if len(matches) > 1 {
		var order int
		_, _ = fmt.Sscanf(matches[1], "%d", &order)
		return order
	}
	return 999
}

func (s *SQLInitManager) executeFile(ctx context.Context, file SQLFileInfo) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{
		File:    file.Path,
		Success: false,
	}

	content, err := os.ReadFile(file.Path)
	if err != nil {
		result.Error = fmt.Errorf("failed to read file: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	rendered, err := s.renderTemplate(file.Name, string(content))
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	statements := s.splitSQLStatements(rendered)
	if len(statements) == 0 {
		result.Success = true
		result.Duration = time.Since(start)
		return result
	}

	for _, stmt := range statements {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			result.Error = fmt.Errorf("failed to execute SQL statement: %s, error: %w", stmt, err)
			result.Duration = time.Since(start)
			return result
		}
		result.Statements++
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// renderTemplate expands template directives in a SQL file. Referencing an
// undefined key is an error: a silently empty database or cluster name would
// produce valid SQL against the wrong target.
func (s *SQLInitManager) renderTemplate(name, content string) (string, error) {
	if !strings.Contains(content, "{{") {
		return content, nil
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	data := make(map[string]string)
	for _, env := range os.Environ() {
		if k, v, ok := strings.Cut(env, "="); ok {
			data[k] = v
		}
	}
	data["DATABASE"] = s.database
	data["CLUSTER"] = s.cluster
	data["ENVIRONMENT"] = s.environment
	data["TIMESTAMP"] = time.Now().Format("2006-01-02 15:04:05")

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// splitSQLStatements splits a script on top-level semicolons. Quoted strings
// and identifiers keep their semicolons; line and block comments are dropped
// so a commented-out statement never executes. Statements keep their internal
// newlines, which matters for readable multi-line DDL in server logs.
func (s *SQLInitManager) splitSQLStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      byte
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(content); i++ {
		c := content[i]
		if quote != 0 {
			current.WriteByte(c)
			if c == '\\' && quote == '\'' && i+1 < len(content) {
				i++
				current.WriteByte(content[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			current.WriteByte(c)
		case c == '-' && i+1 < len(content) && content[i+1] == '-':
			for i < len(content) && content[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case c == '/' && i+1 < len(content) && content[i+1] == '*':
			i += 2
			for i+1 < len(content) && !(content[i] == '*' && content[i+1] == '/') {
				i++
			}
			i++
		case c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()

	return statements
}

// GetExecutionHistory returns the results of the most recent initialization
// run.
func (s *SQLInitManager) GetExecutionHistory() []ExecutionResult {
	return s.lastResults
}
