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
	"regexp"
	"strings"
)

// IndexConstraint describes a data-skipping index on a table. ClickHouse has
// no foreign keys or unique constraints; skipping indexes are the constraint
// layer an analytical schema carries.
type IndexConstraint struct {
	Table       string
	Name        string
	Expression  string
	Type        string // minmax, set(N), bloom_filter, ngrambf_v1(...), tokenbf_v1(...)
	Granularity int
}

// ConstraintName returns the explicit name or a derived one.
func (ic *IndexConstraint) ConstraintName() string {
	if ic.Name != "" {
		return ic.Name
	}
	_, tbl := SplitTableName(ic.Table)
	expr := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, ic.Expression)
	return fmt.Sprintf("idx_%s_%s", tbl, strings.Trim(expr, "_"))
}

// AddSQL returns the ALTER TABLE statement that adds the index.
func (ic *IndexConstraint) AddSQL() string {
	sql := fmt.Sprintf("ALTER TABLE %s ADD INDEX IF NOT EXISTS %s %s TYPE %s",
		RenderTableName(ic.Table), QuoteIdent(ic.ConstraintName()), ic.Expression, ic.Type)
	if ic.Granularity > 0 {
		sql += fmt.Sprintf(" GRANULARITY %d", ic.Granularity)
	}
	return sql
}

// DropSQL returns the ALTER TABLE statement that drops the index.
func (ic *IndexConstraint) DropSQL() string {
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX IF EXISTS %s",
		RenderTableName(ic.Table), QuoteIdent(ic.ConstraintName()))
}

// MaterializeSQL returns the statement that builds the index for parts
// written before the index existed. ADD INDEX only covers future inserts.
func (ic *IndexConstraint) MaterializeSQL() string {
	return fmt.Sprintf("ALTER TABLE %s MATERIALIZE INDEX %s",
		RenderTableName(ic.Table), QuoteIdent(ic.ConstraintName()))
}

// IndexManager manages adding, materializing and validating data-skipping
// indexes.
type IndexManager struct {
	constraints []IndexConstraint
	logger      Logger
}

// NewIndexManager creates a manager with code-defined constraints.
func NewIndexManager(logger Logger) *IndexManager {
	return &IndexManager{
		constraints: getIndexConstraints(),
		logger:      logger,
	}
}

func getIndexConstraints() []IndexConstraint {
	return []IndexConstraint{}
}

// AddAllIndexes iterates through all constraints and adds them, continuing
// past individual failures so one bad definition does not block the rest.
func (im *IndexManager) AddAllIndexes(ctx context.Context, conn Querier) error {
	for _, constraint := range im.constraints {
		if err := conn.Exec(ctx, constraint.AddSQL()); err != nil {
			if im.logger != nil {
				im.logger.Debug("Failed to add skip index", "index", constraint.ConstraintName(), "error", err.Error())
			}
			continue
		}
		if im.logger != nil {
			im.logger.Debug("Successfully added skip index", "index", constraint.ConstraintName())
		}
	}
	return nil
}

// MaterializeAll builds every configured index across existing parts.
func (im *IndexManager) MaterializeAll(ctx context.Context, conn Querier) error {
	for _, constraint := range im.constraints {
		if err := conn.Exec(ctx, constraint.MaterializeSQL()); err != nil {
			return fmt.Errorf("materialize index %s: %w", constraint.ConstraintName(), err)
		}
	}
	return nil
}

// RemoveIndex drops a named index from a table.
func (im *IndexManager) RemoveIndex(ctx context.Context, conn Querier, tableName, indexName string) error {
	sql := fmt.Sprintf("ALTER TABLE %s DROP INDEX IF EXISTS %s",
		RenderTableName(tableName), QuoteIdent(indexName))
	return conn.Exec(ctx, sql)
}

// GetConstraintsByTable returns the constraints defined for a table.
func (im *IndexManager) GetConstraintsByTable(tableName string) []IndexConstraint {
	var result []IndexConstraint
	for _, constraint := range im.constraints {
		if strings.EqualFold(constraint.Table, tableName) {
			result = append(result, constraint)
		}
	}
	return result
}

// ListAllConstraints returns all configured constraints.
func (im *IndexManager) ListAllConstraints() []IndexConstraint {
	return im.constraints
}

var validIndexType = regexp.MustCompile(`(?i)^(minmax|set\s*\(\s*\d+\s*\)|bloom_filter(\s*\(\s*[0-9.]+\s*\))?|ngrambf_v1\s*\(.+\)|tokenbf_v1\s*\(.+\))$`)

// ValidateConstraints checks the configured constraints for common issues.
func (im *IndexManager) ValidateConstraints() []error {
	var errors []error

	for _, constraint := range im.constraints {
		if constraint.Table == "" {
			errors = append(errors, fmt.Errorf("table name cannot be empty"))
		}
		if constraint.Expression == "" {
			errors = append(errors, fmt.Errorf("index expression cannot be empty: %s", constraint.Table))
		}
		if constraint.Type == "" {
			errors = append(errors, fmt.Errorf("index type cannot be empty: %s", constraint.ConstraintName()))
			continue
		}
		if !validIndexType.MatchString(strings.TrimSpace(constraint.Type)) {
			errors = append(errors, fmt.Errorf("invalid index type: %s, constraint: %s", constraint.Type, constraint.ConstraintName()))
		}
		if constraint.Granularity < 0 {
			errors = append(errors, fmt.Errorf("granularity cannot be negative: %s", constraint.ConstraintName()))
		}
	}

	return errors
}
