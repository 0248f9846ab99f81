//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of Songlake.
//
// Songlake is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Songlake is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Songlake. If not, see https://www.gnu.org/licenses/.

package lake

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/warehouse"
)

// Dialect selects the SQL type names used for a column.
type Dialect int

const (
	DuckDB Dialect = iota
	Postgres
)

// SQLType maps an Arrow column type onto a SQL type of the dialect.
func SQLType(dt arrow.DataType, d Dialect) string {
	switch dt.ID() {
	case arrow.INT32:
		return "INTEGER"
	case arrow.INT64:
		return "BIGINT"
	case arrow.FLOAT64:
		if d == Postgres {
			return "DOUBLE PRECISION"
		}
		return "DOUBLE"
	case arrow.BOOL:
		return "BOOLEAN"
	case arrow.TIMESTAMP:
		if ts, ok := dt.(*arrow.TimestampType); ok && ts.TimeZone != "" {
			return "TIMESTAMPTZ"
		}
		return "TIMESTAMP"
	default:
		if d == Postgres {
			return "TEXT"
		}
		return "VARCHAR"
	}
}

// OpenDuckDB opens an in-memory DuckDB database with one view per table of
// the lake. A table directory without data files gets an empty typed view; a
// table that was never written gets no view, so queries against it fail.
func (l *Lake) OpenDuckDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	for _, t := range warehouse.Tables() {
		if !l.Exists(t) {
			l.log.Debug("table missing, no view created", "table", t.String())
			continue
		}
		files, err := l.Files(t)
		if err != nil {
			db.Close()
			return nil, err
		}
		query := l.viewSQL(t, hasParquet(files))
		if _, err := db.ExecContext(ctx, query); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create view %s: %w", t, err)
		}
		l.log.Debug("created lake view", "table", t.String(), "files", len(files))
	}
	return db, nil
}

func hasParquet(files []string) bool {
	for _, f := range files {
		if strings.HasSuffix(f, ".parquet") {
			return true
		}
	}
	return false
}

func (l *Lake) viewSQL(t warehouse.Table, withData bool) string {
	cols := t.Columns()
	exprs := make([]string, len(cols))

	if !withData {
		for i, c := range cols {
			exprs[i] = fmt.Sprintf("CAST(NULL AS %s) AS %s", SQLType(c.Type, DuckDB), quoteIdent(c.Name))
		}
		return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT %s WHERE false", t.Quoted(), strings.Join(exprs, ", "))
	}

	partition := make(map[string]bool)
	for _, p := range t.PartitionBy() {
		partition[p] = true
	}
	for i, c := range cols {
		name := quoteIdent(c.Name)
		if partition[c.Name] {
			// partition values are read as text so the null marker can be mapped back
			exprs[i] = fmt.Sprintf("CAST(NULLIF(%s, '%s') AS %s) AS %s",
				name, core.HiveDefaultPartition, SQLType(c.Type, DuckDB), name)
			continue
		}
		exprs[i] = name
	}

	dir := filepath.ToSlash(l.TableDir(t))
	var from string
	if len(partition) > 0 {
		from = fmt.Sprintf("read_parquet(%s, hive_partitioning = true, hive_types_autocast = false)",
			quoteLiteral(dir+"/**/*.parquet"))
	} else {
		from = fmt.Sprintf("read_parquet(%s)", quoteLiteral(dir+"/*.parquet"))
	}
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT %s FROM %s", t.Quoted(), strings.Join(exprs, ", "), from)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
