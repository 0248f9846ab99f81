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

	"github.com/aaronlmathis/songlake"
	"github.com/aaronlmathis/songlake/warehouse"
	"github.com/aaronlmathis/songlake/writers"
)

// PostgresColumns returns the column definitions of a table for the
// PostgreSQL mirror.
func PostgresColumns(t warehouse.Table) []writers.PostgresColumn {
	cols := t.Columns()
	out := make([]writers.PostgresColumn, len(cols))
	for i, c := range cols {
		out[i] = writers.PostgresColumn{Name: c.Name, SQLType: SQLType(c.Type, Postgres)}
	}
	return out
}

// MirrorPostgres copies the given tables into PostgreSQL, replacing each
// table's contents in one transaction. It returns the rows loaded per table.
func (l *Lake) MirrorPostgres(ctx context.Context, db *sql.DB, schema string, tables ...warehouse.Table) (map[warehouse.Table]int64, error) {
	loaded := make(map[warehouse.Table]int64, len(tables))
	for _, t := range tables {
		src, err := l.OpenTable(t)
		if err != nil {
			return loaded, err
		}
		opts := []writers.PostgresWriterOption{
			writers.WithCreateTable(true),
			writers.WithTruncateTable(true),
		}
		if schema != "" {
			opts = append(opts, writers.WithPostgresSchema(schema))
		}
		sink, err := writers.NewPostgresWriter(db, t.String(), PostgresColumns(t), opts...)
		if err != nil {
			src.Close()
			return loaded, err
		}

		p, err := songlake.NewPipeline().
			From(src).
			To(sink).
			WithLogger(l.log).
			Build()
		if err != nil {
			src.Close()
			sink.Close()
			return loaded, err
		}
		if err := p.Execute(ctx); err != nil {
			return loaded, fmt.Errorf("mirror %s: %w", t, err)
		}
		loaded[t] = p.Stats().RecordsWritten
		l.log.Info("table mirrored", "table", t.String(), "rows", loaded[t])
	}
	return loaded, nil
}
