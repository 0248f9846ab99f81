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

package readers

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// SQLReaderError wraps database read failures with the failing operation.
type SQLReaderError struct {
	Op  string // "query", "columns", "scan", "read"
	Err error
}

func (e *SQLReaderError) Error() string {
	return fmt.Sprintf("sql reader %s: %v", e.Op, e.Err)
}

func (e *SQLReaderError) Unwrap() error {
	return e.Err
}

// SQLReaderStats holds statistics about a query.
type SQLReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	NullValueCounts map[string]int64
}

// SQLReader implements DataSource over the result set of one query. It works
// with any database/sql driver; Songlake uses lib/pq and DuckDB.
type SQLReader struct {
	db          *sql.DB
	query       string
	params      []interface{}
	rows        *sql.Rows
	columnNames []string
	columnTypes []*sql.ColumnType
	values      []interface{}
	scanBuffer  []interface{}
	started     bool
	finished    bool
	stats       SQLReaderStats
}

// NewSQLReader prepares a reader for query. The query runs on the first Read.
func NewSQLReader(db *sql.DB, query string, params ...interface{}) *SQLReader {
	return &SQLReader{
		db:     db,
		query:  query,
		params: params,
		stats:  SQLReaderStats{NullValueCounts: make(map[string]int64)},
	}
}

// Read returns the next row, or io.EOF once the result set is exhausted.
func (r *SQLReader) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SQLReaderError{Op: "read", Err: err}
	}
	if !r.started {
		if err := r.execute(ctx); err != nil {
			return nil, err
		}
	}
	if r.finished {
		return nil, io.EOF
	}

	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, &SQLReaderError{Op: "read", Err: err}
		}
		r.finished = true
		return nil, io.EOF
	}
	if err := r.rows.Scan(r.scanBuffer...); err != nil {
		return nil, &SQLReaderError{Op: "scan", Err: err}
	}

	r.stats.RecordsRead++
	return r.convertRowToRecord(), nil
}

// Columns returns the result column names; valid after the first Read.
func (r *SQLReader) Columns() []string {
	return r.columnNames
}

// Stats returns query statistics.
func (r *SQLReader) Stats() SQLReaderStats {
	return r.stats
}

// Close releases the result set. The *sql.DB is owned by the caller.
func (r *SQLReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		return err
	}
	return nil
}

func (r *SQLReader) execute(ctx context.Context) error {
	r.started = true
	start := time.Now()

	rows, err := r.db.QueryContext(ctx, r.query, r.params...)
	if err != nil {
		return &SQLReaderError{Op: "query", Err: err}
	}
	r.rows = rows
	r.stats.QueryDuration = time.Since(start)

	if r.columnNames, err = rows.Columns(); err != nil {
		return &SQLReaderError{Op: "columns", Err: err}
	}
	if r.columnTypes, err = rows.ColumnTypes(); err != nil {
		return &SQLReaderError{Op: "column_types", Err: err}
	}

	r.values = make([]interface{}, len(r.columnNames))
	r.scanBuffer = make([]interface{}, len(r.columnNames))
	for i := range r.scanBuffer {
		r.scanBuffer[i] = &r.values[i]
	}
	return nil
}

func (r *SQLReader) convertRowToRecord() core.Record {
	record := make(core.Record, len(r.columnNames))
	for i, name := range r.columnNames {
		value := r.values[i]
		if value == nil {
			r.stats.NullValueCounts[name]++
			record[name] = nil
			continue
		}
		record[name] = convertSQLValue(value, r.columnTypes[i])
	}
	return record
}

// convertSQLValue normalises driver values: integers become int64, floats
// float64 and textual byte slices strings.
func convertSQLValue(value interface{}, colType *sql.ColumnType) interface{} {
	if b, ok := value.([]byte); ok {
		switch colType.DatabaseTypeName() {
		case "TEXT", "VARCHAR", "CHAR", "BPCHAR", "NAME":
			return string(b)
		default:
			return b
		}
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string:
		return v
	case *big.Int:
		if v.IsInt64() {
			return v.Int64()
		}
		return v.String()
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		case reflect.Float32:
			return rv.Float()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}
