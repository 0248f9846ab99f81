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

package writers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/aaronlmathis/songlake/core"
)

// PostgresWriterError wraps PostgreSQL-specific write errors with context about the operation.
type PostgresWriterError struct {
	Op  string // e.g. "create_table", "truncate", "copy", "commit"
	Err error
}

func (e *PostgresWriterError) Error() string {
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresColumn names a target column and its SQL type, used when the table
// is created by the writer.
type PostgresColumn struct {
	Name    string
	SQLType string
}

// PostgresWriterStats holds PostgreSQL write statistics.
type PostgresWriterStats struct {
	RecordsWritten  int64
	WriteDuration   time.Duration
	NullValueCounts map[string]int64
}

// PostgresWriterOptions configures the PostgreSQL writer.
type PostgresWriterOptions struct {
	Schema        string // optional schema qualifying the table
	CreateTable   bool   // CREATE TABLE IF NOT EXISTS before loading
	TruncateTable bool   // replace the table contents inside the load transaction
	QueryTimeout  time.Duration
}

// PostgresWriterOption represents a configuration function for PostgresWriterOptions.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithPostgresSchema qualifies the target table with a schema name.
func WithPostgresSchema(schema string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Schema = schema
	}
}

// WithCreateTable enables or disables table creation.
func WithCreateTable(create bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.CreateTable = create
	}
}

// WithTruncateTable enables or disables table truncation before loading.
func WithTruncateTable(truncate bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TruncateTable = truncate
	}
}

// WithPostgresQueryTimeout bounds the DDL statements and the final commit.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

func (opts *PostgresWriterOptions) withDefaults() *PostgresWriterOptions {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	return opts
}

// PostgresWriter implements core.DataSink by bulk loading rows into one table
// with COPY inside a single transaction. Rows become visible on Close; a
// failed load leaves the previous table contents untouched.
type PostgresWriter struct {
	mu       sync.Mutex
	db       *sql.DB
	table    string
	columns  []PostgresColumn
	options  PostgresWriterOptions
	tx       *sql.Tx
	copyStmt *sql.Stmt
	stats    PostgresWriterStats
	failed   bool
	closed   bool
}

// NewPostgresWriter creates a writer loading into table. The caller owns db.
func NewPostgresWriter(db *sql.DB, table string, columns []PostgresColumn, opts ...PostgresWriterOption) (*PostgresWriter, error) {
	options := (&PostgresWriterOptions{}).withDefaults()
	for _, opt := range opts {
		opt(options)
	}
	if db == nil {
		return nil, &PostgresWriterError{Op: "validate", Err: fmt.Errorf("database handle is required")}
	}
	if table == "" {
		return nil, &PostgresWriterError{Op: "validate", Err: fmt.Errorf("table name is required")}
	}
	if len(columns) == 0 {
		return nil, &PostgresWriterError{Op: "validate", Err: fmt.Errorf("at least one column is required")}
	}

	return &PostgresWriter{
		db:      db,
		table:   table,
		columns: append([]PostgresColumn(nil), columns...),
		options: *options,
		stats:   PostgresWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Stats returns a copy of the current write statistics.
func (w *PostgresWriter) Stats() PostgresWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.stats
	out.NullValueCounts = make(map[string]int64, len(w.stats.NullValueCounts))
	for k, v := range w.stats.NullValueCounts {
		out.NullValueCounts[k] = v
	}
	return out
}

// Write implements the core.DataSink interface.
func (w *PostgresWriter) Write(ctx context.Context, record core.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.failed {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is closed or in error state")}
	}
	if err := w.beginLocked(ctx); err != nil {
		return err
	}

	start := time.Now()
	args := make([]interface{}, len(w.columns))
	for i, c := range w.columns {
		args[i] = record[c.Name]
		if args[i] == nil {
			w.stats.NullValueCounts[c.Name]++
		}
	}
	if _, err := w.copyStmt.ExecContext(ctx, args...); err != nil {
		w.abortLocked()
		return &PostgresWriterError{Op: "copy", Err: err}
	}
	w.stats.RecordsWritten++
	w.stats.WriteDuration += time.Since(start)
	return nil
}

// Abort rolls back the load; Close then leaves the table untouched.
func (w *PostgresWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.abortLocked()
}

// Flush implements the core.DataSink interface. COPY buffers rows in the
// driver; they are sent when the writer is closed.
func (w *PostgresWriter) Flush() error {
	return nil
}

// Close completes the COPY and commits. An empty load still truncates the
// table when truncation is enabled.
func (w *PostgresWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.failed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()

	if err := w.beginLocked(ctx); err != nil {
		return err
	}
	if _, err := w.copyStmt.ExecContext(ctx); err != nil {
		w.abortLocked()
		return &PostgresWriterError{Op: "copy_flush", Err: err}
	}
	if err := w.copyStmt.Close(); err != nil {
		w.abortLocked()
		return &PostgresWriterError{Op: "copy_close", Err: err}
	}
	w.copyStmt = nil
	if err := w.tx.Commit(); err != nil {
		w.tx = nil
		return &PostgresWriterError{Op: "commit", Err: err}
	}
	w.tx = nil
	return nil
}

// beginLocked opens the load transaction on first use.
func (w *PostgresWriter) beginLocked(ctx context.Context) error {
	if w.tx != nil {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.failed = true
		return &PostgresWriterError{Op: "begin", Err: err}
	}
	w.tx = tx

	if w.options.CreateTable {
		if _, err := tx.ExecContext(ctx, w.createTableSQL()); err != nil {
			w.abortLocked()
			return &PostgresWriterError{Op: "create_table", Err: err}
		}
	}
	if w.options.TruncateTable {
		if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+w.qualifiedTable()); err != nil {
			w.abortLocked()
			return &PostgresWriterError{Op: "truncate", Err: err}
		}
	}

	names := make([]string, len(w.columns))
	for i, c := range w.columns {
		names[i] = c.Name
	}
	var copySQL string
	if w.options.Schema != "" {
		copySQL = pq.CopyInSchema(w.options.Schema, w.table, names...)
	} else {
		copySQL = pq.CopyIn(w.table, names...)
	}
	stmt, err := tx.PrepareContext(ctx, copySQL)
	if err != nil {
		w.abortLocked()
		return &PostgresWriterError{Op: "prepare_copy", Err: err}
	}
	w.copyStmt = stmt
	return nil
}

func (w *PostgresWriter) abortLocked() {
	w.failed = true
	if w.copyStmt != nil {
		w.copyStmt.Close()
		w.copyStmt = nil
	}
	if w.tx != nil {
		w.tx.Rollback()
		w.tx = nil
	}
}

func (w *PostgresWriter) qualifiedTable() string {
	if w.options.Schema != "" {
		return pq.QuoteIdentifier(w.options.Schema) + "." + pq.QuoteIdentifier(w.table)
	}
	return pq.QuoteIdentifier(w.table)
}

func (w *PostgresWriter) createTableSQL() string {
	defs := make([]string, len(w.columns))
	for i, c := range w.columns {
		defs[i] = pq.QuoteIdentifier(c.Name) + " " + c.SQLType
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", w.qualifiedTable(), strings.Join(defs, ", "))
}
