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

// Package lake stores the warehouse tables as hive-partitioned Parquet
// directories below a root path, one directory per table.
package lake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/parquet/compress"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/readers"
	"github.com/aaronlmathis/songlake/warehouse"
	"github.com/aaronlmathis/songlake/writers"
)

// ErrTableNotFound is returned when a table has never been written.
var ErrTableNotFound = errors.New("table not found")

// TableStats describes one table write.
type TableStats struct {
	Table      warehouse.Table
	Rows       int64
	Partitions int
	Files      int
	Duration   time.Duration
}

// Lake is a local directory holding the warehouse tables.
type Lake struct {
	root           string
	log            *slog.Logger
	maxRowsPerFile int
	rowGroupSize   int64
	compression    compress.Compression
}

// Option configures a Lake.
type Option func(*Lake)

// WithLogger sets the logger used for table writes.
func WithLogger(log *slog.Logger) Option {
	return func(l *Lake) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMaxRowsPerFile caps the number of rows in one data file.
func WithMaxRowsPerFile(n int) Option {
	return func(l *Lake) {
		l.maxRowsPerFile = n
	}
}

// WithRowGroupSize caps the number of rows in one Parquet row group.
func WithRowGroupSize(n int64) Option {
	return func(l *Lake) {
		l.rowGroupSize = n
	}
}

// WithCompression sets the Parquet codec of data files.
func WithCompression(codec compress.Compression) Option {
	return func(l *Lake) {
		l.compression = codec
	}
}

// New returns a Lake rooted at root. The directory is created on first write.
func New(root string, opts ...Option) (*Lake, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve lake root %q: %w", root, err)
	}
	l := &Lake{
		root:        abs,
		log:         slog.New(slog.DiscardHandler),
		compression: compress.Codecs.Snappy,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Root returns the absolute lake directory.
func (l *Lake) Root() string {
	return l.root
}

// TableDir returns the directory of a table.
func (l *Lake) TableDir(t warehouse.Table) string {
	return filepath.Join(l.root, t.String())
}

// Exists reports whether the table has been written.
func (l *Lake) Exists(t warehouse.Table) bool {
	info, err := os.Stat(l.TableDir(t))
	return err == nil && info.IsDir()
}

// TableSink overwrites one table when closed and reports the write.
type TableSink struct {
	table  warehouse.Table
	w      *writers.PartitionedWriter
	log    *slog.Logger
	start  time.Time
	stats  TableStats
	closed bool
}

// Write implements core.DataSink.
func (s *TableSink) Write(ctx context.Context, record core.Record) error {
	if err := s.w.Write(ctx, record); err != nil {
		return fmt.Errorf("write %s: %w", s.table, err)
	}
	return nil
}

// Flush implements core.DataSink.
func (s *TableSink) Flush() error {
	return s.w.Flush()
}

// Abort discards the buffered rows; Close then leaves the table untouched.
func (s *TableSink) Abort() {
	s.w.Abort()
}

// Close commits the table.
func (s *TableSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", s.table, err)
	}

	ws := s.w.Stats()
	s.stats = TableStats{
		Table:      s.table,
		Rows:       ws.RecordsWritten,
		Partitions: ws.Partitions,
		Files:      len(ws.Files),
		Duration:   time.Since(s.start),
	}
	s.log.Info("table written",
		"table", s.table.String(),
		"rows", s.stats.Rows,
		"partitions", s.stats.Partitions,
		"files", s.stats.Files,
		"duration", s.stats.Duration,
	)
	return nil
}

// Stats returns the write statistics, known once Close succeeded.
func (s *TableSink) Stats() TableStats {
	return s.stats
}

// NewTableSink returns a sink that overwrites the table when closed.
func (l *Lake) NewTableSink(t warehouse.Table) (*TableSink, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", warehouse.ErrUnknownTable, t)
	}
	fileOpts := []writers.WriterOption{
		writers.WithSchemaValidation(true),
		writers.WithCompression(l.compression),
		writers.WithMetadata(map[string]string{"songlake.table": t.String()}),
	}
	if l.rowGroupSize > 0 {
		fileOpts = append(fileOpts, writers.WithRowGroupSize(l.rowGroupSize))
	}
	w, err := writers.NewPartitionedWriter(l.TableDir(t), t.FileSchema(),
		writers.WithPartitionBy(t.PartitionBy()...),
		writers.WithMaxRowsPerFile(l.maxRowsPerFile),
		writers.WithFileOptions(fileOpts...),
	)
	if err != nil {
		return nil, err
	}
	return &TableSink{table: t, w: w, log: l.log, start: time.Now()}, nil
}

// WriteTable replaces the contents of a table with rows.
func (l *Lake) WriteTable(ctx context.Context, t warehouse.Table, rows []core.Record) (TableStats, error) {
	sink, err := l.NewTableSink(t)
	if err != nil {
		return TableStats{}, err
	}
	for _, row := range rows {
		err := ctx.Err()
		if err == nil {
			err = sink.Write(ctx, row)
		}
		if err != nil {
			sink.Abort()
			sink.Close()
			return TableStats{}, err
		}
	}
	if err := sink.Close(); err != nil {
		return TableStats{}, err
	}
	return sink.Stats(), nil
}

// OpenTable returns a source over the rows of a table, partition columns
// restored from the directory layout. When columns are named only those
// data columns are read from the files; partition columns are always added.
func (l *Lake) OpenTable(t warehouse.Table, columns ...string) (*readers.PartitionedReader, error) {
	if !l.Exists(t) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, t)
	}
	types := make(map[string]arrow.DataType)
	partition := make(map[string]bool)
	for _, p := range t.PartitionBy() {
		partition[p] = true
		if c, ok := t.Column(p); ok {
			types[p] = c.Type
		}
	}

	var opts []readers.ReaderOption
	if len(columns) > 0 {
		var project []string
		for _, c := range columns {
			if _, ok := t.Column(c); !ok {
				return nil, fmt.Errorf("table %s has no column %q", t, c)
			}
			if !partition[c] {
				project = append(project, c)
			}
		}
		opts = append(opts, readers.WithColumnProjection(project...))
	}
	return readers.NewPartitionedReader(l.TableDir(t), types, opts...), nil
}

// ReadTable loads the rows of a table, restricted to columns when any are named.
func (l *Lake) ReadTable(ctx context.Context, t warehouse.Table, columns ...string) ([]core.Record, error) {
	src, err := l.OpenTable(t, columns...)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var rows []core.Record
	for {
		rec, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t, err)
		}
		rows = append(rows, rec)
	}
}

// Files lists the data files of a table relative to the lake root.
func (l *Lake) Files(t warehouse.Table) ([]string, error) {
	var out []string
	dir := l.TableDir(t)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, t)
	}
	return out, err
}
