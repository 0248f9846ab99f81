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
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/aaronlmathis/songlake/core"
)

// SuccessMarker is the empty file written into a completed table directory.
const SuccessMarker = "_SUCCESS"

// PartitionedWriterStats holds statistics about a partitioned table write.
type PartitionedWriterStats struct {
	RecordsWritten int64
	Partitions     int
	Files          []string // paths relative to the table directory
	WriteDuration  time.Duration
}

// PartitionedWriterOptions configures the partitioned writer.
type PartitionedWriterOptions struct {
	PartitionBy    []string
	MaxRowsPerFile int
	FileOptions    []WriterOption
}

// PartitionedOption is a functional option for NewPartitionedWriter.
type PartitionedOption func(*PartitionedWriterOptions)

// WithPartitionBy sets the partition columns, outermost first.
func WithPartitionBy(columns ...string) PartitionedOption {
	return func(opts *PartitionedWriterOptions) {
		opts.PartitionBy = append([]string(nil), columns...)
	}
}

// WithMaxRowsPerFile splits a partition into several part files.
func WithMaxRowsPerFile(n int) PartitionedOption {
	return func(opts *PartitionedWriterOptions) {
		opts.MaxRowsPerFile = n
	}
}

// WithFileOptions passes options to every ParquetWriter created.
func WithFileOptions(options ...WriterOption) PartitionedOption {
	return func(opts *PartitionedWriterOptions) {
		opts.FileOptions = append(opts.FileOptions, options...)
	}
}

// PartitionedWriter implements core.DataSink for a hive-partitioned Parquet
// table (dir/key=value/.../part-NNNNN.parquet). Every write is a full
// overwrite: rows are grouped in memory and on Close the table is written to a
// staging directory that then replaces dir. A table with no rows still
// produces an empty directory holding only the success marker.
//
// Partition values are path-escaped; a null value is written as
// core.HiveDefaultPartition. Partition columns are not stored in the data files.
type PartitionedWriter struct {
	dir     string
	schema  *arrow.Schema
	opts    PartitionedWriterOptions
	groups  map[string][]core.Record
	stats   PartitionedWriterStats
	closed  bool
	aborted bool
}

// NewPartitionedWriter creates a writer for the table at dir. schema is the
// schema of the data files and must not contain the partition columns.
func NewPartitionedWriter(dir string, schema *arrow.Schema, options ...PartitionedOption) (*PartitionedWriter, error) {
	opts := PartitionedWriterOptions{}
	for _, o := range options {
		o(&opts)
	}
	if schema == nil {
		return nil, &ParquetWriterError{Op: "partitioned_schema", Err: fmt.Errorf("schema is required")}
	}
	for _, p := range opts.PartitionBy {
		if len(schema.FieldIndices(p)) > 0 {
			return nil, &ParquetWriterError{
				Op:  "partitioned_schema",
				Err: fmt.Errorf("partition column %q must not be part of the file schema", p),
			}
		}
	}
	return &PartitionedWriter{
		dir:    filepath.Clean(dir),
		schema: schema,
		opts:   opts,
		groups: make(map[string][]core.Record),
	}, nil
}

// Write implements the core.DataSink interface.
func (w *PartitionedWriter) Write(ctx context.Context, record core.Record) error {
	if w.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("partitioned writer is closed")}
	}
	rel, err := PartitionPath(record, w.opts.PartitionBy)
	if err != nil {
		return &ParquetWriterError{Op: "partition_value", Err: err}
	}
	w.groups[rel] = append(w.groups[rel], record)
	w.stats.RecordsWritten++
	return nil
}

// Flush implements the core.DataSink interface. Rows are only written on Close.
func (w *PartitionedWriter) Flush() error {
	return nil
}

// Abort discards buffered rows; the existing table is left untouched.
func (w *PartitionedWriter) Abort() {
	w.aborted = true
	w.groups = nil
}

// Close writes every partition and swaps the staged table into place.
func (w *PartitionedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.aborted {
		return nil
	}

	start := time.Now()
	staging := filepath.Join(filepath.Dir(w.dir), "."+filepath.Base(w.dir)+".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return &ParquetWriterError{Op: "create_staging", Err: err}
	}

	if err := w.writePartitions(staging); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.WriteFile(filepath.Join(staging, SuccessMarker), nil, 0o644); err != nil {
		os.RemoveAll(staging)
		return &ParquetWriterError{Op: "success_marker", Err: err}
	}
	if err := os.RemoveAll(w.dir); err != nil {
		os.RemoveAll(staging)
		return &ParquetWriterError{Op: "remove_previous", Err: err}
	}
	if err := os.Rename(staging, w.dir); err != nil {
		os.RemoveAll(staging)
		return &ParquetWriterError{Op: "commit", Err: err}
	}

	w.groups = nil
	w.stats.WriteDuration = time.Since(start)
	return nil
}

// Stats returns statistics about the write. File paths are known after Close.
func (w *PartitionedWriter) Stats() PartitionedWriterStats {
	out := w.stats
	out.Files = append([]string(nil), w.stats.Files...)
	return out
}

func (w *PartitionedWriter) writePartitions(staging string) error {
	keys := make([]string, 0, len(w.groups))
	for k := range w.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, rel := range keys {
		rows := w.groups[rel]
		per := len(rows)
		if w.opts.MaxRowsPerFile > 0 {
			per = w.opts.MaxRowsPerFile
		}
		for part, off := 0, 0; off < len(rows); part, off = part+1, off+per {
			end := min(off+per, len(rows))
			name := filepath.Join(rel, fmt.Sprintf("part-%05d.parquet", part))
			if err := w.writeFile(filepath.Join(staging, name), rows[off:end]); err != nil {
				return err
			}
			w.stats.Files = append(w.stats.Files, filepath.ToSlash(name))
		}
	}
	w.stats.Partitions = len(keys)
	return nil
}

func (w *PartitionedWriter) writeFile(path string, rows []core.Record) error {
	opts := append([]WriterOption{WithSchema(w.schema)}, w.opts.FileOptions...)
	pw, err := NewParquetWriter(path, opts...)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := pw.Write(context.Background(), row); err != nil {
			pw.Close()
			return err
		}
	}
	return pw.Close()
}

// PartitionPath returns the relative directory of a record for the given
// partition columns, e.g. "year=2018/month=11". It returns "." when there are
// no partition columns.
func PartitionPath(record core.Record, partitionBy []string) (string, error) {
	if len(partitionBy) == 0 {
		return ".", nil
	}
	segs := make([]string, len(partitionBy))
	for i, col := range partitionBy {
		v, err := EncodePartitionValue(record[col])
		if err != nil {
			return "", fmt.Errorf("column %s: %w", col, err)
		}
		segs[i] = col + "=" + v
	}
	return filepath.Join(segs...), nil
}

// EncodePartitionValue renders a partition value as a directory name.
func EncodePartitionValue(v interface{}) (string, error) {
	if v == nil {
		return core.HiveDefaultPartition, nil
	}
	if t, ok := v.(time.Time); ok {
		return url.PathEscape(t.UTC().Format(time.RFC3339Nano)), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", err
	}
	if s == "" {
		return core.HiveDefaultPartition, nil
	}
	return url.PathEscape(s), nil
}
