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
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/songlake/core"
)

// ParquetWriterError wraps Parquet write failures with the failing operation.
type ParquetWriterError struct {
	Op  string // "open_file", "create_writer", "validate", "append_value", "write_batch", ...
	Err error
}

func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures a ParquetWriter.
type ParquetWriterOptions struct {
	BatchSize      int64                // rows buffered before an Arrow batch is written
	Schema         *arrow.Schema        // required; columns are written in schema order
	Compression    compress.Compression // column chunk codec, snappy by default
	RowGroupSize   int64                // maximum rows per row group
	Metadata       map[string]string    // key/value metadata stored in the file footer
	ValidateSchema bool                 // reject rows whose values do not fit the schema
}

// WriterStats holds statistics about one written file.
type WriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// WriterOption configures a ParquetWriter.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of rows buffered before a batch is written.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the column chunk codec.
func WithCompression(codec compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = codec
	}
}

// WithSchema sets the Arrow schema of the file.
func WithSchema(schema *arrow.Schema) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Schema = schema
	}
}

// WithSchemaValidation makes Write reject a row whose values do not fit the
// column types instead of storing them as null.
func WithSchemaValidation(validate bool) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.ValidateSchema = validate
	}
}

// WithRowGroupSize caps the number of rows in one row group.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata adds key/value metadata to the file footer.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// ParseCompression maps a codec name (snappy, zstd, gzip, brotli, lz4,
// none) to a Parquet codec.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return 0, fmt.Errorf("unknown parquet compression %q", name)
	}
}

// ParquetWriter implements core.DataSink for one Parquet file with a fixed
// schema. Close always leaves a valid file, with zero rows when nothing was
// written. Not safe for concurrent use.
type ParquetWriter struct {
	opts     ParquetWriterOptions
	file     *os.File
	writer   *pqarrow.FileWriter
	schema   *arrow.Schema
	builders []array.Builder
	buffer   []core.Record
	stats    WriterStats
	failed   bool
	closed   bool
}

// NewParquetWriter creates filename, and its directory when missing, and
// opens a Parquet writer on it.
func NewParquetWriter(filename string, options ...WriterOption) (*ParquetWriter, error) {
	opts := ParquetWriterOptions{
		BatchSize:    1000,
		Compression:  compress.Codecs.Snappy,
		RowGroupSize: 10000,
	}
	for _, o := range options {
		o(&opts)
	}
	if opts.Schema == nil {
		return nil, &ParquetWriterError{Op: "schema", Err: fmt.Errorf("schema is required")}
	}
	if opts.BatchSize <= 0 || opts.RowGroupSize <= 0 {
		return nil, &ParquetWriterError{Op: "options", Err: fmt.Errorf("batch size and row group size must be positive")}
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, &ParquetWriterError{Op: "create_directory", Err: err}
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, &ParquetWriterError{Op: "open_file", Err: err}
	}

	schema := withMetadata(opts.Schema, opts.Metadata)
	props := parquet.NewWriterProperties(
		parquet.WithCompression(opts.Compression),
		parquet.WithMaxRowGroupLength(opts.RowGroupSize),
	)
	fw, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		os.Remove(filename)
		return nil, &ParquetWriterError{Op: "create_writer", Err: err}
	}

	mem := memory.NewGoAllocator()
	builders := make([]array.Builder, len(schema.Fields()))
	for i, field := range schema.Fields() {
		builders[i] = array.NewBuilder(mem, field.Type)
	}

	return &ParquetWriter{
		opts:     opts,
		file:     f,
		writer:   fw,
		schema:   schema,
		builders: builders,
		buffer:   make([]core.Record, 0, opts.BatchSize),
		stats:    WriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

func withMetadata(schema *arrow.Schema, metadata map[string]string) *arrow.Schema {
	if len(metadata) == 0 {
		return schema
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = metadata[k]
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(schema.Fields(), &md)
}

// Stats returns the write statistics.
func (p *ParquetWriter) Stats() WriterStats {
	return p.stats
}

// Write buffers a row. Fields outside the schema are ignored. A failed
// validation or batch write leaves the writer failed.
func (p *ParquetWriter) Write(ctx context.Context, record core.Record) error {
	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	if p.failed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer failed earlier")}
	}
	if err := ctx.Err(); err != nil {
		return &ParquetWriterError{Op: "write", Err: err}
	}
	if p.opts.ValidateSchema {
		if err := p.validate(record); err != nil {
			p.failed = true
			return err
		}
	}

	p.buffer = append(p.buffer, record)
	p.stats.RecordsWritten++
	if int64(len(p.buffer)) >= p.opts.BatchSize {
		return p.flush()
	}
	return nil
}

// Flush writes the buffered rows.
func (p *ParquetWriter) Flush() error {
	return p.flush()
}

// Close flushes the buffered rows and finishes the file.
func (p *ParquetWriter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	defer func() {
		for _, b := range p.builders {
			b.Release()
		}
		p.builders = nil
	}()

	if !p.failed {
		if err := p.flush(); err != nil {
			p.writer.Close()
			return err
		}
	}
	if err := p.writer.Close(); err != nil {
		return &ParquetWriterError{Op: "close_writer", Err: err}
	}
	return nil
}

func (p *ParquetWriter) flush() error {
	if len(p.buffer) == 0 {
		return nil
	}
	start := time.Now()

	for _, rec := range p.buffer {
		for i, field := range p.schema.Fields() {
			if err := p.appendValue(p.builders[i], rec[field.Name], field.Name); err != nil {
				p.failed = true
				p.discardBuilders()
				return err
			}
		}
	}
	arrays := make([]arrow.Array, len(p.builders))
	for i, b := range p.builders {
		arrays[i] = b.NewArray()
	}
	batch := array.NewRecord(p.schema, arrays, int64(len(p.buffer)))
	for _, a := range arrays {
		a.Release()
	}
	defer batch.Release()

	if err := p.writer.Write(batch); err != nil {
		p.failed = true
		return &ParquetWriterError{Op: "write_batch", Err: err}
	}

	p.buffer = p.buffer[:0]
	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.stats.LastFlushTime = time.Now()
	return nil
}

// discardBuilders drops values appended for a batch that failed.
func (p *ParquetWriter) discardBuilders() {
	for _, b := range p.builders {
		b.NewArray().Release()
	}
}

// appendValue appends one value to its column builder. Integers are narrowed
// to the column width and an integer outside the column range is an error. A
// value of a type the column cannot hold is stored as null and counted.
func (p *ParquetWriter) appendValue(builder array.Builder, value interface{}, field string) error {
	if value == nil {
		builder.AppendNull()
		p.stats.NullValueCounts[field]++
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		if v, ok := value.(bool); ok {
			b.Append(v)
			return nil
		}
	case *array.Int32Builder:
		if v, ok := asInt64(value); ok {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return &ParquetWriterError{
					Op:  "append_value",
					Err: fmt.Errorf("value %d out of range for int32 field %s", v, field),
				}
			}
			b.Append(int32(v))
			return nil
		}
	case *array.Int64Builder:
		if v, ok := asInt64(value); ok {
			b.Append(v)
			return nil
		}
	case *array.Float32Builder:
		if v, ok := asFloat64(value); ok {
			b.Append(float32(v))
			return nil
		}
	case *array.Float64Builder:
		if v, ok := asFloat64(value); ok {
			b.Append(v)
			return nil
		}
	case *array.StringBuilder:
		if v, ok := value.(string); ok {
			b.Append(v)
		} else {
			b.Append(fmt.Sprintf("%v", value))
		}
		return nil
	case *array.TimestampBuilder:
		if v, ok := value.(time.Time); ok {
			b.Append(timestampIn(v, b.Type().(*arrow.TimestampType).Unit))
			return nil
		}
	default:
		return &ParquetWriterError{
			Op:  "append_value",
			Err: fmt.Errorf("unsupported column type %s for field %s", builder.Type(), field),
		}
	}

	builder.AppendNull()
	p.stats.NullValueCounts[field]++
	return nil
}

// validate checks that every schema field present in record holds a value
// its column can store.
func (p *ParquetWriter) validate(record core.Record) error {
	for _, field := range p.schema.Fields() {
		value := record[field.Name]
		if value == nil {
			continue
		}
		if err := fits(field.Type, value); err != nil {
			return &ParquetWriterError{Op: "validate", Err: fmt.Errorf("field %s: %w", field.Name, err)}
		}
	}
	return nil
}

func fits(typ arrow.DataType, value interface{}) error {
	ok := false
	switch typ.ID() {
	case arrow.BOOL:
		_, ok = value.(bool)
	case arrow.INT32:
		var v int64
		if v, ok = asInt64(value); ok && (v < math.MinInt32 || v > math.MaxInt32) {
			return fmt.Errorf("value %d out of range for %s", v, typ)
		}
	case arrow.INT64:
		_, ok = asInt64(value)
	case arrow.FLOAT32, arrow.FLOAT64:
		_, ok = asFloat64(value)
	case arrow.STRING:
		_, ok = value.(string)
	case arrow.TIMESTAMP:
		_, ok = value.(time.Time)
	default:
		return fmt.Errorf("cannot validate column type %s", typ)
	}
	if !ok {
		return fmt.Errorf("expected %s, got %T", typ, value)
	}
	return nil
}

func timestampIn(t time.Time, unit arrow.TimeUnit) arrow.Timestamp {
	switch unit {
	case arrow.Second:
		return arrow.Timestamp(t.Unix())
	case arrow.Millisecond:
		return arrow.Timestamp(t.UnixMilli())
	case arrow.Nanosecond:
		return arrow.Timestamp(t.UnixNano())
	default:
		return arrow.Timestamp(t.UnixMicro())
	}
}

func asInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

func asFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}
