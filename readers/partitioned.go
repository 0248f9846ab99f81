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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/aaronlmathis/songlake/core"
)

// PartitionedReader implements DataSource over a hive-style table directory
// (table/key=value/.../part-*.parquet). Partition values are decoded from the
// path and added to every row read from the files below it.
type PartitionedReader struct {
	root      string
	types     map[string]arrow.DataType
	options   []ReaderOption
	files     []partFile
	listed    bool
	index     int
	current   *ParquetReader
	partition core.Record
}

type partFile struct {
	path   string
	values core.Record
}

// NewPartitionedReader creates a reader for the table rooted at dir. types maps
// partition columns to their Arrow type; unknown partition columns stay strings.
func NewPartitionedReader(dir string, types map[string]arrow.DataType, options ...ReaderOption) *PartitionedReader {
	return &PartitionedReader{root: dir, types: types, options: options}
}

// Read implements the DataSource interface.
func (r *PartitionedReader) Read(ctx context.Context) (core.Record, error) {
	if !r.listed {
		if err := r.list(); err != nil {
			return nil, err
		}
	}
	for {
		if r.current == nil {
			if r.index >= len(r.files) {
				return nil, io.EOF
			}
			pf := r.files[r.index]
			r.index++
			reader, err := NewParquetReader(pf.path, r.options...)
			if err != nil {
				return nil, err
			}
			r.current = reader
			r.partition = pf.values
		}

		rec, err := r.current.Read(ctx)
		if errors.Is(err, io.EOF) {
			_ = r.current.Close()
			r.current = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		for k, v := range r.partition {
			rec[k] = v
		}
		return rec, nil
	}
}

// Close implements the DataSource interface.
func (r *PartitionedReader) Close() error {
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}

// Files returns the data files found below the table root.
func (r *PartitionedReader) Files() []string {
	out := make([]string, len(r.files))
	for i, f := range r.files {
		out[i] = f.path
	}
	return out
}

func (r *PartitionedReader) list() error {
	if _, err := os.Stat(r.root); err != nil {
		return &ParquetReaderError{Op: "open_table", Err: err}
	}
	var files []partFile
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".parquet") {
			return nil
		}
		rel, err := filepath.Rel(r.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		values, err := r.decodePartition(rel)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		files = append(files, partFile{path: path, values: values})
		return nil
	})
	if err != nil {
		return &ParquetReaderError{Op: "list_table", Err: err}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	r.files = files
	r.listed = true
	return nil
}

func (r *PartitionedReader) decodePartition(rel string) (core.Record, error) {
	values := core.Record{}
	if rel == "." {
		return values, nil
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		key, raw, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		v, err := DecodePartitionValue(raw, r.types[key])
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", key, err)
		}
		values[key] = v
	}
	return values, nil
}

// DecodePartitionValue converts an escaped directory value back to a typed value.
func DecodePartitionValue(raw string, typ arrow.DataType) (interface{}, error) {
	if raw == core.HiveDefaultPartition {
		return nil, nil
	}
	s, err := url.PathUnescape(raw)
	if err != nil {
		return nil, err
	}
	if typ == nil {
		return s, nil
	}
	switch typ.ID() {
	case arrow.INT32:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case arrow.INT64:
		return strconv.ParseInt(s, 10, 64)
	case arrow.FLOAT64:
		return strconv.ParseFloat(s, 64)
	default:
		return s, nil
	}
}
