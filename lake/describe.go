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
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/songlake/warehouse"
)

// FileDescription describes one data file of a table.
type FileDescription struct {
	Path      string // relative to the lake root
	Partition string // hive partition directory, empty when unpartitioned
	Rows      int64
	RowGroups int
}

// TableDescription describes the stored layout of a table.
type TableDescription struct {
	Table  warehouse.Table
	Schema *arrow.Schema // schema of the data files, partition columns excluded
	Files  []FileDescription
	Rows   int64
}

// Describe reads the Parquet footers of a table's data files.
func (l *Lake) Describe(t warehouse.Table) (TableDescription, error) {
	files, err := l.Files(t)
	if err != nil {
		return TableDescription{}, err
	}
	desc := TableDescription{Table: t}
	tableDir := t.String() + "/"
	for _, rel := range files {
		if !strings.HasSuffix(rel, ".parquet") {
			continue
		}
		fd, schema, err := l.describeFile(rel, desc.Schema == nil)
		if err != nil {
			return TableDescription{}, err
		}
		if schema != nil {
			desc.Schema = schema
		}
		fd.Partition = strings.TrimPrefix(path.Dir(rel)+"/", tableDir)
		fd.Partition = strings.TrimSuffix(fd.Partition, "/")
		desc.Files = append(desc.Files, fd)
		desc.Rows += fd.Rows
	}
	return desc, nil
}

func (l *Lake) describeFile(rel string, withSchema bool) (FileDescription, *arrow.Schema, error) {
	fd := FileDescription{Path: rel}
	reader, err := file.OpenParquetFile(filepath.Join(l.root, filepath.FromSlash(rel)), false)
	if err != nil {
		return fd, nil, fmt.Errorf("open %s: %w", rel, err)
	}
	defer reader.Close()

	fd.Rows = reader.NumRows()
	fd.RowGroups = reader.NumRowGroups()
	if !withSchema {
		return fd, nil, nil
	}

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return fd, nil, fmt.Errorf("read schema of %s: %w", rel, err)
	}
	schema, err := arrowReader.Schema()
	if err != nil {
		return fd, nil, fmt.Errorf("read schema of %s: %w", rel, err)
	}
	return fd, schema, nil
}
