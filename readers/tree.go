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
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/aaronlmathis/songlake/core"
)

// TreeReaderStats counts files and records read from a directory tree.
type TreeReaderStats struct {
	FilesListed int64
	FilesRead   int64
	RecordsRead int64
	Malformed   int64 // records or documents that failed to decode
}

// TreeReaderOptions configures a TreeReader.
type TreeReaderOptions struct {
	Pattern string // glob matched against file base names
}

// TreeOption configures a TreeReader.
type TreeOption func(*TreeReaderOptions)

// WithPattern sets the base-name glob of files to read. Defaults to "*.json".
func WithPattern(pattern string) TreeOption {
	return func(o *TreeReaderOptions) {
		o.Pattern = pattern
	}
}

// TreeReader implements DataSource over every matching JSON file below a root
// directory, visited in lexical path order.
type TreeReader struct {
	root    string
	opts    TreeReaderOptions
	files   []string
	listed  bool
	index   int
	current *JSONReader
	stats   TreeReaderStats
}

// NewTreeReader creates a reader for root. The tree is listed on the first Read.
func NewTreeReader(root string, options ...TreeOption) *TreeReader {
	opts := TreeReaderOptions{Pattern: "*.json"}
	for _, o := range options {
		o(&opts)
	}
	return &TreeReader{root: root, opts: opts}
}

// Read returns the next record. A missing or unreadable root is reported as a
// fatal *JSONReaderError; a malformed record yields a non-fatal error and reading
// continues with the next file.
func (t *TreeReader) Read(ctx context.Context) (core.Record, error) {
	if !t.listed {
		if err := t.list(); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.current == nil {
			if t.index >= len(t.files) {
				return nil, io.EOF
			}
			path := t.files[t.index]
			t.index++
			f, err := os.Open(path)
			if err != nil {
				return nil, &JSONReaderError{Op: "open_file", Path: path, Err: err}
			}
			t.current = NewJSONReader(f, path)
			t.stats.FilesRead++
		}

		rec, err := t.current.Read(ctx)
		if errors.Is(err, io.EOF) {
			t.closeCurrent()
			continue
		}
		if err != nil {
			t.stats.Malformed++
			return nil, err
		}
		t.stats.RecordsRead++
		return rec, nil
	}
}

func (t *TreeReader) list() error {
	info, err := os.Stat(t.root)
	if err != nil {
		return &JSONReaderError{Op: "open_root", Path: t.root, Err: err}
	}
	if !info.IsDir() {
		return &JSONReaderError{Op: "open_root", Path: t.root, Err: errors.New("not a directory")}
	}

	var files []string
	err = filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(t.opts.Pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return &JSONReaderError{Op: "walk", Path: t.root, Err: err}
	}
	sort.Strings(files)
	t.files = files
	t.listed = true
	t.stats.FilesListed = int64(len(files))
	return nil
}

func (t *TreeReader) closeCurrent() {
	if t.current != nil {
		_ = t.current.Close()
		t.current = nil
	}
}

// Close releases the file currently open.
func (t *TreeReader) Close() error {
	t.closeCurrent()
	return nil
}

// Stats returns read statistics.
func (t *TreeReader) Stats() TreeReaderStats {
	return t.stats
}
