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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aaronlmathis/songlake/core"
)

// JSONWriterError wraps JSON write failures with the operation involved.
type JSONWriterError struct {
	Op  string
	Err error
}

func (e *JSONWriterError) Error() string {
	return fmt.Sprintf("json writer %s: %v", e.Op, e.Err)
}

func (e *JSONWriterError) Unwrap() error {
	return e.Err
}

// JSONWriter implements core.DataSink for line-delimited JSON output.
// Keys of each object are written in sorted order.
type JSONWriter struct {
	buf     *bufio.Writer
	closer  io.Closer
	written int64
	closed  bool
}

// NewJSONWriter creates a JSON lines writer over w.
func NewJSONWriter(w io.WriteCloser) *JSONWriter {
	return &JSONWriter{
		buf:    bufio.NewWriter(w),
		closer: w,
	}
}

// Write implements the core.DataSink interface.
func (j *JSONWriter) Write(ctx context.Context, record core.Record) error {
	if j.closed {
		return &JSONWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return &JSONWriterError{Op: "marshal", Err: err}
	}
	data = append(data, '\n')
	if _, err := j.buf.Write(data); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}
	j.written++
	return nil
}

// RecordsWritten returns the number of lines written so far.
func (j *JSONWriter) RecordsWritten() int64 {
	return j.written
}

// Flush implements the core.DataSink interface.
func (j *JSONWriter) Flush() error {
	if j.closed {
		return nil
	}
	if err := j.buf.Flush(); err != nil {
		return &JSONWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close flushes buffered output and closes the underlying writer.
func (j *JSONWriter) Close() error {
	if j.closed {
		return nil
	}
	if err := j.Flush(); err != nil {
		return err
	}
	j.closed = true
	if j.closer != nil {
		if err := j.closer.Close(); err != nil {
			return &JSONWriterError{Op: "close", Err: err}
		}
	}
	return nil
}
