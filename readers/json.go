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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aaronlmathis/songlake/core"
)

// JSONReaderError wraps JSON read failures with the operation and file involved.
type JSONReaderError struct {
	Op   string // "open_root", "walk", "open_file", "read", "decode"
	Path string
	Line int // 1-based line of a malformed record, 0 when unknown
	Err  error
}

func (e *JSONReaderError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("json reader %s %s:%d: %v", e.Op, e.Path, e.Line, e.Err)
	case e.Path != "":
		return fmt.Sprintf("json reader %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("json reader %s: %v", e.Op, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error must abort the run. I/O failures are fatal;
// a malformed record is skipped.
func (e *JSONReaderError) Fatal() bool {
	return e.Op != "decode"
}

type jsonMode int

type jsonLine struct {
	n    int
	text []byte
}

const (
	modeUnknown jsonMode = iota
	modeLines
	modeStream
)

// JSONReader implements DataSource for a stream of JSON objects. The stream
// may hold one object per line, in which case each line is decoded on its own
// and a malformed line is skipped, or a single (possibly pretty-printed)
// object. Numbers are decoded as json.Number so integers keep full precision.
type JSONReader struct {
	r       *bufio.Reader
	closer  io.Closer
	name    string
	mode    jsonMode
	head    []jsonLine // lines read while detecting the mode
	line    int
	pending []core.Record
	decoder *json.Decoder
	eof     bool
	failed  bool
}

// NewJSONReader creates a JSON reader over r. name is used in error messages.
func NewJSONReader(r io.ReadCloser, name string) *JSONReader {
	return &JSONReader{
		r:      bufio.NewReader(r),
		closer: r,
		name:   name,
	}
}

// Read returns the next JSON object. Top-level values that are not objects
// are skipped. A malformed line yields a non-fatal decode error and reading
// continues on the next line. In a multi-line document the rest of the
// stream is abandoned after a syntax error.
func (j *JSONReader) Read(ctx context.Context) (core.Record, error) {
	for {
		if len(j.pending) > 0 {
			rec := j.pending[0]
			j.pending = j.pending[1:]
			return rec, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if j.failed {
			return nil, io.EOF
		}

		switch j.mode {
		case modeUnknown:
			if err := j.detect(); err != nil {
				return nil, err
			}
		case modeStream:
			return j.readStream()
		case modeLines:
			line, ok, err := j.nextLine()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, io.EOF
			}
			if err := j.decodeLine(line); err != nil {
				return nil, err
			}
		}
	}
}

// detect reads ahead up to two non-blank lines. The input is line-delimited
// when either of them holds complete JSON values on its own; a pretty-printed
// object never does.
func (j *JSONReader) detect() error {
	for len(j.head) < 2 && !j.eof {
		line, err := j.readLine()
		if err != nil {
			return err
		}
		if len(line.text) > 0 {
			j.head = append(j.head, line)
		}
	}
	j.mode = modeStream
	for _, line := range j.head {
		if _, err := decodeValues(line.text); err == nil {
			j.mode = modeLines
			break
		}
	}
	if j.mode == modeStream {
		var buf bytes.Buffer
		for _, line := range j.head {
			buf.Write(line.text)
			buf.WriteByte('\n')
		}
		j.head = nil
		j.decoder = json.NewDecoder(io.MultiReader(&buf, j.r))
		j.decoder.UseNumber()
	}
	return nil
}

// nextLine returns the next non-blank line, serving detected lines first.
func (j *JSONReader) nextLine() (jsonLine, bool, error) {
	if len(j.head) > 0 {
		line := j.head[0]
		j.head = j.head[1:]
		return line, true, nil
	}
	for !j.eof {
		line, err := j.readLine()
		if err != nil {
			return jsonLine{}, false, err
		}
		if len(line.text) > 0 {
			return line, true, nil
		}
	}
	return jsonLine{}, false, nil
}

// readLine reads one trimmed line and numbers it.
func (j *JSONReader) readLine() (jsonLine, error) {
	text, err := j.r.ReadBytes('\n')
	if errors.Is(err, io.EOF) {
		j.eof = true
	} else if err != nil {
		return jsonLine{}, &JSONReaderError{Op: "read", Path: j.name, Err: err}
	}
	if len(text) > 0 {
		j.line++
	}
	return jsonLine{n: j.line, text: bytes.TrimSpace(text)}, nil
}

func (j *JSONReader) decodeLine(line jsonLine) error {
	recs, err := decodeValues(line.text)
	if err != nil {
		return &JSONReaderError{Op: "decode", Path: j.name, Line: line.n, Err: err}
	}
	j.pending = recs
	return nil
}

func (j *JSONReader) readStream() (core.Record, error) {
	for {
		var raw interface{}
		if err := j.decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			j.failed = true
			return nil, &JSONReaderError{Op: "decode", Path: j.name, Err: err}
		}
		if obj, ok := raw.(map[string]interface{}); ok {
			return core.Record(obj), nil
		}
	}
}

// decodeValues decodes every JSON value of a line, keeping the objects.
func decodeValues(line []byte) ([]core.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var out []core.Record
	for {
		var raw interface{}
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if obj, ok := raw.(map[string]interface{}); ok {
			out = append(out, core.Record(obj))
		}
	}
}

// Close implements the DataSource interface.
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
