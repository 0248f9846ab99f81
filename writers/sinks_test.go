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
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
)

type bufferCloser struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return b.closeErr
}

func TestJSONWriter_WritesLines(t *testing.T) {
	buf := &bufferCloser{}
	w := NewJSONWriter(buf)

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, core.Record{"table": "songs", "count": int64(12), "passed": true}))
	require.NoError(t, w.Write(ctx, core.Record{"table": "users", "error": nil}))
	require.NoError(t, w.Close())

	assert.Equal(t,
		`{"count":12,"passed":true,"table":"songs"}`+"\n"+`{"error":null,"table":"users"}`+"\n",
		buf.String())
	assert.True(t, buf.closed)
	assert.Equal(t, int64(2), w.RecordsWritten())
}

func TestJSONWriter_MarshalError(t *testing.T) {
	w := NewJSONWriter(&bufferCloser{})
	err := w.Write(context.Background(), core.Record{"bad": make(chan int)})

	var jwErr *JSONWriterError
	require.ErrorAs(t, err, &jwErr)
	assert.Equal(t, "marshal", jwErr.Op)
}

func TestJSONWriter_CloseError(t *testing.T) {
	boom := errors.New("boom")
	w := NewJSONWriter(&bufferCloser{closeErr: boom})
	err := w.Close()
	assert.ErrorIs(t, err, boom)

	assert.Error(t, w.Write(context.Background(), core.Record{"a": 1}))
}

func TestCSVWriter_HeaderFromFirstRecord(t *testing.T) {
	buf := &bufferCloser{}
	w := NewCSVWriter(buf)

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, core.Record{"table": "songs", "count": int64(3)}))
	require.NoError(t, w.Write(ctx, core.Record{"table": "time", "count": nil}))
	require.NoError(t, w.Close())

	assert.Equal(t, "count,table\n3,songs\n,time\n", buf.String())
	assert.Equal(t, int64(1), w.Stats().NullValueCounts["count"])
}

func TestCSVWriter_Options(t *testing.T) {
	buf := &bufferCloser{}
	w := NewCSVWriter(buf,
		WithHeaders([]string{"table", "status"}),
		WithComma(';'),
		WithWriteHeader(false),
		WithCSVBatchSize(10),
	)

	require.NoError(t, w.Write(context.Background(), core.Record{"status": "passed", "table": "users", "ignored": 1}))
	assert.Empty(t, buf.String(), "rows are buffered until the batch fills")

	require.NoError(t, w.Flush())
	assert.Equal(t, "users;passed\n", buf.String())

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.RecordsWritten)
	assert.Equal(t, int64(1), stats.FlushCount)
}

func TestMemoryWriter(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()
	require.NoError(t, w.Write(ctx, core.Record{"a": 1}))
	require.NoError(t, w.Write(ctx, core.Record{"a": 2}))
	require.NoError(t, w.Close())

	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 2, w.Records()[1]["a"])
	assert.Error(t, w.Write(ctx, core.Record{"a": 3}))
}
