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
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/warehouse"
)

func newTestLake(t *testing.T) *Lake {
	t.Helper()
	l, err := New(t.TempDir())
	require.NoError(t, err)
	return l
}

func sortBy(rows []core.Record, key string) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i][key].(int64) < rows[j][key].(int64)
	})
}

func TestLake_WriteReadSongs(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()

	rows := []core.Record{
		{"song_id": int64(0), "title": "Der Kleine Dompfaff", "artist_id": "ARJIE2Y1187B994AB7", "year": int64(0), "duration": 152.92036},
		{"song_id": int64(1), "title": "Intro", "artist_id": "AR1", "year": int64(2004), "duration": 97.1},
		{"song_id": int64(2), "title": "Outro", "artist_id": nil, "year": nil, "duration": nil},
	}
	stats, err := l.WriteTable(ctx, warehouse.Songs, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows)
	assert.Equal(t, 3, stats.Partitions)

	got, err := l.ReadTable(ctx, warehouse.Songs)
	require.NoError(t, err)
	sortBy(got, "song_id")

	want := []core.Record{
		{"song_id": int64(0), "title": "Der Kleine Dompfaff", "artist_id": "ARJIE2Y1187B994AB7", "year": int32(0), "duration": 152.92036},
		{"song_id": int64(1), "title": "Intro", "artist_id": "AR1", "year": int32(2004), "duration": 97.1},
		{"song_id": int64(2), "title": "Outro", "artist_id": nil, "year": nil, "duration": nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("songs mismatch (-want +got):\n%s", diff)
	}
}

func TestLake_WriteIsOverwrite(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()

	_, err := l.WriteTable(ctx, warehouse.Users, []core.Record{
		{"user_id": "1", "level": "free"},
		{"user_id": "2", "level": "paid"},
	})
	require.NoError(t, err)
	_, err = l.WriteTable(ctx, warehouse.Users, []core.Record{
		{"user_id": "3", "level": "free"},
	})
	require.NoError(t, err)

	got, err := l.ReadTable(ctx, warehouse.Users)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0]["user_id"])
}

func TestLake_ReadMissingTable(t *testing.T) {
	l := newTestLake(t)
	_, err := l.ReadTable(context.Background(), warehouse.Artists)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestLake_WriteCancelledLeavesTable(t *testing.T) {
	l := newTestLake(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.WriteTable(ctx, warehouse.Users, []core.Record{{"user_id": "1"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, l.Exists(warehouse.Users))
}

func TestTableSink_AbortKeepsPreviousTable(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()
	_, err := l.WriteTable(ctx, warehouse.Users, []core.Record{{"user_id": "1"}})
	require.NoError(t, err)

	sink, err := l.NewTableSink(warehouse.Users)
	require.NoError(t, err)
	require.NoError(t, sink.Write(ctx, core.Record{"user_id": "2"}))
	sink.Abort()
	require.NoError(t, sink.Close())
	assert.Zero(t, sink.Stats().Rows)

	got, err := l.ReadTable(ctx, warehouse.Users)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0]["user_id"])
}

func TestLake_TimestampsRoundTrip(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()
	ts := time.Date(2018, 11, 14, 9, 30, 0, 0, time.UTC)

	_, err := l.WriteTable(ctx, warehouse.Time, []core.Record{{
		"start_time": ts, "hour": int32(9), "day": int32(14), "week": int32(46),
		"month": int32(11), "year": int32(2018), "weekday": int32(3),
	}})
	require.NoError(t, err)

	files, err := l.Files(warehouse.Time)
	require.NoError(t, err)
	assert.Contains(t, files, "time/year=2018/month=11/part-00000.parquet")

	got, err := l.ReadTable(ctx, warehouse.Time)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, ts.Equal(got[0]["start_time"].(time.Time)))
	assert.Equal(t, int32(11), got[0]["month"])
}

func TestSQLType(t *testing.T) {
	ts := &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	assert.Equal(t, "TIMESTAMPTZ", SQLType(ts, DuckDB))
	assert.Equal(t, "DOUBLE PRECISION", SQLType(arrow.PrimitiveTypes.Float64, Postgres))
	assert.Equal(t, "DOUBLE", SQLType(arrow.PrimitiveTypes.Float64, DuckDB))
	assert.Equal(t, "TEXT", SQLType(arrow.BinaryTypes.String, Postgres))
	assert.Equal(t, "INTEGER", SQLType(arrow.PrimitiveTypes.Int32, Postgres))
}

func TestPostgresColumns(t *testing.T) {
	cols := PostgresColumns(warehouse.Songplays)
	require.Len(t, cols, len(warehouse.Songplays.Columns()))
	assert.Equal(t, "songplay_id", cols[0].Name)
	assert.Equal(t, "BIGINT", cols[0].SQLType)
	assert.Equal(t, "TIMESTAMPTZ", cols[1].SQLType)
}

func TestLake_Describe(t *testing.T) {
	l := newTestLake(t)
	rows := []core.Record{
		{"song_id": int64(1), "title": "Intro", "artist_id": "AR1", "year": int64(2004), "duration": 97.1},
		{"song_id": int64(2), "title": "Outro", "artist_id": "AR1", "year": int64(2004), "duration": 120.0},
		{"song_id": int64(3), "title": "Hidden", "artist_id": "AR2", "year": int64(0), "duration": nil},
	}
	_, err := l.WriteTable(context.Background(), warehouse.Songs, rows)
	require.NoError(t, err)

	desc, err := l.Describe(warehouse.Songs)
	require.NoError(t, err)
	assert.Equal(t, warehouse.Songs, desc.Table)
	assert.Equal(t, int64(3), desc.Rows)
	require.Len(t, desc.Files, 2)

	partitions := []string{desc.Files[0].Partition, desc.Files[1].Partition}
	assert.ElementsMatch(t, []string{"year=2004/artist_id=AR1", "year=0/artist_id=AR2"}, partitions)
	for _, f := range desc.Files {
		assert.GreaterOrEqual(t, f.RowGroups, 1)
		assert.Contains(t, f.Path, "songs/"+f.Partition+"/")
	}

	require.NotNil(t, desc.Schema)
	names := make([]string, 0, len(desc.Schema.Fields()))
	for _, f := range desc.Schema.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, warehouse.Songs.FileColumns(), names)
}

func TestLake_DescribeMissingTable(t *testing.T) {
	l := newTestLake(t)
	_, err := l.Describe(warehouse.Users)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestLake_ReadTableProjection(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()
	_, err := l.WriteTable(ctx, warehouse.Songs, []core.Record{
		{"song_id": int64(1), "title": "Intro", "artist_id": "AR1", "year": int64(2004), "duration": 97.1},
	})
	require.NoError(t, err)

	got, err := l.ReadTable(ctx, warehouse.Songs, "song_id", "artist_id")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.Record{"song_id": int64(1), "artist_id": "AR1", "year": int32(2004)}, got[0])

	_, err = l.ReadTable(ctx, warehouse.Songs, "song_id", "tempo")
	assert.ErrorContains(t, err, `table songs has no column "tempo"`)
}

func TestLake_WriteRejectsOutOfRange(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()
	_, err := l.WriteTable(ctx, warehouse.Time, []core.Record{
		{"start_time": time.Date(2018, 11, 14, 9, 30, 0, 0, time.UTC), "hour": int64(1) << 40,
			"day": int32(14), "week": int32(46), "month": int32(11), "year": int32(2018), "weekday": int32(3)},
	})
	require.Error(t, err)
	assert.False(t, l.Exists(warehouse.Time))
}

func TestLake_CompressionAndRowGroups(t *testing.T) {
	l, err := New(t.TempDir(), WithCompression(compress.Codecs.Zstd), WithRowGroupSize(2))
	require.NoError(t, err)

	rows := make([]core.Record, 5)
	for i := range rows {
		rows[i] = core.Record{"user_id": string(rune('a' + i)), "level": "free"}
	}
	_, err = l.WriteTable(context.Background(), warehouse.Users, rows)
	require.NoError(t, err)

	desc, err := l.Describe(warehouse.Users)
	require.NoError(t, err)
	require.Len(t, desc.Files, 1)
	assert.Equal(t, int64(5), desc.Rows)
	assert.GreaterOrEqual(t, desc.Files[0].RowGroups, 2)

	pf, err := file.OpenParquetFile(filepath.Join(l.Root(), filepath.FromSlash(desc.Files[0].Path)), false)
	require.NoError(t, err)
	defer pf.Close()
	chunk, err := pf.RowGroup(0).MetaData().ColumnChunk(0)
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Zstd, chunk.Compression())
}
