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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/warehouse"
)

func countRows(t *testing.T, ctx context.Context, l *Lake, table warehouse.Table) (int64, error) {
	t.Helper()
	db, err := l.OpenDuckDB(ctx)
	require.NoError(t, err)
	defer db.Close()

	var n int64
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table.Quoted()).Scan(&n)
	return n, err
}

func TestOpenDuckDB_CountsPartitionedTable(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()

	_, err := l.WriteTable(ctx, warehouse.Songs, []core.Record{
		{"song_id": int64(1), "title": "A", "artist_id": "AR1", "year": int64(2001), "duration": 1.0},
		{"song_id": int64(2), "title": "B", "artist_id": "AR2", "year": int64(2001), "duration": 2.0},
		{"song_id": int64(3), "title": "C", "artist_id": nil, "year": nil, "duration": 3.0},
	})
	require.NoError(t, err)

	n, err := countRows(t, ctx, l, warehouse.Songs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	db, err := l.OpenDuckDB(ctx)
	require.NoError(t, err)
	defer db.Close()

	var nullYears int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "songs" WHERE "year" IS NULL`).Scan(&nullYears))
	assert.Equal(t, int64(1), nullYears)

	var total int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT CAST(SUM("year") AS BIGINT) FROM "songs"`).Scan(&total))
	assert.Equal(t, int64(4002), total)
}

func TestOpenDuckDB_EmptyTableHasTypedView(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()

	_, err := l.WriteTable(ctx, warehouse.Users, nil)
	require.NoError(t, err)

	n, err := countRows(t, ctx, l, warehouse.Users)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenDuckDB_MissingTableFails(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()

	_, err := countRows(t, ctx, l, warehouse.Songplays)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "songplays")
}

func TestViewSQL(t *testing.T) {
	l := &Lake{root: "/data/lake"}

	empty := l.viewSQL(warehouse.Users, false)
	assert.Equal(t,
		`CREATE OR REPLACE VIEW "users" AS SELECT CAST(NULL AS VARCHAR) AS "user_id", CAST(NULL AS VARCHAR) AS "first_name", CAST(NULL AS VARCHAR) AS "last_name", CAST(NULL AS VARCHAR) AS "gender", CAST(NULL AS VARCHAR) AS "level" WHERE false`,
		empty)

	withData := l.viewSQL(warehouse.Time, true)
	assert.Contains(t, withData, `read_parquet('/data/lake/time/**/*.parquet', hive_partitioning = true, hive_types_autocast = false)`)
	assert.Contains(t, withData, `CAST(NULLIF("year", '__HIVE_DEFAULT_PARTITION__') AS INTEGER) AS "year"`)

	flat := l.viewSQL(warehouse.Artists, true)
	assert.Contains(t, flat, `FROM read_parquet('/data/lake/artists/*.parquet')`)
}
