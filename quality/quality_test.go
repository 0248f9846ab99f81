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

package quality

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/metrics"
	"github.com/aaronlmathis/songlake/warehouse"
)

func openDuckDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTable(t *testing.T, db *sql.DB, table warehouse.Table, rows int) {
	t.Helper()
	_, err := db.Exec(fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT range AS id FROM range(%d)", table.Quoted(), rows))
	require.NoError(t, err)
}

func TestGate_Boundaries(t *testing.T) {
	tests := []struct {
		rows int
		kind BoundKind
	}{
		{rows: 9, kind: BoundMin},
		{rows: 10},
		{rows: 20},
		{rows: 21, kind: BoundMax},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d rows", tt.rows), func(t *testing.T) {
			db := openDuckDB(t)
			createTable(t, db, warehouse.Songs, tt.rows)

			gate := NewGate(NewSQLEngine(db, "duckdb"))
			results, err := gate.Run(context.Background(), []Check{{Table: warehouse.Songs, Min: Bound(10), Max: Bound(20)}})
			require.Len(t, results, 1)
			assert.Equal(t, int64(tt.rows), results[0].Count)

			if tt.kind == "" {
				require.NoError(t, err)
				assert.True(t, results[0].Passed())
				return
			}
			var ce *CheckError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, int64(tt.rows), ce.Count)
			assert.Equal(t, warehouse.Songs, ce.Table)
		})
	}
}

func TestGate_AbsentTable(t *testing.T) {
	db := openDuckDB(t)

	results, err := NewGate(NewSQLEngine(db, "duckdb")).Run(context.Background(), []Check{{Table: warehouse.Users, Min: Bound(1)}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "data quality check failed: users")
	require.Len(t, results, 1)
	assert.Equal(t, int64(-1), results[0].Count)
}

func TestGate_ReportsEveryFailure(t *testing.T) {
	db := openDuckDB(t)
	createTable(t, db, warehouse.Songs, 5)
	createTable(t, db, warehouse.Artists, 50)
	createTable(t, db, warehouse.Time, 15)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	gate := NewGate(NewSQLEngine(db, "duckdb"), WithMetrics(m), WithConcurrency(2))

	checks := []Check{
		{Table: warehouse.Songs, Min: Bound(10)},
		{Table: warehouse.Artists, Max: Bound(20)},
		{Table: warehouse.Time, Min: Bound(10), Max: Bound(20)},
	}
	results, err := gate.Run(context.Background(), checks)
	require.Error(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, warehouse.Songs, results[0].Check.Table)
	assert.False(t, results[0].Passed())
	assert.False(t, results[1].Passed())
	assert.True(t, results[2].Passed())

	msg := err.Error()
	assert.Contains(t, msg, "songs contained 5 rows, less than expected min 10")
	assert.Contains(t, msg, "artists contained 50 rows, more than expected max 20")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.QualityChecks.WithLabelValues("songs", "fail")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QualityChecks.WithLabelValues("time", "pass")))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.QualityRowCount.WithLabelValues("artists")))
}

func TestGate_FailFast(t *testing.T) {
	db := openDuckDB(t)
	createTable(t, db, warehouse.Songs, 5)
	createTable(t, db, warehouse.Artists, 50)

	gate := NewGate(NewSQLEngine(db, "duckdb"), WithFailFast(true))
	results, err := gate.Run(context.Background(), []Check{
		{Table: warehouse.Songs, Min: Bound(10)},
		{Table: warehouse.Artists, Max: Bound(20)},
	})
	var ce *CheckError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, warehouse.Songs, ce.Table)
	assert.Len(t, results, 1)
}

func TestGate_RejectsInvalidChecks(t *testing.T) {
	_, err := NewGate(NewSQLEngine(openDuckDB(t), "duckdb")).Run(context.Background(), []Check{
		{Table: warehouse.Table("playlists"), Min: Bound(1)},
		{Table: warehouse.Songs},
		{Table: warehouse.Artists, Min: Bound(5), Max: Bound(1)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCheck)
	assert.ErrorIs(t, err, warehouse.ErrUnknownTable)
	assert.ErrorContains(t, err, "no bound set")
	assert.ErrorContains(t, err, "min 5 greater than max 1")
}

type rowSource struct {
	rows []core.Record
}

func (s *rowSource) Read(ctx context.Context) (core.Record, error) {
	if len(s.rows) == 0 {
		return nil, io.EOF
	}
	r := s.rows[0]
	s.rows = s.rows[1:]
	return r, nil
}

func (s *rowSource) Close() error { return nil }

type fakeEngine struct {
	rows  []core.Record
	calls atomic.Int64
}

func (e *fakeEngine) Query(ctx context.Context, query string) (core.DataSource, error) {
	e.calls.Add(1)
	return &rowSource{rows: e.rows}, nil
}

func TestGate_EmptyResults(t *testing.T) {
	check := []Check{{Table: warehouse.Songs, Min: Bound(1)}}

	_, err := NewGate(&fakeEngine{}).Run(context.Background(), check)
	assert.ErrorIs(t, err, ErrNoResults)
	assert.ErrorContains(t, err, "songs returned no results")

	_, err = NewGate(&fakeEngine{rows: []core.Record{{}}}).Run(context.Background(), check)
	assert.ErrorIs(t, err, ErrNoColumns)

	_, err = NewGate(&fakeEngine{rows: []core.Record{{"count": "many"}}}).Run(context.Background(), check)
	assert.ErrorContains(t, err, "songs count many")
}

func TestParseChecks(t *testing.T) {
	checks, err := ParseChecks([]byte(`
checks:
  - table: songs
    min: 1
  - table: Songplays
    min: 10
    max: 20
`), nil)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, warehouse.Songs, checks[0].Table)
	assert.Nil(t, checks[0].Max)
	assert.Equal(t, warehouse.Songplays, checks[1].Table)
	assert.Equal(t, int64(20), *checks[1].Max)

	_, err = ParseChecks([]byte("checks:\n  - table: playlists\n    min: 1\n"), nil)
	assert.ErrorIs(t, err, warehouse.ErrUnknownTable)

	_, err = ParseChecks([]byte("checks:\n  - table: songs\n    minimum: 1\n"), nil)
	assert.ErrorContains(t, err, "failed to parse quality checks")

	_, err = ParseChecks([]byte("checks:\n  - table: songs\n"), nil)
	assert.ErrorIs(t, err, ErrInvalidCheck)
}

func TestParseChecks_SkipsEntryWithoutTable(t *testing.T) {
	var logs strings.Builder
	log := slog.New(slog.NewTextHandler(&logs, nil))

	checks, err := ParseChecks([]byte("checks:\n  - min: 1\n  - table: users\n    min: 1\n"), log)
	require.NoError(t, err)
	assert.Equal(t, []Check{{Table: warehouse.Users, Min: Bound(1)}}, checks)
	assert.Contains(t, logs.String(), "skipping quality check without a table")
	assert.Contains(t, logs.String(), "check=0")
}

func TestLoadChecks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checks:\n  - table: time\n    max: 0\n"), 0o644))

	checks, err := LoadChecks(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []Check{{Table: warehouse.Time, Max: Bound(0)}}, checks)

	_, err = LoadChecks(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestDefaultChecks(t *testing.T) {
	checks := DefaultChecks()
	require.Len(t, checks, len(warehouse.Tables()))
	require.NoError(t, Validate(checks))
	for _, c := range checks {
		assert.Equal(t, int64(1), *c.Min)
	}
}

func sampleResults() []Result {
	at := time.Date(2018, 11, 14, 9, 30, 0, 0, time.UTC)
	return []Result{
		{Check: Check{Table: warehouse.Songs, Min: Bound(1)}, Count: 3, CheckedAt: at},
		{Check: Check{Table: warehouse.Users, Min: Bound(1)}, Count: -1, Err: errors.New("users missing"), CheckedAt: at},
	}
}

func TestWriteReport_JSON(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reports", "quality.json")
	sink, err := NewReportSink(ctx, path, FormatJSON, nil)
	require.NoError(t, err)
	require.NoError(t, WriteReport(ctx, sink, sampleResults()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"passed":true`)
	assert.Contains(t, lines[0], `"count":3`)
	assert.Contains(t, lines[1], `"count":null`)
	assert.Contains(t, lines[1], `"error":"users missing"`)
}

func TestWriteReport_CSV(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quality.csv")
	sink, err := NewReportSink(ctx, path, FormatCSV, nil)
	require.NoError(t, err)
	require.NoError(t, WriteReport(ctx, sink, sampleResults()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(ReportColumns, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "songs,1,,3,true,"))
}

type fakePutter struct {
	bucket, key string
	body        []byte
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	body, err := io.ReadAll(in.Body)
	f.body = body
	return &s3.PutObjectOutput{}, err
}

func TestWriteReport_S3(t *testing.T) {
	ctx := context.Background()
	client := &fakePutter{}

	_, err := NewReportSink(ctx, "s3://reports/quality.json", FormatJSON, nil)
	assert.Error(t, err)

	sink, err := NewReportSink(ctx, "s3://reports/runs/quality.json", FormatJSON, client)
	require.NoError(t, err)
	require.NoError(t, WriteReport(ctx, sink, sampleResults()))

	assert.Equal(t, "reports", client.bucket)
	assert.Equal(t, "runs/quality.json", client.key)
	assert.Equal(t, 2, strings.Count(string(client.body), "\n"))
}

func TestParseReportFormat(t *testing.T) {
	f, err := ParseReportFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseReportFormat("xml")
	assert.Error(t, err)
}

func TestScheduler(t *testing.T) {
	engine := &fakeEngine{rows: []core.Record{{"count_star()": int64(3)}}}
	gate := NewGate(engine)

	var rounds atomic.Int64
	s := NewScheduler(gate.Job([]Check{{Table: warehouse.Songs, Min: Bound(1)}}),
		WithRoundTimeout(time.Second),
		WithResultHandler(func(results []Result, err error) {
			if err == nil && len(results) == 1 {
				rounds.Add(1)
			}
		}),
	)
	require.Error(t, s.Schedule("not a cron"))
	require.NoError(t, s.Schedule("@every 1s"))
	require.NoError(t, s.Start())
	require.Error(t, s.Start())

	require.Eventually(t, func() bool { return rounds.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	assert.GreaterOrEqual(t, engine.calls.Load(), int64(1))
}

func TestScheduler_RunOnce(t *testing.T) {
	s := NewScheduler(NewGate(&fakeEngine{}).Job([]Check{{Table: warehouse.Songs, Min: Bound(1)}}))
	results, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrNoResults)
	assert.Len(t, results, 1)
}
