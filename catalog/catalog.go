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

// Package catalog extracts the song and artist dimensions from song metadata
// files.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aaronlmathis/songlake"
	"github.com/aaronlmathis/songlake/aggregate"
	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/lake"
	"github.com/aaronlmathis/songlake/metrics"
	"github.com/aaronlmathis/songlake/readers"
	"github.com/aaronlmathis/songlake/transform"
	"github.com/aaronlmathis/songlake/validators"
	"github.com/aaronlmathis/songlake/warehouse"
	"github.com/aaronlmathis/songlake/writers"
)

// Error reports the step of the extraction that failed.
type Error struct {
	Op  string // "read", "songs", "artists", "validate", "write"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// naturalKey identifies a song.
var naturalKey = []string{"title", "artist_id", "year", "duration"}

var artistColumns = map[string]string{
	"artist_name":      "name",
	"artist_location":  "location",
	"artist_latitude":  "latitude",
	"artist_longitude": "longitude",
}

// Stats describes one extraction.
type Stats struct {
	RecordsRead    int64
	RecordsSkipped int64 // malformed files or records
	FieldFaults    int64 // fields nulled by schema coercion
	Songs          lake.TableStats
	Artists        lake.TableStats
	Duration       time.Duration
}

// Extractor reads song metadata and overwrites the songs and artists tables.
type Extractor struct {
	root    string
	lake    *lake.Lake
	s3      readers.S3API
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the extractor logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Extractor) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics sets the metrics the extractor reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithS3Client sets the client used for s3:// roots.
func WithS3Client(client readers.S3API) Option {
	return func(e *Extractor) { e.s3 = client }
}

// New creates an Extractor reading every *.json file below root, a local
// directory or an s3://bucket/prefix location.
func New(root string, l *lake.Lake, opts ...Option) *Extractor {
	e := &Extractor{
		root: root,
		lake: l,
		log:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run extracts and persists both tables. Malformed files are skipped and
// counted; a missing root aborts the run.
func (e *Extractor) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	records, err := e.read(ctx, &stats)
	if err != nil {
		return stats, &Error{Op: "read", Err: err}
	}

	songs, err := SongRows(ctx, records)
	if err != nil {
		return stats, &Error{Op: "songs", Err: err}
	}
	artists, err := ArtistRows(ctx, records)
	if err != nil {
		return stats, &Error{Op: "artists", Err: err}
	}

	if err := songValidator.Validate(ctx, songs); err != nil {
		return stats, &Error{Op: "validate", Err: err}
	}
	if err := artistValidator.Validate(ctx, artists); err != nil {
		return stats, &Error{Op: "validate", Err: err}
	}

	if stats.Songs, err = e.lake.WriteTable(ctx, warehouse.Songs, songs); err != nil {
		return stats, &Error{Op: "write", Err: err}
	}
	e.metrics.ObserveRows(warehouse.Songs.String(), stats.Songs.Rows)
	if stats.Artists, err = e.lake.WriteTable(ctx, warehouse.Artists, artists); err != nil {
		return stats, &Error{Op: "write", Err: err}
	}
	e.metrics.ObserveRows(warehouse.Artists.String(), stats.Artists.Rows)

	stats.Duration = time.Since(start)
	e.log.Info("catalog extracted",
		"records", stats.RecordsRead,
		"skipped", stats.RecordsSkipped,
		"field_faults", stats.FieldFaults,
		"songs", stats.Songs.Rows,
		"artists", stats.Artists.Rows,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (e *Extractor) read(ctx context.Context, stats *Stats) ([]core.Record, error) {
	src, err := readers.NewJSONSource(e.root, e.s3)
	if err != nil {
		return nil, err
	}

	var faults atomic.Int64
	sink := writers.NewMemoryWriter()
	p, err := songlake.NewPipeline().
		From(src).
		Transform(transform.Coerce(warehouse.SongSchema, func(n int) { faults.Add(int64(n)) })).
		To(sink).
		WithErrorStrategy(songlake.SkipErrors).
		WithLogger(e.log).
		Build()
	if err != nil {
		return nil, err
	}
	if err := p.Execute(ctx); err != nil {
		return nil, err
	}

	ps := p.Stats()
	stats.RecordsRead = ps.RecordsRead
	stats.RecordsSkipped = ps.RecordsFailed
	stats.FieldFaults = faults.Load()
	e.metrics.ObserveSkipped("catalog", "malformed", ps.RecordsFailed)
	e.metrics.ObserveSkipped("catalog", "field_fault", stats.FieldFaults)
	return sink.Records(), nil
}

var (
	songValidator = validators.New(
		validators.WithNotNull("song_id"),
		validators.WithUniqueKey("song_id"),
	)
	artistValidator = validators.New(
		validators.WithNotNull("artist_id"),
		validators.WithUniqueKey("artist_id"),
	)
)

// SongRows projects song records onto the songs table: one row per distinct
// (title, artist_id, year, duration), sorted on that key, with song_id
// numbered from 1 in that order.
func SongRows(ctx context.Context, records []core.Record) ([]core.Record, error) {
	rows := make([]core.Record, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.Project(naturalKey...))
	}
	rows, err := aggregate.DistinctBy(ctx, rows, naturalKey...)
	if err != nil {
		return nil, err
	}
	if err := aggregate.SortBy(rows, naturalKey...); err != nil {
		return nil, err
	}
	for i, r := range rows {
		r["song_id"] = int64(i + 1)
	}
	return rows, nil
}

// ArtistRows projects song records onto the artists table. Identical rows
// collapse to one; when an artist_id still appears with differing
// attributes the first row in input order is kept. Rows without an
// artist_id are dropped.
func ArtistRows(ctx context.Context, records []core.Record) ([]core.Record, error) {
	rows := make([]core.Record, 0, len(records))
	for _, r := range records {
		if r["artist_id"] == nil {
			continue
		}
		row := core.Record{"artist_id": r["artist_id"]}
		for src, dst := range artistColumns {
			row[dst] = r[src]
		}
		rows = append(rows, row)
	}
	rows, err := aggregate.DistinctBy(ctx, rows)
	if err != nil {
		return nil, err
	}
	return aggregate.DistinctBy(ctx, rows, "artist_id")
}
