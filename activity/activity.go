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

// Package activity extracts the user and time dimensions and the songplays
// fact table from user activity logs.
//
// The extraction is planned as tasks on a dag.DAGBuilder:
//
//	events -> coerced_events -> plays -> user_rows -> known_users -> latest_users -> users_check -> users
//	                                  -> time_rows -> timed -> distinct_time -> time_check -> time
//	plays, users, time (and the catalog, when planned together) -> songplays
//
// users and time are independent and run concurrently; songplays re-reads
// the persisted songs and artists tables.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aaronlmathis/songlake/aggregate"
	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/dag"
	"github.com/aaronlmathis/songlake/dag/tasks"
	"github.com/aaronlmathis/songlake/filter"
	"github.com/aaronlmathis/songlake/lake"
	"github.com/aaronlmathis/songlake/metrics"
	"github.com/aaronlmathis/songlake/readers"
	"github.com/aaronlmathis/songlake/transform"
	"github.com/aaronlmathis/songlake/validators"
	"github.com/aaronlmathis/songlake/warehouse"
)

// Task IDs of the planned steps.
const (
	TaskEvents    = "events"
	TaskPlays     = "plays"
	TaskUsers     = "users"
	TaskTime      = "time"
	TaskSongplays = "songplays"
)

// Error reports the step of the extraction that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("activity %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var userColumns = map[string]string{
	"userId":    "user_id",
	"firstName": "first_name",
	"lastName":  "last_name",
}

var (
	userValidator = validators.New(
		validators.WithNotNull("user_id"),
		validators.WithUniqueKey("user_id"),
	)
	timeValidator = validators.New(
		validators.WithNotNull("start_time"),
		validators.WithUniqueKey("start_time"),
	)
	songplayValidator = validators.New(
		validators.WithNotNull("songplay_id"),
		validators.WithUniqueKey("songplay_id"),
	)
)

// Stats describes one extraction.
type Stats struct {
	RecordsRead    int64
	RecordsSkipped int64 // malformed records
	FieldFaults    int64 // fields nulled by schema coercion
	Events         int64 // NextSong events
	Matched        int64 // songplays resolved to a song
	Users          lake.TableStats
	Time           lake.TableStats
	Songplays      lake.TableStats
	Duration       time.Duration
}

// Extractor reads activity logs and overwrites the users, time and
// songplays tables.
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
// directory or an s3://bucket/prefix location. Each file holds one event
// per line.
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

// Run plans and executes the extraction. The songs and artists tables must
// already exist.
func (e *Extractor) Run(ctx context.Context) (Stats, error) {
	b := dag.NewDAG("activity", "activity extraction")
	plan, err := e.Plan(b, nil)
	if err != nil {
		return Stats{}, &Error{Op: "plan", Err: err}
	}
	d, err := b.Build()
	if err != nil {
		return Stats{}, &Error{Op: "plan", Err: err}
	}

	res, err := dag.NewDAGExecutor(dag.WithLogger(e.log)).Execute(ctx, d)
	stats := plan.Finish(res)
	if err != nil {
		return stats, &Error{Op: "run", Err: err}
	}
	return stats, nil
}

// Plan is one planned extraction. It must be executed once.
type Plan struct {
	e      *Extractor
	users  *lake.TableSink
	time   *lake.TableSink
	faults atomic.Int64

	mu        sync.Mutex
	songplays lake.TableStats
	matched   int64
}

// Plan adds the extraction tasks to b. songplays additionally depends on
// after, which must produce the songs and artists tables. opts apply to
// every task.
func (e *Extractor) Plan(b *dag.DAGBuilder, after []string, opts ...tasks.TaskOption) (*Plan, error) {
	src, err := readers.NewJSONSource(e.root, e.s3)
	if err != nil {
		return nil, err
	}
	p := &Plan{e: e}
	if p.users, err = e.lake.NewTableSink(warehouse.Users); err != nil {
		return nil, err
	}
	if p.time, err = e.lake.NewTableSink(warehouse.Time); err != nil {
		return nil, err
	}

	onFault := func(n int) { p.faults.Add(int64(n)) }

	b.AddSourceTask(TaskEvents, src, opts...).
		AddTransformTask("coerced_events", transform.Coerce(warehouse.ActivitySchema, onFault), []string{TaskEvents}, opts...).
		AddFilterTask(TaskPlays, filter.Equals("page", "NextSong"), []string{"coerced_events"}, opts...)

	b.AddTransformTask("user_rows", transform.Chain(
		transform.Select("userId", "firstName", "lastName", "gender", "level", "ts"),
		transform.Rename(userColumns),
	), []string{TaskPlays}, opts...).
		AddFilterTask("known_users", filter.NotNull("user_id"), []string{"user_rows"}, opts...).
		AddAggregateTask("latest_users", aggregate.Latest("ts"), []string{"user_id"}, []string{"known_users"}, opts...).
		AddStageTask("users_check", check(userValidator), []string{"latest_users"}, opts...).
		AddSinkTask(TaskUsers, p.users, []string{"users_check"}, opts...)

	b.AddTransformTask("time_rows", transform.Chain(
		transform.EpochMillis("ts", "start_time"),
		transform.Select("start_time"),
		transform.CalendarFields("start_time"),
	), []string{TaskPlays}, opts...).
		AddFilterTask("timed", filter.NotNull("start_time"), []string{"time_rows"}, opts...).
		AddAggregateTask("distinct_time", aggregate.First, []string{"start_time"}, []string{"timed"}, opts...).
		AddStageTask("time_check", check(timeValidator), []string{"distinct_time"}, opts...).
		AddSinkTask(TaskTime, p.time, []string{"time_check"}, opts...)

	deps := append([]string{TaskPlays, TaskUsers, TaskTime}, after...)
	b.AddStageTask(TaskSongplays, p.runSongplays, deps, opts...)
	return p, nil
}

func check(v *validators.RowValidator) tasks.StageFunc {
	return func(ctx context.Context, in tasks.TaskInput) ([]core.Record, error) {
		if err := v.Validate(ctx, in.Records); err != nil {
			return nil, err
		}
		return in.Records, nil
	}
}

func (p *Plan) runSongplays(ctx context.Context, in tasks.TaskInput) ([]core.Record, error) {
	songs, err := p.e.lake.ReadTable(ctx, warehouse.Songs, "song_id", "title", "artist_id")
	if err != nil {
		return nil, err
	}
	artists, err := p.e.lake.ReadTable(ctx, warehouse.Artists, "artist_id", "name")
	if err != nil {
		return nil, err
	}

	rows, matched, err := SongplayRows(ctx, in.SourceMap[TaskPlays], songs, artists)
	if err != nil {
		return nil, err
	}
	if err := songplayValidator.Validate(ctx, rows); err != nil {
		return nil, err
	}
	stats, err := p.e.lake.WriteTable(ctx, warehouse.Songplays, rows)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.songplays = stats
	p.matched = matched
	p.mu.Unlock()
	return nil, nil
}

// Finish collects the statistics of an executed plan and reports them.
func (p *Plan) Finish(res *dag.DAGResult) Stats {
	stats := Stats{
		FieldFaults: p.faults.Load(),
		Users:       p.users.Stats(),
		Time:        p.time.Stats(),
	}
	if res != nil {
		events := res.TaskResults[TaskEvents]
		stats.RecordsRead = events.RecordsOut
		stats.RecordsSkipped = events.Skipped
		stats.Events = res.TaskResults[TaskPlays].RecordsOut
		stats.Duration = res.Duration()
	}
	p.mu.Lock()
	stats.Songplays = p.songplays
	stats.Matched = p.matched
	p.mu.Unlock()

	m := p.e.metrics
	m.ObserveSkipped("activity", "malformed", stats.RecordsSkipped)
	m.ObserveSkipped("activity", "field_fault", stats.FieldFaults)
	m.ObserveRows(warehouse.Users.String(), stats.Users.Rows)
	m.ObserveRows(warehouse.Time.String(), stats.Time.Rows)
	m.ObserveRows(warehouse.Songplays.String(), stats.Songplays.Rows)

	p.e.log.Info("activity extracted",
		"records", stats.RecordsRead,
		"skipped", stats.RecordsSkipped,
		"field_faults", stats.FieldFaults,
		"events", stats.Events,
		"users", stats.Users.Rows,
		"time", stats.Time.Rows,
		"songplays", stats.Songplays.Rows,
		"matched", stats.Matched,
	)
	return stats
}

// SongplayRows builds one songplays row per event. Songs are joined to
// artists on artist_id to form the catalog; each event is then looked up by
// (song, artist) == (title, name), taking the lowest song_id when several
// songs match. Unmatched events keep nil song_id and artist_id. It returns
// the rows and the number of matched events.
func SongplayRows(ctx context.Context, events, songs, artists []core.Record) ([]core.Record, int64, error) {
	catalog, err := aggregate.Join(ctx, songs, artists, aggregate.JoinConfig{
		Type:        aggregate.InnerJoin,
		LeftKeys:    []string{"artist_id"},
		RightKeys:   []string{"artist_id"},
		RightFields: []string{"name"},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("catalog join: %w", err)
	}
	if err := aggregate.SortBy(catalog, "song_id"); err != nil {
		return nil, 0, fmt.Errorf("catalog order: %w", err)
	}

	joined, err := aggregate.Join(ctx, events, catalog, aggregate.JoinConfig{
		Type:        aggregate.LeftJoin,
		LeftKeys:    []string{"song", "artist"},
		RightKeys:   []string{"title", "name"},
		RightFields: []string{"song_id", "artist_id"},
		FirstMatch:  true,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("event join: %w", err)
	}

	startTime := transform.EpochMillis("ts", "start_time")
	rows := make([]core.Record, 0, len(joined))
	var matched int64
	for i, r := range joined {
		r, err := startTime.Transform(ctx, r)
		if err != nil {
			return nil, 0, err
		}
		if r["song_id"] != nil {
			matched++
		}
		cal := transform.CalendarParts(r["start_time"])
		rows = append(rows, core.Record{
			"songplay_id": int64(i + 1),
			"start_time":  r["start_time"],
			"user_id":     r["userId"],
			"level":       r["level"],
			"song_id":     r["song_id"],
			"artist_id":   r["artist_id"],
			"session_id":  r["sessionId"],
			"location":    r["location"],
			"user_agent":  r["userAgent"],
			"year":        cal["year"],
			"month":       cal["month"],
		})
	}
	return rows, matched, nil
}
