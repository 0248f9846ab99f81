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

// Package runner assembles the full songlake run: catalog extraction, the
// activity extraction, the quality gate and the optional Postgres mirror and
// S3 publication, executed as one DAG.
package runner

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/aaronlmathis/songlake/activity"
	"github.com/aaronlmathis/songlake/catalog"
	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/dag"
	"github.com/aaronlmathis/songlake/dag/tasks"
	"github.com/aaronlmathis/songlake/lake"
	"github.com/aaronlmathis/songlake/metrics"
	"github.com/aaronlmathis/songlake/quality"
	"github.com/aaronlmathis/songlake/readers"
	"github.com/aaronlmathis/songlake/warehouse"
)

// Stage IDs of a run. users, time and songplays come from the activity plan.
const (
	StageCatalog   = "catalog"
	StageUsers     = activity.TaskUsers
	StageTime      = activity.TaskTime
	StageSongplays = activity.TaskSongplays
	StageQuality   = "quality"
	StageMirror    = "mirror"
	StagePublish   = "publish"
)

var stages = []string{StageCatalog, StageUsers, StageTime, StageSongplays, StageQuality, StageMirror, StagePublish}

// StageError names the stage a run failed in.
type StageError = tasks.StageError

// S3API is the S3 client used for inputs, publication and reports.
type S3API interface {
	readers.S3API
	lake.S3API
}

// Options configures a Runner.
type Options struct {
	SongData string
	LogData  string

	// StageTimeout bounds every task of the run; 0 means no timeout.
	StageTimeout time.Duration
	// Workers bounds concurrent tasks; 0 means one per CPU.
	Workers int

	// Checks run after songplays; none skips the quality stage.
	Checks   []quality.Check
	FailFast bool
	// QualityEngine replaces the DuckDB views over the lake.
	QualityEngine quality.Engine
	ReportPath    string
	ReportFormat  quality.ReportFormat

	// Postgres, when set, receives a copy of every table.
	Postgres       *sql.DB
	PostgresSchema string

	// PublishTo is an s3://bucket/prefix the lake is copied to once the
	// quality gate passed.
	PublishTo string

	S3 S3API
}

// Summary describes one run.
type Summary struct {
	RunID     string
	Catalog   catalog.Stats
	Activity  activity.Stats
	Quality   []quality.Result
	Mirrored  map[warehouse.Table]int64
	Published lake.PublishStats
	Stages    map[string]tasks.TaskResultMetadata
	Duration  time.Duration
}

// Runner executes songlake runs against one lake.
type Runner struct {
	lake    *lake.Lake
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the run logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics sets the metrics of the run.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock sets the clock used for run timing.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Runner) { r.clock = clock }
}

// New creates a Runner.
func New(l *lake.Lake, opts Options, options ...Option) *Runner {
	r := &Runner{
		lake:  l,
		opts:  opts,
		log:   slog.New(slog.DiscardHandler),
		clock: clockwork.NewRealClock(),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// run holds the outputs of the stages of one execution.
type run struct {
	mu      sync.Mutex
	summary Summary
}

// Run executes all stages. The summary holds whatever completed, also when
// an error is returned.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := r.clock.Now()
	st := &run{summary: Summary{RunID: uuid.NewString()}}
	log := r.log.With("run_id", st.summary.RunID)

	d, plan, err := r.build(log, st)
	if err != nil {
		return st.summary, err
	}
	d.LogStructure(log)

	exec := dag.NewDAGExecutor(
		dag.WithMaxWorkers(r.opts.Workers),
		dag.WithLogger(log),
		dag.WithClock(r.clock),
	)
	res, err := exec.Execute(ctx, d)

	st.mu.Lock()
	defer st.mu.Unlock()
	sum := &st.summary
	sum.Activity = plan.Finish(res)
	sum.Stages = make(map[string]tasks.TaskResultMetadata)
	for _, id := range stages {
		md, ok := res.TaskResults[id]
		if !ok {
			continue
		}
		sum.Stages[id] = md
		r.metrics.ObserveStage(id, md.EndTime.Sub(md.StartTime), md.Error)
	}
	sum.Duration = r.clock.Since(start)

	if err != nil {
		log.Error("run failed", "duration", sum.Duration, "error", err)
		return *sum, err
	}
	log.Info("run completed",
		"duration", sum.Duration,
		"songs", sum.Catalog.Songs.Rows,
		"artists", sum.Catalog.Artists.Rows,
		"users", sum.Activity.Users.Rows,
		"time", sum.Activity.Time.Rows,
		"songplays", sum.Activity.Songplays.Rows,
	)
	return *sum, nil
}

func (r *Runner) build(log *slog.Logger, st *run) (*dag.DAG, *activity.Plan, error) {
	b := dag.NewDAG("songlake", "songlake warehouse run").
		WithDefaultTimeout(r.opts.StageTimeout)
	if r.opts.Workers > 0 {
		b.WithMaxParallelism(r.opts.Workers)
	}

	songs := catalog.New(r.opts.SongData, r.lake,
		catalog.WithLogger(log), catalog.WithMetrics(r.metrics), catalog.WithS3Client(r.opts.S3))
	b.AddStageTask(StageCatalog, func(ctx context.Context, _ tasks.TaskInput) ([]core.Record, error) {
		stats, err := songs.Run(ctx)
		st.mu.Lock()
		st.summary.Catalog = stats
		st.mu.Unlock()
		return nil, err
	}, nil, tasks.WithDescription("songs and artists from song metadata"))

	events := activity.New(r.opts.LogData, r.lake,
		activity.WithLogger(log), activity.WithMetrics(r.metrics), activity.WithS3Client(r.opts.S3))
	plan, err := events.Plan(b, []string{StageCatalog})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to plan activity extraction: %w", err)
	}

	last := StageSongplays
	if len(r.opts.Checks) > 0 {
		b.AddStageTask(StageQuality, r.qualityStage(log, st), []string{StageSongplays},
			tasks.WithDescription("row-count quality gate"))
		last = StageQuality
	}
	if r.opts.Postgres != nil {
		b.AddStageTask(StageMirror, r.mirrorStage(st), []string{last},
			tasks.WithDescription("copy tables into Postgres"))
	}
	if r.opts.PublishTo != "" {
		if r.opts.S3 == nil {
			return nil, nil, fmt.Errorf("publish to %s: no s3 client configured", r.opts.PublishTo)
		}
		pub, err := lake.NewS3Publisher(r.opts.S3, r.opts.PublishTo, lake.WithPublishLogger(log))
		if err != nil {
			return nil, nil, err
		}
		b.AddStageTask(StagePublish, func(ctx context.Context, _ tasks.TaskInput) ([]core.Record, error) {
			stats, err := pub.Publish(ctx, r.lake, warehouse.Tables()...)
			r.metrics.ObservePublished(stats.ObjectsUploaded)
			st.mu.Lock()
			st.summary.Published = stats
			st.mu.Unlock()
			return nil, err
		}, []string{last}, tasks.WithDescription("publish the lake to S3"))
	}

	d, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return d, plan, nil
}

func (r *Runner) qualityStage(log *slog.Logger, st *run) tasks.StageFunc {
	return func(ctx context.Context, _ tasks.TaskInput) ([]core.Record, error) {
		engine := r.opts.QualityEngine
		if engine == nil {
			db, err := r.lake.OpenDuckDB(ctx)
			if err != nil {
				return nil, err
			}
			defer db.Close()
			engine = quality.NewSQLEngine(db, "duckdb")
		}

		gate := quality.NewGate(engine,
			quality.WithLogger(log),
			quality.WithMetrics(r.metrics),
			quality.WithFailFast(r.opts.FailFast),
			quality.WithConcurrency(r.opts.Workers),
		)
		results, err := gate.Run(ctx, r.opts.Checks)
		st.mu.Lock()
		st.summary.Quality = results
		st.mu.Unlock()

		if r.opts.ReportPath != "" && len(results) > 0 {
			if rerr := r.writeReport(ctx, results); rerr != nil {
				log.Error("failed to write quality report", "path", r.opts.ReportPath, "error", rerr)
				if err == nil {
					err = rerr
				}
			}
		}
		return nil, err
	}
}

func (r *Runner) writeReport(ctx context.Context, results []quality.Result) error {
	format := r.opts.ReportFormat
	if format == "" {
		format = quality.FormatJSON
	}
	sink, err := quality.NewReportSink(ctx, r.opts.ReportPath, format, r.opts.S3)
	if err != nil {
		return err
	}
	return quality.WriteReport(ctx, sink, results)
}

func (r *Runner) mirrorStage(st *run) tasks.StageFunc {
	return func(ctx context.Context, _ tasks.TaskInput) ([]core.Record, error) {
		loaded, err := r.lake.MirrorPostgres(ctx, r.opts.Postgres, r.opts.PostgresSchema, warehouse.Tables()...)
		st.mu.Lock()
		st.summary.Mirrored = loaded
		st.mu.Unlock()
		return nil, err
	}
}
