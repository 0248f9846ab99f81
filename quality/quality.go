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

// Package quality asserts row-count bounds on the warehouse tables.
package quality

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/spf13/cast"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/metrics"
	"github.com/aaronlmathis/songlake/readers"
	"github.com/aaronlmathis/songlake/warehouse"
)

var (
	// ErrNoResults is returned when the count query yields no row.
	ErrNoResults = errors.New("returned no results")
	// ErrNoColumns is returned when the count query yields a row without columns.
	ErrNoColumns = errors.New("returned no columns")
)

// BoundKind names the violated bound of a check.
type BoundKind string

const (
	BoundMin BoundKind = "min"
	BoundMax BoundKind = "max"
)

// Check bounds the row count of one table. A nil bound is not enforced.
type Check struct {
	Table warehouse.Table
	Min   *int64
	Max   *int64
}

// Bound returns a pointer to n, for building checks.
func Bound(n int64) *int64 {
	return &n
}

func (c Check) String() string {
	s := c.Table.String()
	if c.Min != nil {
		s += fmt.Sprintf(" min=%d", *c.Min)
	}
	if c.Max != nil {
		s += fmt.Sprintf(" max=%d", *c.Max)
	}
	return s
}

// CheckError reports a row count outside its bounds.
type CheckError struct {
	Table warehouse.Table
	Count int64
	Bound int64
	Kind  BoundKind
}

func (e *CheckError) Error() string {
	if e.Kind == BoundMin {
		return fmt.Sprintf("data quality check failed: %s contained %d rows, less than expected min %d", e.Table, e.Count, e.Bound)
	}
	return fmt.Sprintf("data quality check failed: %s contained %d rows, more than expected max %d", e.Table, e.Count, e.Bound)
}

// Engine runs a query and streams its rows.
type Engine interface {
	Query(ctx context.Context, query string) (core.DataSource, error)
}

// SQLEngine runs queries on a database/sql connection.
type SQLEngine struct {
	db     *sql.DB
	driver string
}

// NewSQLEngine returns an Engine over db. driver names the engine in logs.
func NewSQLEngine(db *sql.DB, driver string) *SQLEngine {
	return &SQLEngine{db: db, driver: driver}
}

// Query implements Engine.
func (e *SQLEngine) Query(ctx context.Context, query string) (core.DataSource, error) {
	return readers.NewSQLReader(e.db, query), nil
}

// Driver returns the engine name.
func (e *SQLEngine) Driver() string {
	return e.driver
}

// Result is the outcome of one check.
type Result struct {
	Check     Check
	Count     int64 // -1 when the table could not be counted
	Err       error
	CheckedAt time.Time
	Duration  time.Duration
}

// Passed reports whether the check held.
func (r Result) Passed() bool {
	return r.Err == nil
}

// Gate runs row-count checks against an Engine.
type Gate struct {
	engine      Engine
	log         *slog.Logger
	metrics     *metrics.Metrics
	failFast    bool
	concurrency int
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// WithMetrics sets the metrics check outcomes are recorded in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithFailFast runs the checks one at a time in order and stops at the first
// failure.
func WithFailFast(failFast bool) Option {
	return func(g *Gate) { g.failFast = failFast }
}

// WithConcurrency bounds the number of checks run at once.
func WithConcurrency(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// NewGate creates a Gate over engine.
func NewGate(engine Engine, opts ...Option) *Gate {
	g := &Gate{
		engine:      engine,
		log:         slog.New(slog.DiscardHandler),
		concurrency: runtime.NumCPU(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Run executes checks. By default every check runs and the returned error
// joins all failures; with WithFailFast the first failure is returned and the
// remaining checks are skipped. Results are in check order.
func (g *Gate) Run(ctx context.Context, checks []Check) ([]Result, error) {
	if err := Validate(checks); err != nil {
		return nil, err
	}
	if g.failFast {
		return g.runSequential(ctx, checks)
	}

	pool := pond.NewResultPool[Result](g.concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, c := range checks {
		group.Submit(func() Result {
			return g.check(ctx, c)
		})
	}
	results, err := group.Wait()
	if err != nil {
		return results, err
	}

	errs := make([]error, 0, len(results))
	for _, r := range results {
		errs = append(errs, r.Err)
	}
	return results, errors.Join(errs...)
}

func (g *Gate) runSequential(ctx context.Context, checks []Check) ([]Result, error) {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := g.check(ctx, c)
		results = append(results, r)
		if r.Err != nil {
			return results, r.Err
		}
	}
	return results, nil
}

func (g *Gate) check(ctx context.Context, c Check) Result {
	start := time.Now()
	r := Result{Check: c, Count: -1, CheckedAt: start.UTC()}

	count, err := g.count(ctx, c.Table)
	switch {
	case err != nil:
		r.Err = err
	case c.Min != nil && count < *c.Min:
		r.Err = &CheckError{Table: c.Table, Count: count, Bound: *c.Min, Kind: BoundMin}
	case c.Max != nil && count > *c.Max:
		r.Err = &CheckError{Table: c.Table, Count: count, Bound: *c.Max, Kind: BoundMax}
	}
	if err == nil {
		r.Count = count
	}
	r.Duration = time.Since(start)

	g.metrics.ObserveCheck(c.Table.String(), r.Count, r.Passed())
	if r.Err != nil {
		g.log.Error("data quality check failed", "table", c.Table.String(), "count", r.Count, "error", r.Err)
		return r
	}
	g.log.Info("data quality check passed", "table", c.Table.String(), "count", count)
	return r
}

func (g *Gate) count(ctx context.Context, t warehouse.Table) (int64, error) {
	src, err := g.engine.Query(ctx, "SELECT COUNT(*) FROM "+t.Quoted())
	if err != nil {
		return 0, fmt.Errorf("data quality check failed: %s: %w", t, err)
	}
	defer src.Close()

	row, err := src.Read(ctx)
	if errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("data quality check failed: %s %w", t, ErrNoResults)
	}
	if err != nil {
		return 0, fmt.Errorf("data quality check failed: %s: %w", t, err)
	}
	if len(row) == 0 {
		return 0, fmt.Errorf("data quality check failed: %s %w", t, ErrNoColumns)
	}

	v := firstValue(src, row)
	count, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("data quality check failed: %s count %v: %w", t, v, err)
	}
	return count, nil
}

// firstValue returns the first column of row. Column names of COUNT(*) differ
// between engines.
func firstValue(src core.DataSource, row core.Record) interface{} {
	if c, ok := src.(interface{ Columns() []string }); ok {
		if cols := c.Columns(); len(cols) > 0 {
			return row[cols[0]]
		}
	}
	return row[row.Keys()[0]]
}
