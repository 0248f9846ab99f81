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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job runs one round of checks.
type Job func(ctx context.Context) ([]Result, error)

// Job returns a Job running checks through the gate.
func (g *Gate) Job(checks []Check) Job {
	return func(ctx context.Context) ([]Result, error) {
		return g.Run(ctx, checks)
	}
}

// Scheduler runs a Job on cron expressions with a seconds field, for example
// "0 */5 * * * *" for every five minutes. Rounds never overlap: a round that
// is due while the previous one still runs is skipped.
type Scheduler struct {
	cron     *cron.Cron
	job      Job
	log      *slog.Logger
	timeout  time.Duration
	onResult func([]Result, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRoundTimeout bounds the duration of each round.
func WithRoundTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.timeout = d }
}

// WithResultHandler receives the outcome of every round.
func WithResultHandler(fn func([]Result, error)) SchedulerOption {
	return func(s *Scheduler) { s.onResult = fn }
}

// NewScheduler creates a stopped Scheduler for job.
func NewScheduler(job Job, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		job: job,
		log: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Schedule adds a round on expr.
func (s *Scheduler) Schedule(expr string) error {
	_, err := s.cron.AddFunc(expr, s.round)
	if err != nil {
		s.log.Error("failed to schedule quality checks", "cron_expression", expr, "error", err)
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.log.Info("scheduled quality checks", "cron_expression", expr)
	return nil
}

// Start begins running scheduled rounds.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.cron.Start()
	s.started = true
	s.log.Info("quality scheduler started", "entries", len(s.cron.Entries()))
	return nil
}

// Stop cancels a running round and waits for it to return. A stopped
// Scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info("quality scheduler stopped")
}

// RunOnce runs a single round immediately.
func (s *Scheduler) RunOnce(ctx context.Context) ([]Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	results, err := s.job(ctx)

	failed := 0
	for _, r := range results {
		if !r.Passed() {
			failed++
		}
	}
	if err != nil {
		s.log.Warn("quality round failed", "checks", len(results), "failed", failed, "duration", time.Since(start), "error", err)
	} else {
		s.log.Info("quality round passed", "checks", len(results), "duration", time.Since(start))
	}
	if s.onResult != nil {
		s.onResult(results, err)
	}
	return results, err
}

func (s *Scheduler) round() {
	s.RunOnce(s.ctx)
}
