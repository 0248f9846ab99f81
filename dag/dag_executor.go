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

package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/dag/tasks"
)

// DAGExecutor runs the levels of a DAG in order, the tasks of one level
// concurrently on a bounded worker pool. The first failing task cancels its
// level and no further level is started.
type DAGExecutor struct {
	maxWorkers int
	log        *slog.Logger
	clock      clockwork.Clock
}

// DAGExecutorOption configures a DAGExecutor
type DAGExecutorOption func(*DAGExecutor)

// WithMaxWorkers caps the concurrent tasks below the DAG's own parallelism.
func WithMaxWorkers(workers int) DAGExecutorOption {
	return func(de *DAGExecutor) {
		if workers > 0 {
			de.maxWorkers = workers
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(log *slog.Logger) DAGExecutorOption {
	return func(de *DAGExecutor) {
		if log != nil {
			de.log = log
		}
	}
}

// WithClock sets the clock used for result timestamps.
func WithClock(clock clockwork.Clock) DAGExecutorOption {
	return func(de *DAGExecutor) {
		if clock != nil {
			de.clock = clock
		}
	}
}

// NewDAGExecutor creates a new DAG executor with options
func NewDAGExecutor(opts ...DAGExecutorOption) *DAGExecutor {
	de := &DAGExecutor{
		log:   slog.New(slog.DiscardHandler),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(de)
	}
	return de
}

// DAGResult contains the results of DAG execution
type DAGResult struct {
	Success     bool
	StartTime   time.Time
	EndTime     time.Time
	TaskResults map[string]tasks.TaskResultMetadata
	Error       error
}

// Duration returns the wall time of the run.
func (r *DAGResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// executionContext holds state during DAG execution
type executionContext struct {
	dag         *DAG
	mu          sync.RWMutex
	taskOutputs map[string]tasks.TaskOutput
	taskResults map[string]tasks.TaskResultMetadata
	global      map[string]interface{}
}

// Execute runs the DAG. The returned result is never nil; on failure it holds
// the results of the tasks that ran and the error, which is also returned.
func (de *DAGExecutor) Execute(ctx context.Context, d *DAG) (*DAGResult, error) {
	res := &DAGResult{
		StartTime:   de.clock.Now(),
		TaskResults: make(map[string]tasks.TaskResultMetadata),
	}
	levels, err := d.Levels()
	if err != nil {
		res.EndTime = de.clock.Now()
		res.Error = err
		return res, err
	}

	workers := d.metadata.MaxParallelism
	if de.maxWorkers > 0 && (workers <= 0 || de.maxWorkers < workers) {
		workers = de.maxWorkers
	}
	if workers <= 0 {
		workers = 1
	}
	pool := pond.NewPool(workers)
	defer pool.StopAndWait()

	ec := &executionContext{
		dag:         d,
		taskOutputs: make(map[string]tasks.TaskOutput),
		taskResults: res.TaskResults,
		global:      make(map[string]interface{}),
	}

	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			return de.finish(res, err)
		}
		if err := de.executeLevel(ctx, pool, ec, level); err != nil {
			return de.finish(res, err)
		}
		de.log.Debug("dag level completed", "dag", d.id, "level", i, "tasks", len(level))
	}

	res.Success = true
	return de.finish(res, nil)
}

func (de *DAGExecutor) finish(res *DAGResult, err error) (*DAGResult, error) {
	res.EndTime = de.clock.Now()
	res.Error = err
	return res, err
}

func (de *DAGExecutor) executeLevel(ctx context.Context, pool pond.Pool, ec *executionContext, ids []string) error {
	levelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		errs []error
	)
	group := pool.NewGroupContext(levelCtx)
	for _, id := range ids {
		group.SubmitErr(func() error {
			if err := de.executeTask(levelCtx, ec, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
				return err
			}
			return nil
		})
	}
	werr := group.Wait()
	if len(errs) == 0 {
		return werr
	}

	// report the root cause, not the cancellations it triggered
	for _, err := range errs {
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return errs[0]
}

func (de *DAGExecutor) executeTask(ctx context.Context, ec *executionContext, id string) error {
	task := ec.dag.tasks[id]
	md := task.Metadata()

	timeout := md.Timeout
	if timeout == 0 {
		timeout = ec.dag.metadata.DefaultTimeout
	}
	taskCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := de.clock.Now()
	output, err := task.Execute(taskCtx, ec.prepareInput(task))
	if err != nil {
		ec.mu.Lock()
		ec.taskResults[id] = tasks.TaskResultMetadata{
			StartTime: start,
			EndTime:   de.clock.Now(),
			Error:     err,
		}
		ec.mu.Unlock()
		de.log.Error("task failed", "task", id, "error", err)

		var se *tasks.StageError
		if errors.As(err, &se) {
			return err
		}
		return fmt.Errorf("task %s failed: %w", id, err)
	}

	output.Metadata.Success = true
	ec.mu.Lock()
	ec.taskOutputs[id] = output
	ec.taskResults[id] = output.Metadata
	for k, v := range output.Context {
		ec.global[k] = v
	}
	ec.mu.Unlock()

	de.log.Info("task completed",
		"task", id,
		"type", md.TaskType,
		"records_in", output.Metadata.RecordsIn,
		"records_out", output.Metadata.RecordsOut,
		"duration", de.clock.Since(start),
	)
	return nil
}

func (ec *executionContext) prepareInput(task tasks.Task) tasks.TaskInput {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	var all []core.Record
	sourceMap := make(map[string][]core.Record)
	metadata := make(map[string]tasks.TaskResultMetadata)
	for _, dep := range task.Dependencies() {
		if out, ok := ec.taskOutputs[dep]; ok {
			all = append(all, out.Records...)
			sourceMap[dep] = out.Records
			metadata[dep] = out.Metadata
		}
	}

	global := make(map[string]interface{}, len(ec.global))
	for k, v := range ec.global {
		global[k] = v
	}
	return tasks.TaskInput{
		Records:   all,
		Context:   global,
		SourceMap: sourceMap,
		Metadata:  metadata,
	}
}
