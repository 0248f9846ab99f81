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

package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/aaronlmathis/songlake/aggregate"
	"github.com/aaronlmathis/songlake/core"
)

// TransformTask applies a Transformer to every record of its dependencies.
type TransformTask struct {
	baseTask
	transformer core.Transformer
}

func (tt *TransformTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	out := make([]core.Record, 0, len(input.Records))

	for _, record := range input.Records {
		if err := ctx.Err(); err != nil {
			return TaskOutput{}, err
		}
		transformed, err := tt.transformer.Transform(ctx, record)
		if err != nil {
			return TaskOutput{}, fmt.Errorf("transform failed: %w", err)
		}
		out = append(out, transformed)
	}

	return TaskOutput{
		Records:  out,
		Context:  input.Context,
		Metadata: result(start, int64(len(input.Records)), int64(len(out))),
	}, nil
}

// NewTransformTask creates a new TransformTask
func NewTransformTask(id string, transformer core.Transformer, dependencies []string, options ...TaskOption) *TransformTask {
	task := &TransformTask{
		baseTask:    newBase(id, TaskTypeTransform, dependencies),
		transformer: transformer,
	}
	apply(task, options)
	return task
}

// FilterTask keeps the records of its dependencies accepted by a Filter.
type FilterTask struct {
	baseTask
	filter core.Filter
}

func (ft *FilterTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	var out []core.Record

	for _, record := range input.Records {
		if err := ctx.Err(); err != nil {
			return TaskOutput{}, err
		}
		ok, err := ft.filter.ShouldInclude(ctx, record)
		if err != nil {
			return TaskOutput{}, fmt.Errorf("filter failed: %w", err)
		}
		if ok {
			out = append(out, record)
		}
	}

	return TaskOutput{
		Records:  out,
		Context:  input.Context,
		Metadata: result(start, int64(len(input.Records)), int64(len(out))),
	}, nil
}

// NewFilterTask creates a new FilterTask
func NewFilterTask(id string, filter core.Filter, dependencies []string, options ...TaskOption) *FilterTask {
	task := &FilterTask{
		baseTask: newBase(id, TaskTypeFilter, dependencies),
		filter:   filter,
	}
	apply(task, options)
	return task
}

// AggregateTask groups the records of its dependencies on key fields and
// emits one reduced record per group, in first-seen order.
type AggregateTask struct {
	baseTask
	factory aggregate.Factory
	keys    []string
}

func (at *AggregateTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	g := aggregate.NewGroupBy(at.factory, at.keys...)

	for _, record := range input.Records {
		if err := ctx.Err(); err != nil {
			return TaskOutput{}, err
		}
		if err := g.Add(ctx, record); err != nil {
			return TaskOutput{}, fmt.Errorf("aggregation failed: %w", err)
		}
	}

	out, err := g.Results()
	if err != nil {
		return TaskOutput{}, fmt.Errorf("aggregation result failed: %w", err)
	}
	return TaskOutput{
		Records:  out,
		Context:  input.Context,
		Metadata: result(start, int64(len(input.Records)), int64(len(out))),
	}, nil
}

// NewAggregateTask creates a task grouping on keys; no keys means full-row grouping.
func NewAggregateTask(id string, factory aggregate.Factory, keys []string, dependencies []string, options ...TaskOption) *AggregateTask {
	task := &AggregateTask{
		baseTask: newBase(id, TaskTypeAggregate, dependencies),
		factory:  factory,
		keys:     append([]string(nil), keys...),
	}
	apply(task, options)
	return task
}
