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

// Package tasks defines the units of work executed by a dag.DAG.
package tasks

import (
	"context"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// TaskType represents the type of task
type TaskType string

const (
	TaskTypeSource    TaskType = "source"
	TaskTypeTransform TaskType = "transform"
	TaskTypeFilter    TaskType = "filter"
	TaskTypeAggregate TaskType = "aggregate"
	TaskTypeJoin      TaskType = "join"
	TaskTypeSink      TaskType = "sink"
	TaskTypeStage     TaskType = "stage"
)

// TaskMetadata holds metadata about a task
type TaskMetadata struct {
	Name        string
	Description string
	TaskType    TaskType
	Timeout     time.Duration
	Tags        []string
}

// TaskInput represents input data for task execution
type TaskInput struct {
	Records   []core.Record
	Context   map[string]interface{}
	SourceMap map[string][]core.Record
	Metadata  map[string]TaskResultMetadata
}

// TaskOutput represents output data from task execution
type TaskOutput struct {
	Records  []core.Record
	Context  map[string]interface{}
	Metadata TaskResultMetadata
}

// TaskResultMetadata holds execution result metadata
type TaskResultMetadata struct {
	StartTime  time.Time
	EndTime    time.Time
	RecordsIn  int64
	RecordsOut int64
	Skipped    int64
	Success    bool
	Error      error
}

// Duration returns the wall time of the execution.
func (m TaskResultMetadata) Duration() time.Duration {
	return m.EndTime.Sub(m.StartTime)
}

// Task defines the interface that all tasks must implement
type Task interface {
	ID() string
	Dependencies() []string
	Execute(ctx context.Context, input TaskInput) (TaskOutput, error)
	Metadata() TaskMetadata
	SetTimeout(timeout time.Duration)
	SetDescription(description string)
	SetTags(tags ...string)
}

// TaskOption is a functional option for configuring tasks
type TaskOption func(Task)

// WithTimeout bounds a single execution of the task.
func WithTimeout(timeout time.Duration) TaskOption {
	return func(t Task) {
		t.SetTimeout(timeout)
	}
}

// WithDescription sets the description for a task
func WithDescription(description string) TaskOption {
	return func(t Task) {
		t.SetDescription(description)
	}
}

// WithTags adds tags to a task
func WithTags(tags ...string) TaskOption {
	return func(t Task) {
		t.SetTags(tags...)
	}
}

// baseTask carries the identity and metadata shared by every task.
type baseTask struct {
	id           string
	dependencies []string
	metadata     TaskMetadata
}

func newBase(id string, typ TaskType, dependencies []string) baseTask {
	return baseTask{
		id:           id,
		dependencies: append([]string(nil), dependencies...),
		metadata: TaskMetadata{
			Name:     id,
			TaskType: typ,
		},
	}
}

func (b *baseTask) ID() string             { return b.id }
func (b *baseTask) Dependencies() []string { return b.dependencies }
func (b *baseTask) Metadata() TaskMetadata { return b.metadata }

func (b *baseTask) SetTimeout(timeout time.Duration) { b.metadata.Timeout = timeout }
func (b *baseTask) SetDescription(description string) {
	b.metadata.Description = description
}

func (b *baseTask) SetTags(tags ...string) {
	b.metadata.Tags = append(b.metadata.Tags, tags...)
}

func apply(t Task, options []TaskOption) {
	for _, opt := range options {
		opt(t)
	}
}

func result(start time.Time, in, out int64) TaskResultMetadata {
	return TaskResultMetadata{
		StartTime:  start,
		EndTime:    time.Now(),
		RecordsIn:  in,
		RecordsOut: out,
		Success:    true,
	}
}
