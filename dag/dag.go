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
	"fmt"
	"log/slog"
	"sort"

	"github.com/aaronlmathis/songlake/dag/tasks"
)

// ID returns the DAG's unique identifier
func (d *DAG) ID() string {
	return d.id
}

// Name returns the DAG's name
func (d *DAG) Name() string {
	return d.name
}

// Metadata returns the DAG's metadata
func (d *DAG) Metadata() DAGMetadata {
	return d.metadata
}

// Task returns a task by ID.
func (d *DAG) Task(id string) (tasks.Task, bool) {
	t, ok := d.tasks[id]
	return t, ok
}

// TaskIDs returns every task ID in lexical order.
func (d *DAG) TaskIDs() []string {
	ids := make([]string, 0, len(d.tasks))
	for id := range d.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies returns the upstream tasks of taskID.
func (d *DAG) Dependencies(taskID string) []string {
	return d.dependencies[taskID]
}

// Downstream returns the tasks that depend on taskID, in lexical order.
func (d *DAG) Downstream(taskID string) []string {
	var out []string
	for id, deps := range d.dependencies {
		for _, dep := range deps {
			if dep == taskID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ExecutionOrder returns the tasks in a topological order. Ties are broken
// lexically so the order is stable across calls.
func (d *DAG) ExecutionOrder() ([]string, error) {
	return d.topologicalSort()
}

// Levels groups the tasks by dependency depth. Tasks of one level only
// depend on tasks of earlier levels and may run concurrently.
func (d *DAG) Levels() ([][]string, error) {
	order, err := d.topologicalSort()
	if err != nil {
		return nil, err
	}
	level := make(map[string]int, len(order))
	var levels [][]string
	for _, id := range order {
		l := 0
		for _, dep := range d.dependencies[id] {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	for _, ids := range levels {
		sort.Strings(ids)
	}
	return levels, nil
}

// Validate reports every structural problem of the graph.
func (d *DAG) Validate() []error {
	var errs []error
	for _, id := range d.TaskIDs() {
		for _, dep := range d.dependencies[id] {
			if _, ok := d.tasks[dep]; !ok {
				errs = append(errs, fmt.Errorf("task %s depends on non-existent task %s", id, dep))
			}
		}
		if d.tasks[id].Metadata().Timeout < 0 {
			errs = append(errs, fmt.Errorf("task %s has invalid negative timeout", id))
		}
	}
	if len(errs) == 0 {
		if _, err := d.topologicalSort(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// LogStructure logs one line per task with its type and edges.
func (d *DAG) LogStructure(log *slog.Logger) {
	log.Debug("dag", "id", d.id, "name", d.name, "tasks", len(d.tasks), "max_parallelism", d.metadata.MaxParallelism)
	for _, id := range d.TaskIDs() {
		md := d.tasks[id].Metadata()
		log.Debug("dag task",
			"task", id,
			"type", md.TaskType,
			"depends_on", d.dependencies[id],
			"triggers", d.Downstream(id),
			"timeout", md.Timeout,
		)
	}
}

// topologicalSort performs Kahn's algorithm, taking ready tasks in lexical order.
func (d *DAG) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.tasks))
	for id := range d.tasks {
		inDegree[id] = len(d.dependencies[id])
	}

	var ready []string
	for id, n := range inDegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	result := make([]string, 0, len(d.tasks))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)

		var next []string
		for _, id := range d.Downstream(current) {
			inDegree[id]--
			if inDegree[id] == 0 {
				next = append(next, id)
			}
		}
		ready = append(ready, next...)
		sort.Strings(ready)
	}

	if len(result) != len(d.tasks) {
		return nil, fmt.Errorf("DAG contains cycles")
	}
	return result, nil
}
