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
)

// JoinTask joins the output of its first dependency (left) with the output
// of its second dependency (right).
type JoinTask struct {
	baseTask
	config aggregate.JoinConfig
}

func (jt *JoinTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()

	if len(jt.dependencies) != 2 {
		return TaskOutput{}, fmt.Errorf("join task requires 2 dependencies, got %d", len(jt.dependencies))
	}
	left, lok := input.SourceMap[jt.dependencies[0]]
	right, rok := input.SourceMap[jt.dependencies[1]]
	if !lok || !rok {
		return TaskOutput{}, fmt.Errorf("missing source data for join operation")
	}

	joined, err := aggregate.Join(ctx, left, right, jt.config)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("join operation failed: %w", err)
	}

	return TaskOutput{
		Records:  joined,
		Context:  input.Context,
		Metadata: result(start, int64(len(left)+len(right)), int64(len(joined))),
	}, nil
}

// NewJoinTask creates a new JoinTask. dependencies must name the left and
// the right task, in that order.
func NewJoinTask(id string, config aggregate.JoinConfig, dependencies []string, options ...TaskOption) *JoinTask {
	task := &JoinTask{
		baseTask: newBase(id, TaskTypeJoin, dependencies),
		config:   config,
	}
	apply(task, options)
	return task
}
