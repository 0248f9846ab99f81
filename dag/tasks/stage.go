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
	"errors"
	"fmt"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// StageError names the stage of a run that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageFunc runs one stage. It receives the records of its dependencies and
// may return records for downstream tasks.
type StageFunc func(ctx context.Context, input TaskInput) ([]core.Record, error)

// StageTask runs an arbitrary stage function. Errors are wrapped in a
// *StageError carrying the task ID; a timeout is reported as
// context.DeadlineExceeded.
type StageTask struct {
	baseTask
	fn StageFunc
}

func (st *StageTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	records, err := st.fn(ctx, input)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			err = &StageError{Stage: st.id, Err: err}
		}
		return TaskOutput{}, err
	}
	return TaskOutput{
		Records:  records,
		Context:  input.Context,
		Metadata: result(start, int64(len(input.Records)), int64(len(records))),
	}, nil
}

// NewStageTask creates a new StageTask
func NewStageTask(id string, fn StageFunc, dependencies []string, options ...TaskOption) *StageTask {
	task := &StageTask{
		baseTask: newBase(id, TaskTypeStage, dependencies),
		fn:       fn,
	}
	apply(task, options)
	return task
}
