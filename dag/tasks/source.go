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
	"io"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// fatalError is implemented by reader errors that must abort a read.
type fatalError interface {
	Fatal() bool
}

// SourceTask wraps a DataSource in the DAG framework. Read errors that report
// Fatal() == false, such as a malformed input file, are counted and skipped;
// any other error fails the task.
type SourceTask struct {
	baseTask
	source core.DataSource
}

func (st *SourceTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	defer st.source.Close()

	var records []core.Record
	var skipped int64
	for {
		if err := ctx.Err(); err != nil {
			return TaskOutput{}, err
		}

		record, err := st.source.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var fe fatalError
			if errors.As(err, &fe) && !fe.Fatal() {
				skipped++
				continue
			}
			return TaskOutput{}, fmt.Errorf("source read failed: %w", err)
		}
		records = append(records, record)
	}

	meta := result(start, 0, int64(len(records)))
	meta.Skipped = skipped
	return TaskOutput{
		Records:  records,
		Context:  input.Context,
		Metadata: meta,
	}, nil
}

// NewSourceTask creates a new SourceTask with the given ID and source
func NewSourceTask(id string, source core.DataSource, options ...TaskOption) *SourceTask {
	task := &SourceTask{
		baseTask: newBase(id, TaskTypeSource, nil),
		source:   source,
	}
	apply(task, options)
	return task
}
