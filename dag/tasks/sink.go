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

	"github.com/aaronlmathis/songlake/core"
)

// aborter is implemented by sinks that can discard a partial output.
type aborter interface {
	Abort()
}

// SinkTask writes the records of its dependencies to a DataSink and closes
// it. On failure a sink that can abort is aborted before it is closed, so an
// overwrite is never committed half written.
type SinkTask struct {
	baseTask
	sink core.DataSink
}

func (st *SinkTask) Execute(ctx context.Context, input TaskInput) (out TaskOutput, err error) {
	start := time.Now()
	closed := false
	defer func() {
		if err != nil && !closed {
			if a, ok := st.sink.(aborter); ok {
				a.Abort()
			}
			st.sink.Close()
		}
	}()

	var written int64
	for _, record := range input.Records {
		if err := ctx.Err(); err != nil {
			return TaskOutput{}, err
		}
		if err := st.sink.Write(ctx, record); err != nil {
			return TaskOutput{}, fmt.Errorf("sink write failed: %w", err)
		}
		written++
	}

	if err := st.sink.Flush(); err != nil {
		return TaskOutput{}, fmt.Errorf("sink flush failed: %w", err)
	}
	closed = true
	if err := st.sink.Close(); err != nil {
		return TaskOutput{}, fmt.Errorf("sink close failed: %w", err)
	}

	return TaskOutput{
		Context:  input.Context,
		Metadata: result(start, int64(len(input.Records)), written),
	}, nil
}

// NewSinkTask creates a new SinkTask
func NewSinkTask(id string, sink core.DataSink, dependencies []string, options ...TaskOption) *SinkTask {
	task := &SinkTask{
		baseTask: newBase(id, TaskTypeSink, dependencies),
		sink:     sink,
	}
	apply(task, options)
	return task
}
