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
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/aggregate"
	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/dag/tasks"
	"github.com/aaronlmathis/songlake/filter"
	"github.com/aaronlmathis/songlake/writers"
)

type sliceSource struct {
	records []core.Record
	errs    map[int]error
	pos     int
}

func (s *sliceSource) Read(ctx context.Context) (core.Record, error) {
	for s.pos < len(s.records) {
		i := s.pos
		s.pos++
		if err, ok := s.errs[i]; ok {
			return nil, err
		}
		return s.records[i], nil
	}
	return nil, io.EOF
}

func (s *sliceSource) Close() error { return nil }

type skippable struct{}

func (skippable) Error() string { return "bad file" }
func (skippable) Fatal() bool   { return false }

func noop(ctx context.Context, in tasks.TaskInput) ([]core.Record, error) { return nil, nil }

func TestBuild_Levels(t *testing.T) {
	d, err := NewDAG("run", "songlake").
		AddStageTask("catalog", noop, nil).
		AddStageTask("users", noop, []string{"catalog"}).
		AddStageTask("time", noop, []string{"catalog"}).
		AddStageTask("songplays", noop, []string{"users", "time", "catalog"}).
		AddStageTask("quality", noop, []string{"songplays"}).
		Build()
	require.NoError(t, err)

	levels, err := d.Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"catalog"}, {"time", "users"}, {"songplays"}, {"quality"}}, levels)
	assert.Equal(t, []string{"time", "users"}, d.Downstream("catalog"))

	order, err := d.ExecutionOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog", "time", "users", "songplays", "quality"}, order)
}

func TestBuild_Rejects(t *testing.T) {
	_, err := NewDAG("x", "x").
		AddStageTask("a", noop, []string{"b"}).
		AddStageTask("b", noop, []string{"a"}).
		Build()
	assert.ErrorContains(t, err, "cycles")

	_, err = NewDAG("x", "x").
		AddStageTask("a", noop, []string{"missing"}).
		Build()
	assert.ErrorContains(t, err, "non-existent task missing")

	_, err = NewDAG("x", "x").
		AddStageTask("a", noop, nil).
		AddStageTask("a", noop, nil).
		Build()
	assert.ErrorContains(t, err, "duplicate task a")
}

func TestExecute_RecordFlow(t *testing.T) {
	events := &sliceSource{
		records: []core.Record{
			{"userId": "1", "page": "NextSong", "ts": int64(1)},
			{},
			{"userId": "1", "page": "Home", "ts": int64(2)},
			{"userId": "1", "page": "NextSong", "ts": int64(3)},
			{"userId": "2", "page": "NextSong", "ts": int64(4)},
			{"userId": "3", "page": "NextSong", "ts": int64(5)},
		},
		errs: map[int]error{1: skippable{}},
	}
	names := &sliceSource{records: []core.Record{
		{"user_id": "1", "name": "Ann"},
		{"user_id": "2", "name": "Bob"},
	}}
	sink := writers.NewMemoryWriter()

	d, err := NewDAG("flow", "flow").
		AddSourceTask("events", events).
		AddSourceTask("names", names).
		AddFilterTask("plays", filter.Equals("page", "NextSong"), []string{"events"}).
		AddTransformTask("users", renameUser{}, []string{"plays"}).
		AddAggregateTask("latest", aggregate.Latest("ts"), []string{"user_id"}, []string{"users"}).
		AddJoinTask("named", aggregate.JoinConfig{
			Type: aggregate.LeftJoin, LeftKeys: []string{"user_id"}, RightKeys: []string{"user_id"},
		}, []string{"latest", "names"}).
		AddSinkTask("out", sink, []string{"named"}).
		Build()
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	res, err := NewDAGExecutor(WithMaxWorkers(2), WithClock(clock)).Execute(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, clock.Now(), res.StartTime)
	assert.Equal(t, int64(1), res.TaskResults["events"].Skipped)
	assert.Equal(t, int64(5), res.TaskResults["plays"].RecordsIn)
	assert.Equal(t, int64(4), res.TaskResults["plays"].RecordsOut)

	got := sink.Records()
	require.Len(t, got, 3)
	assert.Equal(t, core.Record{"user_id": "1", "ts": int64(3), "name": "Ann"}, got[0])
	assert.Equal(t, "Bob", got[1]["name"])
	assert.Nil(t, got[2]["name"])
}

type renameUser struct{}

func (renameUser) Transform(ctx context.Context, r core.Record) (core.Record, error) {
	return core.Record{"user_id": r["userId"], "ts": r["ts"]}, nil
}

func TestExecute_FailureStopsLaterLevels(t *testing.T) {
	var ran atomic.Int32
	boom := errors.New("boom")

	d, err := NewDAG("fail", "fail").
		AddStageTask("catalog", noop, nil).
		AddStageTask("users", func(ctx context.Context, in tasks.TaskInput) ([]core.Record, error) {
			return nil, boom
		}, []string{"catalog"}).
		AddStageTask("time", func(ctx context.Context, in tasks.TaskInput) ([]core.Record, error) {
			ran.Add(1)
			return nil, nil
		}, []string{"catalog"}).
		AddStageTask("songplays", func(ctx context.Context, in tasks.TaskInput) ([]core.Record, error) {
			ran.Add(10)
			return nil, nil
		}, []string{"users", "time"}).
		Build()
	require.NoError(t, err)

	res, err := NewDAGExecutor().Execute(context.Background(), d)
	require.ErrorIs(t, err, boom)
	var se *tasks.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "users", se.Stage)
	assert.False(t, res.Success)
	assert.Less(t, ran.Load(), int32(10))
	assert.NotContains(t, res.TaskResults, "songplays")
}

func TestExecute_Timeout(t *testing.T) {
	d, err := NewDAG("slow", "slow").
		AddStageTask("slow", func(ctx context.Context, in tasks.TaskInput) ([]core.Record, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil, tasks.WithTimeout(10*time.Millisecond)).
		Build()
	require.NoError(t, err)

	_, err = NewDAGExecutor().Execute(context.Background(), d)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "stage slow")
}

func TestSinkTask_AbortsOnFailure(t *testing.T) {
	sink := &abortSink{}
	task := tasks.NewSinkTask("out", sink, nil)

	_, err := task.Execute(context.Background(), tasks.TaskInput{Records: []core.Record{{"a": 1}, {"a": 2}}})
	require.Error(t, err)
	assert.True(t, sink.aborted)
	assert.True(t, sink.closed)
}

type abortSink struct {
	n       int
	aborted bool
	closed  bool
}

func (s *abortSink) Write(ctx context.Context, r core.Record) error {
	s.n++
	if s.n == 2 {
		return errors.New("disk full")
	}
	return nil
}
func (s *abortSink) Flush() error { return nil }
func (s *abortSink) Close() error { s.closed = true; return nil }
func (s *abortSink) Abort()       { s.aborted = true }
