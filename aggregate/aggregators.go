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

package aggregate

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// First keeps the first record of a group.
func First() Aggregator {
	return &firstAggregator{}
}

type firstAggregator struct {
	rec core.Record
}

func (f *firstAggregator) Add(ctx context.Context, record core.Record) error {
	if f.rec == nil {
		f.rec = record
	}
	return nil
}

func (f *firstAggregator) Result() (core.Record, error) {
	if f.rec == nil {
		return nil, fmt.Errorf("empty group")
	}
	return f.rec, nil
}

func (f *firstAggregator) Reset() { f.rec = nil }

// Latest returns a Factory keeping the record with the greatest value of
// field. A nil value sorts before any other; ties go to the later record.
func Latest(field string) Factory {
	return func() Aggregator {
		return &latestAggregator{field: field}
	}
}

type latestAggregator struct {
	field string
	rec   core.Record
}

func (l *latestAggregator) Add(ctx context.Context, record core.Record) error {
	if l.rec == nil {
		l.rec = record
		return nil
	}
	c, err := compareValues(record[l.field], l.rec[l.field])
	if err != nil {
		return fmt.Errorf("compare %s: %w", l.field, err)
	}
	if c >= 0 {
		l.rec = record
	}
	return nil
}

func (l *latestAggregator) Result() (core.Record, error) {
	if l.rec == nil {
		return nil, fmt.Errorf("empty group")
	}
	return l.rec, nil
}

func (l *latestAggregator) Reset() { l.rec = nil }

// compareValues orders two values of the same kind. nil is the smallest value.
func compareValues(a, b interface{}) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	if ai, ok := asInt(a); ok {
		if bi, ok := asInt(b); ok {
			return cmp.Compare(ai, bi), nil
		}
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv), nil
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv), nil
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func asInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}
