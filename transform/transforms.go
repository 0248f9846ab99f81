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

// Package transform provides composable record transformers for Songlake
// pipelines: schema coercion, projection, renaming and derived fields.
package transform

import (
	"context"
	"time"

	"github.com/spf13/cast"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/warehouse"
)

// Coerce applies a fixed input schema to each record. onFault, when not nil,
// receives the number of fields nulled in a record that had any.
func Coerce(schema warehouse.InputSchema, onFault func(n int)) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		out, faults := schema.Coerce(record)
		if faults > 0 && onFault != nil {
			onFault(faults)
		}
		return out, nil
	})
}

// Chain applies transformers in order.
func Chain(transformers ...core.Transformer) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		var err error
		for _, t := range transformers {
			if record, err = t.Transform(ctx, record); err != nil {
				return nil, err
			}
		}
		return record, nil
	})
}

// Select keeps only the named fields. Missing fields are set to nil so every
// output record has the same columns.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		return record.Project(fields...), nil
	})
}

// Rename renames fields according to mapping (old name to new name).
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for key, value := range record {
			if newKey, ok := mapping[key]; ok {
				result[newKey] = value
			} else {
				result[key] = value
			}
		}
		return result, nil
	})
}

// AddField sets field to the value computed from the record.
func AddField(field string, fn func(core.Record) interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		result[field] = fn(record)
		return result, nil
	})
}

// EpochMillis converts the integer epoch-millisecond field src into a UTC
// time.Time stored in dst. A nil or non-integer source yields nil.
func EpochMillis(src, dst string) core.Transformer {
	return AddField(dst, func(r core.Record) interface{} {
		if r[src] == nil {
			return nil
		}
		ms, err := cast.ToInt64E(r[src])
		if err != nil {
			return nil
		}
		return time.UnixMilli(ms).UTC()
	})
}

// CalendarFields derives hour, day, week, month, year and weekday from the
// time.Time in field. Each is an independent extraction of the UTC time: day
// is the day of month, week the ISO week number and weekday the ISO day of
// week (Monday=1 to Sunday=7). A nil time yields nil fields.
func CalendarFields(field string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for k, v := range CalendarParts(record[field]) {
			result[k] = v
		}
		return result, nil
	})
}

// CalendarParts returns the calendar fields of v, or nil values when v is
// not a time.Time.
func CalendarParts(v interface{}) core.Record {
	t, ok := v.(time.Time)
	if !ok {
		return core.Record{"hour": nil, "day": nil, "week": nil, "month": nil, "year": nil, "weekday": nil}
	}
	t = t.UTC()
	_, week := t.ISOWeek()
	weekday := int32(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return core.Record{
		"hour":    int32(t.Hour()),
		"day":     int32(t.Day()),
		"week":    int32(week),
		"month":   int32(t.Month()),
		"year":    int32(t.Year()),
		"weekday": weekday,
	}
}
