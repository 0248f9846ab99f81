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

package warehouse

import (
	"encoding/json"
	"math"

	"github.com/spf13/cast"

	"github.com/aaronlmathis/songlake/core"
)

// Kind is the expected JSON type of an input field.
type Kind int

const (
	KindString Kind = iota
	// KindInt is a whole number within int64.
	KindInt
	// KindInt32 is a whole number within int32, returned as int64.
	KindInt32
	KindFloat
)

// Field declares one input field and its kind.
type Field struct {
	Name string
	Kind Kind
}

// InputSchema is a fixed schema applied to raw JSON records.
type InputSchema []Field

// SongSchema is the schema of one song metadata file.
var SongSchema = InputSchema{
	{"artist_id", KindString},
	{"artist_name", KindString},
	{"artist_location", KindString},
	{"artist_latitude", KindFloat},
	{"artist_longitude", KindFloat},
	{"title", KindString},
	{"duration", KindFloat},
	{"year", KindInt32},
	{"num_songs", KindInt32},
}

// ActivitySchema is the schema of one activity log event.
var ActivitySchema = InputSchema{
	{"userId", KindString},
	{"firstName", KindString},
	{"lastName", KindString},
	{"gender", KindString},
	{"level", KindString},
	{"ts", KindInt},
	{"song", KindString},
	{"artist", KindString},
	{"sessionId", KindInt},
	{"location", KindString},
	{"userAgent", KindString},
	{"page", KindString},
}

// Coerce projects a raw record onto the schema. Absent fields, fields of the
// wrong JSON type and numbers outside the range of their kind become nil;
// extra fields are dropped. The returned count is the number of present
// fields that had to be nulled.
func (s InputSchema) Coerce(raw core.Record) (core.Record, int) {
	out := make(core.Record, len(s))
	faults := 0
	for _, f := range s {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			out[f.Name] = nil
			continue
		}
		var c interface{}
		switch f.Kind {
		case KindString:
			c = coerceString(f.Name, v)
		case KindInt:
			c = coerceInt(v)
		case KindInt32:
			c = coerceInt32(v)
		case KindFloat:
			c = coerceFloat(v)
		}
		if c == nil {
			faults++
		}
		out[f.Name] = c
	}
	return out, faults
}

// Fields that hold identifiers are numeric in some log exports; accept a
// whole number and render it as a string.
var numericIDs = map[string]bool{"userId": true}

func coerceString(name string, v interface{}) interface{} {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		if numericIDs[name] {
			if i, err := cast.ToInt64E(s.String()); err == nil {
				return cast.ToString(i)
			}
		}
	}
	return nil
}

func coerceInt(v interface{}) interface{} {
	f, ok := number(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil
	}
	if n, isNum := v.(json.Number); isNum {
		if i, err := cast.ToInt64E(n.String()); err == nil {
			return i
		}
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil
	}
	return int64(f)
}

func coerceInt32(v interface{}) interface{} {
	i, ok := coerceInt(v).(int64)
	if !ok || i < math.MinInt32 || i > math.MaxInt32 {
		return nil
	}
	return i
}

func coerceFloat(v interface{}) interface{} {
	f, ok := number(v)
	if !ok {
		return nil
	}
	return f
}

// number accepts JSON numbers only; numeric strings count as the wrong type.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := cast.ToFloat64E(n.String())
		return f, err == nil
	case float64, float32, int, int32, int64:
		f, err := cast.ToFloat64E(n)
		return f, err == nil
	default:
		return 0, false
	}
}
