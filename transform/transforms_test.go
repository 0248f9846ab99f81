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

package transform

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/warehouse"
)

func apply(t *testing.T, tr core.Transformer, r core.Record) core.Record {
	t.Helper()
	out, err := tr.Transform(context.Background(), r)
	require.NoError(t, err)
	return out
}

func TestCalendarParts_FieldsAreIndependent(t *testing.T) {
	ts := time.Date(2018, 11, 14, 9, 30, 0, 0, time.UTC)
	got := CalendarParts(ts)

	assert.Equal(t, core.Record{
		"hour":    int32(9),
		"day":     int32(14),
		"week":    int32(46),
		"month":   int32(11),
		"year":    int32(2018),
		"weekday": int32(3),
	}, got)
	assert.NotEqual(t, got["hour"], got["weekday"])
}

func TestCalendarParts_SundayAndYearBoundary(t *testing.T) {
	// 2017-01-01 is a Sunday in ISO week 52 of 2016.
	got := CalendarParts(time.Date(2017, 1, 1, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, int32(7), got["weekday"])
	assert.Equal(t, int32(52), got["week"])
	assert.Equal(t, int32(2017), got["year"])
}

func TestCalendarParts_Nil(t *testing.T) {
	got := CalendarParts(nil)
	assert.Len(t, got, 6)
	for k, v := range got {
		assert.Nil(t, v, k)
	}
}

func TestEpochMillis(t *testing.T) {
	tr := EpochMillis("ts", "start_time")

	out := apply(t, tr, core.Record{"ts": int64(1542187800000)})
	assert.Equal(t, time.Date(2018, 11, 14, 9, 30, 0, 0, time.UTC), out["start_time"])
	assert.Equal(t, int64(1542187800000), out["ts"], "source field is kept")

	out = apply(t, tr, core.Record{"ts": nil})
	assert.Nil(t, out["start_time"])
}

func TestCoerce_CountsFaults(t *testing.T) {
	var faults int
	tr := Coerce(warehouse.ActivitySchema, func(n int) { faults += n })

	out := apply(t, tr, core.Record{
		"userId":    json.Number("39"),
		"ts":        "1542187800000",
		"sessionId": json.Number("38"),
		"page":      "NextSong",
	})
	assert.Equal(t, "39", out["userId"])
	assert.Nil(t, out["ts"], "numeric strings are the wrong type")
	assert.Equal(t, int64(38), out["sessionId"])
	assert.Equal(t, 1, faults)
	assert.Contains(t, out, "song")
}

func TestSelectAndRename(t *testing.T) {
	r := core.Record{"userId": "7", "firstName": "Adler", "page": "NextSong"}

	out := apply(t, Select("userId", "firstName", "gender"), r)
	assert.Equal(t, core.Record{"userId": "7", "firstName": "Adler", "gender": nil}, out)

	out = apply(t, Rename(map[string]string{"userId": "user_id", "firstName": "first_name"}), out)
	assert.Equal(t, core.Record{"user_id": "7", "first_name": "Adler", "gender": nil}, out)
}

func TestChain(t *testing.T) {
	r := core.Record{"ts": int64(1542187800000), "page": "NextSong"}

	out := apply(t, Chain(EpochMillis("ts", "start_time"), Select("start_time"), CalendarFields("start_time")), r)
	assert.Len(t, out, 7)
	assert.Equal(t, int32(46), out["week"])
	assert.NotContains(t, out, "page")
}
