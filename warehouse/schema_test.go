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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aaronlmathis/songlake/core"
)

func TestCoerce_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		raw    core.Record
		want   core.Record
		faults int
	}{
		{
			name:   "year in range",
			raw:    core.Record{"year": json.Number("1999"), "num_songs": json.Number("1")},
			want:   core.Record{"year": int64(1999), "num_songs": int64(1)},
			faults: 0,
		},
		{
			name:   "year beyond int32",
			raw:    core.Record{"year": json.Number("3000000000"), "num_songs": json.Number("-2147483649")},
			want:   core.Record{"year": nil, "num_songs": nil},
			faults: 2,
		},
		{
			name:   "int32 bounds",
			raw:    core.Record{"year": json.Number("2147483647"), "num_songs": json.Number("-2147483648")},
			want:   core.Record{"year": int64(2147483647), "num_songs": int64(-2147483648)},
			faults: 0,
		},
		{
			name:   "fractional and string years",
			raw:    core.Record{"year": json.Number("1999.5"), "num_songs": "1"},
			want:   core.Record{"year": nil, "num_songs": nil},
			faults: 2,
		},
		{
			name:   "exponent form",
			raw:    core.Record{"year": json.Number("2e3"), "num_songs": nil},
			want:   core.Record{"year": int64(2000), "num_songs": nil},
			faults: 0,
		},
	}

	schema := InputSchema{{"year", KindInt32}, {"num_songs", KindInt32}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, faults := schema.Coerce(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.faults, faults)
		})
	}
}

func TestCoerce_ActivityEvent(t *testing.T) {
	raw := core.Record{
		"userId":    json.Number("10"),
		"ts":        json.Number("1e30"),
		"sessionId": json.Number("139"),
		"page":      "NextSong",
		"song":      json.Number("7"),
		"extra":     "dropped",
	}
	got, faults := ActivitySchema.Coerce(raw)
	assert.Equal(t, 2, faults)
	assert.Equal(t, "10", got["userId"])
	assert.Nil(t, got["ts"])
	assert.Nil(t, got["song"])
	assert.Equal(t, int64(139), got["sessionId"])
	assert.NotContains(t, got, "extra")
	assert.Len(t, got, len(ActivitySchema))
}
