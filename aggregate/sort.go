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
	"slices"

	"github.com/aaronlmathis/songlake/core"
)

// SortBy sorts records in place by fields, ascending, nil first. The sort is
// stable. Values of different kinds in one field are an error.
func SortBy(records []core.Record, fields ...string) error {
	var err error
	slices.SortStableFunc(records, func(a, b core.Record) int {
		for _, f := range fields {
			c, cerr := compareValues(a[f], b[f])
			if cerr != nil {
				if err == nil {
					err = cerr
				}
				return 0
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return err
}
