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
	"context"
	"fmt"

	"github.com/aaronlmathis/songlake/core"
)

// JoinType selects which unmatched rows a join keeps.
type JoinType string

const (
	InnerJoin JoinType = "inner"
	LeftJoin  JoinType = "left"
)

// JoinConfig defines join operation parameters.
type JoinConfig struct {
	Type      JoinType
	LeftKeys  []string
	RightKeys []string
	// RightFields restricts the columns taken from the right side. When set,
	// unmatched left rows carry them as nil.
	RightFields []string
	// FirstMatch keeps only the first right row of every key, in right input order.
	FirstMatch bool
}

// Join performs a hash join of left and right. Rows with a nil key never
// match. Right fields overwrite left fields of the same name.
func Join(ctx context.Context, left, right []core.Record, cfg JoinConfig) ([]core.Record, error) {
	if len(cfg.LeftKeys) == 0 || len(cfg.LeftKeys) != len(cfg.RightKeys) {
		return nil, fmt.Errorf("join: need matching key lists, got %v and %v", cfg.LeftKeys, cfg.RightKeys)
	}
	if cfg.Type == "" {
		cfg.Type = InnerJoin
	}
	if cfg.Type != InnerJoin && cfg.Type != LeftJoin {
		return nil, fmt.Errorf("join: unsupported type %q", cfg.Type)
	}

	index := make(map[string][]core.Record, len(right))
	for _, r := range right {
		if hasNil(r, cfg.RightKeys) {
			continue
		}
		k := Key(r, cfg.RightKeys...)
		if cfg.FirstMatch && len(index[k]) > 0 {
			continue
		}
		index[k] = append(index[k], r)
	}

	out := make([]core.Record, 0, len(left))
	for i, l := range left {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var matches []core.Record
		if !hasNil(l, cfg.LeftKeys) {
			matches = index[Key(l, cfg.LeftKeys...)]
		}
		if len(matches) == 0 {
			if cfg.Type == LeftJoin {
				out = append(out, merge(l, nil, cfg.RightFields))
			}
			continue
		}
		for _, m := range matches {
			out = append(out, merge(l, m, cfg.RightFields))
		}
	}
	return out, nil
}

func hasNil(r core.Record, keys []string) bool {
	for _, k := range keys {
		if r[k] == nil {
			return true
		}
	}
	return false
}

func merge(left, right core.Record, rightFields []string) core.Record {
	out := left.Clone()
	if len(rightFields) > 0 {
		for _, f := range rightFields {
			out[f] = right[f]
		}
		return out
	}
	for k, v := range right {
		out[k] = v
	}
	return out
}
