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

// Package aggregate groups records by key columns and reduces each group with
// an Aggregator. Deduplication of dimension rows is built on it.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// Aggregator reduces the records of one group.
type Aggregator interface {
	// Add processes a record of the group.
	Add(ctx context.Context, record core.Record) error
	// Result returns the reduced record.
	Result() (core.Record, error)
	// Reset clears the aggregator state for reuse.
	Reset()
}

// Factory creates a fresh Aggregator for a new group.
type Factory func() Aggregator

// Key encodes the values of fields into a string usable as a map key. Values
// are tagged by kind so that nil, "" and 0 never collide, strings are length
// prefixed, and integers of different widths compare equal.
func Key(record core.Record, fields ...string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(0)
		}
		writeKeyValue(&b, record[f])
	}
	return b.String()
}

func writeKeyValue(b *strings.Builder, v interface{}) {
	switch x := v.(type) {
	case nil:
		b.WriteString("n")
	case string:
		b.WriteString("s" + strconv.Itoa(len(x)) + ":")
		b.WriteString(x)
	case int:
		b.WriteString("i" + strconv.FormatInt(int64(x), 10))
	case int32:
		b.WriteString("i" + strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString("i" + strconv.FormatInt(x, 10))
	case float64:
		if math.IsNaN(x) {
			b.WriteString("fNaN")
			return
		}
		b.WriteString("f" + strconv.FormatFloat(x, 'g', -1, 64))
	case bool:
		b.WriteString("b" + strconv.FormatBool(x))
	case time.Time:
		b.WriteString("t" + strconv.FormatInt(x.UnixNano(), 10))
	default:
		fmt.Fprintf(b, "v%T:%v", x, x)
	}
}

// GroupBy partitions records by key fields. It implements core.DataSink so a
// pipeline can stream into it. Results keep the order in which groups were
// first seen.
type GroupBy struct {
	fields []string
	newAgg Factory
	groups map[string]Aggregator
	order  []string
	rows   int64
}

// NewGroupBy groups on fields. An empty field list groups on every field of
// each record, i.e. full-row equality.
func NewGroupBy(newAgg Factory, fields ...string) *GroupBy {
	return &GroupBy{
		fields: append([]string(nil), fields...),
		newAgg: newAgg,
		groups: make(map[string]Aggregator),
	}
}

// Add assigns a record to its group.
func (g *GroupBy) Add(ctx context.Context, record core.Record) error {
	fields := g.fields
	if len(fields) == 0 {
		fields = record.Keys()
	}
	key := Key(record, fields...)
	if len(g.fields) == 0 {
		key = strings.Join(fields, ",") + "\x01" + key
	}
	agg, ok := g.groups[key]
	if !ok {
		agg = g.newAgg()
		g.groups[key] = agg
		g.order = append(g.order, key)
	}
	g.rows++
	return agg.Add(ctx, record)
}

// Write implements core.DataSink.
func (g *GroupBy) Write(ctx context.Context, record core.Record) error {
	return g.Add(ctx, record)
}

func (g *GroupBy) Flush() error { return nil }
func (g *GroupBy) Close() error { return nil }

// Rows returns the number of records added.
func (g *GroupBy) Rows() int64 {
	return g.rows
}

// Len returns the number of groups.
func (g *GroupBy) Len() int {
	return len(g.order)
}

// Results returns one reduced record per group.
func (g *GroupBy) Results() ([]core.Record, error) {
	out := make([]core.Record, 0, len(g.order))
	for _, key := range g.order {
		rec, err := g.groups[key].Result()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DistinctBy keeps the first record of every distinct value of fields, or of
// every distinct full row when no field is given.
func DistinctBy(ctx context.Context, records []core.Record, fields ...string) ([]core.Record, error) {
	g := NewGroupBy(First, fields...)
	for _, r := range records {
		if err := g.Add(ctx, r); err != nil {
			return nil, err
		}
	}
	return g.Results()
}

// LatestBy keeps, for every distinct value of key, the record with the
// greatest orderField. Ties go to the record added last.
func LatestBy(ctx context.Context, records []core.Record, orderField string, key ...string) ([]core.Record, error) {
	g := NewGroupBy(Latest(orderField), key...)
	for _, r := range records {
		if err := g.Add(ctx, r); err != nil {
			return nil, err
		}
	}
	return g.Results()
}
