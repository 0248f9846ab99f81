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

// Package warehouse declares the star schema written by Songlake: the closed
// set of table names, their column types and their partition layout.
package warehouse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"
)

// Table names a table produced by the pipeline. Only the constants below are
// valid; ParseTable is the single way to turn configuration text into a Table.
type Table string

const (
	Songs     Table = "songs"
	Artists   Table = "artists"
	Users     Table = "users"
	Time      Table = "time"
	Songplays Table = "songplays"
)

// ErrUnknownTable is returned by ParseTable for names outside the schema.
var ErrUnknownTable = errors.New("unknown table")

// Column describes one column of a table.
type Column struct {
	Name string
	Type arrow.DataType
}

type tableDef struct {
	columns     []Column
	partitionBy []string
}

var (
	timestampUTC = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

	defs = map[Table]tableDef{
		Songs: {
			columns: []Column{
				{"song_id", arrow.PrimitiveTypes.Int64},
				{"title", arrow.BinaryTypes.String},
				{"artist_id", arrow.BinaryTypes.String},
				{"year", arrow.PrimitiveTypes.Int32},
				{"duration", arrow.PrimitiveTypes.Float64},
			},
			partitionBy: []string{"year", "artist_id"},
		},
		Artists: {
			columns: []Column{
				{"artist_id", arrow.BinaryTypes.String},
				{"name", arrow.BinaryTypes.String},
				{"location", arrow.BinaryTypes.String},
				{"latitude", arrow.PrimitiveTypes.Float64},
				{"longitude", arrow.PrimitiveTypes.Float64},
			},
		},
		Users: {
			columns: []Column{
				{"user_id", arrow.BinaryTypes.String},
				{"first_name", arrow.BinaryTypes.String},
				{"last_name", arrow.BinaryTypes.String},
				{"gender", arrow.BinaryTypes.String},
				{"level", arrow.BinaryTypes.String},
			},
		},
		Time: {
			columns: []Column{
				{"start_time", timestampUTC},
				{"hour", arrow.PrimitiveTypes.Int32},
				{"day", arrow.PrimitiveTypes.Int32},
				{"week", arrow.PrimitiveTypes.Int32},
				{"month", arrow.PrimitiveTypes.Int32},
				{"year", arrow.PrimitiveTypes.Int32},
				{"weekday", arrow.PrimitiveTypes.Int32},
			},
			partitionBy: []string{"year", "month"},
		},
		Songplays: {
			columns: []Column{
				{"songplay_id", arrow.PrimitiveTypes.Int64},
				{"start_time", timestampUTC},
				{"user_id", arrow.BinaryTypes.String},
				{"level", arrow.BinaryTypes.String},
				{"song_id", arrow.PrimitiveTypes.Int64},
				{"artist_id", arrow.BinaryTypes.String},
				{"session_id", arrow.PrimitiveTypes.Int64},
				{"location", arrow.BinaryTypes.String},
				{"user_agent", arrow.BinaryTypes.String},
				{"year", arrow.PrimitiveTypes.Int32},
				{"month", arrow.PrimitiveTypes.Int32},
			},
			partitionBy: []string{"year", "month"},
		},
	}

	order = []Table{Songs, Artists, Users, Time, Songplays}
)

// Tables returns every table in production order.
func Tables() []Table {
	out := make([]Table, len(order))
	copy(out, order)
	return out
}

// ParseTable validates a table name taken from configuration.
func ParseTable(name string) (Table, error) {
	t := Table(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := defs[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

func (t Table) String() string { return string(t) }

// Valid reports whether t is one of the declared tables.
func (t Table) Valid() bool {
	_, ok := defs[t]
	return ok
}

// Columns returns every column of the table, partition columns included.
func (t Table) Columns() []Column {
	cols := defs[t].columns
	out := make([]Column, len(cols))
	copy(out, cols)
	return out
}

// ColumnNames returns the names of Columns in order.
func (t Table) ColumnNames() []string {
	cols := defs[t].columns
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// PartitionBy returns the partition columns, outermost first.
func (t Table) PartitionBy() []string {
	p := defs[t].partitionBy
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range defs[t].columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// FileSchema returns the Arrow schema of the data files, which excludes the
// partition columns encoded in the directory path.
func (t Table) FileSchema() *arrow.Schema {
	def := defs[t]
	skip := make(map[string]bool, len(def.partitionBy))
	for _, p := range def.partitionBy {
		skip[p] = true
	}
	fields := make([]arrow.Field, 0, len(def.columns))
	for _, c := range def.columns {
		if skip[c.Name] {
			continue
		}
		fields = append(fields, arrow.Field{Name: c.Name, Type: c.Type, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// FileColumns returns the column names of FileSchema in order.
func (t Table) FileColumns() []string {
	schema := t.FileSchema()
	out := make([]string, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		out = append(out, f.Name)
	}
	return out
}

// Quoted returns the table name as a quoted SQL identifier.
func (t Table) Quoted() string {
	return `"` + strings.ReplaceAll(string(t), `"`, `""`) + `"`
}
