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

package core

import (
	"context"
)

// Package core defines the record model and the stream interfaces shared by
// every reader, writer and stage in Songlake.
//
// Extractors are composed from these pieces: a DataSource yields raw JSON
// records, Transformers coerce and rename them, Filters drop unwanted events
// and a DataSink persists the result.

// DataSource defines the interface for data extraction.
// Implementations stream records from a source (JSON trees, S3, Parquet, SQL).
type DataSource interface {
	// Read returns the next record or io.EOF when no more records are available.
	Read(ctx context.Context) (Record, error)
	// Close releases any resources held by the data source.
	Close() error
}

// DataSink defines the interface for data loading.
// Implementations write records to a destination (Parquet partitions, PostgreSQL, reports).
type DataSink interface {
	// Write outputs a single record to the sink.
	Write(ctx context.Context, record Record) error
	// Flush ensures all buffered data is written to the sink.
	Flush() error
	// Close releases any resources held by the data sink.
	Close() error
}

// Transformer modifies or enriches records as they pass through a pipeline.
type Transformer interface {
	Transform(ctx context.Context, record Record) (Record, error)
}

// Filter determines whether a record should be kept.
type Filter interface {
	ShouldInclude(ctx context.Context, record Record) (bool, error)
}
