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

package songlake

import (
	"github.com/aaronlmathis/songlake/core"
)

// Package songlake exposes the record pipeline used by the Songlake extractors.
//
// The stream interfaces live in core so that readers, writers and DAG tasks can
// share them without importing this package; the aliases below keep pipeline
// call sites short.

// Record represents a single data record in the pipeline.
type Record = core.Record

// DataSource streams records until io.EOF.
type DataSource = core.DataSource

// DataSink buffers and persists records.
type DataSink = core.DataSink

// Transformer modifies records in flight.
type Transformer = core.Transformer

// TransformFunc adapts a function to Transformer.
type TransformFunc = core.TransformFunc

// Filter decides whether a record is kept.
type Filter = core.Filter

// FilterFunc adapts a function to Filter.
type FilterFunc = core.FilterFunc

// ErrorHandler processes record-level errors.
type ErrorHandler = core.ErrorHandler

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc = core.ErrorHandlerFunc

// ErrorStrategy selects how record-level errors are treated.
type ErrorStrategy = core.ErrorStrategy

const (
	FailFast      = core.FailFast
	SkipErrors    = core.SkipErrors
	CollectErrors = core.CollectErrors
)
