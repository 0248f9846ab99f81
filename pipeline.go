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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// The Pipeline API builds record-by-record flows:
//
//	p, err := songlake.NewPipeline().
//		From(reader).
//		Transform(coerce).
//		Where(isNextSong).
//		To(sink).
//		WithErrorStrategy(songlake.SkipErrors).
//		Build()
//	if err != nil { ... }
//	if err := p.Execute(ctx); err != nil { ... }

// PipelineBuilder provides a fluent API for constructing transformation pipelines.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			transformers: make([]Transformer, 0),
			filters:      make([]Filter, 0),
			strategy:     FailFast,
			log:          slog.New(slog.DiscardHandler),
		},
	}
}

// From sets the DataSource for the pipeline.
func (pb *PipelineBuilder) From(source DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform adds a Transformer to the pipeline.
func (pb *PipelineBuilder) Transform(transformer Transformer) *PipelineBuilder {
	pb.pipeline.transformers = append(pb.pipeline.transformers, transformer)
	return pb
}

// Filter adds a Filter to the pipeline.
func (pb *PipelineBuilder) Filter(filter Filter) *PipelineBuilder {
	pb.pipeline.filters = append(pb.pipeline.filters, filter)
	return pb
}

// Map adds a mapping function to the pipeline.
func (pb *PipelineBuilder) Map(fn func(ctx context.Context, record Record) (Record, error)) *PipelineBuilder {
	return pb.Transform(TransformFunc(fn))
}

// Where adds a filtering function to the pipeline.
func (pb *PipelineBuilder) Where(fn func(ctx context.Context, record Record) (bool, error)) *PipelineBuilder {
	return pb.Filter(FilterFunc(fn))
}

// To sets the DataSink for the pipeline.
func (pb *PipelineBuilder) To(sink DataSink) *PipelineBuilder {
	pb.pipeline.sink = sink
	return pb
}

// WithErrorStrategy sets the error handling strategy for the pipeline.
func (pb *PipelineBuilder) WithErrorStrategy(strategy ErrorStrategy) *PipelineBuilder {
	pb.pipeline.strategy = strategy
	return pb
}

// WithErrorHandler sets a custom error handler, consulted by SkipErrors and CollectErrors.
func (pb *PipelineBuilder) WithErrorHandler(handler ErrorHandler) *PipelineBuilder {
	pb.pipeline.errorHandler = handler
	return pb
}

// WithLogger sets the logger used to report skipped records.
func (pb *PipelineBuilder) WithLogger(log *slog.Logger) *PipelineBuilder {
	if log != nil {
		pb.pipeline.log = log
	}
	return pb
}

// Build validates and constructs the Pipeline.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	return pb.pipeline, nil
}

// PipelineStats counts records at each step of an execution.
type PipelineStats struct {
	RecordsRead     int64
	RecordsFiltered int64
	RecordsWritten  int64
	RecordsFailed   int64
}

// Pipeline streams records from a DataSource through transformers and filters into a DataSink.
type Pipeline struct {
	transformers []Transformer
	filters      []Filter
	source       DataSource
	sink         DataSink
	strategy     ErrorStrategy
	errorHandler ErrorHandler
	log          *slog.Logger
	stats        PipelineStats
	errs         []error
}

// Execute runs the pipeline until the source is exhausted.
//
// The source is always closed. The sink is flushed and closed; a flush or close
// failure is returned when the run itself succeeded. When the run fails, a sink
// implementing Aborter is aborted before it is closed.
func (p *Pipeline) Execute(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			if a, ok := p.sink.(Aborter); ok {
				a.Abort()
			}
		}
		if cerr := p.source.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close source: %w", cerr)
		}
		if ferr := p.sink.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flush sink: %w", ferr)
		}
		if cerr := p.sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := p.source.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isFatal(err) {
				return err
			}
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		p.stats.RecordsRead++

		if len(record) == 0 {
			continue
		}

		transformed, err := p.applyTransformations(ctx, record)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		if len(transformed) == 0 {
			continue
		}

		include, err := p.applyFilters(ctx, transformed)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		if !include {
			p.stats.RecordsFiltered++
			continue
		}

		if err := p.sink.Write(ctx, transformed); err != nil {
			if err := p.handleError(ctx, transformed, err); err != nil {
				return err
			}
			continue
		}
		p.stats.RecordsWritten++
	}

	return nil
}

// Stats returns the counters of the last execution.
func (p *Pipeline) Stats() PipelineStats {
	return p.stats
}

// Errors returns the errors kept under CollectErrors.
func (p *Pipeline) Errors() []error {
	return p.errs
}

// Aborter is implemented by sinks that can discard a partially written output.
type Aborter interface {
	Abort()
}

// FatalError marks a source error that must abort the pipeline regardless of
// the configured strategy, such as a missing input root.
type FatalError interface {
	error
	Fatal() bool
}

func isFatal(err error) bool {
	var fe FatalError
	return errors.As(err, &fe) && fe.Fatal()
}

func (p *Pipeline) applyFilters(ctx context.Context, record Record) (bool, error) {
	for _, filter := range p.filters {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pipeline) applyTransformations(ctx context.Context, record Record) (Record, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		current = transformed
	}
	return current, nil
}

// handleError applies the pipeline's error strategy. A nil return continues the run.
func (p *Pipeline) handleError(ctx context.Context, record Record, err error) error {
	p.stats.RecordsFailed++
	switch p.strategy {
	case FailFast:
		return err
	case SkipErrors, CollectErrors:
		if p.strategy == CollectErrors {
			p.errs = append(p.errs, err)
		}
		p.log.Debug("skipping record", "error", err)
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return err
	}
}
