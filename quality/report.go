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

package quality

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/objstore"
	"github.com/aaronlmathis/songlake/writers"
)

// ReportFormat selects the encoding of a quality report.
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
)

// ReportColumns is the column order of a report.
var ReportColumns = []string{"table", "min", "max", "count", "passed", "error", "checked_at", "duration_ms"}

// ParseReportFormat accepts "json" and "csv".
func ParseReportFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(strings.ToLower(s)); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// PutObjectAPI is the subset of the S3 client used for reports.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewReportSink opens a report at dest, a local path or an s3://bucket/key
// URI. S3 reports are uploaded when the sink is closed.
func NewReportSink(ctx context.Context, dest string, format ReportFormat, client PutObjectAPI) (core.DataSink, error) {
	var w io.WriteCloser
	if objstore.IsS3(dest) {
		if client == nil {
			return nil, fmt.Errorf("report %s: no s3 client configured", dest)
		}
		loc, err := objstore.ParseURI(dest)
		if err != nil {
			return nil, err
		}
		w = &s3WriteCloser{ctx: ctx, client: client, bucket: loc.Bucket, key: loc.Prefix}
	} else {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("report %s: %w", dest, err)
		}
		f, err := os.Create(dest)
		if err != nil {
			return nil, fmt.Errorf("report %s: %w", dest, err)
		}
		w = f
	}

	switch format {
	case FormatCSV:
		return writers.NewCSVWriter(w, writers.WithHeaders(ReportColumns)), nil
	case FormatJSON:
		return writers.NewJSONWriter(w), nil
	default:
		w.Close()
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// WriteReport writes one row per result and closes the sink.
func WriteReport(ctx context.Context, sink core.DataSink, results []Result) error {
	for _, r := range results {
		if err := sink.Write(ctx, ReportRow(r)); err != nil {
			sink.Close()
			return fmt.Errorf("failed to write quality report: %w", err)
		}
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("failed to write quality report: %w", err)
	}
	return nil
}

// ReportRow renders a result as a record with ReportColumns.
func ReportRow(r Result) core.Record {
	row := core.Record{
		"table":       r.Check.Table.String(),
		"min":         nil,
		"max":         nil,
		"count":       nil,
		"passed":      r.Passed(),
		"error":       nil,
		"checked_at":  r.CheckedAt.Format(time.RFC3339),
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Check.Min != nil {
		row["min"] = *r.Check.Min
	}
	if r.Check.Max != nil {
		row["max"] = *r.Check.Max
	}
	if r.Count >= 0 {
		row["count"] = r.Count
	}
	if r.Err != nil {
		row["error"] = r.Err.Error()
	}
	return row
}

type s3WriteCloser struct {
	ctx    context.Context
	client PutObjectAPI
	bucket string
	key    string
	buf    bytes.Buffer
}

func (s *s3WriteCloser) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *s3WriteCloser) Close() error {
	body := s.buf.Bytes()
	_, err := objstore.Retry(s.ctx, time.Minute, func() (*s3.PutObjectOutput, error) {
		return s.client.PutObject(s.ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key),
			Body:   bytes.NewReader(body),
		})
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}
