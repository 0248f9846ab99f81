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

package readers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/objstore"
)

// S3ReaderError provides structured error information for S3 reader operations.
type S3ReaderError struct {
	Op  string // "list_objects", "get_object", "read_record"
	Key string
	Err error
}

func (e *S3ReaderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 reader %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 reader %s: %v", e.Op, e.Err)
}

func (e *S3ReaderError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error must abort the run.
func (e *S3ReaderError) Fatal() bool {
	return e.Op != "read_record"
}

// S3API is the subset of the S3 client used by S3Reader.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ReaderStats holds statistics about the S3 reader.
type S3ReaderStats struct {
	ObjectsListed int64
	ObjectsRead   int64
	RecordsRead   int64
	ObjectErrors  int64
	CurrentObject string
}

// S3ReaderOptions configures the S3 reader.
type S3ReaderOptions struct {
	Suffix       string        // key suffix filter, ".json" by default
	MaxKeys      int32         // page size for listing
	RetryTimeout time.Duration // total time allowed for retrying a GetObject
}

// ReaderOptionS3 represents a configuration function for S3Reader.
type ReaderOptionS3 func(*S3ReaderOptions)

// WithS3Suffix sets the key suffix of objects to read.
func WithS3Suffix(suffix string) ReaderOptionS3 {
	return func(o *S3ReaderOptions) {
		o.Suffix = suffix
	}
}

// WithS3RetryTimeout bounds the retries of a single GetObject.
func WithS3RetryTimeout(d time.Duration) ReaderOptionS3 {
	return func(o *S3ReaderOptions) {
		o.RetryTimeout = d
	}
}

// S3Reader implements DataSource over the JSON objects stored below an s3:// prefix.
type S3Reader struct {
	client        S3API
	loc           objstore.Location
	opts          S3ReaderOptions
	keys          []string
	listed        bool
	index         int
	currentReader *JSONReader
	stats         S3ReaderStats
}

// NewS3Reader creates a reader for uri using client. Objects are listed on the first Read.
func NewS3Reader(client S3API, uri string, options ...ReaderOptionS3) (*S3Reader, error) {
	loc, err := objstore.ParseURI(uri)
	if err != nil {
		return nil, &S3ReaderError{Op: "validate_options", Err: err}
	}
	opts := S3ReaderOptions{
		Suffix:       ".json",
		MaxKeys:      1000,
		RetryTimeout: 30 * time.Second,
	}
	for _, option := range options {
		option(&opts)
	}
	return &S3Reader{client: client, loc: loc, opts: opts}, nil
}

// Read implements the DataSource interface.
func (s *S3Reader) Read(ctx context.Context) (core.Record, error) {
	if !s.listed {
		if err := s.listObjects(ctx); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.currentReader == nil {
			if s.index >= len(s.keys) {
				return nil, io.EOF
			}
			key := s.keys[s.index]
			s.index++
			if err := s.openObject(ctx, key); err != nil {
				s.stats.ObjectErrors++
				return nil, err
			}
		}

		record, err := s.currentReader.Read(ctx)
		if errors.Is(err, io.EOF) {
			s.closeCurrentReader()
			continue
		}
		if err != nil {
			s.stats.ObjectErrors++
			return nil, &S3ReaderError{Op: "read_record", Key: s.stats.CurrentObject, Err: err}
		}
		s.stats.RecordsRead++
		return record, nil
	}
}

// Close implements the DataSource interface.
func (s *S3Reader) Close() error {
	return s.closeCurrentReader()
}

// Stats returns S3 reader statistics.
func (s *S3Reader) Stats() S3ReaderStats {
	return s.stats
}

// Keys returns the object keys selected for reading.
func (s *S3Reader) Keys() []string {
	return s.keys
}

func (s *S3Reader) listObjects(ctx context.Context) error {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.loc.Bucket),
		MaxKeys: aws.Int32(s.opts.MaxKeys),
	}
	if s.loc.Prefix != "" {
		input.Prefix = aws.String(s.loc.Prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return &S3ReaderError{Op: "list_objects", Key: s.loc.String(), Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.opts.Suffix == "" || strings.HasSuffix(key, s.opts.Suffix) {
				keys = append(keys, key)
			}
		}
	}
	if len(keys) == 0 {
		return &S3ReaderError{Op: "open_root", Key: s.loc.String(), Err: errors.New("no objects under prefix")}
	}

	sort.Strings(keys)
	s.keys = keys
	s.listed = true
	s.stats.ObjectsListed = int64(len(keys))
	return nil
}

func (s *S3Reader) openObject(ctx context.Context, key string) error {
	s.stats.CurrentObject = key
	out, err := objstore.Retry(ctx, s.opts.RetryTimeout, func() (*s3.GetObjectOutput, error) {
		return s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.loc.Bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return &S3ReaderError{Op: "get_object", Key: key, Err: err}
	}
	s.currentReader = NewJSONReader(out.Body, "s3://"+s.loc.Bucket+"/"+key)
	s.stats.ObjectsRead++
	return nil
}

func (s *S3Reader) closeCurrentReader() error {
	if s.currentReader != nil {
		err := s.currentReader.Close()
		s.currentReader = nil
		return err
	}
	return nil
}

// ErrNoS3Client is returned for an s3:// root when no client was configured.
var ErrNoS3Client = errors.New("s3 root requires an s3 client")

// NewJSONSource returns a reader over every JSON file below root: a local
// directory read with a TreeReader, or an s3:// prefix read with an S3Reader
// using client.
func NewJSONSource(root string, client S3API) (core.DataSource, error) {
	if !objstore.IsS3(root) {
		return NewTreeReader(root), nil
	}
	if client == nil {
		return nil, ErrNoS3Client
	}
	return NewS3Reader(client, root)
}
