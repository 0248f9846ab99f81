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

package lake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/songlake/objstore"
	"github.com/aaronlmathis/songlake/warehouse"
	"github.com/aaronlmathis/songlake/writers"
)

// S3API is the subset of the S3 client used by S3Publisher.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// PublishError reports a failed publication step.
type PublishError struct {
	Op  string // "list", "delete", "upload"
	Key string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("s3 publish %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// PublishStats counts the objects touched by Publish.
type PublishStats struct {
	ObjectsDeleted  int64
	ObjectsUploaded int64
	BytesUploaded   int64
}

// S3Publisher copies lake tables to an S3 prefix, replacing the previous copy
// of each table. The table's success marker is uploaded after its data files.
type S3Publisher struct {
	client       S3API
	dest         objstore.Location
	log          *slog.Logger
	concurrency  int
	retryTimeout time.Duration
}

// PublishOption configures an S3Publisher.
type PublishOption func(*S3Publisher)

// WithPublishLogger sets the publisher logger.
func WithPublishLogger(log *slog.Logger) PublishOption {
	return func(p *S3Publisher) {
		if log != nil {
			p.log = log
		}
	}
}

// WithConcurrency sets the number of parallel uploads.
func WithConcurrency(n int) PublishOption {
	return func(p *S3Publisher) {
		p.concurrency = n
	}
}

// WithRetryTimeout bounds the retries of a single S3 call.
func WithRetryTimeout(d time.Duration) PublishOption {
	return func(p *S3Publisher) {
		p.retryTimeout = d
	}
}

// NewS3Publisher creates a publisher writing below dest (s3://bucket/prefix).
func NewS3Publisher(client S3API, dest string, opts ...PublishOption) (*S3Publisher, error) {
	loc, err := objstore.ParseURI(dest)
	if err != nil {
		return nil, err
	}
	p := &S3Publisher{
		client:       client,
		dest:         loc,
		log:          slog.New(slog.DiscardHandler),
		concurrency:  8,
		retryTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p, nil
}

// Publish uploads the given tables of l.
func (p *S3Publisher) Publish(ctx context.Context, l *Lake, tables ...warehouse.Table) (PublishStats, error) {
	var stats PublishStats
	for _, t := range tables {
		if err := p.publishTable(ctx, l, t, &stats); err != nil {
			return stats, err
		}
	}
	p.log.Info("lake published",
		"destination", p.dest.String(),
		"tables", len(tables),
		"objects", stats.ObjectsUploaded,
		"bytes", stats.BytesUploaded,
	)
	return stats, nil
}

func (p *S3Publisher) publishTable(ctx context.Context, l *Lake, t warehouse.Table, stats *PublishStats) error {
	files, err := l.Files(t)
	if err != nil {
		return err
	}

	prefix := p.dest.Key(t.String() + "/")
	deleted, err := p.deletePrefix(ctx, prefix)
	if err != nil {
		return err
	}
	atomic.AddInt64(&stats.ObjectsDeleted, deleted)

	var marker string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, rel := range files {
		if path.Base(rel) == writers.SuccessMarker {
			marker = rel
			continue
		}
		g.Go(func() error {
			return p.upload(gctx, l, rel, stats)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if marker != "" {
		if err := p.upload(ctx, l, marker, stats); err != nil {
			return err
		}
	}
	p.log.Debug("table published", "table", t.String(), "prefix", prefix, "files", len(files))
	return nil
}

func (p *S3Publisher) upload(ctx context.Context, l *Lake, rel string, stats *PublishStats) error {
	key := p.dest.Key(rel)
	local := filepath.Join(l.Root(), filepath.FromSlash(rel))

	size, err := objstore.Retry(ctx, p.retryTimeout, func() (int64, error) {
		f, err := os.Open(local)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.dest.Bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
		})
		return info.Size(), err
	})
	if err != nil {
		return &PublishError{Op: "upload", Key: key, Err: err}
	}
	atomic.AddInt64(&stats.ObjectsUploaded, 1)
	atomic.AddInt64(&stats.BytesUploaded, size)
	return nil
}

// deletePrefix removes every object below prefix and returns how many were deleted.
func (p *S3Publisher) deletePrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.dest.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := objstore.Retry(ctx, p.retryTimeout, func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return deleted, &PublishError{Op: "list", Key: prefix, Err: err}
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := objstore.Retry(ctx, p.retryTimeout, func() (*s3.DeleteObjectsOutput, error) {
			return p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(p.dest.Bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
		})
		if err != nil {
			return deleted, &PublishError{Op: "delete", Key: prefix, Err: err}
		}
		// S3 reports per-key failures in a successful response.
		if len(out.Errors) > 0 {
			deleted += int64(len(ids) - len(out.Errors))
			first := out.Errors[0]
			return deleted, &PublishError{
				Op:  "delete",
				Key: aws.ToString(first.Key),
				Err: fmt.Errorf("%d of %d objects not deleted: %s: %s",
					len(out.Errors), len(ids), aws.ToString(first.Code), aws.ToString(first.Message)),
			}
		}
		deleted += int64(len(ids))
	}
	return deleted, nil
}
