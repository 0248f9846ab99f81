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

// Package objstore builds S3 clients from explicit configuration and parses
// s3:// locations used for pipeline inputs and lake publication.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cast"
)

// S3Config holds explicit S3 connection settings. Credentials are passed into
// the client constructor and never exported into the process environment.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible stores
	UsePathStyle    bool
}

// LoadS3ConfigFromEnv reads S3 settings from SONGLAKE_S3_* variables, falling
// back to the standard AWS variable names. It returns nil when no variable is set.
func LoadS3ConfigFromEnv() *S3Config {
	return LoadS3Config(os.Getenv)
}

// LoadS3Config is LoadS3ConfigFromEnv with a custom variable lookup, such as
// one that also consults a .env file.
func LoadS3Config(getenv func(string) string) *S3Config {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				return v
			}
		}
		return ""
	}
	cfg := &S3Config{
		AccessKeyID:     first("SONGLAKE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"),
		SecretAccessKey: first("SONGLAKE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"),
		SessionToken:    first("SONGLAKE_S3_SESSION_TOKEN", "AWS_SESSION_TOKEN"),
		Region:          first("SONGLAKE_S3_REGION", "AWS_REGION"),
		Endpoint:        first("SONGLAKE_S3_ENDPOINT"),
		UsePathStyle:    cast.ToBool(first("SONGLAKE_S3_PATH_STYLE")),
	}
	if *cfg == (S3Config{}) {
		return nil
	}
	return cfg
}

// NewClient creates an S3 client. A nil cfg uses the default AWS credential chain.
func NewClient(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	if cfg == nil {
		cfg = &S3Config{}
	}
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Location is a parsed s3://bucket/prefix URI.
type Location struct {
	Bucket string
	Prefix string
}

// ErrNotS3 is returned by ParseURI for locations without the s3 scheme.
var ErrNotS3 = errors.New("not an s3 location")

// IsS3 reports whether uri uses the s3:// or s3a:// scheme.
func IsS3(uri string) bool {
	return strings.HasPrefix(uri, "s3://") || strings.HasPrefix(uri, "s3a://")
}

// ParseURI splits an s3:// (or s3a://) URI into bucket and key prefix.
func ParseURI(uri string) (Location, error) {
	if !IsS3(uri) {
		return Location{}, fmt.Errorf("%w: %q", ErrNotS3, uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("invalid s3 uri %q: %w", uri, err)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("s3 uri %q has no bucket", uri)
	}
	return Location{Bucket: u.Host, Prefix: strings.TrimPrefix(u.Path, "/")}, nil
}

// Key joins the location prefix with a relative object path.
func (l Location) Key(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if l.Prefix == "" {
		return rel
	}
	return strings.TrimSuffix(l.Prefix, "/") + "/" + rel
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Prefix
}

// Retry runs op with exponential backoff until it succeeds, the context ends
// or maxElapsed passes.
func Retry[T any](ctx context.Context, maxElapsed time.Duration, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
}
