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

// Package config holds the run configuration of the songlake command. Flag
// defaults come from the environment, then from .env files, then from
// built-in values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	flag "github.com/spf13/pflag"

	"github.com/aaronlmathis/songlake/objstore"
	"github.com/aaronlmathis/songlake/quality"
	"github.com/aaronlmathis/songlake/writers"
)

const (
	defaultLakeDir        = "./lake"
	defaultStageTimeout   = 30 * time.Minute
	defaultMaxRowsPerFile = 100_000
	defaultRowGroupSize   = 10_000
	defaultCompression    = "snappy"
	defaultMetricsAddr    = ""
	defaultPostgresSchema = "public"
	defaultReportFormat   = "json"
	defaultSchedule       = "0 0 * * * *"
)

// Config is the configuration of one songlake invocation.
type Config struct {
	Verbose     bool
	MetricsAddr string

	SongData string
	LogData  string
	LakeDir  string

	StageTimeout   time.Duration
	MaxRowsPerFile int
	RowGroupSize   int
	Compression    string
	Workers        int

	SkipQuality  bool
	ChecksFile   string
	ReportPath   string
	ReportFormat string
	FailFast     bool
	Schedule     string

	PublishTo      string
	PostgresDSN    string
	PostgresSchema string

	// S3 holds explicit S3 credentials; nil uses the default AWS chain.
	S3 *objstore.S3Config
}

// Env looks variables up in the process environment, then in .env files.
// Values from files are never exported into the process.
type Env struct {
	file map[string]string
}

// LoadEnv reads the given .env files; missing files are ignored. Earlier
// files win.
func LoadEnv(paths ...string) (Env, error) {
	env := Env{file: make(map[string]string)}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		vals, err := godotenv.Read(p)
		if err != nil {
			return Env{}, fmt.Errorf("failed to read %s: %w", p, err)
		}
		for k, v := range vals {
			if _, ok := env.file[k]; !ok {
				env.file[k] = v
			}
		}
	}
	return env, nil
}

// Get returns the value of key, or "" when unset.
func (e Env) Get(key string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return e.file[key]
}

func (e Env) getenv(key, def string) string {
	if v := e.Get(key); v != "" {
		return v
	}
	return def
}

func (e Env) getenvBool(key string, def bool) bool {
	v := e.Get(key)
	if v == "" {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

func (e Env) getenvInt(key string, def int) int {
	v := e.Get(key)
	if v == "" {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

func (e Env) getenvDuration(key string, def time.Duration) time.Duration {
	v := e.Get(key)
	if v == "" {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}

// Register binds the flags of cfg to fs with defaults taken from env.
func Register(fs *flag.FlagSet, env Env) *Config {
	cfg := &Config{}

	fs.BoolVarP(&cfg.Verbose, "verbose", "v", env.getenvBool("SONGLAKE_VERBOSE", false), "enable debug logging (env: SONGLAKE_VERBOSE)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", env.getenv("SONGLAKE_METRICS_ADDR", defaultMetricsAddr), "address to serve prometheus metrics on, empty to disable (env: SONGLAKE_METRICS_ADDR)")

	fs.StringVar(&cfg.SongData, "song-data", env.getenv("SONGLAKE_SONG_DATA", ""), "song metadata root, a directory or s3://bucket/prefix (env: SONGLAKE_SONG_DATA)")
	fs.StringVar(&cfg.LogData, "log-data", env.getenv("SONGLAKE_LOG_DATA", ""), "activity log root, a directory or s3://bucket/prefix (env: SONGLAKE_LOG_DATA)")
	fs.StringVar(&cfg.LakeDir, "lake-dir", env.getenv("SONGLAKE_LAKE_DIR", defaultLakeDir), "local directory of the parquet lake (env: SONGLAKE_LAKE_DIR)")

	fs.DurationVar(&cfg.StageTimeout, "stage-timeout", env.getenvDuration("SONGLAKE_STAGE_TIMEOUT", defaultStageTimeout), "timeout of each stage, 0 for none (env: SONGLAKE_STAGE_TIMEOUT)")
	fs.IntVar(&cfg.MaxRowsPerFile, "max-rows-per-file", env.getenvInt("SONGLAKE_MAX_ROWS_PER_FILE", defaultMaxRowsPerFile), "rows per parquet file (env: SONGLAKE_MAX_ROWS_PER_FILE)")
	fs.IntVar(&cfg.RowGroupSize, "row-group-size", env.getenvInt("SONGLAKE_ROW_GROUP_SIZE", defaultRowGroupSize), "rows per parquet row group (env: SONGLAKE_ROW_GROUP_SIZE)")
	fs.StringVar(&cfg.Compression, "compression", env.getenv("SONGLAKE_COMPRESSION", defaultCompression), "parquet codec: snappy, zstd, gzip, brotli, lz4 or none (env: SONGLAKE_COMPRESSION)")
	fs.IntVar(&cfg.Workers, "workers", env.getenvInt("SONGLAKE_WORKERS", 0), "concurrent tasks, 0 for one per CPU (env: SONGLAKE_WORKERS)")

	fs.BoolVar(&cfg.SkipQuality, "skip-quality", env.getenvBool("SONGLAKE_SKIP_QUALITY", false), "do not run the quality gate after a run (env: SONGLAKE_SKIP_QUALITY)")
	fs.StringVar(&cfg.ChecksFile, "checks", env.getenv("SONGLAKE_CHECKS", ""), "YAML file of quality checks, empty for non-empty checks on every table (env: SONGLAKE_CHECKS)")
	fs.StringVar(&cfg.ReportPath, "report", env.getenv("SONGLAKE_REPORT", ""), "write the quality report to a path or s3:// URI (env: SONGLAKE_REPORT)")
	fs.StringVar(&cfg.ReportFormat, "report-format", env.getenv("SONGLAKE_REPORT_FORMAT", defaultReportFormat), "quality report format, json or csv (env: SONGLAKE_REPORT_FORMAT)")
	fs.BoolVar(&cfg.FailFast, "fail-fast", env.getenvBool("SONGLAKE_FAIL_FAST", false), "stop the quality gate at the first failed check (env: SONGLAKE_FAIL_FAST)")
	fs.StringVar(&cfg.Schedule, "schedule", env.getenv("SONGLAKE_SCHEDULE", defaultSchedule), "cron expression with seconds for scheduled checks (env: SONGLAKE_SCHEDULE)")

	fs.StringVar(&cfg.PublishTo, "publish-to", env.getenv("SONGLAKE_PUBLISH_TO", ""), "s3://bucket/prefix to publish the lake to (env: SONGLAKE_PUBLISH_TO)")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", env.getenv("SONGLAKE_POSTGRES_DSN", ""), "mirror the lake into this Postgres database (env: SONGLAKE_POSTGRES_DSN)")
	fs.StringVar(&cfg.PostgresSchema, "postgres-schema", env.getenv("SONGLAKE_POSTGRES_SCHEMA", defaultPostgresSchema), "Postgres schema of the mirror (env: SONGLAKE_POSTGRES_SCHEMA)")

	cfg.S3 = objstore.LoadS3Config(env.Get)
	return cfg
}

// ValidateRun checks the settings needed by a pipeline run.
func (c *Config) ValidateRun() error {
	var errs []error
	if c.SongData == "" {
		errs = append(errs, errors.New("song data root is empty (set SONGLAKE_SONG_DATA or --song-data)"))
	}
	if c.LogData == "" {
		errs = append(errs, errors.New("log data root is empty (set SONGLAKE_LOG_DATA or --log-data)"))
	}
	if c.PublishTo != "" && !objstore.IsS3(c.PublishTo) {
		errs = append(errs, fmt.Errorf("publish target %q is not an s3:// location", c.PublishTo))
	}
	errs = append(errs, c.validateCommon())
	return errors.Join(errs...)
}

// ValidateCheck checks the settings needed by the quality gate.
func (c *Config) ValidateCheck() error {
	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	var errs []error
	if c.LakeDir == "" {
		errs = append(errs, errors.New("lake directory is empty (set SONGLAKE_LAKE_DIR or --lake-dir)"))
	}
	if c.MaxRowsPerFile <= 0 {
		errs = append(errs, fmt.Errorf("max rows per file must be positive, got %d", c.MaxRowsPerFile))
	}
	if c.RowGroupSize <= 0 {
		errs = append(errs, fmt.Errorf("row group size must be positive, got %d", c.RowGroupSize))
	}
	if _, err := writers.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.StageTimeout < 0 {
		errs = append(errs, fmt.Errorf("stage timeout must not be negative, got %s", c.StageTimeout))
	}
	if _, err := quality.ParseReportFormat(c.ReportFormat); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Checks returns the configured quality checks.
func (c *Config) Checks(log *slog.Logger) ([]quality.Check, error) {
	if c.ChecksFile == "" {
		return quality.DefaultChecks(), nil
	}
	return quality.LoadChecks(c.ChecksFile, log)
}

// NeedsS3 reports whether any configured location is on S3.
func (c *Config) NeedsS3() bool {
	return objstore.IsS3(c.SongData) || objstore.IsS3(c.LogData) ||
		objstore.IsS3(c.PublishTo) || objstore.IsS3(c.ReportPath)
}
