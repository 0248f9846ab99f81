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

// Command songlake builds the songlake star schema from song metadata and
// user activity logs and checks it.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aaronlmathis/songlake/config"
	"github.com/aaronlmathis/songlake/lake"
	"github.com/aaronlmathis/songlake/metrics"
	"github.com/aaronlmathis/songlake/objstore"
	"github.com/aaronlmathis/songlake/quality"
	"github.com/aaronlmathis/songlake/runner"
	"github.com/aaronlmathis/songlake/writers"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	env, err := config.LoadEnv(".env")
	if err != nil {
		return err
	}

	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "songlake",
		Short:         "Build and check the songlake star schema.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.cfg = config.Register(rootCmd.PersistentFlags(), env)

	rootCmd.AddCommand(
		newRunCmd(a),
		newCheckCmd(a),
		newScheduleCmd(a),
		newDescribeCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}

// app holds what every command shares.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
}

// start sets up logging and metrics. The returned function stops the metrics
// listener.
func (a *app) start(ctx context.Context) (func(), error) {
	a.log = newLogger(a.cfg.Verbose)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	if a.cfg.MetricsAddr == "" {
		return func() {}, nil
	}
	listener, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start prometheus metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		a.log.Info("prometheus metrics server listening", "address", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("prometheus metrics server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}, nil
}

func (a *app) openLake() (*lake.Lake, error) {
	codec, err := writers.ParseCompression(a.cfg.Compression)
	if err != nil {
		return nil, err
	}
	return lake.New(a.cfg.LakeDir,
		lake.WithLogger(a.log),
		lake.WithMaxRowsPerFile(a.cfg.MaxRowsPerFile),
		lake.WithRowGroupSize(int64(a.cfg.RowGroupSize)),
		lake.WithCompression(codec),
	)
}

// s3Client returns nil when no configured location is on S3.
func (a *app) s3Client(ctx context.Context) (runner.S3API, error) {
	if !a.cfg.NeedsS3() {
		return nil, nil
	}
	client, err := objstore.NewClient(ctx, a.cfg.S3)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// openPostgres returns nil when no DSN is configured.
func (a *app) openPostgres(ctx context.Context) (*sql.DB, error) {
	if a.cfg.PostgresDSN == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", a.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	_, err = objstore.Retry(ctx, 30*time.Second, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

func (a *app) reportFormat() quality.ReportFormat {
	f, err := quality.ParseReportFormat(a.cfg.ReportFormat)
	if err != nil {
		return quality.FormatJSON
	}
	return f
}
