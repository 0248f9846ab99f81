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

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aaronlmathis/songlake/quality"
)

const (
	engineDuckDB   = "duckdb"
	enginePostgres = "postgres"
)

func newCheckCmd(a *app) *cobra.Command {
	var engine string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the quality checks against the lake or the Postgres mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateCheck(); err != nil {
				return err
			}
			checks, err := a.cfg.Checks(a.log)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			stop, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer stop()

			_, err = a.checkJob(engine, checks)(ctx)
			return err
		},
	}
	cmd.Flags().StringVar(&engine, "engine", engineDuckDB, "engine to count rows with, duckdb (lake views) or postgres (mirror)")
	return cmd
}

// checkJob returns a quality.Job that opens the engine afresh on every round
// so tables written since the previous round are seen.
func (a *app) checkJob(engine string, checks []quality.Check) quality.Job {
	return func(ctx context.Context) ([]quality.Result, error) {
		var eng quality.Engine
		switch engine {
		case engineDuckDB:
			l, err := a.openLake()
			if err != nil {
				return nil, err
			}
			db, err := l.OpenDuckDB(ctx)
			if err != nil {
				return nil, err
			}
			defer db.Close()
			eng = quality.NewSQLEngine(db, engineDuckDB)
		case enginePostgres:
			if a.cfg.PostgresDSN == "" {
				return nil, fmt.Errorf("postgres engine needs --postgres-dsn")
			}
			db, err := a.openPostgres(ctx)
			if err != nil {
				return nil, err
			}
			defer db.Close()
			eng = quality.NewSQLEngine(db, enginePostgres)
		default:
			return nil, fmt.Errorf("unknown engine %q (want %s or %s)", engine, engineDuckDB, enginePostgres)
		}

		gate := quality.NewGate(eng,
			quality.WithLogger(a.log),
			quality.WithMetrics(a.metrics),
			quality.WithFailFast(a.cfg.FailFast),
			quality.WithConcurrency(a.cfg.Workers),
		)
		results, err := gate.Run(ctx, checks)
		if a.cfg.ReportPath != "" && len(results) > 0 {
			if rerr := a.writeReport(ctx, results); rerr != nil && err == nil {
				err = rerr
			}
		}
		return results, err
	}
}

func (a *app) writeReport(ctx context.Context, results []quality.Result) error {
	client, err := a.s3Client(ctx)
	if err != nil {
		return err
	}
	sink, err := quality.NewReportSink(ctx, a.cfg.ReportPath, a.reportFormat(), client)
	if err != nil {
		return err
	}
	return quality.WriteReport(ctx, sink, results)
}
