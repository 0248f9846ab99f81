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
	"github.com/spf13/cobra"

	"github.com/aaronlmathis/songlake/runner"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Extract every table from the song and log data, then check it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateRun(); err != nil {
				return err
			}
			ctx := cmd.Context()
			stop, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer stop()

			l, err := a.openLake()
			if err != nil {
				return err
			}
			client, err := a.s3Client(ctx)
			if err != nil {
				return err
			}
			pg, err := a.openPostgres(ctx)
			if err != nil {
				return err
			}
			if pg != nil {
				defer pg.Close()
			}

			opts := runner.Options{
				SongData:       a.cfg.SongData,
				LogData:        a.cfg.LogData,
				StageTimeout:   a.cfg.StageTimeout,
				Workers:        a.cfg.Workers,
				FailFast:       a.cfg.FailFast,
				ReportPath:     a.cfg.ReportPath,
				ReportFormat:   a.reportFormat(),
				Postgres:       pg,
				PostgresSchema: a.cfg.PostgresSchema,
				PublishTo:      a.cfg.PublishTo,
				S3:             client,
			}
			if !a.cfg.SkipQuality {
				if opts.Checks, err = a.cfg.Checks(a.log); err != nil {
					return err
				}
			}

			a.log.Info("starting run",
				"song_data", a.cfg.SongData,
				"log_data", a.cfg.LogData,
				"lake", l.Root(),
				"checks", len(opts.Checks),
			)
			_, err = runner.New(l, opts, runner.WithLogger(a.log), runner.WithMetrics(a.metrics)).Run(ctx)
			return err
		},
	}
}
