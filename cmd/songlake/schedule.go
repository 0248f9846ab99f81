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

	"github.com/aaronlmathis/songlake/quality"
)

func newScheduleCmd(a *app) *cobra.Command {
	var engine string
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the quality checks on the --schedule cron expression until interrupted",
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

			s := quality.NewScheduler(a.checkJob(engine, checks),
				quality.WithSchedulerLogger(a.log),
				quality.WithRoundTimeout(a.cfg.StageTimeout),
			)
			if err := s.Schedule(a.cfg.Schedule); err != nil {
				return err
			}
			if runNow {
				s.RunOnce(ctx)
			}
			if err := s.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			s.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&engine, "engine", engineDuckDB, "engine to count rows with, duckdb (lake views) or postgres (mirror)")
	cmd.Flags().BoolVar(&runNow, "now", false, "run one round immediately before waiting for the schedule")
	return cmd
}
