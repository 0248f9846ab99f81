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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aaronlmathis/songlake/warehouse"
)

func newDescribeCmd(a *app) *cobra.Command {
	var showFiles bool
	cmd := &cobra.Command{
		Use:   "describe [table...]",
		Short: "Print the stored layout of lake tables",
		Long:  "Reads the Parquet footers of each table and prints its row count, data files and file schema. Describes every table when none is named.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := warehouse.Tables()
			if len(args) > 0 {
				tables = make([]warehouse.Table, 0, len(args))
				for _, name := range args {
					t, err := warehouse.ParseTable(name)
					if err != nil {
						return err
					}
					tables = append(tables, t)
				}
			}

			a.log = newLogger(a.cfg.Verbose)
			l, err := a.openLake()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, t := range tables {
				desc, err := l.Describe(t)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d rows in %d files\n", desc.Table, desc.Rows, len(desc.Files))
				if desc.Schema != nil {
					for _, f := range desc.Schema.Fields() {
						fmt.Fprintf(out, "  %s %s\n", f.Name, f.Type)
					}
				}
				if !showFiles {
					continue
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "  PATH\tROWS\tROW GROUPS")
				for _, f := range desc.Files {
					fmt.Fprintf(w, "  %s\t%d\t%d\n", f.Path, f.Rows, f.RowGroups)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showFiles, "files", false, "List every data file")
	return cmd
}
