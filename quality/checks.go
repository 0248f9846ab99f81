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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/songlake/warehouse"
)

// ErrInvalidCheck is returned for a check that can never be evaluated.
var ErrInvalidCheck = errors.New("invalid quality check")

type checkFile struct {
	Checks []checkSpec `yaml:"checks"`
}

type checkSpec struct {
	Table string `yaml:"table"`
	Min   *int64 `yaml:"min"`
	Max   *int64 `yaml:"max"`
}

// LoadChecks reads checks from a YAML file of the form
//
//	checks:
//	  - table: songs
//	    min: 1
//	  - table: songplays
//	    min: 1
//	    max: 1000000
//
// Entries that name no table are skipped with a warning on log.
func LoadChecks(path string, log *slog.Logger) ([]Check, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quality checks: %w", err)
	}
	checks, err := ParseChecks(data, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return checks, nil
}

// ParseChecks decodes and validates YAML checks. Unknown keys are rejected
// and entries without a table are skipped. log may be nil.
func ParseChecks(data []byte, log *slog.Logger) ([]Check, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var f checkFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse quality checks: %w", err)
	}

	var errs []error
	checks := make([]Check, 0, len(f.Checks))
	for i, s := range f.Checks {
		if s.Table == "" {
			log.Warn("skipping quality check without a table", "check", i)
			continue
		}
		t, err := warehouse.ParseTable(s.Table)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %d: %w: %w", i, ErrInvalidCheck, err))
			continue
		}
		checks = append(checks, Check{Table: t, Min: s.Min, Max: s.Max})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := Validate(checks); err != nil {
		return nil, err
	}
	return checks, nil
}

// Validate rejects checks on unknown tables, checks without bounds and checks
// whose min exceeds max.
func Validate(checks []Check) error {
	var errs []error
	for i, c := range checks {
		switch {
		case !c.Table.Valid():
			errs = append(errs, fmt.Errorf("check %d: %w: %w: %q", i, ErrInvalidCheck, warehouse.ErrUnknownTable, c.Table))
		case c.Min == nil && c.Max == nil:
			errs = append(errs, fmt.Errorf("check %d (%s): %w: no bound set", i, c.Table, ErrInvalidCheck))
		case c.Min != nil && c.Max != nil && *c.Min > *c.Max:
			errs = append(errs, fmt.Errorf("check %d (%s): %w: min %d greater than max %d", i, c.Table, ErrInvalidCheck, *c.Min, *c.Max))
		}
	}
	return errors.Join(errs...)
}

// DefaultChecks requires every table to be non-empty.
func DefaultChecks() []Check {
	tables := warehouse.Tables()
	checks := make([]Check, len(tables))
	for i, t := range tables {
		checks[i] = Check{Table: t, Min: Bound(1)}
	}
	return checks
}
