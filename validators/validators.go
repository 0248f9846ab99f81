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

// Package validators checks the invariants of dimension and fact rows before
// they are persisted: key uniqueness, non-null keys and null rates.
package validators

import (
	"context"
	"errors"
	"fmt"

	"github.com/aaronlmathis/songlake/aggregate"
	"github.com/aaronlmathis/songlake/core"
)

// ValidationError describes one violated rule.
type ValidationError struct {
	Rule  string // "min_records", "required", "not_null", "unique", "null_rate"
	Field string
	Row   int // index of the offending row, -1 when not row specific
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("validation %s %s row %d: %v", e.Rule, e.Field, e.Row, e.Err)
	}
	return fmt.Sprintf("validation %s %s: %v", e.Rule, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ErrDuplicateKey is wrapped by unique key violations.
var ErrDuplicateKey = errors.New("duplicate key")

// RowValidator checks a batch of rows.
type RowValidator struct {
	MinRecords     int
	RequiredFields []string
	NotNullFields  []string
	UniqueKey      []string
	MaxNullRate    map[string]float64
}

// Option configures a RowValidator.
type Option func(*RowValidator)

// WithMinRecords requires at least n rows.
func WithMinRecords(n int) Option {
	return func(v *RowValidator) { v.MinRecords = n }
}

// WithRequiredFields requires every row to carry the fields, possibly nil.
func WithRequiredFields(fields ...string) Option {
	return func(v *RowValidator) { v.RequiredFields = append(v.RequiredFields, fields...) }
}

// WithNotNull requires the fields to be non-nil in every row.
func WithNotNull(fields ...string) Option {
	return func(v *RowValidator) { v.NotNullFields = append(v.NotNullFields, fields...) }
}

// WithUniqueKey requires the combination of fields to be unique.
func WithUniqueKey(fields ...string) Option {
	return func(v *RowValidator) { v.UniqueKey = append([]string(nil), fields...) }
}

// WithMaxNullRate bounds the share of nil values of a field.
func WithMaxNullRate(field string, rate float64) Option {
	return func(v *RowValidator) {
		if v.MaxNullRate == nil {
			v.MaxNullRate = make(map[string]float64)
		}
		v.MaxNullRate[field] = rate
	}
}

// New creates a RowValidator.
func New(opts ...Option) *RowValidator {
	v := &RowValidator{}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate returns nil when every rule holds, otherwise the joined
// ValidationErrors, at most one per rule and field.
func (v *RowValidator) Validate(ctx context.Context, rows []core.Record) error {
	var errs []error

	if len(rows) < v.MinRecords {
		errs = append(errs, &ValidationError{
			Rule: "min_records", Row: -1,
			Err: fmt.Errorf("got %d rows, need at least %d", len(rows), v.MinRecords),
		})
	}

	errs = append(errs, v.checkPresence(rows)...)

	if len(v.UniqueKey) > 0 {
		seen := make(map[string]int, len(rows))
		for i, r := range rows {
			if i%4096 == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			k := aggregate.Key(r, v.UniqueKey...)
			if first, dup := seen[k]; dup {
				errs = append(errs, &ValidationError{
					Rule: "unique", Field: fmt.Sprint(v.UniqueKey), Row: i,
					Err: fmt.Errorf("%w: same key as row %d", ErrDuplicateKey, first),
				})
				break
			}
			seen[k] = i
		}
	}

	for field, maxRate := range v.MaxNullRate {
		if len(rows) == 0 {
			break
		}
		nulls := 0
		for _, r := range rows {
			if r[field] == nil {
				nulls++
			}
		}
		if rate := float64(nulls) / float64(len(rows)); rate > maxRate {
			errs = append(errs, &ValidationError{
				Rule: "null_rate", Field: field, Row: -1,
				Err: fmt.Errorf("null rate %.2f exceeds %.2f", rate, maxRate),
			})
		}
	}

	return errors.Join(errs...)
}

func (v *RowValidator) checkPresence(rows []core.Record) []error {
	var errs []error
	for _, field := range v.RequiredFields {
		for i, r := range rows {
			if _, ok := r[field]; !ok {
				errs = append(errs, &ValidationError{Rule: "required", Field: field, Row: i, Err: errors.New("field missing")})
				break
			}
		}
	}
	for _, field := range v.NotNullFields {
		for i, r := range rows {
			if r[field] == nil {
				errs = append(errs, &ValidationError{Rule: "not_null", Field: field, Row: i, Err: errors.New("value is null")})
				break
			}
		}
	}
	return errs
}
