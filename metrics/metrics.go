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

// Package metrics holds the Prometheus metrics of a Songlake run. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the pipeline stages and the quality gate.
type Metrics struct {
	RowsWritten      *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	StageFailures    *prometheus.CounterVec
	QualityChecks    *prometheus.CounterVec
	QualityRowCount  *prometheus.GaugeVec
	ObjectsPublished prometheus.Counter
}

// New creates the metrics registered with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "songlake_rows_written_total",
			Help: "Total number of rows written per warehouse table",
		}, []string{"table"}),
		RecordsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "songlake_records_skipped_total",
			Help: "Total number of input records or files skipped per stage and reason",
		}, []string{"stage", "reason"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "songlake_stage_duration_seconds",
			Help:    "Time spent running a pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "songlake_stage_failures_total",
			Help: "Total number of failed pipeline stages",
		}, []string{"stage"}),
		QualityChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "songlake_quality_checks_total",
			Help: "Total number of quality checks per table and result",
		}, []string{"table", "result"}),
		QualityRowCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "songlake_quality_row_count",
			Help: "Row count observed by the last quality check of a table",
		}, []string{"table"}),
		ObjectsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "songlake_objects_published_total",
			Help: "Total number of lake objects uploaded to S3",
		}),
	}
}

// ObserveRows counts rows written to table.
func (m *Metrics) ObserveRows(table string, n int64) {
	if m == nil {
		return
	}
	m.RowsWritten.WithLabelValues(table).Add(float64(n))
}

// ObserveSkipped counts skipped input for a stage.
func (m *Metrics) ObserveSkipped(stage, reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsSkipped.WithLabelValues(stage, reason).Add(float64(n))
}

// ObserveStage records the duration and outcome of a stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveCheck records a quality check result. count is negative when no
// count could be obtained.
func (m *Metrics) ObserveCheck(table string, count int64, passed bool) {
	if m == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	m.QualityChecks.WithLabelValues(table, result).Inc()
	if count >= 0 {
		m.QualityRowCount.WithLabelValues(table).Set(float64(count))
	}
}

// ObservePublished counts uploaded objects.
func (m *Metrics) ObservePublished(n int64) {
	if m == nil {
		return
	}
	m.ObjectsPublished.Add(float64(n))
}
