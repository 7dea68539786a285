// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pyast

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for syntax scanning. Exporter wiring
// belongs to the deployment; with no SDK configured these are no-ops.
var (
	tracer = otel.Tracer("reposcan.pyast")
	meter  = otel.Meter("reposcan.pyast")
)

// Scan outcome attribute values.
const (
	outcomeOK            = "ok"
	outcomeSyntaxError   = "syntax_error"
	outcomeAnalysisError = "analysis_error"
)

var (
	scanTotal    metric.Int64Counter
	scanLatency  metric.Float64Histogram
	issuesPerRun metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		scanTotal, err = meter.Int64Counter(
			"pyast_scan_total",
			metric.WithDescription("Total number of per-file syntax scans"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		scanLatency, err = meter.Float64Histogram(
			"pyast_scan_duration_seconds",
			metric.WithDescription("Duration of per-file syntax scans"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		issuesPerRun, err = meter.Int64Histogram(
			"pyast_issues_found",
			metric.WithDescription("Number of issues found per scanned file"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordScan records one per-file scan. Metric failures are ignored;
// observability must never affect scan results.
func recordScan(ctx context.Context, outcome string, issues int, seconds float64) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	scanTotal.Add(ctx, 1, attrs)
	scanLatency.Record(ctx, seconds, attrs)
	issuesPerRun.Record(ctx, int64(issues), attrs)
}
