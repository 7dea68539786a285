// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scanner

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for whole-repository analysis runs.
// Exporter wiring belongs to the deployment; with no SDK configured
// these are no-ops.
var (
	tracer = otel.Tracer("reposcan.analyzer")
	meter  = otel.Meter("reposcan.analyzer")
)

// Analysis outcome attribute values.
const (
	outcomeOK                = "ok"
	outcomeAcquisitionFailed = "acquisition_failed"
)

var (
	analysisTotal   metric.Int64Counter
	analysisLatency metric.Float64Histogram
	riskScores      metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisTotal, err = meter.Int64Counter(
			"analyzer_runs_total",
			metric.WithDescription("Total number of repository analysis runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisLatency, err = meter.Float64Histogram(
			"analyzer_run_duration_seconds",
			metric.WithDescription("Duration of repository analysis runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		riskScores, err = meter.Int64Histogram(
			"analyzer_risk_score",
			metric.WithDescription("Risk score of completed analysis runs"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordAnalysis records one run. Metric failures are ignored;
// observability must never affect analysis results.
func recordAnalysis(ctx context.Context, outcome string, riskScore int, seconds float64) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	analysisTotal.Add(ctx, 1, attrs)
	analysisLatency.Record(ctx, seconds, attrs)
	if outcome == outcomeOK {
		riskScores.Record(ctx, int64(riskScore), attrs)
	}
}
