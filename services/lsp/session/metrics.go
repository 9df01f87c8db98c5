// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SolLSP/services/lsp/telemetry"
)

// Package-level tracer and meter for session operations.
var (
	tracer = otel.Tracer("sollsp.session")
	meter  = otel.Meter("sollsp.session")
)

// Metrics for session operations.
var (
	requestLatency      metric.Float64Histogram
	requestTotal        metric.Int64Counter
	diagnosticsTotal    metric.Int64Counter
	sessionStarts       metric.Int64Counter
	outstandingRequests metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"sollsp_request_duration_seconds",
			metric.WithDescription("Duration of requests sent to the backend"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"sollsp_requests_total",
			metric.WithDescription("Total number of requests sent to the backend"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		diagnosticsTotal, err = meter.Int64Counter(
			"sollsp_diagnostics_published_total",
			metric.WithDescription("Total number of diagnostics published by the backend"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sessionStarts, err = meter.Int64Counter(
			"sollsp_session_starts_total",
			metric.WithDescription("Total number of session start attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		outstandingRequests, err = meter.Int64UpDownCounter(
			"sollsp_outstanding_requests",
			metric.WithDescription("Requests awaiting a backend response"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a typed session operation.
func startOperationSpan(ctx context.Context, operation, sessionID, uri string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Session."+operation,
		trace.WithAttributes(
			attribute.String("lsp.operation", operation),
			attribute.String("lsp.session_id", sessionID),
			attribute.String("lsp.uri", uri),
		),
	)
}

// endOperationSpan records the outcome on span and ends it.
func endOperationSpan(span trace.Span, resultCnt int, err error) {
	span.SetAttributes(
		attribute.Int("lsp.result_count", resultCnt),
		attribute.Bool("lsp.success", err == nil),
	)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetSpanOK(span)
	}
	span.End()
}

// recordRequestMetrics records one request round trip.
func recordRequestMetrics(ctx context.Context, method string, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome(err)),
	)
	requestLatency.Record(ctx, duration.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}

// trackOutstanding adjusts the outstanding request gauge.
func trackOutstanding(ctx context.Context, delta int64) {
	if initMetrics() != nil {
		return
	}
	outstandingRequests.Add(ctx, delta)
}

// recordDiagnostics records a published diagnostic set.
func recordDiagnostics(ctx context.Context, count int) {
	if initMetrics() != nil {
		return
	}
	diagnosticsTotal.Add(ctx, int64(count))
}

// recordSessionStart records a start attempt.
func recordSessionStart(ctx context.Context, kind string, err error) {
	if initMetrics() != nil {
		return
	}
	sessionStarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", kind),
		attribute.String("outcome", outcome(err)),
	))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrBackend):
		return "backend_error"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	default:
		return "error"
	}
}
