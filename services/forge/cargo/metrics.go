// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cargo

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the OpenTelemetry tracer for cargo invocations.
var tracer = otel.Tracer("crucible.forge.cargo")

var (
	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crucible_cargo_invocation_duration_seconds",
		Help:    "Wall-clock time of cargo build/run invocations",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"subcommand", "success"})

	invocationTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crucible_cargo_timeouts_total",
		Help: "Number of cargo invocations killed by the wall-clock timeout",
	}, []string{"subcommand"})
)

// startCargoSpan opens a tracing span for one invocation.
func startCargoSpan(ctx context.Context, subcommand, dir string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "cargo."+subcommand,
		trace.WithAttributes(
			attribute.String("cargo.subcommand", subcommand),
			attribute.String("cargo.dir", dir),
		),
	)
}

// recordInvocation records Prometheus metrics for one finished
// invocation.
func recordInvocation(subcommand string, result *Result) {
	invocationDuration.WithLabelValues(subcommand, strconv.FormatBool(result.Success)).
		Observe(result.Duration.Seconds())
	if result.TimedOut {
		invocationTimeouts.WithLabelValues(subcommand).Inc()
	}
}
