// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the OpenTelemetry tracer for repair sessions.
var tracer = otel.Tracer("crucible.forge.repair")

var (
	sessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crucible_repair_sessions_total",
		Help: "Repair sessions by terminal status",
	}, []string{"status"})

	attemptsPerSession = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crucible_repair_attempts_per_session",
		Help:    "Number of build attempts each session consumed",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
	})
)

// startSessionSpan opens the tracing span covering one whole session.
func startSessionSpan(ctx context.Context, sessionID string, maxAttempts int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "repair.session",
		trace.WithAttributes(
			attribute.String("repair.session_id", sessionID),
			attribute.Int("repair.max_attempts", maxAttempts),
		),
	)
}

// recordSession records Prometheus metrics for one terminal session.
func recordSession(session *Session) {
	sessionOutcomes.WithLabelValues(string(session.Status)).Inc()
	attemptsPerSession.Observe(float64(len(session.Attempts)))
}
