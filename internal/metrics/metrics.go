/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepulse",
		Name:      "pipeline_runs_total",
		Help:      "Completed pipeline runs by outcome.",
	}, []string{"outcome"})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "timepulse",
		Name:      "pipeline_duration_seconds",
		Help:      "Wall time of pipeline runs.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepulse",
		Name:      "upstream_requests_total",
		Help:      "Requests sent to upstream APIs by source and result.",
	}, []string{"source", "result"})

	SeededRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timepulse",
		Name:      "seeded_records_total",
		Help:      "Records handled by the seeder by entity and outcome.",
	}, []string{"entity", "outcome"})
)
