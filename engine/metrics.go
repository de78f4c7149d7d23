// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	syncAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techdata_sync_attempts_total",
		Help: "Total remote persist attempts by status and trigger",
	}, []string{"status", "trigger"})

	syncDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "techdata_sync_duration_seconds",
		Help:    "Duration of remote persist calls",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"status"})

	loadDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "techdata_load_duration_seconds",
		Help:    "Duration of remote document loads",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"status"})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techdata_snapshots_total",
		Help: "Total versions appended to history by source",
	}, []string{"source"})

	snapshotsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techdata_snapshots_deduped_total",
		Help: "Snapshot requests skipped by the empty-diff dedup rule",
	})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techdata_rollbacks_total",
		Help: "Total reverts to an earlier version",
	})

	cacheMirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techdata_cache_mirror_failures_total",
		Help: "Best-effort cache writes that failed",
	})

	rehydratedProjectsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "techdata_rehydrated_projects",
		Help: "Projects restored from the durable cache at startup",
	})
)
