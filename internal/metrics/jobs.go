// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records scheduler outcomes. It satisfies scheduler.Recorder.
type JobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  *prometheus.CounterVec
	lastRun  *prometheus.GaugeVec
}

func NewJobMetrics() *JobMetrics {
	return &JobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_job_runs_total",
			Help: "Scheduled job runs by outcome",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keyward_job_duration_seconds",
			Help:    "Scheduled job run duration",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_job_skipped_total",
			Help: "Runs skipped because the previous run was still in progress",
		}, []string{"job"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keyward_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}, []string{"job"}),
	}
}

func (m *JobMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.runs, m.duration, m.skipped, m.lastRun}
}

func (m *JobMetrics) JobSkipped(name string) {
	m.skipped.WithLabelValues(name).Inc()
}

func (m *JobMetrics) JobFinished(name string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else {
		m.lastRun.WithLabelValues(name).SetToCurrentTime()
	}

	m.runs.WithLabelValues(name, outcome).Inc()
	m.duration.WithLabelValues(name).Observe(duration.Seconds())
}
