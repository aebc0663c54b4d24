// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry         *prometheus.Registry
	licenseCollector *LicenseCollector
	jobMetrics       *JobMetrics
}

func NewManager(source LicenseSource, ipChangeWindow time.Duration) *Manager {
	registry := prometheus.NewRegistry()

	licenseCollector := NewLicenseCollector(source, ipChangeWindow)
	registry.MustRegister(licenseCollector)

	jobMetrics := NewJobMetrics()
	registry.MustRegister(jobMetrics.collectors()...)

	log.Info().Msg("Metrics manager initialized with license collector")

	return &Manager{
		registry:         registry,
		licenseCollector: licenseCollector,
		jobMetrics:       jobMetrics,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Jobs returns the recorder to hand to the scheduler.
func (m *Manager) Jobs() *JobMetrics {
	return m.jobMetrics
}
