// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/models"
)

// LicenseSource is the read side of the license service.
type LicenseSource interface {
	List(ctx context.Context) ([]*models.License, error)
	IPChangesSince(ctx context.Context, cutoff time.Time) (map[int64]int, error)
}

type LicenseCollector struct {
	source LicenseSource
	window time.Duration
	now    func() time.Time

	licensesDesc     *prometheus.Desc
	ipChangesDesc    *prometheus.Desc
	expiringSoonDesc *prometheus.Desc
	scrapeErrorsDesc *prometheus.Desc
}

func NewLicenseCollector(source LicenseSource, window time.Duration) *LicenseCollector {
	return &LicenseCollector{
		source: source,
		window: window,
		now:    time.Now,

		licensesDesc: prometheus.NewDesc(
			"keyward_licenses",
			"Number of licenses by status",
			[]string{"status"},
			nil,
		),
		ipChangesDesc: prometheus.NewDesc(
			"keyward_ip_changes_window",
			"IP changes recorded inside the report window",
			nil,
			nil,
		),
		expiringSoonDesc: prometheus.NewDesc(
			"keyward_licenses_expiring_soon",
			"Active licenses with 7 or fewer days left",
			nil,
			nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"keyward_scrape_errors_total",
			"Scrape errors by type",
			[]string{"type"},
			nil,
		),
	}
}

func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licensesDesc
	ch <- c.ipChangesDesc
	ch <- c.expiringSoonDesc
	ch <- c.scrapeErrorsDesc
}

func (c *LicenseCollector) reportError(ch chan<- prometheus.Metric, errorType string) {
	ch <- prometheus.MustNewConstMetric(
		c.scrapeErrorsDesc,
		prometheus.CounterValue,
		1,
		errorType,
	)
}

func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.source == nil {
		log.Debug().Msg("License source is nil, skipping metrics collection")
		return
	}

	now := c.now()

	licenses, err := c.source.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list licenses for metrics")
		c.reportError(ch, "licenses")
	} else {
		counts := map[lifecycle.Status]int{
			lifecycle.StatusActive:  0,
			lifecycle.StatusExpired: 0,
			lifecycle.StatusRevoked: 0,
		}
		expiringSoon := 0
		for _, l := range licenses {
			status := lifecycle.StatusOf(l, now)
			counts[status]++
			if status == lifecycle.StatusActive && lifecycle.RemainingDays(l, now) <= 7 {
				expiringSoon++
			}
		}

		for status, n := range counts {
			ch <- prometheus.MustNewConstMetric(
				c.licensesDesc,
				prometheus.GaugeValue,
				float64(n),
				string(status),
			)
		}

		ch <- prometheus.MustNewConstMetric(
			c.expiringSoonDesc,
			prometheus.GaugeValue,
			float64(expiringSoon),
		)
	}

	changes, err := c.source.IPChangesSince(ctx, now.Add(-c.window))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count ip changes for metrics")
		c.reportError(ch, "ip_changes")
		return
	}

	total := 0
	for _, n := range changes {
		total += n
	}
	ch <- prometheus.MustNewConstMetric(
		c.ipChangesDesc,
		prometheus.GaugeValue,
		float64(total),
	)
}
