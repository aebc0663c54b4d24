// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/models"
)

type stubSource struct {
	licenses []*models.License
	changes  map[int64]int
	listErr  error
}

func (s *stubSource) List(context.Context) ([]*models.License, error) {
	return s.licenses, s.listErr
}

func (s *stubSource) IPChangesSince(context.Context, time.Time) (map[int64]int, error) {
	return s.changes, nil
}

func TestNewManager(t *testing.T) {
	manager := NewManager(nil, 24*time.Hour)

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.registry)
	assert.NotNil(t, manager.licenseCollector)
	assert.NotNil(t, manager.Jobs())
}

func TestManager_RegistryIsolation(t *testing.T) {
	manager1 := NewManager(nil, time.Hour)
	manager2 := NewManager(nil, time.Hour)

	assert.NotSame(t, manager1.registry, manager2.registry, "Each manager should have its own registry")
	assert.NotSame(t, manager1.licenseCollector, manager2.licenseCollector, "Each manager should have its own collector")
}

func TestManager_GetRegistry(t *testing.T) {
	manager := NewManager(nil, time.Hour)

	registry := manager.GetRegistry()
	assert.NotNil(t, registry)
	assert.IsType(t, &prometheus.Registry{}, registry)
}

func TestLicenseCollector(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	source := &stubSource{
		licenses: []*models.License{
			{ID: 1, OwnerName: "a", StartDate: start, DurationDays: 90, Active: true},
			{ID: 2, OwnerName: "b", StartDate: start, DurationDays: 35, Active: true},
			{ID: 3, OwnerName: "c", StartDate: start, DurationDays: 10, Active: true},
			{ID: 4, OwnerName: "d", StartDate: start, DurationDays: 90, Active: false},
		},
		changes: map[int64]int{1: 2, 3: 1},
	}

	collector := NewLicenseCollector(source, 24*time.Hour)
	collector.now = func() time.Time { return now }

	expected := `
# HELP keyward_licenses Number of licenses by status
# TYPE keyward_licenses gauge
keyward_licenses{status="active"} 2
keyward_licenses{status="expired"} 1
keyward_licenses{status="revoked"} 1
# HELP keyward_licenses_expiring_soon Active licenses with 7 or fewer days left
# TYPE keyward_licenses_expiring_soon gauge
keyward_licenses_expiring_soon 1
# HELP keyward_ip_changes_window IP changes recorded inside the report window
# TYPE keyward_ip_changes_window gauge
keyward_ip_changes_window 3
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"keyward_licenses", "keyward_licenses_expiring_soon", "keyward_ip_changes_window")
	require.NoError(t, err)
}

func TestLicenseCollector_ReportsErrors(t *testing.T) {
	collector := NewLicenseCollector(&stubSource{listErr: errors.New("database is locked")}, time.Hour)

	expected := `
# HELP keyward_scrape_errors_total Scrape errors by type
# TYPE keyward_scrape_errors_total counter
keyward_scrape_errors_total{type="licenses"} 1
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected), "keyward_scrape_errors_total")
	require.NoError(t, err)
}

func TestJobMetrics(t *testing.T) {
	m := NewJobMetrics()

	m.JobFinished("backup", 2*time.Second, nil)
	m.JobFinished("backup", time.Second, errors.New("telegram unavailable"))
	m.JobFinished("backup", time.Second, errors.New("telegram unavailable"))
	m.JobSkipped("backup")

	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("backup", "success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.runs.WithLabelValues("backup", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.skipped.WithLabelValues("backup")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
	assert.Greater(t, testutil.ToFloat64(m.lastRun.WithLabelValues("backup")), 0.0)
}

func TestManager_MetricsCanBeScraped(t *testing.T) {
	manager := NewManager(&stubSource{}, time.Hour)
	manager.Jobs().JobFinished("ip-change-report", time.Millisecond, nil)

	count := testutil.CollectAndCount(manager.GetRegistry())
	assert.Positive(t, count)
}
