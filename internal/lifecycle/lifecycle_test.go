// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/keyward/keyward/internal/models"
)

func license(start time.Time, days int, active bool) *models.License {
	return &models.License{
		ID:           7,
		OwnerName:    "alice",
		IPAddress:    "1.2.3.4",
		StartDate:    start,
		DurationDays: days,
		Active:       active,
	}
}

func TestRemainingDays(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		days int
		asOf time.Time
		want int
	}{
		{name: "on_start_date", days: 30, asOf: start, want: 30},
		{name: "late_on_start_date", days: 30, asOf: start.Add(23*time.Hour + 59*time.Minute), want: 30},
		{name: "next_day", days: 30, asOf: start.AddDate(0, 0, 1), want: 29},
		{name: "expire_date", days: 30, asOf: start.AddDate(0, 0, 30), want: 0},
		{name: "one_day_past", days: 30, asOf: start.AddDate(0, 0, 31), want: -1},
		{name: "long_expired", days: 10, asOf: start.AddDate(1, 0, 0), want: -355},
		{name: "into_leap_year", days: 365, asOf: time.Date(2028, 2, 28, 12, 0, 0, 0, time.UTC), want: -423},
		{name: "zero_duration", days: 0, asOf: start, want: 0},
		{
			name: "non_utc_reference",
			days: 30,
			// 2026-01-02 01:00 in UTC+3 is still 2026-01-01 in UTC
			asOf: time.Date(2026, 1, 2, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*60*60)),
			want: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemainingDays(license(start, tt.days, true), tt.asOf))
		})
	}
}

func TestRemainingDaysIsAdditive(t *testing.T) {
	start := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, 0, 12)
	l := license(start, 30, true)

	before := RemainingDays(l, asOf)
	for _, extra := range []int{1, 30, 90, 365} {
		l.DurationDays += extra
		after := RemainingDays(l, asOf)
		assert.Equal(t, before+extra, after)
		before = after
	}
}

func TestRemainingDaysLongDurations(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, days := range []int{1, 30, models.MaxDurationDays, 106751, 106752, 200000, 1000000} {
		l := license(start, days, true)
		assert.Equal(t, days, RemainingDays(l, start), "duration %d", days)
		assert.Equal(t, days-1, RemainingDays(l, start.AddDate(0, 0, 1)), "duration %d", days)
		assert.False(t, ExpireDate(l).Before(start), "duration %d", days)
	}
}

func TestExpiryDoesNotDeactivate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := license(start, 30, true)
	later := start.AddDate(0, 0, 31)

	assert.Equal(t, -1, RemainingDays(l, later))
	assert.True(t, IsActive(l))
	assert.Equal(t, StatusExpired, StatusOf(l, later))
}

func TestStatusOf(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, StatusActive, StatusOf(license(start, 30, true), start))
	assert.Equal(t, StatusActive, StatusOf(license(start, 30, true), start.AddDate(0, 0, 30)))
	assert.Equal(t, StatusExpired, StatusOf(license(start, 30, true), start.AddDate(0, 0, 31)))
	assert.Equal(t, StatusRevoked, StatusOf(license(start, 30, false), start))
	assert.Equal(t, StatusRevoked, StatusOf(license(start, 30, false), start.AddDate(0, 0, 90)))
}

func TestExpireDate(t *testing.T) {
	start := time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 14, 0, 0, 0, 0, time.UTC), ExpireDate(license(start, 30, true)))
	assert.Equal(t, start, ExpireDate(license(start, 0, true)))
}

func TestFormatStatusLine(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		active    bool
		remaining int
		contains  string
	}{
		{name: "plenty_left", active: true, remaining: 12, contains: "12 days left"},
		{name: "one_day", active: true, remaining: 1, contains: "1 day left"},
		{name: "today", active: true, remaining: 0, contains: "expires today"},
		{name: "expired", active: true, remaining: -3, contains: "expired 3 days ago"},
		{name: "revoked", active: false, remaining: 5, contains: "revoked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := FormatStatusLine(license(start, 30, tt.active), tt.remaining)
			assert.Contains(t, line, tt.contains)
			assert.Contains(t, line, "#7 alice (1.2.3.4)")
			assert.Contains(t, line, "2026-01-31")
		})
	}
}
