// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package lifecycle derives expiry and status information from license records.
// Expiry is informational: only an explicit revocation makes a license inactive.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/keyward/keyward/internal/models"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// ExpireDate is StartDate plus DurationDays, as a UTC calendar date.
func ExpireDate(l *models.License) time.Time {
	return utcDate(l.StartDate).AddDate(0, 0, l.DurationDays)
}

// RemainingDays counts calendar days from asOf's UTC date to the expire date.
// The result goes negative once the license has expired.
func RemainingDays(l *models.License, asOf time.Time) int {
	seconds := ExpireDate(l).Unix() - utcDate(asOf).Unix()
	return int(seconds / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60

func IsActive(l *models.License) bool {
	return l.Active
}

// StatusOf classifies a license at asOf. Revocation wins over expiry.
func StatusOf(l *models.License, asOf time.Time) Status {
	switch {
	case !l.Active:
		return StatusRevoked
	case RemainingDays(l, asOf) < 0:
		return StatusExpired
	default:
		return StatusActive
	}
}

// Describe renders the remaining time of a license in words.
func Describe(l *models.License, remaining int) string {
	switch {
	case !l.Active:
		return "revoked"
	case remaining < 0:
		return fmt.Sprintf("expired %d days ago", -remaining)
	case remaining == 0:
		return "expires today"
	case remaining == 1:
		return "1 day left"
	default:
		return fmt.Sprintf("%d days left", remaining)
	}
}

// FormatStatusLine renders a one line summary used in chat and reports.
func FormatStatusLine(l *models.License, remaining int) string {
	return fmt.Sprintf("#%d %s (%s) - %s, until %s",
		l.ID, l.OwnerName, l.IPAddress, Describe(l, remaining), ExpireDate(l).Format(models.DateLayout))
}

func utcDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
