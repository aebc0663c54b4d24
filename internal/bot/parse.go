// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/keyward/keyward/internal/models"
)

const newLicenseFormat = "owner name | ip address | days [| chat id]"

// ParseNewLicense reads "name | ip | days [| chat_id]". Field contents are
// validated later by the store; this only checks the shape and numbers.
func ParseNewLicense(text string) (models.NewLicense, error) {
	fields := strings.Split(text, "|")
	if len(fields) < 3 || len(fields) > 4 {
		return models.NewLicense{}, &models.ValidationError{Field: "input", Reason: "expected " + newLicenseFormat}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	days, err := strconv.Atoi(fields[2])
	if err != nil {
		return models.NewLicense{}, &models.ValidationError{Field: "duration_days", Reason: "must be a whole number"}
	}

	input := models.NewLicense{
		OwnerName:    fields[0],
		IPAddress:    fields[1],
		DurationDays: days,
	}

	if len(fields) == 4 && fields[3] != "" {
		chatID, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return models.NewLicense{}, &models.ValidationError{Field: "chat_id", Reason: "must be a numeric chat id"}
		}
		input.ChatID = &chatID
	}

	return input, nil
}

// parseDays reads a positive day count typed by the admin.
func parseDays(text string) (int, error) {
	days, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || days <= 0 {
		return 0, &models.ValidationError{Field: "days", Reason: "must be a positive whole number"}
	}
	if days > models.MaxDurationDays {
		return 0, &models.ValidationError{Field: "days", Reason: fmt.Sprintf("must be at most %d", models.MaxDurationDays)}
	}
	return days, nil
}
