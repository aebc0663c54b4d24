// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/models"
)

// LicenseReader is the read side of the license service.
type LicenseReader interface {
	List(ctx context.Context) ([]*models.License, error)
	Get(ctx context.Context, id int64) (*models.License, error)
}

// LicenseResponse is a license as exposed over HTTP, with its derived fields.
type LicenseResponse struct {
	ID            int64  `json:"id"`
	OwnerName     string `json:"owner_name"`
	IPAddress     string `json:"ip_address"`
	StartDate     string `json:"start_date"`
	DurationDays  int    `json:"duration_days"`
	Active        bool   `json:"active"`
	RemainingDays int    `json:"remaining_days"`
	ExpireDate    string `json:"expire_date"`
	Status        string `json:"status"`
}

func NewLicenseResponse(l *models.License, now time.Time) LicenseResponse {
	return LicenseResponse{
		ID:            l.ID,
		OwnerName:     l.OwnerName,
		IPAddress:     l.IPAddress,
		StartDate:     l.StartDate.UTC().Format(models.DateLayout),
		DurationDays:  l.DurationDays,
		Active:        l.Active,
		RemainingDays: lifecycle.RemainingDays(l, now),
		ExpireDate:    lifecycle.ExpireDate(l).Format(models.DateLayout),
		Status:        string(lifecycle.StatusOf(l, now)),
	}
}

type LicensesHandler struct {
	licenses LicenseReader
	now      func() time.Time
}

func NewLicensesHandler(licenses LicenseReader) *LicensesHandler {
	return &LicensesHandler{
		licenses: licenses,
		now:      time.Now,
	}
}

// ListLicenses returns every license, revoked ones included.
func (h *LicensesHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.licenses.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list licenses")
		RespondError(w, http.StatusInternalServerError, "Failed to list licenses")
		return
	}

	now := h.now()
	response := make([]LicenseResponse, 0, len(licenses))
	for _, l := range licenses {
		response = append(response, NewLicenseResponse(l, now))
	}

	RespondJSON(w, http.StatusOK, response)
}

func (h *LicensesHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIDParam(r, "licenseID")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid license ID")
		return
	}

	l, err := h.licenses.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondError(w, http.StatusNotFound, "License not found")
			return
		}
		log.Error().Err(err).Int64("licenseID", id).Msg("Failed to get license")
		RespondError(w, http.StatusInternalServerError, "Failed to get license")
		return
	}

	RespondJSON(w, http.StatusOK, NewLicenseResponse(l, h.now()))
}
