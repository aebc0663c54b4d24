// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/models"
)

type stubReader struct {
	licenses []*models.License
	err      error
}

func (s *stubReader) List(context.Context) ([]*models.License, error) {
	return s.licenses, s.err
}

func (s *stubReader) Get(_ context.Context, id int64) (*models.License, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, l := range s.licenses {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, models.ErrLicenseNotFound
}

func newTestHandler(reader LicenseReader) (*LicensesHandler, http.Handler) {
	h := NewLicensesHandler(reader)
	h.now = func() time.Time { return time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Get("/api/licenses", h.ListLicenses)
	r.Get("/api/licenses/{licenseID}", h.GetLicense)
	return h, r
}

func TestListLicenses(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reader := &stubReader{licenses: []*models.License{
		{ID: 1, OwnerName: "alice", IPAddress: "1.2.3.4", StartDate: start, DurationDays: 365, Active: true},
		{ID: 2, OwnerName: "bob", IPAddress: "2001:db8::1", StartDate: start, DurationDays: 30, Active: true},
		{ID: 3, OwnerName: "carol", IPAddress: "9.9.9.9", StartDate: start, DurationDays: 365, Active: false},
	}}
	_, router := newTestHandler(reader)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/licenses", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []LicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))

	want := []LicenseResponse{
		{ID: 1, OwnerName: "alice", IPAddress: "1.2.3.4", StartDate: "2026-01-01", DurationDays: 365, Active: true, RemainingDays: 292, ExpireDate: "2027-01-01", Status: "active"},
		{ID: 2, OwnerName: "bob", IPAddress: "2001:db8::1", StartDate: "2026-01-01", DurationDays: 30, Active: true, RemainingDays: -43, ExpireDate: "2026-01-31", Status: "expired"},
		{ID: 3, OwnerName: "carol", IPAddress: "9.9.9.9", StartDate: "2026-01-01", DurationDays: 365, Active: false, RemainingDays: 292, ExpireDate: "2027-01-01", Status: "revoked"},
	}
	assert.Equal(t, want, got)
}

func TestListLicensesEmptyIsArray(t *testing.T) {
	_, router := newTestHandler(&stubReader{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/licenses", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetLicense(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	reader := &stubReader{licenses: []*models.License{
		{ID: 7, OwnerName: "alice", IPAddress: "1.2.3.4", StartDate: start, DurationDays: 14, Active: true},
	}}
	_, router := newTestHandler(reader)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "found", path: "/api/licenses/7", want: http.StatusOK},
		{name: "missing", path: "/api/licenses/8", want: http.StatusNotFound},
		{name: "not a number", path: "/api/licenses/seven", want: http.StatusBadRequest},
		{name: "zero", path: "/api/licenses/0", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/licenses/7", nil))
	var got LicenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 0, got.RemainingDays, "expires on the day of the request")
	assert.Equal(t, "2026-03-15", got.ExpireDate)
}

func TestStoreFailureIs500(t *testing.T) {
	_, router := newTestHandler(&stubReader{err: errors.New("database is locked")})

	for _, path := range []string{"/api/licenses", "/api/licenses/1"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "database is locked")
	}
}
