// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keyward/keyward/internal/api/handlers"
	apimiddleware "github.com/keyward/keyward/internal/api/middleware"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/metrics"
	"github.com/keyward/keyward/internal/web/swagger"
)

// Dependencies holds all the dependencies needed for the API
type Dependencies struct {
	Config         *config.AppConfig
	Licenses       handlers.LicenseReader
	APIKeys        apimiddleware.APIKeyValidator
	MetricsManager *metrics.Manager
	Swagger        *swagger.Handler
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.HTTPLogger)
	r.Use(middleware.Recoverer)

	licensesHandler := handlers.NewLicensesHandler(deps.Licenses)
	apiCfg := deps.Config.Config.API

	r.Route("/api", func(r chi.Router) {
		r.Use(apimiddleware.RateLimit(apiCfg.RateLimit, apiCfg.RateBurst))

		if deps.Swagger != nil {
			deps.Swagger.RegisterRoutes(r)
		}

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireAPIKey(deps.APIKeys))

			r.Get("/licenses", licensesHandler.ListLicenses)
			r.Get("/licenses/{licenseID}", licensesHandler.GetLicense)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Config.Config.MetricsEnabled && deps.MetricsManager != nil {
		r.Get("/metrics", handlers.NewMetricsHandler(deps.MetricsManager).ServeMetrics)
	}

	return r
}
