// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swagger

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

//go:embed index.html
var swaggerHTML string

type Handler struct {
	spec map[string]any
}

func NewHandler() (*Handler, error) {
	var spec map[string]any
	if err := yaml.Unmarshal(openapiYAML, &spec); err != nil {
		return nil, err
	}

	return &Handler{spec: spec}, nil
}

// RegisterRoutes adds the docs routes to a router mounted at /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/docs", h.ServeSwaggerUI)
	r.Get("/openapi.json", h.ServeOpenAPISpec)
}

func (h *Handler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(strings.ReplaceAll(swaggerHTML, "{{OPENAPI_URL}}", "/api/openapi.json")))
}

func GetOpenAPISpec() []byte {
	return openapiYAML
}

func (h *Handler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	spec := make(map[string]any, len(h.spec)+1)
	for k, v := range h.spec {
		spec[k] = v
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	spec["servers"] = []map[string]any{
		{
			"url":         scheme + "://" + r.Host,
			"description": "Current server",
		},
	}

	if err := json.NewEncoder(w).Encode(spec); err != nil {
		log.Error().Err(err).Msg("Failed to encode OpenAPI spec")
	}
}
