// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/keyward/keyward/internal/models"
)

// APIKeyValidator is implemented by *models.APIKeyStore.
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error)
}

// RequireAPIKey accepts the key from X-API-Key or an Authorization bearer token.
func RequireAPIKey(keys APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					apiKey = strings.TrimSpace(token)
				}
			}

			if apiKey == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			apiKeyModel, err := keys.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				if errors.Is(err, models.ErrInvalidAPIKey) {
					log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Invalid API key")
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				log.Error().Err(err).Msg("Failed to validate API key")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			log.Debug().Int64("apiKeyID", apiKeyModel.ID).Str("name", apiKeyModel.Name).Msg("API key authenticated")
			next.ServeHTTP(w, r)
		})
	}
}
