// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keyward/keyward/internal/database"
)

var ErrAPIKeyNotFound = errors.New("api key not found")
var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKey grants read access to the HTTP license endpoints.
type APIKey struct {
	ID         int64      `json:"id"`
	KeyHash    string     `json:"-"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type APIKeyStore struct {
	db *database.DB
}

func NewAPIKeyStore(db *database.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// GenerateAPIKey generates a new API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// HashAPIKey creates a SHA256 hash of the API key
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

const apiKeyColumns = `id, key_hash, name, created_at, last_used_at`

func scanAPIKey(row rowScanner) (*APIKey, error) {
	apiKey := &APIKey{}
	var lastUsed sql.NullTime
	if err := row.Scan(&apiKey.ID, &apiKey.KeyHash, &apiKey.Name, &apiKey.CreatedAt, &lastUsed); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		apiKey.LastUsedAt = &t
	}
	return apiKey, nil
}

// Create stores a new key and returns the raw value, which is never persisted.
func (s *APIKeyStore) Create(ctx context.Context, name string) (string, *APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	rawKey, err := GenerateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	var apiKey *APIKey
	err = s.db.Write(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO api_keys (key_hash, name)
			VALUES (?, ?)
			RETURNING `+apiKeyColumns, HashAPIKey(rawKey), name)

		var err error
		apiKey, err = scanAPIKey(row)
		return err
	})
	if err != nil {
		return "", nil, err
	}

	return rawKey, apiKey, nil
}

func (s *APIKeyStore) GetByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	var apiKey *APIKey
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		apiKey, err = scanAPIKey(tx.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	return apiKey, nil
}

func (s *APIKeyStore) List(ctx context.Context) ([]*APIKey, error) {
	var keys []*APIKey
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			apiKey, err := scanAPIKey(rows)
			if err != nil {
				return err
			}
			keys = append(keys, apiKey)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

func (s *APIKeyStore) UpdateLastUsed(ctx context.Context, id int64) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrAPIKeyNotFound
		}
		return nil
	})
}

func (s *APIKeyStore) Delete(ctx context.Context, id int64) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrAPIKeyNotFound
		}
		return nil
	})
}

// ValidateAPIKey validates a raw API key and returns the associated APIKey if valid
func (s *APIKeyStore) ValidateAPIKey(ctx context.Context, rawKey string) (*APIKey, error) {
	apiKey, err := s.GetByHash(ctx, HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}

	// Update last used timestamp asynchronously
	go func(id int64) {
		if err := s.UpdateLastUsed(context.Background(), id); err != nil {
			log.Debug().Err(err).Int64("apiKeyID", id).Msg("Failed to update API key last use")
		}
	}(apiKey.ID)

	return apiKey, nil
}
