// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/keyward/keyward/internal/models"
)

const listCacheTTL = 30 * time.Second

// LicenseService fronts the license store for the bot, the API and the
// reports. It caches the full license list and drops the cache on every write.
type LicenseService struct {
	store *models.LicenseStore
	cache *ristretto.Cache

	// generation is part of the list cache key; bumping it retires stale entries.
	generation atomic.Uint64
}

// NewLicenseService creates a new license service
func NewLicenseService(store *models.LicenseStore) (*LicenseService, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &LicenseService{
		store: store,
		cache: cache,
	}, nil
}

func (s *LicenseService) Close() {
	s.cache.Close()
}

func (s *LicenseService) listKey() string {
	return "licenses:" + strconv.FormatUint(s.generation.Load(), 10)
}

func (s *LicenseService) invalidate() {
	old := s.listKey()
	s.generation.Add(1)
	s.cache.Del(old)
}

func cloneLicenses(in []*models.License) []*models.License {
	out := make([]*models.License, len(in))
	for i, l := range in {
		c := *l
		out[i] = &c
	}
	return out
}

func (s *LicenseService) Create(ctx context.Context, input models.NewLicense) (*models.License, error) {
	l, err := s.store.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	s.invalidate()

	log.Info().Int64("licenseID", l.ID).Str("owner", l.OwnerName).Int("durationDays", l.DurationDays).Msg("License created")
	return l, nil
}

func (s *LicenseService) Get(ctx context.Context, id int64) (*models.License, error) {
	return s.store.Get(ctx, id)
}

// List returns all licenses ordered by id. Results are served from cache when possible.
func (s *LicenseService) List(ctx context.Context) ([]*models.License, error) {
	key := s.listKey()
	if cached, ok := s.cache.Get(key); ok {
		if licenses, ok := cached.([]*models.License); ok {
			return cloneLicenses(licenses), nil
		}
	}

	licenses, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	s.cache.SetWithTTL(key, cloneLicenses(licenses), 1, listCacheTTL)
	return licenses, nil
}

func (s *LicenseService) ListByChatID(ctx context.Context, chatID int64) ([]*models.License, error) {
	return s.store.ListByChatID(ctx, chatID)
}

func (s *LicenseService) Extend(ctx context.Context, id int64, days int) (*models.License, error) {
	l, err := s.store.Extend(ctx, id, days)
	if err != nil {
		return nil, err
	}
	s.invalidate()

	log.Info().Int64("licenseID", id).Int("extraDays", days).Int("durationDays", l.DurationDays).Msg("License extended")
	return l, nil
}

func (s *LicenseService) Deactivate(ctx context.Context, id int64) error {
	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}
	s.invalidate()

	log.Info().Int64("licenseID", id).Msg("License revoked")
	return nil
}

func (s *LicenseService) RecordIPChange(ctx context.Context, id int64, newIP string) (*models.License, error) {
	l, err := s.store.RecordIPChange(ctx, id, newIP)
	if err != nil {
		return nil, err
	}
	s.invalidate()

	log.Info().Int64("licenseID", id).Str("ip", l.IPAddress).Msg("License IP changed")
	return l, nil
}

func (s *LicenseService) IPChangesSince(ctx context.Context, cutoff time.Time) (map[int64]int, error) {
	return s.store.IPChangesSince(ctx, cutoff)
}

func (s *LicenseService) RecentEvents(ctx context.Context, licenseID int64, limit int) ([]*models.IPChangeEvent, error) {
	return s.store.RecentEvents(ctx, licenseID, limit)
}

func (s *LicenseService) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	return s.store.Snapshot(ctx)
}

func (s *LicenseService) Restore(ctx context.Context, snap *models.Snapshot) error {
	if err := s.store.Restore(ctx, snap); err != nil {
		return err
	}
	s.invalidate()

	log.Info().Int("licenses", len(snap.Licenses)).Int("events", len(snap.IPChangeEvents)).Msg("Backup restored")
	return nil
}

// Search finds licenses by "#id", exact id, IP prefix or a fuzzy match on the
// owner name. Fuzzy matches are ordered by edit distance.
func (s *LicenseService) Search(ctx context.Context, query string) ([]*models.License, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	licenses, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	if id, err := strconv.ParseInt(strings.TrimPrefix(query, "#"), 10, 64); err == nil {
		for _, l := range licenses {
			if l.ID == id {
				return []*models.License{l}, nil
			}
		}
	}

	var results []*models.License
	seen := make(map[int64]struct{})

	for _, l := range licenses {
		if strings.HasPrefix(l.IPAddress, query) {
			results = append(results, l)
			seen[l.ID] = struct{}{}
		}
	}

	names := make([]string, len(licenses))
	for i, l := range licenses {
		names[i] = l.OwnerName
	}

	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Sort(ranks)
	for _, r := range ranks {
		l := licenses[r.OriginalIndex]
		if _, ok := seen[l.ID]; ok {
			continue
		}
		seen[l.ID] = struct{}{}
		results = append(results, l)
	}

	return results, nil
}

// ChatIDs returns the distinct chats linked to active licenses.
func (s *LicenseService) ChatIDs(ctx context.Context) ([]int64, error) {
	licenses, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var ids []int64
	for _, l := range licenses {
		if !l.Active || l.ChatID == nil {
			continue
		}
		if _, ok := seen[*l.ChatID]; ok {
			continue
		}
		seen[*l.ChatID] = struct{}{}
		ids = append(ids, *l.ChatID)
	}

	return ids, nil
}
