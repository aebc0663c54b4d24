// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bot

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type pendingKind int

const (
	awaitNewLicense pendingKind = iota + 1
	awaitExtendDays
	awaitAdminIP
	awaitBroadcast
	awaitUserIP
)

func (k pendingKind) adminOnly() bool {
	return k != awaitUserIP
}

// pending is a multi-step conversation waiting for the next text message.
type pending struct {
	kind      pendingKind
	licenseID int64
}

const maxSessions = 4096

// sessions holds per-chat conversation state. Entries expire after the
// conversation timeout so an abandoned prompt does not capture later input.
type sessions struct {
	cache *expirable.LRU[int64, pending]
}

func newSessions(ttl time.Duration) *sessions {
	return &sessions{cache: expirable.NewLRU[int64, pending](maxSessions, nil, ttl)}
}

func (s *sessions) get(chatID int64) (pending, bool) {
	return s.cache.Get(chatID)
}

func (s *sessions) set(chatID int64, p pending) {
	s.cache.Add(chatID, p)
}

// clear reports whether there was a conversation to drop.
func (s *sessions) clear(chatID int64) bool {
	return s.cache.Remove(chatID)
}
