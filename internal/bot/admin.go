// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/models"
	"github.com/keyward/keyward/internal/reports"
	"github.com/keyward/keyward/internal/scheduler"
)

const (
	recentEventsShown = 5
	searchResultsMax  = 10
)

func (b *Bot) handleAdminCallback(ctx context.Context, chatID int64, action string, args []string) {
	switch action {
	case cbAdminAddLicense:
		b.sessions.set(chatID, pending{kind: awaitNewLicense})
		b.send(chatID, "Send the new license as:\n"+newLicenseFormat+"\n\nExample: alice | 203.0.113.7 | 30", cancelKeyboard())

	case cbAdminManage:
		b.showLicensePage(ctx, chatID, 0)

	case cbAdminPage:
		page := 0
		if len(args) > 0 {
			page, _ = strconv.Atoi(args[0])
		}
		b.showLicensePage(ctx, chatID, page)

	case cbAdminLicense:
		if id, ok := argID(args, 0); ok {
			b.showLicense(ctx, chatID, id)
		}

	case cbAdminExtend:
		id, ok := argID(args, 0)
		if !ok || len(args) < 2 {
			return
		}
		days, err := parseDays(args[1])
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		b.extend(ctx, chatID, id, days)

	case cbAdminExtendAsk:
		if id, ok := argID(args, 0); ok {
			b.sessions.set(chatID, pending{kind: awaitExtendDays, licenseID: id})
			b.send(chatID, fmt.Sprintf("How many days should license #%d be extended by?", id), cancelKeyboard())
		}

	case cbAdminIP:
		if id, ok := argID(args, 0); ok {
			b.sessions.set(chatID, pending{kind: awaitAdminIP, licenseID: id})
			b.send(chatID, fmt.Sprintf("Send the new IP address for license #%d.", id), cancelKeyboard())
		}

	case cbAdminRevoke:
		id, ok := argID(args, 0)
		if !ok {
			return
		}
		l, err := b.licenses.Get(ctx, id)
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		b.send(chatID, fmt.Sprintf("Revoke license #%d of %s? This cannot be undone.", l.ID, l.OwnerName), revokeConfirmKeyboard(id))

	case cbAdminRevokeOK:
		if id, ok := argID(args, 0); ok {
			b.revoke(ctx, chatID, id)
		}

	case cbAdminStatus:
		licenses, err := b.licenses.List(ctx)
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		b.reply(chatID, reports.BuildStatusReport(licenses, b.now()))

	case cbAdminIPReport:
		b.ipReport(ctx, chatID)

	case cbAdminBackup:
		b.runBackup(ctx, chatID)

	case cbAdminBroadcast:
		b.sessions.set(chatID, pending{kind: awaitBroadcast})
		b.send(chatID, "Send the message to broadcast to every chat linked to an active license.", cancelKeyboard())
	}
}

func (b *Bot) showLicensePage(ctx context.Context, chatID int64, page int) {
	licenses, err := b.licenses.List(ctx)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if len(licenses) == 0 {
		b.send(chatID, "No licenses yet.", adminMenu())
		return
	}

	text, kb := licensePage(licenses, page, b.now())
	b.send(chatID, text, kb)
}

func (b *Bot) showLicense(ctx context.Context, chatID int64, id int64) {
	l, err := b.licenses.Get(ctx, id)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	events, err := b.licenses.RecentEvents(ctx, id, recentEventsShown)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	b.send(chatID, formatLicenseDetail(l, events, b.now()), licenseDetailKeyboard(l))
}

func (b *Bot) createLicense(ctx context.Context, chatID int64, text string) {
	input, err := ParseNewLicense(text)
	if err != nil {
		b.replyError(chatID, err)
		b.reply(chatID, "Send a corrected line or /cancel.")
		return
	}

	l, err := b.licenses.Create(ctx, input)
	if err != nil {
		b.replyError(chatID, err)
		if models.IsValidationError(err) {
			b.reply(chatID, "Send a corrected line or /cancel.")
		} else {
			b.sessions.clear(chatID)
		}
		return
	}

	b.sessions.clear(chatID)
	b.send(chatID, "License created.\n\n"+formatLicenseDetail(l, nil, b.now()), licenseDetailKeyboard(l))
}

func (b *Bot) extend(ctx context.Context, chatID int64, id int64, days int) {
	l, err := b.licenses.Extend(ctx, id, days)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.send(chatID, fmt.Sprintf("Extended by %d days.\n\n%s", days, formatLicenseDetail(l, nil, b.now())), licenseDetailKeyboard(l))
}

func (b *Bot) extendCustom(ctx context.Context, chatID int64, id int64, text string) {
	days, err := parseDays(text)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sessions.clear(chatID)
	b.extend(ctx, chatID, id, days)
}

func (b *Bot) revoke(ctx context.Context, chatID int64, id int64) {
	if err := b.licenses.Deactivate(ctx, id); err != nil {
		b.replyError(chatID, err)
		return
	}
	b.showLicense(ctx, chatID, id)
}

// changeIP handles both the admin flow and an owner updating their own
// license. Owners may only touch licenses linked to their chat.
func (b *Bot) changeIP(ctx context.Context, chatID int64, id int64, text string, admin bool) {
	if !admin {
		l, err := b.licenses.Get(ctx, id)
		if err != nil || l.ChatID == nil || *l.ChatID != chatID {
			b.sessions.clear(chatID)
			b.reply(chatID, "License not found.")
			return
		}
	}

	l, err := b.licenses.RecordIPChange(ctx, id, strings.TrimSpace(text))
	if err != nil {
		b.replyError(chatID, err)
		if !models.IsValidationError(err) {
			b.sessions.clear(chatID)
		}
		return
	}
	b.sessions.clear(chatID)

	if admin {
		b.send(chatID, "IP updated.\n\n"+formatLicenseDetail(l, nil, b.now()), licenseDetailKeyboard(l))
		return
	}
	b.send(chatID, fmt.Sprintf("IP for license #%d is now %s.", l.ID, l.IPAddress), userMenu())
}

func (b *Bot) ipReport(ctx context.Context, chatID int64) {
	counts, err := b.licenses.IPChangesSince(ctx, b.now().Add(-b.cfg.IPChangeWindow))
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	licenses, err := b.licenses.List(ctx)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, reports.BuildIPChangeReport(licenses, counts, b.cfg.IPChangeWindow))
}

// runBackup triggers the backup job without holding up other chats and
// reports the outcome when it is done.
func (b *Bot) runBackup(ctx context.Context, chatID int64) {
	b.reply(chatID, "Backup started.")
	b.background(ctx, "backup", func(ctx context.Context) {
		b.finishBackup(chatID, b.jobs.RunNow(ctx, reports.JobBackup))
	})
}

func (b *Bot) finishBackup(chatID int64, err error) {
	switch {
	case err == nil:
		b.reply(chatID, "Backup sent.")
	case errors.Is(err, scheduler.ErrJobAlreadyActive):
		b.reply(chatID, "A backup is already running.")
	default:
		var de *reports.DeliveryError
		if errors.As(err, &de) {
			b.reply(chatID, "Backup was written to disk but could not be delivered.")
			return
		}
		log.Error().Err(err).Msg("Manual backup failed")
		b.reply(chatID, "Backup failed, see the server log.")
	}
}

func (b *Bot) broadcast(ctx context.Context, chatID int64, text string) {
	b.sessions.clear(chatID)

	chats, err := b.licenses.ChatIDs(ctx)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	b.reply(chatID, fmt.Sprintf("Broadcasting to %d chats...", len(chats)))
	b.background(ctx, "broadcast", func(ctx context.Context) {
		limiter := rate.NewLimiter(rate.Every(b.broadcastInterval), 1)
		delivered, failed := 0, 0
		for _, target := range chats {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
			if _, err := b.sender.Send(newTextMessage(target, text)); err != nil {
				log.Warn().Err(err).Int64("chatID", target).Msg("Broadcast delivery failed")
				failed++
				continue
			}
			delivered++
		}

		log.Info().Int("delivered", delivered).Int("failed", failed).Msg("Broadcast finished")
		b.send(chatID, fmt.Sprintf("Broadcast sent to %d chats, %d failed.", delivered, failed), adminMenu())
	})
}

func (b *Bot) find(ctx context.Context, chatID int64, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		b.reply(chatID, "Usage: /find <id, ip or name>")
		return
	}

	results, err := b.licenses.Search(ctx, query)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if len(results) == 0 {
		b.reply(chatID, "No matching licenses.")
		return
	}
	if len(results) > searchResultsMax {
		results = results[:searchResultsMax]
	}

	now := b.now()
	lines := make([]string, 0, len(results)+1)
	lines = append(lines, fmt.Sprintf("Found %d:", len(results)))
	for _, l := range results {
		lines = append(lines, lifecycle.FormatStatusLine(l, lifecycle.RemainingDays(l, now)))
	}
	_, kb := licensePage(results, 0, now)
	b.send(chatID, strings.Join(lines, "\n"), kb)
}
