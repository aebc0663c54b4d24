// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/keyward/keyward/internal/lifecycle"
)

const notLinkedText = "No license is linked to this chat yet. Send /id and forward the number to the administrator."

func (b *Bot) handleUserCallback(ctx context.Context, chatID int64, action string, args []string) {
	switch action {
	case cbUserStatus:
		b.userStatus(ctx, chatID)

	case cbUserIPs:
		b.userIPs(ctx, chatID)

	case cbUserIPChange:
		id, ok := argID(args, 0)
		if !ok {
			return
		}
		l, err := b.licenses.Get(ctx, id)
		if err != nil || l.ChatID == nil || *l.ChatID != chatID {
			b.reply(chatID, "License not found.")
			return
		}
		if !l.Active {
			b.reply(chatID, "This license is revoked and can no longer be changed.")
			return
		}
		b.sessions.set(chatID, pending{kind: awaitUserIP, licenseID: id})
		b.send(chatID, fmt.Sprintf("Send the new IP address for license #%d (currently %s).", l.ID, l.IPAddress), cancelKeyboard())

	case cbUserEducation:
		b.replyConfigured(chatID, b.cfg.GuideText, "No setup guide has been published yet.")

	case cbUserPayment:
		b.replyConfigured(chatID, b.cfg.PaymentText, "Contact support to renew your license.")

	case cbUserSupport:
		b.replyConfigured(chatID, b.cfg.SupportContact, "Support is not configured.")

	default:
		b.reply(chatID, "Unknown action. Send /menu.")
	}
}

func (b *Bot) replyConfigured(chatID int64, text, fallback string) {
	if strings.TrimSpace(text) == "" {
		text = fallback
	}
	b.send(chatID, text, userMenu())
}

func (b *Bot) userStatus(ctx context.Context, chatID int64) {
	licenses, err := b.licenses.ListByChatID(ctx, chatID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if len(licenses) == 0 {
		b.send(chatID, notLinkedText, userMenu())
		return
	}

	now := b.now()
	lines := make([]string, 0, len(licenses)+1)
	lines = append(lines, "Your licenses:")
	for _, l := range licenses {
		lines = append(lines, lifecycle.FormatStatusLine(l, lifecycle.RemainingDays(l, now)))
	}
	b.send(chatID, strings.Join(lines, "\n"), userMenu())
}

func (b *Bot) userIPs(ctx context.Context, chatID int64) {
	licenses, err := b.licenses.ListByChatID(ctx, chatID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if len(licenses) == 0 {
		b.send(chatID, notLinkedText, userMenu())
		return
	}

	var text strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, l := range licenses {
		fmt.Fprintf(&text, "#%d: %s\n", l.ID, l.IPAddress)

		events, err := b.licenses.RecentEvents(ctx, l.ID, 3)
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		for _, e := range events {
			fmt.Fprintf(&text, "  %s  %s -> %s\n", e.ChangedAt.UTC().Format("2006-01-02 15:04"), e.OldIP, e.NewIP)
		}

		if l.Active {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Change IP of #%d", l.ID), callbackData(cbUserIPChange, l.ID)),
			))
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🏠 Menu", cbMenu)))

	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(chatID, strings.TrimRight(text.String(), "\n"), &kb)
}
