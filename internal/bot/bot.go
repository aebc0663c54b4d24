// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bot implements the Telegram chat interface for administrators and
// license owners.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/keyward/keyward/internal/models"
)

// Sender is the part of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// LicenseService is implemented by *services.LicenseService.
type LicenseService interface {
	Create(ctx context.Context, input models.NewLicense) (*models.License, error)
	Get(ctx context.Context, id int64) (*models.License, error)
	List(ctx context.Context) ([]*models.License, error)
	ListByChatID(ctx context.Context, chatID int64) ([]*models.License, error)
	Extend(ctx context.Context, id int64, days int) (*models.License, error)
	Deactivate(ctx context.Context, id int64) error
	RecordIPChange(ctx context.Context, id int64, newIP string) (*models.License, error)
	IPChangesSince(ctx context.Context, cutoff time.Time) (map[int64]int, error)
	RecentEvents(ctx context.Context, licenseID int64, limit int) ([]*models.IPChangeEvent, error)
	Search(ctx context.Context, query string) ([]*models.License, error)
	ChatIDs(ctx context.Context) ([]int64, error)
}

// JobRunner triggers scheduled jobs on demand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
}

type Config struct {
	AdminChatID         int64
	ConversationTimeout time.Duration
	IPChangeWindow      time.Duration
	SupportContact      string
	PaymentText         string
	GuideText           string
}

type Bot struct {
	sender   Sender
	licenses LicenseService
	jobs     JobRunner
	cfg      Config
	sessions *sessions
	now      func() time.Time

	// broadcastInterval spaces out broadcast messages to stay below Telegram's limits.
	broadcastInterval time.Duration

	tasks sync.WaitGroup
}

func New(sender Sender, licenses LicenseService, jobs JobRunner, cfg Config) *Bot {
	if cfg.ConversationTimeout <= 0 {
		cfg.ConversationTimeout = 10 * time.Minute
	}
	if cfg.IPChangeWindow <= 0 {
		cfg.IPChangeWindow = 24 * time.Hour
	}

	return &Bot{
		sender:            sender,
		licenses:          licenses,
		jobs:              jobs,
		cfg:               cfg,
		sessions:          newSessions(cfg.ConversationTimeout),
		now:               time.Now,
		broadcastInterval: 50 * time.Millisecond,
	}
}

// Run handles updates until ctx is cancelled or the channel is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	log.Info().Int64("adminChatID", b.cfg.AdminChatID).Msg("Telegram bot started")

	for {
		select {
		case <-ctx.Done():
			b.Wait()
			log.Info().Msg("Telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				b.Wait()
				return errors.New("telegram update channel closed")
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// Wait blocks until background tasks started by updates have finished.
func (b *Bot) Wait() {
	b.tasks.Wait()
}

// background runs fn outside the update loop. fn gets the update's context,
// so it stops with the bot.
func (b *Bot) background(ctx context.Context, name string, fn func(ctx context.Context)) {
	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("task", name).
					Str("panic", fmt.Sprint(r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in background task")
			}
		}()

		fn(ctx)
	}()
}

// HandleUpdate dispatches a single update. Panics are logged, not propagated.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("updateID", update.UpdateID).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in update handler")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) isAdmin(chatID int64) bool {
	return chatID == b.cfg.AdminChatID
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	state, ok := b.sessions.get(chatID)
	if !ok || msg.Text == "" {
		b.reply(chatID, "Send /menu to open the menu.")
		return
	}

	if state.kind.adminOnly() && !b.isAdmin(chatID) {
		b.sessions.clear(chatID)
		return
	}

	switch state.kind {
	case awaitNewLicense:
		b.createLicense(ctx, chatID, msg.Text)
	case awaitExtendDays:
		b.extendCustom(ctx, chatID, state.licenseID, msg.Text)
	case awaitAdminIP:
		b.changeIP(ctx, chatID, state.licenseID, msg.Text, true)
	case awaitBroadcast:
		b.broadcast(ctx, chatID, msg.Text)
	case awaitUserIP:
		b.changeIP(ctx, chatID, state.licenseID, msg.Text, false)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "menu":
		b.sessions.clear(chatID)
		b.showMenu(chatID)
	case "cancel":
		if b.sessions.clear(chatID) {
			b.reply(chatID, "Cancelled.")
		} else {
			b.reply(chatID, "Nothing to cancel.")
		}
	case "id":
		b.reply(chatID, fmt.Sprintf("Your chat id is %d. Send it to the administrator to link your license.", chatID))
	case "find":
		if !b.isAdmin(chatID) {
			b.reply(chatID, "Unknown command. Send /menu.")
			return
		}
		b.find(ctx, chatID, msg.CommandArguments())
	default:
		b.reply(chatID, "Unknown command. Send /menu.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.sender.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		log.Debug().Err(err).Msg("Failed to answer callback query")
	}

	var chatID int64
	switch {
	case q.Message != nil && q.Message.Chat != nil:
		chatID = q.Message.Chat.ID
	case q.From != nil:
		chatID = q.From.ID
	default:
		return
	}

	action, args := parseCallback(q.Data)

	if action == cbMenu {
		b.sessions.clear(chatID)
		b.showMenu(chatID)
		return
	}
	if action == cbCancel {
		b.sessions.clear(chatID)
		b.reply(chatID, "Cancelled.")
		return
	}

	if isAdminAction(action) {
		if !b.isAdmin(chatID) {
			log.Warn().Int64("chatID", chatID).Str("action", action).Msg("Rejected admin action from non-admin chat")
			b.reply(chatID, "Not allowed.")
			return
		}
		b.handleAdminCallback(ctx, chatID, action, args)
		return
	}

	b.handleUserCallback(ctx, chatID, action, args)
}

func (b *Bot) showMenu(chatID int64) {
	if b.isAdmin(chatID) {
		b.send(chatID, "Admin menu", adminMenu())
		return
	}
	b.send(chatID, "Main menu", userMenu())
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(chatID, text, nil)
}

// send delivers text in as many messages as needed. The keyboard goes on the
// last one only.
func (b *Bot) send(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	chunks := splitMessage(text)
	for i, chunk := range chunks {
		msg := newTextMessage(chatID, chunk)
		if markup != nil && i == len(chunks)-1 {
			msg.ReplyMarkup = *markup
		}
		if _, err := b.sender.Send(msg); err != nil {
			log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send message")
			return
		}
	}
}

// replyError maps store errors to chat messages.
func (b *Bot) replyError(chatID int64, err error) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		b.reply(chatID, "⚠️ "+ve.Error())
	case errors.Is(err, models.ErrLicenseNotFound):
		b.reply(chatID, "License not found.")
	case errors.Is(err, models.ErrLicenseRevoked):
		b.reply(chatID, "This license is revoked and can no longer be changed.")
	default:
		log.Error().Err(err).Int64("chatID", chatID).Msg("Chat operation failed")
		b.reply(chatID, "Something went wrong, please try again later.")
	}
}
