// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bot

import (
	"context"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLength is Telegram's limit for a single text message, in characters.
const maxMessageLength = 4096

// AdminNotifier delivers report output to the admin chat.
type AdminNotifier struct {
	sender Sender
	chatID int64
}

func NewAdminNotifier(sender Sender, chatID int64) *AdminNotifier {
	return &AdminNotifier{sender: sender, chatID: chatID}
}

// NotifyText sends text, split into several messages when it is too long.
func (n *AdminNotifier) NotifyText(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.sender.Send(newTextMessage(n.chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (n *AdminNotifier) NotifyDocument(ctx context.Context, filename string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(n.chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = filename
	_, err := n.sender.Send(doc)
	return err
}

func newTextMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	return msg
}

// splitMessage breaks text into chunks that fit in one message, preferring
// line boundaries.
func splitMessage(text string) []string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineLen := utf8.RuneCountInString(line)

		for lineLen > maxMessageLength {
			flush()
			runes := []rune(line)
			chunks = append(chunks, string(runes[:maxMessageLength]))
			line = string(runes[maxMessageLength:])
			lineLen = utf8.RuneCountInString(line)
		}

		if currentLen+lineLen > maxMessageLength {
			flush()
		}
		current.WriteString(line)
		currentLen += lineLen
	}
	flush()

	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimRight(c, "\n"); c != "" {
			out = append(out, c)
		}
	}
	return out
}
