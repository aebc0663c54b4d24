// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bot

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello"}, splitMessage("hello"))
	})

	t.Run("splits on line boundaries", func(t *testing.T) {
		line := strings.Repeat("x", 1000)
		text := strings.Join([]string{line, line, line, line, line}, "\n")

		chunks := splitMessage(text)
		require.Len(t, chunks, 2)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), maxMessageLength)
			assert.False(t, strings.HasSuffix(c, "\n"))
		}
		assert.Equal(t, strings.ReplaceAll(text, "\n", ""), strings.ReplaceAll(strings.Join(chunks, ""), "\n", ""))
	})

	t.Run("hard splits a single long line", func(t *testing.T) {
		text := strings.Repeat("é", maxMessageLength*2+10)

		chunks := splitMessage(text)
		require.Len(t, chunks, 3)
		assert.Equal(t, maxMessageLength, utf8.RuneCountInString(chunks[0]))
		assert.Equal(t, 10, utf8.RuneCountInString(chunks[2]))
	})
}

func TestAdminNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := NewAdminNotifier(sender, adminChat)
	ctx := t.Context()

	require.NoError(t, n.NotifyText(ctx, "report"))
	assert.Equal(t, "report", sender.last(t, adminChat).Text)

	require.NoError(t, n.NotifyDocument(ctx, "keyward-backup.json", []byte(`{"licenses":[]}`)))

	require.Len(t, sender.sent, 2)
	doc, ok := sender.sent[1].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, adminChat, doc.ChatID)

	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "keyward-backup.json", file.Name)
	assert.JSONEq(t, `{"licenses":[]}`, string(file.Bytes))
}

func TestAdminNotifierStopsOnCancelledContext(t *testing.T) {
	sender := &fakeSender{}
	n := NewAdminNotifier(sender, adminChat)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	assert.ErrorIs(t, n.NotifyText(ctx, "report"), context.Canceled)
	assert.ErrorIs(t, n.NotifyDocument(ctx, "b.json", nil), context.Canceled)
	assert.Empty(t, sender.sent)
}

func TestAdminNotifierReportsSendFailure(t *testing.T) {
	sender := &fakeSender{blocked: map[int64]bool{adminChat: true}}
	n := NewAdminNotifier(sender, adminChat)

	assert.Error(t, n.NotifyText(t.Context(), "report"))
}
