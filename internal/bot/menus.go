// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/models"
)

// Callback data values. Parameterised actions use "action:arg[:arg]".
const (
	cbMenu   = "menu"
	cbCancel = "cancel"

	cbAdminAddLicense = "admin_add_user"
	cbAdminManage     = "admin_manage_users"
	cbAdminStatus     = "admin_license_status"
	cbAdminIPReport   = "admin_ip_report"
	cbAdminBackup     = "admin_backup"
	cbAdminBroadcast  = "admin_broadcast"
	cbAdminPage       = "page"
	cbAdminLicense    = "lic"
	cbAdminExtend     = "ext"
	cbAdminExtendAsk  = "extc"
	cbAdminIP         = "ip"
	cbAdminRevoke     = "rev"
	cbAdminRevokeOK   = "revc"

	cbUserStatus    = "user_status"
	cbUserIPs       = "user_ips"
	cbUserIPChange  = "uip"
	cbUserEducation = "user_education"
	cbUserPayment   = "user_payment"
	cbUserSupport   = "user_support"
)

var adminActions = map[string]struct{}{
	cbAdminAddLicense: {},
	cbAdminManage:     {},
	cbAdminStatus:     {},
	cbAdminIPReport:   {},
	cbAdminBackup:     {},
	cbAdminBroadcast:  {},
	cbAdminPage:       {},
	cbAdminLicense:    {},
	cbAdminExtend:     {},
	cbAdminExtendAsk:  {},
	cbAdminIP:         {},
	cbAdminRevoke:     {},
	cbAdminRevokeOK:   {},
}

func isAdminAction(action string) bool {
	_, ok := adminActions[action]
	return ok
}

func parseCallback(data string) (string, []string) {
	parts := strings.Split(data, ":")
	return parts[0], parts[1:]
}

func callbackData(action string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, action)
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, ":")
}

// argID parses the n-th callback argument as a license id.
func argID(args []string, n int) (int64, bool) {
	if len(args) <= n {
		return 0, false
	}
	id, err := strconv.ParseInt(args[n], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func adminMenu() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add license", cbAdminAddLicense),
			tgbotapi.NewInlineKeyboardButtonData("🗂 Manage licenses", cbAdminManage),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 License status", cbAdminStatus),
			tgbotapi.NewInlineKeyboardButtonData("🌐 IP changes", cbAdminIPReport),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💾 Backup now", cbAdminBackup),
			tgbotapi.NewInlineKeyboardButtonData("📣 Broadcast", cbAdminBroadcast),
		),
	)
	return &kb
}

func userMenu() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 My license", cbUserStatus),
			tgbotapi.NewInlineKeyboardButtonData("🌐 My IP", cbUserIPs),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📖 Setup guide", cbUserEducation),
			tgbotapi.NewInlineKeyboardButtonData("💳 Payment", cbUserPayment),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🆘 Support", cbUserSupport),
		),
	)
	return &kb
}

func cancelKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", cbCancel),
		),
	)
	return &kb
}

const licensesPerPage = 8

// licensePage renders one page of the license list. page is clamped to the
// valid range.
func licensePage(licenses []*models.License, page int, now time.Time) (string, *tgbotapi.InlineKeyboardMarkup) {
	pages := (len(licenses) + licensesPerPage - 1) / licensesPerPage
	if pages == 0 {
		pages = 1
	}
	page = max(0, min(page, pages-1))

	start := page * licensesPerPage
	end := min(start+licensesPerPage, len(licenses))

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, l := range licenses[start:end] {
		label := fmt.Sprintf("#%d %s (%s)", l.ID, l.OwnerName, lifecycle.StatusOf(l, now))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(cbAdminLicense, l.ID)),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Prev", callbackData(cbAdminPage, page-1)))
	}
	if page < pages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", callbackData(cbAdminPage, page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🏠 Menu", cbMenu)))

	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	text := fmt.Sprintf("Licenses (page %d/%d, %d total)", page+1, pages, len(licenses))
	return text, &kb
}

func licenseDetailKeyboard(l *models.License) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if l.Active {
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("+30 days", callbackData(cbAdminExtend, l.ID, 30)),
				tgbotapi.NewInlineKeyboardButtonData("+90 days", callbackData(cbAdminExtend, l.ID, 90)),
				tgbotapi.NewInlineKeyboardButtonData("Custom", callbackData(cbAdminExtendAsk, l.ID)),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🌐 Change IP", callbackData(cbAdminIP, l.ID)),
				tgbotapi.NewInlineKeyboardButtonData("⛔ Revoke", callbackData(cbAdminRevoke, l.ID)),
			),
		)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", cbAdminManage),
		tgbotapi.NewInlineKeyboardButtonData("🏠 Menu", cbMenu),
	))

	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func revokeConfirmKeyboard(id int64) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, revoke", callbackData(cbAdminRevokeOK, id)),
			tgbotapi.NewInlineKeyboardButtonData("No", callbackData(cbAdminLicense, id)),
		),
	)
	return &kb
}

// formatLicenseDetail renders a license with its recent IP history.
func formatLicenseDetail(l *models.License, events []*models.IPChangeEvent, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "License #%d\n", l.ID)
	fmt.Fprintf(&b, "Owner: %s\n", l.OwnerName)
	fmt.Fprintf(&b, "IP: %s\n", l.IPAddress)
	fmt.Fprintf(&b, "Start: %s\n", l.StartDate.Format(models.DateLayout))
	fmt.Fprintf(&b, "Duration: %d days\n", l.DurationDays)
	fmt.Fprintf(&b, "Expires: %s\n", lifecycle.ExpireDate(l).Format(models.DateLayout))
	fmt.Fprintf(&b, "Status: %s\n", lifecycle.Describe(l, lifecycle.RemainingDays(l, now)))
	if l.ChatID != nil {
		fmt.Fprintf(&b, "Chat: %d\n", *l.ChatID)
	}

	if len(events) > 0 {
		b.WriteString("\nRecent IP changes:\n")
		for _, e := range events {
			fmt.Fprintf(&b, "%s  %s -> %s\n", e.ChangedAt.UTC().Format("2006-01-02 15:04"), e.OldIP, e.NewIP)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
