// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/keyward/keyward/internal/database"
)

// DateLayout is the storage format of License.StartDate.
const DateLayout = "2006-01-02"

// MaxDurationDays caps the total validity of a license at 100 years.
const MaxDurationDays = 36500

type License struct {
	ID           int64     `json:"id"`
	OwnerName    string    `json:"owner_name"`
	IPAddress    string    `json:"ip_address"`
	StartDate    time.Time `json:"start_date"`
	DurationDays int       `json:"duration_days"`
	Active       bool      `json:"active"`
	ChatID       *int64    `json:"chat_id,omitempty"`
}

type IPChangeEvent struct {
	ID        int64     `json:"id"`
	LicenseID int64     `json:"license_id"`
	OldIP     string    `json:"old_ip"`
	NewIP     string    `json:"new_ip"`
	ChangedAt time.Time `json:"changed_at"`
}

// NewLicense is the admin input for issuing a license.
type NewLicense struct {
	OwnerName    string `json:"owner_name" validate:"required"`
	IPAddress    string `json:"ip_address" validate:"required,ip"`
	DurationDays int    `json:"duration_days" validate:"gt=0,lte=36500"`
	ChatID       *int64 `json:"chat_id,omitempty"`
}

// Snapshot is a consistent copy of every license and IP change event.
type Snapshot struct {
	Licenses       []*License       `json:"licenses"`
	IPChangeEvents []*IPChangeEvent `json:"ip_change_events"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts the first validator failure into a *ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}

	fe := fieldErrs[0]
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "must not be empty"
	case "ip":
		reason = fmt.Sprintf("%q is not a valid IP address", fe.Value())
	case "gt":
		reason = fmt.Sprintf("must be greater than %s", fe.Param())
	case "lte":
		reason = fmt.Sprintf("must be at most %s", fe.Param())
	default:
		reason = fmt.Sprintf("failed %q check", fe.Tag())
	}

	return &ValidationError{Field: fe.Field(), Reason: reason}
}

// Validate normalizes whitespace and checks the input.
func (n *NewLicense) Validate() error {
	n.OwnerName = strings.TrimSpace(n.OwnerName)
	n.IPAddress = strings.TrimSpace(n.IPAddress)

	if err := validate.Struct(n); err != nil {
		return validationError(err)
	}
	return nil
}

// ValidateIP checks a replacement IP address.
func ValidateIP(ip string) error {
	if err := validate.Var(strings.TrimSpace(ip), "required,ip"); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "required" {
			return &ValidationError{Field: "ip_address", Reason: "must not be empty"}
		}
		return &ValidationError{Field: "ip_address", Reason: fmt.Sprintf("%q is not a valid IP address", ip)}
	}
	return nil
}

type LicenseStore struct {
	db  *database.DB
	now func() time.Time
}

func NewLicenseStore(db *database.DB) *LicenseStore {
	return &LicenseStore{
		db:  db,
		now: time.Now,
	}
}

// SetClock replaces the time source used for start dates and event timestamps.
func (s *LicenseStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *LicenseStore) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

const licenseColumns = `id, owner_name, ip_address, start_date, duration_days, active, chat_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*License, error) {
	var (
		l         License
		startDate string
		chatID    sql.NullInt64
	)

	if err := row.Scan(&l.ID, &l.OwnerName, &l.IPAddress, &startDate, &l.DurationDays, &l.Active, &chatID); err != nil {
		return nil, err
	}

	start, err := time.ParseInLocation(DateLayout, startDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("license %d has malformed start_date %q: %w", l.ID, startDate, err)
	}
	l.StartDate = start

	if chatID.Valid {
		id := chatID.Int64
		l.ChatID = &id
	}

	return &l, nil
}

func scanEvent(row rowScanner) (*IPChangeEvent, error) {
	var (
		e         IPChangeEvent
		changedAt int64
	)

	if err := row.Scan(&e.ID, &e.LicenseID, &e.OldIP, &e.NewIP, &changedAt); err != nil {
		return nil, err
	}
	e.ChangedAt = time.UnixMilli(changedAt).UTC()

	return &e, nil
}

func nullableChatID(chatID *int64) sql.NullInt64 {
	if chatID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *chatID, Valid: true}
}

func getLicense(ctx context.Context, tx *sql.Tx, id int64) (*License, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = ?`, id)

	l, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load license %d: %w", id, err)
	}

	return l, nil
}

func queryLicenses(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]*License, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, l)
	}

	return licenses, rows.Err()
}

func queryEvents(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]*IPChangeEvent, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ip change events: %w", err)
	}
	defer rows.Close()

	var events []*IPChangeEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// Create issues a new active license starting today (UTC).
func (s *LicenseStore) Create(ctx context.Context, input NewLicense) (*License, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	startDate := s.clock().Format(DateLayout)

	var license *License
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO licenses (owner_name, ip_address, start_date, duration_days, active, chat_id)
			VALUES (?, ?, ?, ?, 1, ?)
			RETURNING `+licenseColumns,
			input.OwnerName, input.IPAddress, startDate, input.DurationDays, nullableChatID(input.ChatID))

		l, err := scanLicense(row)
		if err != nil {
			return fmt.Errorf("failed to insert license: %w", err)
		}
		license = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	return license, nil
}

func (s *LicenseStore) Get(ctx context.Context, id int64) (*License, error) {
	var license *License
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		l, err := getLicense(ctx, tx, id)
		license = l
		return err
	})
	if err != nil {
		return nil, err
	}

	return license, nil
}

// List returns every license. Callers must not rely on the order.
func (s *LicenseStore) List(ctx context.Context) ([]*License, error) {
	var licenses []*License
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		licenses, err = queryLicenses(ctx, tx, `SELECT `+licenseColumns+` FROM licenses ORDER BY id`)
		return err
	})
	if err != nil {
		return nil, err
	}

	return licenses, nil
}

// ListByChatID returns the licenses linked to a Telegram chat.
func (s *LicenseStore) ListByChatID(ctx context.Context, chatID int64) ([]*License, error) {
	var licenses []*License
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		licenses, err = queryLicenses(ctx, tx, `SELECT `+licenseColumns+` FROM licenses WHERE chat_id = ? ORDER BY id`, chatID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return licenses, nil
}

// Extend adds extraDays to the license duration. Revoked licenses cannot be extended.
func (s *LicenseStore) Extend(ctx context.Context, id int64, extraDays int) (*License, error) {
	var license *License
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		l, err := getLicense(ctx, tx, id)
		if err != nil {
			return err
		}
		if !l.Active {
			return ErrLicenseRevoked
		}

		if extraDays > MaxDurationDays || extraDays < -MaxDurationDays {
			return &ValidationError{
				Field:  "duration_days",
				Reason: fmt.Sprintf("cannot extend by %d days, the limit is %d", extraDays, MaxDurationDays),
			}
		}

		duration := l.DurationDays + extraDays
		if duration < 0 {
			return &ValidationError{
				Field:  "duration_days",
				Reason: fmt.Sprintf("extending by %d days would end before the start date", extraDays),
			}
		}
		if duration > MaxDurationDays {
			return &ValidationError{
				Field:  "duration_days",
				Reason: fmt.Sprintf("total duration of %d days exceeds the limit of %d", duration, MaxDurationDays),
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE licenses SET duration_days = ? WHERE id = ?`, duration, id); err != nil {
			return fmt.Errorf("failed to extend license %d: %w", id, err)
		}

		l.DurationDays = duration
		license = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	return license, nil
}

// Deactivate revokes a license. Revoking an inactive license is a no-op.
func (s *LicenseStore) Deactivate(ctx context.Context, id int64) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE licenses SET active = 0 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to deactivate license %d: %w", id, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrLicenseNotFound
		}

		return nil
	})
}

// RecordIPChange replaces the license IP and appends an IP change event in one transaction.
func (s *LicenseStore) RecordIPChange(ctx context.Context, id int64, newIP string) (*License, error) {
	if err := ValidateIP(newIP); err != nil {
		return nil, err
	}
	newIP = strings.TrimSpace(newIP)
	changedAt := s.clock()

	var license *License
	err := s.db.Write(ctx, func(tx *sql.Tx) error {
		l, err := getLicense(ctx, tx, id)
		if err != nil {
			return err
		}
		if !l.Active {
			return ErrLicenseRevoked
		}

		if _, err := tx.ExecContext(ctx, `UPDATE licenses SET ip_address = ? WHERE id = ?`, newIP, id); err != nil {
			return fmt.Errorf("failed to update ip of license %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ip_change_events (license_id, old_ip, new_ip, changed_at)
			VALUES (?, ?, ?, ?)`,
			id, l.IPAddress, newIP, changedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to record ip change of license %d: %w", id, err)
		}

		l.IPAddress = newIP
		license = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	return license, nil
}

// IPChangesSince counts IP change events per license at or after cutoff.
// Licenses without events in the window are absent from the result.
func (s *LicenseStore) IPChangesSince(ctx context.Context, cutoff time.Time) (map[int64]int, error) {
	counts := make(map[int64]int)
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT license_id, COUNT(*)
			FROM ip_change_events
			WHERE changed_at >= ?
			GROUP BY license_id`, cutoffMilli(cutoff))
		if err != nil {
			return fmt.Errorf("failed to count ip changes: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				licenseID int64
				count     int
			)
			if err := rows.Scan(&licenseID, &count); err != nil {
				return err
			}
			counts[licenseID] = count
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return counts, nil
}

// cutoffMilli rounds up to the next millisecond so events stored with
// millisecond precision never count when they precede cutoff.
func cutoffMilli(cutoff time.Time) int64 {
	ms := cutoff.UnixMilli()
	if cutoff.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

const eventColumns = `id, license_id, old_ip, new_ip, changed_at`

// Events returns the whole IP change log in insertion order.
func (s *LicenseStore) Events(ctx context.Context) ([]*IPChangeEvent, error) {
	var events []*IPChangeEvent
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		events, err = queryEvents(ctx, tx, `SELECT `+eventColumns+` FROM ip_change_events ORDER BY id`)
		return err
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// RecentEvents returns up to limit of the newest events for one license, newest first.
func (s *LicenseStore) RecentEvents(ctx context.Context, licenseID int64, limit int) ([]*IPChangeEvent, error) {
	var events []*IPChangeEvent
	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		var err error
		events, err = queryEvents(ctx, tx, `
			SELECT `+eventColumns+`
			FROM ip_change_events
			WHERE license_id = ?
			ORDER BY changed_at DESC, id DESC
			LIMIT ?`, licenseID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// Snapshot reads all licenses and events inside one read transaction.
func (s *LicenseStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Licenses:       []*License{},
		IPChangeEvents: []*IPChangeEvent{},
	}

	err := s.db.Read(ctx, func(tx *sql.Tx) error {
		licenses, err := queryLicenses(ctx, tx, `SELECT `+licenseColumns+` FROM licenses ORDER BY id`)
		if err != nil {
			return err
		}
		events, err := queryEvents(ctx, tx, `SELECT `+eventColumns+` FROM ip_change_events ORDER BY id`)
		if err != nil {
			return err
		}

		if licenses != nil {
			snap.Licenses = licenses
		}
		if events != nil {
			snap.IPChangeEvents = events
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// Restore loads a snapshot into an empty store, keeping the original ids.
func (s *LicenseStore) Restore(ctx context.Context, snap *Snapshot) error {
	return s.db.Write(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM licenses`).Scan(&existing); err != nil {
			return fmt.Errorf("failed to count licenses: %w", err)
		}
		if existing > 0 {
			return ErrStoreNotEmpty
		}

		for _, l := range snap.Licenses {
			if l.DurationDays < 0 || l.DurationDays > MaxDurationDays {
				return &ValidationError{
					Field:  "duration_days",
					Reason: fmt.Sprintf("license %d has a duration of %d days", l.ID, l.DurationDays),
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO licenses (id, owner_name, ip_address, start_date, duration_days, active, chat_id)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				l.ID, l.OwnerName, l.IPAddress, l.StartDate.UTC().Format(DateLayout), l.DurationDays, l.Active, nullableChatID(l.ChatID)); err != nil {
				return fmt.Errorf("failed to restore license %d: %w", l.ID, err)
			}
		}

		for _, e := range snap.IPChangeEvents {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ip_change_events (id, license_id, old_ip, new_ip, changed_at)
				VALUES (?, ?, ?, ?, ?)`,
				e.ID, e.LicenseID, e.OldIP, e.NewIP, e.ChangedAt.UnixMilli()); err != nil {
				return fmt.Errorf("failed to restore ip change event %d: %w", e.ID, err)
			}
		}

		return nil
	})
}
