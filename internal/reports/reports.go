// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reports builds the periodic admin reports and the backup job.
package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keyward/keyward/internal/backup"
	"github.com/keyward/keyward/internal/lifecycle"
	"github.com/keyward/keyward/internal/models"
	"github.com/keyward/keyward/internal/scheduler"
)

const (
	JobIPChangeReport = "ip-change-report"
	JobStatusReport   = "license-status-report"
	JobBackup         = "backup"
)

// Notifier delivers output to the admin channel.
type Notifier interface {
	NotifyText(ctx context.Context, text string) error
	NotifyDocument(ctx context.Context, filename string, data []byte) error
}

// Source is the subset of the license service the reports read from.
type Source interface {
	List(ctx context.Context) ([]*models.License, error)
	IPChangesSince(ctx context.Context, cutoff time.Time) (map[int64]int, error)
	Snapshot(ctx context.Context) (*models.Snapshot, error)
}

// DeliveryError wraps a failure to reach the admin channel. Data is never
// rolled back because of it; the next scheduled run tries again.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type Reporter struct {
	source     Source
	notifier   Notifier
	backupPath string
	window     time.Duration
	now        func() time.Time
}

func NewReporter(source Source, notifier Notifier, backupPath string, window time.Duration) *Reporter {
	return &Reporter{
		source:     source,
		notifier:   notifier,
		backupPath: backupPath,
		window:     window,
		now:        time.Now,
	}
}

// Intervals configures how often each job fires.
type Intervals struct {
	IPChange   time.Duration
	Status     time.Duration
	Backup     time.Duration
	Timeout    time.Duration
	RunOnStart bool
}

// Register adds the three report jobs to s.
func (r *Reporter) Register(s *scheduler.Scheduler, iv Intervals) error {
	jobs := []scheduler.Job{
		{Name: JobIPChangeReport, Interval: iv.IPChange, Run: r.IPChangeReport},
		{Name: JobStatusReport, Interval: iv.Status, Run: r.StatusReport},
		{Name: JobBackup, Interval: iv.Backup, Run: r.Backup},
	}

	for _, job := range jobs {
		job.Timeout = iv.Timeout
		job.RunOnStart = iv.RunOnStart
		if err := s.Register(job); err != nil {
			return err
		}
	}

	return nil
}

// IPChangeReport sends per-license IP change counts for the trailing window.
func (r *Reporter) IPChangeReport(ctx context.Context) error {
	now := r.now()

	counts, err := r.source.IPChangesSince(ctx, now.Add(-r.window))
	if err != nil {
		return fmt.Errorf("failed to count ip changes: %w", err)
	}

	licenses, err := r.source.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list licenses: %w", err)
	}

	text := BuildIPChangeReport(licenses, counts, r.window)
	if err := r.notifier.NotifyText(ctx, text); err != nil {
		return &DeliveryError{Op: "ip change report", Err: err}
	}

	zerolog.Ctx(ctx).Info().Int("licenses", len(counts)).Msg("IP change report delivered")
	return nil
}

// StatusReport sends the remaining days of every license.
func (r *Reporter) StatusReport(ctx context.Context) error {
	licenses, err := r.source.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list licenses: %w", err)
	}

	text := BuildStatusReport(licenses, r.now())
	if err := r.notifier.NotifyText(ctx, text); err != nil {
		return &DeliveryError{Op: "status report", Err: err}
	}

	zerolog.Ctx(ctx).Info().Int("licenses", len(licenses)).Msg("Status report delivered")
	return nil
}

// Backup writes a snapshot to disk and sends the file to the admin chat. A
// delivery failure leaves the file on disk.
func (r *Reporter) Backup(ctx context.Context) error {
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot store: %w", err)
	}

	data, err := backup.WriteFile(r.backupPath, snap)
	if err != nil {
		return err
	}

	logger := zerolog.Ctx(ctx)
	logger.Info().Str("path", r.backupPath).Int("bytes", len(data)).Msg("Backup written")

	filename := fmt.Sprintf("keyward-backup-%s.json", r.now().UTC().Format("20060102-150405"))
	if err := r.notifier.NotifyDocument(ctx, filename, data); err != nil {
		return &DeliveryError{Op: "backup", Err: err}
	}

	logger.Info().Str("filename", filename).Msg("Backup delivered")
	return nil
}

// BuildIPChangeReport lists licenses with IP changes, most active first.
func BuildIPChangeReport(licenses []*models.License, counts map[int64]int, window time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "IP change report (last %s)\n", formatWindow(window))

	if len(counts) == 0 {
		b.WriteString("\nNo IP changes.")
		return b.String()
	}

	byID := make(map[int64]*models.License, len(licenses))
	for _, l := range licenses {
		byID[l.ID] = l
	}

	ids := make([]int64, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})

	b.WriteString("\n")
	for _, id := range ids {
		name, ip := "unknown", "-"
		if l, ok := byID[id]; ok {
			name, ip = l.OwnerName, l.IPAddress
		}
		noun := "changes"
		if counts[id] == 1 {
			noun = "change"
		}
		fmt.Fprintf(&b, "#%d %s: %d %s, current IP %s\n", id, name, counts[id], noun, ip)
	}

	return strings.TrimRight(b.String(), "\n")
}

// BuildStatusReport lists every license with its remaining days, soonest expiry first.
func BuildStatusReport(licenses []*models.License, asOf time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "License status report (%s)\n", asOf.UTC().Format(models.DateLayout))

	if len(licenses) == 0 {
		b.WriteString("\nNo licenses.")
		return b.String()
	}

	sorted := append([]*models.License(nil), licenses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := lifecycle.RemainingDays(sorted[i], asOf), lifecycle.RemainingDays(sorted[j], asOf)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].ID < sorted[j].ID
	})

	counts := make(map[lifecycle.Status]int)
	for _, l := range sorted {
		counts[lifecycle.StatusOf(l, asOf)]++
	}
	fmt.Fprintf(&b, "Active: %d, expired: %d, revoked: %d\n\n",
		counts[lifecycle.StatusActive], counts[lifecycle.StatusExpired], counts[lifecycle.StatusRevoked])

	for _, l := range sorted {
		b.WriteString(lifecycle.FormatStatusLine(l, lifecycle.RemainingDays(l, asOf)))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatWindow(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "24h"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
