// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reports

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/backup"
	"github.com/keyward/keyward/internal/models"
	"github.com/keyward/keyward/internal/scheduler"
)

type fakeSource struct {
	licenses []*models.License
	counts   map[int64]int
	cutoff   time.Time
	err      error
}

func (f *fakeSource) List(context.Context) ([]*models.License, error) {
	return f.licenses, f.err
}

func (f *fakeSource) IPChangesSince(_ context.Context, cutoff time.Time) (map[int64]int, error) {
	f.cutoff = cutoff
	return f.counts, f.err
}

func (f *fakeSource) Snapshot(context.Context) (*models.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Snapshot{Licenses: f.licenses, IPChangeEvents: []*models.IPChangeEvent{}}, nil
}

type document struct {
	filename string
	data     []byte
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	docs  []document
	err   error
}

func (f *fakeNotifier) NotifyText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeNotifier) NotifyDocument(_ context.Context, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, document{filename: filename, data: data})
	return nil
}

var now = time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)

func sampleLicenses() []*models.License {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return []*models.License{
		{ID: 1, OwnerName: "alice", IPAddress: "1.2.3.4", StartDate: start, DurationDays: 90, Active: true},
		{ID: 2, OwnerName: "bob", IPAddress: "5.6.7.8", StartDate: start, DurationDays: 30, Active: true},
		{ID: 3, OwnerName: "carol", IPAddress: "9.9.9.9", StartDate: start, DurationDays: 60, Active: false},
	}
}

func newTestReporter(t *testing.T, source Source, notifier Notifier) (*Reporter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backups", "backup.json")
	r := NewReporter(source, notifier, path, 24*time.Hour)
	r.now = func() time.Time { return now }
	return r, path
}

func TestIPChangeReport(t *testing.T) {
	source := &fakeSource{licenses: sampleLicenses(), counts: map[int64]int{1: 1, 2: 3}}
	notifier := &fakeNotifier{}
	r, _ := newTestReporter(t, source, notifier)

	require.NoError(t, r.IPChangeReport(t.Context()))

	assert.Equal(t, now.Add(-24*time.Hour), source.cutoff)
	require.Len(t, notifier.texts, 1)

	text := notifier.texts[0]
	assert.Contains(t, text, "last 24h")
	assert.Contains(t, text, "#2 bob: 3 changes")
	assert.Contains(t, text, "#1 alice: 1 change,")
	assert.Less(t, strings.Index(text, "#2 bob"), strings.Index(text, "#1 alice"), "most active first")
	assert.NotContains(t, text, "carol")
}

func TestIPChangeReportEmpty(t *testing.T) {
	text := BuildIPChangeReport(sampleLicenses(), map[int64]int{}, 24*time.Hour)
	assert.Contains(t, text, "No IP changes.")
}

func TestStatusReport(t *testing.T) {
	notifier := &fakeNotifier{}
	r, _ := newTestReporter(t, &fakeSource{licenses: sampleLicenses()}, notifier)

	require.NoError(t, r.StatusReport(t.Context()))
	require.Len(t, notifier.texts, 1)

	text := notifier.texts[0]
	assert.Contains(t, text, "2026-04-10")
	assert.Contains(t, text, "Active: 1, expired: 1, revoked: 1")
	// bob: 2026-03-01 + 30 = 2026-03-31, ten days before the report
	assert.Contains(t, text, "#2 bob (5.6.7.8) - expired 10 days ago")
	// alice: 2026-03-01 + 90 = 2026-05-30
	assert.Contains(t, text, "#1 alice (1.2.3.4) - 50 days left")
	assert.Contains(t, text, "#3 carol (9.9.9.9) - revoked")
	assert.Less(t, strings.Index(text, "#2 bob"), strings.Index(text, "#1 alice"), "soonest expiry first")
}

func TestStatusReportEmpty(t *testing.T) {
	assert.Contains(t, BuildStatusReport(nil, now), "No licenses.")
}

func TestBackup(t *testing.T) {
	notifier := &fakeNotifier{}
	r, path := newTestReporter(t, &fakeSource{licenses: sampleLicenses()}, notifier)

	require.NoError(t, r.Backup(t.Context()))

	require.Len(t, notifier.docs, 1)
	assert.Equal(t, "keyward-backup-20260410-093000.json", notifier.docs[0].filename)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, onDisk, notifier.docs[0].data)

	snap, err := backup.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, snap.Licenses, 3)
}

func TestDeliveryFailure(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("Forbidden: bot was blocked by the user")}
	r, path := newTestReporter(t, &fakeSource{licenses: sampleLicenses(), counts: map[int64]int{}}, notifier)
	ctx := t.Context()

	var de *DeliveryError

	err := r.IPChangeReport(ctx)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "ip change report", de.Op)

	err = r.StatusReport(ctx)
	require.ErrorAs(t, err, &de)

	err = r.Backup(ctx)
	require.ErrorAs(t, err, &de)
	assert.FileExists(t, path, "backup stays on disk when delivery fails")
}

func TestStoreFailureIsNotDeliveryError(t *testing.T) {
	r, _ := newTestReporter(t, &fakeSource{err: errors.New("disk I/O error")}, &fakeNotifier{})

	err := r.StatusReport(t.Context())
	require.Error(t, err)

	var de *DeliveryError
	assert.False(t, errors.As(err, &de))
}

func TestRegister(t *testing.T) {
	r, _ := newTestReporter(t, &fakeSource{}, &fakeNotifier{})
	s := scheduler.New()

	require.NoError(t, r.Register(s, Intervals{IPChange: 6 * time.Hour, Status: 24 * time.Hour, Backup: 24 * time.Hour}))
	assert.Equal(t, []string{JobIPChangeReport, JobStatusReport, JobBackup}, s.Jobs())

	assert.Error(t, r.Register(scheduler.New(), Intervals{}), "zero intervals are rejected")
}

func TestJobsRunThroughScheduler(t *testing.T) {
	notifier := &fakeNotifier{}
	r, _ := newTestReporter(t, &fakeSource{licenses: sampleLicenses(), counts: map[int64]int{}}, notifier)
	s := scheduler.New()

	require.NoError(t, r.Register(s, Intervals{IPChange: time.Hour, Status: time.Hour, Backup: time.Hour}))

	require.NoError(t, s.RunNow(t.Context(), JobBackup))
	require.NoError(t, s.RunNow(t.Context(), JobStatusReport))

	assert.Len(t, notifier.docs, 1)
	assert.Len(t, notifier.texts, 1)
}
