// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationIdempotency(t *testing.T) {
	ctx := t.Context()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath)
	require.NoError(t, err, "Failed to initialize database first time")

	var count1 int
	err = db1.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations").Scan(&count1)
	require.NoError(t, err, "Failed to count migrations")
	db1.Close()

	// Initialize database second time (should be idempotent)
	db2, err := New(dbPath)
	require.NoError(t, err, "Failed to initialize database second time")
	defer db2.Close()

	var count2 int
	err = db2.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations").Scan(&count2)
	require.NoError(t, err, "Failed to count migrations")

	assert.Equal(t, count1, count2, "Migration count should be the same after re-initialization")
	assert.Equal(t, 2, count2, "Should have exactly 2 migrations applied")
}

func TestWriteRollsBackOnError(t *testing.T) {
	ctx := t.Context()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("boom")
	err = db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO licenses (owner_name, ip_address, start_date, duration_days) VALUES ('alice', '1.2.3.4', '2026-01-01', 30)`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM licenses").Scan(&count))
	assert.Zero(t, count, "insert must not survive a failed transaction")
}

func TestWriteCommits(t *testing.T) {
	ctx := t.Context()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	err = db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO licenses (owner_name, ip_address, start_date, duration_days) VALUES ('alice', '1.2.3.4', '2026-01-01', 30)`)
		return err
	})
	require.NoError(t, err)

	var count int
	err = db.Read(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM licenses").Scan(&count)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestForeignKeysEnforced(t *testing.T) {
	ctx := t.Context()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	err = db.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO ip_change_events (license_id, old_ip, new_ip, changed_at) VALUES (42, 'a', 'b', 0)`)
		return err
	})
	assert.Error(t, err, "events must reference an existing license")
}
