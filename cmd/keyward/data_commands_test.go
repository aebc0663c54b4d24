// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/backup"
	"github.com/keyward/keyward/internal/database"
	"github.com/keyward/keyward/internal/models"
)

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

// seedLicenses creates licenses in the database at dataDir/keyward.db.
func seedLicenses(t *testing.T, dataDir string, owners ...string) {
	t.Helper()

	db, err := database.New(filepath.Join(dataDir, "keyward.db"))
	require.NoError(t, err)
	defer db.Close()

	store := models.NewLicenseStore(db)
	for i, owner := range owners {
		l, err := store.Create(t.Context(), models.NewLicense{OwnerName: owner, IPAddress: "10.0.0.1", DurationDays: 30 + i})
		require.NoError(t, err)
		_, err = store.RecordIPChange(t.Context(), l.ID, "10.0.0.2")
		require.NoError(t, err)
	}
}

func listOwners(t *testing.T, dataDir string) []string {
	t.Helper()

	db, err := database.New(filepath.Join(dataDir, "keyward.db"))
	require.NoError(t, err)
	defer db.Close()

	licenses, err := models.NewLicenseStore(db).List(t.Context())
	require.NoError(t, err)

	var owners []string
	for _, l := range licenses {
		owners = append(owners, l.OwnerName)
	}
	return owners
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())

	seedLicenses(t, "source", "alice", "bob")

	output, err := execute(t, RunBackupCommand(),
		"--config-dir", "config", "--data-dir", "source", "--output", "out/backup.json")
	require.NoError(t, err)
	assert.Contains(t, output, "Backup of 2 licenses and 2 IP change events written to: out/backup.json")

	snap, err := backup.ReadFile("out/backup.json")
	require.NoError(t, err)
	require.Len(t, snap.Licenses, 2)
	assert.Equal(t, "10.0.0.2", snap.Licenses[0].IPAddress)

	output, err = execute(t, RunRestoreCommand(),
		"--config-dir", "config", "--data-dir", "target", "--input", "out/backup.json", "--yes")
	require.NoError(t, err)
	assert.Contains(t, output, "Restored 2 licenses and 2 IP change events")

	assert.Equal(t, []string{"alice", "bob"}, listOwners(t, "target"))
}

func TestBackupDefaultsToDataDir(t *testing.T) {
	t.Chdir(t.TempDir())

	seedLicenses(t, "data", "alice")

	output, err := execute(t, RunBackupCommand(), "--config-dir", "config", "--data-dir", "data")
	require.NoError(t, err)
	assert.Contains(t, output, filepath.Join("data", "backups"))
}

func TestBackupToStdout(t *testing.T) {
	t.Chdir(t.TempDir())

	seedLicenses(t, "data", "alice")

	output, err := execute(t, RunBackupCommand(), "--config-dir", "config", "--data-dir", "data", "-o", "-")
	require.NoError(t, err)

	snap, err := backup.Decode(strings.NewReader(output))
	require.NoError(t, err)
	require.Len(t, snap.Licenses, 1)
	assert.Equal(t, "alice", snap.Licenses[0].OwnerName)
}

func TestRunRestoreCommandErrors(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		seedTarget    bool
		expectedError string
	}{
		{
			name:          "missing_input",
			args:          []string{"--data-dir", "target", "--yes"},
			expectedError: "--input is required",
		},
		{
			name:          "input_does_not_exist",
			args:          []string{"--data-dir", "target", "--input", "nope.json", "--yes"},
			expectedError: "nope.json",
		},
		{
			name:          "target_not_empty",
			args:          []string{"--data-dir", "target", "--input", "backup.json", "--yes"},
			seedTarget:    true,
			expectedError: "already contains licenses",
		},
		{
			name:          "no_terminal_without_yes",
			args:          []string{"--data-dir", "target", "--input", "backup.json"},
			expectedError: "pass --yes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())

			seedLicenses(t, "source", "alice")
			_, err := execute(t, RunBackupCommand(), "--config-dir", "config", "--data-dir", "source", "-o", "backup.json")
			require.NoError(t, err)

			if tt.seedTarget {
				seedLicenses(t, "target", "mallory")
			}

			_, err = execute(t, RunRestoreCommand(), append([]string{"--config-dir", "config"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedError)

			if tt.seedTarget {
				assert.Equal(t, []string{"mallory"}, listOwners(t, "target"), "existing data is untouched")
			}
		})
	}
}

func TestReadConfirmation(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: " yes ", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
		{input: "yep\n", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out bytes.Buffer
			got, err := readConfirmation(strings.NewReader(tt.input), &out, "Restore? [y/N]: ")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Restore? [y/N]: ", out.String())
		})
	}
}

func TestAPIKeyCommands(t *testing.T) {
	t.Chdir(t.TempDir())
	base := []string{"--config-dir", "config", "--data-dir", "data"}

	output, err := execute(t, RunAPIKeyCommand(), append([]string{"list"}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, output, "No API keys.")

	output, err = execute(t, RunAPIKeyCommand(), append([]string{"create", "--name", "dashboard"}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, output, "API key 'dashboard' created with ID: 1")

	lines := strings.Split(strings.TrimSpace(output), "\n")
	rawKey := lines[len(lines)-1]

	db, err := database.New(filepath.Join("data", "keyward.db"))
	require.NoError(t, err)
	key, err := models.NewAPIKeyStore(db).ValidateAPIKey(t.Context(), rawKey)
	require.NoError(t, err, "printed key authenticates")
	assert.Equal(t, "dashboard", key.Name)
	require.NoError(t, db.Close())

	output, err = execute(t, RunAPIKeyCommand(), append([]string{"list"}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, output, "dashboard")
	assert.NotContains(t, output, rawKey, "list never shows the key")

	output, err = execute(t, RunAPIKeyCommand(), append([]string{"delete", "1"}, base...)...)
	require.NoError(t, err)
	assert.Contains(t, output, "API key 1 deleted")

	_, err = execute(t, RunAPIKeyCommand(), append([]string{"delete", "1"}, base...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key 1 not found")

	_, err = execute(t, RunAPIKeyCommand(), append([]string{"delete", "one"}, base...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key id")

	_, err = os.Stat(filepath.Join("data", "keyward.db"))
	assert.NoError(t, err)
}
