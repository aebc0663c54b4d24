// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keyward/keyward/internal/backup"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/database"
	"github.com/keyward/keyward/internal/models"
)

// openDatabase loads the configuration and opens the database it points to.
func openDatabase(configDir, dataDir string) (*config.AppConfig, *database.DB, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return cfg, db, nil
}

func addDataFlags(command *cobra.Command, configDir, dataDir *string) {
	command.PersistentFlags().StringVar(configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.PersistentFlags().StringVar(dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

func RunBackupCommand() *cobra.Command {
	var configDir, dataDir, output string

	command := &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON backup of all licenses and IP change events",
		Long: `Write a JSON backup without starting the server.

The file has the same format as the backups the bot sends to the admin chat
and can be loaded with 'keyward restore'. Defaults to <data-dir>/backups/backup.json.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDatabase(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			snap, err := models.NewLicenseStore(db).Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to snapshot store: %w", err)
			}

			if output == "" {
				output = cfg.GetBackupPath()
			}

			if output == "-" {
				return backup.Encode(cmd.OutOrStdout(), snap)
			}

			if _, err := backup.WriteFile(output, snap); err != nil {
				return err
			}

			cmd.Printf("Backup of %d licenses and %d IP change events written to: %s\n",
				len(snap.Licenses), len(snap.IPChangeEvents), output)
			return nil
		},
	}

	addDataFlags(command, &configDir, &dataDir)
	command.Flags().StringVarP(&output, "output", "o", "", `backup file path, "-" for stdout`)

	return command
}

func RunRestoreCommand() *cobra.Command {
	var configDir, dataDir, input string
	var yes bool

	command := &cobra.Command{
		Use:   "restore",
		Short: "Load a JSON backup into an empty database",
		Long: `Load a JSON backup into an empty database, keeping license ids.

The target database must not contain any licenses. Asks for confirmation
unless --yes is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return errors.New("--input is required")
			}

			snap, err := backup.ReadFile(input)
			if err != nil {
				return err
			}

			cfg, db, err := openDatabase(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			if !yes {
				prompt := fmt.Sprintf("Restore %d licenses and %d IP change events into %s? [y/N]: ",
					len(snap.Licenses), len(snap.IPChangeEvents), cfg.GetDatabasePath())
				confirmed, err := confirm(cmd, prompt)
				if err != nil {
					return err
				}
				if !confirmed {
					cmd.Println("Restore cancelled.")
					return nil
				}
			}

			if err := models.NewLicenseStore(db).Restore(cmd.Context(), snap); err != nil {
				if errors.Is(err, models.ErrStoreNotEmpty) {
					return fmt.Errorf("database %s already contains licenses; restore needs an empty database", cfg.GetDatabasePath())
				}
				return fmt.Errorf("failed to restore backup: %w", err)
			}

			cmd.Printf("Restored %d licenses and %d IP change events\n", len(snap.Licenses), len(snap.IPChangeEvents))
			return nil
		},
	}

	addDataFlags(command, &configDir, &dataDir)
	command.Flags().StringVarP(&input, "input", "i", "", "backup file to restore")
	command.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return command
}

// confirm asks a yes/no question on an interactive terminal. Without a
// terminal there is nobody to answer, so it refuses.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("stdin is not a terminal; pass --yes to confirm")
	}

	return readConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), prompt)
}

func readConfirmation(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func RunAPIKeyCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "api-key",
		Short: "Manage API keys for the HTTP API",
	}
	addDataFlags(command, &configDir, &dataDir)

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDatabase(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			rawKey, apiKey, err := models.NewAPIKeyStore(db).Create(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("failed to create api key: %w", err)
			}

			cmd.Printf("API key '%s' created with ID: %d\n", apiKey.Name, apiKey.ID)
			cmd.Println("Store it now, it will not be shown again:")
			fmt.Fprintln(cmd.OutOrStdout(), rawKey)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "name of the client using the key")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDatabase(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			keys, err := models.NewAPIKeyStore(db).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list api keys: %w", err)
			}

			if len(keys) == 0 {
				cmd.Println("No API keys.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCREATED\tLAST USED")
			for _, k := range keys {
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = k.LastUsedAt.UTC().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", k.ID, k.Name, k.CreatedAt.UTC().Format("2006-01-02 15:04"), lastUsed)
			}
			return w.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid api key id %q", args[0])
			}

			_, db, err := openDatabase(configDir, dataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := models.NewAPIKeyStore(db).Delete(cmd.Context(), id); err != nil {
				if errors.Is(err, models.ErrAPIKeyNotFound) {
					return fmt.Errorf("api key %d not found", id)
				}
				return fmt.Errorf("failed to delete api key: %w", err)
			}

			cmd.Printf("API key %d deleted\n", id)
			return nil
		},
	}

	command.AddCommand(create, list, del)
	return command
}
