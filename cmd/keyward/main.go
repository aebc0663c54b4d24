// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/keyward/keyward/internal/api"
	"github.com/keyward/keyward/internal/bot"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/database"
	"github.com/keyward/keyward/internal/metrics"
	"github.com/keyward/keyward/internal/models"
	"github.com/keyward/keyward/internal/reports"
	"github.com/keyward/keyward/internal/scheduler"
	"github.com/keyward/keyward/internal/services"
	"github.com/keyward/keyward/internal/web/swagger"
)

var Version = "dev"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "keyward",
		Short: "License management bot for Telegram",
		Long: `keyward - issue, extend and revoke IP-bound licenses from a Telegram chat,
with periodic reports and backups sent to the administrator.`,
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.Version = Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunBackupCommand())
	rootCmd.AddCommand(RunRestoreCommand())
	rootCmd.AddCommand(RunAPIKeyCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the bot, the scheduler and the HTTP API",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/keyward/ or %APPDATA%\\keyward\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database and backups (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stderr)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app := NewApplication(Version, configDir, dataDir, logPath, pprofFlag)
		return app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of keyward",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/keyward/config.toml
- Windows: %APPDATA%\keyward\config.toml

You can specify either a directory path or a direct file path:
- Directory: keyward generate-config --config-dir /path/to/config/
- File: keyward generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigFile(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func resolveConfigFile(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}

type Application struct {
	version   string
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(version, configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		version:   version,
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() error {
	cfg, err := config.New(app.configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if app.dataDir != "" {
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		cfg.Config.LogPath = app.logPath
	}
	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()
	log.Info().Str("version", app.version).Str("config", cfg.ConfigPath()).Msg("Starting keyward")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	licenseService, err := services.NewLicenseService(models.NewLicenseStore(db))
	if err != nil {
		return fmt.Errorf("failed to initialize license service: %w", err)
	}
	defer licenseService.Close()

	apiKeyStore := models.NewAPIKeyStore(db)
	metricsManager := metrics.NewManager(licenseService, cfg.Config.Reports.IPChangeWindow)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Config.BotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	botAPI.Debug = cfg.Config.Telegram.Debug
	log.Info().Str("username", botAPI.Self.UserName).Msg("Authorized on Telegram")

	notifier := bot.NewAdminNotifier(botAPI, cfg.Config.AdminChatID)
	reporter := reports.NewReporter(licenseService, notifier, cfg.GetBackupPath(), cfg.Config.Reports.IPChangeWindow)

	sched := scheduler.New()
	sched.SetRecorder(metricsManager.Jobs())
	if err := reporter.Register(sched, reports.Intervals{
		IPChange:   cfg.Config.Reports.IPChangeInterval,
		Status:     cfg.Config.Reports.StatusInterval,
		Backup:     cfg.Config.Reports.BackupInterval,
		Timeout:    cfg.Config.Reports.JobTimeout,
		RunOnStart: cfg.Config.Reports.RunOnStart,
	}); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}

	chatBot := bot.New(botAPI, licenseService, sched, bot.Config{
		AdminChatID:         cfg.Config.AdminChatID,
		ConversationTimeout: cfg.Config.Telegram.ConversationTimeout,
		IPChangeWindow:      cfg.Config.Reports.IPChangeWindow,
		SupportContact:      cfg.Config.Telegram.SupportContact,
		PaymentText:         cfg.Config.Telegram.PaymentText,
		GuideText:           cfg.Config.Telegram.GuideText,
	})

	swaggerHandler, err := swagger.NewHandler()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load OpenAPI spec, /api/docs disabled")
	}

	router := api.NewRouter(&api.Dependencies{
		Config:         cfg,
		Licenses:       licenseService,
		APIKeys:        apiKeyStore,
		MetricsManager: metricsManager,
		Swagger:        swaggerHandler,
	})

	readTimeout := time.Duration(cfg.Config.HTTPTimeouts.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Config.HTTPTimeouts.WriteTimeout) * time.Second
	idleTimeout := time.Duration(cfg.Config.HTTPTimeouts.IdleTimeout) * time.Second

	if readTimeout == 0 {
		readTimeout = 60 * time.Second
	}
	if writeTimeout == 0 {
		writeTimeout = 120 * time.Second
	}
	if idleTimeout == 0 {
		idleTimeout = 180 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Config.Host, cfg.Config.Port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Start(gctx)
	})

	g.Go(func() error {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Config.Telegram.PollTimeout
		updates := botAPI.GetUpdatesChan(u)
		defer botAPI.StopReceivingUpdates()

		return chatBot.Run(gctx, updates)
	})

	g.Go(func() error {
		log.Info().
			Str("address", srv.Addr).
			Dur("readTimeout", readTimeout).
			Dur("writeTimeout", writeTimeout).
			Dur("idleTimeout", idleTimeout).
			Msg("Starting HTTP server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	err = g.Wait()
	sched.Wait()

	if err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
