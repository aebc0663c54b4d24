// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/keyward/keyward/internal/domain"
)

const (
	envPrefix      = "KEYWARD__"
	appName        = "keyward"
	databaseFile   = "keyward.db"
	backupDir      = "backups"
	backupFile     = "backup.json"
	configFileName = "config.toml"
)

// keys bound to environment variables, e.g. reports.ipChangeInterval -> KEYWARD__REPORTS_IP_CHANGE_INTERVAL
var envKeys = []string{
	"host",
	"port",
	"logLevel",
	"logPath",
	"dataDir",
	"metricsEnabled",
	"pprofEnabled",
	"botToken",
	"adminChatId",
	"telegram.pollTimeout",
	"telegram.conversationTimeout",
	"telegram.supportContact",
	"telegram.paymentText",
	"telegram.guideText",
	"telegram.debug",
	"reports.ipChangeInterval",
	"reports.ipChangeWindow",
	"reports.statusInterval",
	"reports.backupInterval",
	"reports.jobTimeout",
	"reports.runOnStart",
	"api.rateLimit",
	"api.rateBurst",
	"httpTimeouts.readTimeout",
	"httpTimeouts.writeTimeout",
	"httpTimeouts.idleTimeout",
}

type AppConfig struct {
	Config     *domain.Config
	viper      *viper.Viper
	configPath string
	logFile    *os.File
}

// New loads configuration from configDir (a directory or a .toml file) and the
// environment. A missing file is not an error; environment-only setups work.
func New(configDir string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}

	if configDir == "" {
		configDir = GetDefaultConfigDir()
	}
	c.configPath = c.resolveConfigPath(configDir)

	c.defaults()

	for _, key := range envKeys {
		if err := c.viper.BindEnv(key, envName(key)); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	c.viper.SetConfigFile(c.configPath)
	c.viper.SetConfigType("toml")

	fileExists := false
	if _, err := os.Stat(c.configPath); err == nil {
		if err := c.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", c.configPath, err)
		}
		fileExists = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", c.configPath, err)
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if fileExists {
		c.watch()
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "localhost")
	c.viper.SetDefault("port", 7474)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("pprofEnabled", false)
	c.viper.SetDefault("botToken", "")
	c.viper.SetDefault("adminChatId", 0)
	c.viper.SetDefault("telegram.pollTimeout", 60)
	c.viper.SetDefault("telegram.conversationTimeout", "10m")
	c.viper.SetDefault("telegram.supportContact", "")
	c.viper.SetDefault("telegram.paymentText", "Contact support to renew or purchase a license.")
	c.viper.SetDefault("telegram.guideText", "Send /menu at any time to open the main menu.")
	c.viper.SetDefault("telegram.debug", false)
	c.viper.SetDefault("reports.ipChangeInterval", "6h")
	c.viper.SetDefault("reports.ipChangeWindow", "24h")
	c.viper.SetDefault("reports.statusInterval", "24h")
	c.viper.SetDefault("reports.backupInterval", "24h")
	c.viper.SetDefault("reports.jobTimeout", "5m")
	c.viper.SetDefault("reports.runOnStart", false)
	c.viper.SetDefault("api.rateLimit", 5.0)
	c.viper.SetDefault("api.rateBurst", 20)
	c.viper.SetDefault("httpTimeouts.readTimeout", 60)
	c.viper.SetDefault("httpTimeouts.writeTimeout", 120)
	c.viper.SetDefault("httpTimeouts.idleTimeout", 180)
}

// watch reloads the log level when the config file changes. Everything else
// requires a restart.
func (c *AppConfig) watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := c.viper.GetString("logLevel")
		setLogLevel(level)
		log.Info().Str("file", e.Name).Str("logLevel", level).Msg("Config file changed, log level reloaded")
	})
	c.viper.WatchConfig()
}

// envName maps a viper key to its environment variable.
func envName(key string) string {
	var b strings.Builder
	b.WriteString(envPrefix)
	for _, part := range strings.Split(key, ".") {
		if b.Len() > len(envPrefix) {
			b.WriteByte('_')
		}
		b.WriteString(screamingSnake(part))
	}
	return b.String()
}

func screamingSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// resolveConfigPath accepts either a directory or a file path.
func (c *AppConfig) resolveConfigPath(input string) string {
	if strings.HasSuffix(strings.ToLower(input), ".toml") {
		return input
	}
	if info, err := os.Stat(input); err == nil && !info.IsDir() {
		return input
	}
	return filepath.Join(input, configFileName)
}

// ConfigPath returns the resolved config file path (which may not exist).
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// SetDataDir overrides the data directory, e.g. from the --data-dir flag.
func (c *AppConfig) SetDataDir(dir string) {
	c.Config.DataDir = dir
}

// GetDataDir returns dataDir, or the config file's directory when unset.
func (c *AppConfig) GetDataDir() string {
	if c.Config.DataDir != "" {
		return c.Config.DataDir
	}
	return filepath.Dir(c.configPath)
}

func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.GetDataDir(), databaseFile)
}

// GetBackupPath is where the backup job writes the latest snapshot.
func (c *AppConfig) GetBackupPath() string {
	return filepath.Join(c.GetDataDir(), backupDir, backupFile)
}

// Validate checks the settings required to run the bot.
func (c *AppConfig) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Config.BotToken) == "" {
		errs = append(errs, fmt.Errorf("botToken is required (set %sBOT_TOKEN)", envPrefix))
	}
	if c.Config.AdminChatID == 0 {
		errs = append(errs, fmt.Errorf("adminChatId is required (set %sADMIN_CHAT_ID)", envPrefix))
	}

	intervals := []struct {
		key   string
		value time.Duration
	}{
		{"reports.ipChangeInterval", c.Config.Reports.IPChangeInterval},
		{"reports.ipChangeWindow", c.Config.Reports.IPChangeWindow},
		{"reports.statusInterval", c.Config.Reports.StatusInterval},
		{"reports.backupInterval", c.Config.Reports.BackupInterval},
	}
	for _, iv := range intervals {
		if iv.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", iv.key))
		}
	}

	if c.Config.Port <= 0 || c.Config.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Config.Port))
	}

	return errors.Join(errs...)
}

// ApplyLogConfig configures the global zerolog logger from the loaded settings.
func (c *AppConfig) ApplyLogConfig() {
	setLogLevel(c.Config.LogLevel)

	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	if c.Config.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.Config.LogPath), 0755); err != nil {
			log.Error().Err(err).Str("path", c.Config.LogPath).Msg("Failed to create log directory")
		} else if f, err := os.OpenFile(c.Config.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			log.Error().Err(err).Str("path", c.Config.LogPath).Msg("Failed to open log file")
		} else {
			if c.logFile != nil {
				c.logFile.Close()
			}
			c.logFile = f
			writer = zerolog.MultiLevelWriter(writer, f)
		}
	}

	log.Logger = log.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("logLevel", level).Msg("Unknown log level, using INFO")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// GetDefaultConfigDir returns the OS specific config directory.
func GetDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		// Docker images mount the config volume at /config
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, appName)
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appName)
	}
	return filepath.Join(home, ".config", appName)
}

const defaultConfigTemplate = `# config.toml - keyward configuration
#
# Every setting can also be provided through the environment with the
# KEYWARD__ prefix, e.g. KEYWARD__BOT_TOKEN or KEYWARD__REPORTS_BACKUP_INTERVAL.
# Environment variables take precedence over this file.

# Telegram bot token from @BotFather
botToken = ""

# Chat id of the administrator. Reports and backups are delivered here.
adminChatId = 0

# HTTP API listen address
host = "localhost"
port = 7474

# Log level: TRACE, DEBUG, INFO, WARN, ERROR
# Changes to logLevel are picked up without a restart.
logLevel = "INFO"

# Optional log file. Logs always go to stderr as well.
#logPath = "/var/log/keyward.log"

# Directory for the database and backups (defaults to the config directory)
#dataDir = ""

# Expose Prometheus metrics on /metrics
metricsEnabled = false

[telegram]
# Long polling timeout in seconds
pollTimeout = 60
# Pending input (e.g. a new license form) is dropped after this long
conversationTimeout = "10m"
# Shown by the Support button
supportContact = ""
#paymentText = ""
#guideText = ""

[reports]
ipChangeInterval = "6h"
ipChangeWindow = "24h"
statusInterval = "24h"
backupInterval = "24h"
jobTimeout = "5m"
# Run every job once right after startup
runOnStart = false

[api]
# Requests per second allowed per client IP, and burst size
rateLimit = 5.0
rateBurst = 20

[httpTimeouts]
readTimeout = 60
writeTimeout = 120
idleTimeout = 180
`

// WriteDefaultConfig writes a commented default config to path. An existing
// file is left untouched.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Str("path", path).Msg("Config file already exists, skipping")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
