// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// Config represents the application configuration
type Config struct {
	Host           string         `toml:"host" mapstructure:"host"`
	Port           int            `toml:"port" mapstructure:"port"`
	LogLevel       string         `toml:"logLevel" mapstructure:"logLevel"`
	LogPath        string         `toml:"logPath" mapstructure:"logPath"`
	DataDir        string         `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled bool           `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	PprofEnabled   bool           `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	BotToken       string         `toml:"botToken" mapstructure:"botToken"`
	AdminChatID    int64          `toml:"adminChatId" mapstructure:"adminChatId"`
	Telegram       TelegramConfig `toml:"telegram" mapstructure:"telegram"`
	Reports        ReportsConfig  `toml:"reports" mapstructure:"reports"`
	API            APIConfig      `toml:"api" mapstructure:"api"`
	HTTPTimeouts   HTTPTimeouts   `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}

// TelegramConfig holds bot behaviour that is not a credential.
type TelegramConfig struct {
	PollTimeout         int           `toml:"pollTimeout" mapstructure:"pollTimeout"` // seconds
	ConversationTimeout time.Duration `toml:"conversationTimeout" mapstructure:"conversationTimeout"`
	SupportContact      string        `toml:"supportContact" mapstructure:"supportContact"`
	PaymentText         string        `toml:"paymentText" mapstructure:"paymentText"`
	GuideText           string        `toml:"guideText" mapstructure:"guideText"`
	Debug               bool          `toml:"debug" mapstructure:"debug"`
}

// ReportsConfig controls the periodic jobs.
type ReportsConfig struct {
	IPChangeInterval time.Duration `toml:"ipChangeInterval" mapstructure:"ipChangeInterval"`
	IPChangeWindow   time.Duration `toml:"ipChangeWindow" mapstructure:"ipChangeWindow"`
	StatusInterval   time.Duration `toml:"statusInterval" mapstructure:"statusInterval"`
	BackupInterval   time.Duration `toml:"backupInterval" mapstructure:"backupInterval"`
	JobTimeout       time.Duration `toml:"jobTimeout" mapstructure:"jobTimeout"`
	RunOnStart       bool          `toml:"runOnStart" mapstructure:"runOnStart"`
}

// APIConfig tunes the HTTP API rate limiter.
type APIConfig struct {
	RateLimit float64 `toml:"rateLimit" mapstructure:"rateLimit"` // requests per second per client
	RateBurst int     `toml:"rateBurst" mapstructure:"rateBurst"`
}
