package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the full startup configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1h").
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Server     ServerConfig     `yaml:"server"`
	Moderation ModerationConfig `yaml:"moderation"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Inbound    InboundConfig    `yaml:"inbound"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
}

type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AdminIDs   []int64 `yaml:"admin_ids"`
	WebhookURL string  `yaml:"webhook_url"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type ModerationConfig struct {
	// BanWindow is the grace period after joining; leaving earlier gets a ban.
	BanWindow string `yaml:"ban_window"`
}

type BroadcastConfig struct {
	ChatDelay string `yaml:"chat_delay"`
	ItemDelay string `yaml:"item_delay"`
	QueueSize int    `yaml:"queue_size"`
	// SessionTTL bounds how long an abandoned composing session is kept.
	SessionTTL string `yaml:"session_ttl"`
	// SweepSchedule is a cron spec for the session expiry sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

type InboundConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Console *bool       `yaml:"console"`
	File    LoggingFile `yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // "", "none" or "sqlite"
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}

// Load reads the config file (optional), applies environment overrides, and
// validates required fields. Recognized environment variables match the
// classic deployment surface: BOT_TOKEN, ADMIN_IDS, WEBHOOK_URL, PORT.
func Load(path string) (Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, uerr)
			}
		case errors.Is(err, os.ErrNotExist):
			// config file is optional; env can carry everything
		default:
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return Config{}, errors.New("telegram token is required (config telegram.token or BOT_TOKEN)")
	}
	if _, err := cfg.Durations(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		if ids, err := ParseAdminIDs(v); err == nil {
			cfg.Telegram.AdminIDs = ids
		}
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Telegram.WebhookURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.ListenAddr = ":" + v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":5000"
	}
	if cfg.Moderation.BanWindow == "" {
		cfg.Moderation.BanWindow = "1h"
	}
	if cfg.Broadcast.ChatDelay == "" {
		cfg.Broadcast.ChatDelay = "500ms"
	}
	if cfg.Broadcast.QueueSize <= 0 {
		cfg.Broadcast.QueueSize = 16
	}
	if cfg.Broadcast.SessionTTL == "" {
		cfg.Broadcast.SessionTTL = "6h"
	}
	if cfg.Broadcast.SweepSchedule == "" {
		cfg.Broadcast.SweepSchedule = "*/10 * * * *"
	}
	if cfg.Inbound.Workers <= 0 {
		cfg.Inbound.Workers = 4
	}
	if cfg.Inbound.QueueSize <= 0 {
		cfg.Inbound.QueueSize = 256
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Console == nil {
		on := true
		cfg.Logging.Console = &on
	}
}

// ParseAdminIDs parses a comma-separated operator id list.
func ParseAdminIDs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("admin id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Durations holds the parsed duration fields.
type Durations struct {
	BanWindow   time.Duration
	ChatDelay   time.Duration
	ItemDelay   time.Duration
	SessionTTL  time.Duration
	BusyTimeout time.Duration
}

// Durations parses and validates every duration field in one pass.
func (c Config) Durations() (Durations, error) {
	var d Durations
	var err error
	if d.BanWindow, err = parseDuration("moderation.ban_window", c.Moderation.BanWindow); err != nil {
		return d, err
	}
	if d.ChatDelay, err = parseDuration("broadcast.chat_delay", c.Broadcast.ChatDelay); err != nil {
		return d, err
	}
	if d.ItemDelay, err = parseDuration("broadcast.item_delay", c.Broadcast.ItemDelay); err != nil {
		return d, err
	}
	if d.SessionTTL, err = parseDuration("broadcast.session_ttl", c.Broadcast.SessionTTL); err != nil {
		return d, err
	}
	if d.BusyTimeout, err = parseDuration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return d, err
	}
	return d, nil
}

func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ConsoleEnabled resolves the tri-state console flag (default on).
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}
