// Package config loads service settings from the environment, with an
// optional .env file, and the keyword rule tables from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"civic-voice-go/internal/notify"
	"civic-voice-go/internal/rules"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	DBPath      string

	RulesPath  string
	RulesWatch bool
	Rules      rules.Rules

	// LongCallFromEnv is set when LONG_CALL_SECONDS overrides the rules file.
	LongCallFromEnv bool

	TelegramToken   string
	TelegramChatID  string
	TelegramAPIURL  string
	TelegramTimeout time.Duration

	NotifyMaxAttempts int
	NotifyBackoffBase time.Duration
	NotifyBackoffCap  time.Duration
	NotifyTimeout     time.Duration
	NotifyWorkers     int
	NotifyQueueSize   int
	NotifySync        bool

	AnalyticsBucket time.Duration
}

const (
	defaultPort              = "8080"
	defaultTelegramAPI       = "https://api.telegram.org"
	defaultNotifyMaxAttempts = 5
	defaultBackoffBaseMs     = 500
	defaultBackoffCapMs      = 30000
	defaultNotifyTimeoutSec  = 120
	defaultNotifyWorkers     = 4
	defaultNotifyQueueSize   = 100
	defaultWriteTimeout      = 60 * time.Second
	responseSlack            = 15 * time.Second
)

// Load reads .env (if present) and the environment, then the rules file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error
	intVar := func(key string, def int) int {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return n
	}
	boolVar := func(key string) bool {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return false
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return b
	}

	cfg := Config{
		Port:              strings.TrimPrefix(envOr("PORT", defaultPort), ":"),
		Environment:       os.Getenv("ENVIRONMENT"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		DBPath:            os.Getenv("DB_PATH"),
		RulesPath:         os.Getenv("RULES_PATH"),
		RulesWatch:        boolVar("RULES_WATCH"),
		TelegramToken:     strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramChatID:    strings.TrimSpace(os.Getenv("TELEGRAM_CHANNEL_ID")),
		TelegramAPIURL:    envOr("TELEGRAM_API_URL", defaultTelegramAPI),
		TelegramTimeout:   10 * time.Second,
		NotifyMaxAttempts: intVar("NOTIFY_MAX_ATTEMPTS", defaultNotifyMaxAttempts),
		NotifyBackoffBase: time.Duration(intVar("NOTIFY_BACKOFF_BASE_MS", defaultBackoffBaseMs)) * time.Millisecond,
		NotifyBackoffCap:  time.Duration(intVar("NOTIFY_BACKOFF_CAP_MS", defaultBackoffCapMs)) * time.Millisecond,
		NotifyTimeout:     time.Duration(intVar("NOTIFY_TIMEOUT_SEC", defaultNotifyTimeoutSec)) * time.Second,
		NotifyWorkers:     intVar("NOTIFY_WORKERS", defaultNotifyWorkers),
		NotifyQueueSize:   intVar("NOTIFY_QUEUE_SIZE", defaultNotifyQueueSize),
		NotifySync:        boolVar("NOTIFY_SYNC"),
		AnalyticsBucket:   time.Hour,
	}
	if v := strings.TrimSpace(os.Getenv("ANALYTICS_BUCKET")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ANALYTICS_BUCKET: %w", err))
		} else {
			cfg.AnalyticsBucket = d
		}
	}

	cfg.Rules = rules.Default()
	if cfg.RulesPath != "" {
		r, err := rules.Load(cfg.RulesPath)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Rules = r
		}
	}
	if v := strings.TrimSpace(os.Getenv("LONG_CALL_SECONDS")); v != "" {
		cfg.Rules.Priorities.LongCallSeconds = intVar("LONG_CALL_SECONDS", cfg.Rules.Priorities.LongCallSeconds)
		cfg.LongCallFromEnv = true
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and credential formats.
func (c Config) Validate() error {
	var errs []error
	if c.NotifyMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be >= 1, got %d", c.NotifyMaxAttempts))
	}
	if c.NotifyBackoffBase <= 0 {
		errs = append(errs, errors.New("NOTIFY_BACKOFF_BASE_MS must be > 0"))
	}
	if c.NotifyBackoffCap < c.NotifyBackoffBase {
		errs = append(errs, errors.New("NOTIFY_BACKOFF_CAP_MS must be >= NOTIFY_BACKOFF_BASE_MS"))
	}
	if c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("NOTIFY_TIMEOUT_SEC must be > 0"))
	}
	if c.NotifyWorkers < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_WORKERS must be >= 1, got %d", c.NotifyWorkers))
	}
	if c.NotifyQueueSize < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_QUEUE_SIZE must be >= 1, got %d", c.NotifyQueueSize))
	}
	if c.AnalyticsBucket <= 0 {
		errs = append(errs, errors.New("ANALYTICS_BUCKET must be positive"))
	}
	if c.TelegramToken != "" && !notify.ValidToken(c.TelegramToken) {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN has an invalid format"))
	}
	if c.TelegramChatID != "" && !notify.ValidChatID(c.TelegramChatID) {
		errs = append(errs, errors.New("TELEGRAM_CHANNEL_ID has an invalid format"))
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHANNEL_ID must be set together"))
	}
	if err := c.Rules.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rules: %w", err))
	}
	return errors.Join(errs...)
}

// TelegramEnabled reports whether real notifications can be sent.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// WriteTimeout is the HTTP server write deadline. With NOTIFY_SYNC the
// webhook response waits for delivery, so it must outlast NOTIFY_TIMEOUT_SEC.
func (c Config) WriteTimeout() time.Duration {
	if c.NotifySync && c.NotifyTimeout+responseSlack > defaultWriteTimeout {
		return c.NotifyTimeout + responseSlack
	}
	return defaultWriteTimeout
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
