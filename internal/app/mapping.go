package app

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/scturtle/turtlebot/internal/config"
	"github.com/scturtle/turtlebot/internal/netx"
	"github.com/scturtle/turtlebot/internal/notifier"
	"github.com/scturtle/turtlebot/internal/storage"
	"github.com/scturtle/turtlebot/internal/task/scheduler"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

const (
	defaultTimezone       = "Asia/Shanghai"
	defaultSocialSchedule = "10m"
	defaultFeedsSchedule  = "15m"
	defaultRepoSchedule   = "1h"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.MasterID != 0,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// mapStorageConfig defaults to sqlite at ./turtlebot.db.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := config.StorageConfig{Driver: "sqlite", Path: "./turtlebot.db"}
	if cfg.Storage != nil {
		sc = *cfg.Storage
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(sc.Path) == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: driver}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tz := strings.TrimSpace(cfg.Sched.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	timeout, err := config.ParseDurationField("scheduler.default_timeout", cfg.Sched.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if cfg.Sched.HistorySize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	return scheduler.Config{Timezone: tz, DefaultTimeout: timeout, HistorySize: cfg.Sched.HistorySize}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	timeout, err := config.ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{RatePerSec: cfg.Notifier.RatePerSec, SendTimeout: timeout}, nil
}

// drainWindow bounds how long Stop waits for queued messages.
func drainWindow(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("notifier.drain_window", cfg.Notifier.DrainWindow, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func mapHTTPOptions(cfg *config.Config) (netx.Options, error) {
	timeout, err := config.ParseDurationField("http.timeout", cfg.HTTP.Timeout)
	if err != nil {
		return netx.Options{}, err
	}
	return netx.Options{Timeout: timeout, Proxy: cfg.HTTP.Proxy, UserAgent: cfg.HTTP.UserAgent}, nil
}

func scheduleOr(raw, def string) string {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	return raw
}

// validate rejects configs that would fail at build or apply time. It runs
// before a reloaded config is committed.
func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Telegram.MasterID < 0 {
		return fmt.Errorf("telegram.master_id must be >= 0")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown %q", cfg.Logging.Level)
	}
	if cfg.Logging.Chat.Enabled && !logx.ValidLevel(cfg.Logging.Chat.MinLevel) {
		return fmt.Errorf("logging.chat.min_level: unknown %q", cfg.Logging.Chat.MinLevel)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("notifier.drain_window", cfg.Notifier.DrainWindow); err != nil {
		return err
	}
	if opt, err := mapHTTPOptions(cfg); err != nil {
		return err
	} else if _, err := netx.NewClient(opt); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	if cfg.Social.Enabled {
		if strings.TrimSpace(cfg.Social.UserID) == "" {
			return fmt.Errorf("social.user_id is required when social.enabled")
		}
		if strings.TrimSpace(cfg.Social.SecretFile) == "" {
			return fmt.Errorf("social.secret_file is required when social.enabled")
		}
		if cfg.Social.PageSize < 0 {
			return fmt.Errorf("social.page_size must be >= 0")
		}
	}
	schedules := []struct {
		key, raw string
		enabled  bool
	}{
		{"social.schedule", cfg.Social.Schedule, cfg.Social.Enabled},
		{"feeds.schedule", cfg.Feeds.Schedule, cfg.Feeds.Enabled},
		{"releases.schedule", cfg.Releases.Schedule, cfg.Releases.Enabled},
	}
	for _, s := range schedules {
		if !s.enabled || strings.TrimSpace(s.raw) == "" {
			continue
		}
		if _, err := scheduler.ParseSchedule(s.raw); err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
	}
	return nil
}
