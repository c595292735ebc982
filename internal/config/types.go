package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Schedules accept anything scheduler.ParseSchedule understands.
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Sched    SchedulerConfig `json:"scheduler"`
	Notifier NotifierConfig  `json:"notifier"`
	HTTP     HTTPConfig      `json:"http"`

	Social   SocialConfig   `json:"social"`
	Feeds    FeedsConfig    `json:"feeds"`
	Releases ReleasesConfig `json:"releases"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// MasterID is the single operator chat. Updates from other chats are ignored
	// and every notification is delivered here.
	MasterID int64 `json:"master_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards log records at or above MinLevel to the master chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	storage: { driver: sqlite, path: ./turtlebot.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SchedulerConfig struct {
	// Timezone drives cron triggers and the timestamps rendered by /f.
	// Defaults to Asia/Shanghai.
	Timezone string `json:"timezone,omitempty"`
	// DefaultTimeout bounds a single tick when the monitor sets none.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifierConfig controls the outbound sender loop.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout"`
	DrainWindow string `json:"drain_window,omitempty"`
}

// HTTPConfig is shared by all outbound fetchers.
type HTTPConfig struct {
	Timeout   string `json:"timeout"`
	Proxy     string `json:"proxy,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type SocialConfig struct {
	Enabled    bool   `json:"enabled"`
	UserID     string `json:"user_id"`
	SecretFile string `json:"secret_file"`
	Schedule   string `json:"schedule"`
	PageSize   int    `json:"page_size,omitempty"`
	Notify     *bool  `json:"notify,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
}

// NotifyEnabled defaults to true when omitted.
func (c SocialConfig) NotifyEnabled() bool {
	return c.Notify == nil || *c.Notify
}

type FeedsConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

type ReleasesConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	BaseURL  string `json:"base_url,omitempty"`
}
