package config

import (
	"reflect"
	"strings"

	logx "github.com/scturtle/turtlebot/pkg/logx"
)

// SummarizeConfigChange returns the names of changed top-level sections and
// safe structured attrs for logging. Secrets (bot token, secret file
// contents) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.MasterID != newCfg.Telegram.MasterID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int64("telegram.master_id", newCfg.Telegram.MasterID),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	if oldCfg.Sched != newCfg.Sched {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Sched.Timezone))
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.proxy_set", strings.TrimSpace(newCfg.HTTP.Proxy) != ""))
	}

	if !reflect.DeepEqual(oldCfg.Social, newCfg.Social) {
		changed = append(changed, "social")
		attrs = append(attrs,
			logx.Bool("social.enabled", newCfg.Social.Enabled),
			logx.String("social.schedule", newCfg.Social.Schedule),
		)
	}

	if oldCfg.Feeds != newCfg.Feeds {
		changed = append(changed, "feeds")
		attrs = append(attrs,
			logx.Bool("feeds.enabled", newCfg.Feeds.Enabled),
			logx.String("feeds.schedule", newCfg.Feeds.Schedule),
		)
	}

	if oldCfg.Releases != newCfg.Releases {
		changed = append(changed, "releases")
		attrs = append(attrs,
			logx.Bool("releases.enabled", newCfg.Releases.Enabled),
			logx.String("releases.schedule", newCfg.Releases.Schedule),
		)
	}

	return changed, attrs
}

// RequiresRestart reports sections that cannot be applied live.
func RequiresRestart(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "telegram", "storage", "http":
			out = append(out, s)
		}
	}
	return out
}
