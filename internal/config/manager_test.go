package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  master_id: 42
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/turtlebot.db
scheduler:
  timezone: Asia/Shanghai
social:
  enabled: true
  user_id: "777"
  secret_file: ./secret.json
  schedule: 10m
feeds:
  enabled: true
  schedule: "*/15 * * * *"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)

	cfg, err := NewConfigManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.MasterID != 42 {
		t.Fatalf("MasterID = %d, want 42", cfg.Telegram.MasterID)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("Storage = %+v", cfg.Storage)
	}
	if !cfg.Social.NotifyEnabled() {
		t.Fatal("social.notify should default to true")
	}
	if cfg.Feeds.Schedule != "*/15 * * * *" {
		t.Fatalf("Feeds.Schedule = %q", cfg.Feeds.Schedule)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown yaml key", file: "a.yaml", content: "telegram:\n  tokn: x\n"},
		{name: "unknown json key", file: "b.json", content: `{"feeds":{"enabled":true,"every":"1m"}}`},
		{name: "trailing json", file: "c.json", content: `{"feeds":{}} {"feeds":{}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tt.file, tt.content)
			if _, err := NewConfigManager(p).Parse(); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestLoadRunsValidator(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	wantErr := errors.New("nope")
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return wantErr })
	if _, err := m.Load(); !errors.Is(err, wantErr) {
		t.Fatalf("Load err = %v, want %v", err, wantErr)
	}
	if m.Get() != nil {
		t.Fatal("rejected config must not be committed")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// give the watcher a moment to register the directory
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "config.yaml", sampleYAML+"releases:\n  enabled: true\n  schedule: 1h\n")

	select {
	case cfg := <-sub:
		if !cfg.Releases.Enabled {
			t.Fatalf("published config missing releases: %+v", cfg.Releases)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config publish")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Feeds: FeedsConfig{Enabled: true, Schedule: "15m"}}
	b := &Config{Feeds: FeedsConfig{Enabled: true, Schedule: "5m"}, Telegram: TelegramConfig{Token: "new"}}
	sections, _ := SummarizeConfigChange(a, b)
	want := map[string]bool{"feeds": true, "telegram": true}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v", sections)
	}
	for _, s := range sections {
		if !want[s] {
			t.Fatalf("unexpected section %q", s)
		}
	}
	if got := RequiresRestart(sections); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("RequiresRestart = %v", got)
	}
}
