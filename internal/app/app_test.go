package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scturtle/turtlebot/internal/config"
	"github.com/scturtle/turtlebot/internal/notifier"
	"github.com/scturtle/turtlebot/internal/task/scheduler"
	kit "github.com/scturtle/turtlebot/internal/transport"
)

type fakeAdapter struct {
	mu   sync.Mutex
	out  chan<- kit.Update
	menu []kit.BotCommand
	sent chan string
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{sent: make(chan string, 16)} }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	f.sent <- text
	return nil
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error { return nil }

func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) send(chatID int64, text string) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Message: &kit.Message{ChatID: chatID, FromID: chatID, Text: text}}
}

func (f *fakeAdapter) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-f.sent:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an outbound message")
		return ""
	}
}

const testConfig = `
telegram:
  token: "123:abc"
  master_id: 42
logging:
  level: error
storage:
  driver: memory
notifier:
  rate_per_sec: 50
feeds:
  enabled: true
  schedule: "0 0 1 1 *"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestAppEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Example</title>` +
			`<item><title>Hello</title><link>https://example.com/hello</link></item></channel></rss>`))
	}))
	defer srv.Close()

	ad := newFakeAdapter()
	a, err := NewApp(writeConfig(t, testConfig), WithAdapter(ad))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ad.send(7, "/rss")
	ad.send(42, "/nope")
	if got := ad.next(t); got != "???" {
		t.Fatalf("unknown command reply = %q", got)
	}

	ad.send(42, "/sub "+srv.URL+"/feed.xml")
	if got := ad.next(t); !strings.Contains(got, "Hello") {
		t.Fatalf("subscribe reply = %q", got)
	}

	if !a.sched.RunNow(taskFeeds) {
		t.Fatal("feeds schedule not registered")
	}
	ad.send(42, "/status")
	if got := ad.next(t); !strings.Contains(got, "feeds (0 0 1 1 *): 1 runs, 0 failed") {
		t.Fatalf("status = %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case extra := <-ad.sent:
		t.Fatalf("unexpected message after identical feed tick: %q", extra)
	default:
	}

	ad.mu.Lock()
	menu := len(ad.menu)
	ad.mu.Unlock()
	if menu == 0 {
		t.Fatal("command menu was not pushed")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		return &config.Config{Telegram: config.TelegramConfig{Token: "x", MasterID: 1}}
	}
	if err := validate(base()); err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no token", func(c *config.Config) { c.Telegram.Token = "" }},
		{"bad level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"bad timezone", func(c *config.Config) { c.Sched.Timezone = "Mars/Base" }},
		{"bad storage", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "mongo"} }},
		{"sqlite without path", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} }},
		{"bad proxy", func(c *config.Config) { c.HTTP.Proxy = "::nope" }},
		{"social without user", func(c *config.Config) {
			c.Social = config.SocialConfig{Enabled: true, SecretFile: "s.json"}
		}},
		{"bad feeds schedule", func(c *config.Config) { c.Feeds = config.FeedsConfig{Enabled: true, Schedule: "soon"} }},
		{"negative rate", func(c *config.Config) { c.Notifier.RatePerSec = -1 }},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mutate(cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := formatStatus(statusInput{
		Sched: scheduler.Snapshot{
			Schedules: []scheduler.ScheduleInfo{
				{Name: "social", Spec: "@every 10m0s", Runs: 3, Fails: 1, Next: now.Add(5 * time.Minute)},
				{Name: "feeds", Spec: "*/15 * * * *"},
			},
			History: []scheduler.HistoryItem{
				{Name: "social", Started: now.Add(-90 * time.Second), Err: "graph: unauthorized"},
				{Name: "social", Started: now.Add(-11 * time.Minute)},
			},
		},
		Pending:  2,
		Counters: notifier.Counters{Sent: 10, Failed: 1},
		Loc:      time.UTC,
		Now:      now,
		Social:   &[2]int{100, 200},
	})
	want := strings.Join([]string{
		"queue: 2 pending, 10 sent, 1 failed",
		"following 100, followers 200",
		"social (@every 10m0s): 3 runs, 1 failed, next 05-01 12:05:00, last failed 1m30s ago: graph: unauthorized",
		"feeds (*/15 * * * *): 0 runs, 0 failed",
	}, "\n")
	if got != want {
		t.Fatalf("status:\n%s\nwant:\n%s", got, want)
	}
}
