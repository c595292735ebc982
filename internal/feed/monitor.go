package feed

import (
	"context"
	"strings"
	"sync"

	"github.com/scturtle/turtlebot/internal/storage"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

// Pusher enqueues an outbound message.
type Pusher interface {
	Push(chatID int64, text string) error
}

// NewEntries returns the entries published after (title, link), newest
// first. An unknown pointer yields only the newest entry.
func NewEntries(entries []Entry, title, link string) []Entry {
	for i, e := range entries {
		if e.Title == title && e.Link == link {
			return entries[:i]
		}
	}
	return entries[:min(1, len(entries))]
}

// Monitor checks every subscription once per Tick.
type Monitor struct {
	fetch *Fetcher
	store storage.Store
	out   Pusher
	log   logx.Logger

	mu     sync.Mutex
	chatID int64
}

func NewMonitor(f *Fetcher, st storage.Store, out Pusher, chatID int64, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{fetch: f, store: st, out: out, log: log, chatID: chatID}
}

func (m *Monitor) SetChat(chatID int64) {
	m.mu.Lock()
	m.chatID = chatID
	m.mu.Unlock()
}

// Tick walks the subscriptions in store order. A failing subscription is
// logged and skipped; only a store listing failure is returned.
func (m *Monitor) Tick(ctx context.Context) error {
	subs, err := m.store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	chatID := m.chatID
	m.mu.Unlock()

	for _, sub := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.check(ctx, sub, chatID)
	}
	return nil
}

func (m *Monitor) check(ctx context.Context, sub storage.Subscription, chatID int64) {
	log := m.log.With(logx.Int64("sub", sub.ID), logx.String("feed", sub.Feed))
	log.Debug("fetch feed")

	doc, err := m.fetch.Fetch(ctx, sub.Feed)
	if err != nil {
		log.Warn("feed fetch failed", logx.Err(err))
		return
	}
	fresh := NewEntries(doc.Entries, sub.LatestTitle, sub.LatestLink)
	if len(fresh) == 0 {
		return
	}

	newest := fresh[0]
	if err := m.store.UpdateSubscriptionLatest(ctx, sub.ID, newest.Title, newest.Link); err != nil {
		log.Error("update latest entry failed", logx.Err(err))
	}

	lines := make([]string, 0, len(fresh))
	for i := len(fresh) - 1; i >= 0; i-- {
		log.Info("new post", logx.String("title", fresh[i].Title), logx.String("link", fresh[i].Link))
		lines = append(lines, FormatEntry(fresh[i]))
	}
	if err := m.out.Push(chatID, strings.Join(lines, "\n")); err != nil {
		log.Warn("enqueue feed entries failed", logx.Err(err))
	}
}
