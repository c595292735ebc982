package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/scturtle/turtlebot/internal/storage"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

// Pusher enqueues an outbound message.
type Pusher interface {
	Push(chatID int64, text string) error
}

type MonitorConfig struct {
	UserID string
	ChatID int64
	Notify bool
}

// Monitor owns the in-memory snapshot and runs one diff per Tick.
type Monitor struct {
	fetch Fetcher
	store storage.Store
	out   Pusher
	log   logx.Logger

	mu   sync.Mutex
	cfg  MonitorConfig
	snap *Snapshot
}

// NewMonitor restores the last snapshot from the store. A missing or corrupt
// snapshot makes the next tick the baseline.
func NewMonitor(ctx context.Context, cfg MonitorConfig, f Fetcher, st storage.Store, out Pusher, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Monitor{fetch: f, store: st, out: out, log: log, cfg: cfg}

	text, err := st.ReadMetaSnapshot(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		log.Warn("snapshot load failed", logx.Err(err))
	default:
		if snap, err := UnmarshalSnapshot(text); err != nil {
			log.Warn("snapshot corrupt; next tick is the baseline", logx.Err(err))
		} else {
			m.snap = snap
		}
	}
	log.Info("loaded follow snapshot", logx.Bool("found", m.snap != nil))
	return m
}

func (m *Monitor) Apply(cfg MonitorConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Tick fetches both relations concurrently, records the differences and
// replaces the snapshot. A failed fetch changes nothing.
func (m *Monitor) Tick(ctx context.Context) error {
	m.mu.Lock()
	cfg := m.cfg
	old := m.snap
	m.mu.Unlock()

	var following, followers map[string]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		following, err = m.fetch.Fetch(gctx, cfg.UserID, Following)
		return err
	})
	g.Go(func() (err error) {
		followers, err = m.fetch.Fetch(gctx, cfg.UserID, Followers)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	events := Diff(old, following, followers)
	for _, ev := range events {
		m.log.Info("follow event", logx.String("action", ev.Action), logx.String("name", ev.Name))
		if err := m.store.AppendEvent(ctx, ev.Name, ev.Action); err != nil {
			m.log.Error("append follow event failed", logx.String("name", ev.Name), logx.Err(err))
		}
	}

	next := NewSnapshot(following, followers)
	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()

	text, err := next.Marshal()
	if err == nil {
		err = m.store.WriteMetaSnapshot(ctx, text)
	}
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	m.log.Debug("follow snapshot saved",
		logx.Int("following", len(following)),
		logx.Int("followers", len(followers)),
		logx.Int("events", len(events)))

	if cfg.Notify && len(events) > 0 && m.out != nil {
		if err := m.out.Push(cfg.ChatID, FormatEvents(events)); err != nil {
			m.log.Warn("enqueue follow events failed", logx.Err(err))
		}
	}
	return nil
}

// FormatEvents renders one "action [name](profile)" line per event.
func FormatEvents(events []Event) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("%s [%s](https://twitter.com/%s)", ev.Action, ev.Name, ev.Name))
	}
	return strings.Join(lines, "\n")
}

// Size reports the snapshot membership counts, or ok=false before the baseline.
func (m *Monitor) Size() (following, followers int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return 0, 0, false
	}
	return len(m.snap.Following), len(m.snap.Followers), true
}
