package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/scturtle/turtlebot/internal/eventbus"
	"github.com/scturtle/turtlebot/internal/queue"
	rtsup "github.com/scturtle/turtlebot/internal/runtime/supervisor"
	kit "github.com/scturtle/turtlebot/internal/transport"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

const (
	defaultRate        = 1
	defaultSendTimeout = 10 * time.Second
	defaultHistory     = 100
)

type Service struct {
	q      *queue.Queue
	sender kit.Sender
	bus    eventbus.Bus
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sup     *rtsup.Supervisor

	sent   atomic.Uint64
	failed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, q *queue.Queue, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{q: q, sender: sender, bus: bus, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps pacing and timeouts; it is safe while running.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistory
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start launches the sender loop. The loop outlives ctx only as long as Stop
// lets it drain.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
	s.sup.GoRestart("sender", s.loop, 250*time.Millisecond, 5*time.Second)
}

func (s *Service) loop(ctx context.Context) error {
	for {
		m, err := s.q.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		s.deliver(ctx, m)
	}
}

func (s *Service) deliver(ctx context.Context, m queue.Message) {
	s.mu.Lock()
	lim := s.limiter
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		s.failed.Add(1)
		s.log.Debug("send abandoned", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		s.appendHistory(HistoryItem{At: time.Now(), ChatID: m.ChatID, Text: m.Text, Err: err.Error()})
		return
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	err := s.sender.SendText(cctx, kit.ChatTarget{ChatID: m.ChatID}, m.Text, sendOptions(m))
	cancel()

	item := HistoryItem{At: time.Now(), ChatID: m.ChatID, Text: m.Text}
	ev := eventbus.SendEvent{ChatID: m.ChatID, Bytes: len(m.Text)}
	if err != nil {
		s.failed.Add(1)
		item.Err = err.Error()
		ev.Error = err.Error()
		// no chat sink here: forwarding a send failure would loop
		s.log.Warn("send failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		s.publish(eventbus.TypeSendFailed, ev)
	} else {
		s.sent.Add(1)
		s.publish(eventbus.TypeSent, ev)
	}
	s.appendHistory(item)
}

func sendOptions(m queue.Message) *kit.SendOptions {
	if m.Plain {
		return &kit.SendOptions{DisablePreview: true}
	}
	return kit.DefaultSendOptions()
}

func (s *Service) publish(typ string, ev eventbus.SendEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

// Stop closes the queue and waits for it to drain or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	s.q.Close()
	if sup == nil {
		return
	}
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier drain incomplete", logx.Int("dropped", s.q.Len()), logx.Err(err))
		return
	}
	s.log.Debug("notifier drained")
}

func (s *Service) Counters() Counters {
	return Counters{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

// Pending is the number of queued, undelivered messages.
func (s *Service) Pending() int { return s.q.Len() }

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}
