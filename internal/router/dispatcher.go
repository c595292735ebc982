package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "github.com/scturtle/turtlebot/internal/runtime/supervisor"
	kit "github.com/scturtle/turtlebot/internal/transport"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

// UnknownReply answers any unregistered command.
const UnknownReply = "???"

const (
	defaultWorkers = 2
	jobQueueCap    = 64
	defaultTimeout = time.Minute
)

// Pusher enqueues an outbound message.
type Pusher interface {
	Push(chatID int64, text string) error
}

// Command is one registered literal token, e.g. "/sub".
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request is what a handler sees. Text is the full original message so
// handlers parse their own arguments.
type Request struct {
	ChatID int64
	FromID int64
	Text   string
	Args   []string
	ReqID  string
	Log    logx.Logger

	out Pusher
}

// Reply pushes text to the requesting chat.
func (r *Request) Reply(text string) {
	if err := r.out.Push(r.ChatID, text); err != nil {
		r.Log.Warn("enqueue reply failed", logx.Err(err))
	}
}

// Arg returns the i-th argument after the command word, or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

type Dispatcher struct {
	out Pusher
	log logx.Logger

	mu    sync.RWMutex
	cmds  []Command
	index map[string]int

	master atomic.Int64
	jobs   chan func(context.Context)
}

// NewDispatcher accepts only messages from masterID; 0 accepts every chat.
func NewDispatcher(out Pusher, masterID int64, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{out: out, log: log, index: map[string]int{}, jobs: make(chan func(context.Context), jobQueueCap)}
	d.master.Store(masterID)
	return d
}

func (d *Dispatcher) SetMaster(id int64) { d.master.Store(id) }

// Register adds commands; a later registration of a token replaces the earlier one.
func (d *Dispatcher) Register(cmds ...Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range cmds {
		if c.Handle == nil || !strings.HasPrefix(c.Name, "/") {
			continue
		}
		pos := len(d.cmds)
		if i, ok := d.index[c.Name]; ok {
			pos = i
			d.cmds[i] = c
		} else {
			d.cmds = append(d.cmds, c)
		}
		d.index[c.Name] = pos
		for _, a := range c.Aliases {
			d.index[a] = pos
		}
	}
}

// Commands returns the registry in registration order.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Command(nil), d.cmds...)
}

// MenuCommands lists commands for the platform command menu.
func (d *Dispatcher) MenuCommands() []kit.BotCommand {
	cmds := d.Commands()
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, kit.BotCommand{Command: strings.TrimPrefix(c.Name, "/"), Description: c.Description})
	}
	return out
}

func (d *Dispatcher) lookup(word string) (Command, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[word]
	if !ok {
		return Command{}, false
	}
	return d.cmds[i], true
}

// Handle routes one message and runs its handler on the calling goroutine.
func (d *Dispatcher) Handle(ctx context.Context, msg *kit.Message) {
	if run := d.prepare(msg); run != nil {
		run(ctx)
	}
}

// prepare filters and resolves msg. It returns nil when there is nothing to run.
func (d *Dispatcher) prepare(msg *kit.Message) func(context.Context) {
	if msg == nil {
		return nil
	}
	if m := d.master.Load(); m != 0 && msg.ChatID != m {
		d.log.Debug("message from foreign chat dropped", logx.Int64("chat_id", msg.ChatID))
		return nil
	}
	word, args := commandWord(msg.Text)
	if word == "" {
		return nil
	}
	cmd, ok := d.lookup(word)
	if !ok {
		chatID := msg.ChatID
		return func(context.Context) {
			if err := d.out.Push(chatID, UnknownReply); err != nil {
				d.log.Warn("enqueue reply failed", logx.Err(err))
			}
		}
	}

	rid := newReqID()
	req := &Request{
		ChatID: msg.ChatID,
		FromID: msg.FromID,
		Text:   msg.Text,
		Args:   args,
		ReqID:  rid,
		Log: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.String("cmd", cmd.Name),
		),
		out: d.out,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(cmd.Handle, Recover(), LogRequest(), WithTimeout(timeout))
	return func(ctx context.Context) { _ = final(ctx, req) }
}

// Run consumes updates until ctx is done or updates closes. Handlers run on
// a small worker pool so a slow probe does not block other commands.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(d.log))
	for i := 0; i < defaultWorkers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-d.jobs:
					job(c)
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}
	d.log.Info("command dispatcher started", logx.Int("workers", defaultWorkers))
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			run := d.prepare(up.Message)
			if run == nil {
				continue
			}
			select {
			case d.jobs <- run:
			default:
				d.log.Warn("command queue full; dropping message")
				if up.Message != nil {
					_ = d.out.Push(up.Message.ChatID, "busy, try again")
				}
			}
		}
	}
}
