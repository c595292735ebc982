package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scturtle/turtlebot/internal/config"
	"github.com/scturtle/turtlebot/internal/eventbus"
	"github.com/scturtle/turtlebot/internal/feed"
	"github.com/scturtle/turtlebot/internal/netx"
	"github.com/scturtle/turtlebot/internal/notifier"
	"github.com/scturtle/turtlebot/internal/queue"
	"github.com/scturtle/turtlebot/internal/router"
	rtsup "github.com/scturtle/turtlebot/internal/runtime/supervisor"
	"github.com/scturtle/turtlebot/internal/storage"
	"github.com/scturtle/turtlebot/internal/task/scheduler"
	kit "github.com/scturtle/turtlebot/internal/transport"
	telegram "github.com/scturtle/turtlebot/internal/transport/telegram/adapter"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	q     *queue.Queue

	adapter kit.Adapter
	sched   *scheduler.Service
	notif   *notifier.Service
	disp    *router.Dispatcher
	mons    *monitors

	updates chan kit.Update
	drain   time.Duration
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
}

// WithAdapter replaces the Telegram adapter, e.g. with a fake in tests.
func WithAdapter(ad kit.Adapter) Option {
	return func(o *options) { o.adapter = ad }
}

func NewApp(cfgPath string, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	defer func() {
		if err != nil {
			_ = logSvc.Close()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	q := queue.New()
	logSvc.SetForwarder(queue.ChatForwarder{Queue: q, ChatID: cfg.Telegram.MasterID})

	hopt, err := mapHTTPOptions(cfg)
	if err != nil {
		return nil, err
	}
	hc, err := netx.NewClient(hopt)
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		if ad, err = newTelegram(cfg, log); err != nil {
			return nil, err
		}
	}

	bus := eventbus.New()
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, q, ad, log.With(logx.String("comp", "notifier")), bus)

	mons := newMonitors(log, store, q, sched, hc, cfg)
	if err := mons.apply(context.Background(), cfg); err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		q:       q,
		adapter: ad,
		sched:   sched,
		notif:   notif,
		mons:    mons,
		updates: make(chan kit.Update, 256),
		drain:   drainWindow(cfg),
	}
	a.disp = router.NewDispatcher(q, cfg.Telegram.MasterID, log.With(logx.String("comp", "commands")))
	router.RegisterBuiltins(a.disp, router.Deps{
		Store:    store,
		Prober:   feed.NewFetcher(hc),
		Releases: mons.repoAPI,
		Status:   a.status,
		Location: sched.Location,
	})
	return a, nil
}

// newTelegram builds the bot adapter on its own client: the long poll must
// outlive the shared fetch timeout.
func newTelegram(cfg *config.Config, log logx.Logger) (*telegram.Adapter, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	hc, err := netx.NewClient(netx.Options{Timeout: poll + 10*time.Second, Proxy: cfg.HTTP.Proxy, UserAgent: cfg.HTTP.UserAgent})
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		Client:      hc,
	}, log.With(logx.String("comp", "telegram")))
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.notif.Start(a.sup.Context())
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("commands.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.disp.MenuCommands()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.reload(c, last, cfg)
				last = cfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// reload applies everything that can change live. Token, storage and
// http changes only log that a restart is needed.
func (a *App) reload(ctx context.Context, old, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if r := config.RequiresRestart(sections); len(r) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(r, ",")))
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.logs.SetForwarder(queue.ChatForwarder{Queue: a.q, ChatID: cfg.Telegram.MasterID})
	a.disp.SetMaster(cfg.Telegram.MasterID)

	if sc, err := mapSchedulerConfig(cfg); err == nil {
		a.sched.Apply(sc)
	}
	if nc, err := mapNotifierConfig(cfg); err == nil {
		a.notif.Apply(nc)
	}
	a.drain = drainWindow(cfg)
	if err := a.mons.apply(ctx, cfg); err != nil {
		a.log.Warn("monitor update incomplete", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) status(ctx context.Context) string {
	in := statusInput{
		Sched:    a.sched.Snapshot(),
		Pending:  a.notif.Pending(),
		Counters: a.notif.Counters(),
		Loc:      a.sched.Location(),
		Now:      time.Now(),
	}
	if m := a.mons.socialMonitor(); m != nil {
		if fo, foed, ok := m.Size(); ok {
			in.Social = &[2]int{fo, foed}
		}
	}
	return formatStatus(in)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Unwind dispatch and reload loops first; the notifier keeps its own
	// context so queued replies can still drain.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				max = min(max, time.Until(dl))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, a.sched.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("notifier", a.drain, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Int("undelivered", a.q.Len()))
	_ = a.logs.Close()
	return errors.Join(errs...)
}
