package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scturtle/turtlebot/internal/eventbus"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	size := cfg.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	s := &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional accepts both 5-field and 6-field cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:    map[string]*scheduleDef{},
		history: make([]HistoryItem, size),
	}
	s.loc = s.loadLocation()
	return s
}

// Location is the zone cron triggers are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply takes a new config. A timezone change re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg.Timezone = cfg.Timezone
	s.cfg.DefaultTimeout = cfg.DefaultTimeout
	if strings.TrimSpace(cfg.Timezone) == oldTZ {
		return
	}
	s.loc = s.loadLocation()
	if s.c != nil {
		s.restartLocked()
	}
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins triggering. Schedules added before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, name := range s.order {
		s.registerLocked(s.defs[name])
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.order)))
}

// Stop halts triggering, cancels running ticks and waits for them until
// ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	c.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; ticks still running")
		return ctx.Err()
	}
}

// Add registers or replaces the schedule called name. timeout <= 0 uses
// the default.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if spec.Kind == SpecCron {
		if _, err := s.parser.Parse(spec.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := &scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		running: &atomic.Bool{},
		runs:    &atomic.Uint64{},
		fails:   &atomic.Uint64{},
	}
	if old, ok := s.defs[name]; ok {
		if s.c != nil && old.entryID != 0 {
			s.c.Remove(old.entryID)
		}
		// keep the gate so a replacement cannot overlap a run still in flight
		d.running, d.runs, d.fails = old.running, old.runs, old.fails
	} else {
		s.order = append(s.order, name)
	}
	s.defs[name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec.String()))
	return nil
}

// Remove unregisters name. A run in flight is left to finish.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.log.Debug("schedule removed", logx.String("name", name))
	return true
}

// RunNow runs name on the calling goroutine through the same overlap gate
// as a trigger. It reports false if name is unknown.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.fire(d)
	return true
}

func (s *Service) registerLocked(d *scheduleDef) {
	job := cron.FuncJob(func() { s.fire(d) })
	if d.spec.Kind == SpecInterval {
		sched, jitter := intervalSchedule(d.spec.Every, time.Now().In(s.loc))
		d.entryID = s.c.Schedule(sched, job)
		s.log.Debug("interval scheduled", logx.String("name", d.name), logx.Duration("first_in", jitter))
		return
	}
	sched, err := s.parser.Parse(d.spec.Cron)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec.Cron), logx.Err(err))
		return
	}
	d.entryID = s.c.Schedule(sched, job)
}

func (s *Service) restartLocked() {
	s.c.Stop()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, name := range s.order {
		s.registerLocked(s.defs[name])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.order)))
}

// fire runs d unless a previous run is still in flight.
func (s *Service) fire(d *scheduleDef) {
	s.mu.Lock()
	base := s.base
	if base == nil {
		base = context.Background()
	}
	if base.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	timeout := d.timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.mu.Unlock()
	defer s.wg.Done()

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	start := time.Now()
	if !d.running.CompareAndSwap(false, true) {
		s.log.Debug("tick skipped; previous run still in flight", logx.String("task", d.name))
		s.record(HistoryItem{Name: d.name, Started: start, Skipped: true})
		s.publish(eventbus.TypeTickSkip, eventbus.TickEvent{Task: d.name})
		return
	}
	defer d.running.Store(false)

	ctx, cancel := context.WithTimeout(base, timeout)
	err := runGuarded(ctx, d.job)
	cancel()
	dur := time.Since(start)
	d.runs.Add(1)

	item := HistoryItem{Name: d.name, Started: start, Duration: dur}
	if err != nil {
		d.fails.Add(1)
		item.Err = err.Error()
		s.log.Warn("tick failed", logx.String("task", d.name), logx.Duration("dur", dur), logx.Err(err))
		s.publish(eventbus.TypeTickFailed, eventbus.TickEvent{Task: d.name, Duration: dur, Error: item.Err})
	} else {
		s.log.Debug("tick done", logx.String("task", d.name), logx.Duration("dur", dur))
		s.publish(eventbus.TypeTickDone, eventbus.TickEvent{Task: d.name, Duration: dur})
	}
	s.record(item)
}

func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

func (s *Service) publish(typ string, data eventbus.TickEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (s *Service) record(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history[s.hnext] = it
	s.hnext = (s.hnext + 1) % len(s.history)
	if s.hnext == 0 {
		s.hfull = true
	}
}

// Snapshot reports schedules in registration order and the history ring.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Timezone: s.loc.String()}
	for _, name := range s.order {
		d := s.defs[name]
		info := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec.String(),
			Timeout: d.timeout,
			Running: d.running.Load(),
			Runs:    d.runs.Load(),
			Fails:   d.fails.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	n := s.hnext
	if s.hfull {
		n = len(s.history)
	}
	snap.History = make([]HistoryItem, 0, n)
	for i := 1; i <= n; i++ {
		snap.History = append(snap.History, s.history[(s.hnext-i+len(s.history))%len(s.history)])
	}
	s.hmu.Unlock()
	return snap
}
