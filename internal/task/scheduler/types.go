package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scturtle/turtlebot/internal/eventbus"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

const (
	defaultHistorySize = 50
	defaultTimeout     = 2 * time.Minute
)

type Config struct {
	// Timezone is an IANA name; empty means time.Local.
	Timezone string
	// DefaultTimeout bounds a run registered without its own timeout.
	DefaultTimeout time.Duration
	HistorySize    int
}

// Job is one tick. Its ctx carries the per-run timeout.
type Job func(ctx context.Context) error

// HistoryItem records a finished or skipped run.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Err      string
	Skipped  bool
}

func (h HistoryItem) OK() bool { return h.Err == "" && !h.Skipped }

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
	Runs    uint64
	Fails   uint64
}

type Snapshot struct {
	Timezone  string
	Schedules []ScheduleInfo
	// History is newest first.
	History []HistoryItem
}

type scheduleDef struct {
	name    string
	spec    Spec
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running *atomic.Bool
	runs    *atomic.Uint64
	fails   *atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef
	order  []string

	// base is the parent of every run context; cancelled by Stop.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
	hnext   int
	hfull   bool
}
