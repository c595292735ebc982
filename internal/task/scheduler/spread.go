package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule fires once at first, then follows base.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalSchedule runs the first tick within min(every, 30s) of now,
// at a random offset, so monitors registered together do not fire together.
// The first tick lands on a whole second because cron.Every drops the
// sub-second part of every later run.
func intervalSchedule(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	spread := min(every, maxStartupSpread)
	jitter := time.Duration(rand.Int64N(int64(spread/time.Second)+1)) * time.Second
	first := now.Add(jitter).Truncate(time.Second)
	if first.Before(now) {
		first = first.Add(time.Second)
	}
	return &spreadSchedule{base: cron.Every(every), first: first}, jitter
}
