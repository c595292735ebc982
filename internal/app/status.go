package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/scturtle/turtlebot/internal/notifier"
	"github.com/scturtle/turtlebot/internal/task/scheduler"
)

const statusTimeFormat = "01-02 15:04:05"

// statusInput is everything /status renders.
type statusInput struct {
	Sched    scheduler.Snapshot
	Pending  int
	Counters notifier.Counters
	Loc      *time.Location
	Now      time.Time

	// Social is set once a social snapshot has been taken.
	Social *[2]int
}

func formatStatus(in statusInput) string {
	loc := in.Loc
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	fmt.Fprintf(&b, "queue: %d pending, %d sent, %d failed\n", in.Pending, in.Counters.Sent, in.Counters.Failed)
	if in.Social != nil {
		fmt.Fprintf(&b, "following %d, followers %d\n", in.Social[0], in.Social[1])
	}
	if len(in.Sched.Schedules) == 0 {
		b.WriteString("no schedules")
		return b.String()
	}

	last := map[string]scheduler.HistoryItem{}
	for _, h := range in.Sched.History {
		if _, seen := last[h.Name]; !seen && !h.Skipped {
			last[h.Name] = h
		}
	}
	for i, s := range in.Sched.Schedules {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (%s): %d runs, %d failed", s.Name, s.Spec, s.Runs, s.Fails)
		if s.Running {
			b.WriteString(", running")
		}
		if !s.Next.IsZero() {
			fmt.Fprintf(&b, ", next %s", s.Next.In(loc).Format(statusTimeFormat))
		}
		if h, ok := last[s.Name]; ok {
			ago := in.Now.Sub(h.Started).Truncate(time.Second)
			if h.Err != "" {
				fmt.Fprintf(&b, ", last failed %s ago: %s", ago, h.Err)
			} else {
				fmt.Fprintf(&b, ", last ok %s ago in %s", ago, h.Duration.Truncate(time.Millisecond))
			}
		}
	}
	return b.String()
}
