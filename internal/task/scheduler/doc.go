// Package scheduler runs the monitor ticks.
//
// Each named schedule is a cron trigger (robfig/cron) guarded so that a
// run never overlaps itself: a trigger that fires while the previous run
// is still going is skipped, not queued. Every run gets its own timeout,
// recovers panics and lands in a bounded history ring.
package scheduler
