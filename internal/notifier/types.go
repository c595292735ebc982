package notifier

import "time"

// Config controls the sender loop.
type Config struct {
	// RatePerSec caps deliveries per second (burst of the same size).
	RatePerSec  int
	SendTimeout time.Duration
	HistorySize int
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
	Err    string
}

// Counters are cumulative since start.
type Counters struct {
	Sent   uint64
	Failed uint64
}
