package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// ActionMeta marks the follow_log row that carries the serialized snapshot.
// It is never listed as history.
const ActionMeta = "meta"

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": process-local, lost on exit
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is one watched feed plus the pointer to its last-notified entry.
type Subscription struct {
	ID          int64  `db:"id"`
	Home        string `db:"home"` // URL the user submitted
	Title       string `db:"title"`
	Feed        string `db:"feed"` // resolved feed endpoint, may equal Home
	LatestTitle string `db:"latest_title"`
	LatestLink  string `db:"latest_link"`
}

// FollowEvent is one row of follow history.
type FollowEvent struct {
	ID     int64     `db:"id"`
	Name   string    `db:"name"`
	Action string    `db:"action"`
	Time   time.Time `db:"-"`
}

// Repo is a watched GitHub repository ("owner/name").
type Repo struct {
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	Latest string `db:"latest"`
}
