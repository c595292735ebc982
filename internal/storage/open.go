package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/scturtle/turtlebot/pkg/logx"
)

// Store is the persistence API used by the monitors and commands.
//
// Every method is atomic on its own. Lists come back in ascending id order
// except ListRecentEvents, which is newest first.
type Store interface {
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	InsertSubscription(ctx context.Context, s Subscription) (int64, error)
	DeleteSubscription(ctx context.Context, id int64) (int64, error)
	UpdateSubscriptionLatest(ctx context.Context, id int64, title, link string) error

	AppendEvent(ctx context.Context, name, action string) error
	// ReadMetaSnapshot returns ErrNotFound when no snapshot was written yet.
	ReadMetaSnapshot(ctx context.Context) (string, error)
	WriteMetaSnapshot(ctx context.Context, text string) error
	// ListRecentEvents never includes the meta row.
	ListRecentEvents(ctx context.Context, limit int) ([]FollowEvent, error)

	ListRepos(ctx context.Context) ([]Repo, error)
	InsertRepo(ctx context.Context, name, latest string) (int64, error)
	DeleteRepo(ctx context.Context, id int64) (int64, error)
	UpdateRepoLatest(ctx context.Context, id int64, latest string) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
