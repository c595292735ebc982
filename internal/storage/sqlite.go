package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "github.com/scturtle/turtlebot/pkg/logx"
)

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// one connection: SQLite serializes writers anyway, and this keeps
	// read-check-then-write sequences free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	var tables int
	if err := s.db.GetContext(ctx, &tables,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	current := 0
	if tables > 0 {
		if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES(?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("migration applied", logx.Int("version", m.version))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- subscriptions ----

func (s *sqliteStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var out []Subscription
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, home, title, feed, latest_title, latest_link FROM rss ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) InsertSubscription(ctx context.Context, sub Subscription) (int64, error) {
	res, err := s.db.NamedExecContext(ctx,
		`INSERT INTO rss(home, title, feed, latest_title, latest_link)
		 VALUES(:home, :title, :feed, :latest_title, :latest_link)`, sub)
	if err != nil {
		return 0, fmt.Errorf("inserting subscription: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, id int64) (int64, error) {
	return s.deleteByID(ctx, "rss", id)
}

func (s *sqliteStore) UpdateSubscriptionLatest(ctx context.Context, id int64, title, link string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rss SET latest_title = ?, latest_link = ? WHERE id = ?`, title, link, id)
	if err != nil {
		return fmt.Errorf("updating subscription %d: %w", id, err)
	}
	return nil
}

// ---- follow log ----

func (s *sqliteStore) AppendEvent(ctx context.Context, name, action string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO follow_log(name, action) VALUES(?, ?)`, name, action)
	if err != nil {
		return fmt.Errorf("appending %s event: %w", action, err)
	}
	return nil
}

func (s *sqliteStore) ReadMetaSnapshot(ctx context.Context) (string, error) {
	var text string
	err := s.db.GetContext(ctx, &text,
		`SELECT name FROM follow_log WHERE action = ? ORDER BY id ASC LIMIT 1`, ActionMeta)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading snapshot: %w", err)
	}
	return text, nil
}

// WriteMetaSnapshot updates the meta row if it exists and inserts it otherwise,
// inside one transaction.
func (s *sqliteStore) WriteMetaSnapshot(ctx context.Context, text string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, `SELECT id FROM follow_log WHERE action = ? ORDER BY id ASC LIMIT 1`, ActionMeta)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO follow_log(name, action) VALUES(?, ?)`, text, ActionMeta)
	case err == nil:
		_, err = tx.ExecContext(ctx, `UPDATE follow_log SET name = ?, time = CURRENT_TIMESTAMP WHERE id = ?`, text, id)
	}
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return tx.Commit()
}

type eventRow struct {
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	Action string `db:"action"`
	Unix   int64  `db:"unix"`
}

func (s *sqliteStore) ListRecentEvents(ctx context.Context, limit int) ([]FollowEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, name, action, CAST(strftime('%s', time) AS INTEGER) AS unix
		 FROM follow_log WHERE action != ?
		 ORDER BY time DESC, id DESC LIMIT ?`, ActionMeta, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	out := make([]FollowEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, FollowEvent{ID: r.ID, Name: r.Name, Action: r.Action, Time: time.Unix(r.Unix, 0).UTC()})
	}
	return out, nil
}

// ---- repos ----

func (s *sqliteStore) ListRepos(ctx context.Context) ([]Repo, error) {
	var out []Repo
	if err := s.db.SelectContext(ctx, &out, `SELECT id, name, latest FROM repo ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) InsertRepo(ctx context.Context, name, latest string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO repo(name, latest) VALUES(?, ?)`, name, latest)
	if err != nil {
		return 0, fmt.Errorf("inserting repo: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) DeleteRepo(ctx context.Context, id int64) (int64, error) {
	return s.deleteByID(ctx, "repo", id)
}

func (s *sqliteStore) UpdateRepoLatest(ctx context.Context, id int64, latest string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE repo SET latest = ? WHERE id = ?`, latest, id); err != nil {
		return fmt.Errorf("updating repo %d: %w", id, err)
	}
	return nil
}

// deleteByID is only called with the fixed table names above.
func (s *sqliteStore) deleteByID(ctx context.Context, table string, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	return res.RowsAffected()
}
