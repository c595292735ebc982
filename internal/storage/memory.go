package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store. Ids are assigned in ascending order per
// table and never reused.
type Memory struct {
	mu sync.Mutex

	subs   []Subscription
	events []FollowEvent
	repos  []Repo
	meta   *string

	nextSub, nextEvent, nextRepo int64

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subscription(nil), m.subs...), nil
}

func (m *Memory) InsertSubscription(ctx context.Context, s Subscription) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	s.ID = m.nextSub
	m.subs = append(m.subs, s)
	return s.ID, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].ID == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *Memory) UpdateSubscriptionLatest(ctx context.Context, id int64, title, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].ID == id {
			m.subs[i].LatestTitle = title
			m.subs[i].LatestLink = link
		}
	}
	return nil
}

func (m *Memory) AppendEvent(ctx context.Context, name, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvent++
	m.events = append(m.events, FollowEvent{ID: m.nextEvent, Name: name, Action: action, Time: m.now().UTC()})
	return nil
}

func (m *Memory) ReadMetaSnapshot(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meta == nil {
		return "", ErrNotFound
	}
	return *m.meta, nil
}

func (m *Memory) WriteMetaSnapshot(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = &text
	return nil
}

func (m *Memory) ListRecentEvents(ctx context.Context, limit int) ([]FollowEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	out := make([]FollowEvent, 0, len(m.events))
	for _, ev := range m.events {
		if ev.Action != ActionMeta {
			out = append(out, ev)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListRepos(ctx context.Context) ([]Repo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Repo(nil), m.repos...), nil
}

func (m *Memory) InsertRepo(ctx context.Context, name, latest string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRepo++
	m.repos = append(m.repos, Repo{ID: m.nextRepo, Name: name, Latest: latest})
	return m.nextRepo, nil
}

func (m *Memory) DeleteRepo(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.repos {
		if m.repos[i].ID == id {
			m.repos = append(m.repos[:i], m.repos[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *Memory) UpdateRepoLatest(ctx context.Context, id int64, latest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.repos {
		if m.repos[i].ID == id {
			m.repos[i].Latest = latest
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
