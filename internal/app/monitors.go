package app

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/scturtle/turtlebot/internal/config"
	"github.com/scturtle/turtlebot/internal/feed"
	"github.com/scturtle/turtlebot/internal/queue"
	"github.com/scturtle/turtlebot/internal/release"
	"github.com/scturtle/turtlebot/internal/social"
	"github.com/scturtle/turtlebot/internal/storage"
	"github.com/scturtle/turtlebot/internal/task/scheduler"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

// Schedule names double as task names in logs and /status.
const (
	taskSocial   = "social"
	taskFeeds    = "feeds"
	taskReleases = "releases"
)

// monitors owns the three differs and keeps their schedules in line with
// the current config.
type monitors struct {
	log   logx.Logger
	store storage.Store
	q     *queue.Queue
	sched *scheduler.Service
	http  *http.Client

	feeds    *feed.Monitor
	releases *release.Monitor
	repoAPI  *release.Client

	mu     sync.Mutex
	social *social.Monitor
	// socialKey identifies the credentials the social monitor was built with.
	socialKey string
}

func newMonitors(log logx.Logger, st storage.Store, q *queue.Queue, sched *scheduler.Service, hc *http.Client, cfg *config.Config) *monitors {
	repoAPI := release.NewClient(hc, cfg.Releases.BaseURL)
	return &monitors{
		log:      log,
		store:    st,
		q:        q,
		sched:    sched,
		http:     hc,
		feeds:    feed.NewMonitor(feed.NewFetcher(hc), st, q, cfg.Telegram.MasterID, log.With(logx.String("comp", "feeds"))),
		releases: release.NewMonitor(repoAPI, st, q, cfg.Telegram.MasterID, log.With(logx.String("comp", "releases"))),
		repoAPI:  repoAPI,
	}
}

// apply registers, replaces or removes each schedule. An error building
// the social monitor leaves that schedule removed.
func (m *monitors) apply(ctx context.Context, cfg *config.Config) error {
	chatID := cfg.Telegram.MasterID
	m.feeds.SetChat(chatID)
	m.releases.SetChat(chatID)

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if cfg.Feeds.Enabled {
		keep(m.sched.Add(taskFeeds, scheduleOr(cfg.Feeds.Schedule, defaultFeedsSchedule), 0, m.feeds.Tick))
	} else {
		m.sched.Remove(taskFeeds)
	}

	if cfg.Releases.Enabled {
		keep(m.sched.Add(taskReleases, scheduleOr(cfg.Releases.Schedule, defaultRepoSchedule), 0, m.releases.Tick))
	} else {
		m.sched.Remove(taskReleases)
	}

	if cfg.Social.Enabled {
		mon, err := m.ensureSocial(ctx, cfg)
		if err != nil {
			m.sched.Remove(taskSocial)
			keep(err)
		} else {
			keep(m.sched.Add(taskSocial, scheduleOr(cfg.Social.Schedule, defaultSocialSchedule), 0, mon.Tick))
		}
	} else {
		m.sched.Remove(taskSocial)
	}
	return firstErr
}

func (m *monitors) ensureSocial(ctx context.Context, cfg *config.Config) (*social.Monitor, error) {
	sc := cfg.Social
	mc := social.MonitorConfig{UserID: sc.UserID, ChatID: cfg.Telegram.MasterID, Notify: sc.NotifyEnabled()}
	key := sc.SecretFile + "|" + sc.BaseURL + "|" + strconv.Itoa(sc.PageSize)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.social != nil && m.socialKey == key {
		m.social.Apply(mc)
		return m.social, nil
	}
	header, err := social.LoadSecret(sc.SecretFile)
	if err != nil {
		return nil, err
	}
	client := social.NewClient(m.http, sc.BaseURL, header, sc.PageSize)
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	m.social = social.NewMonitor(lctx, mc, client, m.store, m.q, m.log.With(logx.String("comp", "social")))
	m.socialKey = key
	return m.social, nil
}

func (m *monitors) socialMonitor() *social.Monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.social
}
