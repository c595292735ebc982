// Package release watches GitHub repositories for new release tags.
package release

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/scturtle/turtlebot/internal/netx"
	"github.com/scturtle/turtlebot/internal/storage"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

const DefaultBaseURL = "https://github.com"

var ErrNoRelease = errors.New("no release found")

type Client struct {
	http *http.Client
	base string
}

func NewClient(c *http.Client, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: c, base: strings.TrimRight(baseURL, "/")}
}

// ValidName reports whether name looks like "owner/repo".
func ValidName(name string) bool {
	owner, repo, ok := strings.Cut(name, "/")
	return ok && owner != "" && repo != "" && !strings.ContainsAny(repo, "/?#") && !strings.ContainsAny(owner, "?#")
}

// LatestRelease scrapes the releases page and returns the first tag linked
// from it.
func (c *Client) LatestRelease(ctx context.Context, name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("invalid repo name %q", name)
	}
	body, _, err := netx.Get(ctx, c.http, c.base+"/"+name+"/releases", nil)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	var tag string
	doc.Find(`a[href*="releases/tag/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		tag = tagFromHref(s.AttrOr("href", ""))
		return tag == ""
	})
	if tag == "" {
		return "", ErrNoRelease
	}
	return tag, nil
}

func tagFromHref(href string) string {
	_, rest, ok := strings.Cut(href, "releases/tag/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, `"/?#`); i >= 0 {
		rest = rest[:i]
	}
	if t, err := url.PathUnescape(rest); err == nil {
		return t
	}
	return rest
}

// Pusher enqueues an outbound message.
type Pusher interface {
	Push(chatID int64, text string) error
}

// Monitor compares each watched repo's latest tag once per Tick.
type Monitor struct {
	client *Client
	store  storage.Store
	out    Pusher
	log    logx.Logger

	mu     sync.Mutex
	chatID int64
}

func NewMonitor(c *Client, st storage.Store, out Pusher, chatID int64, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{client: c, store: st, out: out, log: log, chatID: chatID}
}

func (m *Monitor) SetChat(chatID int64) {
	m.mu.Lock()
	m.chatID = chatID
	m.mu.Unlock()
}

func (m *Monitor) Tick(ctx context.Context) error {
	repos, err := m.store.ListRepos(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	chatID := m.chatID
	m.mu.Unlock()

	for _, r := range repos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := m.log.With(logx.String("repo", r.Name))
		latest, err := m.client.LatestRelease(ctx, r.Name)
		if err != nil {
			log.Warn("release fetch failed", logx.Err(err))
			continue
		}
		if latest == r.Latest {
			continue
		}
		log.Info("new release", logx.String("tag", latest), logx.String("prev", r.Latest))
		if err := m.out.Push(chatID, Format(r.Name, latest)); err != nil {
			log.Warn("enqueue release failed", logx.Err(err))
		}
		if err := m.store.UpdateRepoLatest(ctx, r.ID, latest); err != nil {
			log.Error("update repo failed", logx.Err(err))
		}
	}
	return nil
}

// Format renders "[owner/repo](https://github.com/owner/repo) tag".
func Format(name, tag string) string {
	return fmt.Sprintf("[%s](https://github.com/%s) %s", name, name, tag)
}
