package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/scturtle/turtlebot/internal/feed"
	"github.com/scturtle/turtlebot/internal/storage"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

const (
	noResults = "no results"

	historyDefault = 6
	historyMax     = 30
)

// Prober resolves a URL to a feed.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (*feed.Probed, error)
}

// ReleaseSource resolves a repository's latest release tag.
type ReleaseSource interface {
	LatestRelease(ctx context.Context, name string) (string, error)
}

// StatusFunc renders the /status reply.
type StatusFunc func(ctx context.Context) string

// Deps are the collaborators of the built-in commands. Nil Releases or
// Status leaves those commands unregistered.
type Deps struct {
	Store    storage.Store
	Prober   Prober
	Releases ReleaseSource
	Status   StatusFunc
	// Location renders /f timestamps; nil means UTC.
	Location func() *time.Location
}

// RegisterBuiltins installs every command the bot answers to.
func RegisterBuiltins(d *Dispatcher, deps Deps) {
	if deps.Location == nil {
		deps.Location = func() *time.Location { return time.UTC }
	}
	d.Register(
		Command{Name: "/rss", Aliases: []string{"/list"}, Usage: "/rss", Description: "list feed subscriptions", Handle: deps.listFeeds},
		Command{Name: "/sub", Usage: "/sub <url>", Description: "subscribe to a feed or a page that links one", Timeout: 30 * time.Second, Handle: deps.subscribe},
		Command{Name: "/unsub", Usage: "/unsub <id>", Description: "remove a feed subscription", Handle: deps.unsubscribe},
		Command{Name: "/f", Usage: "/f [n]", Description: "recent follow events (default 6, max 30)", Handle: deps.followHistory},
	)
	if deps.Releases != nil {
		d.Register(
			Command{Name: "/repo", Usage: "/repo", Description: "list watched repositories", Handle: deps.listRepos},
			Command{Name: "/rsub", Usage: "/rsub <owner/name>", Description: "watch a repository's releases", Timeout: 30 * time.Second, Handle: deps.subscribeRepo},
			Command{Name: "/runsub", Usage: "/runsub <id>", Description: "stop watching a repository", Handle: deps.unsubscribeRepo},
		)
	}
	if deps.Status != nil {
		d.Register(Command{Name: "/status", Usage: "/status", Description: "scheduler and queue status", Handle: func(ctx context.Context, req *Request) error {
			req.Reply(deps.Status(ctx))
			return nil
		}})
	}
	d.Register(Command{Name: "/help", Usage: "/help", Description: "show this help", Handle: func(ctx context.Context, req *Request) error {
		req.Reply(helpText(d.Commands()))
		return nil
	}})
}

func helpText(cmds []Command) string {
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = c.Name
		}
		if len(c.Aliases) > 0 {
			usage += " (" + strings.Join(c.Aliases, ", ") + ")"
		}
		lines = append(lines, usage+" - "+c.Description)
	}
	return strings.Join(lines, "\n")
}

// ---- feeds ----

func (deps Deps) listFeeds(ctx context.Context, req *Request) error {
	subs, err := deps.Store.ListSubscriptions(ctx)
	if err != nil {
		req.Reply(noResults)
		return err
	}
	lines := make([]string, 0, len(subs))
	for _, s := range subs {
		lines = append(lines, fmt.Sprintf("%d [%s](%s)", s.ID, s.Title, s.Home))
	}
	req.Reply(joinOr(lines, noResults))
	return nil
}

func (deps Deps) subscribe(ctx context.Context, req *Request) error {
	rawURL := req.Arg(0)
	if rawURL == "" {
		req.Reply("need url")
		return nil
	}
	p, err := deps.Prober.Probe(ctx, rawURL)
	if err != nil {
		var pe *feed.ProbeError
		if errors.As(err, &pe) {
			req.Reply(pe.Reply())
		} else {
			req.Reply("cannot access " + rawURL)
		}
		req.Log.Info("probe failed", logx.Err(err))
		return nil
	}

	newest, hasNewest := p.Newest()
	sub := storage.Subscription{
		Home:        rawURL,
		Title:       p.Title(),
		Feed:        p.FeedURL,
		LatestTitle: newest.Title,
		LatestLink:  newest.Link,
	}
	if _, err := deps.Store.InsertSubscription(ctx, sub); err != nil {
		req.Reply("error in db")
		return err
	}
	reply := fmt.Sprintf("subscribed %q", sub.Title)
	if hasNewest {
		reply += fmt.Sprintf(", latest is %q", feed.DisplayTitle(newest.Title))
	}
	req.Reply(reply)
	return nil
}

func (deps Deps) unsubscribe(ctx context.Context, req *Request) error {
	return deleteByID(ctx, req, deps.Store.DeleteSubscription)
}

// deleteByID implements the shared /unsub and /runsub replies.
func deleteByID(ctx context.Context, req *Request, del func(context.Context, int64) (int64, error)) error {
	id, err := strconv.ParseInt(req.Arg(0), 10, 64)
	if err != nil {
		req.Reply("need id to del")
		return nil
	}
	n, err := del(ctx, id)
	switch {
	case err != nil:
		req.Reply("error")
		return err
	case n > 0:
		req.Reply("done")
	default:
		req.Reply("not found")
	}
	return nil
}

// ---- follow history ----

// historyLimit parses the optional count: missing or non-numeric gives the
// default, numbers are clamped to [1, historyMax].
func historyLimit(arg string) int {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return historyDefault
	}
	return max(1, min(n, historyMax))
}

func (deps Deps) followHistory(ctx context.Context, req *Request) error {
	evs, err := deps.Store.ListRecentEvents(ctx, historyLimit(req.Arg(0)))
	if err != nil {
		req.Reply(noResults)
		return err
	}
	loc := deps.Location()
	lines := make([]string, 0, len(evs))
	for _, ev := range evs {
		lines = append(lines, fmt.Sprintf("%s %s [%s](twitter.com/%s)",
			ev.Time.In(loc).Format("01-02 15:04"), ev.Action, ev.Name, ev.Name))
	}
	req.Reply(joinOr(lines, noResults))
	return nil
}

// ---- repos ----

func (deps Deps) listRepos(ctx context.Context, req *Request) error {
	repos, err := deps.Store.ListRepos(ctx)
	if err != nil {
		req.Reply(noResults)
		return err
	}
	lines := make([]string, 0, len(repos))
	for _, r := range repos {
		lines = append(lines, fmt.Sprintf("%d [%s](https://github.com/%s) %s", r.ID, r.Name, r.Name, r.Latest))
	}
	req.Reply(joinOr(lines, noResults))
	return nil
}

func (deps Deps) subscribeRepo(ctx context.Context, req *Request) error {
	name := req.Arg(0)
	if name == "" {
		req.Reply("need repo name")
		return nil
	}
	latest, err := deps.Releases.LatestRelease(ctx, name)
	if err != nil {
		req.Reply(err.Error())
		return nil
	}
	if _, err := deps.Store.InsertRepo(ctx, name, latest); err != nil {
		req.Reply(err.Error())
		return err
	}
	req.Reply("OK, latest is " + latest)
	return nil
}

func (deps Deps) unsubscribeRepo(ctx context.Context, req *Request) error {
	return deleteByID(ctx, req, deps.Store.DeleteRepo)
}

func joinOr(lines []string, empty string) string {
	if len(lines) == 0 {
		return empty
	}
	return strings.Join(lines, "\n")
}
