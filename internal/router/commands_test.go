package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scturtle/turtlebot/internal/feed"
	"github.com/scturtle/turtlebot/internal/storage"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

func nilLogger() logx.Logger { return logx.Nop() }

const helloRSS = `<?xml version="1.0"?><rss version="2.0"><channel><title>Example</title>` +
	`<link>https://example.com/</link><item><title>Hello</title><link>https://example.com/hello</link></item></channel></rss>`

type fakeReleases struct {
	tags map[string]string
}

func (f fakeReleases) LatestRelease(ctx context.Context, name string) (string, error) {
	if tag, ok := f.tags[name]; ok {
		return tag, nil
	}
	return "", errors.New("no release found")
}

type failingStore struct {
	storage.Store
}

func (failingStore) InsertSubscription(context.Context, storage.Subscription) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingStore) DeleteSubscription(context.Context, int64) (int64, error) {
	return 0, errors.New("disk full")
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(helloRSS))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><link rel="alternate" type="application/rss+xml" href="/feed.xml"></head></html>`))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>nothing here</body></html>`))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	t     *testing.T
	d     *Dispatcher
	out   *recorder
	store storage.Store
	srv   *httptest.Server
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	srv := feedServer(t)
	st := storage.NewMemory()
	out := newRecorder()
	d := NewDispatcher(out, 0, nilLogger())
	deps := Deps{
		Store:    st,
		Prober:   feed.NewFetcher(srv.Client()),
		Releases: fakeReleases{tags: map[string]string{"golang/go": "go1.24.0"}},
		Status:   func(context.Context) string { return "all good" },
		Location: func() *time.Location { return time.UTC },
	}
	if mutate != nil {
		mutate(&deps)
	}
	RegisterBuiltins(d, deps)
	return &harness{t: t, d: d, out: out, store: deps.Store, srv: srv}
}

func (h *harness) send(text string) string {
	h.t.Helper()
	h.d.Handle(context.Background(), msg(1, text))
	return h.out.last(h.t)
}

func TestSubscribeHelloEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	reply := h.send("/sub " + h.srv.URL + "/feed.xml")
	require.Contains(t, reply, "Hello")
	require.Contains(t, reply, `subscribed "Example"`)

	subs, err := h.store.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "Hello", subs[0].LatestTitle)
	require.Equal(t, h.srv.URL+"/feed.xml", subs[0].Feed)

	sink := newRecorder()
	mon := feed.NewMonitor(feed.NewFetcher(h.srv.Client()), h.store, sink, 1, nilLogger())
	require.NoError(t, mon.Tick(ctx))
	require.Empty(t, sink.texts())

	require.Equal(t, fmt.Sprintf("%d [Example](%s/feed.xml)", subs[0].ID, h.srv.URL), h.send("/rss"))
	require.Equal(t, h.send("/rss"), h.send("/list"))
}

func TestSubscribeThroughDiscovery(t *testing.T) {
	h := newHarness(t, nil)
	page := h.srv.URL + "/page"
	require.Contains(t, h.send("/sub "+page), `subscribed "Example"`)

	subs, err := h.store.ListSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, page, subs[0].Home)
	require.Equal(t, h.srv.URL+"/feed.xml", subs[0].Feed)
}

func TestSubscribeErrors(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, "need url", h.send("/sub"))
	require.Equal(t, "no feed found in "+h.srv.URL+"/plain", h.send("/sub "+h.srv.URL+"/plain"))
	require.Equal(t, "cannot access "+h.srv.URL+"/gone", h.send("/sub "+h.srv.URL+"/gone"))
	require.Equal(t, "cannot access ftp://x", h.send("/sub ftp://x"))

	subs, err := h.store.ListSubscriptions(context.Background())
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestStoreFailures(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Store = failingStore{storage.NewMemory()} })
	require.Equal(t, "error in db", h.send("/sub "+h.srv.URL+"/feed.xml"))
	require.Equal(t, "error", h.send("/unsub 1"))
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, "no results", h.send("/rss"))
	h.send("/sub " + h.srv.URL + "/feed.xml")

	require.Equal(t, "need id to del", h.send("/unsub"))
	require.Equal(t, "need id to del", h.send("/unsub abc"))
	require.Equal(t, "not found", h.send("/unsub 99"))
	require.Equal(t, "done", h.send("/unsub 1"))
	require.Equal(t, "not found", h.send("/unsub 1"))
	require.Equal(t, "no results", h.send("/rss"))
}

func TestHistoryLimit(t *testing.T) {
	t.Parallel()
	tests := map[string]int{"": 6, "abc": 6, "3": 3, "0": 1, "-5": 1, "30": 30, "31": 30, "1000": 30}
	for in, want := range tests {
		require.Equal(t, want, historyLimit(in), in)
	}
}

func TestFollowHistory(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.Equal(t, "no results", h.send("/f"))

	for i := 0; i < 8; i++ {
		require.NoError(t, h.store.AppendEvent(ctx, fmt.Sprintf("user%d", i), "fo"))
	}
	require.NoError(t, h.store.WriteMetaSnapshot(ctx, "{}"))

	lines := strings.Split(h.send("/f"), "\n")
	require.Len(t, lines, 6)
	line := regexp.MustCompile(`^\d\d-\d\d \d\d:\d\d fo \[(user\d)\]\(twitter\.com/(user\d)\)$`)
	for _, l := range lines {
		m := line.FindStringSubmatch(l)
		require.NotNil(t, m, l)
		require.Equal(t, m[1], m[2])
	}
	require.Contains(t, lines[0], "user7")

	require.Len(t, strings.Split(h.send("/f 2"), "\n"), 2)
	require.Len(t, strings.Split(h.send("/f 100"), "\n"), 8)
}

func TestRepoCommands(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, "no results", h.send("/repo"))
	require.Equal(t, "need repo name", h.send("/rsub"))
	require.Equal(t, "no release found", h.send("/rsub nobody/nothing"))
	require.Equal(t, "OK, latest is go1.24.0", h.send("/rsub golang/go"))
	require.Equal(t, "1 [golang/go](https://github.com/golang/go) go1.24.0", h.send("/repo"))
	require.Equal(t, "need id to del", h.send("/runsub"))
	require.Equal(t, "done", h.send("/runsub 1"))
	require.Equal(t, "not found", h.send("/runsub 1"))
}

func TestOptionalCommands(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Releases = nil
		d.Status = nil
	})
	require.Equal(t, UnknownReply, h.send("/repo"))
	require.Equal(t, UnknownReply, h.send("/status"))

	help := h.send("/help")
	require.Contains(t, help, "/sub <url> - subscribe")
	require.Contains(t, help, "/rss (/list)")
	require.NotContains(t, help, "/rsub")
}

func TestHelpAndStatus(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, "all good", h.send("/status"))
	help := h.send("/help")
	for _, c := range []string{"/rss", "/sub", "/unsub", "/f", "/repo", "/rsub", "/runsub", "/status", "/help"} {
		require.Contains(t, help, c)
	}
}
