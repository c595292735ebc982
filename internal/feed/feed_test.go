package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scturtle/turtlebot/internal/storage"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

func rssDoc(title string, items ...Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0"?><rss version="2.0"><channel><title>%s</title><link>https://example.com/</link>`, title)
	for _, it := range items {
		fmt.Fprintf(&b, `<item><title>%s</title><link>%s</link></item>`, it.Title, it.Link)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Blog</title>
  <entry><title>Second</title><link href="https://a.example/2"/></entry>
  <entry><title>First</title><link href="https://a.example/1"/></entry>
</feed>`

func TestParseRSSAndAtom(t *testing.T) {
	t.Parallel()
	doc, err := Parse([]byte(rssDoc("Blog", Entry{"B", "https://x/b"}, Entry{"A", "https://x/a"})))
	require.NoError(t, err)
	require.Equal(t, "Blog", doc.Title)
	require.Equal(t, []Entry{{"B", "https://x/b"}, {"A", "https://x/a"}}, doc.Entries)

	doc, err = Parse([]byte(atomDoc))
	require.NoError(t, err)
	require.Equal(t, "Atom Blog", doc.Title)
	require.Equal(t, Entry{"Second", "https://a.example/2"}, doc.Entries[0])

	_, err = Parse([]byte("<html><body>hi</body></html>"))
	require.Error(t, err)
}

func TestDisplayTitle(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Go & Rust news", DisplayTitle("<b>Go</b> &amp; Rust\n  news"))
	require.Equal(t, "[Go](https://go.dev)", FormatEntry(Entry{Title: "Go", Link: "https://go.dev"}))
}

func TestDiscover(t *testing.T) {
	t.Parallel()
	base, _ := url.Parse("https://blog.example/posts/")
	page := `<html><head>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/rss+xml" href="/feed.xml">
<link rel="alternate" type="application/atom+xml" href="https://blog.example/atom.xml">
</head><body><a href="/rss">rss</a></body></html>`
	require.Equal(t, []string{"https://blog.example/feed.xml", "https://blog.example/atom.xml"},
		Discover(base, []byte(page), "text/html; charset=utf-8"))

	anchors := `<html><body><a href="/about">about</a><a href="index.xml">feed</a></body></html>`
	require.Equal(t, []string{"https://blog.example/posts/index.xml"},
		Discover(base, []byte(anchors), "text/html"))

	require.Empty(t, Discover(base, []byte("<html></html>"), "text/html"))
}

func TestNewEntries(t *testing.T) {
	t.Parallel()
	a, b, c, d := Entry{"A", "1"}, Entry{"B", "2"}, Entry{"C", "3"}, Entry{"D", "4"}
	all := []Entry{a, b, c, d}
	require.Equal(t, []Entry{a, b}, NewEntries(all, "C", "3"))
	require.Empty(t, NewEntries(all, "A", "1"))
	require.Equal(t, []Entry{a}, NewEntries(all, "gone", "x"))
	require.Equal(t, []Entry{a}, NewEntries(all, "C", "wrong link"))
	require.Empty(t, NewEntries(nil, "", ""))
	// empty title and link still match an entry that has neither
	require.Empty(t, NewEntries([]Entry{{}}, "", ""))
}

// site serves fixed bodies per path and counts requests.
type site struct {
	mu     sync.Mutex
	bodies map[string]string
	types  map[string]string
}

func (s *site) set(path, body, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bodies == nil {
		s.bodies, s.types = map[string]string{}, map[string]string{}
	}
	s.bodies[path], s.types[path] = body, contentType
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, ok := s.bodies[r.URL.Path]
	ct := s.types[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", ct)
	fmt.Fprint(w, body)
}

func TestProbe(t *testing.T) {
	t.Parallel()
	s := &site{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	s.set("/feed.xml", rssDoc("Hello Blog", Entry{"Hello", srv.URL + "/hello"}), "application/rss+xml")
	s.set("/", `<html><head><link rel="alternate" type="application/rss+xml" href="/feed.xml"></head></html>`, "text/html")
	s.set("/plain", `<html><body>nothing here</body></html>`, "text/html")
	s.set("/broken", `<html><head><link rel="alternate" type="application/rss+xml" href="/missing-ok"></head></html>`, "text/html")
	s.set("/missing-ok", `not a feed`, "text/plain")

	f := NewFetcher(srv.Client())
	ctx := context.Background()

	p, err := f.Probe(ctx, srv.URL+"/feed.xml")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/feed.xml", p.FeedURL)
	require.Equal(t, "Hello Blog", p.Title())
	newest, ok := p.Newest()
	require.True(t, ok)
	require.Equal(t, "Hello", newest.Title)

	p, err = f.Probe(ctx, srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/feed.xml", p.FeedURL)

	tests := []struct {
		path  string
		kind  error
		reply string
	}{
		{path: "/plain", kind: ErrNoFeed, reply: "no feed found in " + srv.URL + "/plain"},
		{path: "/nope", kind: ErrFetch, reply: "cannot access " + srv.URL + "/nope"},
		{path: "/broken", kind: ErrParse, reply: "cannot parse " + srv.URL + "/missing-ok"},
	}
	for _, tt := range tests {
		_, err := f.Probe(ctx, srv.URL+tt.path)
		require.ErrorIs(t, err, tt.kind, tt.path)
		var pe *ProbeError
		require.True(t, errors.As(err, &pe))
		require.Equal(t, tt.reply, pe.Reply())
	}

	_, err = f.Probe(ctx, "ftp://example.com/feed")
	require.ErrorIs(t, err, ErrFetch)
}

type recordPusher struct {
	mu   sync.Mutex
	msgs []string
}

func (p *recordPusher) Push(chatID int64, text string) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, text)
	p.mu.Unlock()
	return nil
}

func (p *recordPusher) take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.msgs
	p.msgs = nil
	return out
}

func TestMonitorTick(t *testing.T) {
	t.Parallel()
	s := &site{}
	srv := httptest.NewServer(s)
	defer srv.Close()
	ctx := context.Background()

	a, b, c, d := Entry{"A", "https://x/a"}, Entry{"B", "https://x/b"}, Entry{"C", "https://x/c"}, Entry{"D", "https://x/d"}
	s.set("/one.xml", rssDoc("One", a, b, c, d), "application/rss+xml")
	s.set("/two.xml", rssDoc("Two", b), "application/rss+xml")

	st := storage.NewMemory()
	id1, _ := st.InsertSubscription(ctx, storage.Subscription{Home: srv.URL, Title: "One", Feed: srv.URL + "/one.xml", LatestTitle: "C", LatestLink: "https://x/c"})
	_, _ = st.InsertSubscription(ctx, storage.Subscription{Home: srv.URL, Title: "Broken", Feed: srv.URL + "/gone.xml"})
	id3, _ := st.InsertSubscription(ctx, storage.Subscription{Home: srv.URL, Title: "Two", Feed: srv.URL + "/two.xml", LatestTitle: "old", LatestLink: "https://x/old"})

	out := &recordPusher{}
	m := NewMonitor(NewFetcher(srv.Client()), st, out, 5, logx.Nop())

	require.NoError(t, m.Tick(ctx))
	require.Equal(t, []string{
		"[B](https://x/b)\n[A](https://x/a)",
		"[B](https://x/b)",
	}, out.take())

	subs, _ := st.ListSubscriptions(ctx)
	byID := map[int64]storage.Subscription{}
	for _, s := range subs {
		byID[s.ID] = s
	}
	require.Equal(t, "A", byID[id1].LatestTitle)
	require.Equal(t, "https://x/a", byID[id1].LatestLink)
	require.Equal(t, "B", byID[id3].LatestTitle)

	// same content again: nothing new
	require.NoError(t, m.Tick(ctx))
	require.Empty(t, out.take())
}
