package release

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scturtle/turtlebot/internal/storage"
	logx "github.com/scturtle/turtlebot/pkg/logx"
)

func releasesServer(tags map[string]string) *httptest.Server {
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		for name, tag := range tags {
			if r.URL.Path == "/"+name+"/releases" {
				if tag == "" {
					fmt.Fprint(w, `<html><body>There aren't any releases here</body></html>`)
					return
				}
				fmt.Fprintf(w, `<html><body>
<a href="/%[1]s/issues">issues</a>
<a href="/%[1]s/releases/tag/%[2]s" class="Link--primary">%[2]s</a>
<a href="/%[1]s/releases/tag/v0.0.1">v0.0.1</a>
</body></html>`, name, tag)
				return
			}
		}
		http.NotFound(w, r)
	}))
}

func TestLatestRelease(t *testing.T) {
	t.Parallel()
	srv := releasesServer(map[string]string{"golang/go": "go1.24.1", "empty/repo": ""})
	defer srv.Close()
	c := NewClient(srv.Client(), srv.URL)
	ctx := context.Background()

	tag, err := c.LatestRelease(ctx, "golang/go")
	require.NoError(t, err)
	require.Equal(t, "go1.24.1", tag)

	_, err = c.LatestRelease(ctx, "empty/repo")
	require.ErrorIs(t, err, ErrNoRelease)

	_, err = c.LatestRelease(ctx, "missing/repo")
	require.Error(t, err)

	_, err = c.LatestRelease(ctx, "noslash")
	require.Error(t, err)
}

func TestTagFromHref(t *testing.T) {
	t.Parallel()
	require.Equal(t, "v1.2.3", tagFromHref("/a/b/releases/tag/v1.2.3"))
	require.Equal(t, "v1.2.3", tagFromHref("https://github.com/a/b/releases/tag/v1.2.3?x=1"))
	require.Equal(t, "release@1.0", tagFromHref("/a/b/releases/tag/release%401.0"))
	require.Equal(t, "", tagFromHref("/a/b/releases"))
}

type recordPusher struct{ msgs []string }

func (p *recordPusher) Push(chatID int64, text string) error {
	p.msgs = append(p.msgs, text)
	return nil
}

func TestMonitorTick(t *testing.T) {
	t.Parallel()
	srv := releasesServer(map[string]string{"golang/go": "go1.24.1", "a/b": "v2"})
	defer srv.Close()
	ctx := context.Background()

	st := storage.NewMemory()
	_, _ = st.InsertRepo(ctx, "golang/go", "go1.24.0")
	_, _ = st.InsertRepo(ctx, "gone/away", "v1")
	_, _ = st.InsertRepo(ctx, "a/b", "v2")

	out := &recordPusher{}
	m := NewMonitor(NewClient(srv.Client(), srv.URL), st, out, 1, logx.Nop())
	require.NoError(t, m.Tick(ctx))
	require.Equal(t, []string{"[golang/go](https://github.com/golang/go) go1.24.1"}, out.msgs)

	repos, _ := st.ListRepos(ctx)
	require.Equal(t, "go1.24.1", repos[0].Latest)
	require.Equal(t, "v1", repos[1].Latest)

	require.NoError(t, m.Tick(ctx))
	require.Len(t, out.msgs, 1)
}
