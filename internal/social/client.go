package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/scturtle/turtlebot/internal/netx"
)

const (
	DefaultBaseURL  = "https://api.twitter.com/1.1"
	DefaultPageSize = 200

	firstCursor = -1
	lastCursor  = 0
)

// ErrGraph marks a fetch that must not be trusted: a server-reported error
// or an unexpected payload. A partial membership set is never returned.
var ErrGraph = errors.New("social graph fetch failed")

// Kind selects the relation to list.
type Kind int

const (
	Following Kind = iota
	Followers
)

func (k Kind) String() string {
	if k == Followers {
		return "followers"
	}
	return "following"
}

func (k Kind) endpoint() string {
	if k == Followers {
		return "followers/list.json"
	}
	return "friends/list.json"
}

// Fetcher returns the complete id → handle membership of one relation.
type Fetcher interface {
	Fetch(ctx context.Context, userID string, kind Kind) (map[string]string, error)
}

type Client struct {
	http     *http.Client
	base     string
	header   http.Header
	pageSize int
}

func NewClient(c *http.Client, baseURL string, header http.Header, pageSize int) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{http: c, base: strings.TrimRight(baseURL, "/"), header: header, pageSize: pageSize}
}

// LoadSecret reads the credential headers from a JSON file with the keys
// "x-csrf-token", "authorization" and "cookie".
func LoadSecret(path string) (http.Header, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parsing secret: %w", err)
	}
	h := http.Header{}
	for _, key := range []string{"x-csrf-token", "authorization", "cookie"} {
		v := strings.TrimSpace(raw[key])
		if v == "" {
			return nil, fmt.Errorf("secret %s: missing %q", path, key)
		}
		h.Set(key, v)
	}
	return h, nil
}

type page struct {
	Errors     json.RawMessage `json:"errors"`
	Error      json.RawMessage `json:"error"`
	Users      *[]user         `json:"users"`
	NextCursor *int64          `json:"next_cursor"`
}

type user struct {
	ID         string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// Fetch pages through the listing until the cursor reports no more pages.
func (c *Client) Fetch(ctx context.Context, userID string, kind Kind) (map[string]string, error) {
	out := map[string]string{}
	cursor := int64(firstCursor)
	for {
		p, err := c.page(ctx, userID, kind, cursor)
		if err != nil {
			return nil, err
		}
		for _, u := range *p.Users {
			out[u.ID] = u.ScreenName
		}
		if *p.NextCursor == lastCursor {
			return out, nil
		}
		cursor = *p.NextCursor
	}
}

func (c *Client) page(ctx context.Context, userID string, kind Kind, cursor int64) (*page, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("count", strconv.Itoa(c.pageSize))
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	u := c.base + "/" + kind.endpoint() + "?" + q.Encode()

	body, _, err := netx.Get(ctx, c.http, u, c.header)
	if err != nil {
		return nil, fmt.Errorf("%s page: %w", kind, err)
	}
	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrGraph, kind, err)
	}
	switch {
	case present(p.Errors):
		return nil, fmt.Errorf("%w: %s: errors %s", ErrGraph, kind, p.Errors)
	case present(p.Error):
		return nil, fmt.Errorf("%w: %s: error %s", ErrGraph, kind, p.Error)
	case p.Users == nil:
		return nil, fmt.Errorf("%w: %s: response has no users", ErrGraph, kind)
	case p.NextCursor == nil:
		return nil, fmt.Errorf("%w: %s: response has no next_cursor", ErrGraph, kind)
	}
	for _, u := range *p.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("%w: %s: user without id_str", ErrGraph, kind)
		}
	}
	return &p, nil
}
