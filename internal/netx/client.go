// Package netx builds the HTTP client shared by every outbound fetcher.
package netx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "turtlebot/1.0"
	// MaxBody caps how much of a response body fetchers read.
	MaxBody = 8 << 20
)

type Options struct {
	Timeout   time.Duration
	Proxy     string
	UserAgent string
}

// NewClient returns a client with a hard timeout, optional proxy and a
// default User-Agent on every request that does not set one.
func NewClient(opt Options) (*http.Client, error) {
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(opt.UserAgent) == "" {
		opt.UserAgent = DefaultUserAgent
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(opt.Proxy); p != "" {
		u, err := url.Parse(p)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", p)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Timeout:   opt.Timeout,
		Transport: uaTransport{next: tr, ua: opt.UserAgent},
	}, nil
}

type uaTransport struct {
	next http.RoundTripper
	ua   string
}

func (t uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}

// ErrBodyTooLarge is returned by Get when the body exceeds MaxBody.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError is returned by Get for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http %d", e.URL, e.Status)
}

// Get fetches rawURL with extra headers and returns the body plus the
// response Content-Type. Bodies over MaxBody fail with ErrBodyTooLarge.
func Get(ctx context.Context, c *http.Client, rawURL string, header http.Header) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, "", &StatusError{URL: rawURL, Status: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxBody+1))
	if err != nil {
		return nil, "", err
	}
	if len(b) > MaxBody {
		return nil, "", fmt.Errorf("GET %s: %w (limit %d bytes)", rawURL, ErrBodyTooLarge, MaxBody)
	}
	return b, resp.Header.Get("Content-Type"), nil
}
