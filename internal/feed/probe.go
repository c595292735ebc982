package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/scturtle/turtlebot/internal/netx"
)

var (
	ErrNoFeed = errors.New("no feed found")
	ErrFetch  = errors.New("cannot access")
	ErrParse  = errors.New("cannot parse")
)

// ProbeError says which URL failed and how. Kind is one of ErrNoFeed,
// ErrFetch or ErrParse.
type ProbeError struct {
	Kind error
	URL  string
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return e.Reply() + ": " + e.Err.Error()
	}
	return e.Reply()
}

// Reply is the short form shown to the user.
func (e *ProbeError) Reply() string {
	if e.Kind == ErrNoFeed {
		return fmt.Sprintf("no feed found in %s", e.URL)
	}
	return fmt.Sprintf("%v %s", e.Kind, e.URL)
}

func (e *ProbeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Probed is the outcome of a successful probe.
type Probed struct {
	FeedURL string
	Doc     *Document
}

// Title falls back to "no title".
func (p *Probed) Title() string {
	if t := DisplayTitle(p.Doc.Title); t != "" {
		return t
	}
	return "no title"
}

// Newest returns the first published entry, if any.
func (p *Probed) Newest() (Entry, bool) {
	if len(p.Doc.Entries) == 0 {
		return Entry{}, false
	}
	return p.Doc.Entries[0], true
}

type Fetcher struct {
	client *http.Client
}

func NewFetcher(c *http.Client) *Fetcher {
	return &Fetcher{client: c}
}

// Fetch downloads and parses the feed at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	body, _, err := netx.Get(ctx, f.client, rawURL, nil)
	if err != nil {
		return nil, &ProbeError{Kind: ErrFetch, URL: rawURL, Err: err}
	}
	doc, err := Parse(body)
	if err != nil {
		return nil, &ProbeError{Kind: ErrParse, URL: rawURL, Err: err}
	}
	return doc, nil
}

// Probe resolves a user-supplied URL to a feed: either the URL itself parses
// as a feed, or it is an HTML page whose first embedded feed link does.
// Discovery is followed once.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (*Probed, error) {
	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, &ProbeError{Kind: ErrFetch, URL: rawURL, Err: errors.New("not an http(s) url")}
	}
	body, contentType, err := netx.Get(ctx, f.client, rawURL, nil)
	if err != nil {
		return nil, &ProbeError{Kind: ErrFetch, URL: rawURL, Err: err}
	}
	if doc, err := Parse(body); err == nil {
		return &Probed{FeedURL: rawURL, Doc: doc}, nil
	}

	links := Discover(base, body, contentType)
	if len(links) == 0 {
		return nil, &ProbeError{Kind: ErrNoFeed, URL: rawURL}
	}
	doc, err := f.Fetch(ctx, links[0])
	if err != nil {
		return nil, err
	}
	return &Probed{FeedURL: links[0], Doc: doc}, nil
}
