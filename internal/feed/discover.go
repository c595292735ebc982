package feed

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

var feedTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/feed+json",
	"application/json",
	"application/xml",
	"text/xml",
}

// Discover returns feed links embedded in an HTML page, resolved against
// base, in document order. <link rel="alternate"> tags come first, then
// anchors that look like feed links.
func Discover(base *url.URL, body []byte, contentType string) []string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	add := func(href string) {
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if !strings.Contains(rel, "alternate") || !isFeedType(typ) {
			return
		}
		add(s.AttrOr("href", ""))
	})
	if len(out) > 0 {
		return out
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href := s.AttrOr("href", ""); looksLikeFeed(href) {
			add(href)
		}
	})
	return out
}

func isFeedType(t string) bool {
	for _, ft := range feedTypes {
		if t == ft {
			return true
		}
	}
	return false
}

var feedNames = map[string]bool{
	"rss": true, "feed": true, "atom": true,
	"rss.xml": true, "atom.xml": true, "feed.xml": true, "index.xml": true,
}

func looksLikeFeed(href string) bool {
	h := strings.ToLower(href)
	if i := strings.IndexAny(h, "?#"); i >= 0 {
		h = h[:i]
	}
	h = strings.TrimRight(h, "/")
	if h == "" {
		return false
	}
	switch path.Ext(h) {
	case ".rss", ".atom":
		return true
	}
	return feedNames[path.Base(h)]
}
