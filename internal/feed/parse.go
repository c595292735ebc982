package feed

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

// Entry identifies one published item. Title and Link are kept exactly as
// published so they can be matched across fetches.
type Entry struct {
	Title string
	Link  string
}

// Document is a parsed feed.
type Document struct {
	Title   string
	Link    string
	Entries []Entry
}

// Parse decodes RSS, Atom or JSON Feed content.
func Parse(body []byte) (*Document, error) {
	f, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc := &Document{Title: strings.TrimSpace(f.Title), Link: f.Link, Entries: make([]Entry, 0, len(f.Items))}
	for _, it := range f.Items {
		if it == nil {
			continue
		}
		link := it.Link
		if link == "" && len(it.Links) > 0 {
			link = it.Links[0]
		}
		doc.Entries = append(doc.Entries, Entry{Title: it.Title, Link: link})
	}
	return doc, nil
}

var strict = bluemonday.StrictPolicy()

// DisplayTitle strips markup and entities from a title and folds it onto
// one line. It is only for rendering, never for matching.
func DisplayTitle(s string) string {
	s = html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// FormatEntry renders an entry as a markdown link.
func FormatEntry(e Entry) string {
	return fmt.Sprintf("[%s](%s)", DisplayTitle(e.Title), e.Link)
}
