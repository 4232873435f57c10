// Package opml handles importing and exporting subscription lists as OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one feed found in a document. Nested folders become a single
// label joined with "/".
type Entry struct {
	Title   string
	FeedURL string
	SiteURL string
	Label   string
}

// Parse reads an OPML document and returns its feeds in document order.
// A feed listed under several folders yields one entry per folder.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{
					Title:   strings.TrimSpace(title),
					FeedURL: strings.TrimSpace(o.XMLURL),
					SiteURL: strings.TrimSpace(o.HTMLURL),
					Label:   strings.Join(path, "/"),
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path[:len(path):len(path)], strings.TrimSpace(name)))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export renders subscriptions as an OPML 2.0 document. Unlabelled feeds sit
// at the top level; a feed with several labels appears in each folder.
func Export(title string, subs []model.Subscription) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	folders := make(map[string][]Outline)
	var rootOutlines []Outline
	for _, sub := range sortedByTitle(subs) {
		feedOutline := Outline{
			Text:    sub.Title,
			Title:   sub.Title,
			Type:    "rss",
			XMLURL:  sub.FeedURL,
			HTMLURL: sub.URL,
		}
		labels := lo.Compact(sub.Categories)
		if len(labels) == 0 {
			rootOutlines = append(rootOutlines, feedOutline)
			continue
		}
		for _, label := range labels {
			folders[label] = append(folders[label], feedOutline)
		}
	}

	names := lo.Keys(folders)
	sort.Strings(names)
	for _, name := range names {
		rootOutlines = append(rootOutlines, Outline{
			Text:     name,
			Title:    name,
			Outlines: folders[name],
		})
	}
	doc.Body.Outlines = rootOutlines

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

func sortedByTitle(subs []model.Subscription) []model.Subscription {
	sorted := append([]model.Subscription(nil), subs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Title) < strings.ToLower(sorted[j].Title)
	})
	return sorted
}
