package rss

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// ExtractItems converts parsed feed entries into items owned by userID.
// Entries created before cutoff are dropped; feed order is preserved.
func ExtractItems(userID, subscriptionID string, feed *gofeed.Feed, now, cutoff time.Time) []model.Item {
	if feed == nil {
		return nil
	}

	items := make([]model.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		url := entryURL(entry)
		guid := entry.GUID
		if guid == "" {
			guid = url
		}
		if guid == "" {
			continue
		}

		created := now
		if entry.PublishedParsed != nil {
			created = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			created = *entry.UpdatedParsed
		}
		if created.Before(cutoff) {
			continue
		}

		content := entry.Content
		if content == "" {
			content = entry.Description
		}

		items = append(items, model.Item{
			UserID:         userID,
			SubscriptionID: subscriptionID,
			ExternalID:     guid,
			Title:          entry.Title,
			Content:        content,
			Author:         entryAuthors(entry),
			URL:            url,
			CreatedAtMs:    created.UnixMilli(),
			FetchedAtMs:    now.UnixMilli(),
		})
	}
	return items
}

func entryURL(entry *gofeed.Item) string {
	if entry.Link != "" {
		return entry.Link
	}
	if len(entry.Links) > 0 {
		return entry.Links[0]
	}
	return ""
}

func entryAuthors(entry *gofeed.Item) string {
	authors := entry.Authors
	if len(authors) == 0 && entry.Author != nil {
		authors = []*gofeed.Person{entry.Author}
	}
	names := lo.FilterMap(authors, func(p *gofeed.Person, _ int) (string, bool) {
		if p == nil || p.Name == "" {
			return "", false
		}
		return p.Name, true
	})
	return strings.Join(names, ",")
}

// FeedLink is the site link of a feed, falling back to the feed url.
func FeedLink(feed *gofeed.Feed, feedURL string) string {
	if feed != nil {
		if feed.Link != "" {
			return feed.Link
		}
		if len(feed.Links) > 0 && feed.Links[0] != "" {
			return feed.Links[0]
		}
	}
	return feedURL
}
