// Package model defines shared data structures.
package model

import (
	"strings"

	"github.com/samber/lo"
)

// Page size bounds. DefaultPageLimit applies when a request names none;
// larger requests are capped at MaxPageLimit.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 10000
)

// User is the authenticated identity handed to every protocol call.
type User struct {
	ID    string
	Email string
}

// Subscription is a feed a user follows.
type Subscription struct {
	UserID      string
	ID          string // "feed/" + FeedURL
	URL         string // site link
	Title       string
	Description string
	FeedURL     string
	Categories  []string
	LastFetchMs int64
}

// SubscriptionID derives the subscription id from a feed url.
func SubscriptionID(feedURL string) string {
	return "feed/" + feedURL
}

// AddCategories appends labels, skipping empty ones and duplicates.
func (s *Subscription) AddCategories(labels ...string) {
	s.Categories = lo.Uniq(append(s.Categories, lo.Compact(labels)...))
}

// RemoveCategories drops every occurrence of the given labels.
func (s *Subscription) RemoveCategories(labels ...string) {
	s.Categories = lo.Without(s.Categories, labels...)
}

// JoinCategories encodes labels the way they are persisted.
func JoinCategories(labels []string) string {
	return strings.Join(lo.Uniq(lo.Compact(labels)), ",")
}

// SplitCategories decodes a persisted label set.
func SplitCategories(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return lo.Uniq(lo.Compact(strings.Split(joined, ",")))
}

// Item is a single entry from a subscription, owned by one user.
type Item struct {
	ID             int64 // surrogate id assigned by storage
	UserID         string
	SubscriptionID string
	ExternalID     string // id declared by the feed entry
	Title          string
	Content        string
	Author         string
	URL            string
	CreatedAtMs    int64
	FetchedAtMs    int64
	Starred        bool
	Read           bool
}

// Filter selects which items a listing returns.
type Filter int

const (
	FilterAll Filter = iota
	FilterUnread
	FilterRead
	FilterStarred
)

func (f Filter) String() string {
	switch f {
	case FilterUnread:
		return "unread"
	case FilterRead:
		return "read"
	case FilterStarred:
		return "starred"
	default:
		return "all"
	}
}

// ItemState is a state transition applied to a set of items.
type ItemState int

const (
	StateRead ItemState = iota
	StateUnread
	StateStarred
	StateUnstarred
)

func (s ItemState) String() string {
	switch s {
	case StateRead:
		return "read"
	case StateUnread:
		return "unread"
	case StateStarred:
		return "starred"
	case StateUnstarred:
		return "unstarred"
	default:
		return "unknown"
	}
}

// PageOption describes one page request. Offset is an opaque cursor.
type PageOption struct {
	Offset string
	Limit  int
	Desc   bool
}

// Page is one page of results. NextPageOffset is empty on the last page.
type Page[T any] struct {
	Items          []T
	NextPageOffset string
}

// UnreadCount is the number of unread items of one subscription.
type UnreadCount struct {
	SubscriptionID string
	Count          int64
	NewestMs       int64
}
