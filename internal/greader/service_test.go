package greader_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/greader"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/opml"
)

var alice = model.User{ID: "alice", Email: "alice@example.com"}

// fakeSubscriber stores subscriptions directly, failing for urls containing "broken".
type fakeSubscriber struct {
	store *database.MemoryStore
	mu    sync.Mutex
	added []string
}

func (f *fakeSubscriber) AddSubscriptionFromURL(ctx context.Context, userID, feedURL string) (model.Subscription, error) {
	if strings.Contains(feedURL, "broken") {
		return model.Subscription{}, errors.New("unreachable")
	}
	f.mu.Lock()
	f.added = append(f.added, feedURL)
	f.mu.Unlock()
	sub := model.Subscription{
		UserID:  userID,
		ID:      model.SubscriptionID(feedURL),
		URL:     "https://site.example.com",
		Title:   "Fetched " + feedURL,
		FeedURL: feedURL,
	}
	if err := f.store.CreateSubscription(ctx, sub); err != nil {
		return model.Subscription{}, err
	}
	return f.store.GetSubscription(ctx, userID, sub.ID)
}

func (f *fakeSubscriber) EditSubscription(ctx context.Context, userID, id string, title *string, add, remove []string) error {
	sub, err := f.store.GetSubscription(ctx, userID, id)
	if err != nil {
		return nil
	}
	if title != nil {
		sub.Title = *title
	}
	sub.RemoveCategories(remove...)
	sub.AddCategories(add...)
	return f.store.UpdateSubscription(ctx, sub)
}

func (f *fakeSubscriber) RemoveSubscription(ctx context.Context, userID, id string) error {
	return f.store.RemoveSubscription(ctx, userID, id)
}

func newService(t *testing.T) (*greader.Service, *database.MemoryStore, *fakeSubscriber) {
	t.Helper()
	store := database.NewMemoryStore()
	sub := &fakeSubscriber{store: store}
	return greader.NewService(store, store, sub), store, sub
}

func seed(t *testing.T, store *database.MemoryStore) []model.Item {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateSubscription(ctx, model.Subscription{
		UserID: "alice", ID: "feed/a", FeedURL: "a", Title: "Feed A", URL: "https://a.example.com", Categories: []string{"tech"},
	}))
	require.NoError(t, store.CreateSubscription(ctx, model.Subscription{
		UserID: "alice", ID: "feed/b", FeedURL: "b", Title: "Feed B", URL: "https://b.example.com",
	}))
	_, err := store.InsertItems(ctx, []model.Item{
		{UserID: "alice", SubscriptionID: "feed/a", ExternalID: "1", Title: "one", Content: "c1", URL: "https://a.example.com/1", CreatedAtMs: 1000, FetchedAtMs: 1500},
		{UserID: "alice", SubscriptionID: "feed/b", ExternalID: "2", Title: "two", CreatedAtMs: 2000, FetchedAtMs: 2500},
		{UserID: "alice", SubscriptionID: "feed/a", ExternalID: "3", Title: "three", CreatedAtMs: 3000, FetchedAtMs: 3500},
	})
	require.NoError(t, err)
	page, err := store.ListItems(ctx, "alice", model.FilterAll, model.PageOption{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	return page.Items
}

func refIDs(ids greader.ItemIDs) []string {
	out := make([]string, len(ids.ItemRefs))
	for i, r := range ids.ItemRefs {
		out[i] = r.ID
	}
	return out
}

func TestItemIDsOrderingAndContinuation(t *testing.T) {
	svc, store, _ := newService(t)
	items := seed(t, store)
	ctx := context.Background()
	id := func(i int) string { return strconv.FormatInt(items[i].ID, 10) }

	ids, err := svc.ItemIDs(ctx, alice, greader.StreamQuery{Stream: greader.StreamReadingList})
	require.NoError(t, err)
	assert.Equal(t, []string{id(2), id(1), id(0)}, refIDs(ids))
	assert.Empty(t, ids.Continuation)
	assert.Equal(t, "3000000", ids.ItemRefs[0].TimestampUsec)
	assert.NotNil(t, ids.ItemRefs[0].DirectStreamIDs)

	ids, err = svc.ItemIDs(ctx, alice, greader.StreamQuery{Stream: greader.StreamReadingList, Order: "o", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{id(0), id(1)}, refIDs(ids))
	require.NotEmpty(t, ids.Continuation)

	ids, err = svc.ItemIDs(ctx, alice, greader.StreamQuery{Stream: greader.StreamReadingList, Order: "o", Count: 2, Continuation: ids.Continuation})
	require.NoError(t, err)
	assert.Equal(t, []string{id(2)}, refIDs(ids))
	assert.Empty(t, ids.Continuation)
}

func TestEditTagAndFilteredListing(t *testing.T) {
	svc, store, _ := newService(t)
	items := seed(t, store)
	ctx := context.Background()
	first := greader.EncodeItemID(items[0].ID)

	require.NoError(t, svc.EditTag(ctx, alice, []string{first, "garbage"}, []string{greader.StreamRead, greader.StreamStarred, "user/-/label/ignored"}, nil))

	starred, err := svc.ItemIDs(ctx, alice, greader.StreamQuery{Stream: greader.StreamStarred})
	require.NoError(t, err)
	assert.Equal(t, []string{strconv.FormatInt(items[0].ID, 10)}, refIDs(starred))

	unread, err := svc.ItemIDs(ctx, alice, greader.StreamQuery{Stream: greader.StreamReadingList, Exclude: greader.StreamRead})
	require.NoError(t, err)
	assert.Len(t, unread.ItemRefs, 2)

	require.NoError(t, svc.EditTag(ctx, alice, []string{first}, nil, []string{greader.StreamStarred}))
	starred, err = svc.ItemIDs(ctx, alice, greader.StreamQuery{Stream: greader.StreamStarred})
	require.NoError(t, err)
	assert.Empty(t, starred.ItemRefs)

	require.NoError(t, svc.EditTag(ctx, alice, []string{strconv.FormatInt(items[0].ID, 10)}, []string{greader.StreamKeptUnread}, nil))
	unread, err = svc.ItemIDs(ctx, alice, greader.StreamQuery{Exclude: greader.StreamRead})
	require.NoError(t, err)
	assert.Len(t, unread.ItemRefs, 3)

	assert.NoError(t, svc.EditTag(ctx, alice, []string{"bogus"}, []string{greader.StreamRead}, nil))
}

func TestContents(t *testing.T) {
	svc, store, _ := newService(t)
	items := seed(t, store)
	ctx := context.Background()

	contents, err := svc.Contents(ctx, alice, []string{
		strconv.FormatInt(items[0].ID, 10),
		greader.EncodeItemID(items[2].ID),
		greader.EncodeItemID(999),
		"nonsense",
	})
	require.NoError(t, err)
	assert.Equal(t, "ltr", contents.Direction)
	assert.Equal(t, greader.StreamReadingList, contents.ID)
	assert.Equal(t, "Reading List", contents.Title)
	require.Len(t, contents.Items, 2)

	newest, oldest := contents.Items[0], contents.Items[1]
	assert.Equal(t, "three", newest.Title)
	assert.Equal(t, greader.EncodeItemID(items[0].ID), oldest.ID)
	assert.Equal(t, "1500", oldest.CrawlTimeMsec)
	assert.Equal(t, "1000000", oldest.TimestampUsec)
	assert.EqualValues(t, 1, oldest.Published)
	assert.Equal(t, []greader.Link{{Href: "https://a.example.com/1"}}, oldest.Canonical)
	assert.Equal(t, []greader.Link{{Href: "https://a.example.com/1", Type: "text/html"}}, oldest.Alternate)
	assert.Equal(t, greader.Summary{Direction: "ltr", Content: "c1"}, oldest.Summary)
	assert.Equal(t, greader.Origin{StreamID: "feed/a", Title: "Feed A", HTMLURL: "https://a.example.com"}, oldest.Origin)
	assert.Equal(t, []string{greader.StreamReadingList, greader.StreamFresh}, oldest.Categories)

	empty, err := svc.Contents(ctx, alice, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
}

func TestUnreadContentsPages(t *testing.T) {
	svc, store, _ := newService(t)
	seed(t, store)
	ctx := context.Background()

	page, err := svc.UnreadContents(ctx, alice, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "three", page.Items[0].Title)
	require.NotEmpty(t, page.NextPageOffset)

	page, err = svc.UnreadContents(ctx, alice, page.NextPageOffset, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "one", page.Items[0].Title)
	assert.Empty(t, page.NextPageOffset)
}

func TestMarkAllAsRead(t *testing.T) {
	ctx := context.Background()
	unreadCount := func(t *testing.T, svc *greader.Service) int {
		ids, err := svc.ItemIDs(ctx, alice, greader.StreamQuery{Exclude: greader.StreamRead})
		require.NoError(t, err)
		return len(ids.ItemRefs)
	}

	t.Run("older than timestamp", func(t *testing.T) {
		svc, store, _ := newService(t)
		seed(t, store)
		require.NoError(t, svc.MarkAllAsRead(ctx, alice, greader.StreamReadingList, "2000000"))
		assert.Equal(t, 1, unreadCount(t, svc))
	})

	t.Run("everything", func(t *testing.T) {
		svc, store, _ := newService(t)
		seed(t, store)
		require.NoError(t, svc.MarkAllAsRead(ctx, alice, greader.StreamReadingList, ""))
		assert.Equal(t, 0, unreadCount(t, svc))
	})

	t.Run("one feed", func(t *testing.T) {
		svc, store, _ := newService(t)
		seed(t, store)
		require.NoError(t, svc.MarkAllAsRead(ctx, alice, "feed/a", ""))
		assert.Equal(t, 1, unreadCount(t, svc))
	})

	t.Run("one label", func(t *testing.T) {
		svc, store, _ := newService(t)
		seed(t, store)
		require.NoError(t, svc.MarkAllAsRead(ctx, alice, "user/-/label/tech", "1000000"))
		assert.Equal(t, 2, unreadCount(t, svc))
	})

	t.Run("bad timestamp", func(t *testing.T) {
		svc, _, _ := newService(t)
		err := svc.MarkAllAsRead(ctx, alice, "", "yesterday")
		assert.ErrorIs(t, err, greader.ErrInvalidRequest)
	})
}

func TestSubscriptionListAndEdit(t *testing.T) {
	svc, store, subscriber := newService(t)
	seed(t, store)
	ctx := context.Background()

	list, err := svc.SubscriptionList(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list.Subscriptions, 2)
	assert.Equal(t, []greader.Category{{ID: "user/alice/label/tech", Label: "tech"}}, list.Subscriptions[0].Categories)
	assert.NotNil(t, list.Subscriptions[1].Categories)
	assert.Equal(t, "a", list.Subscriptions[0].FeedURL)

	title := "Renamed"
	require.NoError(t, svc.EditSubscription(ctx, alice, greader.SubscriptionEdit{
		Action: "edit", StreamID: "feed/a", Title: &title,
		Add: []string{"user/-/label/news"}, Remove: []string{"user/-/label/tech"},
	}))
	sub, err := store.GetSubscription(ctx, "alice", "feed/a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", sub.Title)
	assert.Equal(t, []string{"news"}, sub.Categories)

	require.NoError(t, svc.EditSubscription(ctx, alice, greader.SubscriptionEdit{
		Action: "subscribe", StreamID: "feed/https://new.example.com/rss", Add: []string{"user/-/label/fresh"},
	}))
	sub, err = store.GetSubscription(ctx, "alice", "feed/https://new.example.com/rss")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, sub.Categories)
	assert.Contains(t, subscriber.added, "https://new.example.com/rss")

	require.NoError(t, svc.EditSubscription(ctx, alice, greader.SubscriptionEdit{Action: "unsubscribe", StreamID: "feed/b"}))
	_, err = store.GetSubscription(ctx, "alice", "feed/b")
	assert.ErrorIs(t, err, database.ErrSubscriptionNotFound)

	err = svc.EditSubscription(ctx, alice, greader.SubscriptionEdit{Action: "explode", StreamID: "feed/a"})
	assert.ErrorIs(t, err, greader.ErrInvalidRequest)
	err = svc.EditSubscription(ctx, alice, greader.SubscriptionEdit{Action: "subscribe", StreamID: "user/-/label/x"})
	assert.ErrorIs(t, err, greader.ErrInvalidRequest)
}

func TestQuickAddAndAddSubscription(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	res, err := svc.QuickAdd(ctx, alice, "https://q.example.com/feed")
	require.NoError(t, err)
	assert.Equal(t, greader.QuickAddResult{Query: "https://q.example.com/feed", NumResults: 1, StreamID: "feed/https://q.example.com/feed"}, res)

	_, err = svc.QuickAdd(ctx, alice, "https://broken.example.com")
	assert.Error(t, err)
	_, err = svc.QuickAdd(ctx, alice, "  ")
	assert.ErrorIs(t, err, greader.ErrInvalidRequest)

	info, err := svc.AddSubscription(ctx, alice, "https://f.example.com/rss", "Mine", "Folder")
	require.NoError(t, err)
	assert.Equal(t, "Mine", info.Title)
	assert.Equal(t, []greader.Category{{ID: "user/alice/label/Folder", Label: "Folder"}}, info.Categories)

	subs, err := store.ListSubscriptions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestUnreadCount(t *testing.T) {
	svc, store, _ := newService(t)
	seed(t, store)

	counts, err := svc.UnreadCount(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1000, counts.Max)
	assert.Equal(t, []greader.UnreadCountEntry{
		{ID: "feed/a", Count: 2, NewestItemTimestampUsec: "3000000"},
		{ID: "feed/b", Count: 1, NewestItemTimestampUsec: "2000000"},
		{ID: "user/alice/state/com.google/reading-list", Count: 3, NewestItemTimestampUsec: "3000000"},
	}, counts.UnreadCounts)
}

func TestOPMLImportExport(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	doc := `<opml version="2.0"><body>
  <outline text="Tech">
    <outline text="Go" xmlUrl="https://go.example.com/feed"/>
    <outline text="Broken" xmlUrl="https://broken.example.com/feed"/>
  </outline>
  <outline text="News">
    <outline text="Go" xmlUrl="https://go.example.com/feed"/>
  </outline>
  <outline text="Loose" xmlUrl="https://loose.example.com/feed"/>
</body></opml>`

	res, err := svc.ImportOPML(ctx, alice, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, []string{"https://broken.example.com/feed"}, res.Failed)

	sub, err := store.GetSubscription(ctx, "alice", "feed/https://go.example.com/feed")
	require.NoError(t, err)
	assert.Equal(t, "Go", sub.Title)
	assert.ElementsMatch(t, []string{"Tech", "News"}, sub.Categories)

	out, err := svc.ExportOPML(ctx, alice)
	require.NoError(t, err)
	entries, err := opml.Parse(strings.NewReader(string(out)))
	require.NoError(t, err)
	assert.Len(t, entries, 3) // Go in two folders, Loose at the root

	_, err = svc.ImportOPML(ctx, alice, strings.NewReader("not xml"))
	assert.ErrorIs(t, err, greader.ErrInvalidRequest)
}

func TestUserInfo(t *testing.T) {
	svc, _, _ := newService(t)
	info := svc.UserInfo(alice)
	assert.Equal(t, "alice", info.UserID)
	assert.Equal(t, "alice@example.com", info.UserEmail)
}
