package rss

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/model"
)

func newTestSyncer(store database.Store) *Syncer {
	s := NewSyncer(store, store, testFetcher(), 0)
	s.now = func() time.Time { return testNow }
	return s
}

// fakeFetcher serves canned feeds by url. Unknown urls fail.
type fakeFetcher struct {
	feeds map[string]*gofeed.Feed

	mu    sync.Mutex
	calls map[string]int
}

var _ FeedFetcher = (*fakeFetcher)(nil)

func newFakeFetcher(feeds map[string]*gofeed.Feed) *fakeFetcher {
	return &fakeFetcher{feeds: feeds, calls: map[string]int{}}
}

func (f *fakeFetcher) FetchOne(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	f.mu.Lock()
	f.calls[feedURL]++
	f.mu.Unlock()

	feed, ok := f.feeds[feedURL]
	if !ok {
		return nil, &FetchError{URL: feedURL, Err: errors.New("no such feed")}
	}
	return feed, nil
}

func (f *fakeFetcher) FetchMany(ctx context.Context, feedURLs []string) map[string]FetchResult {
	results := map[string]FetchResult{}
	for _, u := range lo.Uniq(feedURLs) {
		feed, err := f.FetchOne(ctx, u)
		results[u] = FetchResult{URL: u, Feed: feed, Err: err}
	}
	return results
}

func (f *fakeFetcher) callsFor(feedURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[feedURL]
}

func cannedFeed(title string, guids ...string) *gofeed.Feed {
	published := testNow.Add(-time.Hour)
	feed := &gofeed.Feed{Title: title, Link: "https://example.com"}
	for _, guid := range guids {
		feed.Items = append(feed.Items, &gofeed.Item{
			GUID:            guid,
			Title:           "entry " + guid,
			Link:            "https://example.com/" + guid,
			PublishedParsed: &published,
		})
	}
	return feed
}

func newFakeSyncer(store database.Store, fetcher FeedFetcher) *Syncer {
	s := NewSyncer(store, store, fetcher, 0)
	s.now = func() time.Time { return testNow }
	return s
}

// flakyStore fails pruning and/or listing every subscription.
type flakyStore struct {
	database.Store
	pruneErr   error
	listAllErr error

	pruneCalls   atomic.Int32
	listAllCalls atomic.Int32
}

func (f *flakyStore) PruneItems(ctx context.Context, earlierThanMs int64) (int64, error) {
	f.pruneCalls.Add(1)
	if f.pruneErr != nil {
		return 0, f.pruneErr
	}
	return f.Store.PruneItems(ctx, earlierThanMs)
}

func (f *flakyStore) ListAllSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	f.listAllCalls.Add(1)
	if f.listAllErr != nil {
		return nil, f.listAllErr
	}
	return f.Store.ListAllSubscriptions(ctx)
}

func listAll(t *testing.T, store database.Store, user string) []model.Item {
	t.Helper()
	page, err := store.ListItems(context.Background(), user, model.FilterAll, model.PageOption{Limit: 1000})
	require.NoError(t, err)
	return page.Items
}

func TestAddSubscriptionFromURL(t *testing.T) {
	srv, hits := feedServer(t, fixture(t, "blog.rss"), 0)
	store := database.NewMemoryStore()
	s := newTestSyncer(store)
	ctx := context.Background()

	sub, err := s.AddSubscriptionFromURL(ctx, "alice", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "feed/"+srv.URL, sub.ID)
	assert.Equal(t, "Test Blog", sub.Title)
	assert.Equal(t, "A test RSS feed", sub.Description)
	assert.Equal(t, "https://blog.example.com", sub.URL)
	assert.Equal(t, srv.URL, sub.FeedURL)
	assert.Equal(t, testNow.UnixMilli(), sub.LastFetchMs)
	assert.EqualValues(t, 1, hits.Load())
	assert.Len(t, listAll(t, store, "alice"), 2)

	// Subscribing again keeps a single row and no duplicate items.
	_, err = s.AddSubscriptionFromURL(ctx, "alice", srv.URL)
	require.NoError(t, err)
	subs, err := s.ListSubscriptions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Len(t, listAll(t, store, "alice"), 2)
}

func TestAddSubscriptionFromURLFailure(t *testing.T) {
	srv, _ := statusServer(t, http.StatusNotFound)
	store := database.NewMemoryStore()

	_, err := newTestSyncer(store).AddSubscriptionFromURL(context.Background(), "alice", srv.URL)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)

	subs, err := store.ListSubscriptions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestEditSubscription(t *testing.T) {
	store := database.NewMemoryStore()
	s := newTestSyncer(store)
	ctx := context.Background()
	require.NoError(t, store.CreateSubscription(ctx, model.Subscription{
		UserID: "alice", ID: "feed/a", FeedURL: "a", Title: "Old", Categories: []string{"news", "misc"},
	}))

	title := "New"
	require.NoError(t, s.EditSubscription(ctx, "alice", "feed/a", &title, []string{"tech", "news"}, []string{"misc"}))

	sub, err := store.GetSubscription(ctx, "alice", "feed/a")
	require.NoError(t, err)
	assert.Equal(t, "New", sub.Title)
	assert.Equal(t, []string{"news", "tech"}, sub.Categories)

	require.NoError(t, s.EditSubscription(ctx, "alice", "feed/a", nil, nil, []string{"news"}))
	sub, err = store.GetSubscription(ctx, "alice", "feed/a")
	require.NoError(t, err)
	assert.Equal(t, "New", sub.Title)
	assert.Equal(t, []string{"tech"}, sub.Categories)

	assert.NoError(t, s.EditSubscription(ctx, "alice", "feed/missing", &title, nil, nil))
}

func TestLoadAllSubscriptionItemsIsolatesFailures(t *testing.T) {
	blog, _ := feedServer(t, fixture(t, "blog.rss"), 0)
	news, newsHits := feedServer(t, fixture(t, "news.atom"), 0)
	broken, _ := statusServer(t, http.StatusInternalServerError)

	store := database.NewMemoryStore()
	ctx := context.Background()
	for _, sub := range []model.Subscription{
		{UserID: "alice", ID: model.SubscriptionID(blog.URL), FeedURL: blog.URL},
		{UserID: "alice", ID: model.SubscriptionID(broken.URL), FeedURL: broken.URL},
		{UserID: "alice", ID: model.SubscriptionID(news.URL), FeedURL: news.URL},
		{UserID: "bob", ID: model.SubscriptionID(news.URL), FeedURL: news.URL},
	} {
		require.NoError(t, store.CreateSubscription(ctx, sub))
	}

	stats, err := newTestSyncer(store).LoadAllSubscriptionItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Subscriptions: 4, Failed: 1, NewItems: 4}, stats)
	assert.EqualValues(t, 1, newsHits.Load(), "shared feed is fetched once")

	assert.Len(t, listAll(t, store, "alice"), 3)
	assert.Len(t, listAll(t, store, "bob"), 1)

	failed, err := store.GetSubscription(ctx, "alice", model.SubscriptionID(broken.URL))
	require.NoError(t, err)
	assert.Zero(t, failed.LastFetchMs)

	// A second pass finds nothing new.
	stats, err = newTestSyncer(store).LoadAllSubscriptionItems(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.NewItems)
}

func TestLoadSubscriptionItemsScopesToUser(t *testing.T) {
	blog, _ := feedServer(t, fixture(t, "blog.rss"), 0)
	news, newsHits := feedServer(t, fixture(t, "news.atom"), 0)

	store := database.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSubscription(ctx, model.Subscription{UserID: "alice", ID: model.SubscriptionID(blog.URL), FeedURL: blog.URL}))
	require.NoError(t, store.CreateSubscription(ctx, model.Subscription{UserID: "bob", ID: model.SubscriptionID(news.URL), FeedURL: news.URL}))

	stats, err := newTestSyncer(store).LoadSubscriptionItems(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Subscriptions: 1, NewItems: 2}, stats)
	assert.Zero(t, newsHits.Load())
	assert.Empty(t, listAll(t, store, "bob"))
}

func TestPruneAndRunOnce(t *testing.T) {
	blog, _ := feedServer(t, fixture(t, "blog.rss"), 0)
	store := database.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSubscription(ctx, model.Subscription{UserID: "alice", ID: model.SubscriptionID(blog.URL), FeedURL: blog.URL}))

	stale := testCutoff.Add(-time.Hour).UnixMilli()
	fresh := testCutoff.Add(time.Hour).UnixMilli()
	_, err := store.InsertItems(ctx, []model.Item{
		{UserID: "alice", SubscriptionID: "feed/old", ExternalID: "stale", CreatedAtMs: stale},
		{UserID: "alice", SubscriptionID: "feed/old", ExternalID: "fresh", CreatedAtMs: fresh},
	})
	require.NoError(t, err)

	p := NewPoller(newTestSyncer(store), time.Hour)
	stats := p.RunOnce(ctx)
	assert.Equal(t, 2, stats.NewItems)

	ids := []string{}
	for _, it := range listAll(t, store, "alice") {
		ids = append(ids, it.ExternalID)
	}
	assert.ElementsMatch(t, []string{"fresh", "post-1", "https://blog.example.com/post/2"}, ids)
}

func TestPollerStartStop(t *testing.T) {
	store := database.NewMemoryStore()
	p := NewPoller(newTestSyncer(store), time.Hour)
	p.Start()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
	// Stopping twice is safe.
	p.Stop()
}

func TestLoadAllSubscriptionItemsWithFakeFetcher(t *testing.T) {
	const (
		blogURL    = "https://blog.example.com/rss"
		missingURL = "https://gone.example.com/rss"
	)
	fetcher := newFakeFetcher(map[string]*gofeed.Feed{
		blogURL: cannedFeed("Blog", "a", "b"),
	})
	store := database.NewMemoryStore()
	ctx := context.Background()
	for _, sub := range []model.Subscription{
		{UserID: "alice", ID: model.SubscriptionID(blogURL), FeedURL: blogURL},
		{UserID: "alice", ID: model.SubscriptionID(missingURL), FeedURL: missingURL},
		{UserID: "bob", ID: model.SubscriptionID(blogURL), FeedURL: blogURL},
	} {
		require.NoError(t, store.CreateSubscription(ctx, sub))
	}

	stats, err := newFakeSyncer(store, fetcher).LoadAllSubscriptionItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Subscriptions: 3, Failed: 1, NewItems: 4}, stats)
	assert.Equal(t, 1, fetcher.callsFor(blogURL))
	assert.Len(t, listAll(t, store, "alice"), 2)
	assert.Len(t, listAll(t, store, "bob"), 2)
}

func TestRunOnceSyncsWhenPruneFails(t *testing.T) {
	const feedURL = "https://blog.example.com/rss"
	store := &flakyStore{Store: database.NewMemoryStore(), pruneErr: errors.New("disk full")}
	ctx := context.Background()
	require.NoError(t, store.CreateSubscription(ctx, model.Subscription{
		UserID: "alice", ID: model.SubscriptionID(feedURL), FeedURL: feedURL,
	}))

	fetcher := newFakeFetcher(map[string]*gofeed.Feed{feedURL: cannedFeed("Blog", "a", "b")})
	stats := NewPoller(newFakeSyncer(store, fetcher), time.Hour).RunOnce(ctx)

	assert.EqualValues(t, 1, store.pruneCalls.Load())
	assert.Equal(t, SyncStats{Subscriptions: 1, NewItems: 2}, stats)
	assert.Len(t, listAll(t, store, "alice"), 2)
}

func TestRunOncePrunesWhenListingFails(t *testing.T) {
	store := &flakyStore{Store: database.NewMemoryStore(), listAllErr: errors.New("connection reset")}
	ctx := context.Background()
	_, err := store.InsertItems(ctx, []model.Item{
		{UserID: "alice", SubscriptionID: "feed/x", ExternalID: "stale", CreatedAtMs: testCutoff.Add(-time.Hour).UnixMilli()},
		{UserID: "alice", SubscriptionID: "feed/x", ExternalID: "fresh", CreatedAtMs: testCutoff.Add(time.Hour).UnixMilli()},
	})
	require.NoError(t, err)

	stats := NewPoller(newFakeSyncer(store, newFakeFetcher(nil)), time.Hour).RunOnce(ctx)

	assert.Zero(t, stats)
	assert.EqualValues(t, 1, store.listAllCalls.Load())
	items := listAll(t, store, "alice")
	require.Len(t, items, 1)
	assert.Equal(t, "fresh", items[0].ExternalID)
}

func TestPollerKeepsRunningAfterFailures(t *testing.T) {
	store := &flakyStore{
		Store:      database.NewMemoryStore(),
		pruneErr:   errors.New("disk full"),
		listAllErr: errors.New("connection reset"),
	}
	p := NewPoller(newFakeSyncer(store, newFakeFetcher(nil)), 5*time.Millisecond)
	p.Start()
	defer p.Stop()

	assert.Eventually(t, func() bool {
		return store.listAllCalls.Load() >= 3 && store.pruneCalls.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)
}
