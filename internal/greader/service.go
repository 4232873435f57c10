package greader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/opml"
)

// ErrInvalidRequest marks requests whose parameters cannot be acted on.
var ErrInvalidRequest = errors.New("invalid request")

// importWorkers bounds concurrent subscribes during an OPML import.
const importWorkers = 8

// markScanLimit is the page size used when walking items for a scoped mark-all-as-read.
const markScanLimit = 500

// Subscriber is the part of the sync service the protocol needs.
type Subscriber interface {
	AddSubscriptionFromURL(ctx context.Context, userID, feedURL string) (model.Subscription, error)
	EditSubscription(ctx context.Context, userID, id string, title *string, add, remove []string) error
	RemoveSubscription(ctx context.Context, userID, id string) error
}

// Service implements the Reader API on top of the stores.
type Service struct {
	items      database.ItemStore
	subs       database.SubscriptionStore
	subscriber Subscriber
	now        func() time.Time
}

func NewService(items database.ItemStore, subs database.SubscriptionStore, subscriber Subscriber) *Service {
	return &Service{
		items:      items,
		subs:       subs,
		subscriber: subscriber,
		now:        time.Now,
	}
}

// StreamQuery carries the stream/items/ids parameters.
type StreamQuery struct {
	Stream       string // s
	Exclude      string // xt
	Count        int    // n
	Order        string // r, "o" for oldest first
	Continuation string // c
}

// SubscriptionEdit carries the subscription/edit parameters.
type SubscriptionEdit struct {
	Action   string  // ac: subscribe, unsubscribe or edit
	StreamID string  // s
	Title    *string // t
	Add      []string
	Remove   []string
}

func (s *Service) UserInfo(user model.User) UserInfo {
	return UserInfo{
		UserID:              user.ID,
		UserName:            user.Email,
		UserProfileID:       user.ID,
		UserEmail:           user.Email,
		IsBloggerUser:       true,
		SignupTimeSec:       0,
		IsMultiLoginEnabled: true,
	}
}

// ItemIDs lists item references, newest first unless Order is "o".
func (s *Service) ItemIDs(ctx context.Context, user model.User, q StreamQuery) (ItemIDs, error) {
	page, err := s.items.ListItems(ctx, user.ID, ClassifyFilter(q.Stream, q.Exclude), model.PageOption{
		Offset: q.Continuation,
		Limit:  q.Count,
		Desc:   q.Order != "o",
	})
	if err != nil {
		return ItemIDs{}, err
	}

	refs := lo.Map(page.Items, func(it model.Item, _ int) ItemRef {
		return ItemRef{
			ID:              strconv.FormatInt(it.ID, 10),
			DirectStreamIDs: []string{},
			TimestampUsec:   strconv.FormatInt(it.CreatedAtMs*1000, 10),
		}
	})
	return ItemIDs{ItemRefs: refs, Continuation: page.NextPageOffset}, nil
}

// Contents resolves wire ids into full items, newest first. Unknown and
// malformed ids are skipped.
func (s *Service) Contents(ctx context.Context, user model.User, ids []string) (Contents, error) {
	contents := Contents{
		Direction:   "ltr",
		ID:          StreamReadingList,
		Title:       "Reading List",
		Description: "Reading List",
		Updated:     s.now().Unix(),
		Items:       []ItemContent{},
	}

	decoded := DecodeItemIDs(ids)
	if len(decoded) == 0 {
		return contents, nil
	}
	items, err := s.items.GetItemsByID(ctx, user.ID, decoded)
	if err != nil {
		return Contents{}, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAtMs != items[j].CreatedAtMs {
			return items[i].CreatedAtMs > items[j].CreatedAtMs
		}
		return items[i].ID > items[j].ID
	})
	contents.Items, err = s.itemContents(ctx, user.ID, items)
	if err != nil {
		return Contents{}, err
	}
	return contents, nil
}

// UnreadContents pages through unread items with their content, newest first.
func (s *Service) UnreadContents(ctx context.Context, user model.User, offset string, limit int) (ContentPage, error) {
	page, err := s.items.ListItems(ctx, user.ID, model.FilterUnread, model.PageOption{
		Offset: offset,
		Limit:  limit,
		Desc:   true,
	})
	if err != nil {
		return ContentPage{}, err
	}
	contents, err := s.itemContents(ctx, user.ID, page.Items)
	if err != nil {
		return ContentPage{}, err
	}
	return ContentPage{Items: contents, NextPageOffset: page.NextPageOffset}, nil
}

// itemContents renders items with one batched subscription lookup for origins.
func (s *Service) itemContents(ctx context.Context, userID string, items []model.Item) ([]ItemContent, error) {
	subIDs := lo.Uniq(lo.Map(items, func(it model.Item, _ int) string { return it.SubscriptionID }))
	subs, err := s.subs.GetSubscriptions(ctx, userID, subIDs)
	if err != nil {
		return nil, err
	}

	return lo.Map(items, func(it model.Item, _ int) ItemContent {
		return toItemContent(it, subs[it.SubscriptionID])
	}), nil
}

func toItemContent(it model.Item, sub model.Subscription) ItemContent {
	published := it.CreatedAtMs / 1000
	links := []Link{}
	if it.URL != "" {
		links = []Link{{Href: it.URL}}
	}
	alternate := lo.Map(links, func(l Link, _ int) Link {
		return Link{Href: l.Href, Type: "text/html"}
	})
	return ItemContent{
		CrawlTimeMsec: strconv.FormatInt(it.FetchedAtMs, 10),
		TimestampUsec: strconv.FormatInt(it.CreatedAtMs*1000, 10),
		ID:            EncodeItemID(it.ID),
		Categories:    ItemCategories(it),
		Published:     published,
		Updated:       published,
		Canonical:     links,
		Alternate:     alternate,
		Summary:       Summary{Direction: "ltr", Content: it.Content},
		Title:         it.Title,
		Author:        it.Author,
		Origin: Origin{
			StreamID: it.SubscriptionID,
			Title:    sub.Title,
			HTMLURL:  sub.URL,
		},
	}
}

// EditTag applies read/starred tag changes. Unknown tags are ignored.
func (s *Service) EditTag(ctx context.Context, user model.User, ids, add, remove []string) error {
	decoded := DecodeItemIDs(ids)
	if len(decoded) == 0 {
		return nil
	}

	var states []model.ItemState
	for _, tag := range add {
		switch {
		case strings.HasSuffix(tag, suffixRead):
			states = append(states, model.StateRead)
		case strings.HasSuffix(tag, suffixStarred):
			states = append(states, model.StateStarred)
		case strings.HasSuffix(tag, suffixKeptUnread):
			states = append(states, model.StateUnread)
		}
	}
	for _, tag := range remove {
		switch {
		case strings.HasSuffix(tag, suffixRead):
			states = append(states, model.StateUnread)
		case strings.HasSuffix(tag, suffixStarred):
			states = append(states, model.StateUnstarred)
		}
	}

	for _, state := range states {
		if err := s.items.MarkItemsAs(ctx, user.ID, decoded, state); err != nil {
			return err
		}
	}
	return nil
}

// MarkAsRead marks the given wire ids read.
func (s *Service) MarkAsRead(ctx context.Context, user model.User, ids []string) error {
	return s.items.MarkItemsAs(ctx, user.ID, DecodeItemIDs(ids), model.StateRead)
}

// MarkAllAsRead marks a stream read. tsUsec, when set, limits the change to
// items created at or before that instant (microseconds). A feed or label
// stream limits it to the matching subscriptions.
func (s *Service) MarkAllAsRead(ctx context.Context, user model.User, stream, tsUsec string) error {
	olderThanMs := int64(-1)
	if tsUsec != "" {
		usec, err := strconv.ParseInt(tsUsec, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: ts %q", ErrInvalidRequest, tsUsec)
		}
		olderThanMs = usec / 1000
	}

	scope, err := s.streamSubscriptions(ctx, user.ID, stream)
	if err != nil {
		return err
	}
	if scope != nil {
		return s.markSubscriptionsRead(ctx, user.ID, scope, olderThanMs)
	}
	if olderThanMs >= 0 {
		return s.items.MarkOlderAsRead(ctx, user.ID, olderThanMs)
	}
	return s.items.MarkAllAsRead(ctx, user.ID)
}

// streamSubscriptions returns the subscription ids a feed or label stream
// covers, or nil for streams that cover everything.
func (s *Service) streamSubscriptions(ctx context.Context, userID, stream string) (map[string]bool, error) {
	if strings.HasPrefix(stream, "feed/") {
		return map[string]bool{stream: true}, nil
	}
	label, ok := ParseLabel(stream)
	if !ok {
		return nil, nil
	}
	subs, err := s.subs.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	scope := map[string]bool{}
	for _, sub := range subs {
		if lo.Contains(sub.Categories, label) {
			scope[sub.ID] = true
		}
	}
	return scope, nil
}

func (s *Service) markSubscriptionsRead(ctx context.Context, userID string, scope map[string]bool, olderThanMs int64) error {
	if len(scope) == 0 {
		return nil
	}

	var ids []int64
	opt := model.PageOption{Limit: markScanLimit}
	for {
		page, err := s.items.ListItems(ctx, userID, model.FilterUnread, opt)
		if err != nil {
			return err
		}
		for _, it := range page.Items {
			if scope[it.SubscriptionID] && (olderThanMs < 0 || it.CreatedAtMs <= olderThanMs) {
				ids = append(ids, it.ID)
			}
		}
		if page.NextPageOffset == "" {
			break
		}
		opt.Offset = page.NextPageOffset
	}
	return s.items.MarkItemsAs(ctx, userID, ids, model.StateRead)
}

func (s *Service) SubscriptionList(ctx context.Context, user model.User) (SubscriptionList, error) {
	subs, err := s.subs.ListSubscriptions(ctx, user.ID)
	if err != nil {
		return SubscriptionList{}, err
	}
	return SubscriptionList{
		Subscriptions: lo.Map(subs, func(sub model.Subscription, _ int) SubscriptionInfo {
			return toSubscriptionInfo(sub)
		}),
	}, nil
}

func toSubscriptionInfo(sub model.Subscription) SubscriptionInfo {
	return SubscriptionInfo{
		ID:          sub.ID,
		Title:       sub.Title,
		Description: sub.Description,
		URL:         sub.URL,
		FeedURL:     sub.FeedURL,
		HTMLURL:     sub.URL,
		Categories: lo.Map(sub.Categories, func(label string, _ int) Category {
			return Category{ID: LabelID(sub.UserID, label), Label: label}
		}),
	}
}

func (s *Service) QuickAdd(ctx context.Context, user model.User, feedURL string) (QuickAddResult, error) {
	feedURL = strings.TrimSpace(strings.TrimPrefix(feedURL, "feed/"))
	if feedURL == "" {
		return QuickAddResult{}, fmt.Errorf("%w: empty quickadd", ErrInvalidRequest)
	}
	sub, err := s.subscriber.AddSubscriptionFromURL(ctx, user.ID, feedURL)
	if err != nil {
		return QuickAddResult{}, err
	}
	return QuickAddResult{Query: feedURL, NumResults: 1, StreamID: sub.ID}, nil
}

// AddSubscription subscribes to link, then applies an optional title and folder.
func (s *Service) AddSubscription(ctx context.Context, user model.User, link, title, folder string) (SubscriptionInfo, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return SubscriptionInfo{}, fmt.Errorf("%w: empty link", ErrInvalidRequest)
	}
	sub, err := s.subscriber.AddSubscriptionFromURL(ctx, user.ID, link)
	if err != nil {
		return SubscriptionInfo{}, err
	}
	if title == "" && folder == "" {
		return toSubscriptionInfo(sub), nil
	}

	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}
	if err := s.subscriber.EditSubscription(ctx, user.ID, sub.ID, titlePtr, lo.Compact([]string{folder}), nil); err != nil {
		return SubscriptionInfo{}, err
	}
	sub, err = s.subs.GetSubscription(ctx, user.ID, sub.ID)
	if err != nil {
		return SubscriptionInfo{}, err
	}
	return toSubscriptionInfo(sub), nil
}

// EditSubscription handles subscribe, unsubscribe and edit actions.
func (s *Service) EditSubscription(ctx context.Context, user model.User, req SubscriptionEdit) error {
	add, remove := parseLabels(req.Add), parseLabels(req.Remove)

	switch req.Action {
	case "subscribe":
		feedURL, ok := strings.CutPrefix(req.StreamID, "feed/")
		if !ok || feedURL == "" {
			return fmt.Errorf("%w: stream %q is not a feed", ErrInvalidRequest, req.StreamID)
		}
		sub, err := s.subscriber.AddSubscriptionFromURL(ctx, user.ID, feedURL)
		if err != nil {
			return err
		}
		if req.Title == nil && len(add) == 0 {
			return nil
		}
		return s.subscriber.EditSubscription(ctx, user.ID, sub.ID, req.Title, add, nil)
	case "unsubscribe":
		return s.subscriber.RemoveSubscription(ctx, user.ID, req.StreamID)
	case "edit":
		return s.subscriber.EditSubscription(ctx, user.ID, req.StreamID, req.Title, add, remove)
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidRequest, req.Action)
	}
}

// UnreadCount reports unread items per subscription plus the reading-list total.
func (s *Service) UnreadCount(ctx context.Context, user model.User) (UnreadCounts, error) {
	counts, err := s.items.CountUnread(ctx, user.ID)
	if err != nil {
		return UnreadCounts{}, err
	}

	var (
		total  int64
		newest int64
	)
	entries := make([]UnreadCountEntry, 0, len(counts)+1)
	for _, c := range counts {
		total += c.Count
		newest = max(newest, c.NewestMs)
		entries = append(entries, UnreadCountEntry{
			ID:                      c.SubscriptionID,
			Count:                   c.Count,
			NewestItemTimestampUsec: strconv.FormatInt(c.NewestMs*1000, 10),
		})
	}
	entries = append(entries, UnreadCountEntry{
		ID:                      LabelReadingList(user.ID),
		Count:                   total,
		NewestItemTimestampUsec: strconv.FormatInt(newest*1000, 10),
	})
	return UnreadCounts{Max: 1000, UnreadCounts: entries}, nil
}

// LabelReadingList is the per-user reading-list stream id.
func LabelReadingList(userID string) string {
	return "user/" + userID + suffixReading
}

// ImportOPML subscribes to every feed in the document. Feeds that cannot be
// fetched are reported, not fatal.
func (s *Service) ImportOPML(ctx context.Context, user model.User, r io.Reader) (ImportResult, error) {
	entries, err := opml.Parse(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Group folder memberships per feed so each feed is fetched once.
	labels := map[string][]string{}
	titles := map[string]string{}
	var urls []string
	for _, e := range entries {
		if _, seen := labels[e.FeedURL]; !seen {
			urls = append(urls, e.FeedURL)
			titles[e.FeedURL] = e.Title
			labels[e.FeedURL] = []string{}
		}
		if e.Label != "" {
			labels[e.FeedURL] = append(labels[e.FeedURL], e.Label)
		}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result = ImportResult{Failed: []string{}}
	)
	urlChan := make(chan string)
	for i := 0; i < importWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feedURL := range urlChan {
				err := s.importOne(ctx, user.ID, feedURL, titles[feedURL], labels[feedURL])
				mu.Lock()
				if err != nil {
					result.Failed = append(result.Failed, feedURL)
					log.WithFields(log.Fields{
						"user": user.ID,
						"url":  feedURL,
					}).WithError(err).Warn("OPML import: feed skipped")
				} else {
					result.Imported++
				}
				mu.Unlock()
			}
		}()
	}
	for _, u := range urls {
		urlChan <- u
	}
	close(urlChan)
	wg.Wait()

	sort.Strings(result.Failed)
	log.WithFields(log.Fields{
		"user":     user.ID,
		"imported": result.Imported,
		"failed":   len(result.Failed),
	}).Info("OPML import finished")
	return result, nil
}

func (s *Service) importOne(ctx context.Context, userID, feedURL, title string, labels []string) error {
	sub, err := s.subscriber.AddSubscriptionFromURL(ctx, userID, feedURL)
	if err != nil {
		return err
	}
	var titlePtr *string
	if title != "" && title != sub.Title {
		titlePtr = &title
	}
	if titlePtr == nil && len(labels) == 0 {
		return nil
	}
	return s.subscriber.EditSubscription(ctx, userID, sub.ID, titlePtr, labels, nil)
}

// ExportOPML renders the user's subscriptions as OPML.
func (s *Service) ExportOPML(ctx context.Context, user model.User) ([]byte, error) {
	subs, err := s.subs.ListSubscriptions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return opml.Export("feedsync subscriptions of "+user.Email, subs)
}
