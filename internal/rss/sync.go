package rss

import (
	"context"
	"errors"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/model"
)

// DefaultRetention is how long items are kept before pruning.
const DefaultRetention = 14 * 24 * time.Hour

// SyncStats summarizes one sync pass.
type SyncStats struct {
	Subscriptions int
	Failed        int
	NewItems      int
}

// Syncer ties subscriptions, the fetcher and the item store together.
type Syncer struct {
	items     database.ItemStore
	subs      database.SubscriptionStore
	fetcher   FeedFetcher
	retention time.Duration
	now       func() time.Time
}

// NewSyncer creates a sync service. A non-positive retention selects DefaultRetention.
func NewSyncer(items database.ItemStore, subs database.SubscriptionStore, fetcher FeedFetcher, retention time.Duration) *Syncer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Syncer{
		items:     items,
		subs:      subs,
		fetcher:   fetcher,
		retention: retention,
		now:       time.Now,
	}
}

// AddSubscriptionFromURL fetches the feed once, stores the subscription and
// ingests the entries from that same fetch. Subscribing twice is harmless.
func (s *Syncer) AddSubscriptionFromURL(ctx context.Context, userID, feedURL string) (model.Subscription, error) {
	feed, err := s.fetcher.FetchOne(ctx, feedURL)
	if err != nil {
		return model.Subscription{}, err
	}

	sub := model.Subscription{
		UserID:      userID,
		ID:          model.SubscriptionID(feedURL),
		URL:         FeedLink(feed, feedURL),
		Title:       feed.Title,
		Description: feed.Description,
		FeedURL:     feedURL,
		Categories:  []string{},
	}
	if sub.Title == "" {
		sub.Title = feedURL
	}
	if err := s.subs.CreateSubscription(ctx, sub); err != nil {
		return model.Subscription{}, err
	}

	stored, err := s.subs.GetSubscription(ctx, userID, sub.ID)
	if err != nil {
		return model.Subscription{}, err
	}

	now := s.now()
	n, err := s.ingest(ctx, stored, feed, now, now.Add(-s.retention))
	if err != nil {
		log.WithFields(log.Fields{
			"user": userID,
			"url":  feedURL,
		}).WithError(err).Warn("Failed to store items of new subscription")
	} else {
		stored.LastFetchMs = now.UnixMilli()
		log.WithFields(log.Fields{
			"user":  userID,
			"url":   feedURL,
			"items": n,
		}).Info("Subscribed")
	}
	return stored, nil
}

// EditSubscription retitles and relabels a subscription. Labels in remove are
// dropped before labels in add are applied. A missing subscription is a no-op.
func (s *Syncer) EditSubscription(ctx context.Context, userID, id string, title *string, add, remove []string) error {
	sub, err := s.subs.GetSubscription(ctx, userID, id)
	if errors.Is(err, database.ErrSubscriptionNotFound) {
		log.WithFields(log.Fields{"user": userID, "id": id}).Debug("Edit of unknown subscription ignored")
		return nil
	}
	if err != nil {
		return err
	}

	if title != nil {
		sub.Title = *title
	}
	sub.RemoveCategories(remove...)
	sub.AddCategories(add...)
	return s.subs.UpdateSubscription(ctx, sub)
}

func (s *Syncer) RemoveSubscription(ctx context.Context, userID, id string) error {
	return s.subs.RemoveSubscription(ctx, userID, id)
}

func (s *Syncer) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	return s.subs.ListSubscriptions(ctx, userID)
}

// LoadSubscriptionItems syncs every subscription of one user.
func (s *Syncer) LoadSubscriptionItems(ctx context.Context, userID string) (SyncStats, error) {
	subs, err := s.subs.ListSubscriptions(ctx, userID)
	if err != nil {
		return SyncStats{}, err
	}
	return s.load(ctx, "user", subs), nil
}

// LoadAllSubscriptionItems syncs every subscription of every user. A feed
// shared by several users is fetched once.
func (s *Syncer) LoadAllSubscriptionItems(ctx context.Context) (SyncStats, error) {
	subs, err := s.subs.ListAllSubscriptions(ctx)
	if err != nil {
		return SyncStats{}, err
	}
	return s.load(ctx, "all", subs), nil
}

// Prune deletes items of every user older than the retention window.
func (s *Syncer) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.items.PruneItems(ctx, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	itemsPruned.Add(float64(n))
	return n, nil
}

func (s *Syncer) load(ctx context.Context, scope string, subs []model.Subscription) SyncStats {
	stats := SyncStats{Subscriptions: len(subs)}
	if len(subs) == 0 {
		return stats
	}

	start := time.Now()
	urls := lo.Map(subs, func(sub model.Subscription, _ int) string { return sub.FeedURL })
	results := s.fetcher.FetchMany(ctx, urls)

	now := s.now()
	cutoff := now.Add(-s.retention)
	for _, sub := range subs {
		fields := log.Fields{"user": sub.UserID, "url": sub.FeedURL}

		result, ok := results[sub.FeedURL]
		if !ok || result.Err != nil || result.Feed == nil {
			stats.Failed++
			syncFailedSubscriptions.Inc()
			log.WithFields(fields).WithError(result.Err).Warn("Skipping subscription this cycle")
			continue
		}

		n, err := s.ingest(ctx, sub, result.Feed, now, cutoff)
		if err != nil {
			stats.Failed++
			log.WithFields(fields).WithError(err).Error("Failed to store feed items")
			continue
		}
		stats.NewItems += n
	}

	syncCycles.WithLabelValues(scope).Inc()
	log.WithFields(log.Fields{
		"scope":         scope,
		"subscriptions": stats.Subscriptions,
		"feeds":         len(results),
		"failed":        stats.Failed,
		"new_items":     stats.NewItems,
		"took":          time.Since(start).Round(time.Millisecond),
	}).Info("Sync finished")
	return stats
}

func (s *Syncer) ingest(ctx context.Context, sub model.Subscription, feed *gofeed.Feed, now, cutoff time.Time) (int, error) {
	items := ExtractItems(sub.UserID, sub.ID, feed, now, cutoff)
	n, err := s.items.InsertItems(ctx, items)
	if err != nil {
		return 0, err
	}
	itemsInserted.Add(float64(n))

	if err := s.subs.MarkFetched(ctx, sub.UserID, sub.ID, now.UnixMilli()); err != nil {
		log.WithFields(log.Fields{
			"user": sub.UserID,
			"id":   sub.ID,
		}).WithError(err).Warn("Failed to record fetch time")
	}
	return n, nil
}
